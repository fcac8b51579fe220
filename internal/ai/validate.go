package ai

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/custom_errors"
	"github.com/mdollan-source/payg/types"
)

const (
	maxSEOTitle        = 60
	maxMetaDescription = 155
)

var ErrInvalidJSON = errors.New("invalid JSON")

// ParseJSON extracts a JSON object from model output, tolerating a surrounding markdown fence.
func ParseJSON(text string) (json.RawMessage, error) {
	cleaned := strings.TrimSpace(text)
	switch {
	case strings.HasPrefix(cleaned, "```json"):
		cleaned = cleaned[len("```json"):]
	case strings.HasPrefix(cleaned, "```"):
		cleaned = cleaned[3:]
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	cleaned = strings.TrimSpace(cleaned)

	if !strings.HasPrefix(cleaned, "{") || !sonic.ValidString(cleaned) {
		return nil, ErrInvalidJSON
	}
	return json.RawMessage(cleaned), nil
}

// ValidateSpec decodes raw as a build spec and checks it against the plan. Every problem found is reported.
func ValidateSpec(raw json.RawMessage, planPages int) (*BuildSpec, error) {
	var spec BuildSpec
	if err := sonic.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	v := &custom_errors.ValidationError{}
	if spec.SpecVersion == "" {
		v.Add(errors.New("missing spec_version"))
	}
	if spec.Tenant.BusinessName == "" {
		v.Add(errors.New("missing tenant.business_name"))
	}
	if spec.Tenant.Industry == "" {
		v.Add(errors.New("missing tenant.industry"))
	}
	if spec.Branding == nil {
		v.Add(errors.New("missing branding object"))
	}
	if spec.Contact == nil {
		v.Add(errors.New("missing contact object"))
	} else if spec.Contact.Email == "" && spec.Contact.Phone == "" {
		v.Add(errors.New("at least one of contact.email or contact.phone required"))
	}
	if spec.Navigation == nil {
		v.Add(errors.New("missing navigation object"))
	}

	checkPageCount(v, planPages, len(spec.Pages))
	slugs := map[string]bool{}
	for i, page := range spec.Pages {
		if page.ID == "" {
			v.Add(fmt.Errorf("page %d: missing id", i))
		}
		if page.Title == "" {
			v.Add(fmt.Errorf("page %d: missing title", i))
		}
		checkSlug(v, slugs, i, page.Slug)

		if page.SEO == nil {
			v.Add(fmt.Errorf("page %d: missing seo object", i))
		} else {
			checkLength(v, i, "seo.title", page.SEO.Title, maxSEOTitle)
			checkLength(v, i, "seo.meta_description", page.SEO.MetaDescription, maxMetaDescription)
		}

		if len(page.Sections) == 0 {
			v.Add(fmt.Errorf("page %d: missing sections", i))
		}
		for j, section := range page.Sections {
			if section.Type == "" {
				v.Add(fmt.Errorf("page %d, section %d: missing type", i, j))
			} else if !IsAllowedBlockType(section.Type) {
				v.Add(fmt.Errorf("page %d, section %d: invalid block type %q", i, j, section.Type))
			}
		}
	}

	if v.HasError() {
		return nil, v
	}
	return &spec, nil
}

// ValidateSeed decodes raw as a CMS seed and checks it against the plan.
func ValidateSeed(raw json.RawMessage, planPages int) (*types.SiteSeed, error) {
	var seed types.SiteSeed
	if err := sonic.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}

	v := &custom_errors.ValidationError{}
	if seed.Settings.SiteName == "" {
		v.Add(errors.New("missing settings.siteName"))
	}

	checkPageCount(v, planPages, len(seed.Pages))
	slugs := map[string]bool{}
	for i, page := range seed.Pages {
		if page.Title == "" {
			v.Add(fmt.Errorf("page %d: missing title", i))
		}
		checkSlug(v, slugs, i, page.Slug)
		checkLength(v, i, "metaTitle", page.MetaTitle, maxSEOTitle)
		checkLength(v, i, "metaDescription", page.MetaDescription, maxMetaDescription)

		if len(page.Blocks) == 0 {
			v.Add(fmt.Errorf("page %d: missing blocks", i))
		}
		for j, block := range page.Blocks {
			if block.Type == "" {
				v.Add(fmt.Errorf("page %d, block %d: missing type", i, j))
			} else if !IsAllowedBlockType(block.Type) {
				v.Add(fmt.Errorf("page %d, block %d: invalid block type %q", i, j, block.Type))
			}
			if !isObject(block.Content) {
				v.Add(fmt.Errorf("page %d, block %d: content must be an object", i, j))
			}
		}
	}

	if v.HasError() {
		return nil, v
	}
	return &seed, nil
}

func checkPageCount(v *custom_errors.ValidationError, planPages, got int) {
	expected, ok := PlanPageCounts[planPages]
	if !ok {
		v.Add(fmt.Errorf("unsupported plan: %d pages", planPages))
		return
	}
	if got != expected {
		v.Add(fmt.Errorf("expected %d pages for %d-page plan, got %d", expected, planPages, got))
	}
}

func checkSlug(v *custom_errors.ValidationError, seen map[string]bool, i int, slug string) {
	if slug == "" {
		v.Add(fmt.Errorf("page %d: missing slug", i))
		return
	}
	if seen[slug] {
		v.Add(fmt.Errorf("page %d: duplicate slug %q", i, slug))
	}
	seen[slug] = true
}

func checkLength(v *custom_errors.ValidationError, i int, field, value string, limit int) {
	if value == "" {
		v.Add(fmt.Errorf("page %d: missing %s", i, field))
		return
	}
	if n := utf8.RuneCountInString(value); n > limit {
		v.Add(fmt.Errorf("page %d: %s exceeds %d chars (%d)", i, field, limit, n))
	}
}

func isObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{") && sonic.ValidString(trimmed)
}

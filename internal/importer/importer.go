package importer

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/mdollan-source/payg/custom_errors"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
	"go.uber.org/zap"
)

var repeatedSlashes = regexp.MustCompile(`/+`)

// Importer writes a generated seed into a tenant's site content.
type Importer struct {
	sites  store.SiteStore
	logger *zap.Logger
}

func New(sites store.SiteStore, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{sites: sites, logger: logger.Named("importer")}
}

// Import validates and normalizes seed, then replaces the tenant's settings, navigation and pages in one transaction.
// Running it twice with the same seed leaves the same content behind.
func (i *Importer) Import(ctx context.Context, tenantID string, seed *types.SiteSeed) (*types.SiteSeed, error) {
	if err := ValidateForImport(seed); err != nil {
		return nil, custom_errors.Permanent(err)
	}

	normalized := Normalize(seed, func(from, to string) {
		i.logger.Warn("slug conflict resolved", zap.String("tenant_id", tenantID), zap.String("from", from), zap.String("to", to))
	})
	if err := i.sites.ReplaceSiteContent(ctx, tenantID, normalized); err != nil {
		return nil, fmt.Errorf("failed to import seed: %w", err)
	}

	i.logger.Info("seed imported", zap.String("tenant_id", tenantID), zap.Int("pages", len(normalized.Pages)))
	return normalized, nil
}

// ValidateForImport checks the minimum a seed needs to be imported.
func ValidateForImport(seed *types.SiteSeed) error {
	v := &custom_errors.ValidationError{}
	if seed == nil {
		v.Add(errors.New("missing seed"))
		return v
	}
	if seed.Settings.SiteName == "" {
		v.Add(errors.New("missing settings.siteName"))
	}
	if len(seed.Pages) == 0 {
		v.Add(errors.New("missing or empty pages array"))
	}
	if v.HasError() {
		return v
	}
	return nil
}

// Normalize returns a copy of seed with clean, unique page slugs and the page order preserved.
// onConflict, when set, is told about every renamed slug.
func Normalize(seed *types.SiteSeed, onConflict func(from, to string)) *types.SiteSeed {
	out := &types.SiteSeed{
		Settings: seed.Settings,
		Navigation: types.Navigation{
			Header: normalizeLinks(seed.Navigation.Header),
			Footer: normalizeLinks(seed.Navigation.Footer),
		},
		Pages: make([]types.SeedPage, 0, len(seed.Pages)),
	}

	seen := make(map[string]bool, len(seed.Pages))
	for _, page := range seed.Pages {
		slug := NormalizeSlug(page.Slug)
		if seen[slug] {
			resolved := ResolveConflict(slug, seen)
			if onConflict != nil {
				onConflict(slug, resolved)
			}
			slug = resolved
		}
		seen[slug] = true

		page.Slug = slug
		if page.MetaTitle == "" {
			page.MetaTitle = page.Title
		}
		if page.Blocks == nil {
			page.Blocks = []types.SeedBlock{}
		}
		out.Pages = append(out.Pages, page)
	}
	return out
}

// NormalizeSlug forces a leading slash, lowercases, drops a trailing slash and collapses repeated slashes.
func NormalizeSlug(slug string) string {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !strings.HasPrefix(slug, "/") {
		slug = "/" + slug
	}
	if slug != "/" && strings.HasSuffix(slug, "/") {
		slug = slug[:len(slug)-1]
	}
	return repeatedSlashes.ReplaceAllString(slug, "/")
}

// ResolveConflict appends -2, -3, ... to slug until it is not in taken.
func ResolveConflict(slug string, taken map[string]bool) string {
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", slug, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

func normalizeLinks(items []types.NavItem) []types.NavItem {
	out := make([]types.NavItem, 0, len(items))
	for _, item := range items {
		if strings.HasPrefix(item.Href, "/") {
			item.Href = NormalizeSlug(item.Href)
		}
		out = append(out, item)
	}
	return out
}

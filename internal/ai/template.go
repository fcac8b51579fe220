package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/types"
)

const TemplateGeneratorName = "template"

// TemplateGenerator builds specs and seeds from fixed page layouts. It needs no external service
// and is used whenever no chat model is configured.
type TemplateGenerator struct {
	now func() time.Time
}

func NewTemplateGenerator(now func() time.Time) *TemplateGenerator {
	if now == nil {
		now = time.Now
	}
	return &TemplateGenerator{now: now}
}

type pageLayout struct {
	id       string
	title    string
	slug     string
	purpose  string
	sections []string
}

var (
	homeLayout     = pageLayout{"home", "Home", "/", "Landing page", []string{"hero", "services_grid", "about_split", "testimonial_list", "cta_banner"}}
	aboutLayout    = pageLayout{"about", "About", "/about", "Tell the business story", []string{"hero", "about_split", "accreditations_row"}}
	servicesLayout = pageLayout{"services", "Services", "/services", "List every service", []string{"hero", "services_grid", "cta_banner"}}
	galleryLayout  = pageLayout{"gallery", "Gallery", "/gallery", "Show recent work", []string{"gallery_grid", "testimonial_list"}}
	caseLayout     = pageLayout{"case-studies", "Case Studies", "/case-studies", "Show recent work", []string{"gallery_grid", "testimonial_list"}}
	faqLayout      = pageLayout{"faqs", "FAQs", "/faqs", "Answer common questions", []string{"faq_accordion", "cta_banner"}}
	contactLayout  = pageLayout{"contact", "Contact", "/contact", "Convert visitors into enquiries", []string{"contact_form", "service_area"}}
)

func (g *TemplateGenerator) GenerateSpec(_ context.Context, tenant *types.Tenant, answers json.RawMessage) (*Result, error) {
	var in OnboardingAnswers
	if len(answers) > 0 {
		if err := sonic.Unmarshal(answers, &in); err != nil {
			return nil, fmt.Errorf("failed to decode onboarding answers: %w", err)
		}
	}

	plan := planFor(tenant, in)
	name := firstNonEmpty(in.Step1.BusinessName, tenant.BusinessName)
	location := firstNonEmpty(in.Step1.PrimaryLocation, "your area")
	offers := in.Step1.Services
	if len(offers) == 0 {
		offers = []Offer{{Name: "Consultation"}, {Name: "Installation"}, {Name: "Repairs"}, {Name: "Maintenance"}}
	}

	spec := BuildSpec{
		SpecVersion: SpecVersion,
		Tenant: SpecTenant{
			BusinessName: name,
			LegalName:    name,
			Industry:     firstNonEmpty(in.Step0.Industry, "other"),
			Tagline:      firstNonEmpty(in.Step2.Tagline, "Quality service you can trust"),
			ToneOfVoice:  firstNonEmpty(in.Step2.ToneOfVoice, "professional"),
			USPBullets:   []string{"Reliable service", "Clear pricing", "Local and experienced"},
			AvoidWords:   nonNil(in.Step2.MustAvoidWords),
		},
		Branding: &Branding{
			PrimaryColour:   in.Step2.PrimaryColour,
			SecondaryColour: in.Step2.SecondaryColour,
			DesignVibe:      firstNonEmpty(in.Step2.DesignVibe, "modern professional"),
		},
		Contact: &Contact{
			Phone:        in.Step1.Phone,
			Email:        firstNonEmpty(in.Step1.Email, tenant.ContactEmail),
			Address:      in.Step4.Address,
			OpeningHours: in.Step4.OpeningHours,
			CTAPrimary:   ctaLabel(in.Step1.CTAPreference),
			CTASecondary: "Call Now",
		},
		ServiceArea: ServiceArea{
			Mode:            firstNonEmpty(in.Step1.ServiceAreaMode, "list"),
			RadiusMiles:     in.Step1.ServiceAreaMiles,
			Areas:           nonNil(in.Step1.ServiceAreaList),
			PrimaryLocation: location,
		},
		Assets: &SpecAssets{ImageStyleNotes: "Natural light, real work, no stock clichés"},
		Change: ChangePolicy{
			SelfServe:      []string{"opening hours", "contact details", "testimonials"},
			ManagedChanges: []string{"new pages", "layout changes"},
		},
	}
	spec.Footer.Footer.CopyrightText = fmt.Sprintf("© %d %s", g.now().Year(), name)

	for _, layout := range layoutsFor(plan, offers) {
		spec.Pages = append(spec.Pages, SpecPage{
			ID:      layout.id,
			Title:   layout.title,
			Slug:    layout.slug,
			Purpose: layout.purpose,
			SEO: &PageSEO{
				Title:             truncate(fmt.Sprintf("%s | %s", layout.title, name), maxSEOTitle),
				MetaDescription:   truncate(fmt.Sprintf("%s from %s in %s. Get in touch today for a free quote.", layout.title, name, location), maxMetaDescription),
				PrimaryKeyword:    strings.ToLower(fmt.Sprintf("%s %s", layout.title, location)),
				SecondaryKeywords: []string{},
			},
			Sections: sectionsOf(layout.sections, offers),
		})
		spec.Assets.ImageRequests = append(spec.Assets.ImageRequests, ImageRequest{
			SectionRef:  layout.id + "." + layout.sections[0],
			Description: fmt.Sprintf("%s for %s", layout.title, name),
			Keywords:    []string{},
		})
	}
	spec.Navigation = navigationFor(spec.Pages)

	raw, err := sonic.Marshal(spec)
	if err != nil {
		return nil, err
	}
	if _, err := ValidateSpec(raw, plan); err != nil {
		return nil, fmt.Errorf("template spec failed validation: %w", err)
	}
	return &Result{Output: raw, Generator: TemplateGeneratorName, Model: TemplateGeneratorName}, nil
}

func (g *TemplateGenerator) GenerateSeed(_ context.Context, tenant *types.Tenant, rawSpec json.RawMessage) (*Result, error) {
	var spec BuildSpec
	if err := sonic.Unmarshal(rawSpec, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode build spec: %w", err)
	}
	contact := Contact{}
	if spec.Contact != nil {
		contact = *spec.Contact
	}

	seed := types.SiteSeed{
		Settings: types.SiteSettings{
			SiteName: firstNonEmpty(spec.Tenant.BusinessName, tenant.BusinessName),
			Tagline:  spec.Tenant.Tagline,
			Phone:    contact.Phone,
			Email:    contact.Email,
			Address:  contact.Address,
		},
		Navigation: types.Navigation{Header: []types.NavItem{}, Footer: []types.NavItem{}},
	}
	if spec.Branding != nil && (spec.Branding.PrimaryColour != "" || spec.Branding.SecondaryColour != "") {
		theme, err := sonic.Marshal(map[string]string{
			"primary":   spec.Branding.PrimaryColour,
			"secondary": spec.Branding.SecondaryColour,
		})
		if err != nil {
			return nil, err
		}
		seed.Settings.Theme = theme
	}
	if spec.Navigation != nil {
		seed.Navigation.Header = nonNil(spec.Navigation.HeaderLinks)
		seed.Navigation.Footer = nonNil(spec.Navigation.FooterLinks)
	}

	for _, page := range spec.Pages {
		sp := types.SeedPage{Title: page.Title, Slug: page.Slug}
		if page.SEO != nil {
			sp.MetaTitle = page.SEO.Title
			sp.MetaDescription = page.SEO.MetaDescription
		}
		for _, section := range page.Sections {
			data := blockContent(section.Type, &spec, contact)
			if len(section.Props) > 0 {
				var props map[string]any
				if err := sonic.Unmarshal(section.Props, &props); err == nil {
					for k, v := range props {
						data[k] = v
					}
				}
			}
			content, err := sonic.Marshal(data)
			if err != nil {
				return nil, err
			}
			sp.Blocks = append(sp.Blocks, types.SeedBlock{Type: section.Type, Content: content})
		}
		seed.Pages = append(seed.Pages, sp)
	}

	raw, err := sonic.Marshal(seed)
	if err != nil {
		return nil, err
	}
	plan := planFor(tenant, OnboardingAnswers{})
	if _, ok := PlanPageCounts[tenant.PlanPages]; !ok {
		plan = len(seed.Pages)
	}
	if _, err := ValidateSeed(raw, plan); err != nil {
		return nil, fmt.Errorf("template seed failed validation: %w", err)
	}
	return &Result{Output: raw, Generator: TemplateGeneratorName, Model: TemplateGeneratorName}, nil
}

func layoutsFor(plan int, offers []Offer) []pageLayout {
	switch plan {
	case 1:
		home := homeLayout
		home.sections = append(append([]string{}, home.sections...), "contact_form")
		return []pageLayout{home}
	case 10:
		layouts := []pageLayout{homeLayout, aboutLayout, servicesLayout}
		seen := map[string]bool{}
		for i := 0; i < 4; i++ {
			name := fmt.Sprintf("Service %d", i+1)
			if i < len(offers) && offers[i].Name != "" {
				name = offers[i].Name
			}
			slug := "/services/" + slugify(name)
			if slug == "/services/" || seen[slug] {
				slug = fmt.Sprintf("/services/service-%d", i+1)
			}
			seen[slug] = true
			layouts = append(layouts, pageLayout{
				id:       fmt.Sprintf("service-%d", i+1),
				title:    name,
				slug:     slug,
				purpose:  "Detail one service",
				sections: []string{"hero", "rich_text", "cta_banner"},
			})
		}
		return append(layouts, caseLayout, faqLayout, contactLayout)
	default:
		return []pageLayout{homeLayout, aboutLayout, servicesLayout, galleryLayout, contactLayout}
	}
}

func blockContent(blockType string, spec *BuildSpec, contact Contact) map[string]any {
	name := spec.Tenant.BusinessName
	area := spec.ServiceArea.PrimaryLocation
	cta := firstNonEmpty(contact.CTAPrimary, "Get a Quote")
	switch blockType {
	case "hero":
		return map[string]any{
			"headline":    fmt.Sprintf("Welcome to %s", name),
			"subheadline": spec.Tenant.Tagline,
			"ctaText":     cta,
			"ctaLink":     "/contact",
			"imageUrl":    "",
		}
	case "services_grid":
		services := []map[string]string{}
		for _, bullet := range spec.Tenant.USPBullets {
			services = append(services, map[string]string{"name": bullet, "description": "", "icon": "star"})
		}
		return map[string]any{"title": "Our Services", "services": services}
	case "about_split":
		return map[string]any{
			"title":         "About " + name,
			"content":       fmt.Sprintf("%s serves customers across %s.", name, area),
			"imageUrl":      "",
			"imagePosition": "right",
		}
	case "testimonial_list":
		return map[string]any{"title": "What our customers say", "testimonials": []any{}}
	case "accreditations_row":
		return map[string]any{"title": "Accreditations", "accreditations": []any{}}
	case "gallery_grid":
		return map[string]any{"title": "Recent work", "images": []any{}}
	case "faq_accordion":
		return map[string]any{"title": "Frequently asked questions", "faqs": []any{}}
	case "service_area":
		return map[string]any{
			"title":       "Areas we cover",
			"description": fmt.Sprintf("Based in %s.", area),
			"areas":       nonNil(spec.ServiceArea.Areas),
			"mapCenter":   area,
		}
	case "contact_form":
		return map[string]any{
			"title":       "Get in touch",
			"description": "Fill out the form below and we'll get back to you.",
			"fields":      []string{"name", "email", "phone", "message"},
			"submitText":  "Send Message",
		}
	case "cta_banner":
		return map[string]any{
			"headline":    "Ready to get started?",
			"description": fmt.Sprintf("Contact %s today.", name),
			"ctaText":     cta,
			"ctaLink":     "/contact",
		}
	default:
		return map[string]any{"content": ""}
	}
}

func navigationFor(pages []SpecPage) *SpecNav {
	nav := &SpecNav{HeaderLinks: []types.NavItem{}, FooterLinks: []types.NavItem{}}
	for _, p := range pages {
		item := types.NavItem{Label: p.Title, Href: p.Slug}
		if !strings.HasPrefix(p.ID, "service-") {
			nav.HeaderLinks = append(nav.HeaderLinks, item)
		}
		nav.FooterLinks = append(nav.FooterLinks, item)
	}
	return nav
}

func planFor(tenant *types.Tenant, in OnboardingAnswers) int {
	if _, ok := PlanPageCounts[tenant.PlanPages]; ok {
		return tenant.PlanPages
	}
	if _, ok := PlanPageCounts[in.Step0.PlanPages]; ok {
		return in.Step0.PlanPages
	}
	return 5
}

func ctaLabel(pref string) string {
	switch pref {
	case "call_now":
		return "Call Now"
	case "book_now":
		return "Book Now"
	case "request_callback":
		return "Request a Callback"
	case "email_us":
		return "Email Us"
	default:
		return "Get a Quote"
	}
}

// sectionsOf carries the customer's services into every services grid as props.
func sectionsOf(names []string, offers []Offer) []SpecSection {
	out := make([]SpecSection, len(names))
	for i, n := range names {
		out[i] = SpecSection{Type: n, Props: json.RawMessage(`{}`)}
		if n != "services_grid" {
			continue
		}
		services := make([]map[string]string, 0, len(offers))
		for _, o := range offers {
			services = append(services, map[string]string{"name": o.Name, "description": o.Description, "icon": "star"})
		}
		if props, err := sonic.Marshal(map[string]any{"services": services}); err == nil {
			out[i].Props = props
		}
	}
	return out
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

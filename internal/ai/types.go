package ai

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/mdollan-source/payg/types"
)

const SpecVersion = "1.0"

// AllowedBlockTypes are the section types the site renderer knows how to draw.
var AllowedBlockTypes = []string{
	"hero",
	"services_grid",
	"about_split",
	"testimonial_list",
	"accreditations_row",
	"gallery_grid",
	"faq_accordion",
	"service_area",
	"contact_form",
	"cta_banner",
	"rich_text",
}

func IsAllowedBlockType(t string) bool {
	return slices.Contains(AllowedBlockTypes, t)
}

// PlanPageCounts maps a plan to the exact number of pages a generated site must have.
var PlanPageCounts = map[int]int{
	1:  1,
	5:  5,
	10: 10,
}

// Usage is token accounting for one generation, summed over retries.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Result is a validated generator output.
type Result struct {
	Output    json.RawMessage
	Generator string
	Model     string
	Usage     Usage
}

type SpecGenerator interface {
	// GenerateSpec turns onboarding answers into a validated build spec.
	GenerateSpec(ctx context.Context, tenant *types.Tenant, answers json.RawMessage) (*Result, error)
}

type SeedGenerator interface {
	// GenerateSeed expands a build spec into a validated CMS seed.
	GenerateSeed(ctx context.Context, tenant *types.Tenant, spec json.RawMessage) (*Result, error)
}

// BuildSpec is the intermediate site plan produced from onboarding answers.
type BuildSpec struct {
	SpecVersion string       `json:"spec_version"`
	Tenant      SpecTenant   `json:"tenant"`
	Branding    *Branding    `json:"branding"`
	Contact     *Contact     `json:"contact"`
	ServiceArea ServiceArea  `json:"service_area"`
	Navigation  *SpecNav     `json:"navigation"`
	Pages       []SpecPage   `json:"pages"`
	Footer      SpecFooter   `json:"global_blocks"`
	Assets      *SpecAssets  `json:"assets,omitempty"`
	Change      ChangePolicy `json:"change_policy_hints"`
}

type SpecTenant struct {
	BusinessName string   `json:"business_name"`
	LegalName    string   `json:"legal_name,omitempty"`
	Industry     string   `json:"industry"`
	Tagline      string   `json:"tagline,omitempty"`
	ToneOfVoice  string   `json:"tone_of_voice,omitempty"`
	USPBullets   []string `json:"usp_bullets"`
	AvoidWords   []string `json:"avoid_claims_or_words"`
}

type Branding struct {
	LogoURL         string `json:"logo_url"`
	PrimaryColour   string `json:"primary_colour_hex"`
	SecondaryColour string `json:"secondary_colour_hex"`
	DesignVibe      string `json:"design_vibe"`
}

type Contact struct {
	Phone        string `json:"phone"`
	Email        string `json:"email"`
	Address      string `json:"address"`
	OpeningHours string `json:"opening_hours"`
	CTAPrimary   string `json:"cta_primary"`
	CTASecondary string `json:"cta_secondary"`
}

type ServiceArea struct {
	Mode            string   `json:"mode"`
	RadiusMiles     int      `json:"radius_miles"`
	Areas           []string `json:"areas"`
	PrimaryLocation string   `json:"primary_location"`
}

type SpecNav struct {
	HeaderLinks []types.NavItem `json:"header_links"`
	FooterLinks []types.NavItem `json:"footer_links"`
}

type SpecPage struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Slug     string        `json:"slug"`
	Purpose  string        `json:"purpose,omitempty"`
	SEO      *PageSEO      `json:"seo"`
	Sections []SpecSection `json:"sections"`
}

type PageSEO struct {
	Title             string   `json:"title"`
	MetaDescription   string   `json:"meta_description"`
	PrimaryKeyword    string   `json:"primary_keyword"`
	SecondaryKeywords []string `json:"secondary_keywords"`
}

type SpecSection struct {
	Type  string          `json:"type"`
	Props json.RawMessage `json:"props,omitempty"`
}

type SpecFooter struct {
	Footer struct {
		Disclaimer    string `json:"disclaimer"`
		CopyrightText string `json:"copyright_text"`
	} `json:"footer"`
}

type SpecAssets struct {
	ImageStyleNotes string         `json:"image_style_notes"`
	ImageRequests   []ImageRequest `json:"image_requests"`
}

type ImageRequest struct {
	SectionRef  string   `json:"section_ref"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

type ChangePolicy struct {
	SelfServe      []string `json:"self_serve"`
	ManagedChanges []string `json:"managed_changes"`
}

// OnboardingAnswers is the subset of the questionnaire the generators read.
type OnboardingAnswers struct {
	Step0 struct {
		PlanPages int    `json:"planPages"`
		Industry  string `json:"industry"`
	} `json:"step0"`
	Step1 struct {
		BusinessName     string   `json:"businessName"`
		WhatDoYouDo      string   `json:"whatDoYouDo"`
		Services         []Offer  `json:"services"`
		PrimaryLocation  string   `json:"primaryLocation"`
		ServiceAreaMode  string   `json:"serviceAreaMode"`
		ServiceAreaMiles int      `json:"serviceAreaRadius"`
		ServiceAreaList  []string `json:"serviceAreaList"`
		Phone            string   `json:"phone"`
		Email            string   `json:"email"`
		CTAPreference    string   `json:"ctaPreference"`
	} `json:"step1"`
	Step2 struct {
		ToneOfVoice     string   `json:"toneOfVoice"`
		PrimaryColour   string   `json:"primaryColourHex"`
		SecondaryColour string   `json:"secondaryColourHex"`
		DesignVibe      string   `json:"designVibe"`
		Tagline         string   `json:"tagline"`
		MustAvoidWords  []string `json:"mustAvoidWords"`
	} `json:"step2"`
	Step3 struct {
		Accreditations  []string      `json:"accreditations"`
		YearsInBusiness int           `json:"yearsInBusiness"`
		Testimonials    []Testimonial `json:"testimonials"`
	} `json:"step3"`
	Step4 struct {
		OpeningHours string `json:"openingHours"`
		Address      string `json:"address"`
	} `json:"step4"`
}

type Offer struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Testimonial struct {
	Name     string `json:"name"`
	Text     string `json:"text"`
	Location string `json:"location,omitempty"`
}

package types

import (
	"encoding/json"
	"time"
)

type TenantStatus string

const (
	TenantOnboarding    TenantStatus = "onboarding"
	TenantBuilding      TenantStatus = "building"
	TenantPendingReview TenantStatus = "pending_review"
	TenantLive          TenantStatus = "live"
	TenantSuspended     TenantStatus = "suspended"
	TenantCancelled     TenantStatus = "cancelled"
)

// Tenant is the slice of a customer account the provisioning handlers need.
type Tenant struct {
	ID           string       `json:"id"`
	BusinessName string       `json:"business_name"`
	BusinessSlug string       `json:"business_slug"`
	Status       TenantStatus `json:"status"`
	PlanPages    int          `json:"plan_pages"`
	ContactName  string       `json:"contact_name,omitempty"`
	ContactEmail string       `json:"contact_email,omitempty"`
}

type DomainVerification string

const (
	DomainPending  DomainVerification = "pending"
	DomainVerified DomainVerification = "verified"
	DomainFailed   DomainVerification = "failed"
)

type Domain struct {
	ID                 string             `json:"id"`
	TenantID           string             `json:"tenant_id"`
	Domain             string             `json:"domain"`
	VerificationStatus DomainVerification `json:"verification_status"`
	VerificationMethod string             `json:"verification_method,omitempty"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	SSLStatus          string             `json:"ssl_status,omitempty"`
	SSLExpiresAt       *time.Time         `json:"ssl_expires_at,omitempty"`
}

type GenerationKind string

const (
	GenerationSpec GenerationKind = "spec"
	GenerationSeed GenerationKind = "seed"
)

// Generation records one generator output for audit and for the next pipeline stage.
type Generation struct {
	ID        string          `json:"id"`
	TenantID  string          `json:"tenant_id"`
	Kind      GenerationKind  `json:"kind"`
	Generator string          `json:"generator"`
	Output    json.RawMessage `json:"output"`
	CreatedAt time.Time       `json:"created_at"`
}

type EmailLog struct {
	TenantID  string    `json:"tenant_id,omitempty"`
	To        string    `json:"to"`
	Template  string    `json:"template"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	MessageID string    `json:"message_id,omitempty"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SiteSeed is the CMS content produced by seed generation and persisted by the importer.
type SiteSeed struct {
	Settings   SiteSettings `json:"settings"`
	Navigation Navigation   `json:"navigation"`
	Pages      []SeedPage   `json:"pages"`
}

type SiteSettings struct {
	SiteName string          `json:"siteName"`
	Tagline  string          `json:"tagline,omitempty"`
	Phone    string          `json:"phone,omitempty"`
	Email    string          `json:"email,omitempty"`
	Address  string          `json:"address,omitempty"`
	Theme    json.RawMessage `json:"theme,omitempty"`
}

type Navigation struct {
	Header []NavItem `json:"header"`
	Footer []NavItem `json:"footer"`
}

type NavItem struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

type SeedPage struct {
	Title           string      `json:"title"`
	Slug            string      `json:"slug"`
	MetaTitle       string      `json:"metaTitle,omitempty"`
	MetaDescription string      `json:"metaDescription,omitempty"`
	Blocks          []SeedBlock `json:"blocks"`
}

type SeedBlock struct {
	Type    string          `json:"type"`
	Variant string          `json:"variant,omitempty"`
	Content json.RawMessage `json:"content"`
}

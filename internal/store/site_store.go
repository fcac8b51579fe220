package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mdollan-source/payg/types"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrDomainNotFound     = errors.New("domain not found")
	ErrOnboardingNotFound = errors.New("no onboarding answers for tenant")
	ErrBuildSpecNotFound  = errors.New("no build spec for tenant")
	ErrGenerationNotFound = errors.New("no generation for tenant")
)

// SiteStore is the tenant-side persistence the provisioning handlers read and write.
type SiteStore interface {
	FindTenant(ctx context.Context, tenantID string) (*types.Tenant, error)

	UpdateTenantStatus(ctx context.Context, tenantID string, status types.TenantStatus) error

	// LatestOnboardingAnswers returns the most recent submitted questionnaire.
	LatestOnboardingAnswers(ctx context.Context, tenantID string) (json.RawMessage, error)

	// SaveBuildSpec stores a new version of the build spec and returns its version number.
	SaveBuildSpec(ctx context.Context, tenantID string, spec json.RawMessage) (int, error)

	LatestBuildSpec(ctx context.Context, tenantID string) (json.RawMessage, error)

	SaveGeneration(ctx context.Context, gen types.Generation) error

	LatestGeneration(ctx context.Context, tenantID string, kind types.GenerationKind) (*types.Generation, error)

	// ReplaceSiteContent upserts settings and navigation and recreates pages and blocks in one transaction.
	ReplaceSiteContent(ctx context.Context, tenantID string, seed *types.SiteSeed) error

	FindDomain(ctx context.Context, tenantID, domainID string) (*types.Domain, error)

	UpdateDomainVerification(ctx context.Context, domainID string, status types.DomainVerification, method string, at time.Time) error

	UpdateDomainSSL(ctx context.Context, domainID string, status string, expiresAt *time.Time) error

	LogEmail(ctx context.Context, entry types.EmailLog) error
}

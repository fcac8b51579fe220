package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
)

// SiteStore is an in-memory store.SiteStore used by the memory driver and handler tests.
type SiteStore struct {
	mu          sync.Mutex
	tenants     map[string]types.Tenant
	onboarding  map[string]json.RawMessage
	specs       map[string][]json.RawMessage
	generations map[string][]types.Generation
	content     map[string]types.SiteSeed
	domains     map[string]types.Domain
	emails      []types.EmailLog
}

func NewSiteStore() *SiteStore {
	return &SiteStore{
		tenants:     make(map[string]types.Tenant),
		onboarding:  make(map[string]json.RawMessage),
		specs:       make(map[string][]json.RawMessage),
		generations: make(map[string][]types.Generation),
		content:     make(map[string]types.SiteSeed),
		domains:     make(map[string]types.Domain),
	}
}

// PutTenant seeds a tenant record.
func (s *SiteStore) PutTenant(t types.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func (s *SiteStore) PutOnboardingAnswers(tenantID string, answers json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onboarding[tenantID] = slices.Clone(answers)
}

func (s *SiteStore) PutDomain(d types.Domain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.domains[d.ID] = d
}

// Content returns the last imported seed for a tenant.
func (s *SiteStore) Content(tenantID string) (types.SiteSeed, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.content[tenantID]
	return c, ok
}

func (s *SiteStore) Emails() []types.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.emails)
}

func (s *SiteStore) FindTenant(_ context.Context, tenantID string) (*types.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, store.ErrTenantNotFound)
	}
	return &t, nil
}

func (s *SiteStore) UpdateTenantStatus(_ context.Context, tenantID string, status types.TenantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return fmt.Errorf("tenant %s: %w", tenantID, store.ErrTenantNotFound)
	}
	t.Status = status
	s.tenants[tenantID] = t
	return nil
}

func (s *SiteStore) LatestOnboardingAnswers(_ context.Context, tenantID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.onboarding[tenantID]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, store.ErrOnboardingNotFound)
	}
	return slices.Clone(a), nil
}

func (s *SiteStore) SaveBuildSpec(_ context.Context, tenantID string, spec json.RawMessage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[tenantID] = append(s.specs[tenantID], slices.Clone(spec))
	return len(s.specs[tenantID]), nil
}

func (s *SiteStore) LatestBuildSpec(_ context.Context, tenantID string) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.specs[tenantID]
	if len(versions) == 0 {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, store.ErrBuildSpecNotFound)
	}
	return slices.Clone(versions[len(versions)-1]), nil
}

func (s *SiteStore) SaveGeneration(_ context.Context, gen types.Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen.ID == "" {
		gen.ID = uuid.NewString()
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now()
	}
	gen.Output = slices.Clone(gen.Output)
	s.generations[gen.TenantID] = append(s.generations[gen.TenantID], gen)
	return nil
}

func (s *SiteStore) LatestGeneration(_ context.Context, tenantID string, kind types.GenerationKind) (*types.Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gens := s.generations[tenantID]
	for i := len(gens) - 1; i >= 0; i-- {
		if gens[i].Kind == kind {
			g := gens[i]
			g.Output = slices.Clone(g.Output)
			return &g, nil
		}
	}
	return nil, fmt.Errorf("%s for tenant %s: %w", kind, tenantID, store.ErrGenerationNotFound)
}

func (s *SiteStore) ReplaceSiteContent(_ context.Context, tenantID string, seed *types.SiteSeed) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *seed
	c.Pages = slices.Clone(seed.Pages)
	s.content[tenantID] = c
	return nil
}

func (s *SiteStore) FindDomain(_ context.Context, tenantID, domainID string) (*types.Domain, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[domainID]
	if !ok || d.TenantID != tenantID {
		return nil, fmt.Errorf("domain %s: %w", domainID, store.ErrDomainNotFound)
	}
	return &d, nil
}

func (s *SiteStore) UpdateDomainVerification(_ context.Context, domainID string, status types.DomainVerification, method string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[domainID]
	if !ok {
		return fmt.Errorf("%s: %w", domainID, store.ErrDomainNotFound)
	}
	d.VerificationStatus = status
	d.VerificationMethod = method
	if status == types.DomainVerified {
		d.VerifiedAt = &at
	}
	s.domains[domainID] = d
	return nil
}

func (s *SiteStore) UpdateDomainSSL(_ context.Context, domainID string, status string, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.domains[domainID]
	if !ok {
		return fmt.Errorf("%s: %w", domainID, store.ErrDomainNotFound)
	}
	d.SSLStatus = status
	d.SSLExpiresAt = expiresAt
	s.domains[domainID] = d
	return nil
}

func (s *SiteStore) LogEmail(_ context.Context, entry types.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.emails = append(s.emails, entry)
	return nil
}

var _ store.SiteStore = (*SiteStore)(nil)

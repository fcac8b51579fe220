package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSiteStore_TenantStatus(t *testing.T) {
	s := NewSiteStore()
	ctx := context.Background()
	s.PutTenant(types.Tenant{ID: "t1", Status: types.TenantBuilding})

	require.NoError(t, s.UpdateTenantStatus(ctx, "t1", types.TenantPendingReview))
	tenant, err := s.FindTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, types.TenantPendingReview, tenant.Status)

	assert.ErrorIs(t, s.UpdateTenantStatus(ctx, "nope", types.TenantLive), store.ErrTenantNotFound)
}

func TestSiteStore_BuildSpecVersions(t *testing.T) {
	s := NewSiteStore()
	ctx := context.Background()

	_, err := s.LatestBuildSpec(ctx, "t1")
	assert.ErrorIs(t, err, store.ErrBuildSpecNotFound)

	v1, err := s.SaveBuildSpec(ctx, "t1", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	v2, err := s.SaveBuildSpec(ctx, "t1", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)
	assert.Equal(t, 1, v1)
	assert.Equal(t, 2, v2)

	latest, err := s.LatestBuildSpec(ctx, "t1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(latest))
}

func TestSiteStore_LatestGenerationByKind(t *testing.T) {
	s := NewSiteStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.SaveGeneration(ctx, types.Generation{TenantID: "t1", Kind: types.GenerationSeed, Output: json.RawMessage(`"old"`), CreatedAt: now}))
	require.NoError(t, s.SaveGeneration(ctx, types.Generation{TenantID: "t1", Kind: types.GenerationSpec, Output: json.RawMessage(`"spec"`), CreatedAt: now}))
	require.NoError(t, s.SaveGeneration(ctx, types.Generation{TenantID: "t1", Kind: types.GenerationSeed, Output: json.RawMessage(`"new"`), CreatedAt: now}))

	gen, err := s.LatestGeneration(ctx, "t1", types.GenerationSeed)
	require.NoError(t, err)
	assert.Equal(t, `"new"`, string(gen.Output))
	assert.NotEmpty(t, gen.ID)

	_, err = s.LatestGeneration(ctx, "t2", types.GenerationSeed)
	assert.ErrorIs(t, err, store.ErrGenerationNotFound)
}

func TestSiteStore_DomainScopedToTenant(t *testing.T) {
	s := NewSiteStore()
	ctx := context.Background()
	s.PutDomain(types.Domain{ID: "d1", TenantID: "t1", Domain: "acme.test", VerificationStatus: types.DomainPending})

	_, err := s.FindDomain(ctx, "t2", "d1")
	assert.ErrorIs(t, err, store.ErrDomainNotFound)

	at := time.Now()
	require.NoError(t, s.UpdateDomainVerification(ctx, "d1", types.DomainVerified, "CNAME", at))
	d, err := s.FindDomain(ctx, "t1", "d1")
	require.NoError(t, err)
	assert.Equal(t, types.DomainVerified, d.VerificationStatus)
	require.NotNil(t, d.VerifiedAt)
	assert.True(t, d.VerifiedAt.Equal(at))
}

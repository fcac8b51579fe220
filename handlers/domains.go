package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/mdollan-source/payg/custom_errors"
	"github.com/mdollan-source/payg/types"
	"go.uber.org/zap"
)

const (
	sslActive  = "active"
	sslPending = "pending"
)

var errUnverified = errors.New("domain does not point at the site yet")

type domainPayload struct {
	TenantID string `json:"tenantId"`
	DomainID string `json:"domainId"`
}

func (h *handlers) loadDomain(ctx context.Context, job *types.Job) (*types.Domain, string, error) {
	var p domainPayload
	if err := decode(job, &p); err != nil {
		return nil, "", err
	}
	tenantID, err := tenantOf(job, p.TenantID)
	if err != nil {
		return nil, "", err
	}
	if p.DomainID == "" {
		return nil, "", custom_errors.Permanent(fmt.Errorf("%s payload has no domainId", job.JobType))
	}
	domain, err := h.deps.Sites.FindDomain(ctx, tenantID, p.DomainID)
	if err != nil {
		return nil, "", missingRecord(err)
	}
	return domain, tenantID, nil
}

// verifyDNS fails while the domain is unverified so the retry schedule keeps checking as DNS propagates.
func (h *handlers) verifyDNS(ctx context.Context, job *types.Job) (any, error) {
	domain, tenantID, err := h.loadDomain(ctx, job)
	if err != nil {
		return nil, err
	}
	tenant, err := h.deps.Sites.FindTenant(ctx, tenantID)
	if err != nil {
		return nil, missingRecord(err)
	}

	res, err := h.deps.DNS.Verify(ctx, domain.Domain, tenant.BusinessSlug)
	if err != nil {
		return nil, err
	}

	status := types.DomainFailed
	if res.Verified {
		status = types.DomainVerified
	}
	if err := h.deps.Sites.UpdateDomainVerification(ctx, domain.ID, status, res.Method, h.deps.Now()); err != nil {
		return nil, fmt.Errorf("failed to record verification: %w", err)
	}
	if !res.Verified {
		return nil, fmt.Errorf("%s: %w (expected CNAME %s)", domain.Domain, errUnverified, res.ExpectedCNAME)
	}

	next, err := h.enqueueNext(ctx, job, tenantID, domainPayload{TenantID: tenantID, DomainID: domain.ID})
	if err != nil {
		return nil, err
	}
	h.logger.Info("domain verified", zap.String("tenant_id", tenantID), zap.String("domain", domain.Domain), zap.String("method", res.Method))
	return map[string]any{"status": "dns_verified", "method": res.Method, "nextJob": next}, nil
}

func (h *handlers) provisionSSL(ctx context.Context, job *types.Job) (any, error) {
	domain, tenantID, err := h.loadDomain(ctx, job)
	if err != nil {
		return nil, err
	}

	cert, err := h.deps.Certs.Check(ctx, domain.Domain)
	if err != nil {
		if uErr := h.deps.Sites.UpdateDomainSSL(ctx, domain.ID, sslPending, nil); uErr != nil {
			h.logger.Warn("failed to record ssl status", zap.String("domain", domain.Domain), zap.Error(uErr))
		}
		return nil, err
	}
	if err := h.deps.Sites.UpdateDomainSSL(ctx, domain.ID, sslActive, &cert.NotAfter); err != nil {
		return nil, fmt.Errorf("failed to record ssl status: %w", err)
	}

	h.logger.Info("certificate active", zap.String("tenant_id", tenantID), zap.String("domain", domain.Domain), zap.Time("expires_at", cert.NotAfter))
	return map[string]any{"status": "ssl_active", "expiresAt": cert.NotAfter, "issuer": cert.Issuer}, nil
}

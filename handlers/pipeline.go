package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/internal/ai"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
	"go.uber.org/zap"
)

type generatePayload struct {
	TenantID  string `json:"tenantId"`
	PlanPages int    `json:"planPages,omitempty"`
	Rebuild   bool   `json:"rebuild,omitempty"`
}

type importPayload struct {
	TenantID string          `json:"tenantId"`
	Seed     json.RawMessage `json:"seed,omitempty"`
}

func (h *handlers) loadTenant(ctx context.Context, tenantID string, planPages int) (*types.Tenant, error) {
	tenant, err := h.deps.Sites.FindTenant(ctx, tenantID)
	if err != nil {
		return nil, missingRecord(err)
	}
	if planPages > 0 {
		tenant.PlanPages = planPages
	}
	return tenant, nil
}

func (h *handlers) generateSpec(ctx context.Context, job *types.Job) (any, error) {
	var p generatePayload
	if err := decode(job, &p); err != nil {
		return nil, err
	}
	tenantID, err := tenantOf(job, p.TenantID)
	if err != nil {
		return nil, err
	}
	tenant, err := h.loadTenant(ctx, tenantID, p.PlanPages)
	if err != nil {
		return nil, err
	}

	answers, err := h.deps.Sites.LatestOnboardingAnswers(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	res, err := h.deps.Specs.GenerateSpec(ctx, tenant, answers)
	if err != nil {
		return nil, err
	}

	version, err := h.deps.Sites.SaveBuildSpec(ctx, tenantID, res.Output)
	if err != nil {
		return nil, err
	}
	if err := h.saveGeneration(ctx, tenantID, types.GenerationSpec, res); err != nil {
		return nil, err
	}

	next, err := h.enqueueNext(ctx, job, tenantID, generatePayload{TenantID: tenantID, PlanPages: p.PlanPages, Rebuild: p.Rebuild})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":      "spec_generated",
		"specVersion": version,
		"generator":   res.Generator,
		"nextJob":     next,
	}, nil
}

func (h *handlers) generateSeed(ctx context.Context, job *types.Job) (any, error) {
	var p generatePayload
	if err := decode(job, &p); err != nil {
		return nil, err
	}
	tenantID, err := tenantOf(job, p.TenantID)
	if err != nil {
		return nil, err
	}
	tenant, err := h.loadTenant(ctx, tenantID, p.PlanPages)
	if err != nil {
		return nil, err
	}

	spec, err := h.deps.Sites.LatestBuildSpec(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	res, err := h.deps.Seeds.GenerateSeed(ctx, tenant, spec)
	if err != nil {
		return nil, err
	}
	if err := h.saveGeneration(ctx, tenantID, types.GenerationSeed, res); err != nil {
		return nil, err
	}

	next, err := h.enqueueNext(ctx, job, tenantID, importPayload{TenantID: tenantID})
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"status":    "seed_generated",
		"generator": res.Generator,
		"nextJob":   next,
	}, nil
}

func (h *handlers) importSeed(ctx context.Context, job *types.Job) (any, error) {
	var p importPayload
	if err := decode(job, &p); err != nil {
		return nil, err
	}
	tenantID, err := tenantOf(job, p.TenantID)
	if err != nil {
		return nil, err
	}

	raw := p.Seed
	if len(raw) == 0 {
		gen, err := h.deps.Sites.LatestGeneration(ctx, tenantID, types.GenerationSeed)
		if err != nil {
			return nil, err
		}
		raw = gen.Output
	}
	var seed types.SiteSeed
	if err := sonic.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("failed to decode seed: %w", err)
	}

	imported, err := h.deps.Importer.Import(ctx, tenantID, &seed)
	if err != nil {
		return nil, err
	}
	if err := h.deps.Sites.UpdateTenantStatus(ctx, tenantID, types.TenantPendingReview); err != nil {
		if errors.Is(err, store.ErrTenantNotFound) {
			return nil, missingRecord(err)
		}
		return nil, fmt.Errorf("failed to update tenant status: %w", err)
	}

	h.logger.Info("seed imported, awaiting review", zap.String("tenant_id", tenantID))
	return map[string]any{
		"status":       "seed_imported",
		"pages":        len(imported.Pages),
		"tenantStatus": types.TenantPendingReview,
	}, nil
}

func (h *handlers) saveGeneration(ctx context.Context, tenantID string, kind types.GenerationKind, res *ai.Result) error {
	err := h.deps.Sites.SaveGeneration(ctx, types.Generation{
		TenantID:  tenantID,
		Kind:      kind,
		Generator: res.Generator,
		Output:    res.Output,
		CreatedAt: h.deps.Now(),
	})
	if err != nil {
		return err
	}
	h.logger.Info("generation stored",
		zap.String("tenant_id", tenantID),
		zap.String("kind", string(kind)),
		zap.String("generator", res.Generator),
		zap.String("model", res.Model),
		zap.Int("input_tokens", res.Usage.InputTokens),
		zap.Int("output_tokens", res.Usage.OutputTokens))
	return nil
}

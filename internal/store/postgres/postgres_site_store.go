package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
)

type PostgresSiteStore struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

func NewPostgresSiteStore(db *sql.DB) *PostgresSiteStore {
	return &PostgresSiteStore{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (r *PostgresSiteStore) FindTenant(ctx context.Context, tenantID string) (*types.Tenant, error) {
	query := `
		SELECT t.id, t.business_name, t.business_slug, t.status, t.plan_pages,
			COALESCE(u.name, ''), COALESCE(u.email, '')
		FROM tenants t
		LEFT JOIN LATERAL (
			SELECT name, email FROM users WHERE tenant_id = t.id ORDER BY created_at ASC LIMIT 1
		) u ON true
		WHERE t.id = $1
	`

	var t types.Tenant
	var status string
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&t.ID, &t.BusinessName, &t.BusinessSlug, &status, &t.PlanPages, &t.ContactName, &t.ContactEmail,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, store.ErrTenantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load tenant %s: %w", tenantID, err)
	}
	t.Status = types.TenantStatus(status)
	return &t, nil
}

func (r *PostgresSiteStore) UpdateTenantStatus(ctx context.Context, tenantID string, status types.TenantStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE tenants SET status = $2, updated_at = now() WHERE id = $1`, tenantID, string(status))
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("tenant %s: %w", tenantID, store.ErrTenantNotFound)
	}
	return nil
}

func (r *PostgresSiteStore) LatestOnboardingAnswers(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return r.latestJSON(ctx, store.ErrOnboardingNotFound, tenantID,
		`SELECT answers FROM onboarding_responses WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT 1`)
}

func (r *PostgresSiteStore) SaveBuildSpec(ctx context.Context, tenantID string, spec json.RawMessage) (int, error) {
	query := `
		INSERT INTO build_specs (tenant_id, version, spec, created_at)
		SELECT $1, COALESCE(MAX(version), 0) + 1, $2, now()
		FROM build_specs WHERE tenant_id = $1
		RETURNING version
	`
	var version int
	if err := r.db.QueryRowContext(ctx, query, tenantID, string(spec)).Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to save build spec: %w", err)
	}
	return version, nil
}

func (r *PostgresSiteStore) LatestBuildSpec(ctx context.Context, tenantID string) (json.RawMessage, error) {
	return r.latestJSON(ctx, store.ErrBuildSpecNotFound, tenantID,
		`SELECT spec FROM build_specs WHERE tenant_id = $1 ORDER BY version DESC LIMIT 1`)
}

func (r *PostgresSiteStore) SaveGeneration(ctx context.Context, gen types.Generation) error {
	if gen.ID == "" {
		gen.ID = uuid.NewString()
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO ai_generations (id, tenant_id, kind, generator, output, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		gen.ID, gen.TenantID, string(gen.Kind), gen.Generator, string(gen.Output), gen.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save generation: %w", err)
	}
	return nil
}

func (r *PostgresSiteStore) LatestGeneration(ctx context.Context, tenantID string, kind types.GenerationKind) (*types.Generation, error) {
	query := `
		SELECT id, tenant_id, kind, generator, output, created_at
		FROM ai_generations
		WHERE tenant_id = $1 AND kind = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var g types.Generation
	var k string
	var output []byte
	err := r.db.QueryRowContext(ctx, query, tenantID, string(kind)).Scan(&g.ID, &g.TenantID, &k, &g.Generator, &output, &g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s for tenant %s: %w", kind, tenantID, store.ErrGenerationNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load generation: %w", err)
	}
	g.Kind = types.GenerationKind(k)
	g.Output = output
	return &g, nil
}

// ReplaceSiteContent upserts settings and navigation, then deletes and recreates every page.
// Blocks go with their pages through ON DELETE CASCADE.
func (r *PostgresSiteStore) ReplaceSiteContent(ctx context.Context, tenantID string, seed *types.SiteSeed) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	settings, err := json.Marshal(seed.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO site_settings (tenant_id, settings, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (tenant_id) DO UPDATE SET settings = EXCLUDED.settings, updated_at = now()
	`, tenantID, string(settings)); err != nil {
		return fmt.Errorf("failed to upsert site settings: %w", err)
	}

	for _, nav := range []struct {
		location string
		items    []types.NavItem
	}{
		{"header", seed.Navigation.Header},
		{"footer", seed.Navigation.Footer},
	} {
		location, items := nav.location, nav.items
		if items == nil {
			items = []types.NavItem{}
		}
		b, mErr := json.Marshal(items)
		if mErr != nil {
			return fmt.Errorf("failed to marshal %s navigation: %w", location, mErr)
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO navigation (tenant_id, location, items, updated_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (tenant_id, location) DO UPDATE SET items = EXCLUDED.items, updated_at = now()
		`, tenantID, location, string(b)); err != nil {
			return fmt.Errorf("failed to upsert %s navigation: %w", location, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM pages WHERE tenant_id = $1`, tenantID); err != nil {
		return fmt.Errorf("failed to delete pages: %w", err)
	}

	for i, page := range seed.Pages {
		pageID := uuid.NewString()
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO pages (id, tenant_id, title, slug, meta_title, meta_description, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, pageID, tenantID, page.Title, page.Slug, nullString(page.MetaTitle), nullString(page.MetaDescription), i); err != nil {
			return fmt.Errorf("failed to insert page %q: %w", page.Slug, err)
		}

		if len(page.Blocks) == 0 {
			continue
		}
		insert := r.sb.Insert("blocks").Columns("id", "page_id", "type", "variant", "content", "sort_order")
		for j, block := range page.Blocks {
			content := block.Content
			if len(content) == 0 {
				content = json.RawMessage("{}")
			}
			insert = insert.Values(uuid.NewString(), pageID, block.Type, nullString(block.Variant), string(content), j)
		}
		query, args, bErr := insert.ToSql()
		if bErr != nil {
			return fmt.Errorf("failed to build block insert: %w", bErr)
		}
		if _, err = tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to insert blocks for page %q: %w", page.Slug, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit site content: %w", err)
	}
	return nil
}

func (r *PostgresSiteStore) FindDomain(ctx context.Context, tenantID, domainID string) (*types.Domain, error) {
	query := `
		SELECT id, tenant_id, domain, verification_status, COALESCE(verification_method, ''),
			verified_at, COALESCE(ssl_status, ''), ssl_expires_at
		FROM domains
		WHERE id = $1 AND tenant_id = $2
	`
	var d types.Domain
	var status string
	var verifiedAt, sslExpiresAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, domainID, tenantID).Scan(
		&d.ID, &d.TenantID, &d.Domain, &status, &d.VerificationMethod, &verifiedAt, &d.SSLStatus, &sslExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("domain %s: %w", domainID, store.ErrDomainNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load domain %s: %w", domainID, err)
	}
	d.VerificationStatus = types.DomainVerification(status)
	if verifiedAt.Valid {
		t := verifiedAt.Time
		d.VerifiedAt = &t
	}
	if sslExpiresAt.Valid {
		t := sslExpiresAt.Time
		d.SSLExpiresAt = &t
	}
	return &d, nil
}

func (r *PostgresSiteStore) UpdateDomainVerification(ctx context.Context, domainID string, status types.DomainVerification, method string, at time.Time) error {
	update := r.sb.Update("domains").
		Set("verification_status", string(status)).
		Set("verification_method", nullString(method)).
		Where(sq.Eq{"id": domainID})
	if status == types.DomainVerified {
		update = update.Set("verified_at", at)
	}

	query, args, err := update.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build domain update: %w", err)
	}
	return r.execOne(ctx, store.ErrDomainNotFound, domainID, query, args...)
}

func (r *PostgresSiteStore) UpdateDomainSSL(ctx context.Context, domainID string, status string, expiresAt *time.Time) error {
	var expires sql.NullTime
	if expiresAt != nil {
		expires = sql.NullTime{Time: *expiresAt, Valid: true}
	}
	return r.execOne(ctx, store.ErrDomainNotFound, domainID,
		`UPDATE domains SET ssl_status = $2, ssl_expires_at = $3 WHERE id = $1`, domainID, status, expires)
}

func (r *PostgresSiteStore) LogEmail(ctx context.Context, entry types.EmailLog) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_logs (tenant_id, recipient, template, subject, status, message_id, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, nullString(entry.TenantID), entry.To, entry.Template, entry.Subject, entry.Status,
		nullString(entry.MessageID), nullString(entry.Error), entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log email: %w", err)
	}
	return nil
}

func (r *PostgresSiteStore) latestJSON(ctx context.Context, notFound error, tenantID, query string) (json.RawMessage, error) {
	var b []byte
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, notFound)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *PostgresSiteStore) execOne(ctx context.Context, notFound error, id, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", id, notFound)
	}
	return nil
}

package handlers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mdollan-source/payg/client"
	"github.com/mdollan-source/payg/custom_errors"
	"github.com/mdollan-source/payg/internal/ai"
	"github.com/mdollan-source/payg/internal/domains"
	"github.com/mdollan-source/payg/internal/importer"
	"github.com/mdollan-source/payg/internal/mail"
	"github.com/mdollan-source/payg/internal/store"
	"github.com/mdollan-source/payg/types"
	"github.com/mdollan-source/payg/types/config"
	"go.uber.org/zap"
)

// DNSVerifier checks that a customer domain points at the hosted site.
type DNSVerifier interface {
	Verify(ctx context.Context, domain, businessSlug string) (domains.Verification, error)
}

// CertChecker checks the certificate a domain serves.
type CertChecker interface {
	Check(ctx context.Context, domain string) (*domains.Certificate, error)
}

// Deps are the collaborators the handlers need. Mailer may be nil when SMTP is not configured.
type Deps struct {
	Queue    *client.JobQueue
	Sites    store.SiteStore
	Specs    ai.SpecGenerator
	Seeds    ai.SeedGenerator
	Importer *importer.Importer
	Mailer   mail.Sender
	DNS      DNSVerifier
	Certs    CertChecker
	Site     config.SiteConfig
	Logger   *zap.Logger
	Now      func() time.Time
}

type registration struct {
	jobType types.JobType
	fn      types.HandlerFunc
	opts    config.HandlerOptions
}

// Register adds a handler for every job type to jh.
func Register(jh *config.JobHandler, deps Deps) error {
	if deps.Queue == nil || deps.Sites == nil {
		return errors.New("handlers need a queue and a site store")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Specs == nil || deps.Seeds == nil {
		tg := ai.NewTemplateGenerator(deps.Now)
		if deps.Specs == nil {
			deps.Specs = tg
		}
		if deps.Seeds == nil {
			deps.Seeds = tg
		}
	}
	if deps.Importer == nil {
		deps.Importer = importer.New(deps.Sites, deps.Logger)
	}
	if deps.DNS == nil {
		deps.DNS = domains.NewVerifier(nil, deps.Site.BaseDomain, deps.Site.ServerIP)
	}
	if deps.Certs == nil {
		deps.Certs = domains.NewCertChecker()
	}

	h := &handlers{deps: deps, logger: deps.Logger.Named("handlers")}
	for _, r := range []registration{
		{types.JobAIGenerateSpec, h.generateSpec, config.HandlerOptions{Description: "Generate a build spec from onboarding answers"}},
		{types.JobAIGenerateSeed, h.generateSeed, config.HandlerOptions{Description: "Generate CMS content from the latest build spec"}},
		{types.JobImportSeed, h.importSeed, config.HandlerOptions{Idempotent: true, Description: "Replace site content with the latest seed"}},
		{types.JobSendEmail, h.sendEmail, config.HandlerOptions{Description: "Send a templated email"}},
		{types.JobVerifyDNS, h.verifyDNS, config.HandlerOptions{Idempotent: true, Description: "Check a custom domain's DNS records"}},
		{types.JobProvisionSSL, h.provisionSSL, config.HandlerOptions{Idempotent: true, Description: "Check the certificate served for a custom domain"}},
	} {
		if err := jh.Register(r.jobType, r.fn, r.opts); err != nil {
			return err
		}
	}
	return nil
}

type handlers struct {
	deps   Deps
	logger *zap.Logger
}

func tenantOf(job *types.Job, payloadTenant string) (string, error) {
	if payloadTenant != "" {
		return payloadTenant, nil
	}
	if job.TenantID != "" {
		return job.TenantID, nil
	}
	return "", custom_errors.Permanent(errors.New("payload has no tenantId"))
}

func decode(job *types.Job, v any) error {
	if err := job.DecodePayload(v); err != nil {
		return custom_errors.Permanent(fmt.Errorf("invalid %s payload: %w", job.JobType, err))
	}
	return nil
}

// missingRecord turns lookups of records that will never appear into permanent errors.
func missingRecord(err error) error {
	if errors.Is(err, store.ErrTenantNotFound) || errors.Is(err, store.ErrDomainNotFound) {
		return custom_errors.Permanent(err)
	}
	return err
}

// enqueueNext creates the job that follows job in types.Pipeline. The idempotency key
// "<next>:<jobID>" keeps a redelivered stage from enqueuing its successor twice.
func (h *handlers) enqueueNext(ctx context.Context, job *types.Job, tenantID string, payload any) (types.JobType, error) {
	next, ok := types.NextStage(job.JobType)
	if !ok {
		return "", nil
	}
	created, err := h.deps.Queue.CreateJob(ctx, tenantID, next, payload,
		client.IdempotencyKey(fmt.Sprintf("%s:%s", next, job.ID)))
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s: %w", next, err)
	}
	h.logger.Info("enqueued next stage",
		zap.String("job_id", job.ID), zap.String("next_job_id", created.ID), zap.String("job_type", next.String()))
	return next, nil
}

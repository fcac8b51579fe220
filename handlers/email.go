package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mdollan-source/payg/custom_errors"
	"github.com/mdollan-source/payg/internal/mail"
	"github.com/mdollan-source/payg/types"
	"go.uber.org/zap"
)

type emailPayload struct {
	TenantID string          `json:"tenantId"`
	Template string          `json:"template"`
	To       string          `json:"to,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
}

func (h *handlers) sendEmail(ctx context.Context, job *types.Job) (any, error) {
	var p emailPayload
	if err := decode(job, &p); err != nil {
		return nil, err
	}
	if p.TenantID == "" {
		p.TenantID = job.TenantID
	}

	// Unknown templates never become known by retrying.
	if _, err := mail.Render(p.Template, mail.Data{}); err != nil {
		return nil, custom_errors.Permanent(err)
	}
	if h.deps.Mailer == nil {
		h.logger.Warn("smtp not configured, skipping email", zap.String("job_id", job.ID), zap.String("template", p.Template))
		return map[string]any{"status": "email_skipped", "reason": "smtp_not_configured"}, nil
	}

	data := mail.Data{
		DashboardURL: strings.TrimRight(h.deps.Site.AppURL, "/") + "/portal/dashboard",
		Year:         h.deps.Now().Year(),
	}
	to := p.To
	if p.TenantID != "" {
		tenant, err := h.deps.Sites.FindTenant(ctx, p.TenantID)
		if err != nil {
			return nil, missingRecord(err)
		}
		data.BusinessName = tenant.BusinessName
		data.SiteURL = fmt.Sprintf("https://%s.%s", tenant.BusinessSlug, h.deps.Site.BaseDomain)
		if to == "" {
			to = tenant.ContactEmail
		}
	}
	if to == "" {
		h.logger.Warn("no recipient, skipping email", zap.String("job_id", job.ID), zap.String("template", p.Template))
		return map[string]any{"status": "email_skipped", "reason": "no_recipient"}, nil
	}
	if len(p.Data) > 0 {
		if err := sonic.Unmarshal(p.Data, &data); err != nil {
			return nil, custom_errors.Permanent(fmt.Errorf("invalid email data: %w", err))
		}
	}

	msg, err := mail.Render(p.Template, data)
	if err != nil {
		return nil, custom_errors.Permanent(err)
	}

	entry := types.EmailLog{
		TenantID:  p.TenantID,
		To:        to,
		Template:  p.Template,
		Subject:   msg.Subject,
		CreatedAt: h.deps.Now(),
	}
	messageID, sendErr := h.deps.Mailer.Send(ctx, to, msg)
	if sendErr != nil {
		entry.Status = "failed"
		entry.Error = sendErr.Error()
	} else {
		entry.Status = "sent"
		entry.MessageID = messageID
	}
	if err := h.deps.Sites.LogEmail(ctx, entry); err != nil {
		h.logger.Warn("failed to log email", zap.String("job_id", job.ID), zap.Error(err))
	}
	if sendErr != nil {
		return nil, sendErr
	}

	h.logger.Info("email sent", zap.String("job_id", job.ID), zap.String("template", p.Template), zap.String("tenant_id", p.TenantID))
	return map[string]any{"status": "email_sent", "template": p.Template, "to": to, "messageId": messageID}, nil
}

package mail

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

var ErrUnknownTemplate = errors.New("unknown email template")

const (
	TemplateWelcome               = "welcome"
	TemplateSiteReady             = "site_ready"
	TemplateMagicLink             = "magic_link"
	TemplatePaymentFailed         = "payment_failed"
	TemplateSubscriptionCancelled = "subscription_cancelled"
	TemplateContactForm           = "contact_form"
)

// Data fills in the placeholders of every template. Fields a template does not use are ignored.
type Data struct {
	BusinessName string `json:"businessName"`
	SiteURL      string `json:"siteUrl"`
	DashboardURL string `json:"dashboardUrl"`
	MagicLink    string `json:"magicLink"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Message      string `json:"message"`
	Year         int    `json:"-"`
}

// Message is a rendered email ready to send.
type Message struct {
	Subject string
	HTML    string
	Text    string
	ReplyTo string
}

type emailTemplate struct {
	subject func(Data) string
	html    string
	text    string
	replyTo func(Data) string
}

var emailTemplates = map[string]emailTemplate{
	TemplateWelcome: {
		subject: func(d Data) string { return "Welcome to PAYGSite! - " + d.BusinessName },
		html: `<h2>Welcome to PAYGSite!</h2>
<p>Thanks for signing up. The account for <strong>{{.BusinessName}}</strong> is ready and we are building your website now.</p>
<p>We will email you again as soon as it is ready to review. Until then your dashboard lets you check your account, send change requests and manage billing.</p>
<p><a class="button" href="{{.DashboardURL}}">Open your dashboard</a></p>
<p>Any questions? Just reply to this email.</p>`,
		text: `Welcome to PAYGSite!

Thanks for signing up. The account for {{.BusinessName}} is ready and we are building your website now.
We will email you again as soon as it is ready to review.

Your dashboard: {{.DashboardURL}}

Any questions? Just reply to this email.

- The PAYGSite Team
`,
	},
	TemplateSiteReady: {
		subject: func(d Data) string { return "Your website is ready! - " + d.BusinessName },
		html: `<h2>Your website is live</h2>
<p>The website for <strong>{{.BusinessName}}</strong> has been built and published.</p>
<p><a class="button" href="{{.SiteURL}}">View your website</a></p>
<p>Make changes from your dashboard: <a href="{{.DashboardURL}}">{{.DashboardURL}}</a></p>
<p>Any questions? Just reply to this email.</p>`,
		text: `Your website is live

The website for {{.BusinessName}} has been built and published.

View it: {{.SiteURL}}
Make changes from your dashboard: {{.DashboardURL}}

- The PAYGSite Team
`,
	},
	TemplateMagicLink: {
		subject: func(Data) string { return "Sign in to PAYGSite" },
		html: `<h2>Sign in to your dashboard</h2>
<p>Use the button below to sign in. The link expires in 24 hours.</p>
<p><a class="button" href="{{.MagicLink}}">Sign in</a></p>
<p class="muted">If you did not ask for this email you can ignore it. You can also paste this link into your browser:<br>{{.MagicLink}}</p>`,
		text: `Sign in to PAYGSite

Open this link to sign in. It expires in 24 hours.

{{.MagicLink}}

If you did not ask for this email you can ignore it.

- The PAYGSite Team
`,
	},
	TemplatePaymentFailed: {
		subject: func(d Data) string { return "Action required: Payment failed - " + d.BusinessName },
		html: `<h2>Payment failed</h2>
<p>We could not take the latest payment for <strong>{{.BusinessName}}</strong>.</p>
<p>Please update your payment method to keep your website online.</p>
<p><a class="button" href="{{.DashboardURL}}/billing">Update payment method</a></p>`,
		text: `Payment failed

We could not take the latest payment for {{.BusinessName}}.
Please update your payment method to keep your website online:
{{.DashboardURL}}/billing

- The PAYGSite Team
`,
	},
	TemplateSubscriptionCancelled: {
		subject: func(d Data) string { return "Subscription cancelled - " + d.BusinessName },
		html: `<h2>Your subscription has been cancelled</h2>
<p>The subscription for <strong>{{.BusinessName}}</strong> has been cancelled. Your website stays online until the end of the current billing period.</p>
<p><a class="button" href="{{.DashboardURL}}/billing">Reactivate subscription</a></p>
<p class="muted">Sorry to see you go. If we could have done something better, let us know.</p>`,
		text: `Your subscription has been cancelled

The subscription for {{.BusinessName}} has been cancelled.
Your website stays online until the end of the current billing period.

Reactivate: {{.DashboardURL}}/billing

- The PAYGSite Team
`,
	},
	TemplateContactForm: {
		subject: func(d Data) string { return "New contact form submission - " + d.BusinessName },
		html: `<h2>New message from your website</h2>
<table>
<tr><td class="muted">Name</td><td>{{.Name}}</td></tr>
<tr><td class="muted">Email</td><td><a href="mailto:{{.Email}}">{{.Email}}</a></td></tr>
{{if .Phone}}<tr><td class="muted">Phone</td><td>{{.Phone}}</td></tr>{{end}}
</table>
<p style="white-space: pre-wrap;">{{.Message}}</p>
<p><a class="button" href="mailto:{{.Email}}">Reply to {{.Name}}</a></p>`,
		text: `New message from your website

Name: {{.Name}}
Email: {{.Email}}
{{if .Phone}}Phone: {{.Phone}}
{{end}}
Message:
{{.Message}}

- PAYGSite
`,
		replyTo: func(d Data) string { return d.Email },
	},
}

const layout = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>PAYGSite</title>
<style>
body { margin: 0; padding: 40px 20px; background: #f4f4f5; font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; color: #3f3f46; }
.card { max-width: 600px; margin: 0 auto; background: #ffffff; border-radius: 8px; overflow: hidden; }
.header { background: #2563eb; color: #ffffff; padding: 24px; text-align: center; font-size: 24px; font-weight: bold; }
.content { padding: 32px 24px; line-height: 1.6; }
.footer { padding: 24px; text-align: center; font-size: 12px; color: #71717a; }
.button { display: inline-block; background: #2563eb; color: #ffffff; padding: 12px 24px; border-radius: 6px; text-decoration: none; }
.muted { color: #71717a; font-size: 14px; }
</style>
</head>
<body>
<div class="card">
<div class="header">PAYGSite</div>
<div class="content">{{template "body" .}}</div>
<div class="footer">&copy; {{.Year}} PAYGSite. Pay-as-you-go websites for UK small businesses.</div>
</div>
</body>
</html>
`

// Templates lists the template names Render accepts.
func Templates() []string {
	return []string{
		TemplateWelcome,
		TemplateSiteReady,
		TemplateMagicLink,
		TemplatePaymentFailed,
		TemplateSubscriptionCancelled,
		TemplateContactForm,
	}
}

// Render fills the named template with data.
func Render(name string, data Data) (*Message, error) {
	tpl, ok := emailTemplates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTemplate, name)
	}

	h, err := htmltemplate.New("layout").Parse(layout)
	if err == nil {
		_, err = h.New("body").Parse(tpl.html)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s html: %w", name, err)
	}
	var html bytes.Buffer
	if err := h.ExecuteTemplate(&html, "layout", data); err != nil {
		return nil, fmt.Errorf("failed to render %s html: %w", name, err)
	}

	t, err := texttemplate.New(name).Parse(tpl.text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s text: %w", name, err)
	}
	var text bytes.Buffer
	if err := t.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render %s text: %w", name, err)
	}

	msg := &Message{
		Subject: strings.NewReplacer("\r", "", "\n", "").Replace(tpl.subject(data)),
		HTML:    html.String(),
		Text:    text.String(),
	}
	if tpl.replyTo != nil {
		msg.ReplyTo = tpl.replyTo(data)
	}
	return msg, nil
}

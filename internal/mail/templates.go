package mail

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/baharkarakas/supportpay/internal/models"
)

type tmpl struct {
	subject *template.Template
	body    *template.Template
}

func mustTmpl(subject, body string) tmpl {
	return tmpl{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

var templates = map[models.NotificationType]tmpl{
	models.NotifyPaymentSuccess: mustTmpl(
		"Thanks for supporting {{.CreatorName}}",
		`Your payment of {{.Amount}} {{.Currency}} to {{.CreatorName}} went through.
You are now a tier {{.TierLevel}} supporter.

Reference: {{.TransactionID}}
`),
	models.NotifyNewSupporter: mustTmpl(
		"{{.SupporterName}} just supported you",
		`{{.SupporterName}} sent you {{.Amount}} {{.Currency}}.
{{if .Message}}
"{{.Message}}"
{{end}}
Reference: {{.TransactionID}}
`),
	models.NotifySubscriptionCancelled: mustTmpl(
		"Your membership with {{.CreatorName}} has ended",
		`Your membership with {{.CreatorName}} is no longer active.
{{if .Reason}}Reason: {{.Reason}}
{{end}}`),
	models.NotifyRenewalFailed: mustTmpl(
		"We couldn't renew your membership with {{.CreatorName}}",
		`The latest renewal payment for your membership with {{.CreatorName}} failed.
Please update your payment method to keep access.

Subscription: {{.SubscriptionID}}
`),
}

// Render builds the message for one notification.
func Render(to string, n models.Notification) (Message, error) {
	t, ok := templates[n.NotificationType()]
	if !ok {
		return Message{}, fmt.Errorf("no template for %s", n.NotificationType())
	}
	var subj, body bytes.Buffer
	if err := t.subject.Execute(&subj, n); err != nil {
		return Message{}, fmt.Errorf("render %s subject: %w", n.NotificationType(), err)
	}
	if err := t.body.Execute(&body, n); err != nil {
		return Message{}, fmt.Errorf("render %s body: %w", n.NotificationType(), err)
	}
	return Message{To: to, Subject: subj.String(), Body: body.String()}, nil
}

// mailer отправляет письма со ссылкой сброса пароля.
// ResendSender работает через Resend API, LogSender только пишет событие
// в лог и используется, когда ключ API не задан (local/dev).
package mailer

//go:generate mockgen -source=mailer.go -destination=../../mocks/mock_mailer.go -package=mocks

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v3"

	"github.com/pribylovaa/portal-auth/pkg/log"
	"github.com/pribylovaa/portal-auth/pkg/redact"
)

// Mailer — контракт отправки письма сброса пароля.
type Mailer interface {
	// SendPasswordReset отправляет на email ссылку с токеном сброса.
	SendPasswordReset(ctx context.Context, email, token string) error
}

// ResendSender отправляет письма через Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
	appURL string
}

// NewResendSender создаёт отправителя. httpClient может быть nil.
func NewResendSender(apiKey, from, appURL string, httpClient *http.Client) *ResendSender {
	client := resend.NewClient(apiKey)
	if httpClient != nil {
		client = resend.NewCustomClient(httpClient, apiKey)
	}

	return &ResendSender{
		client: client,
		from:   from,
		appURL: strings.TrimRight(appURL, "/"),
	}
}

// ResetLink строит ссылку на страницу сброса пароля.
func ResetLink(appURL, token string) string {
	return strings.TrimRight(appURL, "/") + "/reset-password?token=" + url.QueryEscape(token)
}

// SendPasswordReset реализует Mailer.
func (s *ResendSender) SendPasswordReset(ctx context.Context, email, token string) error {
	const op = "mailer.resend.SendPasswordReset"

	link := html.EscapeString(ResetLink(s.appURL, token))

	body := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family:Arial,Helvetica,sans-serif;">
  <h2>Password reset</h2>
  <p>We received a request to reset your password. The link is valid for one hour.</p>
  <p><a href="%s">Reset password</a></p>
  <p>If you did not request a reset, ignore this email.</p>
</body>
</html>`, link)

	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{email},
		Subject: "Reset your password",
		Html:    body,
	})
	if err != nil {
		log.From(ctx).Error("password_reset_email_failed",
			slog.String("op", op),
			slog.String("email", redact.Email(email)),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// LogSender ничего не отправляет: только фиксирует событие в логе.
type LogSender struct{}

// SendPasswordReset реализует Mailer.
func (LogSender) SendPasswordReset(ctx context.Context, email, _ string) error {
	log.From(ctx).Info("password_reset_email_skipped",
		slog.String("email", redact.Email(email)),
		slog.String("token", redact.Token()),
	)

	return nil
}

var (
	_ Mailer = (*ResendSender)(nil)
	_ Mailer = LogSender{}
)

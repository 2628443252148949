package notify

import (
	"context"
	"log/slog"
)

// EmailSender covers every outbound email the auth pipeline sends.
// Send is the generic one-time-code path, used by the MFA manager for
// email challenges; it satisfies mfa.Notifier by shape.
type EmailSender interface {
	Send(ctx context.Context, to string, body string) error
	SendPasswordReset(ctx context.Context, to string, token string, appURL string) error
	SendVerification(ctx context.Context, to string, token string, appURL string) error
	SendMagicLink(ctx context.Context, to string, challengeID string, token string, appURL string) error
}

// DevMailer prints emails to stdout (safe for development).
type DevMailer struct {
	Logger *slog.Logger
}

func (m *DevMailer) Send(ctx context.Context, to string, body string) error {
	m.Logger.Info("📧 EMAIL SENT", "to", to, "type", "otp", "body", body)
	return nil
}

func (m *DevMailer) SendPasswordReset(ctx context.Context, to string, token string, appURL string) error {
	link := appURL + "/auth/reset?token=" + token
	m.Logger.Info("📧 EMAIL SENT",
		"to", to,
		"type", "password_reset",
		"token", token,
		"link", link,
	)
	return nil
}

func (m *DevMailer) SendVerification(ctx context.Context, to string, token string, appURL string) error {
	link := appURL + "/auth/verify?token=" + token
	m.Logger.Info("📧 EMAIL SENT",
		"to", to,
		"type", "verification",
		"token", token,
		"link", link,
	)
	return nil
}

func (m *DevMailer) SendMagicLink(ctx context.Context, to string, challengeID string, token string, appURL string) error {
	link := appURL + "/auth/magic-link/verify?challenge_id=" + challengeID + "&token=" + token
	m.Logger.Info("📧 EMAIL SENT",
		"to", to,
		"type", "magic_link",
		"link", link,
	)
	return nil
}

package server

import "log/slog"

// CodeSender delivers a one-time sign-in code to the user.
type CodeSender interface {
	SendCode(email, code string) error
}

// LogCodeSender writes codes to the log instead of sending mail.
// Intended for local development and tests only.
type LogCodeSender struct{}

func (LogCodeSender) SendCode(email, code string) error {
	slog.Info("otp code issued", "email", maskEmail(email), "code", code)
	return nil
}

package auth

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// ResetNotifier delivers a password-reset token to the account holder.
type ResetNotifier interface {
	SendResetToken(ctx context.Context, email, token string, expiresAt time.Time) error
}

// LogNotifier writes reset tokens to the log. It stands in for mail delivery
// in development; the token is logged at debug level only.
type LogNotifier struct {
	Logger *zap.Logger
}

// SendResetToken logs the token.
func (n LogNotifier) SendResetToken(_ context.Context, email, token string, expiresAt time.Time) error {
	n.Logger.Info("password reset requested",
		zap.String("email", email),
		zap.Time("expires_at", expiresAt),
	)
	n.Logger.Debug("password reset token issued",
		zap.String("email", email),
		zap.String("reset_token", token),
	)
	return nil
}

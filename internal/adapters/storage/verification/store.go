package verification

import (
	"context"
	"time"

	domain "academy/internal/domain/verification"
)

// Store persists one-time codes. Only the newest code per email matters.
type Store interface {
	// Latest returns the most recently issued code for the email.
	Latest(ctx context.Context, email string) (domain.Code, error)
	Save(ctx context.Context, value domain.Code) error
	DeleteByEmail(ctx context.Context, email string) error
	// DeleteExpired removes codes that expired and are not locked at cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

package tokengate

import (
	"context"
	"time"
)

// TokenPair is the result of a successful login or rotation. Both tokens
// are signed JWTs; only the refresh token's jti is tracked server-side.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Identity is the verified content of an access token.
type Identity struct {
	SubjectID string
	TokenID   string
	ExpiresAt time.Time
}

// UserRecord is the credential store's view of an account. The engine never
// sees plaintext passwords at rest; PasswordHash is a bcrypt digest.
type UserRecord struct {
	ID           string
	Email        string
	PasswordHash string
	Verified     bool
	CreatedAt    time.Time
}

// CredentialStore is the engine's view of durable account storage.
// Implementations must return ErrUserNotFound for missing accounts and
// ErrAccountExists from Create on identifier collisions.
type CredentialStore interface {
	Create(ctx context.Context, email, passwordHash string) (*UserRecord, error)
	FindByEmail(ctx context.Context, email string) (*UserRecord, error)
	FindByID(ctx context.Context, id string) (*UserRecord, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkVerified(ctx context.Context, id string) error
}

// Mailer delivers verification codes and reset links. Implementations
// should be fast or internally queued; the engine treats delivery failure
// on the reset path as non-fatal to avoid leaking account existence.
type Mailer interface {
	SendVerificationCode(ctx context.Context, email, code string) error
	SendPasswordResetLink(ctx context.Context, email, link string) error
}

// CleanupReport summarizes one sweep over the token store.
type CleanupReport struct {
	PurgedTokens int
	Started      time.Time
	Duration     time.Duration
}

package tokengate

import (
	"context"
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/audit"
	"github.com/tokengate/tokengate/internal/otp"
	"github.com/tokengate/tokengate/internal/rate"
	"github.com/tokengate/tokengate/internal/tokenstore"
	"github.com/tokengate/tokengate/jwt"
)

// Challenge purposes used with the challenge store.
const (
	purposeVerifyEmail   = "verify-email"
	purposeResetPassword = "reset-password"
)

// Engine is the authentication core. All methods are safe for concurrent
// use; shared state lives in Redis and the credential store, never in the
// Engine itself.
type Engine struct {
	config     Config
	codec      *jwt.Manager
	tokens     *tokenstore.Store
	challenges *otp.Store
	limiter    *rate.Limiter
	creds      CredentialStore
	mailer     Mailer
	audit      *audit.Dispatcher
}

// Close flushes the audit dispatcher. The Engine must not be used after
// Close.
func (e *Engine) Close() {
	e.audit.Close()
}

// AuditDropped reports how many security events were discarded because the
// audit buffer was full.
func (e *Engine) AuditDropped() uint64 {
	return e.audit.Dropped()
}

func (e *Engine) emit(event audit.Event) {
	event.Timestamp = time.Now()
	e.audit.Emit(event)
}

// mintPair issues a fresh access/refresh pair and records the refresh jti.
// Recording is fail-closed: if the store cannot acknowledge the write, the
// pair is not returned.
func (e *Engine) mintPair(ctx context.Context, subjectID string) (*TokenPair, error) {
	now := time.Now()

	access, _, err := e.codec.Mint(subjectID, jwt.KindAccess, e.config.JWT.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	refresh, refreshID, err := e.codec.Mint(subjectID, jwt.KindRefresh, e.config.JWT.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	refreshExpiry := now.Add(e.config.JWT.RefreshTTL)
	if err := e.tokens.Record(ctx, refreshID, subjectID, refreshExpiry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(e.config.JWT.AccessTTL),
		RefreshExpiresAt: refreshExpiry,
	}, nil
}

// allow applies one rate limit, failing closed when the limiter cannot
// answer.
func (e *Engine) allow(ctx context.Context, scope string, limit Limit) error {
	ok, err := e.limiter.Allow(ctx, scope, limit.Max, limit.Window)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		return ErrRateLimited
	}
	return nil
}

// resetLimit clears a counter after a successful check so honest retries do
// not inherit the failures that preceded them. Best effort: a counter that
// survives only over-throttles.
func (e *Engine) resetLimit(ctx context.Context, scope string, limit Limit) {
	if limit.Max <= 0 {
		return
	}
	_ = e.limiter.Reset(ctx, scope, limit.Window)
}

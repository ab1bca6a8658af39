package tokengate

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokengate/tokengate/internal/audit"
	"github.com/tokengate/tokengate/jwt"
)

// Logout blacklists the presented refresh token. It is idempotent: logging
// out an already-blacklisted or already-expired token succeeds, because the
// caller's goal (that token never authenticates again) is already met.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	claims, err := e.codec.VerifyKind(refreshToken, jwt.KindRefresh)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil
		}
		return ErrRefreshInvalid
	}

	if _, err := e.tokens.Blacklist(ctx, claims.TokenID(), claims.ExpiresAt.Time); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emit(audit.Event{
		Type:      audit.TypeLogout,
		SubjectID: claims.SubjectID(),
		TokenID:   claims.TokenID(),
		Success:   true,
	})
	return nil
}

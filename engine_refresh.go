package tokengate

import (
	"context"
	"errors"
	"fmt"

	"github.com/tokengate/tokengate/internal/audit"
	"github.com/tokengate/tokengate/internal/tokenstore"
	"github.com/tokengate/tokengate/jwt"
)

// Refresh rotates a refresh token: the presented token is blacklisted and a
// fresh pair is minted. Presenting an already-rotated token is treated as
// reuse, which revokes every outstanding token for the subject.
//
// Rotation is single-winner: when the same token is presented concurrently,
// exactly one caller receives a new pair and the rest get ErrRefreshReuse.
func (e *Engine) Refresh(ctx context.Context, refreshToken, ip string) (*TokenPair, error) {
	if err := e.allow(ctx, "refresh:"+ip, e.config.RateLimit.Refresh); err != nil {
		return nil, err
	}

	claims, err := e.codec.VerifyKind(refreshToken, jwt.KindRefresh)
	if err != nil {
		// Malformed, forged, expired, or wrong kind: all collapse into one
		// answer.
		return nil, ErrRefreshInvalid
	}

	status, err := e.tokens.Status(ctx, claims.TokenID())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	switch status {
	case tokenstore.StatusUnknown:
		return nil, ErrRefreshInvalid
	case tokenstore.StatusBlacklisted:
		return nil, e.handleReuse(ctx, claims, ip)
	}

	won, err := e.tokens.Blacklist(ctx, claims.TokenID(), claims.ExpiresAt.Time)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !won {
		// A concurrent rotation got there first.
		return nil, e.handleReuse(ctx, claims, ip)
	}

	pair, err := e.mintPair(ctx, claims.SubjectID())
	if err != nil {
		// The old token is already blacklisted; the client must log in
		// again. Better a forced login than a resurrectable token.
		return nil, err
	}

	e.emit(audit.Event{
		Type:      audit.TypeRefresh,
		SubjectID: claims.SubjectID(),
		TokenID:   claims.TokenID(),
		IP:        ip,
		Success:   true,
	})
	return pair, nil
}

// handleReuse reacts to a blacklisted refresh token being replayed: record
// the security event and revoke everything the subject still holds, since
// the token was either stolen or replayed from a compromised client.
func (e *Engine) handleReuse(ctx context.Context, claims *jwt.Claims, ip string) error {
	revoked, err := e.tokens.BlacklistAllForSubject(ctx, claims.SubjectID())

	event := audit.Event{
		Type:      audit.TypeRefreshReuse,
		SubjectID: claims.SubjectID(),
		TokenID:   claims.TokenID(),
		IP:        ip,
		Metadata:  map[string]string{"revoked": fmt.Sprint(revoked)},
	}
	if err != nil {
		event.Error = err.Error()
	}
	e.emit(event)

	return ErrRefreshReuse
}

// ValidateAccess verifies an access token and returns its identity. This is
// a pure codec operation: access tokens are stateless and no store is
// consulted.
func (e *Engine) ValidateAccess(accessToken string) (*Identity, error) {
	claims, err := e.codec.VerifyKind(accessToken, jwt.KindAccess)
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrTokenMalformed
		}
	}

	return &Identity{
		SubjectID: claims.SubjectID(),
		TokenID:   claims.TokenID(),
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

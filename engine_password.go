package tokengate

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/tokengate/tokengate/internal/audit"
	"github.com/tokengate/tokengate/internal/otp"
)

// checkPasswordPolicy enforces the configured minimum and bcrypt's own
// 72-byte input ceiling.
func (e *Engine) checkPasswordPolicy(password string) error {
	if len(password) < e.config.Password.MinLength || len(password) > 72 {
		return ErrPasswordPolicy
	}
	return nil
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every outstanding refresh token for the subject so stolen
// sessions do not survive the change.
func (e *Engine) ChangePassword(ctx context.Context, subjectID, currentPassword, newPassword string) error {
	user, err := e.creds.FindByID(ctx, subjectID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrCredentialInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return ErrCredentialInvalid
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(newPassword)) == nil {
		return ErrPasswordReuse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), e.config.Password.BcryptCost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.creds.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked, err := e.tokens.BlacklistAllForSubject(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emit(audit.Event{
		Type:      audit.TypePasswordChanged,
		SubjectID: user.ID,
		Success:   true,
		Metadata:  map[string]string{"revoked": fmt.Sprint(revoked)},
	})
	return nil
}

// RequestPasswordReset issues a reset link for the account, if it exists.
// The answer is identical either way: the endpoint must not confirm which
// identifiers have accounts. Delivery failure is likewise swallowed, for
// the same reason, and surfaced through the audit stream instead.
func (e *Engine) RequestPasswordReset(ctx context.Context, email, ip string) error {
	if err := e.allow(ctx, "pwreset:ip:"+ip, e.config.RateLimit.ResetRequest); err != nil {
		return err
	}
	if err := e.allow(ctx, "pwreset:id:"+email, e.config.RateLimit.ResetRequest); err != nil {
		return err
	}

	user, err := e.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	secret, err := otp.NewTokenSecret()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec := &otp.Record{
		CodeHash:  otp.HashCode(secret),
		ExpiresAt: time.Now().Add(e.config.PasswordReset.TTL).Unix(),
	}
	if err := e.challenges.Save(ctx, user.ID, purposeResetPassword, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	uid := base64.RawURLEncoding.EncodeToString([]byte(user.ID))
	link := strings.TrimRight(e.config.PasswordReset.LinkBaseURL, "/") + "/" + uid + "/" + secret

	event := audit.Event{
		Type:      audit.TypePasswordReset,
		SubjectID: user.ID,
		IP:        ip,
		Metadata:  map[string]string{"stage": "requested"},
	}
	if err := e.mailer.SendPasswordResetLink(ctx, user.Email, link); err != nil {
		event.Error = err.Error()
	} else {
		event.Success = true
	}
	e.emit(event)

	return nil
}

// ConfirmPasswordReset consumes a reset link and sets the new password.
// Wrong tokens count against the challenge's attempt cap; the challenge is
// single-use and every outstanding refresh token is revoked on success.
//
// The reuse check runs after the token is consumed: checking it earlier
// would let an attacker probe the current password with an invalid link.
func (e *Engine) ConfirmPasswordReset(ctx context.Context, uid, token, newPassword string) error {
	rawID, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil || len(rawID) == 0 {
		return ErrResetInvalid
	}

	user, err := e.creds.FindByID(ctx, string(rawID))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrResetInvalid
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	err = e.challenges.Consume(ctx, user.ID, purposeResetPassword, otp.HashCode(token), e.config.PasswordReset.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, otp.ErrNotFound), errors.Is(err, otp.ErrExpired), errors.Is(err, otp.ErrMismatch):
		return ErrResetInvalid
	case errors.Is(err, otp.ErrAttemptsExceeded):
		return ErrResetAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(newPassword)) == nil {
		return ErrPasswordReuse
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), e.config.Password.BcryptCost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := e.creds.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	revoked, err := e.tokens.BlacklistAllForSubject(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emit(audit.Event{
		Type:      audit.TypePasswordReset,
		SubjectID: user.ID,
		Success:   true,
		Metadata:  map[string]string{"stage": "confirmed", "revoked": fmt.Sprint(revoked)},
	})
	return nil
}

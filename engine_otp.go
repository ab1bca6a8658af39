package tokengate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokengate/tokengate/internal/audit"
	"github.com/tokengate/tokengate/internal/otp"
)

// issueVerification generates a fresh code, stores it (replacing any prior
// one), arms the resend cooldown, and mails the code. Mail failure is
// audited but not fatal: the code exists and a resend can redeliver it.
func (e *Engine) issueVerification(ctx context.Context, user *UserRecord, resends uint8) error {
	code, err := otp.NewNumericCode(e.config.Verification.Digits)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	rec := &otp.Record{
		CodeHash:  otp.HashCode(code),
		ExpiresAt: time.Now().Add(e.config.Verification.TTL).Unix(),
		Resends:   resends,
	}
	if err := e.challenges.Save(ctx, user.ID, purposeVerifyEmail, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if _, err := e.challenges.StartCooldown(ctx, user.ID, purposeVerifyEmail, e.config.Verification.ResendCooldown); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.mailer.SendVerificationCode(ctx, user.Email, code); err != nil {
		e.emit(audit.Event{
			Type:      audit.TypeOTPIssued,
			SubjectID: user.ID,
			Error:     err.Error(),
		})
		return nil
	}

	e.emit(audit.Event{
		Type:      audit.TypeOTPIssued,
		SubjectID: user.ID,
		Success:   true,
	})
	return nil
}

// VerifyEmail consumes a verification code and marks the account verified.
// Codes are single-use; wrong guesses count against a cap, and hitting the
// cap locks the subject out of verification for a window.
func (e *Engine) VerifyEmail(ctx context.Context, email, code string) error {
	user, err := e.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrOTPNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.Verified {
		return ErrAlreadyVerified
	}

	locked, err := e.challenges.IsLockedOut(ctx, user.ID, purposeVerifyEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if locked {
		return ErrOTPLockedOut
	}

	err = e.challenges.Consume(ctx, user.ID, purposeVerifyEmail, otp.HashCode(code), e.config.Verification.MaxAttempts)
	switch {
	case err == nil:
	case errors.Is(err, otp.ErrNotFound):
		return ErrOTPNotFound
	case errors.Is(err, otp.ErrExpired):
		return ErrOTPExpired
	case errors.Is(err, otp.ErrMismatch):
		return ErrOTPMismatch
	case errors.Is(err, otp.ErrAttemptsExceeded):
		if lockErr := e.challenges.Lockout(ctx, user.ID, purposeVerifyEmail, e.config.Verification.LockoutDuration); lockErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, lockErr)
		}
		e.emit(audit.Event{
			Type:      audit.TypeOTPLockout,
			SubjectID: user.ID,
			Error:     "verification attempts exceeded",
		})
		return ErrOTPAttemptsExceeded
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if err := e.creds.MarkVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	e.emit(audit.Event{
		Type:      audit.TypeOTPVerified,
		SubjectID: user.ID,
		Success:   true,
	})
	return nil
}

// ResendVerification issues a replacement code, subject to the resend
// cooldown and a cap on total resends. Exhausting the cap locks the
// subject out. Unknown identifiers succeed silently so the endpoint cannot
// be used to probe for accounts.
func (e *Engine) ResendVerification(ctx context.Context, email string) error {
	user, err := e.creds.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if user.Verified {
		return ErrAlreadyVerified
	}

	locked, err := e.challenges.IsLockedOut(ctx, user.ID, purposeVerifyEmail)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if locked {
		return ErrOTPLockedOut
	}

	resends := uint8(0)
	rec, err := e.challenges.Get(ctx, user.ID, purposeVerifyEmail)
	switch {
	case err == nil:
		resends = rec.Resends
	case errors.Is(err, otp.ErrNotFound):
		// No outstanding code: this resend behaves like a first issue.
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if int(resends) >= e.config.Verification.MaxResends {
		if lockErr := e.challenges.Lockout(ctx, user.ID, purposeVerifyEmail, e.config.Verification.LockoutDuration); lockErr != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, lockErr)
		}
		e.emit(audit.Event{
			Type:      audit.TypeOTPLockout,
			SubjectID: user.ID,
			Error:     "resend cap exhausted",
		})
		return ErrOTPLockedOut
	}

	armed, err := e.challenges.StartCooldown(ctx, user.ID, purposeVerifyEmail, e.config.Verification.ResendCooldown)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !armed {
		return ErrRateLimited
	}

	return e.issueVerification(ctx, user, resends+1)
}

package tokengate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tokengate/tokengate/internal/audit"
)

func TestVerifyEmailFlow(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	code := h.mailer.lastCode(t)
	require.Len(t, code, 6)

	require.NoError(t, h.engine.VerifyEmail(ctx, "alice@example.test", code))

	user, err := h.creds.FindByEmail(ctx, "alice@example.test")
	require.NoError(t, err)
	require.True(t, user.Verified)

	// Codes are single-use.
	err = h.engine.VerifyEmail(ctx, "alice@example.test", code)
	require.ErrorIs(t, err, ErrAlreadyVerified)
}

func TestVerifyEmailWrongCode(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	err = h.engine.VerifyEmail(ctx, "alice@example.test", "000000")
	require.ErrorIs(t, err, ErrOTPMismatch)

	// The right code still works while attempts remain.
	require.NoError(t, h.engine.VerifyEmail(ctx, "alice@example.test", h.mailer.lastCode(t)))
}

func TestVerifyEmailAttemptCapLocksOut(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		err := h.engine.VerifyEmail(ctx, "alice@example.test", "000000")
		require.ErrorIs(t, err, ErrOTPMismatch)
	}

	err = h.engine.VerifyEmail(ctx, "alice@example.test", "000000")
	require.ErrorIs(t, err, ErrOTPAttemptsExceeded)
	h.waitForEvent(t, audit.TypeOTPLockout)

	// Locked out: even the correct code is refused, as is a resend.
	err = h.engine.VerifyEmail(ctx, "alice@example.test", h.mailer.lastCode(t))
	require.ErrorIs(t, err, ErrOTPLockedOut)
	err = h.engine.ResendVerification(ctx, "alice@example.test")
	require.ErrorIs(t, err, ErrOTPLockedOut)

	// The lockout expires.
	h.redis.FastForward(21 * time.Minute)
	err = h.engine.ResendVerification(ctx, "alice@example.test")
	require.NoError(t, err)
	require.NoError(t, h.engine.VerifyEmail(ctx, "alice@example.test", h.mailer.lastCode(t)))
}

func TestVerifyEmailExpiredCode(t *testing.T) {
	h := newTestEngine(t, func(cfg *Config) {
		cfg.Verification.TTL = time.Second
	})
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	code := h.mailer.lastCode(t)

	time.Sleep(2100 * time.Millisecond)

	err = h.engine.VerifyEmail(ctx, "alice@example.test", code)
	require.ErrorIs(t, err, ErrOTPExpired)
}

func TestVerifyEmailUnknownAccount(t *testing.T) {
	h := newTestEngine(t)
	err := h.engine.VerifyEmail(context.Background(), "nobody@example.test", "123456")
	require.ErrorIs(t, err, ErrOTPNotFound)
}

func TestResendInvalidatesPriorCode(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	first := h.mailer.lastCode(t)

	h.redis.FastForward(2 * time.Minute)
	require.NoError(t, h.engine.ResendVerification(ctx, "alice@example.test"))
	second := h.mailer.lastCode(t)

	if first != second {
		err = h.engine.VerifyEmail(ctx, "alice@example.test", first)
		require.ErrorIs(t, err, ErrOTPMismatch)
	}
	require.NoError(t, h.engine.VerifyEmail(ctx, "alice@example.test", second))
}

func TestResendCooldown(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	// The cooldown armed at signup is still running.
	err = h.engine.ResendVerification(ctx, "alice@example.test")
	require.ErrorIs(t, err, ErrRateLimited)

	h.redis.FastForward(2 * time.Minute)
	require.NoError(t, h.engine.ResendVerification(ctx, "alice@example.test"))
}

func TestResendCapLocksOut(t *testing.T) {
	h := newTestEngine(t)
	ctx := context.Background()

	_, err := h.engine.Register(ctx, RegisterInput{
		Email:    "alice@example.test",
		Password: "correct horse battery",
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		h.redis.FastForward(2 * time.Minute)
		require.NoError(t, h.engine.ResendVerification(ctx, "alice@example.test"))
	}

	h.redis.FastForward(2 * time.Minute)
	err = h.engine.ResendVerification(ctx, "alice@example.test")
	require.ErrorIs(t, err, ErrOTPLockedOut)
}

func TestResendUnknownAccountIsSilent(t *testing.T) {
	h := newTestEngine(t)
	require.NoError(t, h.engine.ResendVerification(context.Background(), "nobody@example.test"))
}

package otp

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, "tg", time.Hour), mr
}

func saveChallenge(t *testing.T, store *Store, subject, purpose, code string, ttl time.Duration) {
	t.Helper()
	err := store.Save(context.Background(), subject, purpose, &Record{
		CodeHash:  HashCode(code),
		ExpiresAt: store.now().Add(ttl).Unix(),
	})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestNewNumericCode(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9]{6}$`)
	for i := 0; i < 50; i++ {
		code, err := NewNumericCode(6)
		if err != nil {
			t.Fatalf("NewNumericCode failed: %v", err)
		}
		if !pattern.MatchString(code) {
			t.Fatalf("unexpected code shape: %q", code)
		}
	}

	if _, err := NewNumericCode(2); err == nil {
		t.Fatal("expected error for too-short code")
	}
}

func TestNewTokenSecret(t *testing.T) {
	a, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("NewTokenSecret failed: %v", err)
	}
	b, err := NewTokenSecret()
	if err != nil {
		t.Fatalf("NewTokenSecret failed: %v", err)
	}
	if a == b {
		t.Fatal("secrets must not repeat")
	}
	if len(a) != 43 {
		t.Fatalf("unexpected secret length: %d", len(a))
	}
}

func TestConsumeSuccess(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveChallenge(t, store, "user-1", "verify-email", "123456", 5*time.Minute)

	if err := store.Consume(ctx, "user-1", "verify-email", HashCode("123456"), 5); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	// Single use: the challenge is gone.
	err := store.Consume(ctx, "user-1", "verify-email", HashCode("123456"), 5)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after consume, got %v", err)
	}
}

func TestConsumeMismatchCountsAttempts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveChallenge(t, store, "user-1", "verify-email", "123456", 5*time.Minute)

	for i := 0; i < 4; i++ {
		err := store.Consume(ctx, "user-1", "verify-email", HashCode("000000"), 5)
		if !errors.Is(err, ErrMismatch) {
			t.Fatalf("guess %d: expected ErrMismatch, got %v", i+1, err)
		}
	}

	// Fifth failure burns the challenge.
	err := store.Consume(ctx, "user-1", "verify-email", HashCode("000000"), 5)
	if !errors.Is(err, ErrAttemptsExceeded) {
		t.Fatalf("expected ErrAttemptsExceeded, got %v", err)
	}

	// Even the right code is now refused.
	err = store.Consume(ctx, "user-1", "verify-email", HashCode("123456"), 5)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after burn, got %v", err)
	}
}

func TestConsumeExpired(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveChallenge(t, store, "user-1", "verify-email", "123456", 5*time.Minute)

	// Move past the challenge window but inside the retention slack.
	store.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	err := store.Consume(ctx, "user-1", "verify-email", HashCode("123456"), 5)
	if !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestSaveReplacesPriorChallenge(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveChallenge(t, store, "user-1", "verify-email", "111111", 5*time.Minute)
	saveChallenge(t, store, "user-1", "verify-email", "222222", 5*time.Minute)

	err := store.Consume(ctx, "user-1", "verify-email", HashCode("111111"), 5)
	if !errors.Is(err, ErrMismatch) {
		t.Fatalf("old code must no longer match, got %v", err)
	}
	if err := store.Consume(ctx, "user-1", "verify-email", HashCode("222222"), 5); err != nil {
		t.Fatalf("new code should verify: %v", err)
	}
}

func TestPurposesAreIndependent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	saveChallenge(t, store, "user-1", "verify-email", "123456", 5*time.Minute)
	saveChallenge(t, store, "user-1", "reset-password", "abcdef", 15*time.Minute)

	if err := store.Consume(ctx, "user-1", "verify-email", HashCode("123456"), 5); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	// The reset challenge is untouched.
	if err := store.Consume(ctx, "user-1", "reset-password", HashCode("abcdef"), 5); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
}

func TestLockout(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	locked, err := store.IsLockedOut(ctx, "user-1", "verify-email")
	if err != nil {
		t.Fatalf("IsLockedOut failed: %v", err)
	}
	if locked {
		t.Fatal("fresh pair must not be locked out")
	}

	if err := store.Lockout(ctx, "user-1", "verify-email", 20*time.Minute); err != nil {
		t.Fatalf("Lockout failed: %v", err)
	}

	locked, err = store.IsLockedOut(ctx, "user-1", "verify-email")
	if err != nil {
		t.Fatalf("IsLockedOut failed: %v", err)
	}
	if !locked {
		t.Fatal("expected lockout to be active")
	}

	mr.FastForward(21 * time.Minute)

	locked, err = store.IsLockedOut(ctx, "user-1", "verify-email")
	if err != nil {
		t.Fatalf("IsLockedOut failed: %v", err)
	}
	if locked {
		t.Fatal("lockout must expire")
	}
}

func TestStartCooldown(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	ok, err := store.StartCooldown(ctx, "user-1", "verify-email", time.Minute)
	if err != nil {
		t.Fatalf("StartCooldown failed: %v", err)
	}
	if !ok {
		t.Fatal("first cooldown should arm")
	}

	ok, err = store.StartCooldown(ctx, "user-1", "verify-email", time.Minute)
	if err != nil {
		t.Fatalf("StartCooldown failed: %v", err)
	}
	if ok {
		t.Fatal("second cooldown inside the window must be refused")
	}

	mr.FastForward(2 * time.Minute)

	ok, err = store.StartCooldown(ctx, "user-1", "verify-email", time.Minute)
	if err != nil {
		t.Fatalf("StartCooldown failed: %v", err)
	}
	if !ok {
		t.Fatal("cooldown should re-arm after expiry")
	}
}

func TestRecordCodecRoundtrip(t *testing.T) {
	rec := &Record{
		CodeHash:  HashCode("123456"),
		ExpiresAt: 1700000000,
		Attempts:  3,
		Resends:   2,
	}

	decoded, err := decodeRecord(encodeRecord(rec))
	if err != nil {
		t.Fatalf("decodeRecord failed: %v", err)
	}
	if *decoded != *rec {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", decoded, rec)
	}

	if _, err := decodeRecord([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated record")
	}
}

// Package otp stores short-lived verification challenges in Redis: the
// numeric codes mailed for email verification and the opaque secrets
// embedded in password reset links. A challenge is bound to one subject and
// one purpose, carries a hashed code, and burns after a bounded number of
// failed guesses.
package otp

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
)

// Challenge outcomes. Expired is distinct from NotFound: a challenge that
// outlived its window is reported as such for as long as the retention
// slack keeps the record around.
var (
	ErrNotFound         = errors.New("challenge not found")
	ErrExpired          = errors.New("challenge expired")
	ErrMismatch         = errors.New("challenge code mismatch")
	ErrAttemptsExceeded = errors.New("challenge attempts exceeded")
	ErrUnavailable      = errors.New("challenge store unavailable")
)

// maxConsumeRetries bounds the optimistic transaction loop in Consume.
const maxConsumeRetries = 5

// NewNumericCode returns a uniformly random code of the given number of
// decimal digits, zero-padded.
func NewNumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", errors.New("unsupported code length")
	}

	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// NewTokenSecret returns a 256-bit URL-safe random secret, used as the
// token segment of password reset links.
func NewTokenSecret() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashCode is how challenge codes are stored: only the digest ever reaches
// Redis.
func HashCode(code string) [32]byte {
	return sha256.Sum256([]byte(code))
}

// Record is the stored state of one challenge.
type Record struct {
	CodeHash  [32]byte
	ExpiresAt int64
	Attempts  uint16
	Resends   uint8
}

// Store keeps challenges keyed by (subject, purpose). Issuing a new
// challenge for the same pair overwrites the old one, so at most one code
// per purpose is valid at a time.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
	now       func() time.Time
}

// New creates a Store. retention is how long an expired challenge stays
// readable (so verification can answer "expired" instead of "unknown")
// before the key's TTL removes it.
func New(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "tg"
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Store{
		redis:     client,
		prefix:    prefix,
		retention: retention,
		now:       time.Now,
	}
}

func (s *Store) challengeKey(subjectID, purpose string) string {
	return s.prefix + ":ch:" + purpose + ":" + subjectID
}

func (s *Store) lockoutKey(subjectID, purpose string) string {
	return s.prefix + ":lk:" + purpose + ":" + subjectID
}

func (s *Store) cooldownKey(subjectID, purpose string) string {
	return s.prefix + ":cd:" + purpose + ":" + subjectID
}

// Save stores rec, replacing any previous challenge for the pair.
func (s *Store) Save(ctx context.Context, subjectID, purpose string, rec *Record) error {
	encoded := encodeRecord(rec)

	ttl := time.Unix(rec.ExpiresAt, 0).Sub(s.now()) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.challengeKey(subjectID, purpose), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get returns the stored challenge or ErrNotFound.
func (s *Store) Get(ctx context.Context, subjectID, purpose string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.challengeKey(subjectID, purpose)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Consume verifies codeHash against the stored challenge. On success the
// challenge is deleted. On mismatch the attempt counter is incremented;
// reaching maxAttempts burns the challenge and reports ErrAttemptsExceeded.
// The read-check-write runs under WATCH so concurrent guesses cannot share
// an attempt slot.
func (s *Store) Consume(ctx context.Context, subjectID, purpose string, codeHash [32]byte, maxAttempts int) error {
	key := s.challengeKey(subjectID, purpose)

	for i := 0; i < maxConsumeRetries; i++ {
		var outcome error

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					outcome = ErrNotFound
					return nil
				}
				return err
			}

			rec, err := decodeRecord(data)
			if err != nil {
				outcome = ErrNotFound
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if s.now().Unix() > rec.ExpiresAt {
				outcome = ErrExpired
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			if subtle.ConstantTimeCompare(rec.CodeHash[:], codeHash[:]) == 1 {
				outcome = nil
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			rec.Attempts++
			if int(rec.Attempts) >= maxAttempts {
				outcome = ErrAttemptsExceeded
				_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return err
			}

			outcome = ErrMismatch
			ttl := time.Unix(rec.ExpiresAt, 0).Sub(s.now()) + s.retention
			if ttl < time.Second {
				ttl = time.Second
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encodeRecord(rec), ttl)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return outcome
	}

	return fmt.Errorf("%w: consume contention", ErrUnavailable)
}

// Delete removes the challenge if present.
func (s *Store) Delete(ctx context.Context, subjectID, purpose string) error {
	if err := s.redis.Del(ctx, s.challengeKey(subjectID, purpose)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Lockout blocks the pair for d. While locked out, issuance and
// verification are both refused by the caller.
func (s *Store) Lockout(ctx context.Context, subjectID, purpose string, d time.Duration) error {
	if err := s.redis.Set(ctx, s.lockoutKey(subjectID, purpose), "1", d).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IsLockedOut reports whether the pair is currently locked out.
func (s *Store) IsLockedOut(ctx context.Context, subjectID, purpose string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.lockoutKey(subjectID, purpose)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n > 0, nil
}

// StartCooldown arms the resend cooldown for the pair. Returns false when a
// cooldown is already running, in which case the caller must refuse the
// resend.
func (s *Store) StartCooldown(ctx context.Context, subjectID, purpose string, d time.Duration) (bool, error) {
	ok, err := s.redis.SetNX(ctx, s.cooldownKey(subjectID, purpose), "1", d).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

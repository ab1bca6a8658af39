package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps every Redis transport failure so callers can keep
// infrastructure trouble distinct from definitive auth rejections.
var ErrUnavailable = errors.New("token store unavailable")

// Status is the store's answer for a refresh token id.
type Status int

const (
	// StatusUnknown: no record. An unknown id must never rotate; it was
	// either never recorded (fail-closed login) or already purged.
	StatusUnknown Status = iota
	// StatusLive: recorded and not blacklisted.
	StatusLive
	// StatusBlacklisted: must never validate again, regardless of signature
	// or expiry.
	StatusBlacklisted
)

// blacklistScript flips the blacklist flag on a record atomically, creating
// a blacklist-only record when the id is unknown. Doing this server-side
// makes rotation a single-winner race: exactly one concurrent caller sees
// the live→blacklisted transition.
//
// KEYS[1] = record key
// ARGV[1] = now (unix seconds)
// ARGV[2] = token expiry (unix seconds)
// ARGV[3] = retention slack (seconds)
//
// Returns: 0 created new blacklist-only record, 1 transitioned
// live→blacklisted, 2 already blacklisted.
var blacklistScript = redis.NewScript(`
local function write_be64(n)
  local bytes = {}
  for i = 8, 1, -1 do
    bytes[i] = string.char(n % 256)
    n = math.floor(n / 256)
  end
  return table.concat(bytes)
end

local key = KEYS[1]
local now = tonumber(ARGV[1])
local expires = tonumber(ARGV[2])
local retention = tonumber(ARGV[3])

local data = redis.call('GET', key)
if not data then
  local rec = string.char(1, 1) .. write_be64(expires) .. write_be64(now) .. string.char(0, 0)
  local ttl = expires + retention - now
  if ttl < 1 then
    ttl = 1
  end
  redis.call('SET', key, rec, 'EX', ttl)
  return 0
end

if string.byte(data, 2) == 1 then
  return 2
end

local rec = string.sub(data, 1, 1) .. string.char(1) .. string.sub(data, 3, 10) .. write_be64(now) .. string.sub(data, 19)
local ttl = redis.call('TTL', key)
if ttl > 0 then
  redis.call('SET', key, rec, 'EX', ttl)
else
  redis.call('SET', key, rec)
end
return 1
`)

// Store persists refresh token records and blacklist entries in Redis.
// Every record carries its own expiry so the cleanup sweep can purge dead
// entries without consulting the codec; the Redis TTL (expiry + retention)
// is only a backstop against a sweep that never runs.
type Store struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

// New creates a Store. retention is how long records outlive their token's
// expiry before the TTL backstop removes them even without a sweep.
func New(client redis.UniversalClient, prefix string, retention time.Duration) *Store {
	if prefix == "" {
		prefix = "tg"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &Store{
		redis:     client,
		prefix:    prefix,
		retention: retention,
	}
}

func (s *Store) recordKey(jti string) string {
	return s.prefix + ":rt:" + jti
}

func (s *Store) subjectKey(subjectID string) string {
	return s.prefix + ":sub:" + subjectID
}

// Record registers a newly issued refresh token id as live and indexes it
// under its subject so a password change can revoke every outstanding id.
func (s *Store) Record(ctx context.Context, jti, subjectID string, expiresAt time.Time) error {
	encoded, err := encodeRecord(&record{
		ExpiresAt: expiresAt.Unix(),
		SubjectID: subjectID,
	})
	if err != nil {
		return err
	}

	ttl := time.Until(expiresAt) + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}

	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, s.recordKey(jti), encoded, ttl)
	pipe.SAdd(ctx, s.subjectKey(subjectID), jti)
	// The index must not outlive its members: give it a TTL covering the
	// newest record, extending but never shortening what is already there.
	pipe.ExpireNX(ctx, s.subjectKey(subjectID), ttl)
	pipe.ExpireGT(ctx, s.subjectKey(subjectID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Status reports whether a refresh token id is live, blacklisted, or
// unknown. Blacklist writes are immediately visible to every caller:
// both paths go through the same Redis key.
func (s *Store) Status(ctx context.Context, jti string) (Status, error) {
	data, err := s.redis.Get(ctx, s.recordKey(jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StatusUnknown, nil
		}
		return StatusUnknown, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		return StatusUnknown, nil
	}
	if rec.Blacklisted {
		return StatusBlacklisted, nil
	}
	return StatusLive, nil
}

// Blacklist marks a refresh token id as never-again-valid. It is idempotent
// and accepts unknown ids (a blacklist-only entry is created so the id can
// not be replayed later). won reports whether this call performed the
// live→blacklisted transition; during rotation only the winner mints a
// replacement pair.
func (s *Store) Blacklist(ctx context.Context, jti string, expiresAt time.Time) (won bool, err error) {
	now := time.Now()
	res, err := blacklistScript.Run(ctx, s.redis,
		[]string{s.recordKey(jti)},
		now.Unix(), expiresAt.Unix(), int64(s.retention.Seconds()),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return res == 1, nil
}

// BlacklistAllForSubject blacklists every outstanding refresh token id
// recorded for the subject. Returns how many live ids were revoked.
func (s *Store) BlacklistAllForSubject(ctx context.Context, subjectID string) (int, error) {
	ids, err := s.redis.SMembers(ctx, s.subjectKey(subjectID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	revoked := 0
	for _, jti := range ids {
		exists, err := s.redis.Exists(ctx, s.recordKey(jti)).Result()
		if err != nil {
			return revoked, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if exists == 0 {
			// The TTL backstop already collected the record; the id only
			// lingers in the index.
			s.redis.SRem(ctx, s.subjectKey(subjectID), jti)
			continue
		}
		won, err := s.Blacklist(ctx, jti, time.Now().Add(s.retention))
		if err != nil {
			return revoked, err
		}
		if won {
			revoked++
		}
	}
	return revoked, nil
}

// PurgeExpired removes records whose embedded expiry has passed and prunes
// the subject indexes. Safe to run concurrently with live traffic and with
// itself: deletion goes through Redis's own atomic DEL/SREM, and an entry
// deleted by a racing sweep is simply not counted twice.
func (s *Store) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	purged := 0
	nowUnix := now.Unix()

	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":rt:*", 256).Result()
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, key := range keys {
			data, err := s.redis.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}

			rec, err := decodeRecord(data)
			if err != nil {
				// Unreadable record: drop it rather than carry it forever.
				if s.redis.Del(ctx, key).Val() > 0 {
					purged++
				}
				continue
			}
			if rec.ExpiresAt > nowUnix {
				continue
			}

			deleted, err := s.redis.Del(ctx, key).Result()
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			if deleted > 0 {
				purged++
			}
			if rec.SubjectID != "" {
				jti := key[len(s.prefix+":rt:"):]
				s.redis.SRem(ctx, s.subjectKey(rec.SubjectID), jti)
			}
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	// Second phase: drop index members whose record was collected by the
	// TTL backstop rather than by this sweep. Removing the last member
	// deletes the set itself.
	var subCursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, subCursor, s.prefix+":sub:*", 256).Result()
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}

		for _, key := range keys {
			ids, err := s.redis.SMembers(ctx, key).Result()
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
			}
			for _, jti := range ids {
				exists, err := s.redis.Exists(ctx, s.recordKey(jti)).Result()
				if err != nil {
					return purged, fmt.Errorf("%w: %v", ErrUnavailable, err)
				}
				if exists == 0 {
					s.redis.SRem(ctx, key, jti)
				}
			}
		}

		subCursor = next
		if subCursor == 0 {
			break
		}
	}
	return purged, nil
}

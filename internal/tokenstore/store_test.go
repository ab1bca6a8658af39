package tokenstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return New(client, "tg", time.Hour)
}

func TestRecordAndStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Record(ctx, "jti-1", "user-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	status, err := store.Status(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusLive {
		t.Fatalf("expected StatusLive, got %v", status)
	}

	status, err = store.Status(ctx, "never-issued")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusUnknown {
		t.Fatalf("expected StatusUnknown, got %v", status)
	}
}

func TestBlacklistIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	if err := store.Record(ctx, "jti-1", "user-1", expiry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	won, err := store.Blacklist(ctx, "jti-1", expiry)
	if err != nil {
		t.Fatalf("Blacklist failed: %v", err)
	}
	if !won {
		t.Fatal("first blacklist should win the transition")
	}

	won, err = store.Blacklist(ctx, "jti-1", expiry)
	if err != nil {
		t.Fatalf("second Blacklist failed: %v", err)
	}
	if won {
		t.Fatal("second blacklist must not win")
	}

	status, err := store.Status(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusBlacklisted {
		t.Fatalf("expected StatusBlacklisted, got %v", status)
	}
}

func TestBlacklistUnknownID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	won, err := store.Blacklist(ctx, "ghost", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Blacklist failed: %v", err)
	}
	if won {
		t.Fatal("blacklisting an unknown id must not report a win")
	}

	// The id is pinned so it cannot be replayed later.
	status, err := store.Status(ctx, "ghost")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusBlacklisted {
		t.Fatalf("expected StatusBlacklisted, got %v", status)
	}
}

func TestBlacklistSingleWinner(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	if err := store.Record(ctx, "jti-1", "user-1", expiry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	const callers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.Blacklist(ctx, "jti-1", expiry)
			if err != nil {
				t.Errorf("Blacklist failed: %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestBlacklistAllForSubject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	expiry := time.Now().Add(time.Hour)

	for _, jti := range []string{"a", "b", "c"} {
		if err := store.Record(ctx, jti, "user-1", expiry); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	if err := store.Record(ctx, "other", "user-2", expiry); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	revoked, err := store.BlacklistAllForSubject(ctx, "user-1")
	if err != nil {
		t.Fatalf("BlacklistAllForSubject failed: %v", err)
	}
	if revoked != 3 {
		t.Fatalf("expected 3 revoked, got %d", revoked)
	}

	for _, jti := range []string{"a", "b", "c"} {
		status, err := store.Status(ctx, jti)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if status != StatusBlacklisted {
			t.Fatalf("token %s: expected StatusBlacklisted, got %v", jti, status)
		}
	}

	status, err := store.Status(ctx, "other")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusLive {
		t.Fatalf("unrelated subject's token must stay live, got %v", status)
	}
}

func TestPurgeExpired(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Record(ctx, "dead-1", "user-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(ctx, "dead-2", "user-1", now.Add(2*time.Minute)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(ctx, "alive", "user-1", now.Add(24*time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	purged, err := store.PurgeExpired(ctx, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 2 {
		t.Fatalf("expected 2 purged, got %d", purged)
	}

	for _, jti := range []string{"dead-1", "dead-2"} {
		status, err := store.Status(ctx, jti)
		if err != nil {
			t.Fatalf("Status failed: %v", err)
		}
		if status != StatusUnknown {
			t.Fatalf("token %s: expected StatusUnknown after purge, got %v", jti, status)
		}
	}

	status, err := store.Status(ctx, "alive")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusLive {
		t.Fatalf("unexpired token must survive the sweep, got %v", status)
	}

	// Second sweep over the same window finds nothing.
	purged, err = store.PurgeExpired(ctx, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("second PurgeExpired failed: %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected 0 purged on rerun, got %d", purged)
	}
}

func TestPurgeExpiredRemovesBlacklistEntries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Record(ctx, "jti-1", "user-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := store.Blacklist(ctx, "jti-1", now.Add(time.Minute)); err != nil {
		t.Fatalf("Blacklist failed: %v", err)
	}

	purged, err := store.PurgeExpired(ctx, now.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}

	status, err := store.Status(ctx, "jti-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status != StatusUnknown {
		t.Fatalf("expected StatusUnknown, got %v", status)
	}
}

func TestPurgeExpiredPrunesDanglingIndexMembers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Record(ctx, "jti-1", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(ctx, "jti-2", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	// Simulate the TTL backstop collecting a record without a sweep.
	if err := store.redis.Del(ctx, store.recordKey("jti-1")).Err(); err != nil {
		t.Fatalf("Del failed: %v", err)
	}

	purged, err := store.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if purged != 0 {
		t.Fatalf("expected 0 purged, got %d", purged)
	}

	ids, err := store.redis.SMembers(ctx, store.subjectKey("user-1")).Result()
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "jti-2" {
		t.Fatalf("expected index to hold only jti-2, got %v", ids)
	}
}

func TestBlacklistAllSkipsCollectedRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	if err := store.Record(ctx, "jti-1", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.Record(ctx, "jti-2", "user-1", now.Add(time.Hour)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if err := store.redis.Del(ctx, store.recordKey("jti-1")).Err(); err != nil {
		t.Fatalf("Del failed: %v", err)
	}

	revoked, err := store.BlacklistAllForSubject(ctx, "user-1")
	if err != nil {
		t.Fatalf("BlacklistAllForSubject failed: %v", err)
	}
	if revoked != 1 {
		t.Fatalf("expected 1 revoked, got %d", revoked)
	}

	// No blacklist-only entry springs up for the collected id, and the
	// index no longer carries it.
	exists, err := store.redis.Exists(ctx, store.recordKey("jti-1")).Result()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists != 0 {
		t.Fatal("collected record must not be recreated")
	}
	ids, err := store.redis.SMembers(ctx, store.subjectKey("user-1")).Result()
	if err != nil {
		t.Fatalf("SMembers failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "jti-2" {
		t.Fatalf("expected index to hold only jti-2, got %v", ids)
	}
}

func TestSubjectIndexExpiresWithRecords(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := New(client, "tg", time.Second)
	ctx := context.Background()

	if err := store.Record(ctx, "jti-1", "user-1", time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	mr.FastForward(5 * time.Second)

	exists, err := client.Exists(ctx, store.subjectKey("user-1")).Result()
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if exists != 0 {
		t.Fatal("index must expire once its last record's retention passes")
	}
}

func TestRecordCodecRoundtrip(t *testing.T) {
	rec := &record{
		Blacklisted:   true,
		ExpiresAt:     1700000000,
		BlacklistedAt: 1699999999,
		SubjectID:     "user-42",
	}

	encoded, err := encodeRecord(rec)
	if err != nil {
		t.Fatalf("encodeRecord failed: %v", err)
	}

	decoded, err := decodeRecord(encoded)
	if err != nil {
		t.Fatalf("decodeRecord failed: %v", err)
	}
	if *decoded != *rec {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", decoded, rec)
	}

	if _, err := decodeRecord(encoded[:10]); err == nil {
		t.Fatal("expected error for truncated record")
	}

	encoded[0] = 99
	if _, err := decodeRecord(encoded); err == nil {
		t.Fatal("expected error for unknown version")
	}
}

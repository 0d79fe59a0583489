package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewStore(rdb, "ps", 16), mr
}

func newSession(id, userID string, timeout time.Duration) *Session {
	now := time.Now()
	return &Session{
		SessionID:      id,
		UserID:         userID,
		Role:           "cashier",
		IPAddress:      "10.0.0.1",
		UserAgent:      "terminal",
		CreatedAt:      now.Unix(),
		ExpiresAt:      now.Add(timeout).Unix(),
		LastActivityAt: now.Unix(),
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	sess := newSession("s1", "u1", time.Hour)

	data, err := Encode(sess)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}

	decoded.SessionID = sess.SessionID
	if *decoded != *sess {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", decoded, sess)
	}
}

func TestDecodeRejectsUnknownVersion(t *testing.T) {
	sess := newSession("s1", "u1", time.Hour)
	data, err := Encode(sess)
	if err != nil {
		t.Fatal(err)
	}

	data[0] = 99
	if _, err := Decode(data); err == nil {
		t.Fatal("expected version error")
	}
}

func TestTouchSlidesExpiry(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess := newSession("s1", "u1", time.Minute)
	if err := store.Save(ctx, sess); err != nil {
		t.Fatal(err)
	}

	touched, err := store.Touch(ctx, "s1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if touched.ExpiresAt <= sess.ExpiresAt {
		t.Fatalf("expiry did not slide: %d -> %d", sess.ExpiresAt, touched.ExpiresAt)
	}
	if touched.LastActivityAt < sess.LastActivityAt {
		t.Fatal("last activity went backwards")
	}
}

func TestTouchMissingSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Touch(context.Background(), "ghost", time.Hour)
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("got %v, want redis.Nil", err)
	}
}

func TestTerminateIsPermanent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, newSession("s1", "u1", time.Hour)); err != nil {
		t.Fatal(err)
	}

	existed, err := store.Terminate(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected live session")
	}

	// Terminated and never-existed look the same.
	if _, err := store.Touch(ctx, "s1", time.Hour); !errors.Is(err, redis.Nil) {
		t.Fatalf("got %v, want redis.Nil", err)
	}

	existed, err = store.Terminate(ctx, "u1", "s1")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("second terminate must report no session")
	}
}

func TestTerminateAllExcept(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"s1", "s2", "s3"} {
		if err := store.Save(ctx, newSession(id, "u1", time.Hour)); err != nil {
			t.Fatal(err)
		}
	}

	count, err := store.TerminateAllExcept(ctx, "u1", "s2")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Fatalf("terminated %d, want 2", count)
	}

	if _, err := store.Touch(ctx, "s2", time.Hour); err != nil {
		t.Fatalf("kept session must survive: %v", err)
	}
	if _, err := store.Touch(ctx, "s1", time.Hour); !errors.Is(err, redis.Nil) {
		t.Fatalf("s1 should be gone, got %v", err)
	}
}

func TestListActiveSkipsExpired(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, newSession("live", "u1", time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, newSession("dying", "u1", time.Second)); err != nil {
		t.Fatal(err)
	}

	// Let the short session's Redis TTL lapse.
	mr.FastForward(2 * time.Second)
	store.cache.remove("dying")

	sessions, err := store.ListActive(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].SessionID != "live" {
		t.Fatalf("unexpected listing: %+v", sessions)
	}
}

func TestSweepPrunesDeadIndexEntries(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, newSession("gone", "u1", time.Second)); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, newSession("kept", "u1", time.Hour)); err != nil {
		t.Fatal(err)
	}

	mr.FastForward(2 * time.Second)
	store.cache.remove("gone")

	pruned, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if pruned < 1 {
		t.Fatalf("pruned %d, want at least 1", pruned)
	}

	members, err := store.redis.SMembers(ctx, store.userKey("u1")).Result()
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 1 || members[0] != "kept" {
		t.Fatalf("index not pruned: %v", members)
	}
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c := newCache(2)
	now := time.Now()

	for _, id := range []string{"a", "b", "c"} {
		c.put(newSession(id, "u1", time.Hour))
	}

	live := 0
	for _, id := range []string{"a", "b", "c"} {
		if _, ok := c.get(id, now); ok {
			live++
		}
	}
	if live != 2 {
		t.Fatalf("cache holds %d entries, want 2", live)
	}
}

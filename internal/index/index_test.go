package index

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeBackend struct {
	entries map[string]string
	calls   int
	err     error
}

func (f *fakeBackend) lookup(ctx context.Context, scope, key string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	id, ok := f.entries[scope+"|"+key]
	return id, ok, nil
}

func newTestStore(t *testing.T, backend *fakeBackend, withRedis bool) (*Store, *miniredis.Miniredis) {
	t.Helper()
	var rdb *redis.Client
	var mr *miniredis.Miniredis
	if withRedis {
		mr = miniredis.RunT(t)
		opts, err := redis.ParseURL("redis://" + mr.Addr())
		if err != nil {
			t.Fatalf("parse redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
	}
	return New("slug", 5*time.Minute, backend.lookup, rdb), mr
}

func TestGetReadsThroughAndCaches(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{"|acme": "prj_1"}}
	store, _ := newTestStore(t, backend, false)
	ctx := context.Background()

	id, ok, err := store.Get(ctx, "", "Acme")
	if err != nil || !ok || id != "prj_1" {
		t.Fatalf("Get() = %q, %v, %v", id, ok, err)
	}
	if _, _, err := store.Get(ctx, "", "acme"); err != nil {
		t.Fatalf("second Get() error = %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}
}

func TestGetCachesMisses(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{}}
	store, _ := newTestStore(t, backend, false)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, ok, err := store.Get(ctx, "", "ghost"); ok || err != nil {
			t.Fatalf("Get() = %v, %v, want miss", ok, err)
		}
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1 (negative caching)", backend.calls)
	}
}

func TestPlaceholderAndEmptyShortCircuit(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{}}
	store, _ := newTestStore(t, backend, false)
	ctx := context.Background()

	for _, name := range []string{"Untitled", "Untitled_3", "!!!", ""} {
		if _, ok, err := store.Get(ctx, "prj_1", name); ok || err != nil {
			t.Fatalf("Get(%q) = %v, %v, want short-circuit miss", name, ok, err)
		}
	}
	if backend.calls != 0 {
		t.Fatalf("backend calls = %d, want 0", backend.calls)
	}
}

func TestBackendErrorSurfaces(t *testing.T) {
	backend := &fakeBackend{err: errors.New("boom")}
	store, _ := newTestStore(t, backend, false)

	if _, _, err := store.Get(context.Background(), "", "acme"); err == nil {
		t.Fatal("expected backend error to surface")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{"|acme": "prj_1"}}
	store, _ := newTestStore(t, backend, false)
	ctx := context.Background()

	current := time.Now()
	store.now = func() time.Time { return current }

	if _, _, err := store.Get(ctx, "", "acme"); err != nil {
		t.Fatal(err)
	}
	current = current.Add(6 * time.Minute)
	if _, _, err := store.Get(ctx, "", "acme"); err != nil {
		t.Fatal(err)
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls = %d, want 2 after TTL expiry", backend.calls)
	}
}

func TestRenameKeepsWriterFresh(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{"|acme": "prj_1"}}
	store, _ := newTestStore(t, backend, false)
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "", "acme"); err != nil {
		t.Fatal(err)
	}
	// Simulate the transactional index swap, then the cache refresh.
	delete(backend.entries, "|acme")
	backend.entries["|acmelabs"] = "prj_1"
	store.Rename(ctx, "", "acme", "acme-labs", "prj_1")

	if _, ok, _ := store.Get(ctx, "", "acme"); ok {
		t.Fatal("old slug still cached as a hit after rename")
	}
	id, ok, err := store.Get(ctx, "", "acme-labs")
	if err != nil || !ok || id != "prj_1" {
		t.Fatalf("Get(new) = %q, %v, %v", id, ok, err)
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1 (rename primes the cache)", backend.calls)
	}
}

func TestRedisTierSurvivesMemoryLoss(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{"|acme": "prj_1"}}
	store, mr := newTestStore(t, backend, true)
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "", "acme"); err != nil {
		t.Fatal(err)
	}
	// A fresh store (new process) shares only the Redis tier.
	opts, _ := redis.ParseURL("redis://" + mr.Addr())
	restarted := New("slug", 5*time.Minute, backend.lookup, redis.NewClient(opts))

	id, ok, err := restarted.Get(ctx, "", "acme")
	if err != nil || !ok || id != "prj_1" {
		t.Fatalf("Get() after restart = %q, %v, %v", id, ok, err)
	}
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1 (served by redis tier)", backend.calls)
	}
}

func TestRedisTierTTLExpiry(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{"|acme": "prj_1"}}
	store, mr := newTestStore(t, backend, true)
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "", "acme"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(6 * time.Minute)

	opts, _ := redis.ParseURL("redis://" + mr.Addr())
	restarted := New("slug", 5*time.Minute, backend.lookup, redis.NewClient(opts))
	if _, _, err := restarted.Get(ctx, "", "acme"); err != nil {
		t.Fatal(err)
	}
	if backend.calls != 2 {
		t.Fatalf("backend calls = %d, want 2 after redis TTL expiry", backend.calls)
	}
}

func TestMalformedRedisRecordFallsThrough(t *testing.T) {
	backend := &fakeBackend{entries: map[string]string{"|acme": "prj_1"}}
	store, mr := newTestStore(t, backend, true)
	ctx := context.Background()

	if err := mr.Set("idx:slug:acme", "{not json"); err != nil {
		t.Fatal(err)
	}
	id, ok, err := store.Get(ctx, "", "acme")
	if err != nil || !ok || id != "prj_1" {
		t.Fatalf("Get() = %q, %v, %v, want backend fallthrough", id, ok, err)
	}
}

func TestDecodeRecordRejectsEmptyPositive(t *testing.T) {
	if _, err := decodeRecord([]byte(`{"id":"","miss":false}`)); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("decodeRecord() error = %v, want ErrMalformedRecord", err)
	}
	record, err := decodeRecord([]byte(`{"id":"","miss":true}`))
	if err != nil || !record.Miss {
		t.Fatalf("decodeRecord(miss) = %+v, %v", record, err)
	}
}

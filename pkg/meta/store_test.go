package meta

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"

	"github.com/jacktea/xpaste/pkg/xerrors"
)

func storeFactories() map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"bolt": func(t *testing.T) Store {
			store, err := NewBoltStore(BoltConfig{Path: filepath.Join(t.TempDir(), "meta.db"), NoSync: true})
			if err != nil {
				t.Fatalf("new bolt store: %v", err)
			}
			return store
		},
		"redis": func(t *testing.T) Store {
			srv, err := miniredis.Run()
			if err != nil {
				t.Skipf("miniredis unavailable: %v", err)
			}
			t.Cleanup(srv.Close)
			store, err := NewRedisStore(RedisConfig{Addr: "redis://" + srv.Addr()})
			if err != nil {
				t.Fatalf("new redis store: %v", err)
			}
			return store
		},
	}
}

func forEachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	for name, factory := range storeFactories() {
		factory := factory
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			fn(t, store)
		})
	}
}

func TestPutIfAbsentIsWriteOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		first := Record{
			Code:         "AAAAAAAAAAAAAAAAAAAA",
			ContentType:  "text/plain; charset=utf-8",
			Size:         11,
			PasswordHash: "$argon2id$first",
			CreatedAt:    time.Date(2024, 5, 1, 12, 30, 0, 123, time.UTC),
		}
		got, created, err := store.PutIfAbsent(ctx, first)
		if err != nil || !created {
			t.Fatalf("first put: created=%v err=%v", created, err)
		}
		if diff := cmp.Diff(first, got); diff != "" {
			t.Fatalf("first put returned different record (-want +got):\n%s", diff)
		}
		second := first
		second.PasswordHash = ""
		second.ContentType = "application/octet-stream"
		got, created, err = store.PutIfAbsent(ctx, second)
		if err != nil || created {
			t.Fatalf("second put: created=%v err=%v", created, err)
		}
		if diff := cmp.Diff(first, got); diff != "" {
			t.Fatalf("second put must return the original record (-want +got):\n%s", diff)
		}
		stored, err := store.Get(ctx, first.Code)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if diff := cmp.Diff(first, stored); diff != "" {
			t.Fatalf("stored record changed (-want +got):\n%s", diff)
		}
	})
}

func TestGetMissingIsNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		_, err := store.Get(context.Background(), "missing")
		if !errors.Is(err, xerrors.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestListPagesInCodeOrder(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		for _, code := range []string{"c", "a", "e", "b", "d"} {
			if _, _, err := store.PutIfAbsent(ctx, Record{Code: code, Size: 1}); err != nil {
				t.Fatalf("put %s: %v", code, err)
			}
		}
		page, err := store.List(ctx, "", 2)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if diff := cmp.Diff([]string{"a", "b"}, codesOf(page)); diff != "" {
			t.Fatalf("first page (-want +got):\n%s", diff)
		}
		page, err = store.List(ctx, "b", 0)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if diff := cmp.Diff([]string{"c", "d", "e"}, codesOf(page)); diff != "" {
			t.Fatalf("second page (-want +got):\n%s", diff)
		}
	})
}

func TestConcurrentPutIfAbsentHasOneWinner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		const writers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
			hashes  = map[string]bool{}
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec := Record{Code: "same", Size: 4, PasswordHash: fmt.Sprintf("hash-%d", i)}
				got, created, err := store.PutIfAbsent(ctx, rec)
				if err != nil {
					t.Errorf("put %d: %v", i, err)
					return
				}
				mu.Lock()
				defer mu.Unlock()
				if created {
					winners++
				}
				hashes[got.PasswordHash] = true
			}(i)
		}
		wg.Wait()
		if winners != 1 {
			t.Fatalf("expected exactly one winner, got %d", winners)
		}
		if len(hashes) != 1 {
			t.Fatalf("writers observed different records: %v", hashes)
		}
	})
}

func TestBoltStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meta.db")
	store, err := NewBoltStore(BoltConfig{Path: path})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if _, _, err := store.PutIfAbsent(ctx, Record{Code: "persist", Size: 3}); err != nil {
		t.Fatalf("put: %v", err)
	}
	store.Close()
	store, err = NewBoltStore(BoltConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	rec, err := store.Get(ctx, "persist")
	if err != nil || rec.Size != 3 {
		t.Fatalf("unexpected record after reopen: %+v %v", rec, err)
	}
}

func TestRedisStoreKeyLayout(t *testing.T) {
	srv, err := miniredis.Run()
	if err != nil {
		t.Skipf("miniredis unavailable: %v", err)
	}
	defer srv.Close()
	store, err := NewRedisStore(RedisConfig{Addr: srv.Addr()})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer store.Close()
	if _, _, err := store.PutIfAbsent(context.Background(), Record{Code: "abc"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if !srv.Exists("xpaste:object:abc") {
		t.Fatalf("expected record under xpaste:object:abc, keys=%v", srv.Keys())
	}
}

func codesOf(records []Record) []string {
	out := make([]string, 0, len(records))
	for _, rec := range records {
		out = append(out, rec.Code)
	}
	return out
}

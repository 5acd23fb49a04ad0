package meta

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jacktea/xpaste/pkg/xerrors"
)

// Record is the metadata half of a stored object. The content lives in the
// blob store under the same code.
type Record struct {
	Code         string    `cbor:"code"`
	ContentType  string    `cbor:"content_type"`
	Size         int64     `cbor:"size"`
	PasswordHash string    `cbor:"password_hash,omitempty"`
	CreatedAt    time.Time `cbor:"created_at"`
}

// Protected reports whether the object requires a password.
func (r Record) Protected() bool { return r.PasswordHash != "" }

// Store persists records. Records are write-once: PutIfAbsent never replaces
// an existing record.
type Store interface {
	// PutIfAbsent stores rec unless a record with the same code exists. It
	// returns the record now in the store and whether rec was the one written.
	PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error)
	Get(ctx context.Context, code string) (Record, error)
	// List returns up to limit records with codes greater than after, in
	// code order. A limit of zero or less means no limit.
	List(ctx context.Context, after string, limit int) ([]Record, error)
	Close() error
}

// MemoryStore is a simple in-memory implementation for tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty metadata store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.Code == "" {
		return Record{}, false, xerrors.E(xerrors.KindInvalid, "MemoryStore.PutIfAbsent", "")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.records[rec.Code]; ok {
		return existing, false, nil
	}
	m.records[rec.Code] = rec
	return rec, true, nil
}

func (m *MemoryStore) Get(ctx context.Context, code string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[code]
	if !ok {
		return Record{}, xerrors.E(xerrors.KindNotFound, "MemoryStore.Get", code)
	}
	return rec, nil
}

func (m *MemoryStore) List(ctx context.Context, after string, limit int) ([]Record, error) {
	m.mu.RLock()
	codes := make([]string, 0, len(m.records))
	for code := range m.records {
		if code > after {
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	if limit > 0 && len(codes) > limit {
		codes = codes[:limit]
	}
	out := make([]Record, 0, len(codes))
	for _, code := range codes {
		out = append(out, m.records[code])
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *MemoryStore) Close() error { return nil }

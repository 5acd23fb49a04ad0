package meta

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/jacktea/xpaste/pkg/xerrors"
)

var bucketObjects = []byte("objects")

// BoltConfig configures the BoltDB-backed store.
type BoltConfig struct {
	Path    string
	NoSync  bool
	Timeout time.Duration
}

// BoltStore persists records in a single BoltDB bucket keyed by code.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database at cfg.Path.
func NewBoltStore(cfg BoltConfig) (*BoltStore, error) {
	if cfg.Path == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "NewBoltStore", "path")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	db, err := bolt.Open(cfg.Path, 0o600, &bolt.Options{Timeout: cfg.Timeout, NoSync: cfg.NoSync})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "NewBoltStore", cfg.Path, fmt.Errorf("boltdb: open: %w", err))
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketObjects)
		return err
	})
	if err != nil {
		db.Close()
		return nil, xerrors.Wrap(xerrors.KindInternal, "NewBoltStore", cfg.Path, fmt.Errorf("boltdb: create bucket: %w", err))
	}
	return &BoltStore{db: db}, nil
}

// PutIfAbsent checks and writes inside one update transaction, which bbolt
// runs one at a time.
func (b *BoltStore) PutIfAbsent(ctx context.Context, rec Record) (Record, bool, error) {
	if rec.Code == "" {
		return Record{}, false, xerrors.E(xerrors.KindInvalid, "BoltStore.PutIfAbsent", "")
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.KindInternal, "BoltStore.PutIfAbsent", rec.Code, err)
	}
	var (
		stored  = rec
		created bool
	)
	err = b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketObjects)
		if existing := bkt.Get([]byte(rec.Code)); existing != nil {
			var err error
			stored, err = decodeRecord(existing)
			return err
		}
		created = true
		return bkt.Put([]byte(rec.Code), data)
	})
	if err != nil {
		return Record{}, false, xerrors.Wrap(xerrors.KindInternal, "BoltStore.PutIfAbsent", rec.Code, err)
	}
	return stored, created, nil
}

func (b *BoltStore) Get(ctx context.Context, code string) (Record, error) {
	var (
		rec   Record
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketObjects).Get([]byte(code))
		if data == nil {
			return nil
		}
		found = true
		var err error
		rec, err = decodeRecord(data)
		return err
	})
	if err != nil {
		return Record{}, xerrors.Wrap(xerrors.KindInternal, "BoltStore.Get", code, err)
	}
	if !found {
		return Record{}, xerrors.E(xerrors.KindNotFound, "BoltStore.Get", code)
	}
	return rec, nil
}

func (b *BoltStore) List(ctx context.Context, after string, limit int) ([]Record, error) {
	var out []Record
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketObjects).Cursor()
		k, v := c.Seek([]byte(after))
		if k != nil && string(k) == after {
			k, v = c.Next()
		}
		for ; k != nil; k, v = c.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("decode %s: %w", k, err)
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "BoltStore.List", after, err)
	}
	return out, nil
}

// Close releases the database file lock.
func (b *BoltStore) Close() error {
	return b.db.Close()
}

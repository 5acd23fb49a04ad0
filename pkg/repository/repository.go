// Package repository composes the blob and metadata stores into objects
// addressed by code.
package repository

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jacktea/xpaste/pkg/blob"
	"github.com/jacktea/xpaste/pkg/fingerprint"
	"github.com/jacktea/xpaste/pkg/meta"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

const defaultCacheEntries = 1024

// Object is a published paste: its metadata plus access to its content.
type Object struct {
	meta.Record
}

// Repository stores objects. It is safe for concurrent use.
type Repository struct {
	blobs   blob.Store
	records meta.Store
	cache   *lru.Cache[string, meta.Record]
	group   singleflight.Group
}

// Options tune a Repository.
type Options struct {
	// CacheEntries bounds the record cache; negative disables it.
	CacheEntries int
}

// New builds a repository over the given stores.
func New(blobs blob.Store, records meta.Store, opts Options) (*Repository, error) {
	if blobs == nil || records == nil {
		return nil, xerrors.E(xerrors.KindInvalid, "repository.New", "")
	}
	r := &Repository{blobs: blobs, records: records}
	if opts.CacheEntries == 0 {
		opts.CacheEntries = defaultCacheEntries
	}
	if opts.CacheEntries > 0 {
		c, err := lru.New[string, meta.Record](opts.CacheEntries)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.KindInvalid, "repository.New", "", err)
		}
		r.cache = c
	}
	return r, nil
}

// PutIfAbsent stores content read from src and publishes rec for it. The
// code, and the size, are derived from the content and overwrite whatever
// rec carries. When an object with the same code exists the stored object is
// returned unchanged with created == false.
//
// The blob is fully written before the record is published, so an object
// becomes visible only once both halves exist.
func (r *Repository) PutIfAbsent(ctx context.Context, src io.Reader, rec meta.Record) (Object, bool, error) {
	id, size, err := r.blobs.Put(ctx, src)
	if err != nil {
		return Object{}, false, xerrors.Classify("repository.PutIfAbsent", "", err)
	}
	rec.Code = string(id)
	rec.Size = size
	stored, created, err := r.records.PutIfAbsent(ctx, rec)
	if err != nil {
		return Object{}, false, xerrors.Classify("repository.PutIfAbsent", rec.Code, err)
	}
	r.remember(stored)
	return Object{Record: stored}, created, nil
}

// Get returns the object's metadata. Concurrent misses for one code share a
// single store lookup, which is not canceled when one of its callers gives up.
func (r *Repository) Get(ctx context.Context, code string) (Object, error) {
	if !fingerprint.Valid(code) {
		return Object{}, xerrors.E(xerrors.KindNotFound, "repository.Get", code)
	}
	if r.cache != nil {
		if rec, ok := r.cache.Get(code); ok {
			return Object{Record: rec}, nil
		}
	}
	// The shared lookup outlives any one caller; each caller still stops
	// waiting when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := r.group.DoChan(code, func() (interface{}, error) {
		rec, err := r.records.Get(shared, code)
		if err != nil {
			return meta.Record{}, err
		}
		r.remember(rec)
		return rec, nil
	})
	select {
	case <-ctx.Done():
		return Object{}, xerrors.Classify("repository.Get", code, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Object{}, xerrors.Classify("repository.Get", code, res.Err)
		}
		return Object{Record: res.Val.(meta.Record)}, nil
	}
}

// Open streams the object's content. The caller closes the reader.
func (r *Repository) Open(ctx context.Context, code string) (io.ReadCloser, error) {
	rc, err := r.blobs.Get(ctx, blob.ID(code))
	if err != nil {
		// A record without its blob is damage, not absence.
		if xerrors.KindOf(err) == xerrors.KindNotFound {
			return nil, xerrors.Wrap(xerrors.KindInternal, "repository.Open", code, err)
		}
		return nil, xerrors.Classify("repository.Open", code, err)
	}
	return rc, nil
}

// List pages through objects in code order.
func (r *Repository) List(ctx context.Context, after string, limit int) ([]Object, error) {
	records, err := r.records.List(ctx, after, limit)
	if err != nil {
		return nil, xerrors.Classify("repository.List", after, err)
	}
	out := make([]Object, len(records))
	for i, rec := range records {
		out[i] = Object{Record: rec}
	}
	return out, nil
}

const walkPage = 500

// Walk calls fn for every object in code order, stopping at the first error.
func (r *Repository) Walk(ctx context.Context, fn func(Object) error) error {
	after := ""
	for {
		page, err := r.List(ctx, after, walkPage)
		if err != nil {
			return err
		}
		for _, obj := range page {
			if err := fn(obj); err != nil {
				return err
			}
		}
		if len(page) < walkPage {
			return nil
		}
		after = page[len(page)-1].Code
	}
}

// Records are immutable once published, so cached entries never go stale.
func (r *Repository) remember(rec meta.Record) {
	if r.cache != nil {
		r.cache.Add(rec.Code, rec)
	}
}

package fuse

import (
	"context"
	"errors"
	"hash/fnv"
	"io"
	"syscall"

	"github.com/jacktea/xpaste/pkg/fingerprint"
	"github.com/jacktea/xpaste/pkg/repository"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

// Catalog is the read side of the repository a mount needs.
type Catalog interface {
	Walk(ctx context.Context, fn func(repository.Object) error) error
	Get(ctx context.Context, code string) (repository.Object, error)
	Open(ctx context.Context, code string) (io.ReadCloser, error)
}

// publicObject resolves name to an object visible in the mount. Names that
// are not codes and protected objects both read as missing.
func publicObject(ctx context.Context, catalog Catalog, name string) (repository.Object, error) {
	if !fingerprint.Valid(name) {
		return repository.Object{}, xerrors.E(xerrors.KindNotFound, "fuse.lookup", name)
	}
	obj, err := catalog.Get(ctx, name)
	if err != nil {
		return repository.Object{}, err
	}
	if obj.Protected() {
		return repository.Object{}, xerrors.E(xerrors.KindNotFound, "fuse.lookup", name)
	}
	return obj, nil
}

func publicObjects(ctx context.Context, catalog Catalog) ([]repository.Object, error) {
	var out []repository.Object
	err := catalog.Walk(ctx, func(obj repository.Object) error {
		if !obj.Protected() {
			out = append(out, obj)
		}
		return nil
	})
	return out, err
}

func readContent(ctx context.Context, catalog Catalog, code string) ([]byte, error) {
	rc, err := catalog.Open(ctx, code)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// sliceAt returns at most n bytes of data starting at off.
func sliceAt(data []byte, off int64, n int) []byte {
	if off < 0 || off >= int64(len(data)) || n <= 0 {
		return nil
	}
	end := off + int64(n)
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return data[off:end]
}

func inodeForCode(code string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(code))
	ino := h.Sum64()
	if ino <= 1 {
		return ino + 2
	}
	return ino
}

// errnoForError converts repository errors to syscall errno codes.
func errnoForError(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	switch {
	case errors.Is(err, context.Canceled):
		return syscall.EINTR
	case errors.Is(err, context.DeadlineExceeded):
		return syscall.ETIMEDOUT
	}
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound, xerrors.KindInvalid:
		return syscall.ENOENT
	case xerrors.KindForbidden:
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

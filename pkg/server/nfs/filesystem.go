package nfs

import (
	"bytes"
	"context"
	"io"
	"os"
	"path"
	"strings"
	"time"

	billy "github.com/go-git/go-billy/v5"

	"github.com/jacktea/xpaste/pkg/fingerprint"
	"github.com/jacktea/xpaste/pkg/repository"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

// Catalog is the read side of the repository the export needs.
type Catalog interface {
	Walk(ctx context.Context, fn func(repository.Object) error) error
	Get(ctx context.Context, code string) (repository.Object, error)
	Open(ctx context.Context, code string) (io.ReadCloser, error)
}

// filesystem is a flat directory holding one file per public paste, named by
// its code. Password-protected pastes are not visible.
type filesystem struct {
	ctx     context.Context
	catalog Catalog
	started time.Time
}

func newFilesystem(ctx context.Context, catalog Catalog) *filesystem {
	if ctx == nil {
		ctx = context.Background()
	}
	return &filesystem{ctx: ctx, catalog: catalog, started: time.Now()}
}

func (f *filesystem) Capabilities() billy.Capability {
	return billy.ReadCapability | billy.SeekCapability
}

func (f *filesystem) Create(string) (billy.File, error) {
	return nil, billy.ErrReadOnly
}

func (f *filesystem) Open(filename string) (billy.File, error) {
	return f.OpenFile(filename, os.O_RDONLY, 0)
}

func (f *filesystem) OpenFile(filename string, flag int, _ os.FileMode) (billy.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, billy.ErrReadOnly
	}
	code, root := splitName(filename)
	if root {
		return nil, os.ErrInvalid
	}
	obj, err := f.lookup(code)
	if err != nil {
		return nil, err
	}
	rc, err := f.catalog.Open(f.ctx, obj.Code)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, translateErr(err)
	}
	return &file{name: obj.Code, Reader: bytes.NewReader(data)}, nil
}

func (f *filesystem) Stat(filename string) (os.FileInfo, error) {
	code, root := splitName(filename)
	if root {
		return dirInfo{modTime: f.started}, nil
	}
	obj, err := f.lookup(code)
	if err != nil {
		return nil, err
	}
	return objectInfo(obj), nil
}

func (f *filesystem) Lstat(filename string) (os.FileInfo, error) {
	return f.Stat(filename)
}

func (f *filesystem) ReadDir(p string) ([]os.FileInfo, error) {
	if _, root := splitName(p); !root {
		return nil, os.ErrNotExist
	}
	var out []os.FileInfo
	err := f.catalog.Walk(f.ctx, func(obj repository.Object) error {
		if !obj.Protected() {
			out = append(out, objectInfo(obj))
		}
		return nil
	})
	if err != nil {
		return nil, translateErr(err)
	}
	return out, nil
}

func (f *filesystem) Rename(string, string) error        { return billy.ErrReadOnly }
func (f *filesystem) Remove(string) error                { return billy.ErrReadOnly }
func (f *filesystem) MkdirAll(string, os.FileMode) error { return billy.ErrReadOnly }
func (f *filesystem) Symlink(string, string) error       { return billy.ErrReadOnly }

func (f *filesystem) TempFile(string, string) (billy.File, error) {
	return nil, billy.ErrReadOnly
}

func (f *filesystem) Readlink(string) (string, error) {
	return "", os.ErrInvalid
}

func (f *filesystem) Chroot(p string) (billy.Filesystem, error) {
	if _, root := splitName(p); root {
		return f, nil
	}
	return nil, os.ErrPermission
}

func (f *filesystem) Root() string { return "/" }

func (f *filesystem) Join(elem ...string) string {
	res := path.Join(elem...)
	if res == "" {
		return "/"
	}
	return res
}

// lookup hides protected objects and names that are not codes.
func (f *filesystem) lookup(code string) (repository.Object, error) {
	if !fingerprint.Valid(code) {
		return repository.Object{}, os.ErrNotExist
	}
	obj, err := f.catalog.Get(f.ctx, code)
	if err != nil {
		return repository.Object{}, translateErr(err)
	}
	if obj.Protected() {
		return repository.Object{}, os.ErrNotExist
	}
	return obj, nil
}

// splitName reduces p to a single file name; root reports whether p names
// the export directory itself.
func splitName(p string) (string, bool) {
	clean := path.Clean("/" + strings.TrimSpace(p))
	if clean == "/" {
		return "", true
	}
	return strings.TrimPrefix(clean, "/"), false
}

func translateErr(err error) error {
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound, xerrors.KindInvalid:
		return os.ErrNotExist
	default:
		return err
	}
}

type dirInfo struct {
	modTime time.Time
}

func (d dirInfo) Name() string       { return "/" }
func (d dirInfo) Size() int64        { return 0 }
func (d dirInfo) Mode() os.FileMode  { return os.ModeDir | 0o555 }
func (d dirInfo) ModTime() time.Time { return d.modTime }
func (d dirInfo) IsDir() bool        { return true }
func (d dirInfo) Sys() interface{}   { return nil }

type entryInfo struct {
	obj repository.Object
}

func objectInfo(obj repository.Object) os.FileInfo { return entryInfo{obj: obj} }

func (e entryInfo) Name() string       { return e.obj.Code }
func (e entryInfo) Size() int64        { return e.obj.Size }
func (e entryInfo) Mode() os.FileMode  { return 0o444 }
func (e entryInfo) ModTime() time.Time { return e.obj.CreatedAt }
func (e entryInfo) IsDir() bool        { return false }
func (e entryInfo) Sys() interface{}   { return e.obj.Record }

// file serves reads from the decoded content held in memory.
type file struct {
	*bytes.Reader
	name string
}

func (f *file) Name() string              { return f.name }
func (f *file) Write([]byte) (int, error) { return 0, billy.ErrReadOnly }
func (f *file) Truncate(int64) error      { return billy.ErrReadOnly }
func (f *file) Close() error              { return nil }
func (f *file) Lock() error               { return nil }
func (f *file) Unlock() error             { return nil }

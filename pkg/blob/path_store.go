package blob

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/jacktea/xpaste/pkg/fingerprint"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

// PathStore persists blobs on the local filesystem.
type PathStore struct {
	root string
	opts Options
}

// NewPathStore returns a Store rooted at root.
func NewPathStore(root string, opts Options) (*PathStore, error) {
	if root == "" {
		return nil, xerrors.E(xerrors.KindInvalid, "PathStore", "root")
	}
	if err := opts.Encryption.Validate(); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, "PathStore", "", err)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.KindInternal, "PathStore.mkdir", root, err)
	}
	return &PathStore{root: root, opts: opts}, nil
}

// Put spools r into a temp file while hashing it, then renames the file into
// place. The rename is the publish step: readers see the whole blob or none.
func (p *PathStore) Put(ctx context.Context, r io.Reader) (ID, int64, error) {
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}
	file, err := os.CreateTemp(p.root, "upload-*")
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", "", err)
	}
	tmpName := file.Name()
	published := false
	defer func() {
		if !published {
			file.Close()
			os.Remove(tmpName)
		}
	}()

	hasher := fingerprint.New()
	enc, err := newEncoder(file, p.opts)
	if err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", "", err)
	}
	n, err := io.Copy(enc, io.TeeReader(r, hasher))
	if err != nil {
		return "", 0, xerrors.Classify("PathStore.Put", "", err)
	}
	if err := enc.Close(); err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", "", err)
	}
	id := ID(fingerprint.Encode(hasher.Sum(nil)))
	if err := file.Sync(); err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", string(id), err)
	}
	if err := file.Close(); err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", string(id), err)
	}
	finalPath := p.pathForID(id)
	if _, err := os.Stat(finalPath); err == nil {
		return id, n, nil
	} else if !os.IsNotExist(err) {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", string(id), err)
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", string(id), err)
	}
	if err := os.Rename(tmpName, finalPath); err != nil {
		return "", 0, xerrors.Wrap(xerrors.KindInternal, "PathStore.Put", string(id), err)
	}
	published = true
	return id, n, nil
}

func (p *PathStore) Get(ctx context.Context, id ID) (io.ReadCloser, error) {
	f, err := os.Open(p.pathForID(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, xerrors.Wrap(xerrors.KindNotFound, "PathStore.Get", string(id), err)
		}
		return nil, xerrors.Wrap(xerrors.KindInternal, "PathStore.Get", string(id), err)
	}
	dec, err := newDecoder(f, p.opts)
	if err != nil {
		f.Close()
		return nil, xerrors.Wrap(xerrors.KindInternal, "PathStore.Get", string(id), err)
	}
	return &readCloser{Reader: dec, closers: []io.Closer{dec, f}}, nil
}

func (p *PathStore) Exists(ctx context.Context, id ID) (bool, error) {
	_, err := os.Stat(p.pathForID(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, xerrors.Wrap(xerrors.KindInternal, "PathStore.Exists", string(id), err)
}

func (p *PathStore) pathForID(id ID) string {
	name := string(id)
	if len(name) < 4 {
		return filepath.Join(p.root, name)
	}
	return filepath.Join(p.root, name[:2], name[2:4], name)
}

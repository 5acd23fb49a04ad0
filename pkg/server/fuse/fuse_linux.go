//go:build linux

// Package fuse mounts public pastes as a read-only directory.
package fuse

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/jacktea/xpaste/pkg/repository"
)

const (
	attrTimeout  = 2 * time.Second
	entryTimeout = 2 * time.Second
	// Content never changes, but new codes appear.
	dirTimeout   = time.Second
	defaultBlkSz = 4096
	rootIno      = 1
)

// Options tune the mount.
type Options struct {
	FsName string
	Debug  bool
}

// Mount exposes public objects read-only at mountpoint and blocks until ctx
// is cancelled or the mount is released.
func Mount(ctx context.Context, catalog Catalog, mountpoint string, opts Options) error {
	if catalog == nil {
		return fmt.Errorf("fuse: nil catalog")
	}
	if opts.FsName == "" {
		opts.FsName = "xpaste"
	}
	root := &rootNode{catalog: catalog, started: time.Now()}
	server, err := gofuse.Mount(mountpoint, root, &gofuse.Options{
		MountOptions: fuse.MountOptions{
			FsName:  opts.FsName,
			Name:    "xpaste",
			Options: []string{"ro"},
			Debug:   opts.Debug,
		},
	})
	if err != nil {
		return err
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = server.Unmount()
		case <-done:
		}
	}()
	server.Wait()
	close(done)
	if err := ctx.Err(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// rootNode is the only directory: one entry per public code.
type rootNode struct {
	gofuse.Inode
	catalog Catalog
	started time.Time
}

var (
	_ gofuse.NodeLookuper  = (*rootNode)(nil)
	_ gofuse.NodeReaddirer = (*rootNode)(nil)
	_ gofuse.NodeGetattrer = (*rootNode)(nil)
)

func (d *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	obj, err := publicObject(ctx, d.catalog, name)
	if err != nil {
		return nil, errnoForError(err)
	}
	attr := fileAttr(obj)
	out.NodeId = attr.Ino
	out.Attr = attr
	out.SetEntryTimeout(entryTimeout)
	out.SetAttrTimeout(attrTimeout)
	child := &fileNode{catalog: d.catalog, obj: obj}
	return d.NewInode(ctx, child, gofuse.StableAttr{Mode: fuse.S_IFREG, Ino: attr.Ino}), 0
}

func (d *rootNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	objs, err := publicObjects(ctx, d.catalog)
	if err != nil {
		return nil, errnoForError(err)
	}
	entries := make([]fuse.DirEntry, 0, len(objs))
	for _, obj := range objs {
		entries = append(entries, fuse.DirEntry{
			Name: obj.Code,
			Mode: fuse.S_IFREG,
			Ino:  inodeForCode(obj.Code),
		})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (d *rootNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr = fuse.Attr{
		Ino:     rootIno,
		Mode:    fuse.S_IFDIR | 0o555,
		Nlink:   2,
		Blksize: defaultBlkSz,
	}
	setTimes(&out.Attr, d.started)
	out.SetTimeout(dirTimeout)
	return 0
}

// fileNode is one immutable paste.
type fileNode struct {
	gofuse.Inode
	catalog Catalog
	obj     repository.Object
}

var (
	_ gofuse.NodeOpener    = (*fileNode)(nil)
	_ gofuse.NodeGetattrer = (*fileNode)(nil)
)

func (f *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&uint32(os.O_WRONLY|os.O_RDWR|os.O_TRUNC|os.O_APPEND) != 0 {
		return nil, 0, syscall.EROFS
	}
	data, err := readContent(ctx, f.catalog, f.obj.Code)
	if err != nil {
		return nil, 0, errnoForError(err)
	}
	return &contentHandle{data: data}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Attr = fileAttr(f.obj)
	out.SetTimeout(attrTimeout)
	return 0
}

// contentHandle holds the decoded content for the life of an open file.
type contentHandle struct {
	data []byte
}

var _ gofuse.FileReader = (*contentHandle)(nil)

func (h *contentHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	return fuse.ReadResultData(sliceAt(h.data, off, len(dest))), 0
}

func fileAttr(obj repository.Object) fuse.Attr {
	size := uint64(0)
	if obj.Size > 0 {
		size = uint64(obj.Size)
	}
	attr := fuse.Attr{
		Ino:     inodeForCode(obj.Code),
		Mode:    fuse.S_IFREG | 0o444,
		Size:    size,
		Blocks:  (size + 511) / 512,
		Blksize: defaultBlkSz,
		Nlink:   1,
	}
	setTimes(&attr, obj.CreatedAt)
	return attr
}

func setTimes(attr *fuse.Attr, t time.Time) {
	if t.IsZero() {
		t = time.Now()
	}
	attr.Mtime = uint64(t.Unix())
	attr.Mtimensec = uint32(t.Nanosecond())
	attr.Ctime = attr.Mtime
	attr.Ctimensec = attr.Mtimensec
	attr.Atime = attr.Mtime
	attr.Atimensec = attr.Mtimensec
}

package fuse

import (
	"context"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/jacktea/xpaste/pkg/blob"
	"github.com/jacktea/xpaste/pkg/meta"
	"github.com/jacktea/xpaste/pkg/repository"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

func newTestRepo(t *testing.T) *repository.Repository {
	t.Helper()
	blobs, err := blob.NewPathStore(t.TempDir(), blob.Options{})
	if err != nil {
		t.Fatalf("path store: %v", err)
	}
	repo, err := repository.New(blobs, meta.NewMemoryStore(), repository.Options{})
	if err != nil {
		t.Fatalf("new repo: %v", err)
	}
	return repo
}

func put(t *testing.T, repo *repository.Repository, content, hash string) repository.Object {
	t.Helper()
	rec := meta.Record{PasswordHash: hash, CreatedAt: time.Unix(1700000000, 0).UTC()}
	obj, _, err := repo.PutIfAbsent(context.Background(), strings.NewReader(content), rec)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	return obj
}

func TestPublicObjectsSkipsProtected(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	open := put(t, repo, "visible", "")
	hidden := put(t, repo, "hidden", "$argon2id$stub")

	objs, err := publicObjects(ctx, repo)
	if err != nil {
		t.Fatalf("public objects: %v", err)
	}
	if len(objs) != 1 || objs[0].Code != open.Code {
		t.Fatalf("unexpected objects %+v", objs)
	}
	if _, err := publicObject(ctx, repo, hidden.Code); errnoForError(err) != syscall.ENOENT {
		t.Fatalf("expected protected lookup to be ENOENT, got %v", err)
	}
	if _, err := publicObject(ctx, repo, "not-a-code"); errnoForError(err) != syscall.ENOENT {
		t.Fatalf("expected malformed lookup to be ENOENT, got %v", err)
	}
	obj, err := publicObject(ctx, repo, open.Code)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	data, err := readContent(ctx, repo, obj.Code)
	if err != nil {
		t.Fatalf("read content: %v", err)
	}
	if string(data) != "visible" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestSliceAt(t *testing.T) {
	data := []byte("helloworld")
	tests := []struct {
		off  int64
		n    int
		want string
	}{
		{0, 5, "hello"},
		{5, 100, "world"},
		{10, 4, ""},
		{-1, 4, ""},
		{3, 0, ""},
	}
	for _, tc := range tests {
		if got := string(sliceAt(data, tc.off, tc.n)); got != tc.want {
			t.Fatalf("sliceAt(%d,%d)=%q, want %q", tc.off, tc.n, got, tc.want)
		}
	}
}

func TestInodeForCode(t *testing.T) {
	a := inodeForCode("AAAAAAAAAAAAAAAAAAAA")
	if a != inodeForCode("AAAAAAAAAAAAAAAAAAAA") {
		t.Fatalf("inode should be stable")
	}
	if a <= 1 {
		t.Fatalf("inode %d collides with root", a)
	}
}

func TestErrnoForError(t *testing.T) {
	if errnoForError(nil) != 0 {
		t.Fatalf("expected 0 for nil")
	}
	if errnoForError(xerrors.E(xerrors.KindNotFound, "op", "")) != syscall.ENOENT {
		t.Fatalf("expected ENOENT")
	}
	if errnoForError(xerrors.E(xerrors.KindInternal, "op", "")) != syscall.EIO {
		t.Fatalf("expected EIO")
	}
	if errnoForError(context.Canceled) != syscall.EINTR {
		t.Fatalf("expected EINTR")
	}
}

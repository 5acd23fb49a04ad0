package s3gw

import (
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jacktea/xpaste/pkg/blob"
	"github.com/jacktea/xpaste/pkg/meta"
	"github.com/jacktea/xpaste/pkg/repository"
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

func put(t *testing.T, repo *repository.Repository, content, contentType, hash string) repository.Object {
	t.Helper()
	rec := meta.Record{ContentType: contentType, PasswordHash: hash, CreatedAt: time.Unix(1700000000, 0).UTC()}
	obj, _, err := repo.PutIfAbsent(context.Background(), strings.NewReader(content), rec)
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	return obj
}

func do(t *testing.T, srv http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func TestS3GatewayGet(t *testing.T) {
	repo := newTestRepo(t)
	obj := put(t, repo, "hello world", "text/plain; charset=utf-8", "")
	srv := &Server{Catalog: repo}

	for _, target := range []string{"/" + obj.Code, "/pastes/" + obj.Code} {
		rr := do(t, srv, http.MethodGet, target, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rr.Code)
		}
		body, _ := io.ReadAll(rr.Body)
		if string(body) != "hello world" {
			t.Fatalf("%s: unexpected body %q", target, body)
		}
		if ct := rr.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
			t.Fatalf("%s: unexpected content type %q", target, ct)
		}
	}
}

func TestS3GatewayRange(t *testing.T) {
	repo := newTestRepo(t)
	obj := put(t, repo, "hello world", "text/plain", "")
	srv := &Server{Catalog: repo}

	rr := do(t, srv, http.MethodGet, "/"+obj.Code, http.Header{"Range": {"bytes=6-10"}})
	if rr.Code != http.StatusPartialContent {
		t.Fatalf("expected 206, got %d", rr.Code)
	}
	if body := rr.Body.String(); body != "world" {
		t.Fatalf("unexpected range body %q", body)
	}
}

func TestS3GatewayHidesProtected(t *testing.T) {
	repo := newTestRepo(t)
	public := put(t, repo, "public", "text/plain", "")
	secret := put(t, repo, "secret", "text/plain", "$argon2id$stub")
	srv := &Server{Catalog: repo}

	if rr := do(t, srv, http.MethodGet, "/"+secret.Code, nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for protected object, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/not-a-code", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for malformed key, got %d", rr.Code)
	}

	rr := do(t, srv, http.MethodGet, "/pastes/", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var listing struct {
		Contents []struct {
			Key  string
			Size int64
		}
	}
	if err := xml.Unmarshal(rr.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode listing: %v", err)
	}
	if len(listing.Contents) != 1 || listing.Contents[0].Key != public.Code || listing.Contents[0].Size != 6 {
		t.Fatalf("unexpected listing %+v", listing.Contents)
	}
}

func TestS3GatewayRejectsWrites(t *testing.T) {
	repo := newTestRepo(t)
	obj := put(t, repo, "immutable", "text/plain", "")
	srv := &Server{Catalog: repo}

	req := httptest.NewRequest(http.MethodPut, "/pastes/new.txt", strings.NewReader("data"))
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code < 400 {
		t.Fatalf("expected put to fail, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodDelete, "/pastes/"+obj.Code, nil); rr.Code < 400 {
		t.Fatalf("expected delete to fail, got %d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/"+obj.Code, nil); rr.Code != http.StatusOK {
		t.Fatalf("object should survive, got %d", rr.Code)
	}
}

func TestS3GatewayAuthMiddleware(t *testing.T) {
	repo := newTestRepo(t)
	srv := &Server{Catalog: repo, Opt: Options{Bucket: "test", APIKey: "secret"}}
	rr := do(t, srv, http.MethodGet, "/test/?list-type=2", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	rr = do(t, srv, http.MethodGet, "/test/?list-type=2", http.Header{"X-Api-Key": {"secret"}})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 after auth, got %d", rr.Code)
	}
}

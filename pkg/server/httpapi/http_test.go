package httpapi

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jacktea/xpaste/pkg/access"
	"github.com/jacktea/xpaste/pkg/blob"
	"github.com/jacktea/xpaste/pkg/fingerprint"
	"github.com/jacktea/xpaste/pkg/meta"
	"github.com/jacktea/xpaste/pkg/paste"
	"github.com/jacktea/xpaste/pkg/render"
	"github.com/jacktea/xpaste/pkg/repository"
)

type testConfig struct {
	maxSize int64
	apiKey  string
	webRoot string
	conceal bool
	metrics http.Handler
}

func newTestServer(t *testing.T, cfg testConfig) http.Handler {
	t.Helper()
	blobs, err := blob.NewPathStore(t.TempDir(), blob.Options{})
	if err != nil {
		t.Fatalf("path store: %v", err)
	}
	repo, err := repository.New(blobs, meta.NewMemoryStore(), repository.Options{})
	if err != nil {
		t.Fatalf("repository: %v", err)
	}
	svc := paste.New(repo, paste.Options{
		MaxSize:          cfg.maxSize,
		ConcealForbidden: cfg.conceal,
		Access:           access.Params{Time: 1, Memory: 1024, Threads: 1, KeyLen: 16},
	})
	renderer, err := render.New(render.Site{Title: "xpaste", Label: "paste", URL: "http://paste.test", WebRoot: cfg.webRoot})
	if err != nil {
		t.Fatalf("renderer: %v", err)
	}
	srv := &Server{Service: svc, Renderer: renderer, Opts: Options{APIKey: cfg.apiKey, MetricsHandler: cfg.metrics}}
	return srv.Handler()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func apiUpload(t *testing.T, h http.Handler, body, password string) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload/api", strings.NewReader(body))
	if password != "" {
		req.Header.Set(PasswordHeader, password)
	}
	rr := do(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	code := rr.Header().Get("X-Paste-Code")
	if !fingerprint.Valid(code) {
		t.Fatalf("upload returned invalid code %q", code)
	}
	return code
}

func TestIndexAndStatic(t *testing.T) {
	h := newTestServer(t, testConfig{})
	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), `<form method="post" action="/upload"`) {
		t.Fatalf("unexpected index %d: %s", rr.Code, rr.Body.String())
	}
	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/style.css", nil))
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/css") {
		t.Fatalf("unexpected stylesheet response %d %s", rr.Code, rr.Header().Get("Content-Type"))
	}
	if rr := do(t, h, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if rr := do(t, h, httptest.NewRequest(http.MethodGet, "/favicon.ico", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("favicon: %d", rr.Code)
	}
}

func TestAPIUploadAndRaw(t *testing.T) {
	h := newTestServer(t, testConfig{})
	content := "fn main() {\n    println!(\"<b>hi</b>\");\n}\n"
	req := httptest.NewRequest(http.MethodPost, "/upload/api?lang=rust", strings.NewReader(content))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := do(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("upload: %d %s", rr.Code, rr.Body.String())
	}
	code := rr.Header().Get("X-Paste-Code")
	if rr.Body.String() != "http://paste.test/"+code+"?lang=rust\n" {
		t.Fatalf("unexpected receipt %q", rr.Body.String())
	}

	rr = do(t, h, httptest.NewRequest(http.MethodGet, "/"+code+"/raw", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("raw: %d", rr.Code)
	}
	if rr.Body.String() != content {
		t.Fatalf("raw bytes differ: %q", rr.Body.String())
	}
	if got := rr.Header().Get("Content-Type"); got != "text/plain; charset=utf-8" {
		t.Fatalf("raw content type %q", got)
	}
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" || !strings.Contains(rr.Header().Get("Content-Security-Policy"), "sandbox") {
		t.Fatalf("raw response missing hardening headers: %v", rr.Header())
	}
	if got := rr.Header().Get("Content-Disposition"); !strings.HasPrefix(got, "inline") {
		t.Fatalf("text should display inline, got %q", got)
	}

	notModified := httptest.NewRequest(http.MethodGet, "/"+code+"/raw", nil)
	notModified.Header.Set("If-None-Match", rr.Header().Get("ETag"))
	if rr := do(t, h, notModified); rr.Code != http.StatusNotModified {
		t.Fatalf("expected 304, got %d", rr.Code)
	}
}

func TestRenderedViewIsEscaped(t *testing.T) {
	h := newTestServer(t, testConfig{})
	code := apiUpload(t, h, "<script>alert(1)</script>\n", "")
	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/"+code, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("view: %d", rr.Code)
	}
	if rr.Header().Get("Content-Type") != paste.RenderedContentType {
		t.Fatalf("view content type %q", rr.Header().Get("Content-Type"))
	}
	if strings.Contains(rr.Body.String(), "<script>alert") {
		t.Fatalf("view not escaped:\n%s", rr.Body.String())
	}
	raw := do(t, h, httptest.NewRequest(http.MethodGet, "/"+code+"/raw", nil))
	if raw.Body.String() != "<script>alert(1)</script>\n" {
		t.Fatalf("raw must be byte-exact, got %q", raw.Body.String())
	}
}

func TestPasswordProtectedRoutes(t *testing.T) {
	h := newTestServer(t, testConfig{})
	code := apiUpload(t, h, "top secret", "pw")
	for _, path := range []string{"/" + code, "/" + code + "/raw"} {
		if rr := do(t, h, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusForbidden {
			t.Fatalf("%s without password: expected 403, got %d", path, rr.Code)
		}
		if rr := do(t, h, httptest.NewRequest(http.MethodGet, path+"?password=nope", nil)); rr.Code != http.StatusForbidden {
			t.Fatalf("%s wrong password: expected 403, got %d", path, rr.Code)
		}
		rr := do(t, h, httptest.NewRequest(http.MethodGet, path+"?password=pw", nil))
		if rr.Code != http.StatusOK {
			t.Fatalf("%s right password: expected 200, got %d", path, rr.Code)
		}
		if rr.Header().Get("Cache-Control") != "private, no-store" {
			t.Fatalf("protected content must not be cached, got %q", rr.Header().Get("Cache-Control"))
		}
	}
}

func TestConcealForbidden(t *testing.T) {
	h := newTestServer(t, testConfig{conceal: true})
	code := apiUpload(t, h, "hidden", "pw")
	if rr := do(t, h, httptest.NewRequest(http.MethodGet, "/"+code+"/raw", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestErrorStatuses(t *testing.T) {
	h := newTestServer(t, testConfig{maxSize: 16})
	if rr := do(t, h, httptest.NewRequest(http.MethodPost, "/upload/api", strings.NewReader(""))); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty upload: expected 400, got %d", rr.Code)
	}
	big := strings.Repeat("x", 17)
	if rr := do(t, h, httptest.NewRequest(http.MethodPost, "/upload/api", strings.NewReader(big))); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("big upload: expected 413, got %d", rr.Code)
	}
	if rr := do(t, h, httptest.NewRequest(http.MethodGet, "/"+string(fingerprint.Of([]byte(big))), nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("rejected content: expected 404, got %d", rr.Code)
	}
	for _, path := range []string{"/nope", "/nope/raw", "/" + strings.Repeat("A", fingerprint.CodeLen)} {
		if rr := do(t, h, httptest.NewRequest(http.MethodGet, path, nil)); rr.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rr.Code)
		}
	}
}

func TestFormUpload(t *testing.T) {
	h := newTestServer(t, testConfig{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("content", "package main\n")
	mw.WriteField("language", "go")
	mw.WriteField("password", "pw")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr := do(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("form upload: %d %s", rr.Code, rr.Body.String())
	}
	code := string(fingerprint.Of([]byte("package main\n")))
	if !strings.Contains(rr.Body.String(), "http://paste.test/"+code+"?lang=go&amp;password=pw") {
		t.Fatalf("receipt missing link:\n%s", rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "password protected") {
		t.Fatalf("receipt missing password notice:\n%s", rr.Body.String())
	}
}

func TestFormUploadFile(t *testing.T) {
	h := newTestServer(t, testConfig{})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "image.png")
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	fw.Write(png)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if rr := do(t, h, req); rr.Code != http.StatusOK {
		t.Fatalf("file upload: %d %s", rr.Code, rr.Body.String())
	}
	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/"+string(fingerprint.Of(png))+"/raw", nil))
	if rr.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("expected sniffed image/png, got %q", rr.Header().Get("Content-Type"))
	}
	got, _ := io.ReadAll(rr.Body)
	if !bytes.Equal(got, png) {
		t.Fatalf("file bytes differ")
	}
}

func TestFormUploadLargeTextField(t *testing.T) {
	h := newTestServer(t, testConfig{maxSize: 32 << 20})
	text := strings.Repeat("0123456789abcdef", 12<<20/16)
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("content", text)
	mw.WriteField("password", "")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if rr := do(t, h, req); rr.Code != http.StatusOK {
		t.Fatalf("large form upload: expected 200, got %d", rr.Code)
	}
	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/"+string(fingerprint.Of([]byte(text)))+"/raw", nil))
	if rr.Code != http.StatusOK || rr.Body.Len() != len(text) {
		t.Fatalf("raw: status %d, %d bytes", rr.Code, rr.Body.Len())
	}
}

func TestFormUploadOverLimit(t *testing.T) {
	h := newTestServer(t, testConfig{maxSize: 16})
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("content", strings.Repeat("x", 17))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if rr := do(t, h, req); rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestAPIKeyGuardsUploadsOnly(t *testing.T) {
	h := newTestServer(t, testConfig{apiKey: "k"})
	if rr := do(t, h, httptest.NewRequest(http.MethodPost, "/upload/api", strings.NewReader("x"))); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without key, got %d", rr.Code)
	}
	req := httptest.NewRequest(http.MethodPost, "/upload/api", strings.NewReader("x"))
	req.Header.Set("X-API-Key", "k")
	rr := do(t, h, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with key, got %d", rr.Code)
	}
	code := rr.Header().Get("X-Paste-Code")
	if rr := do(t, h, httptest.NewRequest(http.MethodGet, "/"+code+"/raw", nil)); rr.Code != http.StatusOK {
		t.Fatalf("reads must not need the key, got %d", rr.Code)
	}
}

func TestWebRootPrefix(t *testing.T) {
	h := newTestServer(t, testConfig{webRoot: "/paste/"})
	req := httptest.NewRequest(http.MethodPost, "/paste/upload/api", strings.NewReader("rooted"))
	rr := do(t, h, req)
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Body.String(), "http://paste.test/paste/") {
		t.Fatalf("unexpected rooted upload %d %q", rr.Code, rr.Body.String())
	}
	code := rr.Header().Get("X-Paste-Code")
	if rr := do(t, h, httptest.NewRequest(http.MethodGet, "/paste/"+code+"/raw", nil)); rr.Code != http.StatusOK {
		t.Fatalf("rooted raw: %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestServer(t, testConfig{metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok_metric 1\n")
	})})
	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || rr.Body.String() != "ok_metric 1\n" {
		t.Fatalf("unexpected metrics response %d %q", rr.Code, rr.Body.String())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected request id header")
	}
}

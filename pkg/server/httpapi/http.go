package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jacktea/xpaste/pkg/metrics"
	"github.com/jacktea/xpaste/pkg/paste"
	"github.com/jacktea/xpaste/pkg/render"
	"github.com/jacktea/xpaste/pkg/server/middleware"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

// PasswordHeader carries the password on API uploads.
const PasswordHeader = "X-Paste-Password"

const (
	rawPolicy  = "default-src 'none'; img-src 'self'; style-src 'unsafe-inline'; sandbox"
	pagePolicy = "default-src 'self'; script-src 'none'; object-src 'none'; frame-ancestors 'none'"
	// Form fields other than the content are tiny; this is headroom for
	// them and the multipart framing.
	formOverhead = 64 << 10
	maxFieldLen  = 4 << 10
)

// Server exposes the paste service over HTTP.
type Server struct {
	Service  *paste.Service
	Renderer *render.Renderer
	Log      *slog.Logger
	Metrics  metrics.HTTPMetrics
	Opts     Options
}

// Options configure auth and the metrics endpoint.
type Options struct {
	// APIKey, when set, is required on uploads.
	APIKey string
	// MetricsHandler is served at /metrics when non-nil.
	MetricsHandler http.Handler
}

// Start begins listening on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	upload := middleware.Wrap(http.HandlerFunc(s.handleFormUpload), middleware.APIKeyAuth(s.Opts.APIKey))
	apiUpload := middleware.Wrap(http.HandlerFunc(s.handleAPIUpload), middleware.APIKeyAuth(s.Opts.APIKey))

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("POST /upload", upload)
	mux.Handle("POST /upload/api", apiUpload)
	mux.HandleFunc("GET /style.css", s.handleStyle)
	mux.HandleFunc("GET /favicon.ico", http.NotFound)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if s.Opts.MetricsHandler != nil {
		mux.Handle("GET /metrics", s.Opts.MetricsHandler)
	}
	mux.HandleFunc("GET /{code}", s.handleView)
	mux.HandleFunc("GET /{code}/raw", s.handleRaw)

	var handler http.Handler = middleware.Wrap(mux, middleware.AccessLog(s.logger(), s.Metrics))
	if root := s.Renderer.Site().Root(); root != "/" {
		handler = http.StripPrefix(strings.TrimSuffix(root, "/"), handler)
	}
	return middleware.Wrap(handler, middleware.RequestID())
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.Renderer.Index(&buf); err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.KindInternal, "httpapi.index", "", err), true)
		return
	}
	writeHTML(w, http.StatusOK, buf.Bytes())
}

func (s *Server) handleStyle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(s.Renderer.Style())
}

func (s *Server) handleFormUpload(w http.ResponseWriter, r *http.Request) {
	if max := s.Service.MaxSize(); max > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, max+formOverhead)
	}
	form, err := readUploadForm(r)
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	defer form.Close()

	req := paste.IngestRequest{Password: optional(form.password), Body: strings.NewReader("")}
	switch {
	case form.file != nil:
		req.Body = form.file
		req.ContentType = declaredType(form.fileType)
	case form.content != nil:
		req.Body = form.content
	}
	receipt, err := s.Service.Ingest(r.Context(), req)
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	var buf bytes.Buffer
	view := render.ReceiptView{Receipt: receipt, Password: form.password, Language: form.language}
	if err := s.Renderer.Receipt(&buf, view); err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.KindInternal, "httpapi.upload", receipt.Code, err), true)
		return
	}
	writeHTML(w, http.StatusOK, buf.Bytes())
}

// uploadForm holds the fields of the upload form. The pasted text and the
// file are spooled to temporary files because the password follows them in
// the form.
type uploadForm struct {
	content  *os.File
	file     *os.File
	fileType string
	password string
	language string
}

func (f *uploadForm) Close() {
	for _, tmp := range []*os.File{f.content, f.file} {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}
}

func readUploadForm(r *http.Request) (*uploadForm, error) {
	const op = "httpapi.upload"
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.KindInvalid, op, "", err)
	}
	form := &uploadForm{}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return form, nil
		}
		if err != nil {
			form.Close()
			return nil, formError(op, err)
		}
		switch part.FormName() {
		case "content":
			err = spool(part, &form.content)
		case "file":
			if part.FileName() == "" {
				break
			}
			form.fileType = part.Header.Get("Content-Type")
			err = spool(part, &form.file)
		case "password":
			form.password, err = readField(part)
		case "language":
			form.language, err = readField(part)
		}
		part.Close()
		if err != nil {
			form.Close()
			return nil, formError(op, err)
		}
	}
}

// spool copies part into a fresh temporary file left positioned at its
// start. An empty part leaves dst nil.
func spool(part *multipart.Part, dst **os.File) error {
	tmp, err := os.CreateTemp("", "xpaste-upload-*")
	if err != nil {
		return err
	}
	n, err := io.Copy(tmp, part)
	if err == nil {
		_, err = tmp.Seek(0, io.SeekStart)
	}
	if err != nil || n == 0 {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if *dst != nil {
		(*dst).Close()
		os.Remove((*dst).Name())
	}
	*dst = tmp
	return nil
}

func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldLen))
	return string(data), err
}

func formError(op string, err error) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return xerrors.E(xerrors.KindTooLarge, op, "")
	}
	return xerrors.Wrap(xerrors.KindInvalid, op, "", err)
}

func (s *Server) handleAPIUpload(w http.ResponseWriter, r *http.Request) {
	password := r.Header.Get(PasswordHeader)
	if password == "" {
		password = r.URL.Query().Get("password")
	}
	receipt, err := s.Service.Ingest(r.Context(), paste.IngestRequest{
		Body:        r.Body,
		Password:    optional(password),
		ContentType: declaredType(r.Header.Get("Content-Type")),
	})
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	var buf bytes.Buffer
	view := render.ReceiptView{Receipt: receipt, Password: password, Language: r.URL.Query().Get("lang")}
	if err := s.Renderer.APIReceipt(&buf, view); err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.KindInternal, "httpapi.upload", receipt.Code, err), false)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Paste-Code", receipt.Code)
	w.Write(buf.Bytes())
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	query := r.URL.Query()
	payload, err := s.Service.Resolve(r.Context(), paste.ResolveRequest{Code: code, Password: optional(query.Get("password"))})
	if err != nil {
		s.fail(w, r, err, true)
		return
	}
	defer payload.Close()
	content, err := io.ReadAll(payload.Body)
	if err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.KindInternal, "httpapi.view", code, err), true)
		return
	}
	var buf bytes.Buffer
	err = s.Renderer.Render(&buf, render.View{
		Code:        payload.Code,
		ContentType: payload.Object.ContentType,
		Size:        payload.Size,
		CreatedAt:   payload.CreatedAt,
		Language:    query.Get("lang"),
		Password:    query.Get("password"),
		Content:     content,
	})
	if err != nil {
		s.fail(w, r, xerrors.Wrap(xerrors.KindInternal, "httpapi.view", code, err), true)
		return
	}
	w.Header().Set("Content-Security-Policy", pagePolicy)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	setCaching(w, payload)
	w.Header().Set("Content-Type", payload.ContentType())
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	payload, err := s.Service.Resolve(r.Context(), paste.ResolveRequest{
		Code:     code,
		Password: optional(r.URL.Query().Get("password")),
		Raw:      true,
	})
	if err != nil {
		s.fail(w, r, err, false)
		return
	}
	defer payload.Close()
	h := w.Header()
	setCaching(w, payload)
	if match := r.Header.Get("If-None-Match"); match != "" && match == h.Get("ETag") {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", payload.ContentType())
	h.Set("Content-Disposition", payload.Disposition())
	h.Set("Content-Length", strconv.FormatInt(payload.Size, 10))
	h.Set("Content-Security-Policy", rawPolicy)
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, payload.Body); err != nil {
		s.logger().WarnContext(r.Context(), "raw copy interrupted", "code", code, "err", err)
	}
}

// Content never changes for a code, so public objects cache forever.
func setCaching(w http.ResponseWriter, p *paste.Payload) {
	if p.Protected() {
		w.Header().Set("Cache-Control", "private, no-store")
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("ETag", `"`+p.Code+`"`)
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error, html bool) {
	status := statusOf(err)
	message := http.StatusText(status)
	switch xerrors.KindOf(err) {
	case xerrors.KindEmpty:
		message = "nothing to store: the upload was empty"
	case xerrors.KindTooLarge:
		message = "upload exceeds the size limit"
	case xerrors.KindForbidden:
		message = "a valid password is required"
	}
	if !html {
		http.Error(w, message, status)
		return
	}
	var buf bytes.Buffer
	if renderErr := s.Renderer.Error(&buf, status, message); renderErr != nil {
		http.Error(w, message, status)
		return
	}
	writeHTML(w, status, buf.Bytes())
}

func statusOf(err error) int {
	switch xerrors.KindOf(err) {
	case xerrors.KindNotFound:
		return http.StatusNotFound
	case xerrors.KindForbidden:
		return http.StatusForbidden
	case xerrors.KindEmpty, xerrors.KindInvalid:
		return http.StatusBadRequest
	case xerrors.KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeHTML(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	w.Write(body)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

// declaredType drops the generic types HTTP clients send by default so the
// content gets sniffed instead.
func declaredType(v string) string {
	mediaType, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	switch mediaType {
	case "application/octet-stream", "application/x-www-form-urlencoded", "multipart/form-data":
		return ""
	}
	return v
}

// Package s3gw serves public pastes through a read-only S3-compatible API.
package s3gw

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/johannesboyne/gofakes3"

	"github.com/jacktea/xpaste/pkg/server/middleware"
)

// DefaultBucket is the bucket name objects are listed under.
const DefaultBucket = "pastes"

// Options configure the S3 gateway.
type Options struct {
	Bucket string
	APIKey string
}

// Server exposes a read-only subset of the S3 API backed by a Catalog.
type Server struct {
	Catalog Catalog
	Opt     Options

	handlerOnce sync.Once
	handler     http.Handler
}

// Start listens on addr until ctx is canceled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.httpHandler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpHandler().ServeHTTP(w, r)
}

func (s *Server) bucket() string {
	if s.Opt.Bucket == "" {
		return DefaultBucket
	}
	return s.Opt.Bucket
}

func (s *Server) httpHandler() http.Handler {
	s.handlerOnce.Do(func() {
		backend := NewBackend(s.Catalog, s.bucket())
		s3 := gofakes3.New(backend).Server()
		var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.ensureContentLength(r)
			s.rewriteBucketPath(r)
			s3.ServeHTTP(w, r)
		})
		if auth := middleware.APIKeyAuth(s.Opt.APIKey); auth != nil {
			handler = middleware.Wrap(handler, auth)
		}
		s.handler = handler
	})
	return s.handler
}

// rewriteBucketPath lets clients address objects as /<code> as well as
// /<bucket>/<code>.
func (s *Server) rewriteBucketPath(r *http.Request) {
	bucket := s.bucket()
	trimmed := strings.TrimPrefix(r.URL.Path, "/")
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(trimmed, bucket+"/") || trimmed == bucket {
		return
	}
	newPath := path.Join("/", bucket, trimmed)
	r.URL.Path = newPath
	r.URL.RawPath = newPath
}

func (s *Server) ensureContentLength(r *http.Request) {
	if r.Header.Get("Content-Length") != "" || r.ContentLength < 0 {
		return
	}
	r.Header.Set("Content-Length", strconv.FormatInt(r.ContentLength, 10))
}

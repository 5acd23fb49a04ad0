// Package paste implements the two request pipelines of the service:
// ingesting uploaded content under a content-derived code, and resolving a
// code back to its content.
package paste

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/jacktea/xpaste/pkg/access"
	"github.com/jacktea/xpaste/pkg/meta"
	"github.com/jacktea/xpaste/pkg/metrics"
	"github.com/jacktea/xpaste/pkg/repository"
	"github.com/jacktea/xpaste/pkg/xerrors"
)

// DefaultMaxSize bounds uploads when Options.MaxSize is zero.
const DefaultMaxSize = 10 << 20

// sniffLen is how much content http.DetectContentType looks at.
const sniffLen = 512

// Repository is the storage the pipelines run against.
type Repository interface {
	PutIfAbsent(ctx context.Context, src io.Reader, rec meta.Record) (repository.Object, bool, error)
	Get(ctx context.Context, code string) (repository.Object, error)
	Open(ctx context.Context, code string) (io.ReadCloser, error)
}

// Options configure a Service.
type Options struct {
	// MaxSize is the largest accepted upload in bytes. Negative disables
	// the limit.
	MaxSize int64
	// ConcealForbidden reports protected objects as not found when the
	// password is missing or wrong.
	ConcealForbidden bool
	// Access holds the argon2id parameters for new password hashes.
	Access  access.Params
	Logger  *slog.Logger
	Metrics metrics.Metrics
	Now     func() time.Time
}

// Service runs ingestion and resolution. It is safe for concurrent use.
type Service struct {
	repo    Repository
	gate    *access.Gate
	maxSize int64
	conceal bool
	log     *slog.Logger
	metrics metrics.Metrics
	now     func() time.Time
}

// New builds a Service over repo.
func New(repo Repository, opts Options) *Service {
	s := &Service{
		repo:    repo,
		gate:    access.New(opts.Access),
		maxSize: opts.MaxSize,
		conceal: opts.ConcealForbidden,
		log:     opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if s.maxSize == 0 {
		s.maxSize = DefaultMaxSize
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// MaxSize reports the effective upload limit, or a negative value when
// uploads are unbounded.
func (s *Service) MaxSize() int64 { return s.maxSize }

// IngestRequest is one upload.
type IngestRequest struct {
	Body io.Reader
	// Password protects the object when non-nil and non-empty.
	Password *string
	// ContentType is the uploader's declared media type, if any.
	ContentType string
}

// Receipt describes the outcome of an upload.
type Receipt struct {
	Code string
	// Protected reports whether the stored object requires a password.
	Protected bool
	// Created is false when identical content was already stored.
	Created bool
	// PasswordIgnored is set when the upload carried a password that does
	// not apply because the content was first stored without it, or with a
	// different one.
	PasswordIgnored bool
	Size            int64
	ContentType     string
}

// Ingest stores the request body under its code. Identical content always
// yields the same code and is stored once; the first upload decides the
// password and content type.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (Receipt, error) {
	const op = "paste.Ingest"
	if req.Body == nil {
		s.metrics.IncIngest(metrics.OutcomeEmpty)
		return Receipt{}, xerrors.E(xerrors.KindEmpty, op, "")
	}
	body := bufio.NewReaderSize(req.Body, sniffLen)
	head, err := body.Peek(sniffLen)
	if len(head) == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return Receipt{}, s.failIngest(ctx, err)
		}
		s.metrics.IncIngest(metrics.OutcomeEmpty)
		return Receipt{}, xerrors.E(xerrors.KindEmpty, op, "")
	}
	rec := meta.Record{
		ContentType: DetectContentType(req.ContentType, head),
		CreatedAt:   s.now().UTC(),
	}
	password := ""
	if req.Password != nil {
		password = *req.Password
	}
	if password != "" {
		rec.PasswordHash, err = s.gate.Hash(password)
		if err != nil {
			return Receipt{}, s.failIngest(ctx, err)
		}
	}

	var src io.Reader = body
	if s.maxSize > 0 {
		src = &sizeLimiter{r: body, remaining: s.maxSize}
	}
	obj, created, err := s.repo.PutIfAbsent(ctx, src, rec)
	if err != nil {
		if xerrors.KindOf(err) == xerrors.KindTooLarge {
			s.metrics.IncIngest(metrics.OutcomeTooLarge)
			return Receipt{}, xerrors.E(xerrors.KindTooLarge, op, "")
		}
		return Receipt{}, s.failIngest(ctx, err)
	}

	receipt := Receipt{
		Code:        obj.Code,
		Protected:   obj.Protected(),
		Created:     created,
		Size:        obj.Size,
		ContentType: obj.ContentType,
	}
	if !created && password != "" {
		receipt.PasswordIgnored = !obj.Protected() || s.gate.Check(obj.PasswordHash, &password) != nil
	}
	if created {
		s.metrics.IncIngest(metrics.OutcomeCreated)
		s.metrics.AddIngestBytes(obj.Size)
		s.log.InfoContext(ctx, "object stored", "code", obj.Code, "size", obj.Size,
			"content_type", obj.ContentType, "protected", receipt.Protected)
	} else {
		s.metrics.IncIngest(metrics.OutcomeDeduplicated)
		s.log.DebugContext(ctx, "object already stored", "code", obj.Code, "password_ignored", receipt.PasswordIgnored)
	}
	return receipt, nil
}

// ResolveRequest asks for one object.
type ResolveRequest struct {
	Code     string
	Password *string
	// Raw selects the exact stored bytes with their stored media type
	// instead of the rendered view.
	Raw bool
}

// Resolve looks up an object and checks the password attempt against it.
// The returned payload's Body must be closed by the caller.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*Payload, error) {
	const op = "paste.Resolve"
	mode := ModeRendered
	if req.Raw {
		mode = ModeRaw
	}
	obj, err := s.repo.Get(ctx, req.Code)
	if err != nil {
		if xerrors.KindOf(err) == xerrors.KindNotFound {
			s.metrics.IncResolve(mode.String(), metrics.OutcomeNotFound)
			return nil, xerrors.E(xerrors.KindNotFound, op, req.Code)
		}
		s.metrics.IncResolve(mode.String(), metrics.OutcomeError)
		return nil, s.fail(ctx, op, req.Code, err)
	}
	if err := s.gate.Check(obj.PasswordHash, req.Password); err != nil {
		if xerrors.KindOf(err) != xerrors.KindForbidden {
			s.metrics.IncResolve(mode.String(), metrics.OutcomeError)
			return nil, s.fail(ctx, op, req.Code, err)
		}
		s.metrics.IncResolve(mode.String(), metrics.OutcomeForbidden)
		if s.conceal {
			return nil, xerrors.E(xerrors.KindNotFound, op, req.Code)
		}
		return nil, xerrors.E(xerrors.KindForbidden, op, req.Code)
	}
	body, err := s.repo.Open(ctx, obj.Code)
	if err != nil {
		s.metrics.IncResolve(mode.String(), metrics.OutcomeError)
		return nil, s.fail(ctx, op, req.Code, err)
	}
	s.metrics.IncResolve(mode.String(), metrics.OutcomeServed)
	return &Payload{Object: obj, Mode: mode, Body: body}, nil
}

func (s *Service) failIngest(ctx context.Context, err error) error {
	s.metrics.IncIngest(metrics.OutcomeError)
	return s.fail(ctx, "paste.Ingest", "", err)
}

// fail logs a storage or internal failure and returns it as KindInternal.
func (s *Service) fail(ctx context.Context, op, code string, err error) error {
	s.log.ErrorContext(ctx, "storage failure", "op", op, "code", code, "err", err)
	return xerrors.Wrap(xerrors.KindInternal, op, code, err)
}

// DetectContentType returns the declared media type when it parses, and
// otherwise sniffs head.
func DetectContentType(declared string, head []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		if mediaType, params, err := mime.ParseMediaType(declared); err == nil {
			if formatted := mime.FormatMediaType(mediaType, params); formatted != "" {
				return formatted
			}
		}
	}
	return http.DetectContentType(head)
}

// sizeLimiter fails with KindTooLarge once more than remaining bytes have
// been read.
type sizeLimiter struct {
	r         io.Reader
	remaining int64
}

func (l *sizeLimiter) Read(p []byte) (int, error) {
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, xerrors.ErrTooLarge
	}
	return n, err
}

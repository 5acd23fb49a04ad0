package blob

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jacktea/xpaste/pkg/compress"
	"github.com/jacktea/xpaste/pkg/encryption"
)

// ID is the content-derived identifier of a blob. It is the paste code.
type ID string

// Store is the minimal interface required by higher layers. Blobs are
// immutable and addressed by the fingerprint of their plaintext.
type Store interface {
	// Put streams r into the store and returns its ID and plaintext length.
	// Storing content that already exists is a no-op.
	Put(ctx context.Context, r io.Reader) (ID, int64, error)
	// Get returns the plaintext of a blob.
	Get(ctx context.Context, id ID) (io.ReadCloser, error)
	Exists(ctx context.Context, id ID) (bool, error)
}

// Options controls how blobs are encoded at rest.
type Options struct {
	Compression compress.Tag
	Encryption  encryption.Options
}

// Blobs start with a two byte header: compression tag, encryption tag.
const headerLen = 2

func newEncoder(dst io.Writer, opts Options) (io.WriteCloser, error) {
	if err := opts.Encryption.Validate(); err != nil {
		return nil, err
	}
	header := [headerLen]byte{byte(opts.Compression), byte(opts.Encryption.Tag())}
	if _, err := dst.Write(header[:]); err != nil {
		return nil, err
	}
	enc, err := encryption.WrapWriter(dst, opts.Encryption)
	if err != nil {
		return nil, err
	}
	return compress.NewWriter(enc, opts.Compression)
}

func newDecoder(src io.Reader, opts Options) (io.ReadCloser, error) {
	var header [headerLen]byte
	if _, err := io.ReadFull(src, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("blob: truncated header")
		}
		return nil, err
	}
	dec, err := encryption.WrapReader(src, encryption.Tag(header[1]), opts.Encryption)
	if err != nil {
		return nil, err
	}
	return compress.NewReader(dec, compress.Tag(header[0]))
}

// readCloser closes the decoder before the underlying source.
type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Package compress provides the streaming codecs used for blobs at rest.
package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the codec a blob was written with. Tags are persisted in
// blob headers, so existing values must never change.
type Tag uint8

const (
	// None stores content verbatim.
	None Tag = 0
	// LZ4 uses the LZ4 frame format. Fast, modest ratio.
	LZ4 Tag = 1
	// Zstd uses zstd at the default level. Better ratio on text.
	Zstd Tag = 2
)

func (t Tag) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Parse maps a configuration name to a Tag. The empty string means None.
func Parse(name string) (Tag, error) {
	switch name {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("compress: unknown codec %q", name)
	}
}

// NewWriter returns a WriteCloser compressing into dst. Close flushes the
// codec but does not close dst.
func NewWriter(dst io.Writer, tag Tag) (io.WriteCloser, error) {
	switch tag {
	case None:
		return nopWriteCloser{dst}, nil
	case LZ4:
		return lz4.NewWriter(dst), nil
	case Zstd:
		enc, err := zstd.NewWriter(dst, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("compress: unsupported codec %s", tag)
	}
}

// NewReader returns a ReadCloser decompressing src. Close releases codec
// state but does not close src.
func NewReader(src io.Reader, tag Tag) (io.ReadCloser, error) {
	switch tag {
	case None:
		return io.NopCloser(src), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(src)), nil
	case Zstd:
		dec, err := zstd.NewReader(src, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("compress: zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("compress: unsupported codec %s", tag)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
)

// Method enumerates supported encryption algorithms.
type Method string

const (
	// MethodNone skips encryption entirely.
	MethodNone Method = "none"
	// MethodAES256CTR encrypts data using AES-256 in CTR mode with a random IV prefix.
	MethodAES256CTR Method = "aes-256-ctr"
)

// Tag is the one-byte form of a Method persisted in blob headers.
type Tag uint8

const (
	TagNone      Tag = 0
	TagAES256CTR Tag = 1
)

// Options describes how to encrypt or decrypt payloads.
type Options struct {
	Method Method
	Key    []byte
}

// ParseKey builds AES-256-CTR options from a hex-encoded 32-byte key.
func ParseKey(hexKey string) (Options, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil || len(key) != 32 {
		return Options{}, fmt.Errorf("encryption: key must be 32 bytes of hex")
	}
	return Options{Method: MethodAES256CTR, Key: key}, nil
}

// Enabled reports whether encryption should run.
func (o Options) Enabled() bool {
	return o.Method != "" && o.Method != MethodNone
}

// Tag returns the header tag for the configured method.
func (o Options) Tag() Tag {
	if o.Method == MethodAES256CTR {
		return TagAES256CTR
	}
	return TagNone
}

// Validate ensures the configuration is usable for the selected method.
func (o Options) Validate() error {
	if !o.Enabled() {
		return nil
	}
	switch o.Method {
	case MethodAES256CTR:
		if len(o.Key) != 32 {
			return fmt.Errorf("encryption: aes-256-ctr requires 32-byte key, got %d", len(o.Key))
		}
	default:
		return fmt.Errorf("encryption: unsupported method %q", o.Method)
	}
	return nil
}

// WrapWriter returns an io.Writer that encrypts streaming data before writing to dst.
// The IV is written to dst before WrapWriter returns.
func WrapWriter(dst io.Writer, opts Options) (io.Writer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if !opts.Enabled() {
		return dst, nil
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}
	if _, err := dst.Write(iv); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(opts.Key)
	if err != nil {
		return nil, err
	}
	return &cipher.StreamWriter{S: cipher.NewCTR(block, iv), W: dst}, nil
}

// WrapReader reverses WrapWriter for data written with the method named by tag.
// The key in opts is used regardless of the configured method so blobs stay
// readable after encryption is switched off.
func WrapReader(src io.Reader, tag Tag, opts Options) (io.Reader, error) {
	switch tag {
	case TagNone:
		return src, nil
	case TagAES256CTR:
		if len(opts.Key) != 32 {
			return nil, fmt.Errorf("encryption: blob is encrypted but no 32-byte key is configured")
		}
		iv := make([]byte, aes.BlockSize)
		if _, err := io.ReadFull(src, iv); err != nil {
			return nil, fmt.Errorf("encryption: read iv: %w", err)
		}
		block, err := aes.NewCipher(opts.Key)
		if err != nil {
			return nil, err
		}
		return &cipher.StreamReader{S: cipher.NewCTR(block, iv), R: src}, nil
	default:
		return nil, fmt.Errorf("encryption: unsupported tag %d", tag)
	}
}

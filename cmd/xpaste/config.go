package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jacktea/xpaste/pkg/blob"
	"github.com/jacktea/xpaste/pkg/compress"
	"github.com/jacktea/xpaste/pkg/encryption"
	"github.com/jacktea/xpaste/pkg/meta"
	"github.com/jacktea/xpaste/pkg/paste"
)

type storageOptions struct {
	Root         string
	Endpoint     string
	Bucket       string
	Prefix       string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	Blob         blob.Options
}

func buildBlobStore(provider string, opts storageOptions) (blob.Store, error) {
	switch strings.ToLower(provider) {
	case "", "local":
		if opts.Root == "" {
			return nil, errors.New("local storage requires a root directory")
		}
		return blob.NewPathStore(opts.Root, opts.Blob)
	case "s3":
		if opts.Endpoint == "" || opts.Bucket == "" || opts.AccessKey == "" || opts.SecretKey == "" || opts.Region == "" {
			return nil, errors.New("s3 config requires endpoint, bucket, region, access key, and secret key")
		}
		return blob.NewS3Store(blob.S3Config{
			RemoteConfig: blob.RemoteConfig{
				Endpoint:     opts.Endpoint,
				Bucket:       opts.Bucket,
				Prefix:       opts.Prefix,
				CacheEntries: 1024,
				Options:      opts.Blob,
			},
			Region:       opts.Region,
			AccessKey:    opts.AccessKey,
			SecretKey:    opts.SecretKey,
			SessionToken: opts.SessionToken,
		})
	default:
		return nil, fmt.Errorf("unknown storage provider %q", provider)
	}
}

func blobOptions(codec string, encrypt bool, key string) (blob.Options, error) {
	tag, err := compress.Parse(strings.ToLower(codec))
	if err != nil {
		return blob.Options{}, err
	}
	opts := blob.Options{Compression: tag}
	if encrypt {
		if key == "" {
			return blob.Options{}, errors.New("encryption enabled but key missing")
		}
		enc, err := encryption.ParseKey(key)
		if err != nil {
			return blob.Options{}, errors.New("encryption key must be 32 bytes of hex")
		}
		opts.Encryption = enc
	}
	return opts, nil
}

type metaOptions struct {
	Path        string
	RedisAddr   string
	RedisPrefix string
}

func buildMetaStore(backend string, opts metaOptions) (meta.Store, error) {
	switch strings.ToLower(backend) {
	case "", "bolt":
		if opts.Path == "" {
			return nil, errors.New("bolt metadata requires a database path")
		}
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return nil, err
		}
		return meta.NewBoltStore(meta.BoltConfig{Path: opts.Path})
	case "redis":
		if opts.RedisAddr == "" {
			return nil, errors.New("redis metadata requires --redis-addr")
		}
		return meta.NewRedisStore(meta.RedisConfig{Addr: opts.RedisAddr, Prefix: opts.RedisPrefix})
	case "memory":
		return meta.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown metadata backend %q", backend)
	}
}

// parseMaxSize reads a human size such as "10MiB" or "512k". Zero, "none"
// and "unlimited" turn the limit off.
func parseMaxSize(s string) (int64, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return paste.DefaultMaxSize, nil
	case "0", "none", "unlimited":
		return -1, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("max_size: %w", err)
	}
	if n == 0 {
		return -1, nil
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("max_size: %s is too large", s)
	}
	return int64(n), nil
}

func buildLogger(level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

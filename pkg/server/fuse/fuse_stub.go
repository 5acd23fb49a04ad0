//go:build !linux

package fuse

import (
	"context"
	"fmt"
)

// Options tune the mount.
type Options struct {
	FsName string
	Debug  bool
}

// Mount exposes public objects read-only at mountpoint.
func Mount(ctx context.Context, catalog Catalog, mountpoint string, opts Options) error {
	return fmt.Errorf("fuse mount not supported in this build")
}

// Package nfs exports public pastes as a read-only NFS share.
package nfs

import (
	"context"
	"fmt"
	"net"

	billy "github.com/go-git/go-billy/v5"
	nfsproto "github.com/willscott/go-nfs"
	nfshelper "github.com/willscott/go-nfs/helpers"
)

// Options control the exported NFS service.
type Options struct {
	// HandleCache controls how many active file handles are cached (default 1024).
	HandleCache int
}

// Serve exposes the catalog over NFS at addr using default options.
func Serve(ctx context.Context, catalog Catalog, addr string) error {
	return ServeWithOptions(ctx, catalog, addr, Options{})
}

// ServeWithOptions exposes the catalog over NFS with custom options.
func ServeWithOptions(ctx context.Context, catalog Catalog, addr string, opts Options) error {
	if catalog == nil {
		return fmt.Errorf("nfs: catalog is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if addr == "" {
		addr = ":2049"
	}
	cacheSize := opts.HandleCache
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	handler := nfshelper.NewNullAuthHandler(newFilesystem(ctx, catalog))
	handler = nfshelper.NewCachingHandler(handler, cacheSize)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("nfs: listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		_ = l.Close()
	}()
	srv := &nfsproto.Server{
		Handler: handler,
		Context: ctx,
	}
	return srv.Serve(l)
}

var (
	_ billy.Filesystem = (*filesystem)(nil)
	_ billy.Capable    = (*filesystem)(nil)
	_ billy.File       = (*file)(nil)
)

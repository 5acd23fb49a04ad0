package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/jacktea/xpaste/pkg/audit"
	"github.com/jacktea/xpaste/pkg/metrics"
	"github.com/jacktea/xpaste/pkg/paste"
	"github.com/jacktea/xpaste/pkg/render"
	"github.com/jacktea/xpaste/pkg/repository"
	"github.com/jacktea/xpaste/pkg/server/fuse"
	"github.com/jacktea/xpaste/pkg/server/httpapi"
	"github.com/jacktea/xpaste/pkg/server/nfs"
	"github.com/jacktea/xpaste/pkg/server/s3gw"
)

const metricsNamespace = "xpaste"

type serveOptions struct {
	Addr    string
	APIKey  string
	Metrics bool
}

type s3ServeOptions struct {
	Addr   string
	Bucket string
	APIKey string
}

type nfsServeOptions struct {
	Addr        string
	HandleCache int
}

type putOptions struct {
	Password    *string
	ContentType string
	Language    string
}

func runServe(ctx context.Context, a *app, opt serveOptions) error {
	renderer, err := render.New(a.site)
	if err != nil {
		return err
	}
	server := &httpapi.Server{
		Renderer: renderer,
		Log:      a.log,
		Opts:     httpapi.Options{APIKey: opt.APIKey},
	}
	if opt.Metrics {
		server.Service = a.service(metrics.NewProm(metricsNamespace))
		server.Metrics = metrics.NewHTTPProm(metricsNamespace)
		server.Opts.MetricsHandler = metrics.Handler()
	} else {
		server.Service = a.service(metrics.Noop{})
		server.Metrics = metrics.Noop{}
	}
	a.log.Info("serving http", "addr", opt.Addr, "url", a.site.URL, "max_size", a.maxSize)
	return server.Start(ctx, opt.Addr)
}

func runServeS3(ctx context.Context, repo *repository.Repository, opt s3ServeOptions) error {
	if opt.Bucket == "" {
		return errors.New("serve-s3: --bucket is required")
	}
	server := &s3gw.Server{Catalog: repo, Opt: s3gw.Options{Bucket: opt.Bucket, APIKey: opt.APIKey}}
	fmt.Fprintf(os.Stderr, "Serving S3 gateway on %s (bucket %s)\n", opt.Addr, opt.Bucket)
	return server.Start(ctx, opt.Addr)
}

func runServeNFS(ctx context.Context, repo *repository.Repository, opt nfsServeOptions) error {
	if opt.HandleCache <= 0 {
		opt.HandleCache = 1024
	}
	fmt.Fprintf(os.Stderr, "Serving NFS on %s\n", opt.Addr)
	return nfs.ServeWithOptions(ctx, repo, opt.Addr, nfs.Options{HandleCache: opt.HandleCache})
}

func runMountFuse(ctx context.Context, repo *repository.Repository, mountpoint string, debug bool) error {
	fmt.Fprintf(os.Stderr, "Mounting via FUSE at %s\n", mountpoint)
	return fuse.Mount(ctx, repo, mountpoint, fuse.Options{Debug: debug})
}

// doPut stores src and prints the same one-line receipt the upload API
// returns.
func doPut(ctx context.Context, svc *paste.Service, site render.Site, src io.Reader, out io.Writer, opt putOptions) error {
	receipt, err := svc.Ingest(ctx, paste.IngestRequest{
		Body:        src,
		Password:    opt.Password,
		ContentType: opt.ContentType,
	})
	if err != nil {
		return err
	}
	if receipt.PasswordIgnored {
		fmt.Fprintln(os.Stderr, "note: identical content already exists; the password was not applied")
	}
	renderer, err := render.New(site)
	if err != nil {
		return err
	}
	view := render.ReceiptView{Receipt: receipt, Language: opt.Language}
	if opt.Password != nil {
		view.Password = *opt.Password
	}
	return renderer.APIReceipt(out, view)
}

func doGet(ctx context.Context, svc *paste.Service, code string, password *string, out io.Writer) error {
	payload, err := svc.Resolve(ctx, paste.ResolveRequest{Code: code, Password: password, Raw: true})
	if err != nil {
		return err
	}
	defer payload.Close()
	_, err = io.Copy(out, payload.Body)
	return err
}

const listPage = 500

func doList(ctx context.Context, repo *repository.Repository, after string, limit int, out io.Writer) error {
	remaining := limit
	for {
		n := listPage
		if remaining > 0 && remaining < n {
			n = remaining
		}
		objs, err := repo.List(ctx, after, n)
		if err != nil {
			return err
		}
		for _, obj := range objs {
			lock := ""
			if obj.Protected() {
				lock = "\tprotected"
			}
			fmt.Fprintf(out, "%s\t%s\t%s\t%s%s\n", obj.Code, humanize.IBytes(uint64(obj.Size)), obj.ContentType, humanize.Time(obj.CreatedAt), lock)
		}
		if remaining > 0 {
			remaining -= len(objs)
			if remaining <= 0 {
				return nil
			}
		}
		if len(objs) < n {
			return nil
		}
		after = objs[len(objs)-1].Code
	}
}

func doCheck(ctx context.Context, a *app, batch int, out io.Writer) error {
	report, err := audit.New(audit.Options{
		Records:   a.records,
		Blobs:     a.blobs,
		BatchSize: batch,
		Logger:    a.log,
	}).Run(ctx)
	if err != nil {
		return err
	}
	for _, code := range report.Missing {
		fmt.Fprintf(out, "missing\t%s\n", code)
	}
	fmt.Fprintf(out, "checked %d pastes, %d missing\n", report.Checked, len(report.Missing))
	if len(report.Missing) > 0 {
		return fmt.Errorf("check: %d pastes have lost their content", len(report.Missing))
	}
	return nil
}

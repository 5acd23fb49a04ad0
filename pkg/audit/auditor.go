// Package audit checks that every published record still has its blob.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jacktea/xpaste/pkg/blob"
	"github.com/jacktea/xpaste/pkg/meta"
)

// Options configures an Auditor.
type Options struct {
	Records   meta.Store
	Blobs     blob.Store
	BatchSize int
	Logger    *slog.Logger
}

// Report summarises one pass.
type Report struct {
	Checked int
	// Missing lists codes whose record exists without a blob. Reads of
	// these objects fail with an internal error.
	Missing []string
}

// Auditor walks the metadata store and probes the blob store.
type Auditor struct {
	records   meta.Store
	blobs     blob.Store
	batchSize int
	log       *slog.Logger
}

// New wires metadata and blob stores for an audit.
func New(opts Options) *Auditor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Auditor{
		records:   opts.Records,
		blobs:     opts.Blobs,
		batchSize: opts.BatchSize,
		log:       log,
	}
}

// Run performs one read-only pass over all records.
func (a *Auditor) Run(ctx context.Context) (Report, error) {
	var report Report
	if a.records == nil || a.blobs == nil {
		return report, fmt.Errorf("audit: missing dependencies")
	}
	limit := a.batchSize
	if limit <= 0 {
		limit = 128
	}
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		records, err := a.records.List(ctx, after, limit)
		if err != nil {
			return report, err
		}
		for _, rec := range records {
			ok, err := a.blobs.Exists(ctx, blob.ID(rec.Code))
			if err != nil {
				return report, err
			}
			report.Checked++
			if !ok {
				a.log.Warn("record without blob", "code", rec.Code)
				report.Missing = append(report.Missing, rec.Code)
			}
		}
		if len(records) < limit {
			return report, nil
		}
		after = records[len(records)-1].Code
	}
}

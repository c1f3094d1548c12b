// Package service defines the contracts between the pipeline and its
// external collaborators.
package service

import (
	"context"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

// MetadataSource is the slow external source of record metadata. FetchByIdentifier
// returns (nil, nil) when the source has no entry for the identifier; any
// error is transport-level and may be retried. Implementations must honor
// ctx deadlines and be safe for concurrent use.
type MetadataSource interface {
	FetchByIdentifier(ctx context.Context, identifier string) (*model.MetadataPayload, error)
}

// CacheStore is the durable record cache. Reads fail open: a read error is
// treated by callers as a cache miss. A nil entry with a nil error is a
// plain miss. BatchUpsert uses merge semantics: fields already cached but
// absent from the new entry are preserved.
type CacheStore interface {
	GetByBarcode(ctx context.Context, barcode string) (*model.CacheEntry, error)
	GetByBarcodes(ctx context.Context, barcodes []string) (map[string]*model.CacheEntry, error)
	BatchUpsert(ctx context.Context, entries []model.CacheEntry) (int, error)
	Close() error
}

// IdentifierResolver backfills missing identifiers from an alternate lookup
// keyed by barcode. Resolve returns ("", nil) when no identifier could be
// found. The pipeline only invokes it above a configured row-count
// threshold because implementations may have heavy startup cost.
type IdentifierResolver interface {
	Resolve(ctx context.Context, barcode string) (string, error)
}

// TableCodec loads and saves the working table in one tabular file format.
type TableCodec interface {
	// Extensions lists the file extensions (with dot, lowercase) the codec handles.
	Extensions() []string
	Load(path string) (Table, error)
	Save(table Table, path string) error
}

// Table is the minimal surface codecs need from the row store.
type Table interface {
	Columns() []string
	Len() int
	Rows() []*model.Record
}

// RetryPolicy is the fetch retry schedule: an explicit list of waits plus a
// uniform jitter window applied after every attempt regardless of outcome.
type RetryPolicy struct {
	// MaxAttempts caps total tries (first attempt included).
	MaxAttempts int
	// Backoff holds the wait before retry n+1; the last entry repeats when
	// attempts outnumber entries.
	Backoff []time.Duration
	// JitterMin and JitterMax bound the random delay added after each attempt.
	JitterMin time.Duration
	JitterMax time.Duration
}

// RowFailure describes one row-scoped failure for the final report.
type RowFailure struct {
	Barcode    string
	Identifier string
	Stage      string
	Reason     string
}

// RunSummary aggregates everything the report needs from one pipeline run.
type RunSummary struct {
	RunID          string
	StartedAt      time.Time
	FinishedAt     time.Time
	Resumed        bool
	TotalRows      int
	StatusCounts   map[model.Status]int
	CategoryCounts map[model.Category]int
	FetchAttempted int
	FetchSucceeded int
	FetchFailed    int
	CacheWrites    int
	Failures       []RowFailure
	Filter         *model.FilterResult
}

// Duration returns the wall-clock length of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() || s.StartedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

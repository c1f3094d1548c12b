// Package engine orchestrates the record enrichment pipeline: preprocess,
// classify against the cache, fetch what is missing, persist, filter.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/config"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/filter"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/progress"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/table"
)

// Engine wires the pipeline stages around one table run.
type Engine struct {
	cfg      config.Config
	source   service.MetadataSource
	cache    service.CacheStore
	resolver service.IdentifierResolver
	rules    []model.ColumnRule
	logger   *slog.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithResolver attaches the optional identifier resolver used to backfill
// rows that carry a barcode but no identifier.
func WithResolver(r service.IdentifierResolver) Option {
	return func(e *Engine) {
		e.resolver = r
	}
}

// New creates an engine from validated configuration and its collaborators.
func New(cfg config.Config, source service.MetadataSource, cache service.CacheStore, opts ...Option) (*Engine, error) {
	rules, err := cfg.CompileRules()
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		source: source,
		cache:  cache,
		rules:  rules,
		logger: slog.Default().With("component", "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// RunOptions carries the per-invocation parameters of one pipeline run.
type RunOptions struct {
	InputPath string
	// OutputPath is where saves land; empty rewrites the input in place.
	OutputPath string
	// Reset clears every terminal status back to pending before processing.
	Reset bool
}

// tableSink is the codec and path the run saves the table through.
type tableSink struct {
	codec service.TableCodec
	path  string
}

// Run executes the full pipeline over one table. Row-scoped failures are
// collected in the summary and never abort the run; the returned error is
// reserved for cancellation and environment-level problems. On error the
// checkpoint is kept so the next invocation resumes.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*service.RunSummary, error) {
	if strings.TrimSpace(opts.InputPath) == "" {
		return nil, fmt.Errorf("%w: input path", common.ErrMissingConfig)
	}
	outputPath := opts.OutputPath
	if outputPath == "" {
		outputPath = opts.InputPath
	}

	mapping := e.mapping()
	codec, err := table.CodecFor(opts.InputPath, mapping)
	if err != nil {
		return nil, err
	}
	outCodec := codec
	if outputPath != opts.InputPath {
		if outCodec, err = table.CodecFor(outputPath, mapping); err != nil {
			return nil, err
		}
	}

	tbl, err := codec.Load(opts.InputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load table: %w", err)
	}

	tracker, err := progress.NewTracker(tbl, progress.Options{
		InputPath:      opts.InputPath,
		CheckpointPath: e.checkpointPath(opts.InputPath),
		LockPath:       e.lockPath(opts.InputPath),
		MinInterval:    e.cfg.Checkpoint.MinInterval,
		Reset:          opts.Reset,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := tracker.Close(); closeErr != nil {
			e.logger.Warn("Failed to release run lock", "error", closeErr)
		}
	}()

	summary := &service.RunSummary{
		RunID:     tracker.RunID(),
		StartedAt: time.Now(),
		Resumed:   tracker.Resumed(),
		TotalRows: tbl.Len(),
	}
	sink := tableSink{codec: outCodec, path: outputPath}

	e.logger.Info("Starting enrichment run",
		"run_id", summary.RunID,
		"input", opts.InputPath,
		"rows", summary.TotalRows,
		"resumed", summary.Resumed)

	rows := tbl.Rows()

	if _, err := e.preprocess(ctx, tracker, rows, summary); err != nil {
		return e.abort(tracker, sink, summary, err)
	}

	if err := e.classify(ctx, tracker, rows); err != nil {
		return e.abort(tracker, sink, summary, err)
	}
	if err := tracker.WriteCheckpoint(true, "classified"); err != nil {
		e.logger.Warn("Checkpoint write failed", "error", err)
	}

	writer := newCacheWriter(e.cache, e.cfg.Fields, e.logger)
	outcome, fetchErr := e.fetchAll(ctx, tracker, writer, fetchPlan(rows), sink)
	summary.FetchAttempted = outcome.attempted
	summary.FetchSucceeded = outcome.succeeded
	summary.FetchFailed = outcome.notFound + outcome.failed
	summary.CacheWrites = outcome.cacheWrites
	summary.Failures = append(summary.Failures, outcome.failures...)
	if fetchErr != nil {
		return e.abort(tracker, sink, summary, fetchErr)
	}

	thresholder := filter.New(e.cfg.Filter, e.rules, e.filterColumns())
	summary.Filter = thresholder.Apply(rows)

	if err := tracker.Finalize(outCodec, outputPath); err != nil {
		e.finishSummary(tracker, summary)
		return summary, err
	}

	e.finishSummary(tracker, summary)
	e.logger.Info("Run complete",
		"run_id", summary.RunID,
		"duration", summary.Duration().Round(time.Millisecond),
		"fetched", summary.FetchSucceeded,
		"candidates", summary.Filter.CandidateCount())
	return summary, nil
}

// abort persists the run's progress so the next invocation resumes, then
// reports the cause.
func (e *Engine) abort(tracker *progress.Tracker, sink tableSink, summary *service.RunSummary, cause error) (*service.RunSummary, error) {
	if err := tracker.WriteCheckpoint(true, "aborted"); err != nil {
		e.logger.Warn("Checkpoint write failed", "error", err)
	}
	if err := tracker.SaveTable(sink.codec, sink.path); err != nil {
		e.logger.Warn("Table save failed", "path", sink.path, "error", err)
	}
	e.finishSummary(tracker, summary)
	e.logger.Warn("Run interrupted", "run_id", summary.RunID, "error", cause)
	return summary, cause
}

func (e *Engine) finishSummary(tracker *progress.Tracker, summary *service.RunSummary) {
	summary.StatusCounts = tracker.StatusCounts()
	summary.CategoryCounts = tracker.Manifest().Counts()
	summary.FinishedAt = time.Now()
}

// fetchPlan selects the rows the fetcher must visit: still pending after
// classification and carrying a normalized identifier.
func fetchPlan(rows []*model.Record) []*model.Record {
	var plan []*model.Record
	for _, rec := range rows {
		if rec.Status == model.StatusPending && rec.NormalizedIdentifier != "" {
			plan = append(plan, rec)
		}
	}
	return plan
}

func (e *Engine) mapping() table.Mapping {
	return table.Mapping{
		Barcode:    e.cfg.Columns.Barcode,
		Identifier: e.cfg.Columns.Identifier,
		Status:     e.cfg.Columns.Status,
		SourceTags: e.cfg.Columns.SourceTags,
		Candidate:  e.cfg.Columns.Candidate,
	}
}

func (e *Engine) filterColumns() filter.Columns {
	return filter.Columns{
		Rating:      e.cfg.Columns.Rating,
		ReviewCount: e.cfg.Columns.ReviewCount,
		CallNumber:  e.cfg.Columns.CallNumber,
		Candidate:   e.cfg.Columns.Candidate,
	}
}

// checkpointPath derives the side-file location for a given input, distinct
// from the output so a crash never clobbers it.
func (e *Engine) checkpointPath(inputPath string) string {
	return filepath.Join(e.cfg.CheckpointDir(inputPath), sidecarBase(inputPath)+".checkpoint.json")
}

func (e *Engine) lockPath(inputPath string) string {
	return filepath.Join(e.cfg.CheckpointDir(inputPath), sidecarBase(inputPath)+".lock")
}

func sidecarBase(inputPath string) string {
	base := filepath.Base(inputPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

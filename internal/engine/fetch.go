package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/progress"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// fetchOutcome accumulates per-row results across the worker pool.
type fetchOutcome struct {
	mu          sync.Mutex
	attempted   int
	succeeded   int
	notFound    int
	failed      int
	cacheWrites int
	failures    []service.RowFailure
}

func (o *fetchOutcome) recordAttempt() {
	o.mu.Lock()
	o.attempted++
	o.mu.Unlock()
}

func (o *fetchOutcome) recordSuccess() {
	o.mu.Lock()
	o.succeeded++
	o.mu.Unlock()
}

func (o *fetchOutcome) recordNotFound(rec *model.Record) {
	o.mu.Lock()
	o.notFound++
	o.failures = append(o.failures, service.RowFailure{
		Barcode:    rec.Barcode,
		Identifier: rec.NormalizedIdentifier,
		Stage:      "fetch",
		Reason:     "no entry at metadata source",
	})
	o.mu.Unlock()
}

func (o *fetchOutcome) recordError(rec *model.Record, err error) {
	o.mu.Lock()
	o.failed++
	o.failures = append(o.failures, service.RowFailure{
		Barcode:    rec.Barcode,
		Identifier: rec.NormalizedIdentifier,
		Stage:      "fetch",
		Reason:     err.Error(),
	})
	o.mu.Unlock()
}

// batchItem pairs a fetched row with its prepared cache entry until the
// batch flushes.
type batchItem struct {
	rec   *model.Record
	entry model.CacheEntry
}

// batchFlusher collects fetched rows and, every save_interval successes,
// writes the cache batch, marks the rows DONE, and checkpoints. DONE marks
// land only after the cache write so a crash in between re-fetches instead
// of losing data. Flush failures are logged and retried with the next batch.
type batchFlusher struct {
	mu       sync.Mutex
	items    []batchItem
	interval int
	writer   *cacheWriter
	tracker  *progress.Tracker
	outcome  *fetchOutcome
	sink     tableSink
	logger   *slog.Logger
}

func (f *batchFlusher) add(ctx context.Context, rec *model.Record, payload *model.MetadataPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, batchItem{rec: rec, entry: f.writer.entryFor(rec, payload)})
	if len(f.items) < f.interval {
		return
	}
	f.flushLocked(ctx)
}

func (f *batchFlusher) flush(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushLocked(ctx)
}

func (f *batchFlusher) flushLocked(ctx context.Context) {
	if len(f.items) == 0 {
		return
	}
	items := f.items
	f.items = nil

	written := f.writer.write(ctx, items)
	f.outcome.mu.Lock()
	f.outcome.cacheWrites += written
	f.outcome.mu.Unlock()

	for _, item := range items {
		f.tracker.MarkRecord(item.rec, model.StatusDone)
	}

	if err := f.tracker.WriteCheckpoint(false, "fetch batch"); err != nil {
		f.logger.Warn("Checkpoint write failed", "error", err)
	}
	if err := f.tracker.SaveTable(f.sink.codec, f.sink.path); err != nil {
		f.logger.Warn("Table save failed", "path", f.sink.path, "error", err)
	}
}

// fetchAll drives the bounded worker pool over the fetch plan. Pacing is a
// shared token limiter at the configured qps; every Nth request the issuing
// worker additionally cools down for a random pause. A row-level failure
// never stops the pool; only context cancellation does.
func (e *Engine) fetchAll(ctx context.Context, tracker *progress.Tracker, writer *cacheWriter, plan []*model.Record, sink tableSink) (*fetchOutcome, error) {
	outcome := &fetchOutcome{}
	if len(plan) == 0 {
		e.logger.Info("No rows need fetching")
		return outcome, nil
	}

	flusher := &batchFlusher{
		interval: e.cfg.Fetch.SaveInterval,
		writer:   writer,
		tracker:  tracker,
		outcome:  outcome,
		sink:     sink,
		logger:   e.logger,
	}

	limiter := rate.NewLimiter(rate.Limit(e.cfg.Fetch.QPS), 1)
	policy := e.cfg.RetryPolicy()
	bar := e.newProgressBar(len(plan))

	workers := e.cfg.Fetch.MaxConcurrent
	if workers > len(plan) {
		workers = len(plan)
	}
	e.logger.Info("Fetching metadata",
		"rows", len(plan),
		"workers", workers,
		"qps", e.cfg.Fetch.QPS)

	jobs := make(chan *model.Record, len(plan))
	for _, rec := range plan {
		jobs <- rec
	}
	close(jobs)

	var requests atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for rec := range jobs {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := e.fetchOne(gctx, tracker, flusher, limiter, &requests, policy, rec, outcome, bar); err != nil {
					return err
				}
			}
			return nil
		})
	}

	err := g.Wait()

	// Flush what the interrupted batch collected; those rows were fetched
	// and their cache write must not be lost to the cancellation.
	flushCtx := ctx
	if err != nil {
		var cancel context.CancelFunc
		flushCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
	}
	flusher.flush(flushCtx)

	if bar != nil {
		if finishErr := bar.Finish(); finishErr != nil {
			e.logger.Warn("Failed to finish progress bar", "error", finishErr)
		}
	}

	e.logger.Info("Fetch pass complete",
		"attempted", outcome.attempted,
		"succeeded", outcome.succeeded,
		"not_found", outcome.notFound,
		"failed", outcome.failed,
		"cache_writes", outcome.cacheWrites)
	return outcome, err
}

// fetchOne processes a single row: pace, cool down if due, fetch with the
// retry schedule, then settle the row's outcome.
func (e *Engine) fetchOne(ctx context.Context, tracker *progress.Tracker, flusher *batchFlusher, limiter *rate.Limiter, requests *atomic.Int64, policy service.RetryPolicy, rec *model.Record, outcome *fetchOutcome, bar *progressbar.ProgressBar) error {
	if err := limiter.Wait(ctx); err != nil {
		return err
	}
	if err := e.maybeCooldown(ctx, requests); err != nil {
		return err
	}

	outcome.recordAttempt()
	payload, err := e.fetchPayload(ctx, rec.NormalizedIdentifier, policy)

	if bar != nil {
		if addErr := bar.Add(1); addErr != nil {
			e.logger.Warn("Failed to update progress bar", "error", addErr)
		}
	}

	switch {
	case err != nil:
		if ctx.Err() != nil {
			// The row was not resolved either way; it stays pending for
			// the next run.
			return ctx.Err()
		}
		e.logger.Warn("Fetch failed",
			"barcode", rec.Barcode,
			"identifier", rec.NormalizedIdentifier,
			"error", err)
		tracker.MarkRecord(rec, model.StatusNotFound)
		outcome.recordError(rec, err)
	case payload.IsEmpty():
		e.logger.Debug("No entry at metadata source",
			"barcode", rec.Barcode,
			"identifier", rec.NormalizedIdentifier)
		tracker.MarkRecord(rec, model.StatusNotFound)
		outcome.recordNotFound(rec)
	default:
		tracker.ApplyFieldsToRecord(rec, e.columnsFor(payload.Field), model.SourceTagAPI)
		outcome.recordSuccess()
		flusher.add(ctx, rec, payload)
	}
	return nil
}

// fetchPayload runs one identifier through the retry schedule with a fresh
// per-attempt timeout.
func (e *Engine) fetchPayload(ctx context.Context, identifier string, policy service.RetryPolicy) (*model.MetadataPayload, error) {
	var payload *model.MetadataPayload
	err := common.WithSchedule(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.Fetch.Timeout)
		defer cancel()

		p, fetchErr := e.source.FetchByIdentifier(attemptCtx, identifier)
		if fetchErr != nil {
			return fetchErr
		}
		payload = p
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// maybeCooldown pauses the issuing worker when the shared request counter
// crosses a cooldown boundary, easing sustained load on the source.
func (e *Engine) maybeCooldown(ctx context.Context, requests *atomic.Int64) error {
	every := e.cfg.Fetch.BatchCooldownEvery
	if every <= 0 {
		return nil
	}
	n := requests.Add(1)
	if n%int64(every) != 0 {
		return nil
	}

	pause := common.Jitter(e.cfg.Fetch.BatchCooldownMin, e.cfg.Fetch.BatchCooldownMax)
	if pause <= 0 {
		return nil
	}
	e.logger.Info("Cooling down", "requests", n, "pause", pause)
	return common.Sleep(ctx, pause)
}

func (e *Engine) newProgressBar(total int) *progressbar.ProgressBar {
	if !e.cfg.Fetch.ProgressBar {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Fetching metadata..."),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(os.Stderr); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}

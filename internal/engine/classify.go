package engine

import (
	"context"
	"strings"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/progress"
)

// classify buckets every pending row against the cache and backfills what
// the cache already knows. Cache reads fail open: a read error downgrades
// every affected row to a miss rather than stopping the run.
func (e *Engine) classify(ctx context.Context, tracker *progress.Tracker, rows []*model.Record) error {
	var pending, restore []*model.Record
	for _, rec := range rows {
		if rec.Barcode == "" {
			continue
		}
		switch {
		case rec.Status == model.StatusPending:
			pending = append(pending, rec)
		case tracker.Resumed() && e.restorable(rec):
			restore = append(restore, rec)
		}
	}

	barcodes := make([]string, 0, len(pending)+len(restore))
	for _, rec := range pending {
		barcodes = append(barcodes, rec.Barcode)
	}
	for _, rec := range restore {
		barcodes = append(barcodes, rec.Barcode)
	}

	entries, err := e.cache.GetByBarcodes(ctx, barcodes)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.logger.Warn("Cache read failed, treating rows as uncached", "error", err)
		entries = map[string]*model.CacheEntry{}
	}

	now := time.Now()
	fromCache := 0
	for _, rec := range pending {
		category := e.categorize(entries[rec.Barcode], now)
		tracker.SetCategory(rec.Barcode, category)

		switch category {
		case model.CategoryExistingValid:
			tracker.ApplyFieldsToRecord(rec, e.columnsFor(entries[rec.Barcode].Field), model.SourceTagCache)
			tracker.MarkRecord(rec, model.StatusFromDB)
			fromCache++
		case model.CategoryExistingIncomplete:
			// Partial data is fresh enough to keep; the fetch fills the rest.
			tracker.ApplyFieldsToRecord(rec, e.columnsFor(entries[rec.Barcode].Field), model.SourceTagCache)
		case model.CategoryExistingStale, model.CategoryNew:
			// Nothing to backfill; stale values must not shadow the refetch.
		}
	}

	// Rows already terminal from a checkpoint replay lost their field values
	// with the process; the cache holds them.
	restored := 0
	for _, rec := range restore {
		entry := entries[rec.Barcode]
		if entry == nil {
			continue
		}
		tracker.ApplyFieldsToRecord(rec, e.columnsFor(entry.Field), model.SourceTagCache)
		restored++
	}

	counts := tracker.Manifest().Counts()
	e.logger.Info("Classification complete",
		"pending", len(pending),
		"from_cache", fromCache,
		"restored", restored,
		"existing_valid", counts[model.CategoryExistingValid],
		"existing_incomplete", counts[model.CategoryExistingIncomplete],
		"existing_stale", counts[model.CategoryExistingStale],
		"new", counts[model.CategoryNew])
	return nil
}

// categorize places one cache lookup result in the four-way partition.
// Staleness wins over completeness: old data is refetched either way.
func (e *Engine) categorize(entry *model.CacheEntry, now time.Time) model.Category {
	if entry == nil {
		return model.CategoryNew
	}
	if e.cfg.Classifier.ForceRefresh || now.Sub(entry.FetchedAt) > e.cfg.Classifier.MaxAge {
		return model.CategoryExistingStale
	}
	if !e.complete(entry) {
		return model.CategoryExistingIncomplete
	}
	return model.CategoryExistingValid
}

// complete reports whether a cache entry carries every required field.
func (e *Engine) complete(entry *model.CacheEntry) bool {
	for _, field := range e.cfg.Classifier.RequiredFields {
		if strings.TrimSpace(entry.Field(field)) == "" {
			return false
		}
	}
	return true
}

// restorable reports whether a terminal row should have its field values
// re-read from the cache after a resume.
func (e *Engine) restorable(rec *model.Record) bool {
	if rec.Status != model.StatusDone && rec.Status != model.StatusFromDB {
		return false
	}
	for _, field := range e.cfg.Classifier.RequiredFields {
		column, ok := e.cfg.Fields[field]
		if !ok {
			continue
		}
		if strings.TrimSpace(rec.Field(column)) == "" {
			return true
		}
	}
	return false
}

// columnsFor translates an internal field map onto the configured table
// columns, dropping empty values.
func (e *Engine) columnsFor(field func(name string) string) map[string]string {
	columns := make(map[string]string, len(e.cfg.Fields))
	for name, column := range e.cfg.Fields {
		if v := field(name); v != "" {
			columns[column] = v
		}
	}
	return columns
}

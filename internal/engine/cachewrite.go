package engine

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// cacheWriter maps enriched rows onto cache entries and persists them in
// merge-mode batches. Writes fail soft: the saved table stays the source of
// truth and a failed batch only costs future runs a cache hit.
type cacheWriter struct {
	store  service.CacheStore
	fields map[string]string
	logger *slog.Logger
}

func newCacheWriter(store service.CacheStore, fields map[string]string, logger *slog.Logger) *cacheWriter {
	return &cacheWriter{
		store:  store,
		fields: fields,
		logger: logger,
	}
}

// entryFor builds the cache entry for one successfully fetched row. Values
// are read from the row, not the payload, so anything the table already
// knew rides along.
func (w *cacheWriter) entryFor(rec *model.Record, payload *model.MetadataPayload) model.CacheEntry {
	entry := model.CacheEntry{
		Barcode:   rec.Barcode,
		ISBN:      rec.NormalizedIdentifier,
		Fields:    make(map[string]string, len(w.fields)),
		FetchedAt: payload.FetchedAt,
	}
	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}
	for field, column := range w.fields {
		if v := strings.TrimSpace(rec.Field(column)); v != "" {
			entry.Fields[field] = v
		}
	}
	return entry
}

// write upserts one batch. Rows without a barcode have no cache key and are
// skipped. Returns the number of entries written.
func (w *cacheWriter) write(ctx context.Context, items []batchItem) int {
	entries := make([]model.CacheEntry, 0, len(items))
	for _, item := range items {
		if item.entry.Barcode == "" {
			continue
		}
		entries = append(entries, item.entry)
	}
	if len(entries) == 0 {
		return 0
	}

	written, err := w.store.BatchUpsert(ctx, entries)
	if err != nil {
		w.logger.Error("Cache write failed", "entries", len(entries), "error", err)
		return 0
	}
	w.logger.Debug("Cache batch written", "entries", written)
	return written
}

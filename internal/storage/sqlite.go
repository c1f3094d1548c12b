// Package storage persists fetched record metadata in SQLite.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// batchChunk bounds the barcodes per IN query; SQLite defaults to 999
// bind variables.
const batchChunk = 500

// SQLiteStorage implements the record cache on a single SQLite file.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage opens (or creates) the cache database at dbPath.
// ":memory:" gives an ephemeral database for tests.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("database path cannot be empty")
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't benefit from multiple connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{db: db, dbPath: dbPath}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// GetByBarcode returns the cached entry for a barcode, or nil when the
// cache has none.
func (s *SQLiteStorage) GetByBarcode(ctx context.Context, barcode string) (*model.CacheEntry, error) {
	if strings.TrimSpace(barcode) == "" {
		return nil, errors.New("barcode cannot be empty")
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT barcode, isbn, fields, fetched_at, updated_at FROM records WHERE barcode = ?`,
		barcode)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return entry, nil
}

// GetByBarcodes returns the cached entries for a set of barcodes, keyed by
// barcode. Missing barcodes simply have no key in the result.
func (s *SQLiteStorage) GetByBarcodes(ctx context.Context, barcodes []string) (map[string]*model.CacheEntry, error) {
	found := make(map[string]*model.CacheEntry, len(barcodes))

	for start := 0; start < len(barcodes); start += batchChunk {
		end := start + batchChunk
		if end > len(barcodes) {
			end = len(barcodes)
		}
		chunk := barcodes[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, b := range chunk {
			args[i] = b
		}

		rows, err := s.db.QueryContext(ctx,
			`SELECT barcode, isbn, fields, fetched_at, updated_at FROM records WHERE barcode IN (`+placeholders+`)`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to read cache entries: %w", err)
		}

		for rows.Next() {
			entry, err := scanEntry(rows)
			if err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan cache entry: %w", err)
			}
			found[entry.Barcode] = entry
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to iterate cache entries: %w", err)
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("failed to close cache rows: %w", err)
		}
	}

	return found, nil
}

// BatchUpsert writes entries inside one transaction with merge semantics:
// non-empty incoming fields win, fields only the cache knows survive. It
// returns the number of entries written.
func (s *SQLiteStorage) BatchUpsert(ctx context.Context, entries []model.CacheEntry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	for i, entry := range entries {
		if strings.TrimSpace(entry.Barcode) == "" {
			return 0, fmt.Errorf("entry %d has no barcode", i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	written := 0
	for _, entry := range entries {
		merged, err := s.mergeWithExisting(ctx, tx, entry)
		if err != nil {
			return 0, err
		}

		fieldsJSON, err := json.Marshal(merged.Fields)
		if err != nil {
			return 0, fmt.Errorf("failed to encode fields for %s: %w", entry.Barcode, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO records (barcode, isbn, fields, fetched_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(barcode) DO UPDATE SET
				isbn = excluded.isbn,
				fields = excluded.fields,
				fetched_at = excluded.fetched_at,
				updated_at = excluded.updated_at`,
			merged.Barcode, merged.ISBN, string(fieldsJSON), merged.FetchedAt.UTC(), merged.UpdatedAt.UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to upsert %s: %w", entry.Barcode, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit batch: %w", err)
	}
	return written, nil
}

// mergeWithExisting overlays the incoming entry on whatever the cache
// already holds for the barcode.
func (s *SQLiteStorage) mergeWithExisting(ctx context.Context, tx *sql.Tx, entry model.CacheEntry) (model.CacheEntry, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT barcode, isbn, fields, fetched_at, updated_at FROM records WHERE barcode = ?`,
		entry.Barcode)

	existing, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return model.CacheEntry{}, fmt.Errorf("failed to read existing entry for %s: %w", entry.Barcode, err)
	}

	merged := model.CacheEntry{
		Barcode:   entry.Barcode,
		ISBN:      entry.ISBN,
		Fields:    make(map[string]string),
		FetchedAt: entry.FetchedAt,
		UpdatedAt: time.Now(),
	}

	if existing != nil {
		if merged.ISBN == "" {
			merged.ISBN = existing.ISBN
		}
		for k, v := range existing.Fields {
			merged.Fields[k] = v
		}
	}
	for k, v := range entry.Fields {
		if strings.TrimSpace(v) == "" {
			continue
		}
		merged.Fields[k] = v
	}
	if merged.FetchedAt.IsZero() && existing != nil {
		merged.FetchedAt = existing.FetchedAt
	}
	if merged.FetchedAt.IsZero() {
		merged.FetchedAt = merged.UpdatedAt
	}

	return merged, nil
}

// CacheStats summarizes the cache contents for reporting.
type CacheStats struct {
	Total       int
	WithISBN    int
	OldestFetch time.Time
	NewestFetch time.Time
}

// Stats reports aggregate cache contents.
func (s *SQLiteStorage) Stats(ctx context.Context) (CacheStats, error) {
	var stats CacheStats
	var oldest, newest sql.NullTime

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN isbn != '' THEN 1 ELSE 0 END), 0),
		       MIN(fetched_at),
		       MAX(fetched_at)
		FROM records`).Scan(&stats.Total, &stats.WithISBN, &oldest, &newest)
	if err != nil {
		return CacheStats{}, fmt.Errorf("failed to read cache stats: %w", err)
	}

	if oldest.Valid {
		stats.OldestFetch = oldest.Time
	}
	if newest.Valid {
		stats.NewestFetch = newest.Time
	}
	return stats, nil
}

// AgeBucket is one band of the cache freshness histogram.
type AgeBucket struct {
	Label string
	Count int
}

// AgeHistogram buckets cached entries by how long ago they were fetched.
// Bounds must be ascending; a final open-ended bucket collects everything
// older than the last bound.
func (s *SQLiteStorage) AgeHistogram(ctx context.Context, now time.Time, bounds []time.Duration) ([]AgeBucket, error) {
	if len(bounds) == 0 {
		return nil, errors.New("age histogram needs at least one bound")
	}

	buckets := make([]AgeBucket, len(bounds)+1)
	for i, bound := range bounds {
		buckets[i].Label = "<= " + formatDays(bound)
	}
	buckets[len(bounds)].Label = "> " + formatDays(bounds[len(bounds)-1])

	rows, err := s.db.QueryContext(ctx, `SELECT fetched_at FROM records`)
	if err != nil {
		return nil, fmt.Errorf("failed to read fetch times: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var fetchedAt time.Time
		if err := rows.Scan(&fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan fetch time: %w", err)
		}

		age := now.Sub(fetchedAt)
		idx := len(bounds)
		for i, bound := range bounds {
			if age <= bound {
				idx = i
				break
			}
		}
		buckets[idx].Count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate fetch times: %w", err)
	}

	return buckets, nil
}

// formatDays renders a duration as whole days when it divides evenly.
func formatDays(d time.Duration) string {
	if d >= 24*time.Hour && d%(24*time.Hour) == 0 {
		return fmt.Sprintf("%dd", d/(24*time.Hour))
	}
	return d.String()
}

// rowScanner abstracts sql.Row and sql.Rows for scanEntry.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*model.CacheEntry, error) {
	var entry model.CacheEntry
	var fieldsJSON string

	if err := row.Scan(&entry.Barcode, &entry.ISBN, &fieldsJSON, &entry.FetchedAt, &entry.UpdatedAt); err != nil {
		return nil, err
	}

	if fieldsJSON != "" {
		if err := json.Unmarshal([]byte(fieldsJSON), &entry.Fields); err != nil {
			return nil, fmt.Errorf("corrupt fields payload for %s: %w", entry.Barcode, err)
		}
	}
	if entry.Fields == nil {
		entry.Fields = make(map[string]string)
	}
	return &entry, nil
}

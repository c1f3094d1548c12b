package progress

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// Options configures a Tracker.
type Options struct {
	// InputPath identifies the table the checkpoint belongs to; a stored
	// checkpoint for a different input is ignored.
	InputPath string
	// CheckpointPath is the side file holding crash-recovery state.
	CheckpointPath string
	// LockPath guards the working table against concurrent runs.
	LockPath string
	// MinInterval throttles unforced checkpoint writes.
	MinInterval time.Duration
	// Reset discards any stored progress and sets every row back to pending.
	Reset bool
}

// Tracker owns all status and field mutation of the working table during a
// run. Writers go through its mutex, so snapshot operations (checkpoint and
// table save) always see consistent rows.
type Tracker struct {
	table          service.Table
	index          map[string]*model.Record
	manifest       model.Manifest
	lock           *flock.Flock
	logger         *slog.Logger
	runID          string
	inputPath      string
	checkpointPath string
	minInterval    time.Duration
	lastWrite      time.Time
	startedAt      time.Time
	resumed        bool
	mu             sync.RWMutex
}

// NewTracker builds a tracker over a loaded table, acquires the run lock
// and replays any checkpoint left by an interrupted run. The caller must
// Close the tracker to release the lock.
func NewTracker(tbl service.Table, opts Options) (*Tracker, error) {
	t := &Tracker{
		table:          tbl,
		index:          make(map[string]*model.Record, tbl.Len()),
		manifest:       make(model.Manifest),
		logger:         slog.Default().With("component", "progress"),
		runID:          uuid.NewString(),
		inputPath:      opts.InputPath,
		checkpointPath: opts.CheckpointPath,
		minInterval:    opts.MinInterval,
		startedAt:      time.Now(),
	}

	for _, rec := range tbl.Rows() {
		if rec.Barcode == "" {
			continue
		}
		if _, dup := t.index[rec.Barcode]; dup {
			t.logger.Warn("Duplicate barcode in table, tracking first occurrence only",
				"barcode", rec.Barcode)
			continue
		}
		t.index[rec.Barcode] = rec
	}

	if opts.LockPath != "" {
		lock := flock.New(opts.LockPath)
		locked, err := lock.TryLock()
		if err != nil {
			return nil, fmt.Errorf("failed to acquire run lock: %w", err)
		}
		if !locked {
			return nil, fmt.Errorf("%w: %s", common.ErrRunLocked, opts.LockPath)
		}
		t.lock = lock
	}

	if opts.Reset {
		t.resetAll()
		if err := t.RemoveCheckpoint(); err != nil {
			t.releaseLock()
			return nil, err
		}
		return t, nil
	}

	if err := t.replayCheckpoint(); err != nil {
		t.releaseLock()
		return nil, err
	}
	return t, nil
}

// replayCheckpoint overlays stored progress onto the freshly loaded table.
// Only pending rows accept the stored status, so the table file (which may
// be newer than the checkpoint) always wins.
func (t *Tracker) replayCheckpoint() error {
	if t.checkpointPath == "" {
		return nil
	}

	cp, err := LoadCheckpoint(t.checkpointPath)
	if errors.Is(err, common.ErrNoCheckpoint) {
		return nil
	}
	if err != nil {
		t.logger.Warn("Ignoring unreadable checkpoint", "path", t.checkpointPath, "error", err)
		return nil
	}
	if cp.InputPath != "" && cp.InputPath != t.inputPath {
		t.logger.Warn("Checkpoint belongs to a different input, starting fresh",
			"checkpoint_input", cp.InputPath,
			"input", t.inputPath)
		return nil
	}

	applied := 0
	for barcode, row := range cp.Rows {
		if row.Category != "" {
			t.manifest.Assign(barcode, row.Category)
		}

		rec, ok := t.index[barcode]
		if !ok {
			continue
		}
		if rec.Status == model.StatusPending && rec.Status.CanAdvanceTo(row.Status) {
			rec.Status = row.Status
			for _, tag := range row.Tags {
				rec.AddSourceTag(tag)
			}
			applied++
		}
	}

	if cp.RunID != "" {
		t.runID = cp.RunID
	}
	if !cp.CreatedAt.IsZero() {
		t.startedAt = cp.CreatedAt
	}
	t.resumed = true
	t.logger.Info("Resumed from checkpoint",
		"run_id", t.runID,
		"stored_rows", len(cp.Rows),
		"applied", applied)
	return nil
}

// resetAll force-clears progress between runs. Status is forward-only
// within a run; an explicit reset is the one sanctioned way back.
func (t *Tracker) resetAll() {
	cleared := 0
	for _, rec := range t.table.Rows() {
		if rec.Status != model.StatusPending {
			rec.Status = model.StatusPending
			cleared++
		}
		rec.SourceTags = nil
	}
	t.logger.Info("Reset all row statuses", "cleared", cleared)
}

func (t *Tracker) releaseLock() {
	if t.lock != nil {
		if err := t.lock.Unlock(); err != nil {
			t.logger.Warn("Failed to release run lock", "error", err)
		}
		t.lock = nil
	}
}

// Close releases the run lock. The checkpoint file stays unless
// RemoveCheckpoint was called, so an interrupted run can resume.
func (t *Tracker) Close() error {
	t.releaseLock()
	return nil
}

// RunID returns the stable identifier for this logical run. A resumed run
// keeps the identifier of the run it continues.
func (t *Tracker) RunID() string {
	return t.runID
}

// Resumed reports whether a checkpoint was replayed at construction.
func (t *Tracker) Resumed() bool {
	return t.resumed
}

// StartedAt returns when the logical run began (checkpoint creation time
// for resumed runs).
func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}

// Lookup returns the tracked record for a barcode.
func (t *Tracker) Lookup(barcode string) (*model.Record, bool) {
	rec, ok := t.index[barcode]
	return rec, ok
}

// Mark advances a row's status. It returns false when the barcode is
// untracked or the transition would move backwards; terminal rows never
// change again.
func (t *Tracker) Mark(barcode string, next model.Status) bool {
	rec, ok := t.index[barcode]
	if !ok {
		return false
	}
	return t.MarkRecord(rec, next)
}

// MarkRecord advances a row's status through its record pointer. Rows
// without barcodes are only reachable this way.
func (t *Tracker) MarkRecord(rec *model.Record, next model.Status) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !rec.Status.CanAdvanceTo(next) {
		return false
	}
	rec.Status = next
	return true
}

// ApplyFields backfills column values onto a row and tags its source. Only
// blank cells are filled; values already present in the table win.
func (t *Tracker) ApplyFields(barcode string, columns map[string]string, tag string) bool {
	rec, ok := t.index[barcode]
	if !ok {
		return false
	}
	t.ApplyFieldsToRecord(rec, columns, tag)
	return true
}

// ApplyFieldsToRecord backfills column values onto a record pointer.
func (t *Tracker) ApplyFieldsToRecord(rec *model.Record, columns map[string]string, tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for column, value := range columns {
		rec.BackfillField(column, value)
	}
	if tag != "" {
		rec.AddSourceTag(tag)
	}
}

// SetCategory records the run-manifest category for a barcode.
func (t *Tracker) SetCategory(barcode string, category model.Category) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.manifest.Assign(barcode, category)
}

// Category returns the manifest category for a barcode.
func (t *Tracker) Category(barcode string) (model.Category, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.manifest.CategoryOf(barcode)
}

// Manifest returns a copy of the run manifest.
func (t *Tracker) Manifest() model.Manifest {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cp := make(model.Manifest, len(t.manifest))
	for barcode, category := range t.manifest {
		cp[barcode] = category
	}
	return cp
}

// StatusCounts tallies row statuses across the whole table, including rows
// without barcodes.
func (t *Tracker) StatusCounts() map[model.Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[model.Status]int)
	for _, rec := range t.table.Rows() {
		counts[rec.Status]++
	}
	return counts
}

// PendingCount returns how many rows are still pending.
func (t *Tracker) PendingCount() int {
	return t.StatusCounts()[model.StatusPending]
}

// WriteCheckpoint persists current progress. Unforced writes are dropped
// when the previous write is younger than the configured minimum interval.
func (t *Tracker) WriteCheckpoint(force bool, reason string) error {
	if t.checkpointPath == "" {
		return nil
	}

	t.mu.Lock()
	if !force && t.minInterval > 0 && time.Since(t.lastWrite) < t.minInterval {
		t.mu.Unlock()
		return nil
	}
	cp := t.buildCheckpointLocked(reason)
	t.lastWrite = time.Now()
	t.mu.Unlock()

	if err := cp.Save(t.checkpointPath); err != nil {
		return err
	}
	t.logger.Debug("Checkpoint written",
		"path", t.checkpointPath,
		"rows", len(cp.Rows),
		"reason", reason)
	return nil
}

func (t *Tracker) buildCheckpointLocked(reason string) *Checkpoint {
	cp := &Checkpoint{
		RunID:        t.runID,
		InputPath:    t.inputPath,
		CreatedAt:    t.startedAt,
		UpdatedAt:    time.Now(),
		Reason:       reason,
		StatusCounts: make(map[model.Status]int),
		Rows:         make(map[string]RowState, len(t.index)),
	}

	for _, rec := range t.table.Rows() {
		cp.StatusCounts[rec.Status]++
	}
	for barcode, rec := range t.index {
		state := RowState{Status: rec.Status}
		if category, ok := t.manifest.CategoryOf(barcode); ok {
			state.Category = category
		}
		if len(rec.SourceTags) > 0 {
			state.Tags = append([]string(nil), rec.SourceTags...)
		}
		cp.Rows[barcode] = state
	}
	return cp
}

// RemoveCheckpoint deletes the checkpoint file, marking the run complete.
func (t *Tracker) RemoveCheckpoint() error {
	if t.checkpointPath == "" {
		return nil
	}
	err := os.Remove(t.checkpointPath)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove checkpoint: %w", err)
	}
	return nil
}

// SaveTable writes the working table through the codec while holding the
// read lock, so no writer can interleave with the snapshot.
func (t *Tracker) SaveTable(codec service.TableCodec, path string) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return codec.Save(t.table, path)
}

// Finalize writes the completed table to its destination and retires the
// checkpoint. The checkpoint is removed only after the save succeeds, so a
// crash between the two still leaves a resumable run.
func (t *Tracker) Finalize(codec service.TableCodec, path string) error {
	if err := t.SaveTable(codec, path); err != nil {
		return fmt.Errorf("failed to save final table: %w", err)
	}
	if err := t.RemoveCheckpoint(); err != nil {
		return err
	}
	t.logger.Info("Run finalized", "run_id", t.runID, "output", path)
	return nil
}

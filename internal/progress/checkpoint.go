// Package progress tracks per-record status during a run and persists it in
// a crash-recovery checkpoint beside the working table.
package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

// RowState is the per-barcode progress stored in a checkpoint.
type RowState struct {
	Status   model.Status   `json:"status"`
	Category model.Category `json:"category,omitempty"`
	Tags     []string       `json:"tags,omitempty"`
}

// Checkpoint is the crash-recovery side file for one run. The working table
// holds the data; the checkpoint holds enough state to skip finished rows
// and rebuild the run manifest after a crash.
type Checkpoint struct {
	RunID        string               `json:"run_id"`
	InputPath    string               `json:"input_path"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
	Reason       string               `json:"reason,omitempty"`
	StatusCounts map[model.Status]int `json:"status_counts"`
	Rows         map[string]RowState  `json:"rows"`
}

// LoadCheckpoint reads a checkpoint file. A missing file returns
// ErrNoCheckpoint; a corrupt file returns a decode error so the caller can
// decide whether to start fresh.
func LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from run configuration
	if os.IsNotExist(err) {
		return nil, common.ErrNoCheckpoint
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically: temporary file first, then rename.
func (c *Checkpoint) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace checkpoint: %w", err)
	}
	return nil
}

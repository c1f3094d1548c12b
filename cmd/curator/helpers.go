package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/cli"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/config"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/filter"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/report"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/storage"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/table"
)

// loadConfig materializes the effective configuration from viper.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

// openCache opens the configured cache database and applies migrations.
func openCache(ctx context.Context, cfg config.Config) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(config.ExpandPath(cfg.Cache.Path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate cache: %w", err)
	}
	return store, nil
}

func closeStore(store *storage.SQLiteStorage) {
	if err := store.Close(); err != nil {
		slog.Error("Failed to close cache", "error", err)
	}
}

// tableMapping and filterColumns translate the column configuration for the
// table and filter packages.
func tableMapping(cfg config.Config) table.Mapping {
	return table.Mapping{
		Barcode:    cfg.Columns.Barcode,
		Identifier: cfg.Columns.Identifier,
		Status:     cfg.Columns.Status,
		SourceTags: cfg.Columns.SourceTags,
		Candidate:  cfg.Columns.Candidate,
	}
}

func filterColumns(cfg config.Config) filter.Columns {
	return filter.Columns{
		Rating:      cfg.Columns.Rating,
		ReviewCount: cfg.Columns.ReviewCount,
		CallNumber:  cfg.Columns.CallNumber,
		Candidate:   cfg.Columns.Candidate,
	}
}

// countStatuses tallies row statuses for tables processed outside the engine.
func countStatuses(rows []*model.Record) map[model.Status]int {
	counts := make(map[model.Status]int)
	for _, rec := range rows {
		counts[rec.Status]++
	}
	return counts
}

// emitReport prints the console report and, when reportPath is set, writes
// the markdown form next to it.
func emitReport(cmd *cobra.Command, summary *service.RunSummary, reportPath string) error {
	fmt.Fprintln(cmd.OutOrStdout(), report.Render(summary))
	if reportPath == "" {
		return nil
	}
	if err := report.WriteMarkdown(summary, reportPath); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Report written to "+reportPath))
	return nil
}

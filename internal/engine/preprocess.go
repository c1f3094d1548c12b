package engine

import (
	"context"
	"fmt"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/progress"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

type preprocessStats struct {
	normalized int
	invalid    int
	missing    int
	resolved   int
}

// preprocess derives normalized identifiers for every row and settles the
// identifier-level statuses. Rows with an unfixable identifier problem are
// marked terminally; a bad row is recorded, never dropped.
func (e *Engine) preprocess(ctx context.Context, tracker *progress.Tracker, rows []*model.Record, summary *service.RunSummary) (preprocessStats, error) {
	var stats preprocessStats
	var resolvable []*model.Record

	for _, rec := range rows {
		if rec.RawIdentifier == "" {
			continue
		}
		normalized, err := NormalizeISBN(rec.RawIdentifier)
		if err != nil {
			if tracker.MarkRecord(rec, model.StatusInvalidID) {
				stats.invalid++
				summary.Failures = append(summary.Failures, service.RowFailure{
					Barcode:    rec.Barcode,
					Identifier: rec.RawIdentifier,
					Stage:      "preprocess",
					Reason:     err.Error(),
				})
			}
			continue
		}
		// Derived once; a resumed row keeps the value it already has.
		if rec.NormalizedIdentifier == "" {
			rec.NormalizedIdentifier = normalized
			stats.normalized++
		}
	}

	for _, rec := range rows {
		if rec.RawIdentifier != "" || rec.Status != model.StatusPending {
			continue
		}
		if rec.Barcode == "" {
			if tracker.MarkRecord(rec, model.StatusNoID) {
				stats.missing++
				summary.Failures = append(summary.Failures, service.RowFailure{
					Stage:  "preprocess",
					Reason: "no identifier and no barcode to look one up with",
				})
			}
			continue
		}
		resolvable = append(resolvable, rec)
	}

	if err := e.resolveIdentifiers(ctx, tracker, resolvable, &stats, summary); err != nil {
		return stats, err
	}

	e.logger.Info("Preprocessing complete",
		"normalized", stats.normalized,
		"invalid", stats.invalid,
		"no_identifier", stats.missing,
		"resolved", stats.resolved)
	return stats, nil
}

// resolveIdentifiers runs the identifier-supplementation sub-flow for rows
// that have a barcode but no identifier. The resolver only starts above the
// configured row-count threshold; below it, or without a resolver, the rows
// go straight to NO_ID.
func (e *Engine) resolveIdentifiers(ctx context.Context, tracker *progress.Tracker, rows []*model.Record, stats *preprocessStats, summary *service.RunSummary) error {
	if len(rows) == 0 {
		return nil
	}

	available := e.resolver != nil && e.cfg.Resolver.Enabled
	if available && len(rows) < e.cfg.Resolver.MinRows {
		e.logger.Info("Too few rows to start the identifier resolver",
			"rows", len(rows),
			"min_rows", e.cfg.Resolver.MinRows)
		available = false
	}

	if !available {
		for _, rec := range rows {
			if tracker.MarkRecord(rec, model.StatusNoID) {
				stats.missing++
				summary.Failures = append(summary.Failures, service.RowFailure{
					Barcode: rec.Barcode,
					Stage:   "preprocess",
					Reason:  "no identifier",
				})
			}
		}
		return nil
	}

	e.logger.Info("Resolving missing identifiers", "rows", len(rows))
	for _, rec := range rows {
		id, err := e.resolver.Resolve(ctx, rec.Barcode)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			e.logger.Warn("Identifier resolution failed",
				"barcode", rec.Barcode,
				"error", err)
			if tracker.MarkRecord(rec, model.StatusNoID) {
				stats.missing++
				summary.Failures = append(summary.Failures, service.RowFailure{
					Barcode: rec.Barcode,
					Stage:   "resolve",
					Reason:  err.Error(),
				})
			}
			continue
		}
		if id == "" {
			if tracker.MarkRecord(rec, model.StatusNoID) {
				stats.missing++
				summary.Failures = append(summary.Failures, service.RowFailure{
					Barcode: rec.Barcode,
					Stage:   "resolve",
					Reason:  "resolver found no identifier",
				})
			}
			continue
		}

		normalized, err := NormalizeISBN(id)
		if err != nil {
			if tracker.MarkRecord(rec, model.StatusInvalidID) {
				stats.invalid++
				summary.Failures = append(summary.Failures, service.RowFailure{
					Barcode:    rec.Barcode,
					Identifier: id,
					Stage:      "resolve",
					Reason:     fmt.Sprintf("resolved identifier rejected: %v", err),
				})
			}
			continue
		}

		rec.RawIdentifier = id
		rec.NormalizedIdentifier = normalized
		stats.resolved++
		stats.normalized++
	}
	return nil
}

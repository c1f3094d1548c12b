package report

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

func sampleSummary() *service.RunSummary {
	filter := model.NewFilterResult()
	filter.Evaluated = 100
	filter.Groups["H"] = model.GroupStats{
		Key:              "H",
		SampleSize:       60,
		ReviewLow:        12,
		ReviewHigh:       240,
		Floor:            7,
		RatingPercentile: 8.6,
		Threshold:        8.6,
		Candidates:       9,
		CandidateRatio:   0.15,
	}
	filter.Groups["unknown"] = model.GroupStats{
		Key:            "unknown",
		SampleSize:     4,
		SmallSample:    true,
		Floor:          7,
		Threshold:      7,
		Candidates:     1,
		CandidateRatio: 0.25,
		Unparsable:     2,
	}
	for i := 0; i < 10; i++ {
		filter.MarkCandidate(fmt.Sprintf("B%03d", i))
	}

	started := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return &service.RunSummary{
		RunID:      "7f5c2f9a-run",
		StartedAt:  started,
		FinishedAt: started.Add(92 * time.Second),
		Resumed:    true,
		TotalRows:  120,
		StatusCounts: map[model.Status]int{
			model.StatusFromDB:    70,
			model.StatusDone:      40,
			model.StatusNotFound:  6,
			model.StatusInvalidID: 4,
		},
		CategoryCounts: map[model.Category]int{
			model.CategoryExistingValid: 70,
			model.CategoryExistingStale: 30,
			model.CategoryNew:           20,
		},
		FetchAttempted: 50,
		FetchSucceeded: 40,
		FetchFailed:    10,
		CacheWrites:    40,
		Failures: []service.RowFailure{
			{Barcode: "B101", Identifier: "9780306406157", Stage: "fetch", Reason: "max retries exceeded"},
			{Barcode: "B102", Stage: "fetch", Reason: "not found at source"},
		},
		Filter: filter,
	}
}

func TestRenderIncludesAllSections(t *testing.T) {
	out := Render(sampleSummary())

	assert.Contains(t, out, "Enrichment report")
	assert.Contains(t, out, "Run: 7f5c2f9a-run")
	assert.Contains(t, out, "Rows: 120")
	assert.Contains(t, out, "Duration: 1m32s")
	assert.Contains(t, out, "Resumed from checkpoint")
	assert.Contains(t, out, "Candidates: 10 of 100 evaluated rows")

	assert.Contains(t, out, "Row statuses")
	assert.Contains(t, out, "FROM_DB")
	assert.Contains(t, out, "NOT_FOUND")

	assert.Contains(t, out, "Cache categories")
	assert.Contains(t, out, "existing_stale")

	assert.Contains(t, out, "Fetching")
	assert.Contains(t, out, "Attempted")
	assert.Contains(t, out, "Cache writes")

	assert.Contains(t, out, "Review candidates by group")
	assert.Contains(t, out, "[12, 240]")
	assert.Contains(t, out, "8.6")
	assert.Contains(t, out, "15.0%")

	assert.Contains(t, out, "Failures (2)")
	assert.Contains(t, out, "B101")
	assert.Contains(t, out, "max retries exceeded")
}

func TestRenderMarksSmallSampleGroups(t *testing.T) {
	out := Render(sampleSummary())

	assert.Contains(t, out, "unknown *")
	assert.Contains(t, out, "rating floor only")
	assert.Contains(t, out, "2 row(s) skipped")
}

func TestRenderSkipsEmptySections(t *testing.T) {
	out := Render(&service.RunSummary{TotalRows: 0})

	assert.Contains(t, out, "Rows: 0")
	assert.NotContains(t, out, "Row statuses")
	assert.NotContains(t, out, "Fetching")
	assert.NotContains(t, out, "Review candidates")
	assert.NotContains(t, out, "Failures")
}

func TestRenderIsDeterministic(t *testing.T) {
	summary := sampleSummary()
	assert.Equal(t, Render(summary), Render(summary))
	assert.Equal(t, Markdown(summary), Markdown(summary))
}

func TestMarkdownMirrorsSections(t *testing.T) {
	out := Markdown(sampleSummary())

	assert.Contains(t, out, "# Enrichment report")
	assert.Contains(t, out, "- Rows: 120")
	assert.Contains(t, out, "## Row statuses")
	assert.Contains(t, out, "## Cache categories")
	assert.Contains(t, out, "## Fetching")
	assert.Contains(t, out, "## Review candidates by group")
	assert.Contains(t, out, "## Failures (2)")
	assert.Contains(t, out, "existing_stale")
	assert.Contains(t, out, "9780306406157")
}

func TestFailureListTruncates(t *testing.T) {
	summary := &service.RunSummary{TotalRows: 50}
	for i := 0; i < maxFailureRows+5; i++ {
		summary.Failures = append(summary.Failures, service.RowFailure{
			Barcode: fmt.Sprintf("B%03d", i),
			Stage:   "fetch",
			Reason:  "timeout",
		})
	}

	out := Render(summary)
	assert.Contains(t, out, fmt.Sprintf("Failures (%d)", maxFailureRows+5))
	assert.Contains(t, out, "... and 5 more")
	assert.NotContains(t, out, fmt.Sprintf("B%03d", maxFailureRows+1))
}

func TestWriteMarkdown(t *testing.T) {
	summary := sampleSummary()
	path := filepath.Join(t.TempDir(), "report.md")

	require.NoError(t, WriteMarkdown(summary, path))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, Markdown(summary), string(content))
}

func TestFmtScoreTrimsTrailingZeros(t *testing.T) {
	assert.Equal(t, "8.6", fmtScore(8.60))
	assert.Equal(t, "7", fmtScore(7.0))
	assert.Equal(t, "8.67", fmtScore(8.666))
	assert.Equal(t, "0", fmtScore(0))
}

// Package report renders the outcome of a pipeline run for humans: a styled
// console summary and an equivalent markdown document, both derived from the
// same run statistics.
package report

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/cli"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// maxFailureRows caps the failure listing in rendered output; the total
// failure count is always stated.
const maxFailureRows = 25

// section is one titled block of the report. The same table writer renders
// the console and markdown forms, so the two can never disagree.
type section struct {
	title string
	note  string
	tw    table.Writer
}

func newSection(title string, header table.Row, rows []table.Row, numericCols ...int) section {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(header)
	tw.AppendRows(rows)

	configs := make([]table.ColumnConfig, 0, len(numericCols))
	for _, col := range numericCols {
		configs = append(configs, table.ColumnConfig{Number: col, Align: text.AlignRight})
	}
	tw.SetColumnConfigs(configs)

	return section{title: title, tw: tw}
}

// Render builds the styled console report for one run.
func Render(summary *service.RunSummary) string {
	var b strings.Builder

	b.WriteString(cli.FormatTitle("Enrichment report"))
	b.WriteString("\n")
	for _, line := range overviewLines(summary) {
		b.WriteString("  " + line + "\n")
	}

	for _, sec := range buildSections(summary) {
		b.WriteString("\n" + cli.StyleTitle(sec.title) + "\n")
		b.WriteString(sec.tw.Render() + "\n")
		if sec.note != "" {
			b.WriteString(cli.StyleSubtle(sec.note) + "\n")
		}
	}

	return b.String()
}

// Markdown renders the same report as a markdown document.
func Markdown(summary *service.RunSummary) string {
	var b strings.Builder

	b.WriteString("# Enrichment report\n\n")
	for _, line := range overviewLines(summary) {
		b.WriteString("- " + line + "\n")
	}

	for _, sec := range buildSections(summary) {
		b.WriteString("\n## " + sec.title + "\n\n")
		b.WriteString(sec.tw.RenderMarkdown() + "\n")
		if sec.note != "" {
			b.WriteString("\n" + sec.note + "\n")
		}
	}

	return b.String()
}

// WriteMarkdown writes the markdown report to path.
func WriteMarkdown(summary *service.RunSummary, path string) error {
	if err := os.WriteFile(path, []byte(Markdown(summary)), 0o600); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

func overviewLines(s *service.RunSummary) []string {
	var lines []string

	if s.RunID != "" {
		lines = append(lines, "Run: "+s.RunID)
	}
	lines = append(lines, fmt.Sprintf("Rows: %d", s.TotalRows))
	if d := s.Duration(); d > 0 {
		lines = append(lines, "Duration: "+d.Round(time.Millisecond).String())
	}
	if s.Resumed {
		lines = append(lines, "Resumed from checkpoint")
	}
	if s.Filter != nil {
		lines = append(lines, fmt.Sprintf("Candidates: %d of %d evaluated rows",
			s.Filter.CandidateCount(), s.Filter.Evaluated))
	}

	return lines
}

func buildSections(s *service.RunSummary) []section {
	var sections []section

	if sec, ok := statusSection(s.StatusCounts); ok {
		sections = append(sections, sec)
	}
	if sec, ok := categorySection(s.CategoryCounts); ok {
		sections = append(sections, sec)
	}
	if sec, ok := fetchSection(s); ok {
		sections = append(sections, sec)
	}
	if sec, ok := filterSection(s.Filter); ok {
		sections = append(sections, sec)
	}
	if sec, ok := failureSection(s.Failures); ok {
		sections = append(sections, sec)
	}

	return sections
}

func statusSection(counts map[model.Status]int) (section, bool) {
	rows := make([]table.Row, 0, len(counts))
	for _, status := range model.AllStatuses() {
		if n := counts[status]; n > 0 {
			rows = append(rows, table.Row{status.String(), n})
		}
	}
	if len(rows) == 0 {
		return section{}, false
	}
	return newSection("Row statuses", table.Row{"Status", "Rows"}, rows, 2), true
}

func categorySection(counts map[model.Category]int) (section, bool) {
	rows := make([]table.Row, 0, len(counts))
	for _, category := range model.AllCategories() {
		if n := counts[category]; n > 0 {
			rows = append(rows, table.Row{string(category), n})
		}
	}
	if len(rows) == 0 {
		return section{}, false
	}
	return newSection("Cache categories", table.Row{"Category", "Rows"}, rows, 2), true
}

func fetchSection(s *service.RunSummary) (section, bool) {
	if s.FetchAttempted == 0 && s.CacheWrites == 0 {
		return section{}, false
	}
	rows := []table.Row{
		{"Attempted", s.FetchAttempted},
		{"Succeeded", s.FetchSucceeded},
		{"Failed or not found", s.FetchFailed},
		{"Cache writes", s.CacheWrites},
	}
	return newSection("Fetching", table.Row{"Metric", "Count"}, rows, 2), true
}

func filterSection(result *model.FilterResult) (section, bool) {
	if result == nil || len(result.Groups) == 0 {
		return section{}, false
	}

	rows := make([]table.Row, 0, len(result.Groups))
	smallSamples := 0
	unparsable := 0
	for _, key := range result.GroupKeys() {
		group := result.Groups[key]
		unparsable += group.Unparsable

		label := group.Key
		band := "[" + fmtScore(group.ReviewLow) + ", " + fmtScore(group.ReviewHigh) + "]"
		if group.SmallSample {
			smallSamples++
			label += " *"
			band = "-"
		}

		rows = append(rows, table.Row{
			label,
			group.SampleSize,
			band,
			fmtScore(group.Floor),
			fmtScore(group.Threshold),
			group.Candidates,
			fmtRatio(group.CandidateRatio),
		})
	}

	sec := newSection("Review candidates by group",
		table.Row{"Group", "Rows", "Review band", "Floor", "Threshold", "Candidates", "Share"},
		rows, 2, 4, 5, 6, 7)

	var notes []string
	if smallSamples > 0 {
		notes = append(notes, "* sample below the minimum: rating floor only, no review band")
	}
	if unparsable > 0 {
		notes = append(notes, fmt.Sprintf("%d row(s) skipped: rating or review count not numeric", unparsable))
	}
	sec.note = strings.Join(notes, "\n")

	return sec, true
}

func failureSection(failures []service.RowFailure) (section, bool) {
	if len(failures) == 0 {
		return section{}, false
	}

	shown := failures
	if len(shown) > maxFailureRows {
		shown = shown[:maxFailureRows]
	}

	rows := make([]table.Row, 0, len(shown))
	for _, f := range shown {
		rows = append(rows, table.Row{orDash(f.Barcode), orDash(f.Identifier), f.Stage, f.Reason})
	}

	sec := newSection(fmt.Sprintf("Failures (%d)", len(failures)),
		table.Row{"Barcode", "Identifier", "Stage", "Reason"}, rows)
	if len(failures) > len(shown) {
		sec.note = fmt.Sprintf("... and %d more", len(failures)-len(shown))
	}

	return sec, true
}

// fmtScore prints a statistic with up to two decimals, trimming the noise a
// percentile interpolation leaves behind.
func fmtScore(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-" {
		return "0"
	}
	return s
}

func fmtRatio(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

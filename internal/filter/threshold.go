// Package filter flags acquisition-review candidates from enriched tables
// using per-group percentile statistics.
package filter

import (
	"log/slog"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"gonum.org/v1/gonum/stat"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/config"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

// CandidateMarker is the value written into the candidate column for
// flagged rows. Evaluated rows that do not qualify get an empty cell.
const CandidateMarker = "yes"

// UnknownGroup collects rows whose call number has no leading letter.
const UnknownGroup = "unknown"

// Columns names the table columns the filter reads and writes.
type Columns struct {
	Rating      string
	ReviewCount string
	CallNumber  string
	Candidate   string
}

// Thresholder evaluates enriched rows group by group. Groups are keyed by
// the leading letter of the call number, which in classification schemes
// like CLC identifies the subject area.
type Thresholder struct {
	cfg     config.FilterConfig
	rules   []model.ColumnRule
	columns Columns
	logger  *slog.Logger
}

// New builds a thresholder from the filter configuration and its compiled
// auxiliary rules.
func New(cfg config.FilterConfig, rules []model.ColumnRule, columns Columns) *Thresholder {
	return &Thresholder{
		cfg:     cfg,
		rules:   rules,
		columns: columns,
		logger:  slog.Default().With("component", "filter"),
	}
}

// ratedRow is one evaluated row with its parsed metrics.
type ratedRow struct {
	rec    *model.Record
	rating float64
	review float64
}

// Apply evaluates every enriched row and rewrites the candidate column:
// the marker for flagged rows, an empty cell everywhere else. Statistics
// are computed per group; groups below the minimum sample size skip the
// review band and use the rating floor alone.
func (f *Thresholder) Apply(rows []*model.Record) *model.FilterResult {
	result := model.NewFilterResult()

	// Stale markers from earlier runs must never survive a re-evaluation.
	for _, rec := range rows {
		rec.SetField(f.columns.Candidate, "")
	}

	groups := make(map[string][]ratedRow)
	unparsable := make(map[string]int)

	for _, rec := range rows {
		if rec.Status != model.StatusDone && rec.Status != model.StatusFromDB {
			continue
		}
		result.Evaluated++

		key := GroupKey(rec.Field(f.columns.CallNumber))
		rating, ratingOK := parseMetric(rec.Field(f.columns.Rating))
		review, reviewOK := parseMetric(rec.Field(f.columns.ReviewCount))
		if !ratingOK || !reviewOK {
			unparsable[key]++
			continue
		}
		groups[key] = append(groups[key], ratedRow{rec: rec, rating: rating, review: review})
	}
	for key := range unparsable {
		if _, ok := groups[key]; !ok {
			groups[key] = nil
		}
	}

	for key, members := range groups {
		stats := f.evaluateGroup(key, members, result)
		stats.Unparsable = unparsable[key]
		result.Groups[key] = stats

		f.logger.Debug("Group evaluated",
			"group", key,
			"sample_size", stats.SampleSize,
			"small_sample", stats.SmallSample,
			"threshold", stats.Threshold,
			"candidates", stats.Candidates)
	}

	f.logger.Info("Threshold filter finished",
		"evaluated", result.Evaluated,
		"groups", len(result.Groups),
		"candidates", result.CandidateCount())
	return result
}

// evaluateGroup computes one group's statistics and marks its candidates.
func (f *Thresholder) evaluateGroup(key string, members []ratedRow, result *model.FilterResult) model.GroupStats {
	stats := model.GroupStats{
		Key:        key,
		SampleSize: len(members),
		Floor:      f.cfg.FloorFor(key),
	}

	smallSample := len(members) < f.cfg.MinSampleSize
	stats.SmallSample = smallSample

	if smallSample {
		stats.Threshold = stats.Floor
	} else {
		ratings := make([]float64, len(members))
		reviews := make([]float64, len(members))
		for i, m := range members {
			ratings[i] = m.rating
			reviews[i] = m.review
		}
		sort.Float64s(ratings)
		sort.Float64s(reviews)

		stats.ReviewLow = stat.Quantile(f.cfg.ReviewPercentileLow/100, stat.LinInterp, reviews, nil)
		stats.ReviewHigh = stat.Quantile(f.cfg.ReviewPercentileHigh/100, stat.LinInterp, reviews, nil)
		stats.RatingPercentile = stat.Quantile(f.cfg.RatingPercentile/100, stat.LinInterp, ratings, nil)
		stats.Threshold = math.Max(stats.Floor, stats.RatingPercentile)
	}

	for _, m := range members {
		if !f.qualifies(m, stats) {
			continue
		}
		m.rec.SetField(f.columns.Candidate, CandidateMarker)
		if m.rec.Barcode != "" {
			result.MarkCandidate(m.rec.Barcode)
		}
		stats.Candidates++
	}

	if stats.SampleSize > 0 {
		stats.CandidateRatio = float64(stats.Candidates) / float64(stats.SampleSize)
	}
	return stats
}

// qualifies applies the group thresholds and the auxiliary column rules to
// one parsed row. The review band is inclusive on both ends and only
// applies to groups large enough for percentiles to mean something.
func (f *Thresholder) qualifies(m ratedRow, stats model.GroupStats) bool {
	if !stats.SmallSample {
		if m.review < stats.ReviewLow || m.review > stats.ReviewHigh {
			return false
		}
	}
	if m.rating < stats.Threshold {
		return false
	}
	for _, rule := range f.rules {
		if !rule.Matches(m.rec.Field(rule.Column)) {
			return false
		}
	}
	return true
}

// GroupKey maps a call number to its statistics group: the leading ASCII
// letter uppercased, or the unknown group.
func GroupKey(callNumber string) string {
	trimmed := strings.TrimSpace(callNumber)
	if trimmed == "" {
		return UnknownGroup
	}

	r, _ := utf8.DecodeRuneInString(trimmed)
	switch {
	case r >= 'A' && r <= 'Z':
		return string(r)
	case r >= 'a' && r <= 'z':
		return strings.ToUpper(string(r))
	default:
		return UnknownGroup
	}
}

func parseMetric(value string) (float64, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, false
	}
	parsed, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsNaN(parsed) || math.IsInf(parsed, 0) {
		return 0, false
	}
	return parsed, true
}

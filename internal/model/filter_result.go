package model

import "sort"

// GroupStats holds the per-category statistics the threshold filter derives
// for one category group.
type GroupStats struct {
	Key              string  `json:"key"`
	SampleSize       int     `json:"sample_size"`
	SmallSample      bool    `json:"small_sample"`
	ReviewLow        float64 `json:"review_low"`
	ReviewHigh       float64 `json:"review_high"`
	Floor            float64 `json:"floor"`
	RatingPercentile float64 `json:"rating_percentile"`
	Threshold        float64 `json:"threshold"`
	Candidates       int     `json:"candidates"`
	CandidateRatio   float64 `json:"candidate_ratio"`
	Unparsable       int     `json:"unparsable"`
}

// FilterResult is the output of one threshold-filter pass: the candidate
// set plus the per-group statistics the report renders. It is a pure
// function of the merged table and the filter configuration.
type FilterResult struct {
	Groups     map[string]GroupStats `json:"groups"`
	candidates map[string]bool
	Evaluated  int `json:"evaluated"`
}

// NewFilterResult creates an empty result.
func NewFilterResult() *FilterResult {
	return &FilterResult{
		Groups:     make(map[string]GroupStats),
		candidates: make(map[string]bool),
	}
}

// MarkCandidate flags a barcode as a review candidate.
func (r *FilterResult) MarkCandidate(barcode string) {
	if r.candidates == nil {
		r.candidates = make(map[string]bool)
	}
	r.candidates[barcode] = true
}

// IsCandidate reports whether a barcode was flagged.
func (r *FilterResult) IsCandidate(barcode string) bool {
	return r.candidates[barcode]
}

// Candidates returns the flagged barcodes in sorted order.
func (r *FilterResult) Candidates() []string {
	out := make([]string, 0, len(r.candidates))
	for barcode := range r.candidates {
		out = append(out, barcode)
	}
	sort.Strings(out)
	return out
}

// CandidateCount returns the number of flagged barcodes.
func (r *FilterResult) CandidateCount() int {
	return len(r.candidates)
}

// GroupKeys returns the category keys in sorted order.
func (r *FilterResult) GroupKeys() []string {
	keys := make([]string, 0, len(r.Groups))
	for key := range r.Groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

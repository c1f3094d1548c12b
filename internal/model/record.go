// Package model defines the domain types for the catalog enrichment pipeline.
package model

import (
	"sort"
	"strings"
)

// Source tags attached to a record as subsystems populate it.
const (
	SourceTagCache = "cache"
	SourceTagAPI   = "api"
)

// Record is one row of the working table. Barcode is the catalog-internal
// primary key; the identifier (ISBN) is the external lookup key. All other
// columns live in Fields under their configured column names.
type Record struct {
	Barcode              string            `json:"barcode"`
	RawIdentifier        string            `json:"raw_identifier"`
	NormalizedIdentifier string            `json:"normalized_identifier"`
	Status               Status            `json:"status"`
	SourceTags           []string          `json:"source_tags,omitempty"`
	Fields               map[string]string `json:"fields,omitempty"`
}

// NewRecord creates a pending record with an empty field map.
func NewRecord(barcode, rawIdentifier string) *Record {
	return &Record{
		Barcode:       barcode,
		RawIdentifier: rawIdentifier,
		Status:        StatusPending,
		Fields:        make(map[string]string),
	}
}

// Field returns the value stored under the given column name.
func (r *Record) Field(name string) string {
	return r.Fields[name]
}

// SetField stores a value under the given column name, allocating the field
// map on first use.
func (r *Record) SetField(name, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[name] = value
}

// BackfillField stores a value only when the column is currently empty, so
// data already present in the table is never overwritten by cache backfill.
func (r *Record) BackfillField(name, value string) {
	if value == "" {
		return
	}
	if strings.TrimSpace(r.Fields[name]) != "" {
		return
	}
	r.SetField(name, value)
}

// AddSourceTag records which subsystem populated the record. Tags form a
// set and stay sorted for a stable column representation.
func (r *Record) AddSourceTag(tag string) {
	for _, existing := range r.SourceTags {
		if existing == tag {
			return
		}
	}
	r.SourceTags = append(r.SourceTags, tag)
	sort.Strings(r.SourceTags)
}

// HasSourceTag reports whether the record carries the given tag.
func (r *Record) HasSourceTag(tag string) bool {
	for _, existing := range r.SourceTags {
		if existing == tag {
			return true
		}
	}
	return false
}

// SourceTagColumn renders the tag set for the reserved source-tags column.
func (r *Record) SourceTagColumn() string {
	return strings.Join(r.SourceTags, ",")
}

// ParseSourceTags restores a tag set from its column representation.
func ParseSourceTags(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		tags = append(tags, p)
	}
	sort.Strings(tags)
	return tags
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	cp.SourceTags = append([]string(nil), r.SourceTags...)
	cp.Fields = make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		cp.Fields[k] = v
	}
	return &cp
}

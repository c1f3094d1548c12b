package model

import "time"

// MetadataPayload is the field map returned by the external metadata source
// for one identifier. Field names are source-side names; the engine maps
// them onto table columns and cache fields through configuration.
type MetadataPayload struct {
	Identifier string            `json:"identifier"`
	Fields     map[string]string `json:"fields"`
	FetchedAt  time.Time         `json:"fetched_at"`
}

// Field returns a payload value, or the empty string when absent.
func (p *MetadataPayload) Field(name string) string {
	if p == nil {
		return ""
	}
	return p.Fields[name]
}

// IsEmpty reports whether the payload carries no usable fields.
func (p *MetadataPayload) IsEmpty() bool {
	return p == nil || len(p.Fields) == 0
}

// CacheEntry is one row of the durable metadata cache, keyed by barcode.
// Fields is a loose field map; no schema is enforced beyond the names the
// merge configuration uses.
type CacheEntry struct {
	Barcode   string            `json:"barcode"`
	ISBN      string            `json:"isbn,omitempty"`
	Fields    map[string]string `json:"fields"`
	FetchedAt time.Time         `json:"fetched_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Field returns a cached value, or the empty string when absent.
func (e *CacheEntry) Field(name string) string {
	if e == nil {
		return ""
	}
	return e.Fields[name]
}

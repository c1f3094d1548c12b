package model

// Category is the transient per-run classification of a record relative to
// the cache. It is tracked in the run manifest, never stored on the record.
type Category string

const (
	// CategoryExistingValid means the cache holds complete, fresh data.
	CategoryExistingValid Category = "existing_valid"
	// CategoryExistingIncomplete means the cache holds data missing required fields.
	CategoryExistingIncomplete Category = "existing_valid_incomplete"
	// CategoryExistingStale means the cache data is older than the refresh policy allows.
	CategoryExistingStale Category = "existing_stale"
	// CategoryNew means the cache has no entry for the record.
	CategoryNew Category = "new"
)

var allCategories = []Category{
	CategoryExistingValid,
	CategoryExistingIncomplete,
	CategoryExistingStale,
	CategoryNew,
}

// AllCategories returns the ordered list of known categories.
func AllCategories() []Category {
	cp := make([]Category, len(allCategories))
	copy(cp, allCategories)
	return cp
}

// FetchEligible reports whether records in this category go through the
// fetcher and, on success, the cache writer.
func (c Category) FetchEligible() bool {
	switch c {
	case CategoryExistingIncomplete, CategoryExistingStale, CategoryNew:
		return true
	default:
		return false
	}
}

// Manifest records which category each classified record fell into for one
// run, keyed by barcode. It is persisted inside the checkpoint so a resumed
// run keeps the same fetch and cache-write eligibility.
type Manifest map[string]Category

// Assign places a barcode in a category, overwriting any earlier assignment.
func (m Manifest) Assign(barcode string, category Category) {
	m[barcode] = category
}

// CategoryOf returns the category for a barcode, if classified this run.
func (m Manifest) CategoryOf(barcode string) (Category, bool) {
	c, ok := m[barcode]
	return c, ok
}

// FetchEligible reports whether the barcode was classified into a category
// that requires fetching.
func (m Manifest) FetchEligible(barcode string) bool {
	c, ok := m[barcode]
	return ok && c.FetchEligible()
}

// Counts returns the number of records assigned to each category.
func (m Manifest) Counts() map[Category]int {
	counts := make(map[Category]int, len(allCategories))
	for _, c := range m {
		counts[c]++
	}
	return counts
}

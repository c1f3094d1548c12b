package model

import "strings"

// Status represents the processing lifecycle of a catalog record.
type Status string

const (
	// StatusPending marks a record that still needs classification or fetching.
	StatusPending Status = "PENDING"
	// StatusFromDB marks a record fully backfilled from the local cache.
	StatusFromDB Status = "FROM_DB"
	// StatusNotFound marks a record the metadata source could not resolve,
	// including rows that exhausted their fetch retries.
	StatusNotFound Status = "NOT_FOUND"
	// StatusInvalidID marks a record whose identifier failed validation.
	StatusInvalidID Status = "INVALID_ID"
	// StatusNoID marks a record with no identifier and no way to obtain one.
	StatusNoID Status = "NO_ID"
	// StatusDone marks a record successfully enriched from the metadata source.
	StatusDone Status = "DONE"
)

var allStatuses = []Status{
	StatusPending,
	StatusFromDB,
	StatusNotFound,
	StatusInvalidID,
	StatusNoID,
	StatusDone,
}

// forwardTransitions is the complete status graph. Every status has an entry;
// an empty set means the status is terminal. Transitions never point back at
// StatusPending, which keeps the machine forward-only by construction.
var forwardTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusFromDB:    true,
		StatusNotFound:  true,
		StatusInvalidID: true,
		StatusNoID:      true,
		StatusDone:      true,
	},
	StatusFromDB:    {},
	StatusNotFound:  {},
	StatusInvalidID: {},
	StatusNoID:      {},
	StatusDone:      {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a column value into a known Status. Empty values parse
// to StatusPending so freshly loaded tables need no status column.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(value)))
	if normalized == "" {
		return StatusPending, true
	}
	_, ok := forwardTransitions[normalized]
	return normalized, ok
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	next, ok := forwardTransitions[s]
	return ok && len(next) == 0
}

// CanAdvanceTo reports whether the transition s -> next is allowed.
func (s Status) CanAdvanceTo(next Status) bool {
	return forwardTransitions[s][next]
}

// String returns the column representation of the status.
func (s Status) String() string {
	return string(s)
}

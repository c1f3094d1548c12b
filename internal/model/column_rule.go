package model

import (
	"fmt"
	"regexp"
	"strings"
)

// RuleKind selects how a column rule evaluates a cell value. The set is
// closed; ParseRuleKind rejects anything else at configuration time.
type RuleKind string

const (
	// RuleNonEmpty passes when the cell holds any non-blank value.
	RuleNonEmpty RuleKind = "nonempty"
	// RuleRegex passes when the cell matches a compiled pattern.
	RuleRegex RuleKind = "regex"
)

// ParseRuleKind validates a configured rule kind string.
func ParseRuleKind(value string) (RuleKind, error) {
	switch RuleKind(strings.ToLower(strings.TrimSpace(value))) {
	case RuleNonEmpty:
		return RuleNonEmpty, nil
	case RuleRegex:
		return RuleRegex, nil
	default:
		return "", fmt.Errorf("unknown column rule kind %q", value)
	}
}

// ColumnRule is an auxiliary candidate check on an arbitrary table column.
// Rules are compiled once at construction; a rule that fails to compile is
// a configuration error, not a per-row failure.
type ColumnRule struct {
	Column  string
	Kind    RuleKind
	Pattern string
	re      *regexp.Regexp
}

// NewNonEmptyRule builds a rule requiring the column to be non-blank.
func NewNonEmptyRule(column string) (ColumnRule, error) {
	if strings.TrimSpace(column) == "" {
		return ColumnRule{}, fmt.Errorf("column rule requires a column name")
	}
	return ColumnRule{Column: column, Kind: RuleNonEmpty}, nil
}

// NewRegexRule builds a rule requiring the column to match pattern.
func NewRegexRule(column, pattern string) (ColumnRule, error) {
	if strings.TrimSpace(column) == "" {
		return ColumnRule{}, fmt.Errorf("column rule requires a column name")
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return ColumnRule{}, fmt.Errorf("column rule pattern %q: %w", pattern, err)
	}
	return ColumnRule{Column: column, Kind: RuleRegex, Pattern: pattern, re: re}, nil
}

// Matches evaluates the rule against a cell value.
func (r ColumnRule) Matches(value string) bool {
	switch r.Kind {
	case RuleNonEmpty:
		return strings.TrimSpace(value) != ""
	case RuleRegex:
		return r.re != nil && r.re.MatchString(value)
	default:
		return false
	}
}

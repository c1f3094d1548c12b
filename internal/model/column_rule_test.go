package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRuleKind(t *testing.T) {
	tests := []struct {
		value   string
		want    RuleKind
		wantErr bool
	}{
		{"nonempty", RuleNonEmpty, false},
		{"REGEX", RuleRegex, false},
		{" regex ", RuleRegex, false},
		{"glob", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got, err := ParseRuleKind(tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNonEmptyRule(t *testing.T) {
	rule, err := NewNonEmptyRule("call_number")
	require.NoError(t, err)

	assert.True(t, rule.Matches("H319.4"))
	assert.False(t, rule.Matches(""))
	assert.False(t, rule.Matches("   "))

	_, err = NewNonEmptyRule("  ")
	assert.Error(t, err)
}

func TestRegexRule(t *testing.T) {
	rule, err := NewRegexRule("call_number", `^[A-Z]`)
	require.NoError(t, err)

	assert.True(t, rule.Matches("H319.4"))
	assert.False(t, rule.Matches("319.4"))

	_, err = NewRegexRule("call_number", `([`)
	assert.Error(t, err, "invalid pattern must fail at construction")
}

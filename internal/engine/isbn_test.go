package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeISBN(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "valid ISBN-13",
			raw:  "9787111128069",
			want: "9787111128069",
		},
		{
			name: "hyphenated ISBN-13",
			raw:  "978-7-111-12806-9",
			want: "9787111128069",
		},
		{
			name: "spaced ISBN-13",
			raw:  "978 7 111 12806 9",
			want: "9787111128069",
		},
		{
			name: "ISBN-10 converts to ISBN-13",
			raw:  "7111128060",
			want: "9787111128069",
		},
		{
			name: "ISBN-10 with check digit X",
			raw:  "097522980X",
			want: "9780975229804",
		},
		{
			name: "lowercase x is accepted",
			raw:  "097522980x",
			want: "9780975229804",
		},
		{
			name: "hyphenated ISBN-10",
			raw:  "0-306-40615-2",
			want: "9780306406157",
		},
		{
			name:    "ISBN-13 check digit mismatch",
			raw:     "9787111128068",
			wantErr: true,
		},
		{
			name:    "ISBN-10 check digit mismatch",
			raw:     "7111128061",
			wantErr: true,
		},
		{
			name:    "X in the middle of an ISBN-10",
			raw:     "09752X980X",
			wantErr: true,
		},
		{
			name:    "X in an ISBN-13",
			raw:     "978711112806X",
			wantErr: true,
		},
		{
			name:    "too short",
			raw:     "12345",
			wantErr: true,
		},
		{
			name:    "too long",
			raw:     "97871111280690",
			wantErr: true,
		},
		{
			name:    "letters",
			raw:     "not-an-isbn",
			wantErr: true,
		},
		{
			name:    "separators only",
			raw:     "- - -",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeISBN(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestISBN13CheckDigit(t *testing.T) {
	assert.Equal(t, 9, isbn13CheckDigit("978711112806"))
	assert.Equal(t, 7, isbn13CheckDigit("978030640615"))
	assert.Equal(t, 4, isbn13CheckDigit("978097522980"))
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordSourceTags(t *testing.T) {
	rec := NewRecord("B0001", "978-7-115-54608-1")

	rec.AddSourceTag(SourceTagAPI)
	rec.AddSourceTag(SourceTagCache)
	rec.AddSourceTag(SourceTagAPI) // duplicate is a no-op

	assert.Equal(t, []string{SourceTagAPI, SourceTagCache}, rec.SourceTags)
	assert.True(t, rec.HasSourceTag(SourceTagCache))
	assert.False(t, rec.HasSourceTag("scanner"))
	assert.Equal(t, "api,cache", rec.SourceTagColumn())
}

func TestParseSourceTags(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "cache", []string{"cache"}},
		{"sorted and trimmed", " api , cache ", []string{"api", "cache"}},
		{"drops blanks", "api,,cache,", []string{"api", "cache"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseSourceTags(tt.value))
		})
	}
}

func TestRecordBackfillField(t *testing.T) {
	rec := NewRecord("B0002", "")
	rec.SetField("title", "Existing Title")

	rec.BackfillField("title", "Cache Title")
	rec.BackfillField("publisher", "Cache Press")
	rec.BackfillField("author", "")

	assert.Equal(t, "Existing Title", rec.Field("title"), "backfill must not overwrite")
	assert.Equal(t, "Cache Press", rec.Field("publisher"))
	assert.Empty(t, rec.Field("author"), "empty backfill values are ignored")
}

func TestRecordClone(t *testing.T) {
	rec := NewRecord("B0003", "9787115546081")
	rec.SetField("title", "Original")
	rec.AddSourceTag(SourceTagCache)

	cp := rec.Clone()
	cp.SetField("title", "Changed")
	cp.AddSourceTag(SourceTagAPI)
	cp.Status = StatusDone

	assert.Equal(t, "Original", rec.Field("title"))
	assert.Equal(t, []string{SourceTagCache}, rec.SourceTags)
	assert.Equal(t, StatusPending, rec.Status)
}

func TestManifestPartition(t *testing.T) {
	m := make(Manifest)
	m.Assign("B1", CategoryNew)
	m.Assign("B2", CategoryExistingValid)
	m.Assign("B3", CategoryExistingStale)
	m.Assign("B4", CategoryExistingIncomplete)

	assert.True(t, m.FetchEligible("B1"))
	assert.False(t, m.FetchEligible("B2"))
	assert.True(t, m.FetchEligible("B3"))
	assert.True(t, m.FetchEligible("B4"))
	assert.False(t, m.FetchEligible("unclassified"))

	counts := m.Counts()
	assert.Equal(t, 1, counts[CategoryNew])
	assert.Equal(t, 1, counts[CategoryExistingValid])
}

package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

func testMapping() Mapping {
	return Mapping{
		Barcode:    "barcode",
		Identifier: "isbn",
		Status:     "status",
		SourceTags: "sources",
		Candidate:  "candidate",
	}
}

func TestNewRejectsBadHeaders(t *testing.T) {
	tests := []struct {
		name    string
		columns []string
		wantErr error
	}{
		{
			name:    "empty header",
			columns: nil,
			wantErr: common.ErrTableFormat,
		},
		{
			name:    "blank column name",
			columns: []string{"barcode", " ", "isbn"},
			wantErr: common.ErrTableFormat,
		},
		{
			name:    "duplicate column",
			columns: []string{"barcode", "isbn", "barcode"},
			wantErr: common.ErrTableFormat,
		},
		{
			name:    "missing barcode column",
			columns: []string{"isbn", "title"},
			wantErr: common.ErrMissingColumn,
		},
		{
			name:    "missing identifier column",
			columns: []string{"barcode", "title"},
			wantErr: common.ErrMissingColumn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.columns, testMapping())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestAppendParsesRecord(t *testing.T) {
	tbl, err := New([]string{"barcode", "isbn", "title", "status", "sources"}, testMapping())
	require.NoError(t, err)

	require.NoError(t, tbl.Append([]string{" B001 ", " 9787111111111 ", "Go in Practice", "done", "cache,api"}))
	require.Equal(t, 1, tbl.Len())

	rec := tbl.Rows()[0]
	assert.Equal(t, "B001", rec.Barcode)
	assert.Equal(t, "9787111111111", rec.RawIdentifier)
	assert.Equal(t, "Go in Practice", rec.Field("title"))
	assert.Equal(t, model.StatusDone, rec.Status)
	assert.Equal(t, []string{"api", "cache"}, rec.SourceTags)
}

func TestAppendPadsShortRows(t *testing.T) {
	tbl, err := New([]string{"barcode", "isbn", "title"}, testMapping())
	require.NoError(t, err)

	require.NoError(t, tbl.Append([]string{"B002"}))

	rec := tbl.Rows()[0]
	assert.Equal(t, "B002", rec.Barcode)
	assert.Empty(t, rec.RawIdentifier)
	assert.Empty(t, rec.Field("title"))
	assert.Equal(t, model.StatusPending, rec.Status)
}

func TestAppendRejectsWideRows(t *testing.T) {
	tbl, err := New([]string{"barcode", "isbn"}, testMapping())
	require.NoError(t, err)

	err = tbl.Append([]string{"B003", "9787111111111", "extra"})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTableFormat)
}

func TestAppendTreatsGarbageStatusAsPending(t *testing.T) {
	tbl, err := New([]string{"barcode", "isbn", "status"}, testMapping())
	require.NoError(t, err)

	require.NoError(t, tbl.Append([]string{"B004", "9787111111111", "SHRUG"}))
	assert.Equal(t, model.StatusPending, tbl.Rows()[0].Status)
}

func TestSaveColumnsAppendsReserved(t *testing.T) {
	tbl, err := New([]string{"barcode", "isbn", "title"}, testMapping())
	require.NoError(t, err)

	columns := SaveColumns(tbl, testMapping())
	assert.Equal(t, []string{"barcode", "isbn", "title", "status", "sources", "candidate"}, columns)
}

func TestSaveColumnsKeepsExistingPositions(t *testing.T) {
	tbl, err := New([]string{"status", "barcode", "isbn"}, testMapping())
	require.NoError(t, err)

	columns := SaveColumns(tbl, testMapping())
	assert.Equal(t, []string{"status", "barcode", "isbn", "sources", "candidate"}, columns)
}

func TestRenderRow(t *testing.T) {
	m := testMapping()
	tbl, err := New([]string{"barcode", "isbn", "title"}, m)
	require.NoError(t, err)
	require.NoError(t, tbl.Append([]string{"B005", "7111111110", "Old Title"}))

	rec := tbl.Rows()[0]
	rec.Status = model.StatusDone
	rec.AddSourceTag(model.SourceTagAPI)
	rec.NormalizedIdentifier = "9787111111110"
	rec.SetField("title", "New Title")
	rec.SetField(m.Candidate, "yes")

	columns := SaveColumns(tbl, m)
	cells := RenderRow(columns, rec, m)

	assert.Equal(t, []string{"B005", "9787111111110", "New Title", "DONE", "api", "yes"}, cells)
}

func TestRenderRowKeepsRawIdentifierUntilNormalized(t *testing.T) {
	m := testMapping()
	tbl, err := New([]string{"barcode", "isbn"}, m)
	require.NoError(t, err)
	require.NoError(t, tbl.Append([]string{"B006", "not-an-isbn"}))

	cells := RenderRow(tbl.Columns(), tbl.Rows()[0], m)
	assert.Equal(t, []string{"B006", "not-an-isbn"}, cells)
}

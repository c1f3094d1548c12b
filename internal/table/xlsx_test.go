package table

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

func TestXLSXRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := testMapping()

	tbl, err := New([]string{"barcode", "isbn", "title"}, m)
	require.NoError(t, err)
	require.NoError(t, tbl.Append([]string{"B001", "9787111111111", "Go in Practice"}))
	require.NoError(t, tbl.Append([]string{"B002", "", ""}))
	tbl.Rows()[0].Status = model.StatusDone
	tbl.Rows()[0].AddSourceTag(model.SourceTagAPI)
	tbl.Rows()[1].Status = model.StatusNoID

	path := filepath.Join(dir, "catalog.xlsx")
	codec := NewXLSXCodec(m)
	require.NoError(t, codec.Save(tbl, path))

	loaded, err := codec.Load(path)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())
	assert.Equal(t, []string{"barcode", "isbn", "title", "status", "sources", "candidate"},
		loaded.Columns())

	rows := loaded.Rows()
	assert.Equal(t, "B001", rows[0].Barcode)
	assert.Equal(t, model.StatusDone, rows[0].Status)
	assert.Equal(t, []string{"api"}, rows[0].SourceTags)
	assert.Equal(t, model.StatusNoID, rows[1].Status)
	assert.Empty(t, rows[1].RawIdentifier)
}

func TestXLSXLoadPadsRaggedRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ragged.xlsx")

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]interface{}{"barcode", "isbn", "title"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]interface{}{"B001"}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	loaded, err := NewXLSXCodec(testMapping()).Load(path)
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Len())

	rec := loaded.Rows()[0]
	assert.Equal(t, "B001", rec.Barcode)
	assert.Empty(t, rec.RawIdentifier)
	assert.Equal(t, model.StatusPending, rec.Status)
}

func TestXLSXLoadMissingFile(t *testing.T) {
	_, err := NewXLSXCodec(testMapping()).Load(filepath.Join(t.TempDir(), "nope.xlsx"))
	require.Error(t, err)
}

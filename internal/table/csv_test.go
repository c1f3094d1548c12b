package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
)

func TestCSVRoundTrip(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "catalog.csv")
	content := "barcode,isbn,title,rating\nB001,9787111111111,Go in Practice,8.9\nB002,7111111110,,\n"
	require.NoError(t, os.WriteFile(input, []byte(content), 0600))

	codec := NewCSVCodec(testMapping())
	loaded, err := codec.Load(input)
	require.NoError(t, err)
	require.Equal(t, 2, loaded.Len())
	assert.Equal(t, []string{"barcode", "isbn", "title", "rating"}, loaded.Columns())

	first := loaded.Rows()[0]
	first.Status = model.StatusDone
	first.AddSourceTag(model.SourceTagAPI)

	second := loaded.Rows()[1]
	second.Status = model.StatusFromDB
	second.NormalizedIdentifier = "9787111111110"
	second.AddSourceTag(model.SourceTagCache)

	output := filepath.Join(dir, "out.csv")
	require.NoError(t, codec.Save(loaded, output))

	reloaded, err := codec.Load(output)
	require.NoError(t, err)
	assert.Equal(t, []string{"barcode", "isbn", "title", "rating", "status", "sources", "candidate"},
		reloaded.Columns())

	rows := reloaded.Rows()
	assert.Equal(t, model.StatusDone, rows[0].Status)
	assert.Equal(t, []string{"api"}, rows[0].SourceTags)
	assert.Equal(t, model.StatusFromDB, rows[1].Status)
	assert.Equal(t, "9787111111110", rows[1].RawIdentifier)
}

func TestCSVLoadStripsBOM(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "bom.csv")
	content := "\uFEFFbarcode,isbn\nB001,9787111111111\n"
	require.NoError(t, os.WriteFile(input, []byte(content), 0600))

	loaded, err := NewCSVCodec(testMapping()).Load(input)
	require.NoError(t, err)
	assert.Equal(t, []string{"barcode", "isbn"}, loaded.Columns())
	assert.Equal(t, "B001", loaded.Rows()[0].Barcode)
}

func TestCSVLoadEmptyFile(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(input, nil, 0600))

	_, err := NewCSVCodec(testMapping()).Load(input)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestCSVLoadMissingFile(t *testing.T) {
	_, err := NewCSVCodec(testMapping()).Load(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestCSVSaveDoesNotLeaveTempFile(t *testing.T) {
	dir := t.TempDir()
	tbl, err := New([]string{"barcode", "isbn"}, testMapping())
	require.NoError(t, err)
	require.NoError(t, tbl.Append([]string{"B001", "9787111111111"}))

	output := filepath.Join(dir, "out.csv")
	require.NoError(t, NewCSVCodec(testMapping()).Save(tbl, output))

	_, err = os.Stat(output)
	require.NoError(t, err)
	_, err = os.Stat(output + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestCodecFor(t *testing.T) {
	m := testMapping()

	codec, err := CodecFor("data/catalog.csv", m)
	require.NoError(t, err)
	assert.IsType(t, &CSVCodec{}, codec)

	codec, err = CodecFor("data/Catalog.XLSX", m)
	require.NoError(t, err)
	assert.IsType(t, &XLSXCodec{}, codec)

	_, err = CodecFor("data/catalog.parquet", m)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrTableFormat)
}

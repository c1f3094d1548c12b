package table

import (
	"fmt"
	"os"

	"github.com/xuri/excelize/v2"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// XLSXCodec reads and writes the working table as an Excel workbook. Only
// the first sheet is used; catalog exports ship single-sheet files.
type XLSXCodec struct {
	mapping Mapping
}

// NewXLSXCodec returns a codec bound to the configured column names.
func NewXLSXCodec(mapping Mapping) *XLSXCodec {
	return &XLSXCodec{mapping: mapping}
}

// Extensions lists the file extensions this codec handles.
func (c *XLSXCodec) Extensions() []string {
	return []string{".xlsx"}
}

// Load reads the first sheet into a table. The first row is the header.
// Rows come back ragged from the workbook; Append pads the short ones.
func (c *XLSXCodec) Load(path string) (service.Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("%w: workbook has no sheets", common.ErrTableFormat)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %s has no header row", common.ErrTableFormat, sheet)
	}

	t, err := New(rows[0], c.mapping)
	if err != nil {
		return nil, err
	}
	for i, cells := range rows[1:] {
		if err := t.Append(cells); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}

	return t, nil
}

// Save writes the table to a fresh workbook, then renames it over the
// destination so a crash never leaves a half-written file behind.
func (c *XLSXCodec) Save(t service.Table, path string) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(0)
	columns := SaveColumns(t, c.mapping)

	if err := setRow(f, sheet, 1, columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i, rec := range t.Rows() {
		if err := setRow(f, sheet, i+2, RenderRow(columns, rec, c.mapping)); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", rec.Barcode, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := f.SaveAs(tmpPath); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace workbook: %w", err)
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []string) error {
	ref, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(cells))
	for i, cell := range cells {
		values[i] = cell
	}
	return f.SetSheetRow(sheet, ref, &values)
}

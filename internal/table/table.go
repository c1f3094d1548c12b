// Package table holds the in-memory working table and the file codecs that
// load and save it.
package table

import (
	"fmt"
	"strings"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/common"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/model"
	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// Mapping names the columns the pipeline reads and the reserved columns it
// owns on save. All names come from configuration; nothing here is
// hard-coded to a particular catalog export.
type Mapping struct {
	Barcode    string
	Identifier string
	Status     string
	SourceTags string
	Candidate  string
}

// reserved lists the columns the pipeline appends when the input lacks them.
func (m Mapping) reserved() []string {
	return []string{m.Status, m.SourceTags, m.Candidate}
}

// Table is the row store: an ordered header plus one Record per data row.
type Table struct {
	columns []string
	rows    []*model.Record
	mapping Mapping
}

// New builds an empty table for the given header. The header must contain
// the barcode and identifier columns and no duplicates.
func New(columns []string, mapping Mapping) (*Table, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: empty header", common.ErrTableFormat)
	}

	trimmed := make([]string, len(columns))
	seen := make(map[string]int, len(columns))
	for i, col := range columns {
		name := strings.TrimSpace(col)
		if name == "" {
			return nil, fmt.Errorf("%w: blank header in column %d", common.ErrTableFormat, i+1)
		}
		if prev, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate header %q in columns %d and %d",
				common.ErrTableFormat, name, prev+1, i+1)
		}
		seen[name] = i
		trimmed[i] = name
	}

	for _, required := range []string{mapping.Barcode, mapping.Identifier} {
		if _, ok := seen[required]; !ok {
			return nil, fmt.Errorf("%w: %q", common.ErrMissingColumn, required)
		}
	}

	return &Table{columns: trimmed, mapping: mapping}, nil
}

// Columns returns the header in input order. It never includes reserved
// columns the input file did not carry; SaveColumns does.
func (t *Table) Columns() []string {
	return t.columns
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// Rows returns the records in input order.
func (t *Table) Rows() []*model.Record {
	return t.rows
}

// Append parses one row of cells into a record. Short rows are padded with
// empty cells; rows wider than the header are rejected.
func (t *Table) Append(cells []string) error {
	if len(cells) > len(t.columns) {
		return fmt.Errorf("%w: row has %d cells for %d columns",
			common.ErrTableFormat, len(cells), len(t.columns))
	}

	rec := model.NewRecord("", "")
	for i, col := range t.columns {
		var cell string
		if i < len(cells) {
			cell = cells[i]
		}
		rec.SetField(col, cell)
	}

	rec.Barcode = strings.TrimSpace(rec.Field(t.mapping.Barcode))
	rec.RawIdentifier = strings.TrimSpace(rec.Field(t.mapping.Identifier))

	// Unknown status cells fall back to pending; reprocessing a row is safe,
	// silently trusting a corrupt cell is not.
	if status, ok := model.ParseStatus(rec.Field(t.mapping.Status)); ok {
		rec.Status = status
	} else {
		rec.Status = model.StatusPending
	}
	rec.SourceTags = model.ParseSourceTags(rec.Field(t.mapping.SourceTags))

	t.rows = append(t.rows, rec)
	return nil
}

// SaveColumns is the output header: the input order with any reserved
// columns the input lacked appended at the end.
func SaveColumns(t service.Table, m Mapping) []string {
	columns := append([]string(nil), t.Columns()...)
	present := make(map[string]bool, len(columns))
	for _, col := range columns {
		present[col] = true
	}
	for _, col := range m.reserved() {
		if col != "" && !present[col] {
			columns = append(columns, col)
			present[col] = true
		}
	}
	return columns
}

// RenderRow serializes a record under the given header. Status and source
// tags come from the typed fields; the identifier column carries the
// normalized form once one exists.
func RenderRow(columns []string, rec *model.Record, m Mapping) []string {
	cells := make([]string, len(columns))
	for i, col := range columns {
		switch col {
		case m.Status:
			cells[i] = rec.Status.String()
		case m.SourceTags:
			cells[i] = rec.SourceTagColumn()
		case m.Identifier:
			if rec.NormalizedIdentifier != "" {
				cells[i] = rec.NormalizedIdentifier
			} else {
				cells[i] = rec.Field(col)
			}
		default:
			cells[i] = rec.Field(col)
		}
	}
	return cells
}

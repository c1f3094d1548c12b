package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xulei-shl/Library-AI-demos-sub002/internal/service"
)

// CSVCodec reads and writes the working table as UTF-8 CSV. Spreadsheet
// exports often lead with a byte-order mark; Load strips it.
type CSVCodec struct {
	mapping Mapping
}

// NewCSVCodec returns a codec bound to the configured column names.
func NewCSVCodec(mapping Mapping) *CSVCodec {
	return &CSVCodec{mapping: mapping}
}

// Extensions lists the file extensions this codec handles.
func (c *CSVCodec) Extensions() []string {
	return []string{".csv"}
}

// Load reads the file into a table. The first row is the header.
func (c *CSVCodec) Load(path string) (service.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open table file: %w", err)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read header: %s is empty", path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\uFEFF")
	}

	t, err := New(header, c.mapping)
	if err != nil {
		return nil, err
	}

	for line := 2; ; line++ {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row at line %d: %w", line, err)
		}
		if err := t.Append(cells); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}

	return t, nil
}

// Save writes the table atomically: full render to a temporary file, then
// rename over the destination.
func (c *CSVCodec) Save(t service.Table, path string) error {
	columns := SaveColumns(t, c.mapping)

	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write(columns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, rec := range t.Rows() {
		if err := writer.Write(RenderRow(columns, rec, c.mapping)); err != nil {
			return fmt.Errorf("failed to write row for %s: %w", rec.Barcode, err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write table file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to replace table file: %w", err)
	}
	return nil
}

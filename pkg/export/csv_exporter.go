package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// utf8BOM lets spreadsheet tools detect UTF-8 so Arabic labels survive the round trip.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Column maps a header to the row key holding its value.
type Column struct {
	Key    string
	Header string
}

// Table is tabular export content. Rows are keyed by Column.Key.
type Table struct {
	Columns []Column
	Rows    []map[string]string
}

// CSVExporter streams tables as CSV.
type CSVExporter struct {
	bom bool
}

// NewCSVExporter builds a CSV exporter; withBOM prefixes the output with a UTF-8 byte order mark.
func NewCSVExporter(withBOM bool) *CSVExporter {
	return &CSVExporter{bom: withBOM}
}

// ContentType is the media type of the rendered output.
func (e *CSVExporter) ContentType() string {
	return "text/csv; charset=utf-8"
}

// Write renders table into w.
func (e *CSVExporter) Write(w io.Writer, table Table) error {
	if len(table.Columns) == 0 {
		return fmt.Errorf("csv requires at least one column")
	}
	if e.bom {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("write csv bom: %w", err)
		}
	}
	writer := csv.NewWriter(w)
	headers := make([]string, len(table.Columns))
	for i, col := range table.Columns {
		headers[i] = col.Header
		if headers[i] == "" {
			headers[i] = col.Key
		}
	}
	if err := writer.Write(headers); err != nil {
		return fmt.Errorf("write csv headers: %w", err)
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i, col := range table.Columns {
			record[i] = row[col.Key]
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

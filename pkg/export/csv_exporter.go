package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Dataset is tabular export content. Rows are keyed by header name; a
// missing key renders as an empty cell.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
}

// records flattens the dataset into CSV records in header order.
func (d Dataset) records() [][]string {
	out := make([][]string, 0, len(d.Rows)+1)
	out = append(out, d.Headers)
	for _, row := range d.Rows {
		record := make([]string, len(d.Headers))
		for i, header := range d.Headers {
			record[i] = row[header]
		}
		out = append(out, record)
	}
	return out
}

// CSVExporter renders a Dataset into CSV bytes.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// utf8BOM makes spreadsheet apps detect the encoding of accented student
// names correctly.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Render produces CSV encoded bytes for the dataset, headers first.
func (e *CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, fmt.Errorf("csv requires at least one header")
	}

	buf := &bytes.Buffer{}
	buf.Write(utf8BOM)

	writer := csv.NewWriter(buf)
	if err := writer.WriteAll(data.records()); err != nil {
		return nil, fmt.Errorf("write csv: %w", err)
	}
	return buf.Bytes(), nil
}

package report

import (
	"bytes"
	"encoding/csv"
)

// CSVFormatter renders the summary as plain CSV, for spreadsheet import
// or piping into other tools.
type CSVFormatter struct{}

// NewCSVFormatter creates a CSV-backed TableFormatter.
func NewCSVFormatter() *CSVFormatter {
	return &CSVFormatter{}
}

// Format writes the header row followed by the data rows. Writes to the
// in-memory buffer cannot fail, so errors are not surfaced.
func (f *CSVFormatter) Format(headers []string, rows [][]string) string {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)

	writer.Write(headers)
	writer.WriteAll(rows)

	writer.Flush()
	return buf.String()
}

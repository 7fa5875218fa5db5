// Package output writes extracted rows to per-page tabular files and
// concatenates them into the final run output.
package output

// Row is one output record, aligned with the run's column order.
type Row []string

// MapRow projects a field map onto the column order. Missing fields become
// empty cells so every row has the same width.
func MapRow(fields map[string]string, columns []string) Row {
	row := make(Row, len(columns))
	for i, col := range columns {
		row[i] = fields[col]
	}
	return row
}

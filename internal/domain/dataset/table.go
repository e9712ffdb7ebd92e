// Package dataset holds the tabular data model and the pure pipeline that
// turns prompts and model replies into tables: prompt interpretation,
// reply extraction, placeholder values and reconciliation of existing tables.
package dataset

import "slices"

// IDColumn is the identifier column maintained by reconciliation.
const IDColumn = "id"

// Value is a single cell: string, int64, float64, bool or nil.
// Nested JSON values from a model reply are kept as decoded.
type Value = any

// Row maps column names to cell values. A row only carries the keys it
// was built with; a missing key reads as nil.
type Row map[string]Value

// Table is an ordered sequence of rows plus the ordered column set.
// Columns is the union of all row keys in first-seen order.
type Table struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// HasColumn reports whether name is part of the column set.
func (t *Table) HasColumn(name string) bool {
	return slices.Contains(t.Columns, name)
}

// addColumn appends name to the column set unless it is already present.
func (t *Table) addColumn(name string) bool {
	if t.HasColumn(name) {
		return false
	}
	t.Columns = append(t.Columns, name)
	return true
}

// FromRows builds a table whose column order is the first-seen key order
// given by keyOrder, followed by any remaining keys sorted by name.
func FromRows(rows []Row, keyOrder []string) Table {
	t := Table{Rows: rows}
	for _, k := range keyOrder {
		t.addColumn(k)
	}
	var extra []string
	for _, r := range rows {
		for k := range r {
			if !t.HasColumn(k) && !slices.Contains(extra, k) {
				extra = append(extra, k)
			}
		}
	}
	slices.Sort(extra)
	t.Columns = append(t.Columns, extra...)
	return t
}

// Cells returns the row's values aligned with the table columns.
func (t *Table) Cells(i int) []Value {
	out := make([]Value, len(t.Columns))
	for j, c := range t.Columns {
		out[j] = t.Rows[i][c]
	}
	return out
}

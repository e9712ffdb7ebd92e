package dataset

// FillColumns extends t in place to the schema and row count requested by
// prompt, without any model call:
//
//   - a missing id column is added with every existing row set to 0;
//   - each schema column the table lacks is added and back-filled with
//     placeholder values;
//   - rows are appended up to the requested count. Appended rows get ids
//     len(t)+1, len(t)+2, ... and placeholder values for every schema column.
//     The target is capped at MaxRowCount.
//
// Existing rows and columns keep their order; new ones follow. Running it
// twice with the same prompt changes nothing the second time.
func FillColumns(t *Table, prompt string, gen *Generator) *Table {
	schema := ExtractColumns(prompt)
	target := ExtractRowCount(prompt)
	return FillTo(t, schema, target, gen)
}

// FillTo is FillColumns with an explicit schema and row count.
func FillTo(t *Table, schema []string, target int, gen *Generator) *Table {
	for i := range t.Rows {
		if t.Rows[i] == nil {
			t.Rows[i] = Row{}
		}
	}

	if t.addColumn(IDColumn) {
		for _, r := range t.Rows {
			r[IDColumn] = int64(0)
		}
	}

	for _, col := range schema {
		if !t.addColumn(col) {
			continue
		}
		for _, r := range t.Rows {
			r[col] = gen.Value(col)
		}
	}

	target = min(target, MaxRowCount)
	for i := len(t.Rows) + 1; i <= target; i++ {
		r := Row{IDColumn: int64(i)}
		for _, col := range schema {
			if col == IDColumn {
				continue
			}
			r[col] = gen.Value(col)
		}
		t.Rows = append(t.Rows, r)
	}
	return t
}

// Append concatenates generated after existing. Rows keep their own
// column sets: cells a row never had stay absent and are not back-filled.
// The column set is existing's columns followed by generated's new ones.
func Append(existing, generated Table) Table {
	out := Table{
		Columns: make([]string, 0, len(existing.Columns)+len(generated.Columns)),
		Rows:    make([]Row, 0, len(existing.Rows)+len(generated.Rows)),
	}
	for _, c := range existing.Columns {
		out.addColumn(c)
	}
	for _, c := range generated.Columns {
		out.addColumn(c)
	}
	out.Rows = append(out.Rows, existing.Rows...)
	out.Rows = append(out.Rows, generated.Rows...)
	return out
}

package resultdb

import (
	"slices"
	"sort"
)

// Table is an in-memory, row-oriented result table.
type Table struct {
	columns []string
	index   map[string]int
	rows    [][]Value
}

func NewTable(columns ...string) *Table {
	t := &Table{index: make(map[string]int)}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

func (t *Table) Columns() []string {
	return slices.Clone(t.columns)
}

func (t *Table) HasColumn(column string) bool {
	_, ok := t.index[column]
	return ok
}

func (t *Table) Len() int {
	return len(t.rows)
}

// AddColumn appends a column filled with missing cells and returns its
// position. Existing columns are left untouched.
func (t *Table) AddColumn(column string) int {
	if i, ok := t.index[column]; ok {
		return i
	}

	t.columns = append(t.columns, column)
	t.index[column] = len(t.columns) - 1
	for i := range t.rows {
		t.rows[i] = append(t.rows[i], Missing())
	}
	return len(t.columns) - 1
}

// Get returns the cell at row/column, missing if the column does not exist.
func (t *Table) Get(row int, column string) Value {
	if i, ok := t.index[column]; ok {
		return t.rows[row][i]
	}
	return Missing()
}

// Set stores a cell, adding the column if needed.
func (t *Table) Set(row int, column string, v Value) {
	t.rows[row][t.AddColumn(column)] = v
}

func (t *Table) Row(row int) Record {
	r := make(Record, len(t.columns))
	for i, c := range t.columns {
		r[i] = Field{Column: c, Value: t.rows[row][i]}
	}
	return r
}

func (t *Table) Rows() []Record {
	rows := make([]Record, t.Len())
	for i := range t.rows {
		rows[i] = t.Row(i)
	}
	return rows
}

// Column returns a copy of every cell of a column.
func (t *Table) Column(column string) []Value {
	values := make([]Value, t.Len())
	for i := range t.rows {
		values[i] = t.Get(i, column)
	}
	return values
}

// Append adds a row, adding any column the table does not have yet.
func (t *Table) Append(r Record) {
	for _, f := range r {
		t.AddColumn(f.Column)
	}

	row := make([]Value, len(t.columns))
	for _, f := range r {
		row[t.index[f.Column]] = f.Value
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Clone() *Table {
	c := NewTable(t.columns...)
	c.rows = make([][]Value, len(t.rows))
	for i, row := range t.rows {
		c.rows[i] = slices.Clone(row)
	}
	return c
}

// Filter returns a new table holding the rows selected by mask.
func (t *Table) Filter(mask Mask) *Table {
	c := NewTable(t.columns...)
	for i, keep := range mask {
		if keep {
			c.rows = append(c.rows, slices.Clone(t.rows[i]))
		}
	}
	return c
}

// Where returns a new table holding the rows for which keep returns true.
func (t *Table) Where(keep func(row int) bool) *Table {
	mask := make(Mask, t.Len())
	for i := range mask {
		mask[i] = keep(i)
	}
	return t.Filter(mask)
}

func (t *Table) DropColumns(columns ...string) {
	drop := make(map[int]bool)
	for _, c := range columns {
		if i, ok := t.index[c]; ok {
			drop[i] = true
		}
	}
	if len(drop) == 0 {
		return
	}

	keep := func(values []Value) []Value {
		var out []Value
		for i, v := range values {
			if !drop[i] {
				out = append(out, v)
			}
		}
		return out
	}

	var remaining []string
	for i, c := range t.columns {
		if !drop[i] {
			remaining = append(remaining, c)
		}
	}
	for i := range t.rows {
		t.rows[i] = keep(t.rows[i])
	}

	t.columns = remaining
	t.index = make(map[string]int, len(remaining))
	for i, c := range remaining {
		t.index[c] = i
	}
}

// SortBy stably sorts rows in ascending order, comparing columns
// lexicographically in the given order.
func (t *Table) SortBy(columns ...string) {
	sort.SliceStable(t.rows, func(a, b int) bool {
		return compareRows(t, t.rows[a], t.rows[b], columns) < 0
	})
}

func compareRows(t *Table, a, b []Value, columns []string) int {
	for _, c := range columns {
		i, ok := t.index[c]
		if !ok {
			continue
		}
		if r := a[i].Compare(b[i]); r != 0 {
			return r
		}
	}
	return 0
}

// Mask selects rows of a table.
type Mask []bool

func (m Mask) Count() int {
	n := 0
	for _, b := range m {
		if b {
			n++
		}
	}
	return n
}

func (m Mask) Indices() []int {
	var indices []int
	for i, b := range m {
		if b {
			indices = append(indices, i)
		}
	}
	return indices
}

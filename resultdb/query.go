package resultdb

import (
	"errors"
	"fmt"
)

var ErrAmbiguous = errors.New("more than one row matches")

// Match selects the rows where every column of key equals the key value.
// An empty table yields an empty mask. A key column the table does not have
// matches no row.
func (t *Table) Match(key Record) Mask {
	if t.Len() == 0 {
		return Mask{}
	}

	mask := make(Mask, t.Len())
	for i := range mask {
		mask[i] = true
	}

	for _, f := range key {
		col, ok := t.index[f.Column]
		for i, row := range t.rows {
			mask[i] = mask[i] && ok && row[col].Equal(f.Value)
		}
	}
	return mask
}

// Find returns the rows matching key.
func (t *Table) Find(key Record) *Table {
	return t.Filter(t.Match(key))
}

// UpsertOne inserts the union of key and values when no row matches key,
// then re-sorts the table by the key columns. When exactly one row matches,
// only the columns of values are updated in place. Several matching rows
// are refused with ErrAmbiguous and leave the table untouched.
func (t *Table) UpsertOne(key, values Record) error {
	mask := t.Match(key)

	switch n := mask.Count(); n {
	case 0:
		t.Append(key.Merge(values))
		t.SortBy(key.Columns()...)
	case 1:
		row := mask.Indices()[0]
		for _, f := range values {
			t.Set(row, f.Column, f.Value)
		}
	default:
		return fmt.Errorf("%w: %d rows for '%s'", ErrAmbiguous, n, key)
	}
	return nil
}

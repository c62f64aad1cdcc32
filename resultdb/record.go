package resultdb

import (
	"strings"

	"github.com/samber/lo"
)

type Field struct {
	Column string
	Value  Value
}

// F builds a field, converting v with Of.
func F(column string, v any) Field {
	return Field{Column: column, Value: Of(v)}
}

// Record is an ordered set of fields. Order matters: it is the sort order
// used when a record is the key of an upsert.
type Record []Field

func (r Record) Columns() []string {
	return lo.Map(r, func(f Field, _ int) string { return f.Column })
}

func (r Record) Get(column string) (Value, bool) {
	for _, f := range r {
		if f.Column == column {
			return f.Value, true
		}
	}
	return Missing(), false
}

// Merge returns the union of both records. Fields of other replace fields of
// r with the same column, new columns are appended in order.
func (r Record) Merge(other Record) Record {
	merged := make(Record, len(r), len(r)+len(other))
	copy(merged, r)

	for _, f := range other {
		if _, i, found := lo.FindIndexOf(merged, func(m Field) bool { return m.Column == f.Column }); found {
			merged[i].Value = f.Value
		} else {
			merged = append(merged, f)
		}
	}
	return merged
}

func (r Record) String() string {
	return strings.Join(lo.Map(r, func(f Field, _ int) string {
		return f.Column + "=" + f.Value.String()
	}), " ")
}

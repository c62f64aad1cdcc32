package resultdb

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

type Kind uint8

const (
	KindMissing Kind = iota
	KindInt
	KindFloat
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	default:
		return "missing"
	}
}

// Value is a single table cell. The zero Value is a missing cell.
type Value struct {
	kind Kind
	i    int64
	f    float64
	s    string
}

func Missing() Value {
	return Value{}
}

func Int(i int64) Value {
	return Value{kind: KindInt, i: i}
}

// Float returns a float cell. NaN is stored as a missing cell.
func Float(f float64) Value {
	if math.IsNaN(f) {
		return Missing()
	}
	return Value{kind: KindFloat, f: f}
}

func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// Of converts a Go value into a cell.
// Unknown types are stored through their fmt representation.
func Of(v any) Value {
	switch v := v.(type) {
	case nil:
		return Missing()
	case Value:
		return v
	case int:
		return Int(int64(v))
	case int8:
		return Int(int64(v))
	case int16:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint:
		return Int(int64(v))
	case uint8:
		return Int(int64(v))
	case uint16:
		return Int(int64(v))
	case uint32:
		return Int(int64(v))
	case uint64:
		return Int(int64(v))
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case string:
		return String(v)
	case bool:
		return String(lo.Ternary(v, "True", "False"))
	case fmt.Stringer:
		return String(v.String())
	default:
		return String(fmt.Sprint(v))
	}
}

// Parse infers the kind of a token read from a table file.
// Empty tokens and NaN are missing cells.
func Parse(token string) Value {
	if token == "" {
		return Missing()
	}
	if i, err := strconv.ParseInt(token, 10, 64); err == nil {
		return Int(i)
	}
	if f, err := strconv.ParseFloat(token, 64); err == nil {
		return Float(f)
	}
	return String(token)
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v Value) IsMissing() bool {
	return v.kind == KindMissing
}

func (v Value) IsNumber() bool {
	return v.kind == KindInt || v.kind == KindFloat
}

// Number returns the numeric value of the cell, if any.
func (v Value) Number() (float64, bool) {
	switch v.kind {
	case KindInt:
		return float64(v.i), true
	case KindFloat:
		return v.f, true
	default:
		return 0, false
	}
}

// Any returns the cell as a plain Go value (nil, int64, float64 or string).
func (v Value) Any() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	default:
		return nil
	}
}

// String returns the token written to table files.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return FormatFloat(v.f)
	case KindString:
		return v.s
	default:
		return ""
	}
}

// Equal reports exact equality. Numbers compare by value regardless of kind,
// missing cells never compare equal.
func (v Value) Equal(o Value) bool {
	if v.kind == KindInt && o.kind == KindInt {
		return v.i == o.i
	}
	if a, ok := v.Number(); ok {
		b, ok := o.Number()
		return ok && a == b
	}
	return v.kind == KindString && o.kind == KindString && v.s == o.s
}

// Compare orders numbers before strings and missing cells last.
func (v Value) Compare(o Value) int {
	rank := func(v Value) int {
		switch v.kind {
		case KindInt, KindFloat:
			return 0
		case KindString:
			return 1
		default:
			return 2
		}
	}

	if rv, ro := rank(v), rank(o); rv != ro {
		return rv - ro
	}

	switch v.kind {
	case KindInt, KindFloat:
		if v.kind == KindInt && o.kind == KindInt {
			return cmp(v.i, o.i)
		}
		a, _ := v.Number()
		b, _ := o.Number()
		return cmp(a, b)
	case KindString:
		return strings.Compare(v.s, o.s)
	default:
		return 0
	}
}

func cmp[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// FormatFloat renders f in its shortest natural form: plain decimal notation
// with at least one fractional digit, switching to exponent notation for very
// small or very large magnitudes (0.001, 3.0, 1e-05, 1e+16).
func FormatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "nan"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}

	if abs := math.Abs(f); f == 0 || (abs >= 1e-4 && abs < 1e16) {
		s := strconv.FormatFloat(f, 'f', -1, 64)
		if !strings.ContainsRune(s, '.') {
			s += ".0"
		}
		return s
	}
	return strconv.FormatFloat(f, 'e', -1, 64)
}

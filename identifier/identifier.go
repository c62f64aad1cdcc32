// Package identifier derives canonical names, paths and table keys for
// trained models.
package identifier

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"

	"github.com/gammadia/tidymodels/resultdb"
	"github.com/samber/lo"
)

const (
	DefaultPrefix    = "model"
	DefaultNSplit    = 10
	DefaultSplitSeed = 252

	// NoSplit marks a model fitted on all the data, without a held-out split.
	NoSplit = -1

	// HyperPrefix distinguishes hyperparameter columns from identifier columns.
	HyperPrefix = "hyp_"
)

var (
	ErrReservedName = errors.New("reserved hyperparameter name")
	ErrNestedHyper  = errors.New("nested hyperparameter value")
)

// reserved are the attribute names of an identifier; hyperparameters cannot
// shadow them.
var reserved = []string{
	"arch_id", "input_id", "hypers", "n_split", "split", "split_seed",
	"path", "prefix", "formatter", "name", "pathname",
}

// Formatter renders a float hyperparameter inside a name.
type Formatter func(float64) string

// PrintfFormatter builds a Formatter from a printf verb such as "%.0e".
func PrintfFormatter(format string) Formatter {
	return func(v float64) string {
		return fmt.Sprintf(format, v)
	}
}

type Hyper struct {
	Name  string
	Value any
}

// Hypers keeps hyperparameters in insertion order, which is the order they
// appear in names.
type Hypers []Hyper

func (h Hypers) Get(name string) (any, bool) {
	for _, hyper := range h {
		if hyper.Name == name {
			return hyper.Value, true
		}
	}
	return nil, false
}

type Identifier struct {
	ArchID    int
	InputID   int
	Hypers    Hypers
	NSplit    int
	Split     int
	SplitSeed int
	Path      string
	Prefix    string

	formatters map[string]Formatter
	formats    map[string]string
}

type Option func(*Identifier)

func WithHypers(hypers ...Hyper) Option {
	return func(id *Identifier) { id.Hypers = append(id.Hypers, hypers...) }
}

func WithSplit(split int) Option {
	return func(id *Identifier) { id.Split = split }
}

func WithNSplit(n int) Option {
	return func(id *Identifier) { id.NSplit = n }
}

func WithSplitSeed(seed int) Option {
	return func(id *Identifier) { id.SplitSeed = seed }
}

func WithPath(path string) Option {
	return func(id *Identifier) { id.Path = path }
}

func WithPrefix(prefix string) Option {
	return func(id *Identifier) { id.Prefix = prefix }
}

// WithFormatter sets how the float hyperparameter name is rendered.
// Float hyperparameters without a formatter use their natural form.
func WithFormatter(name string, f Formatter) Option {
	return func(id *Identifier) { id.formatters[name] = f }
}

func New(archID, inputID int, options ...Option) (*Identifier, error) {
	id := &Identifier{
		ArchID:    archID,
		InputID:   inputID,
		NSplit:    DefaultNSplit,
		Split:     NoSplit,
		SplitSeed: DefaultSplitSeed,
		Prefix:    DefaultPrefix,

		formatters: make(map[string]Formatter),
	}
	for _, option := range options {
		option(id)
	}

	if err := id.validate(); err != nil {
		return nil, err
	}
	return id, nil
}

func (id *Identifier) validate() error {
	seen := make(map[string]bool)
	for _, hyper := range id.Hypers {
		if hyper.Name == "" || strings.ContainsAny(hyper.Name, " \t\r\n") {
			return fmt.Errorf("invalid hyperparameter name '%s'", hyper.Name)
		}
		if lo.Contains(reserved, hyper.Name) {
			return fmt.Errorf("%w: '%s' is already an identifier attribute", ErrReservedName, hyper.Name)
		}
		if seen[hyper.Name] {
			return fmt.Errorf("duplicate hyperparameter '%s'", hyper.Name)
		}
		seen[hyper.Name] = true

		switch reflect.ValueOf(hyper.Value).Kind() {
		case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct, reflect.Pointer, reflect.Invalid:
			return fmt.Errorf("%w: '%s' must be a number or a string", ErrNestedHyper, hyper.Name)
		}
		if s, ok := hyper.Value.(string); ok && (s == "" || strings.ContainsAny(s, " \t\r\n")) {
			return fmt.Errorf("hyperparameter '%s' cannot be empty or contain whitespace", hyper.Name)
		}
	}

	if strings.ContainsAny(id.Prefix, " \t\r\n") {
		return fmt.Errorf("prefix '%s' cannot contain whitespace", id.Prefix)
	}
	return nil
}

// Name is the canonical {prefix}-{arch}-{input}[-{hyper}...]-{split} string,
// where split -1 is rendered as "x".
func (id *Identifier) Name() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s-%d-%d", id.Prefix, id.ArchID, id.InputID)

	for _, hyper := range id.Hypers {
		b.WriteString("-")
		b.WriteString(id.format(hyper))
	}

	b.WriteString("-")
	b.WriteString(lo.Ternary(id.Split == NoSplit, "x", strconv.Itoa(id.Split)))
	return b.String()
}

func (id *Identifier) format(hyper Hyper) string {
	var f float64
	switch v := hyper.Value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	default:
		return fmt.Sprint(v)
	}

	if formatter, ok := id.formatters[hyper.Name]; ok && formatter != nil {
		return formatter(f)
	}
	return resultdb.FormatFloat(f)
}

// Pathname joins Path and Name.
func (id *Identifier) Pathname() string {
	return filepath.Join(id.Path, id.Name())
}

// Record is the identifier as table key columns. Hyperparameter columns are
// prefixed with HyperPrefix.
func (id *Identifier) Record() resultdb.Record {
	record := resultdb.Record{
		resultdb.F("arch_id", id.ArchID),
		resultdb.F("input_id", id.InputID),
		resultdb.F("split_seed", id.SplitSeed),
		resultdb.F("n_split", id.NSplit),
		resultdb.F("split", id.Split),
	}
	for _, hyper := range id.Hypers {
		record = append(record, resultdb.F(HyperPrefix+hyper.Name, hyper.Value))
	}
	return record
}

// String implements fmt.Stringer.
func (id *Identifier) String() string {
	return id.Name()
}

package selection

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/gammadia/tidymodels/resultdb"
	"github.com/samber/lo"
)

type CollapseMode string

const (
	// ModeBalanced only keeps the splits evaluated for every hyperparameter
	// setting, so all settings are compared on the same splits.
	ModeBalanced CollapseMode = "balanced"
	// ModeAll uses every split of every setting, even if unbalanced.
	ModeAll CollapseMode = "all"
)

const (
	splitColumn = "split"
	countColumn = "count"
	stdSuffix   = "_std"
)

type group struct {
	values []resultdb.Value
	rows   []int
}

// CollapseSplits reduces the rows matching key to one row per hyperparameter
// setting holding the number of splits, and the mean and standard deviation
// of every other numeric column across splits. Rows fitted without a held-out
// split (split -1) are ignored.
func CollapseSplits(t *resultdb.Table, key resultdb.Record, mode CollapseMode) (*resultdb.Table, error) {
	if mode != ModeBalanced && mode != ModeAll {
		return nil, fmt.Errorf("%w: unknown collapse mode '%s'", ErrInvalidMode, mode)
	}

	fits := t.Find(key)
	if !fits.HasColumn(splitColumn) {
		return nil, fmt.Errorf("%w: no '%s' column", ErrNoData, splitColumn)
	}
	fits = fits.Where(func(row int) bool {
		return !fits.Get(row, splitColumn).Equal(resultdb.Int(-1))
	})
	if fits.Len() == 0 {
		return nil, fmt.Errorf("%w: no split results for '%s'", ErrNoData, key)
	}

	// Hyperparameters of other architectures only have empty cells here
	allHypers := IdentifyHypers(fits)
	hypers := lo.Filter(allHypers, func(column string, _ int) bool {
		return lo.SomeBy(fits.Column(column), func(v resultdb.Value) bool { return !v.IsMissing() })
	})

	if mode == ModeBalanced {
		shared := balancedSplits(fits, hypers)
		fits = fits.Where(func(row int) bool {
			return shared[valueKey(fits.Get(row, splitColumn))]
		})
		if fits.Len() == 0 {
			return nil, fmt.Errorf("%w: no split is shared by every hyperparameter setting of '%s'", ErrNoData, key)
		}
	}

	groupColumns := lo.Uniq(append(key.Columns(), hypers...))
	statColumns := lo.Filter(fits.Columns(), func(column string, _ int) bool {
		return !lo.Contains(groupColumns, column) && !lo.Contains(allHypers, column) && numeric(fits.Column(column))
	})

	groups := groupRows(fits, groupColumns)
	if len(groups) == 0 {
		return nil, fmt.Errorf("%w: every result of '%s' lacks a value of %v", ErrNoData, key, groupColumns)
	}

	collapsed := resultdb.NewTable(groupColumns...)
	collapsed.AddColumn(countColumn)
	for _, column := range statColumns {
		collapsed.AddColumn(column)
	}
	for _, column := range statColumns {
		collapsed.AddColumn(column + stdSuffix)
	}

	for _, g := range groups {
		var record resultdb.Record
		for i, column := range groupColumns {
			record = append(record, resultdb.Field{Column: column, Value: g.values[i]})
		}
		record = append(record, resultdb.F(countColumn, len(g.rows)))

		var stds resultdb.Record
		for _, column := range statColumns {
			samples := lo.FilterMap(g.rows, func(row int, _ int) (float64, bool) {
				return fits.Get(row, column).Number()
			})
			mean, std := meanStd(samples)
			record = append(record, resultdb.F(column, mean))
			stds = append(stds, resultdb.F(column+stdSuffix, std))
		}
		collapsed.Append(append(record, stds...))
	}

	collapsed.DropColumns(splitColumn, splitColumn+stdSuffix)
	return collapsed, nil
}

// balancedSplits intersects, starting from every split present, the splits
// evaluated for each value of each hyperparameter column.
func balancedSplits(fits *resultdb.Table, hypers []string) map[string]bool {
	splitsOf := func(rows []int) map[string]bool {
		splits := make(map[string]bool)
		for _, row := range rows {
			splits[valueKey(fits.Get(row, splitColumn))] = true
		}
		return splits
	}

	shared := splitsOf(lo.Range(fits.Len()))
	for _, hyper := range hypers {
		byValue := make(map[string][]int)
		for row := 0; row < fits.Len(); row++ {
			if v := fits.Get(row, hyper); !v.IsMissing() {
				byValue[valueKey(v)] = append(byValue[valueKey(v)], row)
			}
		}

		for _, rows := range byValue {
			present := splitsOf(rows)
			for split := range shared {
				if !present[split] {
					delete(shared, split)
				}
			}
		}
	}
	return shared
}

// groupRows groups rows by the values of columns, sorted ascending. Rows with
// a missing group value are left out.
func groupRows(fits *resultdb.Table, columns []string) []*group {
	index := make(map[string]*group)
	var groups []*group

	for row := 0; row < fits.Len(); row++ {
		values := lo.Map(columns, func(column string, _ int) resultdb.Value { return fits.Get(row, column) })
		if lo.SomeBy(values, func(v resultdb.Value) bool { return v.IsMissing() }) {
			continue
		}

		k := strings.Join(lo.Map(values, func(v resultdb.Value, _ int) string { return valueKey(v) }), "\x00")
		g, ok := index[k]
		if !ok {
			g = &group{values: values}
			index[k] = g
			groups = append(groups, g)
		}
		g.rows = append(g.rows, row)
	}

	sort.SliceStable(groups, func(a, b int) bool {
		for i := range columns {
			if r := groups[a].values[i].Compare(groups[b].values[i]); r != 0 {
				return r < 0
			}
		}
		return false
	})
	return groups
}

// numeric reports whether a column only holds numbers or missing cells.
func numeric(values []resultdb.Value) bool {
	return lo.EveryBy(values, func(v resultdb.Value) bool {
		return v.IsMissing() || v.IsNumber()
	})
}

// meanStd returns the mean and the sample standard deviation. Undefined
// statistics are missing cells.
func meanStd(samples []float64) (resultdb.Value, resultdb.Value) {
	n := float64(len(samples))
	if n == 0 {
		return resultdb.Missing(), resultdb.Missing()
	}

	mean := lo.Sum(samples) / n
	if n < 2 {
		return resultdb.Float(mean), resultdb.Missing()
	}

	ss := 0.
	for _, s := range samples {
		ss += (s - mean) * (s - mean)
	}
	return resultdb.Float(mean), resultdb.Float(math.Sqrt(ss / (n - 1)))
}

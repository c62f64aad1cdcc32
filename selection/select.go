package selection

import (
	"fmt"

	"github.com/gammadia/tidymodels/resultdb"
)

type SelectMode string

const (
	SelectMin SelectMode = "min"
	SelectMax SelectMode = "max"
)

const DefaultMonitor = "val_loss"

// SelectBest returns the row matching key with the smallest (SelectMin) or
// largest (SelectMax) monitor value; ties go to the first row. The row is
// extended with <hyper>_min and <hyper>_max columns giving the range explored
// for every hyperparameter.
func SelectBest(t *resultdb.Table, key resultdb.Record, monitor string, mode SelectMode) (*resultdb.Table, error) {
	if mode != SelectMin && mode != SelectMax {
		return nil, fmt.Errorf("%w: unrecognized select mode '%s'", ErrInvalidMode, mode)
	}

	candidates := t.Find(key)
	if candidates.Len() == 0 {
		return nil, fmt.Errorf("%w: no results for '%s'", ErrNoData, key)
	}
	if !candidates.HasColumn(monitor) {
		return nil, fmt.Errorf("unknown monitor column '%s'", monitor)
	}

	best, bestValue := -1, 0.
	for row := 0; row < candidates.Len(); row++ {
		v, ok := candidates.Get(row, monitor).Number()
		if !ok {
			continue
		}
		if best == -1 || (mode == SelectMin && v < bestValue) || (mode == SelectMax && v > bestValue) {
			best, bestValue = row, v
		}
	}
	if best == -1 {
		return nil, fmt.Errorf("%w: no numeric '%s' value for '%s'", ErrNoData, monitor, key)
	}

	mask := make(resultdb.Mask, candidates.Len())
	mask[best] = true
	selected := candidates.Filter(mask)

	for _, hyper := range IdentifyHypers(candidates) {
		lowest, highest := valueRange(candidates.Column(hyper))
		selected.Set(0, hyper+"_min", lowest)
		selected.Set(0, hyper+"_max", highest)
	}

	return selected, nil
}

func valueRange(values []resultdb.Value) (lowest, highest resultdb.Value) {
	for _, v := range values {
		if v.IsMissing() {
			continue
		}
		if lowest.IsMissing() || v.Compare(lowest) < 0 {
			lowest = v
		}
		if highest.IsMissing() || v.Compare(highest) > 0 {
			highest = v
		}
	}
	return
}

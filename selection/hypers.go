// Package selection reduces per-split fit results and picks the best
// hyperparameter setting.
package selection

import (
	"errors"
	"strings"

	"github.com/gammadia/tidymodels/identifier"
	"github.com/gammadia/tidymodels/resultdb"
	"github.com/samber/lo"
)

var (
	ErrNoData      = errors.New("no data")
	ErrInvalidMode = errors.New("invalid mode")
)

// IdentifyHypers returns the hyperparameter columns of a table, in table order.
func IdentifyHypers(t *resultdb.Table) []string {
	return lo.Filter(t.Columns(), func(column string, _ int) bool {
		return strings.HasPrefix(column, identifier.HyperPrefix)
	})
}

// valueKey maps equal cells to equal keys, so cells can index maps.
func valueKey(v resultdb.Value) string {
	if n, ok := v.Number(); ok {
		return "n:" + resultdb.FormatFloat(n)
	}
	if v.IsMissing() {
		return "m:"
	}
	return "s:" + v.String()
}

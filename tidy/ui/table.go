package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/gammadia/tidymodels/resultdb"
	"github.com/rivo/uniseg"
	"github.com/samber/lo"
)

// PrintTable writes t as aligned columns, missing values shown as "-".
func PrintTable(w io.Writer, t *resultdb.Table) error {
	columns := t.Columns()
	cells := make([][]string, t.Len())
	for row := range cells {
		cells[row] = lo.Map(columns, func(column string, _ int) string {
			return CellText(t.Get(row, column))
		})
	}

	widths := lo.Map(columns, func(column string, i int) int {
		width := uniseg.StringWidth(column)
		for _, row := range cells {
			width = max(width, uniseg.StringWidth(row[i]))
		}
		return width
	})

	line := func(values []string) string {
		padded := lo.Map(values, func(value string, i int) string {
			return value + strings.Repeat(" ", widths[i]-uniseg.StringWidth(value))
		})
		return strings.TrimRight(strings.Join(padded, "  "), " ")
	}

	if _, err := fmt.Fprintln(w, SectionHeaderColor.Sprint(line(columns))); err != nil {
		return err
	}
	for _, row := range cells {
		if _, err := fmt.Fprintln(w, line(row)); err != nil {
			return err
		}
	}
	return nil
}

func CellText(v resultdb.Value) string {
	return lo.Ternary(v.IsMissing(), "-", v.String())
}

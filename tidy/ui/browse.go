package ui

import (
	"fmt"

	"github.com/gammadia/tidymodels/resultdb"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// NewTableView renders t in a scrollable table with a fixed header row and
// key columns.
func NewTableView(t *resultdb.Table, title string, keys int) *tview.Table {
	view := tview.NewTable().
		SetFixed(1, keys).
		SetSelectable(true, false)
	view.SetBorder(true).SetTitle(fmt.Sprintf(" %s: %d rows ", title, t.Len()))

	for col, column := range t.Columns() {
		view.SetCell(0, col, tview.NewTableCell(column).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1))
	}

	for row := 0; row < t.Len(); row++ {
		for col, column := range t.Columns() {
			value := t.Get(row, column)
			cell := tview.NewTableCell(CellText(value)).SetExpansion(1)
			switch {
			case value.IsMissing():
				cell.SetTextColor(tcell.ColorGray)
			case value.IsNumber():
				cell.SetAlign(tview.AlignRight)
			}
			view.SetCell(row+1, col, cell)
		}
	}
	return view
}

// Browse shows t until the user quits with 'q' or Escape.
func Browse(t *resultdb.Table, title string, keys int) error {
	app := tview.NewApplication()
	view := NewTableView(t, title, keys)

	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Rune() == 'q' || event.Key() == tcell.KeyEscape {
			app.Stop()
			return nil
		}
		return event
	})

	return app.SetRoot(view, true).SetFocus(view).Run()
}

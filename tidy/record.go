package main

import (
	"fmt"
	"strings"

	"github.com/gammadia/tidymodels/resultdb"
	"github.com/spf13/cobra"
)

// parseRecord reads column=value pairs, inferring value types the way the
// table loader does.
func parseRecord(items []string) (resultdb.Record, error) {
	record := resultdb.Record{}
	for _, item := range items {
		column, value, ok := strings.Cut(item, "=")
		if !ok || column == "" {
			return nil, fmt.Errorf("invalid field '%s', expected column=value", item)
		}
		if _, exists := record.Get(column); exists {
			return nil, fmt.Errorf("column '%s' given more than once", column)
		}
		record = append(record, resultdb.Field{Column: column, Value: resultdb.Parse(value)})
	}
	return record, nil
}

func addKeyFlag(cmd *cobra.Command) {
	cmd.Flags().StringArrayP("key", "k", nil, "only consider rows where column=value (repeatable)")
}

func keyFlag(cmd *cobra.Command) (resultdb.Record, error) {
	items, err := cmd.Flags().GetStringArray("key")
	if err != nil {
		return nil, err
	}
	return parseRecord(items)
}

// output saves t to the path of the --output flag, or prints it.
func output(cmd *cobra.Command, t *resultdb.Table) error {
	path, err := cmd.Flags().GetString("output")
	if err != nil || path == "" {
		return printTable(cmd, t)
	}
	if err := resultdb.Save(t, path); err != nil {
		return fmt.Errorf("failed to save '%s': %w", path, err)
	}
	cmd.PrintErrf("Saved %d rows to '%s'\n", t.Len(), path)
	return nil
}

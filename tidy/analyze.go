package main

import (
	"fmt"

	"github.com/gammadia/tidymodels/resultdb"
	"github.com/gammadia/tidymodels/selection"
	"github.com/spf13/cobra"
)

func newCollapseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "collapse DB",
		Short: "Aggregate the results of every hyperparameter setting across splits",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			t, key, err := loadWithKey(cmd, args[0])
			if err != nil {
				return err
			}

			mode, _ := cmd.Flags().GetString("mode")
			collapsed, err := selection.CollapseSplits(t, key, selection.CollapseMode(mode))
			if err != nil {
				return fmt.Errorf("failed to collapse '%s': %w", args[0], err)
			}
			return output(cmd, collapsed)
		},
	}
	addKeyFlag(cmd)
	cmd.Flags().String("mode", string(selection.ModeBalanced), "splits to aggregate (balanced: only splits every setting has, all)")
	cmd.Flags().StringP("output", "o", "", "save the aggregate to this table instead of printing it")
	return cmd
}

func newSelectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "select DB",
		Short: "Select the row with the best monitored value",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			t, key, err := loadWithKey(cmd, args[0])
			if err != nil {
				return err
			}

			if collapse, _ := cmd.Flags().GetBool("collapse"); collapse {
				if t, err = selection.CollapseSplits(t, key, selection.ModeBalanced); err != nil {
					return fmt.Errorf("failed to collapse '%s': %w", args[0], err)
				}
				key = resultdb.Record{}
			}

			monitor, _ := cmd.Flags().GetString("monitor")
			mode, _ := cmd.Flags().GetString("mode")
			best, err := selection.SelectBest(t, key, monitor, selection.SelectMode(mode))
			if err != nil {
				return fmt.Errorf("failed to select from '%s': %w", args[0], err)
			}
			return output(cmd, best)
		},
	}
	addKeyFlag(cmd)
	cmd.Flags().String("monitor", selection.DefaultMonitor, "column to optimize")
	cmd.Flags().String("mode", string(selection.SelectMin), "whether the best value is the lowest (min) or highest (max)")
	cmd.Flags().Bool("collapse", false, "collapse balanced splits before selecting")
	cmd.Flags().StringP("output", "o", "", "save the selected row to this table instead of printing it")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/gammadia/tidymodels/resultdb"
	"github.com/gammadia/tidymodels/tidy/log"
	"github.com/gammadia/tidymodels/tidy/ui"
	"github.com/spf13/cobra"
)

func newDbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Manage result tables",
	}

	cmd.AddCommand(newDbCreateCmd())
	cmd.AddCommand(newDbFindCmd())
	cmd.AddCommand(newDbUpsertCmd())
	cmd.AddCommand(newDbShowCmd())
	cmd.AddCommand(newDbBrowseCmd())
	return cmd
}

func newDbCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create DB [COLUMNS...]",
		Short: "Create an empty result table (columns default to arch_id input_id)",
		Args:  cobra.MinimumNArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				_, err := os.Stat(args[0])
				if err == nil {
					return fmt.Errorf("'%s' already exists, use --force to overwrite it", args[0])
				}
				if !errors.Is(err, fs.ErrNotExist) {
					return fmt.Errorf("failed to check '%s': %w", args[0], err)
				}
			}

			t, err := resultdb.Create(args[0], args[1:]...)
			if err != nil {
				return fmt.Errorf("failed to create '%s': %w", args[0], err)
			}
			log.Info("Created result table", "path", args[0], "columns", t.Columns())
			return nil
		},
	}
	cmd.Flags().BoolP("force", "f", false, "overwrite an existing table")
	return cmd
}

func newDbFindCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "find DB",
		Short: "Show the rows matching a key",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			t, key, err := loadWithKey(cmd, args[0])
			if err != nil {
				return err
			}
			return output(cmd, t.Find(key))
		},
	}
	addKeyFlag(cmd)
	cmd.Flags().StringP("output", "o", "", "save the rows to this table instead of printing them")
	return cmd
}

func newDbUpsertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upsert DB",
		Short: "Update the row matching a key, or insert it",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			t, key, err := loadWithKey(cmd, args[0])
			if err != nil {
				return err
			}

			items, _ := cmd.Flags().GetStringArray("set")
			values, err := parseRecord(items)
			if err != nil {
				return err
			}

			if err := t.UpsertOne(key, values); err != nil {
				return fmt.Errorf("failed to upsert %s: %w", key, err)
			}
			if err := resultdb.Save(t, args[0]); err != nil {
				return fmt.Errorf("failed to save '%s': %w", args[0], err)
			}
			log.Info("Upserted row", "path", args[0], "key", key.String(), "values", values.String())
			return nil
		},
	}
	addKeyFlag(cmd)
	cmd.Flags().StringArrayP("set", "s", nil, "column=value to store in the row (repeatable)")
	return cmd
}

func newDbShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show DB",
		Short: "Print a result table",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := resultdb.Load(args[0])
			if err != nil {
				return err
			}
			if columns, _ := cmd.Flags().GetStringSlice("sort"); len(columns) > 0 {
				t.SortBy(columns...)
			}
			return printTable(cmd, t)
		},
	}
	cmd.Flags().StringSlice("sort", nil, "columns to sort rows by")
	return cmd
}

func newDbBrowseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "browse DB",
		Short: "Browse a result table interactively",
		Args:  cobra.ExactArgs(1),

		RunE: func(cmd *cobra.Command, args []string) error {
			t, key, err := loadWithKey(cmd, args[0])
			if err != nil {
				return err
			}
			return ui.Browse(t.Find(key), args[0], len(key))
		},
	}
	addKeyFlag(cmd)
	return cmd
}

func loadWithKey(cmd *cobra.Command, path string) (*resultdb.Table, resultdb.Record, error) {
	key, err := keyFlag(cmd)
	if err != nil {
		return nil, nil, err
	}
	t, err := resultdb.Load(path)
	if err != nil {
		return nil, nil, err
	}
	return t, key, nil
}

func printTable(cmd *cobra.Command, t *resultdb.Table) error {
	return ui.PrintTable(cmd.OutOrStdout(), t)
}

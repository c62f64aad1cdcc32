package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/gammadia/tidymodels/tidy/flags"
	"github.com/gammadia/tidymodels/tidy/log"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

func newTidyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tidy",
		Short: "Tidy trains, names and compares machine learning models.",

		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Bind(cmd.Flags()); err != nil {
				return err
			}
			return log.Init(cmd.ErrOrStderr())
		},
	}

	cmd.AddCommand(newCollapseCmd())
	cmd.AddCommand(newDbCmd())
	cmd.AddCommand(newNameCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newSelectCmd())
	cmd.AddCommand(newVersionCmd())

	flags.Register(cmd.PersistentFlags())
	return cmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tidyCmd := newTidyCmd()
	tidyCmd.SetOut(os.Stdout)
	if err := tidyCmd.ExecuteContext(ctx); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, color.HiRedString(fmt.Sprint(err))))
		os.Exit(1)
	}
}

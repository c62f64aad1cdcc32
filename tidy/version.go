package main

import (
	"math"

	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the version number of Tidy",
		Args:  cobra.NoArgs,

		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("tidy version %s (%s)\n", version, commit[:int(math.Min(float64(len(commit)), 7))])
		},
	}
}

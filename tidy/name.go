package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gammadia/tidymodels/identifier"
	"github.com/gammadia/tidymodels/resultdb"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newNameCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "name [ARCH_ID INPUT_ID]",
		Short: "Print the canonical name and path of a model",
		Args: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("from") {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := identifierFromFlags(cmd, args)
			if err != nil {
				return err
			}

			switch format, _ := cmd.Flags().GetString("format"); format {
			case "name":
				cmd.Println(id.Name())
			case "path":
				cmd.Println(id.Pathname())
			case "record":
				cmd.Println(id.Record().String())
			case "yaml":
				return yaml.NewEncoder(cmd.OutOrStdout()).Encode(id.Config())
			default:
				return fmt.Errorf("unknown format '%s'", format)
			}
			return nil
		},
	}

	cmd.Flags().String("from", "", "read the identifier from a YAML file")
	cmd.Flags().StringArray("hyper", nil, "hyperparameter name=value, in name order (repeatable)")
	cmd.Flags().StringArray("hyper-format", nil, "printf format of a float hyperparameter, name=format (repeatable)")
	cmd.Flags().Int("split", identifier.NoSplit, "cross-validation split, -1 for none")
	cmd.Flags().Int("n-split", identifier.DefaultNSplit, "number of cross-validation splits")
	cmd.Flags().Int("split-seed", identifier.DefaultSplitSeed, "seed of the split shuffling")
	cmd.Flags().String("path", "", "directory holding the model")
	cmd.Flags().String("prefix", identifier.DefaultPrefix, "name prefix")
	cmd.Flags().StringP("format", "f", "name", "output (name, path, record, yaml)")
	return cmd
}

func identifierFromFlags(cmd *cobra.Command, args []string) (*identifier.Identifier, error) {
	if file, _ := cmd.Flags().GetString("from"); file != "" {
		buf, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read identifier: %w", err)
		}
		return identifier.Decode(buf)
	}

	archID, err := strconv.Atoi(args[0])
	if err != nil {
		return nil, fmt.Errorf("invalid arch id '%s'", args[0])
	}
	inputID, err := strconv.Atoi(args[1])
	if err != nil {
		return nil, fmt.Errorf("invalid input id '%s'", args[1])
	}

	split, _ := cmd.Flags().GetInt("split")
	nSplit, _ := cmd.Flags().GetInt("n-split")
	splitSeed, _ := cmd.Flags().GetInt("split-seed")
	path, _ := cmd.Flags().GetString("path")
	prefix, _ := cmd.Flags().GetString("prefix")
	options := []identifier.Option{
		identifier.WithSplit(split),
		identifier.WithNSplit(nSplit),
		identifier.WithSplitSeed(splitSeed),
		identifier.WithPath(path),
		identifier.WithPrefix(prefix),
	}

	hypers, _ := cmd.Flags().GetStringArray("hyper")
	for _, hyper := range hypers {
		name, value, ok := strings.Cut(hyper, "=")
		if !ok {
			return nil, fmt.Errorf("invalid hyperparameter '%s', expected name=value", hyper)
		}
		options = append(options, identifier.WithHypers(identifier.Hyper{Name: name, Value: resultdb.Parse(value).Any()}))
	}

	formats, _ := cmd.Flags().GetStringArray("hyper-format")
	for _, format := range formats {
		name, printf, ok := strings.Cut(format, "=")
		if !ok {
			return nil, fmt.Errorf("invalid hyperparameter format '%s', expected name=format", format)
		}
		options = append(options, identifier.WithFormat(name, printf))
	}

	return identifier.New(archID, inputID, options...)
}

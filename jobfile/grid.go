package jobfile

import (
	"github.com/gammadia/tidymodels/dispatcher"
	"github.com/gammadia/tidymodels/identifier"
	"github.com/samber/lo"
)

// Expand returns one task per combination of hyperparameter values and split.
// The first hyperparameter varies slowest and the split fastest.
func (grid JobfileGrid) Expand() ([]dispatcher.Args, error) {
	splits := lo.Ternary(len(grid.Splits) > 0, grid.Splits, []int{identifier.NoSplit})

	combinations := [][]identifier.Hyper{{}}
	for _, hyper := range grid.Hypers {
		next := make([][]identifier.Hyper, 0, len(combinations)*len(hyper.Values))
		for _, combination := range combinations {
			for _, value := range hyper.Values {
				next = append(next, append(append([]identifier.Hyper{}, combination...), identifier.Hyper{Name: hyper.Name, Value: value}))
			}
		}
		combinations = next
	}

	options := []identifier.Option{}
	if grid.Prefix != "" {
		options = append(options, identifier.WithPrefix(grid.Prefix))
	}
	if grid.Path != "" {
		options = append(options, identifier.WithPath(grid.Path))
	}
	if grid.NSplit != nil {
		options = append(options, identifier.WithNSplit(*grid.NSplit))
	}
	if grid.SplitSeed != nil {
		options = append(options, identifier.WithSplitSeed(*grid.SplitSeed))
	}
	for _, hyper := range grid.Hypers {
		if hyper.Format != "" {
			options = append(options, identifier.WithFormat(hyper.Name, hyper.Format))
		}
	}

	tasks := make([]dispatcher.Args, 0, len(combinations)*len(splits))
	for _, combination := range combinations {
		for _, split := range splits {
			id, err := identifier.New(grid.ArchID, grid.InputID, append(options,
				identifier.WithHypers(combination...),
				identifier.WithSplit(split),
			)...)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, TaskArgs(id))
		}
	}
	return tasks, nil
}

// TaskArgs are the arguments of the task training the model of id: every
// column of its result row, plus its name and path.
func TaskArgs(id *identifier.Identifier) dispatcher.Args {
	args := dispatcher.Args{}
	for _, field := range id.Record() {
		args[field.Column] = field.Value.Any()
	}
	args["name"] = id.Name()
	args["path"] = id.Pathname()
	return args
}

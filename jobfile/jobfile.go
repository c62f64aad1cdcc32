package jobfile

import (
	"fmt"
	"regexp"

	"github.com/samber/lo"
)

const JobfileVersion = "1"

const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

type Jobfile struct {
	path string

	Version     string
	Name        string
	Runner      string
	Image       string
	Pull        bool
	Command     []string
	Env         map[string]string
	Devices     []any
	Concurrency int
	LogDir      string `yaml:"log-dir"`
	Tasks       []map[string]any
	Grid        *JobfileGrid
}

type JobfileGrid struct {
	Prefix    string
	ArchID    int `yaml:"arch_id"`
	InputID   int `yaml:"input_id"`
	Path      string
	Splits    []int
	NSplit    *int `yaml:"n_split"`
	SplitSeed *int `yaml:"split_seed"`
	Hypers    []JobfileHyper
}

type JobfileHyper struct {
	Name   string
	Values []any
	Format string
}

var envKeyRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]+$`)
var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]+$`)
var hyperRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

func (jobfile Jobfile) Validate() error {
	if jobfile.Version != JobfileVersion {
		return fmt.Errorf("unsupported version '%s'", jobfile.Version)
	}

	if !nameRegex.MatchString(jobfile.Name) {
		return fmt.Errorf("name must be a valid identifier")
	}

	switch jobfile.Runner {
	case "", RunnerLocal:
		if len(jobfile.Command) < 1 {
			return fmt.Errorf("command is required")
		}
	case RunnerDocker:
		if jobfile.Image == "" {
			return fmt.Errorf("image is required")
		}
	default:
		return fmt.Errorf("unknown runner '%s'", jobfile.Runner)
	}

	for key := range jobfile.Env {
		if !envKeyRegex.MatchString(key) {
			return fmt.Errorf("env[%s] must be a valid environment variable identifier", key)
		}
	}

	for i, device := range jobfile.Devices {
		switch device.(type) {
		case int, string:
		default:
			return fmt.Errorf("devices[%d] must be a device index or identifier", i)
		}
	}

	if jobfile.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative")
	}

	if jobfile.Tasks != nil && jobfile.Grid != nil {
		return fmt.Errorf("tasks and grid are mutually exclusive")
	}
	if jobfile.Tasks == nil && jobfile.Grid == nil {
		return fmt.Errorf("either tasks or grid is required")
	}

	if jobfile.Grid != nil {
		return jobfile.Grid.Validate()
	}
	return nil
}

func (grid JobfileGrid) Validate() error {
	if dups := lo.FindDuplicates(grid.Splits); len(dups) > 0 {
		return fmt.Errorf("grid.splits[%d] is duplicated", dups[0])
	}

	if dups := lo.FindDuplicates(lo.Map(grid.Hypers, func(h JobfileHyper, _ int) string { return h.Name })); len(dups) > 0 {
		return fmt.Errorf("grid.hypers[%s] is duplicated", dups[0])
	}

	for _, hyper := range grid.Hypers {
		if !hyperRegex.MatchString(hyper.Name) {
			return fmt.Errorf("grid.hypers names must be valid identifiers")
		}
		if len(hyper.Values) < 1 {
			return fmt.Errorf("grid.hypers[%s].values must not be empty", hyper.Name)
		}
	}

	return nil
}

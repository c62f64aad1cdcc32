package jobfile

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/gammadia/tidymodels/dispatcher"
	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

type ReadOptions struct {
	// Use verbose output when reading the jobfile
	Verbose bool
	// Jobfile arguments
	Args []string
	// Jobfile parameters
	Params map[string]string
}

type UnmarshalError struct {
	error
	Source string
}

// Job is a jobfile ready to be dispatched.
type Job struct {
	Name        string
	Runner      string
	Image       string
	Pull        bool
	Command     []string
	Env         map[string]string
	Devices     []dispatcher.Slot
	Concurrency int
	// Absolute, empty when task output is discarded
	LogDir string
	// Working directory of local tasks, the directory of the jobfile
	Dir   string
	Tasks []dispatcher.Args
}

func Read(file string, options ReadOptions) (job *Job, err error) {
	workDir, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return nil, fmt.Errorf("resolve directory: %w", err)
	}

	var buf []byte
	if buf, err = os.ReadFile(file); err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	source, err := evaluateTemplate(string(buf), workDir, options)
	if err != nil {
		return nil, fmt.Errorf("evaluate template: %w", err)
	}

	return Parse(source, workDir)
}

// Parse builds a job from an already evaluated jobfile source. Relative
// paths are resolved against dir.
func Parse(source string, dir string) (*Job, error) {
	var jobfile Jobfile
	if err := yaml.Unmarshal([]byte(source), &jobfile); err != nil {
		return nil, UnmarshalError{fmt.Errorf("unmarshal: %w", err), source}
	}
	jobfile.path = dir
	if err := jobfile.Validate(); err != nil {
		return nil, UnmarshalError{fmt.Errorf("validate: %w", err), source}
	}

	job := &Job{
		Name:        jobfile.Name,
		Runner:      lo.Ternary(jobfile.Runner != "", jobfile.Runner, RunnerLocal),
		Image:       jobfile.Image,
		Pull:        jobfile.Pull,
		Command:     jobfile.Command,
		Env:         jobfile.Env,
		Devices:     dispatcher.SlotsOf(jobfile.Devices...),
		Concurrency: jobfile.Concurrency,
		Dir:         dir,
	}

	if jobfile.LogDir != "" {
		job.LogDir = lo.Ternary(filepath.IsAbs(jobfile.LogDir), jobfile.LogDir, filepath.Join(dir, jobfile.LogDir))
	}

	if jobfile.Grid != nil {
		tasks, err := jobfile.Grid.Expand()
		if err != nil {
			return nil, UnmarshalError{fmt.Errorf("grid: %w", err), source}
		}
		job.Tasks = tasks
	} else {
		job.Tasks = lo.Map(jobfile.Tasks, func(task map[string]any, _ int) dispatcher.Args { return dispatcher.Args(task) })
	}

	return job, nil
}

type TemplateData struct {
	Env    map[string]string
	Args   []string
	Params map[string]string
}

func evaluateTemplate(source string, dir string, options ReadOptions) (string, error) {
	funcs := sprig.TxtFuncMap()
	for name, fn := range map[string]any{
		"base64": func(s string) string {
			return base64.StdEncoding.EncodeToString([]byte(s))
		},
		"env": func(key string) string {
			return os.Getenv(key)
		},
		"json": func(v any) (string, error) {
			buf, err := json.Marshal(v)
			return string(buf), err
		},
		"lines": func(s string) []string {
			return strings.Split(s, "\n")
		},
		"shell": func(script string) (string, error) {
			return shell(script, dir, options.Verbose)
		},
		"split": func(sep string, s string) []string {
			return strings.Split(s, sep)
		},
	} {
		funcs[name] = fn
	}

	tmpl, err := template.New("jobfile").Funcs(funcs).Parse(source)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	data := TemplateData{
		Env:    lo.SliceToMap(os.Environ(), func(env string) (key, val string) { key, val, _ = strings.Cut(env, "="); return }),
		Args:   options.Args,
		Params: options.Params,
	}

	var output strings.Builder
	if err := tmpl.Execute(&output, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return output.String(), nil
}

func shell(script string, dir string, verbose bool) (string, error) {
	var shell, arg string
	if strings.HasPrefix(script, "#!") {
		shell, script, _ = strings.Cut(script, "\n")
		shell, arg, _ = strings.Cut(strings.TrimPrefix(shell, "#!"), " ")
	} else {
		shell = lo.Must(lo.Coalesce(os.Getenv("SHELL"), "sh"))
	}

	cmd := exec.Command(shell, lo.Ternary(arg != "", []string{arg}, []string{})...)
	cmd.Stdin = strings.NewReader(script)
	if verbose {
		cmd.Stderr = os.Stderr
	}
	cmd.Dir = dir

	output, err := cmd.Output()
	return string(output), err
}

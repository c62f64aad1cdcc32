package internal

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"text/template"

	"github.com/gammadia/tidymodels/dispatcher"
	sprig "github.com/go-task/slim-sprig/v3"
	"github.com/samber/lo"
)

// Command is a command line whose arguments are templates evaluated against
// the arguments of each task.
type Command struct {
	source    []string
	templates []*template.Template
}

func ParseCommand(args []string) (*Command, error) {
	if len(args) < 1 {
		return nil, fmt.Errorf("command must not be empty")
	}

	templates := make([]*template.Template, len(args))
	for i, arg := range args {
		tmpl, err := template.New(fmt.Sprintf("arg%d", i)).
			Funcs(sprig.TxtFuncMap()).
			Option("missingkey=error").
			Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to parse argument %d: %w", i, err)
		}
		templates[i] = tmpl
	}

	return &Command{source: args, templates: templates}, nil
}

// Render evaluates every argument for a task. Besides the task arguments,
// templates can use .task (the task name) and .slot.
func (c *Command) Render(task *dispatcher.Task) ([]string, error) {
	data := map[string]any{}
	maps.Copy(data, task.Args)
	data["task"] = task.Name
	data["slot"] = string(task.Slot)

	argv := make([]string, len(c.templates))
	for i, tmpl := range c.templates {
		var output strings.Builder
		if err := tmpl.Execute(&output, data); err != nil {
			return nil, fmt.Errorf("failed to render argument '%s': %w", c.source[i], err)
		}
		argv[i] = output.String()
	}
	return argv, nil
}

// Env merges the configured environment with the task binding, sorted by key.
// Task variables win over configured ones.
func Env(base map[string]string, task *dispatcher.Task) []string {
	env := lo.Assign(base, lo.SliceToMap(task.Env(), func(kv string) (key, val string) {
		key, val, _ = strings.Cut(kv, "=")
		return
	}))

	return lo.Map(slices.Sorted(maps.Keys(env)), func(key string, _ int) string {
		return fmt.Sprintf("%s=%s", key, env[key])
	})
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// SafeName turns a task name into something usable as a file or container name.
func SafeName(name string) string {
	return strings.Trim(unsafeNameChars.ReplaceAllString(name, "_"), "_.-")
}

// OpenLog creates the log file of a task in dir.
func OpenLog(dir string, task *dispatcher.Task) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.Create(filepath.Join(dir, SafeName(task.Name)+".log"))
}

// Package local runs each task as a process on the local host, with the GPU
// of its slot as the only visible device.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/alessio/shellescape"
	"github.com/gammadia/tidymodels/dispatcher"
	"github.com/gammadia/tidymodels/runner/internal"
	"github.com/samber/lo"
)

type Config struct {
	// Command line, each argument being a template over the task arguments
	Command []string
	// Extra environment variables
	Env map[string]string
	// Working directory of the processes, current directory if empty
	Dir string
	// Directory receiving one <task>.log file per task, output is discarded if empty
	LogDir string
	// Grace period between the interrupt and SIGKILL when a task is cancelled
	StopTimeout time.Duration
	Logger      *slog.Logger
}

type Runner struct {
	config  Config
	command *internal.Command
	log     *slog.Logger
}

func New(config Config) (*Runner, error) {
	command, err := internal.ParseCommand(config.Command)
	if err != nil {
		return nil, err
	}

	return &Runner{
		config:  config,
		command: command,
		log:     lo.Ternary(config.Logger != nil, config.Logger, slog.New(slog.DiscardHandler)),
	}, nil
}

// Run executes the command of one task. It has the signature of dispatcher.Work.
func (r *Runner) Run(ctx context.Context, task *dispatcher.Task) error {
	argv, err := r.command.Render(task)
	if err != nil {
		return err
	}

	log := lo.Ternary(task.Log != nil, task.Log, r.log)
	log.Debug("Starting process", "command", shellescape.QuoteCommand(argv))

	var output io.Writer = io.Discard
	if r.config.LogDir != "" {
		file, err := internal.OpenLog(r.config.LogDir, task)
		if err != nil {
			return err
		}
		defer file.Close()
		output = file
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), internal.Env(r.config.Env, task)...)
	cmd.Dir = r.config.Dir
	cmd.Stdout = output
	cmd.Stderr = output
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = lo.Ternary(r.config.StopTimeout > 0, r.config.StopTimeout, 10*time.Second)

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if ctx.Err() != nil {
			return fmt.Errorf("process aborted: %w", ctx.Err())
		}
		if errors.As(err, &exitErr) {
			return fmt.Errorf("process exited with status %d", exitErr.ExitCode())
		}
		return fmt.Errorf("failed to run process: %w", err)
	}
	return nil
}

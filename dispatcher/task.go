package dispatcher

import (
	"fmt"
	"log/slog"

	"github.com/gammadia/tidymodels/namegen"
	"github.com/samber/lo"
)

const (
	// VisibleDevicesEnv restricts a CUDA process to the devices it lists.
	VisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"
	// TaskEnv holds the name of the task a process runs for.
	TaskEnv = "TIDY_TASK"
)

// Slot is an exclusive resource, typically a GPU device index.
type Slot string

// SlotsOf converts device identifiers into slots.
func SlotsOf[T any](ids ...T) []Slot {
	return lo.Map(ids, func(id T, _ int) Slot { return Slot(fmt.Sprint(id)) })
}

// Args are the named arguments of one task.
type Args map[string]any

type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusAborted   TaskStatus = "aborted"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCompleted TaskStatus = "completed"
)

type Task struct {
	Index  int
	Name   string
	Args   Args
	Slot   Slot
	Status TaskStatus
	Log    *slog.Logger

	dispatch namegen.ID
}

func newTask(dispatch namegen.ID, index int, args Args, logger *slog.Logger) *Task {
	name, ok := args["name"].(string)
	if !ok || name == "" {
		name = fmt.Sprintf("task-%d", index)
	}

	return &Task{
		Index:  index,
		Name:   name,
		Args:   args,
		Status: TaskStatusQueued,
		Log:    logger.With("task", name),

		dispatch: dispatch,
	}
}

func (t *Task) FQN() string {
	return t.dispatch.Qualify(t.Name)
}

// Env is the environment binding a child process to the task's slot.
func (t *Task) Env() []string {
	return []string{
		fmt.Sprintf("%s=%s", VisibleDevicesEnv, t.Slot),
		fmt.Sprintf("%s=%s", TaskEnv, t.Name),
	}
}

package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gammadia/tidymodels/dispatcher"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEachTaskSeesOneDevice(t *testing.T) {
	out := t.TempDir()
	runner, err := New(Config{
		Command: []string{"sh", "-c", `echo "$CUDA_VISIBLE_DEVICES" > "$OUT/{{ .name }}"; sleep 0.05`},
		Env:     map[string]string{"OUT": out},
	})
	require.NoError(t, err)

	tasks := lo.Times(9, func(i int) dispatcher.Args { return dispatcher.Args{"name": fmt.Sprintf("w%d", i)} })
	err = dispatcher.Dispatch(context.Background(), runner.Run, tasks, dispatcher.SlotsOf(0, 1, 3), 2)
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		buf, err := os.ReadFile(filepath.Join(out, fmt.Sprintf("w%d", i)))
		require.NoError(t, err)
		device := strings.TrimSpace(string(buf))
		assert.Contains(t, []string{"0", "1", "3"}, device, "worker %d", i)
	}
}

func TestRunWritesLogFile(t *testing.T) {
	logDir := filepath.Join(t.TempDir(), "logs")
	runner, err := New(Config{
		Command: []string{"sh", "-c", "echo fitting {{ .name }} on $CUDA_VISIBLE_DEVICES; echo warning >&2"},
		LogDir:  logDir,
	})
	require.NoError(t, err)

	task := &dispatcher.Task{Name: "model-1-2", Slot: "1", Args: dispatcher.Args{"name": "model-1-2"}}
	require.NoError(t, runner.Run(context.Background(), task))

	buf, err := os.ReadFile(filepath.Join(logDir, "model-1-2.log"))
	require.NoError(t, err)
	assert.Equal(t, "fitting model-1-2 on 1\nwarning\n", string(buf))
}

func TestRunReportsExitStatus(t *testing.T) {
	runner, err := New(Config{Command: []string{"sh", "-c", "exit 3"}})
	require.NoError(t, err)

	err = runner.Run(context.Background(), &dispatcher.Task{Name: "t", Slot: "0"})
	assert.EqualError(t, err, "process exited with status 3")
}

func TestRunMissingExecutable(t *testing.T) {
	runner, err := New(Config{Command: []string{"/nonexistent/tidy-trainer"}})
	require.NoError(t, err)

	err = runner.Run(context.Background(), &dispatcher.Task{Name: "t", Slot: "0"})
	assert.ErrorContains(t, err, "failed to run process")
}

func TestRunCancelled(t *testing.T) {
	runner, err := New(Config{
		Command:     []string{"sleep", "10"},
		StopTimeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	err = runner.Run(ctx, &dispatcher.Task{Name: "t", Slot: "0"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestNewRejectsEmptyCommand(t *testing.T) {
	_, err := New(Config{})
	assert.EqualError(t, err, "command must not be empty")
}

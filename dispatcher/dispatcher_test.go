package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(slots ...Slot) Config {
	return Config{
		Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError})),
		Slots:  slots,
	}
}

func newTestDispatcher(t *testing.T, concurrency int, slots ...Slot) *Dispatcher {
	t.Helper()
	config := newTestConfig(slots...)
	config.Concurrency = concurrency
	d, err := New(config)
	require.NoError(t, err)
	return d
}

func argsList(n int) []Args {
	return lo.Times(n, func(i int) Args { return Args{"i": i} })
}

func waitForEvent[T Event](t *testing.T, events <-chan Event) T {
	t.Helper()
	for {
		select {
		case ev := <-events:
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-time.After(5 * time.Second):
			var zero T
			t.Fatalf("timed out waiting for event %T", zero)
			return zero
		}
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(newTestConfig("0", "1")))

	assert.ErrorIs(t, Validate(newTestConfig()), ErrNoSlots)
	assert.EqualError(t, Validate(newTestConfig("0", "")), "slots must not be empty")
	assert.EqualError(t, Validate(newTestConfig("0", "1", "0")), "duplicate slot '0'")

	config := newTestConfig("0")
	config.Concurrency = -1
	assert.EqualError(t, Validate(config), "concurrency must not be negative")

	_, err := New(newTestConfig())
	assert.ErrorIs(t, err, ErrNoSlots)
}

func TestSlotsOf(t *testing.T) {
	assert.Equal(t, []Slot{"0", "1", "3"}, SlotsOf(0, 1, 3))
	assert.Equal(t, []Slot{"a"}, SlotsOf("a"))
	assert.Empty(t, SlotsOf[int]())
}

func TestRunHonorsConcurrencyAndSlotExclusivity(t *testing.T) {
	d := newTestDispatcher(t, 2, SlotsOf(0, 1, 3)...)
	assert.Equal(t, 2, d.Concurrency())

	var running, peak atomic.Int32
	mu := sync.Mutex{}
	held := map[Slot]bool{}
	seen := map[int]Slot{}

	err := d.Run(context.Background(), func(_ context.Context, task *Task) error {
		now := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}

		mu.Lock()
		if held[task.Slot] {
			mu.Unlock()
			return fmt.Errorf("slot %s held twice", task.Slot)
		}
		held[task.Slot] = true
		seen[task.Args["i"].(int)] = task.Slot
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		held[task.Slot] = false
		mu.Unlock()
		return nil
	}, argsList(9))

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Len(t, seen, 9)
	for _, slot := range seen {
		assert.Contains(t, []Slot{"0", "1", "3"}, slot)
	}
	assert.Equal(t, 3, d.Available())
}

func TestRunClampsConcurrencyToSlots(t *testing.T) {
	d := newTestDispatcher(t, 8, "0", "1")
	assert.Equal(t, 2, d.Concurrency())

	d = newTestDispatcher(t, 0, "0", "1", "2")
	assert.Equal(t, 3, d.Concurrency())
}

func TestRunSetsTaskEnvironment(t *testing.T) {
	d := newTestDispatcher(t, 0, "7")

	var env []string
	err := d.Run(context.Background(), func(_ context.Context, task *Task) error {
		env = task.Env()
		return nil
	}, []Args{{"name": "model-1-2"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"CUDA_VISIBLE_DEVICES=7", "TIDY_TASK=model-1-2"}, env)
}

func TestRunReportsFirstFailureAfterAllTasks(t *testing.T) {
	d := newTestDispatcher(t, 2, "0", "1")
	boom := errors.New("boom")

	var executed atomic.Int32
	err := d.Run(context.Background(), func(_ context.Context, task *Task) error {
		executed.Add(1)
		if i := task.Args["i"].(int); i == 2 || i == 4 {
			return fmt.Errorf("task %d: %w", i, boom)
		}
		return nil
	}, argsList(6))

	assert.Equal(t, int32(6), executed.Load())

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, 2, taskErr.Index)
	assert.Equal(t, "task-2", taskErr.Task)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 2, d.Available())
}

func TestRunResultsKeepTaskOrder(t *testing.T) {
	d := newTestDispatcher(t, 3, "0", "1", "2")

	results, err := d.RunResults(context.Background(), func(_ context.Context, task *Task) error {
		time.Sleep(time.Duration(5-task.Index) * time.Millisecond)
		if task.Index == 1 {
			return errors.New("nope")
		}
		return nil
	}, argsList(5))

	require.NoError(t, err)
	require.Len(t, results, 5)
	for i, result := range results {
		assert.Equal(t, i, result.Task.Index)
		assert.NotEmpty(t, result.Slot)
	}
	assert.Equal(t, TaskStatusFailed, results[1].Task.Status)
	assert.Equal(t, TaskStatusCompleted, results[0].Task.Status)
}

func TestRunRecoversPanics(t *testing.T) {
	d := newTestDispatcher(t, 0, "0")

	err := d.Run(context.Background(), func(_ context.Context, task *Task) error {
		if task.Index == 0 {
			panic("out of memory")
		}
		return nil
	}, argsList(3))

	assert.EqualError(t, err, "task 'task-0' failed on slot 0: panic: out of memory")
	assert.Equal(t, 1, d.Available())
}

func TestRunCanceled(t *testing.T) {
	d := newTestDispatcher(t, 1, "0")
	ctx, cancel := context.WithCancel(context.Background())

	results, err := d.RunResults(ctx, func(ctx context.Context, task *Task) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}, argsList(4))

	require.NoError(t, err)
	for _, result := range results {
		assert.ErrorIs(t, result.Err, context.Canceled)
	}
	aborted := lo.CountBy(results, func(r Result) bool { return r.Task.Status == TaskStatusAborted })
	failed := lo.CountBy(results, func(r Result) bool { return r.Task.Status == TaskStatusFailed })
	assert.Equal(t, 4, aborted+failed)
	assert.GreaterOrEqual(t, failed, 1)
	assert.Equal(t, 1, d.Available())
}

func TestRunEmptyTaskList(t *testing.T) {
	d := newTestDispatcher(t, 0, "0")
	assert.NoError(t, d.Run(context.Background(), func(context.Context, *Task) error { return nil }, nil))
	assert.Error(t, d.Run(context.Background(), nil, argsList(1)))
}

func TestTaskNames(t *testing.T) {
	d := newTestDispatcher(t, 0, "0")

	names := make([]string, 3)
	fqns := make([]string, 3)
	err := d.Run(context.Background(), func(_ context.Context, task *Task) error {
		names[task.Index] = task.Name
		fqns[task.Index] = task.FQN()
		return nil
	}, []Args{{"name": "model-a"}, {"name": ""}, {"name": 12}})

	require.NoError(t, err)
	assert.Equal(t, []string{"model-a", "task-1", "task-2"}, names)
	assert.Equal(t, fmt.Sprintf("%s-model-a", d.Name()), fqns[0])
}

func TestEvents(t *testing.T) {
	d := newTestDispatcher(t, 0, "0", "1")
	events, unsub := d.Subscribe()
	defer unsub()

	collected := make(chan []Event, 1)
	go func() {
		var all []Event
		for event := range events {
			all = append(all, event)
			if _, ok := event.(EventDispatchCompleted); ok {
				break
			}
		}
		collected <- all
	}()

	err := d.Run(context.Background(), func(_ context.Context, task *Task) error {
		if task.Index == 1 {
			return errors.New("diverged")
		}
		return nil
	}, argsList(3))
	require.Error(t, err)

	var all []Event
	select {
	case all = <-collected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for events")
	}

	count := func(match func(Event) bool) int { return lo.CountBy(all, match) }
	assert.Equal(t, 3, count(func(e Event) bool { _, ok := e.(EventTaskQueued); return ok }))
	assert.Equal(t, 3, count(func(e Event) bool { _, ok := e.(EventTaskRunning); return ok }))
	assert.Equal(t, 2, count(func(e Event) bool { _, ok := e.(EventTaskCompleted); return ok }))
	assert.Equal(t, 1, count(func(e Event) bool { _, ok := e.(EventTaskFailed); return ok }))

	last, ok := all[len(all)-1].(EventDispatchCompleted)
	require.True(t, ok)
	assert.Equal(t, EventDispatchCompleted{Dispatch: string(d.Name()), Tasks: 3, Failed: 1}, last)
}

func TestUnsubscribeDoesNotBlockDispatch(t *testing.T) {
	d := newTestDispatcher(t, 0, "0")
	events, unsub := d.Subscribe()

	first := make(chan struct{})
	go func() {
		waitForEvent[EventTaskRunning](t, events)
		close(first)
	}()

	done := make(chan error, 1)
	go func() {
		done <- d.Run(context.Background(), func(context.Context, *Task) error { return nil }, argsList(200))
	}()

	<-first
	unsub()
	unsub()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dispatch blocked on an unsubscribed channel")
	}
}

func TestMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	config := newTestConfig("0", "1")
	config.Metrics = NewMetrics(registry)
	d, err := New(config)
	require.NoError(t, err)

	err = d.Run(context.Background(), func(_ context.Context, task *Task) error {
		if task.Index == 0 {
			return errors.New("nan loss")
		}
		return nil
	}, argsList(4))
	require.Error(t, err)

	families, err := registry.Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			name := family.GetName()
			for _, label := range metric.GetLabel() {
				name += "/" + label.GetValue()
			}
			switch {
			case metric.GetCounter() != nil:
				values[name] = metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				values[name] = metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				values[name] = float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}

	assert.Equal(t, 3.0, values["tidy_tasks_total/completed"])
	assert.Equal(t, 1.0, values["tidy_tasks_total/failed"])
	assert.Equal(t, 0.0, values["tidy_tasks_running"])
	assert.Equal(t, 2.0, values["tidy_slots_available"])
	assert.Equal(t, 4.0, values["tidy_task_duration_seconds"])
}

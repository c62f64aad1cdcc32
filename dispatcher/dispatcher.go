// Package dispatcher runs a list of tasks concurrently, each one holding a
// single exclusive slot (a GPU device) for as long as it runs.
//
// Tasks are taken from the queue in order. At most Config.Concurrency of them
// run at once, and a failing task never stops the others: the first failure,
// by task order, is reported once every task has finished.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/gammadia/tidymodels/dispatcher/internal"
	"github.com/gammadia/tidymodels/namegen"
	"github.com/samber/lo"
	"golang.org/x/sync/semaphore"
)

// Work runs one task. The task's Slot is assigned before Work is called and
// stays reserved until Work returns.
type Work func(ctx context.Context, task *Task) error

type Result struct {
	Task     *Task
	Slot     Slot
	Err      error
	Duration time.Duration
}

// TaskError is the failure of a single task.
type TaskError struct {
	Task  string
	Index int
	Slot  Slot
	Err   error
}

func (e *TaskError) Error() string {
	if e.Slot == "" {
		return fmt.Sprintf("task '%s' aborted: %v", e.Task, e.Err)
	}
	return fmt.Sprintf("task '%s' failed on slot %s: %v", e.Task, e.Slot, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

type Dispatcher struct {
	name        namegen.ID
	config      Config
	concurrency int
	log         *slog.Logger
	metrics     *Metrics

	permits *semaphore.Weighted
	slots   *slotPool

	mu          sync.RWMutex
	subscribers []*subscriber
}

type subscriber struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func New(config Config) (*Dispatcher, error) {
	if err := Validate(config); err != nil {
		return nil, err
	}

	name := namegen.Get()
	logger := lo.Ternary(config.Logger != nil, config.Logger, slog.New(slog.DiscardHandler))
	concurrency := internal.EffectiveConcurrency(config.Concurrency, len(config.Slots))

	d := &Dispatcher{
		name:        name,
		config:      config,
		concurrency: concurrency,
		log:         logger.With("dispatch", name),
		metrics:     config.Metrics,

		permits: semaphore.NewWeighted(int64(concurrency)),
		slots:   newSlotPool(config.Slots),
	}
	d.metrics.slotsAvailable(d.slots.len())

	if idle := internal.IdleSlots(concurrency, len(config.Slots)); idle > 0 {
		d.log.Warn("Some slots will stay idle", "concurrency", concurrency, "idle", idle)
	}
	return d, nil
}

// Dispatch runs every task on a one-off dispatcher.
func Dispatch(ctx context.Context, work Work, tasks []Args, slots []Slot, concurrency int) error {
	d, err := New(Config{Slots: slots, Concurrency: concurrency})
	if err != nil {
		return err
	}
	return d.Run(ctx, work, tasks)
}

func (d *Dispatcher) Name() namegen.ID {
	return d.name
}

func (d *Dispatcher) Concurrency() int {
	return d.concurrency
}

// Available returns the number of slots not held by a task.
func (d *Dispatcher) Available() int {
	return d.slots.len()
}

// Run executes work once per entry of tasks and blocks until all of them are done.
// Every slot is back in the pool when Run returns.
func (d *Dispatcher) Run(ctx context.Context, work Work, tasks []Args) error {
	results, err := d.RunResults(ctx, work, tasks)
	if err != nil {
		return err
	}

	failures := lo.Filter(results, func(result Result, _ int) bool { return result.Err != nil })
	if len(failures) < 1 {
		return nil
	}

	for _, failure := range failures[1:] {
		failure.Task.Log.Warn("Additional task failure", "error", failure.Err)
	}

	first := failures[0]
	return &TaskError{Task: first.Task.Name, Index: first.Task.Index, Slot: first.Slot, Err: first.Err}
}

// RunResults is like Run but returns the outcome of every task, in task order.
// The error is only set when the dispatch itself could not start.
func (d *Dispatcher) RunResults(ctx context.Context, work Work, args []Args) ([]Result, error) {
	if work == nil {
		return nil, errors.New("work must not be nil")
	}

	tasks := lo.Map(args, func(args Args, i int) *Task { return newTask(d.name, i, args, d.log) })
	d.log.Info("Starting dispatch", "tasks", len(tasks), "slots", len(d.config.Slots), "concurrency", d.concurrency)

	queue := make(chan *Task, len(tasks))
	for _, task := range tasks {
		queue <- task
		d.broadcast(EventTaskQueued{Dispatch: string(d.name), Task: task.Name})
	}
	close(queue)

	results := make(chan Result, len(tasks))
	wg := sync.WaitGroup{}
	wg.Add(len(tasks))
	for range tasks {
		go func() {
			defer wg.Done()
			results <- d.runOne(ctx, work, queue)
		}()
	}
	wg.Wait()
	close(results)

	collected := make([]Result, 0, len(tasks))
	for result := range results {
		collected = append(collected, result)
	}
	slices.SortFunc(collected, func(a, b Result) int { return a.Task.Index - b.Task.Index })

	failed := lo.CountBy(collected, func(result Result) bool { return result.Err != nil })
	d.log.Info("Dispatch completed", "tasks", len(tasks), "failed", failed)
	d.broadcast(EventDispatchCompleted{Dispatch: string(d.name), Tasks: len(tasks), Failed: failed})

	return collected, nil
}

// runOne waits for a permit, then takes the next task from the queue and
// waits for a slot to run it on.
func (d *Dispatcher) runOne(ctx context.Context, work Work, queue <-chan *Task) Result {
	if err := d.permits.Acquire(ctx, 1); err != nil {
		return d.abort(<-queue, err)
	}
	defer d.permits.Release(1)

	task := <-queue
	slot, err := d.slots.acquire(ctx)
	if err != nil {
		return d.abort(task, err)
	}
	d.metrics.slotsAvailable(d.slots.len())
	defer func() {
		d.slots.release(slot)
		d.metrics.slotsAvailable(d.slots.len())
	}()

	return d.execute(ctx, work, task, slot)
}

func (d *Dispatcher) execute(ctx context.Context, work Work, task *Task, slot Slot) Result {
	task.Slot = slot
	task.Status = TaskStatusRunning
	task.Log = task.Log.With("slot", slot)

	task.Log.Info("Task running")
	d.broadcast(EventTaskRunning{Dispatch: string(d.name), Task: task.Name, Slot: slot})
	d.metrics.taskStarted()

	started := time.Now()
	err := invoke(ctx, work, task)
	duration := time.Since(started)

	if err != nil {
		task.Status = TaskStatusFailed
		task.Log.Error("Task failed", "error", err, "duration", duration)
		d.broadcast(EventTaskFailed{Dispatch: string(d.name), Task: task.Name, Slot: slot, Duration: duration, Error: err})
	} else {
		task.Status = TaskStatusCompleted
		task.Log.Info("Task completed", "duration", duration)
		d.broadcast(EventTaskCompleted{Dispatch: string(d.name), Task: task.Name, Slot: slot, Duration: duration})
	}
	d.metrics.taskFinished(task.Status, duration)

	return Result{Task: task, Slot: slot, Err: err, Duration: duration}
}

func (d *Dispatcher) abort(task *Task, err error) Result {
	task.Status = TaskStatusAborted
	task.Log.Warn("Task aborted", "error", err)
	d.broadcast(EventTaskAborted{Dispatch: string(d.name), Task: task.Name, Error: err})
	d.metrics.taskAborted()

	return Result{Task: task, Err: err}
}

// invoke turns a panic in work into an error of the task.
func invoke(ctx context.Context, work Work, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return work(ctx, task)
}

// Subscribe returns a channel receiving every event of the dispatcher.
// The channel must be drained until unsubscribe is called.
func (d *Dispatcher) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{
		events: make(chan Event, 64),
		done:   make(chan struct{}),
	}

	d.mu.Lock()
	d.subscribers = append(d.subscribers, sub)
	d.mu.Unlock()

	return sub.events, func() {
		sub.once.Do(func() {
			// Unblock a pending broadcast before taking the write lock
			close(sub.done)

			d.mu.Lock()
			defer d.mu.Unlock()
			d.subscribers = lo.Without(d.subscribers, sub)
			close(sub.events)
		})
	}
}

func (d *Dispatcher) broadcast(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, sub := range d.subscribers {
		select {
		case sub.events <- event:
		case <-sub.done:
		}
	}
}

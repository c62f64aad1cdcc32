package dispatcher

import "time"

type Event interface{}

type EventTaskQueued struct {
	Dispatch string
	Task     string
}

type EventTaskRunning struct {
	Dispatch string
	Task     string
	Slot     Slot
}

type EventTaskCompleted struct {
	Dispatch string
	Task     string
	Slot     Slot
	Duration time.Duration
}

type EventTaskFailed struct {
	Dispatch string
	Task     string
	Slot     Slot
	Duration time.Duration
	Error    error
}

// EventTaskAborted reports a task that never got a slot.
type EventTaskAborted struct {
	Dispatch string
	Task     string
	Error    error
}

type EventDispatchCompleted struct {
	Dispatch string
	Tasks    int
	Failed   int
}

package evolver

import "fmt"

// TaskAlreadyQueuedError reports an attempt to queue the same task twice.
type TaskAlreadyQueuedError struct {
	TaskID string
}

func (e *TaskAlreadyQueuedError) Error() string {
	return fmt.Sprintf("the task %q is already queued", e.TaskID)
}

// QueueTaskError reports an attempt to queue a task after preparation or
// execution has begun.
type QueueTaskError struct {
	msg string
}

func (e *QueueTaskError) Error() string {
	return e.msg
}

// ExecutionError reports a failure while applying an evolution. LastSQL
// holds the statement that failed, when the failure came from SQL.
type ExecutionError struct {
	AppLabel string
	Detail   string
	LastSQL  string
	Err      error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("error applying evolution for %q: %s", e.AppLabel, e.Detail)
	if e.LastSQL != "" {
		msg += fmt.Sprintf(" (while running %q)", e.LastSQL)
	}

	return msg
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

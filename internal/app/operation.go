package app

import (
	"time"

	"blockmail/internal/mail"
)

// Operation tracks one CLI invocation. Its ID tags every log line the
// invocation writes.
type Operation struct {
	ID      string
	Command string
	Started time.Time
	Status  string // "success" or "error"
}

// NewOperation creates a successful operation for command.
func NewOperation(command string, ids mail.IDGenerator, clock mail.Clock) *Operation {
	return &Operation{
		ID:      ids.New(),
		Command: command,
		Started: clock.Now(),
		Status:  "success",
	}
}

// Fail marks the operation as failed.
func (op *Operation) Fail() {
	op.Status = "error"
}

// Failed reports whether Fail was called.
func (op *Operation) Failed() bool {
	return op.Status == "error"
}

// Elapsed returns the time since the operation started.
func (op *Operation) Elapsed(now time.Time) time.Duration {
	return now.Sub(op.Started)
}

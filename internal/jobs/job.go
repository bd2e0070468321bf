// Package jobs tracks the jobs that are currently streaming output and binds
// each registry entry to the lifetime of its stream.
package jobs

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/helios-gateway/internal/engine"
)

// Status is the client-facing state of a job.
type Status string

const (
	// StatusInProgress marks a job that is streaming output.
	StatusInProgress Status = "IN_PROGRESS"
	// StatusDone marks a job whose stream ended normally.
	StatusDone Status = "DONE"
	// StatusFailed marks a job that ended for any other reason.
	StatusFailed Status = "FAILED"
)

// Outcome says why a job stopped streaming.
type Outcome string

// Outcomes recorded when a lease is released.
const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeEngineError    Outcome = "engine_error"
	OutcomeTransportError Outcome = "transport_error"
	OutcomeCanceled       Outcome = "canceled"
	OutcomeTimeout        Outcome = "timeout"
)

// Status maps the outcome to the client-facing job status.
func (o Outcome) Status() Status {
	if o == OutcomeCompleted {
		return StatusDone
	}
	return StatusFailed
}

// Executor produces a job's output. Run must return once ctx is done.
type Executor interface {
	Run(ctx context.Context, w io.Writer) error
}

// Job is one execution of the processing engine.
type Job struct {
	id         string
	definition engine.Definition
	exec       Executor
}

// NewJob binds an executor to its definition under a fixed id.
func NewJob(id string, def engine.Definition, exec Executor) *Job {
	return &Job{id: id, definition: def, exec: exec}
}

// ID returns the job id.
func (j *Job) ID() string { return j.id }

// Name returns the definition name.
func (j *Job) Name() string { return j.definition.Name }

// Description returns the definition description.
func (j *Job) Description() string { return j.definition.Description }

// Definition returns the process graph the job executes.
func (j *Job) Definition() engine.Definition { return j.definition }

// Snapshot is a point-in-time view of a registered job.
type Snapshot struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Date        time.Time `json:"date"`
}

package jobs

import (
	"context"
	"time"
)

// Run is the persisted record of one job execution.
type Run struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Outcome     Outcome    `json:"outcome,omitempty"`
	Error       string     `json:"error,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// History stores job runs beyond their time in the registry.
type History interface {
	Start(ctx context.Context, run Run) error
	Finish(ctx context.Context, id string, outcome Outcome, errText string, finishedAt time.Time) error
	Recent(ctx context.Context, limit int) ([]Run, error)
}

// Publisher emits job lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Event types published by the runner.
const (
	EventStarted  = "job.started"
	EventFinished = "job.finished"
)

// Event is the payload published on job start and finish.
type Event struct {
	Type      string    `json:"type"`
	JobID     string    `json:"job_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	Outcome   Outcome   `json:"outcome,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/clock"
	"github.com/JakeFAU/helios-gateway/internal/engine"
	"github.com/JakeFAU/helios-gateway/internal/metrics"
)

const (
	defaultJobTimeout = 5 * time.Minute
	sideEffectTimeout = 5 * time.Second
	tracerName        = "github.com/JakeFAU/helios-gateway/internal/jobs"
)

// IDGenerator issues job ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Builder turns a definition into an executor for the job id.
type Builder func(id string, def engine.Definition) (Executor, error)

// RunError describes a job that did not complete.
type RunError struct {
	JobID   string
	Outcome Outcome
	// Streamed is true when output had already reached the client.
	Streamed bool
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("job %s %s: %v", e.JobID, e.Outcome, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Runner drives jobs from registration to release.
type Runner struct {
	registry *Registry
	build    Builder
	ids      IDGenerator
	history  History
	events   Publisher
	topic    string
	clock    clock.Clock
	timeout  time.Duration
	tracer   trace.Tracer
	logger   *zap.Logger
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithHistory records every run in h.
func WithHistory(h History) RunnerOption {
	return func(r *Runner) { r.history = h }
}

// WithPublisher emits start and finish events to topic.
func WithPublisher(p Publisher, topic string) RunnerOption {
	return func(r *Runner) {
		r.events = p
		r.topic = topic
	}
}

// WithTimeout sets the deadline attached to every run.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(c clock.Clock) RunnerOption {
	return func(r *Runner) {
		if c != nil {
			r.clock = c
		}
	}
}

// WithLogger sets the runner logger.
func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracer overrides the tracer used for run spans.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewRunner wires a runner around registry.
func NewRunner(registry *Registry, build Builder, ids IDGenerator, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry: registry,
		build:    build,
		ids:      ids,
		clock:    clock.System{},
		timeout:  defaultJobTimeout,
		tracer:   otel.Tracer(tracerName),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry returns the registry the runner registers jobs in.
func (r *Runner) Registry() *Registry { return r.registry }

// Build assigns a job id and builds the executor. Engine validation errors
// are returned unchanged; nothing is registered.
func (r *Runner) Build(def engine.Definition) (*Job, error) {
	id, err := r.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("job id: %w", err)
	}
	exec, err := r.build(id, def)
	if err != nil {
		return nil, err
	}
	return NewJob(id, def, exec), nil
}

// Run registers job, streams its output to w and deregisters it exactly once
// when the stream ends: normally, on engine error, on transport error, on
// client cancellation (ctx done) or when the run deadline passes. The job is
// registered before the first byte is written. A nil return means the job
// completed; otherwise the error is a *RunError, or the registry error when
// the job could not be registered.
func (r *Runner) Run(ctx context.Context, job *Job, w io.Writer) (err error) {
	startedAt := r.clock.Now()
	lease, err := r.registry.Acquire(job, func(j *Job, outcome Outcome, cause error) {
		r.finished(ctx, j, outcome, cause, startedAt)
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	runCtx, span := r.tracer.Start(runCtx, "job.run", trace.WithAttributes(
		attribute.String("job.id", job.ID()),
		attribute.String("job.name", job.Name()),
	))

	stream := newStreamWriter(w, func(error) { cancel() })
	stop := func() bool { return false }

	defer func() {
		stop()
		if p := recover(); p != nil {
			lease.Release(OutcomeEngineError, fmt.Errorf("panic: %v", p))
		}
		outcome, cause := lease.Outcome(), lease.Cause()
		span.SetAttributes(attribute.String("job.outcome", string(outcome)))
		if outcome == OutcomeCompleted {
			span.SetStatus(codes.Ok, "")
			err = nil
		} else {
			span.RecordError(cause)
			span.SetStatus(codes.Error, string(outcome))
			err = &RunError{JobID: job.ID(), Outcome: outcome, Streamed: stream.Written() > 0, Err: cause}
		}
		span.End()
	}()

	r.started(ctx, job, startedAt)
	stop = context.AfterFunc(runCtx, func() {
		outcome, cause := interrupted(ctx, runCtx, stream)
		lease.Release(outcome, cause)
	})

	runErr := job.exec.Run(runCtx, stream)
	outcome, cause := classify(runErr, ctx, runCtx, stream)
	lease.Release(outcome, cause)
	return nil
}

func classify(runErr error, parent, runCtx context.Context, stream *streamWriter) (Outcome, error) {
	if err := stream.Err(); err != nil {
		return OutcomeTransportError, err
	}
	if runErr == nil {
		return OutcomeCompleted, nil
	}
	if parent.Err() != nil || runCtx.Err() != nil {
		return interrupted(parent, runCtx, stream)
	}
	return OutcomeEngineError, runErr
}

// interrupted explains why runCtx ended.
func interrupted(parent, runCtx context.Context, stream *streamWriter) (Outcome, error) {
	if err := stream.Err(); err != nil {
		return OutcomeTransportError, err
	}
	if err := parent.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return OutcomeTimeout, err
		}
		return OutcomeCanceled, err
	}
	if err := runCtx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout, err
	}
	return OutcomeCanceled, runCtx.Err()
}

func (r *Runner) started(ctx context.Context, job *Job, at time.Time) {
	r.logger.Info("job started", zap.String("job_id", job.ID()), zap.String("name", job.Name()))
	sideCtx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	if r.history != nil {
		run := Run{
			ID:          job.ID(),
			Name:        job.Name(),
			Description: job.Description(),
			Status:      StatusInProgress,
			StartedAt:   at,
		}
		if err := r.history.Start(sideCtx, run); err != nil {
			r.logger.Warn("record job start failed", zap.String("job_id", job.ID()), zap.Error(err))
		}
	}
	r.publish(sideCtx, Event{
		Type:      EventStarted,
		JobID:     job.ID(),
		Name:      job.Name(),
		Status:    StatusInProgress,
		Timestamp: at,
	})
}

// finished runs once per job from whichever goroutine released the lease.
// The request context may already be cancelled, so side effects run on a
// detached context.
func (r *Runner) finished(ctx context.Context, job *Job, outcome Outcome, cause error, startedAt time.Time) {
	now := r.clock.Now()
	metrics.ObserveJob(string(outcome), now.Sub(startedAt))
	errText := ""
	if cause != nil {
		errText = cause.Error()
	}
	fields := []zap.Field{
		zap.String("job_id", job.ID()),
		zap.String("outcome", string(outcome)),
		zap.Duration("duration", now.Sub(startedAt)),
	}
	if outcome == OutcomeCompleted {
		r.logger.Info("job finished", fields...)
	} else {
		r.logger.Warn("job finished", append(fields, zap.String("error", errText))...)
	}

	sideCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()
	if r.history != nil {
		if err := r.history.Finish(sideCtx, job.ID(), outcome, errText, now); err != nil {
			r.logger.Warn("record job finish failed", zap.String("job_id", job.ID()), zap.Error(err))
		}
	}
	r.publish(sideCtx, Event{
		Type:      EventFinished,
		JobID:     job.ID(),
		Name:      job.Name(),
		Status:    outcome.Status(),
		Outcome:   outcome,
		Error:     errText,
		Timestamp: now,
	})
}

func (r *Runner) publish(ctx context.Context, ev Event) {
	if r.events == nil {
		return
	}
	if _, err := r.events.Publish(ctx, r.topic, ev); err != nil {
		r.logger.Warn("publish job event failed",
			zap.String("job_id", ev.JobID),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

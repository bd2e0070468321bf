package jobs

import (
	"sync"

	"go.uber.org/zap"
)

// ReleaseHook runs once, right after a lease removes its job. cause is nil
// for a completed job.
type ReleaseHook func(job *Job, outcome Outcome, cause error)

// Lease is the execution slot of one registered job. Whichever path calls
// Release first removes the job from the registry; later calls do nothing.
type Lease struct {
	registry *Registry
	job      *Job
	hooks    []ReleaseHook

	once    sync.Once
	done    chan struct{}
	outcome Outcome
	cause   error
}

// Acquire registers job and returns its lease. Hooks fire once on release,
// after the registry entry is gone.
func (r *Registry) Acquire(job *Job, hooks ...ReleaseHook) (*Lease, error) {
	if err := r.Add(job); err != nil {
		return nil, err
	}
	return &Lease{
		registry: r,
		job:      job,
		hooks:    hooks,
		done:     make(chan struct{}),
	}, nil
}

// Job returns the leased job.
func (l *Lease) Job() *Job { return l.job }

// Release removes the job and records outcome and its cause. It reports
// whether this call performed the release.
func (l *Lease) Release(outcome Outcome, cause error) bool {
	released := false
	l.once.Do(func() {
		defer close(l.done)
		released = true
		l.outcome = outcome
		l.cause = cause
		if err := l.registry.Remove(l.job); err != nil {
			l.registry.logger.Error("release job lease failed", zap.String("job_id", l.job.ID()), zap.Error(err))
		}
		for _, hook := range l.hooks {
			hook(l.job, outcome, cause)
		}
	})
	return released
}

// Done is closed once the lease has been released and its hooks have run.
func (l *Lease) Done() <-chan struct{} { return l.done }

// Outcome blocks until the lease is released and returns its outcome.
func (l *Lease) Outcome() Outcome {
	<-l.done
	return l.outcome
}

// Cause blocks until the lease is released and returns the error that ended
// the job, if any.
func (l *Lease) Cause() error {
	<-l.done
	return l.cause
}

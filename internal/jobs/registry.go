package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/clock"
	"github.com/JakeFAU/helios-gateway/internal/metrics"
)

var (
	// ErrDuplicateJobID is returned when a job id is already registered.
	ErrDuplicateJobID = errors.New("duplicate job id")
	// ErrJobNotFound is returned when no running job has the id.
	ErrJobNotFound = errors.New("job not found")
	// ErrNilJob is returned when a nil job is passed to the registry.
	ErrNilJob = errors.New("job is nil")
)

type entry struct {
	job          *Job
	registeredAt time.Time
}

// Registry is the process-wide set of running jobs keyed by id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	clock   clock.Clock
	logger  *zap.Logger
}

// NewRegistry builds an empty registry.
func NewRegistry(clk clock.Clock, logger *zap.Logger) *Registry {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]entry),
		clock:   clk,
		logger:  logger,
	}
}

// Start satisfies the service contract; the registry needs no warm-up.
func (r *Registry) Start(_ context.Context) error {
	r.logger.Debug("job registry ready")
	return nil
}

// Add registers job. It fails with ErrDuplicateJobID if the id is taken.
func (r *Registry) Add(job *Job) error {
	if job == nil {
		return ErrNilJob
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[job.ID()]; exists {
		return fmt.Errorf("add job %s: %w", job.ID(), ErrDuplicateJobID)
	}
	r.entries[job.ID()] = entry{job: job, registeredAt: r.clock.Now()}
	metrics.IncActiveJobs()
	return nil
}

// Remove deregisters job. Removing an absent job is a no-op, and an entry
// that belongs to a different job instance under the same id is left alone.
func (r *Registry) Remove(job *Job) error {
	if job == nil {
		return ErrNilJob
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.entries[job.ID()]
	if !ok || current.job != job {
		return nil
	}
	delete(r.entries, job.ID())
	metrics.DecActiveJobs()
	return nil
}

// Get returns the running job with id.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
	}
	return e.job, nil
}

// Has reports whether id is registered.
func (r *Registry) Has(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Snapshot returns the view of the running job with id.
func (r *Registry) Snapshot(id string) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("get job %s: %w", id, ErrJobNotFound)
	}
	return e.snapshot(), nil
}

// All returns a copy of every running job, oldest first.
func (r *Registry) All() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	return out
}

// IDs returns a copy of every running job id, oldest first.
func (r *Registry) IDs() []string {
	all := r.All()
	ids := make([]string, len(all))
	for i, s := range all {
		ids[i] = s.ID
	}
	return ids
}

// Len returns the number of running jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (e entry) snapshot() Snapshot {
	return Snapshot{
		ID:          e.job.ID(),
		Name:        e.job.Name(),
		Description: e.job.Description(),
		Status:      StatusInProgress,
		Date:        e.registeredAt,
	}
}

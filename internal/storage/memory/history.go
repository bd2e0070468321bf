// Package memory keeps job history and template snapshots in process memory
// for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/helios-gateway/internal/jobs"
)

// ErrRunNotFound is returned when finishing a run that was never started.
var ErrRunNotFound = errors.New("run not found")

// History records job runs in memory, keeping at most limit entries.
type History struct {
	mu    sync.RWMutex
	runs  map[string]jobs.Run
	order []string
	limit int
}

// NewHistory constructs a History. limit <= 0 keeps every run.
func NewHistory(limit int) *History {
	return &History{
		runs:  make(map[string]jobs.Run),
		limit: limit,
	}
}

// Start stores a new run.
func (h *History) Start(_ context.Context, run jobs.Run) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	h.runs[run.ID] = run
	h.order = append(h.order, run.ID)
	if h.limit > 0 && len(h.order) > h.limit {
		evict := h.order[0]
		h.order = h.order[1:]
		delete(h.runs, evict)
	}
	return nil
}

// Finish marks a run terminal.
func (h *History) Finish(_ context.Context, id string, outcome jobs.Outcome, errText string, finishedAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	run, ok := h.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	run.Status = outcome.Status()
	run.Outcome = outcome
	run.Error = errText
	run.FinishedAt = pointerTime(finishedAt)
	h.runs[id] = run
	return nil
}

// Recent returns up to limit runs, newest first.
func (h *History) Recent(_ context.Context, limit int) ([]jobs.Run, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]jobs.Run, 0, len(h.runs))
	for _, run := range h.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}

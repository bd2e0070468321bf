package templates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/engine"
	"github.com/JakeFAU/helios-gateway/internal/metrics"
)

var (
	// ErrNotFound is returned for an unknown template id.
	ErrNotFound = errors.New("template not found")
	// ErrInvalid is returned for a template that cannot be stored.
	ErrInvalid = errors.New("invalid template")
	// ErrNotStarted is returned when the store is used before Start.
	ErrNotStarted = errors.New("template store not started")
)

// Snapshotter loads and replaces the complete persisted snapshot. Load
// returns nil data when no snapshot exists yet.
type Snapshotter interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// IDGenerator issues template ids.
type IDGenerator interface {
	NewTemplateID() (string, error)
}

// PersistenceError reports a snapshot that could not be written. The
// in-memory change that triggered it has been rolled back.
type PersistenceError struct {
	Op  string
	ID  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist template %s (%s): %v", e.ID, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store keeps templates in memory and writes the whole collection through
// the Snapshotter on every mutation. Mutations are serialized, so
// overlapping writers never drop each other's changes.
type Store struct {
	snap   Snapshotter
	ids    IDGenerator
	format Format
	logger *zap.Logger

	mu      sync.RWMutex
	items   map[string]Template
	started bool
}

// Option customizes a Store.
type Option func(*Store)

// WithFormat sets the snapshot encoding.
func WithFormat(f Format) Option {
	return func(s *Store) {
		if f != "" {
			s.format = f
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates a Store backed by snap.
func NewStore(snap Snapshotter, ids IDGenerator, opts ...Option) *Store {
	s := &Store{
		snap:   snap,
		ids:    ids,
		format: FormatJSON,
		logger: zap.NewNop(),
		items:  make(map[string]Template),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start reads the snapshot once. A missing snapshot yields an empty store.
func (s *Store) Start(ctx context.Context) error {
	data, err := s.snap.Load(ctx)
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	items := make(map[string]Template)
	if len(data) > 0 {
		items, err = decode(s.format, data)
		if err != nil {
			return fmt.Errorf("decode templates: %w", err)
		}
	}
	s.mu.Lock()
	s.items = items
	s.started = true
	s.mu.Unlock()
	s.logger.Info("templates loaded", zap.Int("count", len(items)))
	return nil
}

// Add stores t under a newly generated id and returns the stored copy.
func (s *Store) Add(ctx context.Context, t Template) (Template, error) {
	if strings.TrimSpace(t.Name) == "" {
		return Template{}, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	id, err := s.ids.NewTemplateID()
	if err != nil {
		return Template{}, fmt.Errorf("template id: %w", err)
	}
	t.ID = id
	t = t.clone()

	err = s.mutate(ctx, "add", id, func(items map[string]Template) error {
		items[id] = t
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	return t.clone(), nil
}

// Update replaces the description and processes of template id wholesale.
func (s *Store) Update(ctx context.Context, id, description string, processes []engine.ProcessDescriptor) (Template, error) {
	var updated Template
	err := s.mutate(ctx, "update", id, func(items map[string]Template) error {
		current, ok := items[id]
		if !ok {
			return ErrNotFound
		}
		current.Description = description
		current.Processes = cloneProcesses(processes)
		items[id] = current
		updated = current
		return nil
	})
	if err != nil {
		return Template{}, err
	}
	return updated.clone(), nil
}

// Remove deletes template id.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, "remove", id, func(items map[string]Template) error {
		if _, ok := items[id]; !ok {
			return ErrNotFound
		}
		delete(items, id)
		return nil
	})
}

// mutate applies fn and writes the snapshot while holding the write lock,
// restoring the previous entry when the write fails.
func (s *Store) mutate(ctx context.Context, op, id string, fn func(map[string]Template) error) (err error) {
	defer func() { metrics.ObserveTemplateMutation(op, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}

	prev, existed := s.items[id]
	if err := fn(s.items); err != nil {
		return err
	}
	data, err := encode(s.format, s.items)
	if err == nil {
		err = s.snap.Save(ctx, data)
	}
	if err != nil {
		if existed {
			s.items[id] = prev
		} else {
			delete(s.items, id)
		}
		s.logger.Error("template snapshot failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
		return &PersistenceError{Op: op, ID: id, Err: err}
	}
	return nil
}

// Get returns a copy of template id.
func (s *Store) Get(_ context.Context, id string) (Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[id]
	if !ok {
		return Template{}, ErrNotFound
	}
	return t.clone(), nil
}

// Has reports whether template id exists.
func (s *Store) Has(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[id]
	return ok
}

// All returns copies of every template ordered by name, then id.
func (s *Store) All(_ context.Context) []Template {
	s.mu.RLock()
	out := make([]Template, 0, len(s.items))
	for _, t := range s.items {
		out = append(out, t.clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// IDs returns every template id in sorted order.
func (s *Store) IDs(_ context.Context) []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.items))
	for id := range s.items {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of templates.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

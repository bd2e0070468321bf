// Package routes holds the handler installers that make up the gateway's
// HTTP surface and the registry they are looked up from.
package routes

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/jobs"
	"github.com/JakeFAU/helios-gateway/internal/policy/ratelimit"
	"github.com/JakeFAU/helios-gateway/internal/templates"
	"github.com/JakeFAU/helios-gateway/internal/workspace"
)

// Installer IDs of the default population.
const (
	RuokID      = "ruok"
	JobsID      = "jobs"
	TemplatesID = "templates"
	ProcessID   = "process"
	WorkspaceID = "workspace"
)

var (
	// ErrDuplicateInstaller is returned when an installer id is taken.
	ErrDuplicateInstaller = errors.New("installer already registered")
	// ErrInstallerNotFound is returned for an unknown installer id.
	ErrInstallerNotFound = errors.New("installer not found")
)

// ServerContext identifies the running gateway.
type ServerContext struct {
	ID        string
	Port      int
	Path      string
	Workspace string
}

// Deps are the shared services handlers run against.
type Deps struct {
	Server         ServerContext
	Runner         *jobs.Runner
	History        jobs.History
	HistoryLimit   int
	Templates      *templates.Store
	Workspace      *workspace.Workspace
	PreviewLines   int
	MaxUploadBytes int64
	// RunLimiter admits job runs per client; nil admits everything.
	RunLimiter *ratelimit.Limiter
	Logger     *zap.Logger
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Installer attaches one related group of operations to a router.
type Installer interface {
	ID() string
	Install(r chi.Router, deps Deps)
}

// Streamer is implemented by installers whose responses stream for as long
// as the work they drive; they are mounted without the request timeout.
type Streamer interface {
	Streaming() bool
}

// Registry is the named set of installers, kept in insertion order.
type Registry struct {
	mu     sync.RWMutex
	items  map[string]Installer
	order  []string
	logger *zap.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{items: make(map[string]Installer), logger: logger}
}

// NewDefaultRegistry returns a registry holding every built-in installer.
func NewDefaultRegistry(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	for _, inst := range []Installer{
		ruokRoutes{},
		jobsRoutes{},
		templateRoutes{},
		processRoutes{},
		workspaceRoutes{},
	} {
		// Built-in ids are distinct.
		_ = r.Add(inst)
	}
	return r
}

// Start satisfies the service contract.
func (r *Registry) Start(_ context.Context) error {
	r.logger.Info("route installers ready", zap.Strings("ids", r.IDs()))
	return nil
}

// Add registers inst under its id.
func (r *Registry) Add(inst Installer) error {
	if inst == nil {
		return fmt.Errorf("installer is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := inst.ID()
	if _, ok := r.items[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateInstaller, id)
	}
	r.items[id] = inst
	r.order = append(r.order, id)
	return nil
}

// Remove deletes the installer with id and reports whether it existed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return false
	}
	delete(r.items, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the installer with id.
func (r *Registry) Get(id string) (Installer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInstallerNotFound, id)
	}
	return inst, nil
}

// All returns the installers in insertion order.
func (r *Registry) All() []Installer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Installer, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out
}

// IDs returns installer ids in insertion order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// IsStreaming reports whether inst must be mounted without a request timeout.
func IsStreaming(inst Installer) bool {
	s, ok := inst.(Streamer)
	return ok && s.Streaming()
}

// Package locator assembles the gateway's services from configuration and
// drives their start and stop.
//
// Every service kind is registered once with a factory that runs
// immediately. Bootstrap then starts all services in parallel and waits for
// every one of them to settle before lookups are allowed. A service that
// failed to start is reported as unavailable; its siblings remain usable.
package locator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/helios-gateway/internal/config"
	"github.com/JakeFAU/helios-gateway/internal/metrics"
)

// Service is a long-lived gateway component.
type Service interface {
	Start(ctx context.Context) error
}

// Stopper is implemented by services that hold resources until shutdown.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Factory builds a service from configuration.
type Factory func(cfg config.Config) (Service, error)

// Descriptor binds a kind to the factory that builds it.
type Descriptor struct {
	Kind    Kind
	Factory Factory
}

type entry struct {
	kind    Kind
	svc     Service
	started bool
	err     error
}

// Locator owns the gateway services.
type Locator struct {
	cfg          config.Config
	logger       *zap.Logger
	startTimeout time.Duration

	mu           sync.RWMutex
	entries      map[Kind]*entry
	order        []Kind
	bootstrapped bool
	ready        bool

	done     chan struct{}
	doneOnce sync.Once
	stopOnce sync.Once
	stopErr  error
}

// Option customizes a Locator.
type Option func(*Locator)

// WithStartTimeout bounds each service's Start call.
func WithStartTimeout(d time.Duration) Option {
	return func(l *Locator) { l.startTimeout = d }
}

// New creates an empty Locator over cfg.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	l := &Locator{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[Kind]*entry),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Config returns the configuration services are built from.
func (l *Locator) Config() config.Config { return l.cfg }

// Register builds the service described by d and stores it.
func (l *Locator) Register(d Descriptor) error {
	if !d.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownKind, d.Kind)
	}
	if d.Factory == nil {
		return &ConfigurationError{Kind: d.Kind, Err: fmt.Errorf("factory is nil")}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.bootstrapped {
		return ErrAlreadyBootstrapped
	}
	if _, exists := l.entries[d.Kind]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateService, d.Kind)
	}

	svc, err := d.Factory(l.cfg)
	if err != nil {
		return &ConfigurationError{Kind: d.Kind, Err: err}
	}
	if svc == nil {
		return &ConfigurationError{Kind: d.Kind, Err: fmt.Errorf("factory returned no service")}
	}
	l.entries[d.Kind] = &entry{kind: d.Kind, svc: svc}
	l.order = append(l.order, d.Kind)
	l.logger.Debug("service registered", zap.Stringer("kind", d.Kind))
	return nil
}

// Registered lists registered kinds in registration order.
func (l *Locator) Registered() []Kind {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Kind(nil), l.order...)
}

// Bootstrap starts every registered service concurrently and waits until
// all of them have succeeded or failed. Done is closed once that happens,
// whatever the outcome. A non-nil error is a *StartError naming exactly
// the services that failed.
func (l *Locator) Bootstrap(ctx context.Context) error {
	l.mu.Lock()
	if l.bootstrapped {
		l.mu.Unlock()
		return ErrAlreadyBootstrapped
	}
	l.bootstrapped = true
	entries := make([]*entry, len(l.order))
	for i, kind := range l.order {
		entries[i] = l.entries[kind]
	}
	l.mu.Unlock()

	begin := time.Now()
	results := make([]error, len(entries))
	var g errgroup.Group
	for i, e := range entries {
		g.Go(func() error {
			results[i] = l.start(ctx, e)
			return nil
		})
	}
	_ = g.Wait()

	var (
		failed []Kind
		errs   error
	)
	l.mu.Lock()
	for i, e := range entries {
		if err := results[i]; err != nil {
			e.err = err
			failed = append(failed, e.kind)
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", e.kind, err))
			continue
		}
		e.started = true
	}
	l.ready = true
	l.mu.Unlock()
	l.doneOnce.Do(func() { close(l.done) })

	metrics.ObserveBootstrap(time.Since(begin))
	if len(failed) > 0 {
		l.logger.Error("bootstrap failed", zap.Int("failed", len(failed)), zap.Error(errs))
		return &StartError{Failed: failed, Err: errs}
	}
	l.logger.Info("bootstrap complete", zap.Int("services", len(entries)), zap.Duration("duration", time.Since(begin)))
	return nil
}

func (l *Locator) start(ctx context.Context, e *entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
		metrics.ObserveServiceStart(e.kind.String(), err)
	}()
	if l.startTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.startTimeout)
		defer cancel()
	}
	if err := e.svc.Start(ctx); err != nil {
		l.logger.Error("service start failed", zap.Stringer("kind", e.kind), zap.Error(err))
		return err
	}
	l.logger.Info("service started", zap.Stringer("kind", e.kind))
	return nil
}

// Done is closed when Bootstrap has settled every service.
func (l *Locator) Done() <-chan struct{} { return l.done }

// Service returns the started service of kind.
func (l *Locator) Service(kind Kind) (Service, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if !l.ready {
		return nil, ErrNotBootstrapped
	}
	e, ok := l.entries[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServiceNotFound, kind)
	}
	if e.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrServiceUnavailable, kind, e.err)
	}
	return e.svc, nil
}

// Lookup returns the service of kind as a T.
func Lookup[T any](l *Locator, kind Kind) (T, error) {
	var zero T
	svc, err := l.Service(kind)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s is %T, want %T", ErrServiceType, kind, svc, zero)
	}
	return typed, nil
}

// Stop stops every started service that implements Stopper, in reverse
// registration order. Only the first call to Stop or Discard does any work.
func (l *Locator) Stop(ctx context.Context) error {
	return l.stop(ctx, true)
}

// Discard stops every registered service that implements Stopper, started
// or not, in reverse registration order. It releases what factories acquired
// when the locator is abandoned before Bootstrap.
func (l *Locator) Discard(ctx context.Context) error {
	return l.stop(ctx, false)
}

func (l *Locator) stop(ctx context.Context, startedOnly bool) error {
	l.stopOnce.Do(func() {
		l.mu.RLock()
		var targets []*entry
		for i := len(l.order) - 1; i >= 0; i-- {
			if e := l.entries[l.order[i]]; e.started || !startedOnly {
				targets = append(targets, e)
			}
		}
		l.mu.RUnlock()

		for _, e := range targets {
			stopper, ok := e.svc.(Stopper)
			if !ok {
				continue
			}
			if err := stopper.Stop(ctx); err != nil {
				l.logger.Warn("service stop failed", zap.Stringer("kind", e.kind), zap.Error(err))
				l.stopErr = multierr.Append(l.stopErr, fmt.Errorf("stop %s: %w", e.kind, err))
				continue
			}
			l.logger.Info("service stopped", zap.Stringer("kind", e.kind))
		}
	})
	return l.stopErr
}

// Package gateway assembles the gateway from configuration: it registers one
// service per kind with the locator, bootstraps them, mounts the route
// installers and serves HTTP until the context ends.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/helios-gateway/internal/api"
	"github.com/JakeFAU/helios-gateway/internal/clock"
	"github.com/JakeFAU/helios-gateway/internal/config"
	"github.com/JakeFAU/helios-gateway/internal/id/uuid"
	"github.com/JakeFAU/helios-gateway/internal/jobs"
	"github.com/JakeFAU/helios-gateway/internal/locator"
	"github.com/JakeFAU/helios-gateway/internal/metrics"
	"github.com/JakeFAU/helios-gateway/internal/policy/ratelimit"
	"github.com/JakeFAU/helios-gateway/internal/routes"
	"github.com/JakeFAU/helios-gateway/internal/telemetry"
	"github.com/JakeFAU/helios-gateway/internal/templates"
	"github.com/JakeFAU/helios-gateway/internal/workspace"
)

const readHeaderTimeout = 5 * time.Second

// Gateway is one configured gateway process.
type Gateway struct {
	cfg      config.Config
	logger   *zap.Logger
	serverID string

	fs        afero.Fs
	clock     clock.Clock
	ids       *uuid.Generator
	workspace *workspace.Workspace
	routes    *routes.Registry
	locator   *locator.Locator

	snapshot  templates.Snapshotter
	history   jobs.History
	publisher jobs.Publisher

	tracerShutdown func(context.Context) error
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithFs sets the filesystem holding the workspace and file snapshots.
func WithFs(fsys afero.Fs) Option {
	return func(g *Gateway) {
		if fsys != nil {
			g.fs = fsys
		}
	}
}

// WithSnapshotter bypasses the configured template backend.
func WithSnapshotter(s templates.Snapshotter) Option {
	return func(g *Gateway) { g.snapshot = s }
}

// WithHistory bypasses the configured job history backend.
func WithHistory(h jobs.History) Option {
	return func(g *Gateway) { g.history = h }
}

// WithPublisher bypasses the configured job event sink.
func WithPublisher(p jobs.Publisher) Option {
	return func(g *Gateway) { g.publisher = p }
}

// WithRoutes replaces the default route installers.
func WithRoutes(r *routes.Registry) Option {
	return func(g *Gateway) {
		if r != nil {
			g.routes = r
		}
	}
}

// New validates cfg and constructs every service. Nothing is started yet.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()

	g := &Gateway{
		cfg:      cfg,
		logger:   logger,
		serverID: uuid.ServerID(),
		fs:       afero.NewOsFs(),
		clock:    clock.System{},
		ids:      uuid.New(),
	}
	g.routes = routes.NewDefaultRegistry(logger.Named("routes"))
	for _, opt := range opts {
		opt(g)
	}

	ws, err := workspace.New(g.fs, cfg.Server.Workspace)
	if err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}
	g.workspace = ws

	if cfg.Tracing.Enabled {
		exp, err := telemetry.NewExporter(ctx, telemetry.ExporterConfig{
			Kind:     cfg.Tracing.Exporter,
			Endpoint: cfg.Tracing.OTLP.Endpoint,
			Insecure: cfg.Tracing.OTLP.Insecure,
		})
		if err != nil {
			return nil, fmt.Errorf("trace exporter init failed: %w", err)
		}
		tp, err := telemetry.InitTracerProvider(ctx, telemetry.Config{
			ServiceName: cfg.Tracing.ServiceName,
			InstanceID:  g.serverID,
			Exporter:    exp,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		g.tracerShutdown = tp.Shutdown
	}

	logBackends(logger, cfg)
	g.locator = locator.New(cfg, logger.Named("locator"))
	for _, d := range g.descriptors() {
		if err := g.locator.Register(d); err != nil {
			return nil, multierr.Append(err, g.abandon())
		}
	}
	return g, nil
}

// abandon releases what New acquired when construction fails part way.
func (g *Gateway) abandon() error {
	ctx, cancel := context.WithTimeout(context.Background(), g.cfg.ShutdownTimeout())
	defer cancel()
	err := g.locator.Discard(ctx)
	if g.tracerShutdown != nil {
		err = multierr.Append(err, g.tracerShutdown(ctx))
	}
	return err
}

// ServerID returns the identity stamped on workspace payloads.
func (g *Gateway) ServerID() string { return g.serverID }

// Locator exposes the service locator.
func (g *Gateway) Locator() *locator.Locator { return g.locator }

// Handler resolves the bootstrapped services and builds the HTTP handler.
func (g *Gateway) Handler() (http.Handler, error) {
	jobSvc, err := locator.Lookup[*JobService](g.locator, locator.KindJobRegistry)
	if err != nil {
		return nil, err
	}
	tplSvc, err := locator.Lookup[*TemplateService](g.locator, locator.KindTemplateStore)
	if err != nil {
		return nil, err
	}
	reg, err := locator.Lookup[*routes.Registry](g.locator, locator.KindRouteConfig)
	if err != nil {
		return nil, err
	}

	deps := routes.Deps{
		Server: routes.ServerContext{
			ID:        g.serverID,
			Port:      g.cfg.Server.Port,
			Path:      g.cfg.Server.Path,
			Workspace: g.workspace.Root(),
		},
		Runner:         jobSvc.Runner,
		History:        jobSvc.History,
		HistoryLimit:   g.cfg.Jobs.History.Limit,
		Templates:      tplSvc.Store,
		Workspace:      g.workspace,
		PreviewLines:   g.cfg.Workspace.PreviewLines,
		MaxUploadBytes: int64(g.cfg.Workspace.MaxUploadMB) << 20,
		RunLimiter: ratelimit.New(ratelimit.Config{
			RPS:   g.cfg.Jobs.RateLimit.RPS,
			Burst: g.cfg.Jobs.RateLimit.Burst,
			Clock: g.clock,
		}),
		Logger: g.logger.Named("routes"),
	}
	srv := api.NewServer(api.Options{
		Config: g.cfg,
		Routes: reg,
		Deps:   deps,
		Ready:  g.locator.Done(),
		Logger: g.logger.Named("api"),
	})
	return srv.Handler(), nil
}

// Run listens on the configured port and serves until ctx ends.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return g.Serve(ctx, ln)
}

// Serve bootstraps every service, then serves HTTP on ln until ctx ends.
// A service that fails to start aborts the gateway with a
// *locator.StartError. Services are stopped before Serve returns.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) (err error) {
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.ShutdownTimeout())
		defer cancel()
		err = multierr.Combine(err, g.locator.Stop(stopCtx), g.shutdownTracer(stopCtx))
	}()

	if err := g.locator.Bootstrap(ctx); err != nil {
		_ = ln.Close()
		return err
	}
	handler, err := g.Handler()
	if err != nil {
		_ = ln.Close()
		return err
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		g.logger.Info("http server started",
			zap.String("addr", ln.Addr().String()),
			zap.String("server_id", g.serverID),
		)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			g.logger.Warn("graceful shutdown incomplete; closing connections", zap.Error(err))
			return multierr.Append(fmt.Errorf("server shutdown: %w", err), srv.Close())
		}
		return nil
	})
	return eg.Wait()
}

func (g *Gateway) shutdownTracer(ctx context.Context) error {
	if g.tracerShutdown == nil {
		return nil
	}
	if err := g.tracerShutdown(ctx); err != nil {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	return nil
}

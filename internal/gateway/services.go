package gateway

import (
	"context"
	"fmt"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/config"
	"github.com/JakeFAU/helios-gateway/internal/engine"
	"github.com/JakeFAU/helios-gateway/internal/jobs"
	"github.com/JakeFAU/helios-gateway/internal/locator"
	memorypublisher "github.com/JakeFAU/helios-gateway/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/helios-gateway/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/helios-gateway/internal/storage/gcs"
	localstorage "github.com/JakeFAU/helios-gateway/internal/storage/local"
	memorystorage "github.com/JakeFAU/helios-gateway/internal/storage/memory"
	pgstore "github.com/JakeFAU/helios-gateway/internal/storage/postgres"
	redisstorage "github.com/JakeFAU/helios-gateway/internal/storage/redis"
	"github.com/JakeFAU/helios-gateway/internal/templates"
)

const (
	historyRetention  = 1000
	defaultEventTopic = "helios-job-events"
)

type hook func(ctx context.Context) error

// JobService owns the running-job registry and the runner that feeds it.
type JobService struct {
	Registry *jobs.Registry
	Runner   *jobs.Runner
	History  jobs.History

	starts  []hook
	closers []hook
}

// Start prepares history and event sinks, then the registry. Resources are
// released when any step fails.
func (s *JobService) Start(ctx context.Context) error {
	for _, start := range s.starts {
		if err := start(ctx); err != nil {
			return multierr.Append(err, s.Stop(ctx))
		}
	}
	return s.Registry.Start(ctx)
}

// Stop closes the history pool and event client.
func (s *JobService) Stop(ctx context.Context) error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i](ctx))
	}
	s.closers = nil
	return err
}

// TemplateService is the template store plus the backend it persists to.
type TemplateService struct {
	*templates.Store
	closers []hook
}

// Stop releases the snapshot backend.
func (s *TemplateService) Stop(ctx context.Context) error {
	var err error
	for _, c := range s.closers {
		err = multierr.Append(err, c(ctx))
	}
	s.closers = nil
	return err
}

func (g *Gateway) descriptors() []locator.Descriptor {
	return []locator.Descriptor{
		{Kind: locator.KindJobRegistry, Factory: g.newJobService},
		{Kind: locator.KindTemplateStore, Factory: g.newTemplateService},
		{Kind: locator.KindRouteConfig, Factory: g.newRouteConfig},
	}
}

func (g *Gateway) newJobService(cfg config.Config) (locator.Service, error) {
	logger := g.logger.Named("jobs")
	svc := &JobService{}

	switch {
	case g.history != nil:
		svc.History = g.history
	case cfg.Jobs.History.Backend == config.HistoryBackendPostgres:
		h, err := pgstore.NewHistory(context.Background(), pgstore.Config{
			DSN:      cfg.Jobs.History.DSN,
			Table:    cfg.Jobs.History.Table,
			MaxConns: cfg.Jobs.History.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("job history: %w", err)
		}
		svc.History = h
		svc.starts = append(svc.starts, h.EnsureSchema)
		svc.closers = append(svc.closers, func(context.Context) error { h.Close(); return nil })
	default:
		svc.History = memorystorage.NewHistory(historyRetention)
	}

	var events jobs.Publisher
	topic := cfg.Jobs.Events.Topic
	switch {
	case g.publisher != nil:
		events = g.publisher
	case cfg.Jobs.Events.Enabled:
		client, err := gpubsub.NewClient(context.Background(), cfg.Jobs.Events.ProjectID)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("create pubsub client: %w", err), svc.Stop(context.Background()))
		}
		p := pubsubpublisher.New(client)
		events = p
		svc.starts = append(svc.starts, func(ctx context.Context) error { return p.Verify(ctx, topic) })
		svc.closers = append(svc.closers, func(context.Context) error { return p.Close() })
	default:
		p := memorypublisher.New(
			memorypublisher.WithCapacity(historyRetention),
			memorypublisher.WithLogger(logger),
		)
		events = p
		svc.closers = append(svc.closers, func(context.Context) error { return p.Close() })
	}
	if topic == "" {
		topic = defaultEventTopic
	}

	svc.Registry = jobs.NewRegistry(g.clock, logger)
	build := func(id string, def engine.Definition) (jobs.Executor, error) {
		return engine.Build(id, def, engine.Bindings{Files: g.workspace})
	}
	svc.Runner = jobs.NewRunner(svc.Registry, build, g.ids,
		jobs.WithHistory(svc.History),
		jobs.WithPublisher(events, topic),
		jobs.WithTimeout(cfg.JobTimeout()),
		jobs.WithClock(g.clock),
		jobs.WithLogger(logger),
	)
	return svc, nil
}

func (g *Gateway) newTemplateService(cfg config.Config) (locator.Service, error) {
	svc := &TemplateService{}
	var (
		snap   templates.Snapshotter
		format = templates.FormatJSON
	)
	switch {
	case g.snapshot != nil:
		snap = g.snapshot
	case cfg.Templates.Backend == config.TemplateBackendGCS:
		client, err := gstorage.NewClient(context.Background())
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		s, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket: cfg.Templates.GCS.Bucket,
			Object: cfg.Templates.GCS.Object,
		})
		if err != nil {
			return nil, multierr.Append(err, client.Close())
		}
		snap = s
		format = templates.FormatFor(cfg.Templates.GCS.Object)
		svc.closers = append(svc.closers, func(context.Context) error { return s.Close() })
	case cfg.Templates.Backend == config.TemplateBackendRedis:
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs:    []string{cfg.Templates.Redis.Addr},
			Password: cfg.Templates.Redis.Password,
			DB:       cfg.Templates.Redis.DB,
		})
		s := redisstorage.NewWithClient(client, cfg.Templates.Redis.Key)
		snap = s
		svc.closers = append(svc.closers, func(context.Context) error { return s.Close() })
	case cfg.Templates.Backend == config.TemplateBackendMemory:
		snap = memorystorage.NewSnapshot(nil)
	default:
		s, err := localstorage.NewWithFs(g.fs, localstorage.Config{Path: cfg.Templates.Path})
		if err != nil {
			return nil, fmt.Errorf("template snapshot: %w", err)
		}
		snap = s
		format = templates.FormatFor(s.Path())
	}

	svc.Store = templates.NewStore(snap, g.ids,
		templates.WithFormat(format),
		templates.WithLogger(g.logger.Named("templates")),
	)
	return svc, nil
}

func (g *Gateway) newRouteConfig(config.Config) (locator.Service, error) {
	return g.routes, nil
}

func logBackends(logger *zap.Logger, cfg config.Config) {
	logger.Info("gateway backends",
		zap.String("templates", cfg.Templates.Backend),
		zap.String("history", cfg.Jobs.History.Backend),
		zap.Bool("events", cfg.Jobs.Events.Enabled),
	)
}

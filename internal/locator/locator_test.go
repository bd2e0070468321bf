package locator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JakeFAU/helios-gateway/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeService struct {
	name     string
	startErr error
	delay    time.Duration
	started  atomic.Bool
	stopLog  *stopLog
	stopErr  error
}

func (f *fakeService) Start(ctx context.Context) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.startErr != nil {
		return f.startErr
	}
	f.started.Store(true)
	return nil
}

func (f *fakeService) Stop(context.Context) error {
	if f.stopLog != nil {
		f.stopLog.add(f.name)
	}
	return f.stopErr
}

type startOnly struct{}

func (startOnly) Start(context.Context) error { return nil }

type stopLog struct {
	mu    sync.Mutex
	names []string
}

func (s *stopLog) add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
}

func factoryOf(svc Service) Factory {
	return func(config.Config) (Service, error) { return svc, nil }
}

func TestRegisterRejectsDuplicatesAndUnknownKinds(t *testing.T) {
	l := New(config.Config{}, nil)

	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(startOnly{})}))
	err := l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(startOnly{})})
	require.ErrorIs(t, err, ErrDuplicateService)
	require.ErrorIs(t, l.Register(Descriptor{Kind: Kind(99), Factory: factoryOf(startOnly{})}), ErrUnknownKind)
	require.Equal(t, []Kind{KindJobRegistry}, l.Registered())
}

func TestRegisterRunsFactoryEagerly(t *testing.T) {
	l := New(config.Config{Server: config.ServerConfig{Port: 9090}}, nil)

	var seen int
	err := l.Register(Descriptor{Kind: KindTemplateStore, Factory: func(cfg config.Config) (Service, error) {
		seen = cfg.Server.Port
		return startOnly{}, nil
	}})
	require.NoError(t, err)
	require.Equal(t, 9090, seen)
}

func TestRegisterFactoryFailureIsConfigurationError(t *testing.T) {
	l := New(config.Config{}, nil)
	boom := errors.New("bad dsn")

	err := l.Register(Descriptor{Kind: KindTemplateStore, Factory: func(config.Config) (Service, error) {
		return nil, boom
	}})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, KindTemplateStore, cfgErr.Kind)
	require.ErrorIs(t, err, boom)

	require.ErrorAs(t, l.Register(Descriptor{Kind: KindRouteConfig}), &cfgErr)
	require.Empty(t, l.Registered())
}

func TestServiceBeforeBootstrap(t *testing.T) {
	l := New(config.Config{}, nil)
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(startOnly{})}))

	_, err := l.Service(KindJobRegistry)
	require.ErrorIs(t, err, ErrNotBootstrapped)
	select {
	case <-l.Done():
		t.Fatal("done must not close before bootstrap")
	default:
	}
}

func TestBootstrapStartsAllInParallel(t *testing.T) {
	l := New(config.Config{}, nil)
	services := map[Kind]*fakeService{
		KindJobRegistry:   {name: "jobs", delay: 100 * time.Millisecond},
		KindTemplateStore: {name: "templates", delay: 100 * time.Millisecond},
		KindRouteConfig:   {name: "routes", delay: 100 * time.Millisecond},
	}
	for _, k := range Kinds() {
		require.NoError(t, l.Register(Descriptor{Kind: k, Factory: factoryOf(services[k])}))
	}

	begin := time.Now()
	require.NoError(t, l.Bootstrap(context.Background()))
	require.Less(t, time.Since(begin), 250*time.Millisecond)
	<-l.Done()

	for k, svc := range services {
		require.True(t, svc.started.Load(), k.String())
		got, err := l.Service(k)
		require.NoError(t, err)
		require.Same(t, svc, got)
	}
	_, err := l.Service(Kind(42))
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestBootstrapPartialFailureIsolatesFailingServices(t *testing.T) {
	l := New(config.Config{}, nil)
	good := &fakeService{name: "jobs"}
	bad := &fakeService{name: "templates", startErr: errors.New("snapshot unreadable")}
	slowBad := &fakeService{name: "routes", delay: 30 * time.Millisecond, startErr: errors.New("late failure")}
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(good)}))
	require.NoError(t, l.Register(Descriptor{Kind: KindTemplateStore, Factory: factoryOf(bad)}))
	require.NoError(t, l.Register(Descriptor{Kind: KindRouteConfig, Factory: factoryOf(slowBad)}))

	err := l.Bootstrap(context.Background())
	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Equal(t, []Kind{KindTemplateStore, KindRouteConfig}, startErr.Failed)
	require.True(t, startErr.Has(KindRouteConfig))
	require.False(t, startErr.Has(KindJobRegistry))
	require.Contains(t, err.Error(), "late failure")
	require.Contains(t, err.Error(), "snapshot unreadable")

	got, err := l.Service(KindJobRegistry)
	require.NoError(t, err)
	require.Same(t, good, got)
	_, err = l.Service(KindTemplateStore)
	require.ErrorIs(t, err, ErrServiceUnavailable)
}

func TestBootstrapRecoversPanickingStart(t *testing.T) {
	l := New(config.Config{}, nil)
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(panicService{})}))

	var startErr *StartError
	require.ErrorAs(t, l.Bootstrap(context.Background()), &startErr)
	require.Equal(t, []Kind{KindJobRegistry}, startErr.Failed)
}

type panicService struct{}

func (panicService) Start(context.Context) error { panic("nil map") }

func TestBootstrapOnlyOnce(t *testing.T) {
	l := New(config.Config{}, nil)
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(startOnly{})}))
	require.NoError(t, l.Bootstrap(context.Background()))

	require.ErrorIs(t, l.Bootstrap(context.Background()), ErrAlreadyBootstrapped)
	require.ErrorIs(t, l.Register(Descriptor{Kind: KindTemplateStore, Factory: factoryOf(startOnly{})}), ErrAlreadyBootstrapped)
	<-l.Done()
	<-l.Done()
}

func TestBootstrapWithNothingRegistered(t *testing.T) {
	l := New(config.Config{}, nil)
	require.NoError(t, l.Bootstrap(context.Background()))
	<-l.Done()
	_, err := l.Service(KindRouteConfig)
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestStartTimeout(t *testing.T) {
	l := New(config.Config{}, nil, WithStartTimeout(10*time.Millisecond))
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(&fakeService{delay: time.Second})}))

	var startErr *StartError
	require.ErrorAs(t, l.Bootstrap(context.Background()), &startErr)
	require.ErrorIs(t, startErr, context.DeadlineExceeded)
}

func TestLookupTyped(t *testing.T) {
	l := New(config.Config{}, nil)
	svc := &fakeService{name: "jobs"}
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(svc)}))
	require.NoError(t, l.Bootstrap(context.Background()))

	got, err := Lookup[*fakeService](l, KindJobRegistry)
	require.NoError(t, err)
	require.Same(t, svc, got)

	_, err = Lookup[startOnly](l, KindJobRegistry)
	require.ErrorIs(t, err, ErrServiceType)

	_, err = Lookup[*fakeService](l, KindTemplateStore)
	require.ErrorIs(t, err, ErrServiceNotFound)
}

func TestStopReverseOrderOnlyStarted(t *testing.T) {
	l := New(config.Config{}, nil)
	log := &stopLog{}
	jobs := &fakeService{name: "jobs", stopLog: log}
	templates := &fakeService{name: "templates", stopLog: log, startErr: errors.New("down")}
	routes := &fakeService{name: "routes", stopLog: log, stopErr: errors.New("stuck")}
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(jobs)}))
	require.NoError(t, l.Register(Descriptor{Kind: KindTemplateStore, Factory: factoryOf(templates)}))
	require.NoError(t, l.Register(Descriptor{Kind: KindRouteConfig, Factory: factoryOf(routes)}))
	require.Error(t, l.Bootstrap(context.Background()))

	err := l.Stop(context.Background())
	require.ErrorContains(t, err, "stuck")
	require.Equal(t, []string{"routes", "jobs"}, log.names)

	require.Equal(t, err, l.Stop(context.Background()))
	require.Equal(t, []string{"routes", "jobs"}, log.names)
}

func TestDiscardStopsRegisteredServicesAfterFactoryFailure(t *testing.T) {
	l := New(config.Config{}, nil)
	log := &stopLog{}
	jobs := &fakeService{name: "jobs", stopLog: log}
	routes := &fakeService{name: "routes", stopLog: log}
	require.NoError(t, l.Register(Descriptor{Kind: KindJobRegistry, Factory: factoryOf(jobs)}))
	require.NoError(t, l.Register(Descriptor{Kind: KindRouteConfig, Factory: factoryOf(routes)}))
	err := l.Register(Descriptor{Kind: KindTemplateStore, Factory: func(config.Config) (Service, error) {
		return nil, errors.New("bad snapshot path")
	}})
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	require.NoError(t, l.Discard(context.Background()))
	require.Equal(t, []string{"routes", "jobs"}, log.names)
	require.False(t, jobs.started.Load())

	require.NoError(t, l.Stop(context.Background()))
	require.Equal(t, []string{"routes", "jobs"}, log.names)
}

func TestKindNames(t *testing.T) {
	require.Equal(t, "processor-registry", KindJobRegistry.String())
	require.Equal(t, "template-registry", KindTemplateStore.String())
	require.Equal(t, "route-config-registry", KindRouteConfig.String())
	require.Equal(t, "kind(7)", Kind(7).String())

	k, err := ParseKind("template-registry")
	require.NoError(t, err)
	require.Equal(t, KindTemplateStore, k)
	_, err = ParseKind("templates")
	require.ErrorIs(t, err, ErrUnknownKind)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  path: /helios
  workspace: /srv/workspace
  shutdown_timeout_seconds: 5
  cors:
    allowed_origins: ["https://console.example.com"]
logging:
  development: false
  file:
    enabled: true
    path: /var/log/helios.log
templates:
  backend: redis
  redis:
    addr: 127.0.0.1:6379
    key: templates
jobs:
  timeout_seconds: 45
  history:
    backend: postgres
    dsn: postgres://helios@localhost/helios
  events:
    enabled: true
    project_id: proj
    topic: job-events
workspace:
  preview_lines: 5
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.Path != "/helios" {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if cfg.Server.Workspace != "/srv/workspace" {
		t.Fatalf("expected workspace override, got %q", cfg.Server.Workspace)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 1 || cfg.Server.CORS.AllowedOrigins[0] != "https://console.example.com" {
		t.Fatalf("expected cors origins to load, got %v", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Logging.Development || !cfg.Logging.File.Enabled {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.Logging.File.MaxSizeMB != 100 {
		t.Fatalf("expected default max size to survive partial override, got %d", cfg.Logging.File.MaxSizeMB)
	}
	if cfg.Templates.Backend != TemplateBackendRedis || cfg.Templates.Redis.Key != "templates" {
		t.Fatalf("expected redis template backend, got %+v", cfg.Templates)
	}
	if cfg.Jobs.History.Backend != HistoryBackendPostgres || cfg.Jobs.History.Table != "job_runs" {
		t.Fatalf("expected postgres history with default table, got %+v", cfg.Jobs.History)
	}
	if !cfg.Jobs.Events.Enabled || cfg.Jobs.Events.Topic != "job-events" {
		t.Fatalf("expected events config, got %+v", cfg.Jobs.Events)
	}
	if got := cfg.JobTimeout(); got != 45*time.Second {
		t.Fatalf("expected job timeout 45s, got %v", got)
	}
	if got := cfg.ShutdownTimeout(); got != 5*time.Second {
		t.Fatalf("expected shutdown timeout 5s, got %v", got)
	}
	if cfg.Workspace.PreviewLines != 5 || cfg.Workspace.MaxUploadMB != 32 {
		t.Fatalf("unexpected workspace config %+v", cfg.Workspace)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Templates.Backend != TemplateBackendFile || cfg.Templates.Path != "data/templates.json" {
		t.Fatalf("expected file template backend defaults, got %+v", cfg.Templates)
	}
	if cfg.Jobs.History.Backend != HistoryBackendMemory {
		t.Fatalf("expected memory history default, got %q", cfg.Jobs.History.Backend)
	}
	if cfg.Jobs.RateLimit.RPS != 0 || cfg.Jobs.RateLimit.Burst != 5 {
		t.Fatalf("expected rate limit disabled with burst 5, got %+v", cfg.Jobs.RateLimit)
	}
	if cfg.JobTimeout() != 300*time.Second {
		t.Fatalf("expected default job timeout, got %v", cfg.JobTimeout())
	}
	if cfg.Tracing.Exporter != TraceExporterNone {
		t.Fatalf("expected no span exporter by default, got %q", cfg.Tracing.Exporter)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080, Workspace: "ws"},
		Templates: TemplatesConfig{Backend: TemplateBackendFile, Path: "data/templates.json"},
		Jobs: JobsConfig{
			TimeoutSeconds: 10,
			History:        HistoryConfig{Backend: HistoryBackendMemory},
		},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to validate, got %v", err)
	}
	memory := base
	memory.Templates = TemplatesConfig{Backend: TemplateBackendMemory}
	if err := memory.Validate(); err != nil {
		t.Fatalf("expected memory template backend to validate, got %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "negative rate limit",
			cfg: func() Config {
				c := base
				c.Jobs.RateLimit.RPS = -1
				return c
			}(),
			want: "jobs.rate_limit.rps",
		},
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "missing workspace",
			cfg: func() Config {
				c := base
				c.Server.Workspace = " "
				return c
			}(),
			want: "server.workspace",
		},
		{
			name: "relative path prefix",
			cfg: func() Config {
				c := base
				c.Server.Path = "helios"
				return c
			}(),
			want: "server.path",
		},
		{
			name: "invalid job timeout",
			cfg: func() Config {
				c := base
				c.Jobs.TimeoutSeconds = 0
				return c
			}(),
			want: "jobs.timeout_seconds",
		},
		{
			name: "unknown template backend",
			cfg: func() Config {
				c := base
				c.Templates.Backend = "s3"
				return c
			}(),
			want: "templates.backend",
		},
		{
			name: "gcs backend without bucket",
			cfg: func() Config {
				c := base
				c.Templates.Backend = TemplateBackendGCS
				return c
			}(),
			want: "templates.gcs.bucket",
		},
		{
			name: "redis backend without addr",
			cfg: func() Config {
				c := base
				c.Templates.Backend = TemplateBackendRedis
				return c
			}(),
			want: "templates.redis.addr",
		},
		{
			name: "postgres history without dsn",
			cfg: func() Config {
				c := base
				c.Jobs.History.Backend = HistoryBackendPostgres
				return c
			}(),
			want: "jobs.history.dsn",
		},
		{
			name: "unknown span exporter",
			cfg: func() Config {
				c := base
				c.Tracing.Exporter = "zipkin"
				return c
			}(),
			want: "tracing.exporter",
		},
		{
			name: "otlp exporter without endpoint",
			cfg: func() Config {
				c := base
				c.Tracing.Enabled = true
				c.Tracing.Exporter = TraceExporterOTLP
				return c
			}(),
			want: "tracing.otlp.endpoint",
		},
		{
			name: "events without topic",
			cfg: func() Config {
				c := base
				c.Jobs.Events.Enabled = true
				c.Jobs.Events.ProjectID = "proj"
				return c
			}(),
			want: "jobs.events",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

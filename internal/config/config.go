// Package config loads and validates gateway configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Template snapshot backends.
const (
	TemplateBackendFile   = "file"
	TemplateBackendGCS    = "gcs"
	TemplateBackendRedis  = "redis"
	TemplateBackendMemory = "memory"
)

// Span exporters.
const (
	TraceExporterNone   = "none"
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// Job history backends.
const (
	HistoryBackendMemory   = "memory"
	HistoryBackendPostgres = "postgres"
)

// Config captures all gateway configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Templates TemplatesConfig `mapstructure:"templates"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int        `mapstructure:"port"`
	Path                   string     `mapstructure:"path"`
	Workspace              string     `mapstructure:"workspace"`
	ShutdownTimeoutSeconds int        `mapstructure:"shutdown_timeout_seconds"`
	RequestTimeoutSeconds  int        `mapstructure:"request_timeout_seconds"`
	CORS                   CORSConfig `mapstructure:"cors"`
}

// CORSConfig lists the origins allowed to call the gateway from a browser.
type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig toggles zap development features and the rotating file sink.
type LoggingConfig struct {
	Development bool              `mapstructure:"development"`
	File        LoggingFileConfig `mapstructure:"file"`
}

// LoggingFileConfig configures the optional lumberjack file sink.
type LoggingFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TemplatesConfig selects where the template snapshot is persisted.
type TemplatesConfig struct {
	Backend string               `mapstructure:"backend"`
	Path    string               `mapstructure:"path"`
	GCS     TemplatesGCSConfig   `mapstructure:"gcs"`
	Redis   TemplatesRedisConfig `mapstructure:"redis"`
}

// TemplatesGCSConfig names the object holding the snapshot.
type TemplatesGCSConfig struct {
	Bucket string `mapstructure:"bucket"`
	Object string `mapstructure:"object"`
}

// TemplatesRedisConfig names the key holding the snapshot.
type TemplatesRedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Key      string `mapstructure:"key"`
}

// JobsConfig governs job execution, history and events.
type JobsConfig struct {
	TimeoutSeconds int             `mapstructure:"timeout_seconds"`
	History        HistoryConfig   `mapstructure:"history"`
	Events         EventsConfig    `mapstructure:"events"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds how often one client may start jobs. RPS 0 disables it.
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// HistoryConfig selects the job run history backend.
type HistoryConfig struct {
	Backend  string `mapstructure:"backend"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	Limit    int    `mapstructure:"limit"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// EventsConfig holds metadata for job lifecycle notifications.
type EventsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// WorkspaceConfig bounds workspace browsing operations.
type WorkspaceConfig struct {
	PreviewLines int `mapstructure:"preview_lines"`
	MaxUploadMB  int `mapstructure:"max_upload_mb"`
}

// TracingConfig toggles the OpenTelemetry tracer provider. With exporter
// "none" spans only feed the trace context propagated into job events.
type TracingConfig struct {
	Enabled     bool       `mapstructure:"enabled"`
	ServiceName string     `mapstructure:"service_name"`
	Exporter    string     `mapstructure:"exporter"`
	OTLP        OTLPConfig `mapstructure:"otlp"`
}

// OTLPConfig points the OTLP/gRPC span exporter at a collector.
type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HELIOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.path", "")
	v.SetDefault("server.workspace", "./workspace")
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("server.cors.allowed_origins", []string{"*"})
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "logs/helios-gateway.log")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_age_days", 7)
	v.SetDefault("logging.file.compress", true)
	v.SetDefault("templates.backend", TemplateBackendFile)
	v.SetDefault("templates.path", "data/templates.json")
	v.SetDefault("templates.gcs.object", "templates.json")
	v.SetDefault("templates.redis.key", "helios:templates")
	v.SetDefault("jobs.timeout_seconds", 300)
	v.SetDefault("jobs.history.backend", HistoryBackendMemory)
	v.SetDefault("jobs.history.table", "job_runs")
	v.SetDefault("jobs.history.limit", 50)
	v.SetDefault("jobs.events.enabled", false)
	v.SetDefault("jobs.rate_limit.rps", 0)
	v.SetDefault("jobs.rate_limit.burst", 5)
	v.SetDefault("workspace.preview_lines", 20)
	v.SetDefault("workspace.max_upload_mb", 32)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "helios-gateway")
	v.SetDefault("tracing.exporter", TraceExporterNone)
	v.SetDefault("tracing.otlp.insecure", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if strings.TrimSpace(c.Server.Workspace) == "" {
		return fmt.Errorf("server.workspace is required")
	}
	if c.Server.Path != "" && !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with /")
	}
	if c.Jobs.TimeoutSeconds <= 0 {
		return fmt.Errorf("jobs.timeout_seconds must be > 0")
	}
	switch c.Templates.Backend {
	case TemplateBackendFile:
		if c.Templates.Path == "" {
			return fmt.Errorf("templates.path is required for the file backend")
		}
	case TemplateBackendGCS:
		if c.Templates.GCS.Bucket == "" {
			return fmt.Errorf("templates.gcs.bucket is required for the gcs backend")
		}
	case TemplateBackendRedis:
		if c.Templates.Redis.Addr == "" {
			return fmt.Errorf("templates.redis.addr is required for the redis backend")
		}
	case TemplateBackendMemory:
	default:
		return fmt.Errorf("templates.backend %q is not supported", c.Templates.Backend)
	}
	switch c.Jobs.History.Backend {
	case HistoryBackendMemory:
	case HistoryBackendPostgres:
		if c.Jobs.History.DSN == "" {
			return fmt.Errorf("jobs.history.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("jobs.history.backend %q is not supported", c.Jobs.History.Backend)
	}
	if c.Jobs.Events.Enabled && (c.Jobs.Events.ProjectID == "" || c.Jobs.Events.Topic == "") {
		return fmt.Errorf("jobs.events.project_id and jobs.events.topic must be set when events are enabled")
	}
	if c.Jobs.RateLimit.RPS < 0 {
		return fmt.Errorf("jobs.rate_limit.rps must be >= 0")
	}
	switch c.Tracing.Exporter {
	case "", TraceExporterNone, TraceExporterStdout:
	case TraceExporterOTLP:
		if c.Tracing.Enabled && c.Tracing.OTLP.Endpoint == "" {
			return fmt.Errorf("tracing.otlp.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("tracing.exporter %q is not supported", c.Tracing.Exporter)
	}
	if c.Logging.File.Enabled && c.Logging.File.Path == "" {
		return fmt.Errorf("logging.file.path must be set when file logging is enabled")
	}
	return nil
}

// JobTimeout returns the deadline applied to every job run.
func (c Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the grace period for in-flight requests.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// RequestTimeout bounds non-streaming requests.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

package main

import (
	"log/slog"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/minio"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/postgres"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/clients/redis"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// envPrefix is applied to every environment variable the daemon reads,
// including topology policy overrides (ISOLATION_POLICY_...).
const envPrefix = "ISOLATION"

// Store backends.
const (
	backendMemory   = "memory"
	backendRedis    = "redis"
	backendPostgres = "postgres"
	backendMinIO    = "minio"
)

// ServerConfig is the daemon configuration, loaded from envDefault tags, an
// optional YAML file and ISOLATION_* variables.
type ServerConfig struct {
	Addr     string `yaml:"addr" env:"ADDR" envDefault:":8080"`
	Topology string `yaml:"topology" env:"TOPOLOGY" envDefault:"topology.yaml"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" envDefault:"info"`

	SessionSecret config.Secret `yaml:"session_secret" env:"SESSION_SECRET" required:"true"`
	SessionIssuer string        `yaml:"session_issuer" env:"SESSION_ISSUER" envDefault:"stricklysoft-isolation"`

	// Probes lists "service=url" pairs probed over HTTP.
	Probes                []string `yaml:"probes" env:"PROBES"`
	ProbeSchedule         string   `yaml:"probe_schedule" env:"PROBE_SCHEDULE" envDefault:"@every 15s"`
	ProbeFailureThreshold int      `yaml:"probe_failure_threshold" env:"PROBE_FAILURE_THRESHOLD" envDefault:"2"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	Store StoreConfig `yaml:"store" env:"STORE"`
}

// StoreConfig selects where snapshots and reports are persisted.
type StoreConfig struct {
	Backend    string          `yaml:"backend" env:"BACKEND" envDefault:"memory"`
	MaxReports int             `yaml:"max_reports" env:"MAX_REPORTS" envDefault:"200"`
	Redis      redis.Config    `yaml:"redis" env:"REDIS"`
	Postgres   postgres.Config `yaml:"postgres" env:"POSTGRES"`
	MinIO      minio.Config    `yaml:"minio" env:"MINIO"`
}

// Validate checks the fields that tags cannot express.
func (c *ServerConfig) Validate() error {
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.ProbeFailureThreshold < 1 {
		return sserr.Newf(sserr.CodeValidationRange,
			"config: probe_failure_threshold must be >= 1, got %d", c.ProbeFailureThreshold)
	}
	if _, err := parseProbes(c.Probes); err != nil {
		return err
	}
	switch c.Store.Backend {
	case backendMemory:
		return nil
	case backendRedis:
		return c.Store.Redis.Validate()
	case backendPostgres:
		return c.Store.Postgres.Validate()
	case backendMinIO:
		return c.Store.MinIO.Validate()
	default:
		return sserr.Validationf("config: unknown store backend %q", c.Store.Backend)
	}
}

func loadConfig(path string) (*ServerConfig, error) {
	var cfg ServerConfig
	loader := config.New().WithEnvPrefix(envPrefix)
	if path != "" {
		loader = loader.WithFile(path)
	}
	if err := loader.Load(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, sserr.Validationf("config: unknown log level %q", s)
	}
	return level, nil
}

// parseProbes splits "service=url" entries.
func parseProbes(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		if e == "" {
			continue
		}
		service, url, ok := strings.Cut(e, "=")
		if !ok || service == "" || url == "" {
			return nil, sserr.Validationf("config: probe %q must be service=url", e)
		}
		if _, dup := out[service]; dup {
			return nil, sserr.Validationf("config: duplicate probe for %q", service)
		}
		out[service] = url
	}
	return out, nil
}

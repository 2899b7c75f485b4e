// Package redis is the Redis client used to keep the latest breaker
// snapshots and a capped list of degradation reports where every replica
// of the service can read them.
//
// [Client] wraps go-redis (github.com/redis/go-redis/v9) with
// OpenTelemetry spans and [sserr] error codes. Only the commands the
// snapshot store issues are exposed; [Cmdable] is the seam tests mock.
//
//	cfg := redis.DefaultConfig()
//	cfg.Addr = "localhost:6379"
//	client, err := redis.NewClient(ctx, cfg)
package redis

import (
	"net"
	"net/url"
	"time"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// maxStatementLen bounds the db.statement span attribute.
const maxStatementLen = 100

const (
	DefaultAddr          = "redis.databases.svc.cluster.local:6379"
	DefaultPoolSize      = 10
	DefaultDialTimeout   = 5 * time.Second
	DefaultHealthTimeout = 5 * time.Second
)

// Config is the connection setting. URI, when set, wins over Addr, DB and
// Password.
type Config struct {
	URI         string        `yaml:"uri" json:"uri,omitempty" env:"URI"`
	Addr        string        `yaml:"addr" json:"addr" env:"ADDR" envDefault:"redis.databases.svc.cluster.local:6379"`
	DB          int           `yaml:"db" json:"db" env:"DB"`
	Password    config.Secret `yaml:"password" json:"-" env:"PASSWORD"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size" env:"POOL_SIZE" envDefault:"10"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout" env:"DIAL_TIMEOUT" envDefault:"5s"`
	TLSEnabled  bool          `yaml:"tls_enabled" json:"tls_enabled" env:"TLS_ENABLED"`

	// KeyPrefix namespaces every key the store writes.
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" env:"KEY_PREFIX" envDefault:"isolation"`
}

// DefaultConfig returns the in-cluster defaults.
func DefaultConfig() Config {
	return Config{
		Addr:        DefaultAddr,
		PoolSize:    DefaultPoolSize,
		DialTimeout: DefaultDialTimeout,
		KeyPrefix:   "isolation",
	}
}

// Validate checks the URI scheme or the address and pool bounds.
func (c Config) Validate() error {
	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "redis: invalid URI")
		}
		if u.Scheme != "redis" && u.Scheme != "rediss" {
			return sserr.Validationf("redis: URI scheme must be redis:// or rediss://, got %q", u.Scheme)
		}
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Addr); err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "redis: addr must be host:port")
	}
	if c.DB < 0 || c.DB > 15 {
		return sserr.Newf(sserr.CodeValidationRange, "redis: db must be in [0, 15], got %d", c.DB)
	}
	if c.PoolSize < 1 {
		return sserr.Newf(sserr.CodeValidationRange, "redis: pool_size must be >= 1, got %d", c.PoolSize)
	}
	if c.DialTimeout < 0 {
		return sserr.Newf(sserr.CodeValidationRange, "redis: dial_timeout must not be negative, got %v", c.DialTimeout)
	}
	return nil
}

func truncateStatement(s string) string {
	runes := []rune(s)
	if len(runes) <= maxStatementLen {
		return s
	}
	return string(runes[:maxStatementLen]) + "..."
}

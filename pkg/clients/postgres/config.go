// Package postgres is the PostgreSQL client behind the degradation history
// store.
//
// [Client] wraps a pgx v5 pool with OpenTelemetry spans and [sserr] error
// codes. [Pool] is satisfied by *pgxpool.Pool and by pgxmock, so stores
// built on the client are unit tested without a database.
package postgres

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const maxSQLLen = 100

const (
	DefaultHost          = "postgres.databases.svc.cluster.local"
	DefaultPort          = 5432
	DefaultDatabase      = "isolation"
	DefaultUser          = "isolation"
	DefaultMaxConns      = 10
	DefaultHealthTimeout = 5 * time.Second
)

// SSLMode values accepted by Config.SSLMode.
var sslModes = []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}

// Config is the connection setting. URI, when set, wins over the
// structured fields.
type Config struct {
	URI             string        `yaml:"uri" json:"uri,omitempty" env:"URI"`
	Host            string        `yaml:"host" json:"host" env:"HOST" envDefault:"postgres.databases.svc.cluster.local"`
	Port            int           `yaml:"port" json:"port" env:"PORT" envDefault:"5432"`
	Database        string        `yaml:"database" json:"database" env:"DATABASE" envDefault:"isolation"`
	User            string        `yaml:"user" json:"user" env:"USER" envDefault:"isolation"`
	Password        config.Secret `yaml:"password" json:"-" env:"PASSWORD"`
	SSLMode         string        `yaml:"ssl_mode" json:"ssl_mode" env:"SSL_MODE" envDefault:"require"`
	MaxConns        int32         `yaml:"max_conns" json:"max_conns" env:"MAX_CONNS" envDefault:"10"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime" json:"max_conn_lifetime" env:"MAX_CONN_LIFETIME" envDefault:"1h"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout" json:"connect_timeout" env:"CONNECT_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig returns the in-cluster defaults.
func DefaultConfig() Config {
	return Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		Database:        DefaultDatabase,
		User:            DefaultUser,
		SSLMode:         "require",
		MaxConns:        DefaultMaxConns,
		MaxConnLifetime: time.Hour,
		ConnectTimeout:  10 * time.Second,
	}
}

// Validate checks the URI scheme or the structured fields.
func (c Config) Validate() error {
	if c.URI != "" {
		u, err := url.Parse(c.URI)
		if err != nil {
			return sserr.Wrap(err, sserr.CodeValidation, "postgres: invalid URI")
		}
		if u.Scheme != "postgres" && u.Scheme != "postgresql" {
			return sserr.Validationf("postgres: URI scheme must be postgres:// or postgresql://, got %q", u.Scheme)
		}
		return nil
	}
	switch {
	case c.Host == "":
		return sserr.Required("postgres host")
	case c.Database == "":
		return sserr.Required("postgres database")
	case c.User == "":
		return sserr.Required("postgres user")
	case c.Port < 1 || c.Port > 65535:
		return sserr.Newf(sserr.CodeValidationRange, "postgres: port must be in [1, 65535], got %d", c.Port)
	case c.MaxConns < 1:
		return sserr.Newf(sserr.CodeValidationRange, "postgres: max_conns must be >= 1, got %d", c.MaxConns)
	}
	if c.SSLMode != "" && !contains(sslModes, c.SSLMode) {
		return sserr.Validationf("postgres: unknown ssl_mode %q", c.SSLMode)
	}
	return nil
}

// ConnectionString renders a libpq URL. The password is escaped and never
// logged by callers because Config keeps it as a Secret.
func (c Config) ConnectionString() string {
	if c.URI != "" {
		return c.URI
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password.Value()),
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	if c.ConnectTimeout > 0 {
		q.Set("connect_timeout", fmt.Sprintf("%d", int(c.ConnectTimeout.Seconds())))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (c Config) databaseName() string {
	if c.URI == "" {
		return c.Database
	}
	if u, err := url.Parse(c.URI); err == nil {
		return strings.TrimPrefix(u.Path, "/")
	}
	return ""
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func truncateSQL(sql string) string {
	runes := []rune(sql)
	if len(runes) <= maxSQLLen {
		return sql
	}
	return string(runes[:maxSQLLen]) + "..."
}

package minio

import (
	"time"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

const maxStatementLen = 100

const (
	DefaultEndpoint      = "minio.databases.svc.cluster.local:9000"
	DefaultRegion        = "us-east-1"
	DefaultBucket        = "isolation-reports"
	DefaultHealthTimeout = 5 * time.Second
)

// Config is the connection and archive setting.
type Config struct {
	Endpoint  string        `yaml:"endpoint" json:"endpoint" env:"ENDPOINT" envDefault:"minio.databases.svc.cluster.local:9000"`
	AccessKey string        `yaml:"access_key" json:"access_key" env:"ACCESS_KEY"`
	SecretKey config.Secret `yaml:"secret_key" json:"-" env:"SECRET_KEY"`
	Region    string        `yaml:"region" json:"region" env:"REGION" envDefault:"us-east-1"`
	UseSSL    bool          `yaml:"use_ssl" json:"use_ssl" env:"USE_SSL"`

	// Bucket receives archived reports. It is created on first use.
	Bucket string `yaml:"bucket" json:"bucket" env:"BUCKET" envDefault:"isolation-reports"`
}

// DefaultConfig returns the in-cluster defaults. AccessKey must still be
// supplied.
func DefaultConfig() Config {
	return Config{Endpoint: DefaultEndpoint, Region: DefaultRegion, Bucket: DefaultBucket}
}

// Validate requires an endpoint, credentials and a bucket.
func (c Config) Validate() error {
	switch {
	case c.Endpoint == "":
		return sserr.Required("minio endpoint")
	case c.AccessKey == "":
		return sserr.Required("minio access_key")
	case c.Bucket == "":
		return sserr.Required("minio bucket")
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

package breaker

import (
	"time"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Config sets the thresholds of one breaker.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold" env:"FAILURE_THRESHOLD" envDefault:"5"`

	// RecoveryTimeout is how long an open circuit waits after the last
	// failure before admitting a half-open probe.
	RecoveryTimeout time.Duration `yaml:"recovery_timeout" json:"recovery_timeout" env:"RECOVERY_TIMEOUT" envDefault:"60s"`

	// HalfOpenMaxCalls caps admitted half-open probes, and is also the
	// number of successful probes that close the circuit.
	HalfOpenMaxCalls int `yaml:"half_open_max_calls" json:"half_open_max_calls" env:"HALF_OPEN_MAX_CALLS" envDefault:"3"`
}

// DefaultConfig is a general-purpose setting: five failures, one minute,
// three probes.
func DefaultConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 60 * time.Second, HalfOpenMaxCalls: 3}
}

// AggressiveConfig trips early and probes with a single call. Suited to
// optional dependencies such as caches.
func AggressiveConfig() Config {
	return Config{FailureThreshold: 3, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 1}
}

// DatabaseConfig recovers faster than the default, since database
// failovers usually complete within seconds.
func DatabaseConfig() Config {
	return Config{FailureThreshold: 5, RecoveryTimeout: 30 * time.Second, HalfOpenMaxCalls: 2}
}

// LLMConfig waits longer before probing a model provider, whose outages
// and rate limits tend to last minutes.
func LLMConfig() Config {
	return Config{FailureThreshold: 3, RecoveryTimeout: 2 * time.Minute, HalfOpenMaxCalls: 1}
}

// Preset returns a named preset: "default", "aggressive", "database" or
// "llm".
func Preset(name string) (Config, error) {
	switch name {
	case "", "default":
		return DefaultConfig(), nil
	case "aggressive":
		return AggressiveConfig(), nil
	case "database":
		return DatabaseConfig(), nil
	case "llm":
		return LLMConfig(), nil
	default:
		return Config{}, sserr.Validationf("breaker: unknown preset %q", name)
	}
}

// Validate rejects non-positive thresholds.
func (c Config) Validate() error {
	if c.FailureThreshold < 1 {
		return sserr.Newf(sserr.CodeValidationRange,
			"breaker: failure_threshold must be >= 1, got %d", c.FailureThreshold)
	}
	if c.RecoveryTimeout <= 0 {
		return sserr.Newf(sserr.CodeValidationRange,
			"breaker: recovery_timeout must be positive, got %s", c.RecoveryTimeout)
	}
	if c.HalfOpenMaxCalls < 1 {
		return sserr.Newf(sserr.CodeValidationRange,
			"breaker: half_open_max_calls must be >= 1, got %d", c.HalfOpenMaxCalls)
	}
	return nil
}

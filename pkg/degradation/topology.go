package degradation

import (
	"github.com/StricklySoft/stricklysoft-isolation/pkg/breaker"
	"github.com/StricklySoft/stricklysoft-isolation/pkg/config"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// ServiceSpec declares one service in a topology file. Preset names a
// breaker preset (default, aggressive, database, llm); Breaker, when set,
// overrides it.
type ServiceSpec struct {
	Name    string          `yaml:"name" json:"name"`
	Preset  string          `yaml:"preset,omitempty" json:"preset,omitempty"`
	Breaker *breaker.Config `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// BreakerConfig resolves the service's preset and overrides.
func (s ServiceSpec) BreakerConfig() (breaker.Config, error) {
	if s.Breaker != nil {
		return *s.Breaker, s.Breaker.Validate()
	}
	if s.Preset == "" {
		return breaker.DefaultConfig(), nil
	}
	return breaker.Preset(s.Preset)
}

// Topology describes services, capabilities and policy:
//
//	policy:
//	  global_failure_threshold: 0.5
//	services:
//	  - name: llm
//	    preset: llm
//	  - name: cache
//	capabilities:
//	  - name: ai_chat
//	    priority: critical
//	    dependencies: [llm, db]
//	    fallbacks:
//	      llm: [cache]
type Topology struct {
	Policy       Policy        `yaml:"policy" json:"policy" env:"POLICY"`
	Services     []ServiceSpec `yaml:"services" json:"services"`
	Capabilities []Capability  `yaml:"capabilities" json:"capabilities"`
}

// Validate checks the policy and that service names are present.
func (t *Topology) Validate() error {
	if err := t.Policy.Validate(); err != nil {
		return err
	}
	if len(t.Services) == 0 {
		return sserr.Required("services")
	}
	for _, s := range t.Services {
		if s.Name == "" {
			return sserr.Required("service name")
		}
	}
	return nil
}

// LoadTopology reads a YAML or JSON topology file. Policy thresholds take
// their defaults when absent and may be overridden from the environment
// under envPrefix (for example ISOLATION_POLICY_DEGRADATION_FACTOR).
func LoadTopology(path, envPrefix string) (*Topology, error) {
	var t Topology
	if err := config.New().WithEnvPrefix(envPrefix).WithRequiredFile(path).Load(&t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Build creates a coordinator for the topology, registering every service
// and then every capability.
func (t *Topology) Build(opts ...Option) (*Coordinator, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	c, err := NewCoordinator(t.Policy, opts...)
	if err != nil {
		return nil, err
	}
	for _, s := range t.Services {
		cfg, err := s.BreakerConfig()
		if err != nil {
			return nil, err
		}
		if err := c.RegisterService(s.Name, cfg); err != nil {
			return nil, err
		}
	}
	for _, capability := range t.Capabilities {
		if err := c.RegisterCapability(capability); err != nil {
			return nil, err
		}
	}
	return c, nil
}

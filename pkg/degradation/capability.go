package degradation

import (
	"fmt"
	"slices"
	"strings"

	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Priority ranks capabilities for advisories. Lower is more critical.
// Priority never changes how a capability degrades.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

var priorityNames = [...]string{"critical", "high", "medium", "low"}

// String returns the priority name.
func (p Priority) String() string {
	if p.Valid() {
		return priorityNames[p]
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// Valid reports whether p is one of the four defined priorities.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityLow
}

// ParsePriority accepts a priority name, case-insensitively.
func ParsePriority(s string) (Priority, error) {
	if i := slices.Index(priorityNames[:], strings.ToLower(strings.TrimSpace(s))); i >= 0 {
		return Priority(i), nil
	}
	return 0, sserr.Validationf("degradation: unknown priority %q", s)
}

// MarshalText encodes the priority name.
func (p Priority) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, sserr.Validationf("degradation: invalid priority %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText decodes a priority name.
func (p *Priority) UnmarshalText(text []byte) error {
	v, err := ParsePriority(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Capability is a named unit of functionality and the services it needs.
type Capability struct {
	Name     string   `yaml:"name" json:"name"`
	Priority Priority `yaml:"priority" json:"priority"`

	// Dependencies are the services the capability calls.
	Dependencies []string `yaml:"dependencies" json:"dependencies"`

	// Fallbacks maps a dependency to the services that can stand in for it,
	// tried in order.
	Fallbacks map[string][]string `yaml:"fallbacks,omitempty" json:"fallbacks,omitempty"`

	// Required lists dependencies the capability cannot run without. Losing
	// one with no healthy fallback disables the capability even when other
	// dependencies are up.
	Required []string `yaml:"required,omitempty" json:"required,omitempty"`
}

// references reports whether service appears as a dependency or fallback.
func (c *Capability) references(service string) bool {
	if slices.Contains(c.Dependencies, service) {
		return true
	}
	for _, chain := range c.Fallbacks {
		if slices.Contains(chain, service) {
			return true
		}
	}
	return false
}

func (c *Capability) validate(known func(string) bool) error {
	if c.Name == "" {
		return sserr.Required("capability name")
	}
	if !c.Priority.Valid() {
		return sserr.Validationf("degradation: capability %q has invalid priority %d", c.Name, int(c.Priority))
	}
	for _, dep := range c.Dependencies {
		if !known(dep) {
			return sserr.Validationf("degradation: capability %q depends on unregistered service %q", c.Name, dep)
		}
	}
	for dep, chain := range c.Fallbacks {
		if !slices.Contains(c.Dependencies, dep) {
			return sserr.Validationf("degradation: capability %q has a fallback for %q, which is not a dependency", c.Name, dep)
		}
		for _, fb := range chain {
			if !known(fb) {
				return sserr.Validationf("degradation: capability %q falls back to unregistered service %q", c.Name, fb)
			}
			if fb == dep {
				return sserr.Validationf("degradation: capability %q lists %q as its own fallback", c.Name, dep)
			}
		}
	}
	for _, req := range c.Required {
		if !slices.Contains(c.Dependencies, req) {
			return sserr.Validationf("degradation: capability %q requires %q, which is not a dependency", c.Name, req)
		}
	}
	return nil
}

func (c Capability) clone() Capability {
	c.Dependencies = slices.Clone(c.Dependencies)
	c.Required = slices.Clone(c.Required)
	if c.Fallbacks != nil {
		fb := make(map[string][]string, len(c.Fallbacks))
		for dep, chain := range c.Fallbacks {
			fb[dep] = slices.Clone(chain)
		}
		c.Fallbacks = fb
	}
	return c
}

// Status is the runtime view of a capability.
type Status struct {
	Name             string   `json:"name"`
	Priority         Priority `json:"priority"`
	Enabled          bool     `json:"enabled"`
	PerformanceLevel float64  `json:"performance_level"`

	// ActiveFallbacks maps each missing dependency to the service standing
	// in for it.
	ActiveFallbacks map[string]string `json:"active_fallbacks,omitempty"`

	// MissingDependencies are unhealthy dependencies with no healthy
	// fallback, sorted.
	MissingDependencies []string `json:"missing_dependencies,omitempty"`
}

// Full reports an enabled capability at full performance with no
// fallback in use.
func (s Status) Full() bool {
	return s.Enabled && s.PerformanceLevel == 1.0 && len(s.ActiveFallbacks) == 0
}

// DownDependency names the first missing dependency, or "" if none.
func (s Status) DownDependency() string {
	if len(s.MissingDependencies) == 0 {
		return ""
	}
	return s.MissingDependencies[0]
}

func (s Status) equal(o Status) bool {
	if s.Enabled != o.Enabled || s.PerformanceLevel != o.PerformanceLevel {
		return false
	}
	if !slices.Equal(s.MissingDependencies, o.MissingDependencies) {
		return false
	}
	if len(s.ActiveFallbacks) != len(o.ActiveFallbacks) {
		return false
	}
	for k, v := range s.ActiveFallbacks {
		if o.ActiveFallbacks[k] != v {
			return false
		}
	}
	return true
}

// evaluate computes a capability's status from the set of healthy
// services. The result depends only on its inputs:
//
//  1. a missing dependency with a healthy fallback is covered by it
//  2. with uncovered dependencies, the capability degrades when at least
//     one dependency is still served and none of the uncovered ones is
//     required, to max(floor, 1 - factor*uncovered/total)
//  3. otherwise it is disabled
func evaluate(c *Capability, healthy func(string) bool, p Policy) Status {
	st := Status{Name: c.Name, Priority: c.Priority, Enabled: true, PerformanceLevel: 1.0}

	for _, dep := range c.Dependencies {
		if healthy(dep) {
			continue
		}
		if i := slices.IndexFunc(c.Fallbacks[dep], healthy); i >= 0 {
			if st.ActiveFallbacks == nil {
				st.ActiveFallbacks = make(map[string]string)
			}
			st.ActiveFallbacks[dep] = c.Fallbacks[dep][i]
			continue
		}
		st.MissingDependencies = append(st.MissingDependencies, dep)
	}
	slices.Sort(st.MissingDependencies)

	missing := len(st.MissingDependencies)
	if missing == 0 {
		return st
	}

	total := len(c.Dependencies)
	requiredDown := slices.ContainsFunc(st.MissingDependencies, func(dep string) bool {
		return slices.Contains(c.Required, dep)
	})
	if missing < total && !requiredDown {
		st.PerformanceLevel = max(p.PerformanceFloor, 1-p.DegradationFactor*float64(missing)/float64(total))
		return st
	}

	st.Enabled = false
	st.PerformanceLevel = 0
	return st
}

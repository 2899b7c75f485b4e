package degradation

import (
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// Policy holds the business thresholds of the coordinator. None of them is
// derived; operators tune them per deployment.
type Policy struct {
	// GlobalFailureThreshold is the open/total service ratio at or above
	// which cascade risk is reported as high.
	GlobalFailureThreshold float64 `yaml:"global_failure_threshold" json:"global_failure_threshold" env:"GLOBAL_FAILURE_THRESHOLD" envDefault:"0.5"`

	// DegradationFactor is the share of performance lost when every
	// dependency is missing. A degraded capability runs at
	//
	//	max(PerformanceFloor, 1 - DegradationFactor*missing/total)
	//
	// so it is a weight on the missing fraction, not a multiplier on the
	// level. With two dependencies and one missing, 1.0 gives 0.5 and 0.5
	// gives 0.75. To multiply the level by m when one of n dependencies is
	// lost, configure n*(1-m); "halve on one of two" is 1.0.
	DegradationFactor float64 `yaml:"degradation_factor" json:"degradation_factor" env:"DEGRADATION_FACTOR" envDefault:"1.0"`

	// PerformanceFloor is the lowest level of a capability that is still
	// enabled.
	PerformanceFloor float64 `yaml:"performance_floor" json:"performance_floor" env:"PERFORMANCE_FLOOR" envDefault:"0.1"`

	// CriticalAvailabilityTarget is the share of critical capabilities that
	// must stay enabled before recommendations are issued regardless of
	// the failure ratio.
	CriticalAvailabilityTarget float64 `yaml:"critical_availability_target" json:"critical_availability_target" env:"CRITICAL_AVAILABILITY_TARGET" envDefault:"0.5"`
}

// DefaultPolicy returns the stock thresholds.
func DefaultPolicy() Policy {
	return Policy{
		GlobalFailureThreshold:     0.5,
		DegradationFactor:          1.0,
		PerformanceFloor:           0.1,
		CriticalAvailabilityTarget: 0.5,
	}
}

// Validate checks every threshold is inside its range.
func (p Policy) Validate() error {
	switch {
	case p.GlobalFailureThreshold <= 0 || p.GlobalFailureThreshold > 1:
		return sserr.Newf(sserr.CodeValidationRange,
			"degradation: global_failure_threshold must be in (0, 1], got %v", p.GlobalFailureThreshold)
	case p.DegradationFactor <= 0 || p.DegradationFactor > 1:
		return sserr.Newf(sserr.CodeValidationRange,
			"degradation: degradation_factor must be in (0, 1], got %v", p.DegradationFactor)
	case p.PerformanceFloor <= 0 || p.PerformanceFloor > 1:
		return sserr.Newf(sserr.CodeValidationRange,
			"degradation: performance_floor must be in (0, 1], got %v", p.PerformanceFloor)
	case p.CriticalAvailabilityTarget < 0 || p.CriticalAvailabilityTarget > 1:
		return sserr.Newf(sserr.CodeValidationRange,
			"degradation: critical_availability_target must be in [0, 1], got %v", p.CriticalAvailabilityTarget)
	}
	return nil
}

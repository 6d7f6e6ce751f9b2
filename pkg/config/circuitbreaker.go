package config

// CircuitBreakerConfig bounds one agent role's resource consumption. Zero
// values for a per-role override mean "inherit the system default" — callers
// resolve effective limits with ResolveCircuitBreakers.
type CircuitBreakerConfig struct {
	MaxIterations     int     `yaml:"max_iterations,omitempty" validate:"omitempty,min=1"`
	MaxToolCalls      int     `yaml:"max_tool_calls,omitempty" validate:"omitempty,min=1"`
	MaxTurns          int     `yaml:"max_turns,omitempty" validate:"omitempty,min=1"`
	MaxActiveDuration string  `yaml:"max_active_duration,omitempty"` // Go duration string, e.g. "30m"
	MaxSleepDuration  string  `yaml:"max_sleep_duration,omitempty"`
	WarningThreshold  float64 `yaml:"warning_threshold,omitempty" validate:"omitempty,min=0,max=1"`
}

// CircuitBreakersConfig is the top-level `circuit_breakers` YAML block:
// system-wide defaults plus per-role overrides.
type CircuitBreakersConfig struct {
	Defaults CircuitBreakerConfig            `yaml:"defaults"`
	Overrides map[string]CircuitBreakerConfig `yaml:"overrides,omitempty"`
}

// ResolveCircuitBreakers merges the system defaults with a role's override,
// field by field (zero fields on the override fall back to the default).
func ResolveCircuitBreakers(defaults CircuitBreakerConfig, override *CircuitBreakerConfig) CircuitBreakerConfig {
	resolved := defaults
	if override == nil {
		return resolved
	}
	if override.MaxIterations != 0 {
		resolved.MaxIterations = override.MaxIterations
	}
	if override.MaxToolCalls != 0 {
		resolved.MaxToolCalls = override.MaxToolCalls
	}
	if override.MaxTurns != 0 {
		resolved.MaxTurns = override.MaxTurns
	}
	if override.MaxActiveDuration != "" {
		resolved.MaxActiveDuration = override.MaxActiveDuration
	}
	if override.MaxSleepDuration != "" {
		resolved.MaxSleepDuration = override.MaxSleepDuration
	}
	if override.WarningThreshold != 0 {
		resolved.WarningThreshold = override.WarningThreshold
	}
	return resolved
}

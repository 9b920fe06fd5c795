package fmatrix

import (
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() *Config {
	return &Config{
		Estimator: EstimatorConfig{
			Precondition:  true,
			Rank2Truncate: true,
			Solver:        "seven",
			Residual:      "symmetric",
			InlierSigma:   DefaultInlierSigma,
			Workers:       1,
		},
		Sampling: SamplingConfig{
			MaxSamples:      500,
			Adaptive:        true,
			Confidence:      0.99,
			OutlierFraction: 0.5,
		},
		Tolerances: DefaultTolerances(),
		MQTT: MQTTConfig{
			PublishPrefix: "lmedsq",
			ClientID:      "lmedsq",
		},
	}
}

// LoadConfig loads the configuration from a YAML file.
// Fields missing from the file keep their DefaultConfig values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks every field for a usable value
func (c *Config) Validate() error {
	switch c.Estimator.Solver {
	case "seven", "eight":
	default:
		return fmt.Errorf("estimator.solver must be seven or eight, got %q", c.Estimator.Solver)
	}
	switch c.Estimator.Residual {
	case "symmetric", "sampson":
	default:
		return fmt.Errorf("estimator.residual must be symmetric or sampson, got %q", c.Estimator.Residual)
	}
	if c.Estimator.InlierSigma <= 0 {
		return fmt.Errorf("estimator.inlierSigma must be positive")
	}
	if c.Estimator.Workers < 0 {
		return fmt.Errorf("estimator.workers must not be negative")
	}

	if c.Sampling.MaxSamples < 1 {
		return fmt.Errorf("sampling.maxSamples must be at least 1")
	}
	if c.Sampling.Adaptive {
		if c.Sampling.Confidence <= 0 || c.Sampling.Confidence >= 1 {
			return fmt.Errorf("sampling.confidence must be in (0, 1)")
		}
		if c.Sampling.OutlierFraction < 0 || c.Sampling.OutlierFraction >= 1 {
			return fmt.Errorf("sampling.outlierFraction must be in [0, 1)")
		}
	}

	if c.Tolerances.LineNormal < 0 || c.Tolerances.Spread < 0 || c.Tolerances.Singular < 0 {
		return fmt.Errorf("tolerances must not be negative")
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, sc := range c.Sources {
		if sc.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if sc.Topic == "" {
			return fmt.Errorf("sources[%d].topic is required for %s", i, sc.ID)
		}
		if seen[sc.ID] {
			return fmt.Errorf("sources[%d].id %q is duplicated", i, sc.ID)
		}
		seen[sc.ID] = true
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// BuildEstimator wires the solver, sampler and evaluator named in config
// into a ready estimator. logger may be nil.
func BuildEstimator(config *Config, logger *log.Logger) (*Estimator, error) {
	solver, err := NewMinimalSolver(config.Estimator.Solver, config.Tolerances)
	if err != nil {
		return nil, err
	}
	sampler := NewRandomSampler(config.Sampling)
	return NewEstimator(config.Estimator, solver, sampler,
		WithTolerances(config.Tolerances),
		WithLogger(logger),
	), nil
}

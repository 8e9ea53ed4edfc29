// Package compose loads and validates compose definitions: the declarative
// graph of named agent services, their dependency and delegation edges,
// restart policy, and shared-memory configuration.
package compose

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RestartCondition enumerates when the health monitor may restart a service.
type RestartCondition string

const (
	RestartNone      RestartCondition = "none"
	RestartOnFailure RestartCondition = "on-failure"
	RestartAlways    RestartCondition = "always"
)

// RestartPolicy governs whether and how often a dead service is restarted.
type RestartPolicy struct {
	Condition    RestartCondition `yaml:"condition"`
	MaxRetries   int              `yaml:"max_retries"`
	DelaySeconds int              `yaml:"delay_seconds"`
}

// DelegateSinkConfig wires a service's output into one or more downstream
// inboxes, with backpressure and circuit breaker settings for each edge.
type DelegateSinkConfig struct {
	Type                       string      `yaml:"type"`
	Target                     TargetList  `yaml:"target"`
	KeepExistingSinks          bool        `yaml:"keep_existing_sinks"`
	QueueSize                  int         `yaml:"queue_size"`
	TimeoutSeconds             float64     `yaml:"timeout_seconds"`
	CircuitBreakerThreshold    *int        `yaml:"circuit_breaker_threshold"`
	CircuitBreakerResetSeconds float64     `yaml:"circuit_breaker_reset_seconds"`
}

// TargetList accepts either a single service name or a list in YAML —
// `target: b` and `target: [b, c]` both decode into the same shape.
type TargetList []string

// UnmarshalYAML implements the single-or-list decoding.
func (t *TargetList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var s string
		if err := value.Decode(&s); err != nil {
			return err
		}
		*t = TargetList{s}
		return nil
	}
	var list []string
	if err := value.Decode(&list); err != nil {
		return err
	}
	*t = TargetList(list)
	return nil
}

// ServiceConfig is one entry under spec.services in the compose YAML.
type ServiceConfig struct {
	Role        string              `yaml:"role"`
	DependsOn   []string            `yaml:"depends_on"`
	Sink        *DelegateSinkConfig `yaml:"sink"`
	Restart     RestartPolicy       `yaml:"restart"`
	Environment map[string]string   `yaml:"environment"`
}

// SharedMemoryConfig configures a store shared across every service in the
// compose definition.
type SharedMemoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	StorePath   string `yaml:"store_path"`
	MaxMemories int    `yaml:"max_memories"`
}

// ComposeSpec is the `spec:` block of the compose YAML.
type ComposeSpec struct {
	Services     map[string]ServiceConfig `yaml:"services"`
	SharedMemory SharedMemoryConfig       `yaml:"shared_memory"`
}

// ComposeMetadata is the `metadata:` block.
type ComposeMetadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// ComposeDefinition is the top-level decoded compose file.
type ComposeDefinition struct {
	APIVersion string          `yaml:"apiVersion"`
	Kind       string          `yaml:"kind"`
	Metadata   ComposeMetadata `yaml:"metadata"`
	Spec       ComposeSpec     `yaml:"spec"`
}

// Load reads and decodes a compose YAML file, then validates its graph.
// Validation errors are returned as *ValidationError; never panics, never
// leaves a partially-valid definition for the caller to act on.
func Load(path string) (*ComposeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file %s: %w", path, err)
	}

	var def ComposeDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse compose file %s: %w", path, err)
	}

	if _, err := Validate(&def); err != nil {
		return nil, err
	}

	return &def, nil
}

// DefaultedServiceConfig fills in the documented defaults for a service's
// sink and restart blocks. Called once per service at build time so every
// downstream consumer sees concrete values rather than zero values.
func DefaultedServiceConfig(svc ServiceConfig) ServiceConfig {
	if svc.Sink != nil {
		if svc.Sink.QueueSize == 0 {
			svc.Sink.QueueSize = 100
		}
		if svc.Sink.TimeoutSeconds == 0 {
			svc.Sink.TimeoutSeconds = 60
		}
		if svc.Sink.CircuitBreakerResetSeconds == 0 {
			svc.Sink.CircuitBreakerResetSeconds = 60
		}
	}
	if svc.Restart.Condition == "" {
		svc.Restart.Condition = RestartNone
	}
	return svc
}

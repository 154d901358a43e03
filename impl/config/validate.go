package config

import (
	"fmt"
	"time"
)

// Backend names
const (
	DockerBackend   = "docker"
	RegistryBackend = "registry"
)

// Validate checks the merged configuration before any fetch starts.
func Validate() error {
	switch config.Backend {
	case DockerBackend, RegistryBackend:
	default:
		return fmt.Errorf("unknown backend %q, expected %q or %q", config.Backend, DockerBackend, RegistryBackend)
	}
	if config.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", config.Concurrency)
	}
	if config.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", config.MaxAttempts)
	}
	if config.RetryBackoff != "" {
		if _, err := time.ParseDuration(config.RetryBackoff); err != nil {
			return fmt.Errorf("invalid retry backoff %q: %w", config.RetryBackoff, err)
		}
	}
	if config.Backend == RegistryBackend && config.ImagePath == "" {
		return fmt.Errorf("the %q backend requires an image path", RegistryBackend)
	}
	if config.StatusPort < 0 || config.StatusPort > 65535 {
		return fmt.Errorf("invalid status port: %d", config.StatusPort)
	}
	for _, reg := range config.Registries {
		if reg.Name == "" {
			return fmt.Errorf("registry entry with no name")
		}
		if reg.Scheme != "" && reg.Scheme != "http" && reg.Scheme != "https" {
			return fmt.Errorf("invalid scheme %q for registry %s", reg.Scheme, reg.Name)
		}
	}
	return nil
}

// RetryBackoffDuration returns the parsed retry backoff, or zero if unset or invalid.
func RetryBackoffDuration() time.Duration {
	d, err := time.ParseDuration(config.RetryBackoff)
	if err != nil {
		return 0
	}
	return d
}

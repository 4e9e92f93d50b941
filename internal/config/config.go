package config

import (
	"fmt"
	"time"
)

// Config is the root sandboxd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Temporal  TemporalConfig  `koanf:"temporal"`
	NATS      NATSConfig      `koanf:"nats"`
	Provider  ProviderConfig  `koanf:"provider"`
	Reasoning ReasoningConfig `koanf:"reasoning"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds the health/metrics HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// TemporalConfig holds the Temporal connection configuration.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// NATSConfig holds the progress-channel transport configuration.
type NATSConfig struct {
	URL string `koanf:"url"`
}

// ProviderConfig holds the sandbox provider configuration.
type ProviderConfig struct {
	BaseURL        string   `koanf:"base_url"`
	APIKey         Secret   `koanf:"api_key"`
	RequestTimeout Duration `koanf:"request_timeout"`
	SandboxTimeout Duration `koanf:"sandbox_timeout"`
	MaxPerTenant   int64    `koanf:"max_per_tenant"`
}

// ReasoningConfig holds the reasoning-service client configuration.
type ReasoningConfig struct {
	BaseURL           string  `koanf:"base_url"`
	APIKey            Secret  `koanf:"api_key"`
	Model             string  `koanf:"model"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// LoggingConfig holds logger construction options.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Default returns the configuration defaults applied before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8093,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Temporal: TemporalConfig{
			HostPort:  "localhost:7233",
			Namespace: "default",
			TaskQueue: "task-execution-queue",
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Provider: ProviderConfig{
			BaseURL:        "http://localhost:8200",
			RequestTimeout: Duration(5 * time.Minute),
			SandboxTimeout: Duration(10 * time.Minute),
			MaxPerTenant:   2,
		},
		Reasoning: ReasoningConfig{
			BaseURL:           "https://api.openai.com/v1",
			Model:             "gpt-4o-mini",
			RequestsPerSecond: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate rejects configurations sandboxd cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.http_port %d out of range", c.Server.Port)
	}
	if c.Temporal.HostPort == "" {
		return fmt.Errorf("temporal.host_port is required")
	}
	if c.Temporal.TaskQueue == "" {
		return fmt.Errorf("temporal.task_queue is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Provider.MaxPerTenant <= 0 {
		return fmt.Errorf("provider.max_per_tenant must be positive")
	}
	if c.Reasoning.Model == "" {
		return fmt.Errorf("reasoning.model is required")
	}
	return nil
}

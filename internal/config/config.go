// Package config loads storyforge configuration from YAML and environment.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Config holds the complete storyforge configuration.
type Config struct {
	Server       ServerConfig       `koanf:"server"`
	Provider     ProviderConfig     `koanf:"provider"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Cache        CacheConfig        `koanf:"cache"`
	Output       OutputConfig       `koanf:"output"`
	Tools        ToolsConfig        `koanf:"tools"`
	Events       EventsConfig       `koanf:"events"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	Logging      LoggingConfig      `koanf:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// ProviderConfig selects and tunes the model backend.
type ProviderConfig struct {
	Backend       string  `koanf:"backend"` // ollama, openai or anthropic
	URL           string  `koanf:"url"`
	APIKey        Secret  `koanf:"api_key"`
	AnalysisModel string  `koanf:"analysis_model"`
	PlanningModel string  `koanf:"planning_model"`
	CodingModel   string  `koanf:"coding_model"`
	RateLimit     float64 `koanf:"rate_limit"` // requests per second
	Burst         int     `koanf:"burst"`
}

// OrchestratorConfig bounds the generation pipeline.
type OrchestratorConfig struct {
	MaxRounds        int      `koanf:"max_rounds"`
	MaxRetries       int      `koanf:"max_retries"`
	RetryBackoff     Duration `koanf:"retry_backoff"`
	FileTimeout      Duration `koanf:"file_timeout"`
	MaxConcurrency   int      `koanf:"max_concurrency"` // 0 = one goroutine per file
	CacheTTL         Duration `koanf:"cache_ttl"`
	ReferencePattern string   `koanf:"reference_pattern"`
}

// CacheConfig selects the memoization store.
type CacheConfig struct {
	Backend string `koanf:"backend"` // memory, file or sqlite
	Dir     string `koanf:"dir"`
	Path    string `koanf:"path"`
}

// OutputConfig controls where generated artifacts land.
type OutputConfig struct {
	Dir              string `koanf:"dir"`
	GitCommit        bool   `koanf:"git_commit"`
	GitAuthor        string `koanf:"git_author"`
	Secrets          string `koanf:"secrets"`           // off, warn or redact
	SecretsAllowlist string `koanf:"secrets_allowlist"` // TOML file with [allowlist] paths/regexes
}

// ToolsConfig configures tools the coder may call mid-generation.
type ToolsConfig struct {
	StableDiffusionEnabled bool   `koanf:"stable_diffusion_enabled"`
	StableDiffusionURL     string `koanf:"stable_diffusion_url"`
	StableDiffusionSteps   int    `koanf:"stable_diffusion_steps"`
	StableDiffusionWidth   int    `koanf:"stable_diffusion_width"`
	StableDiffusionHeight  int    `koanf:"stable_diffusion_height"`
}

// EventsConfig configures progress publishing over NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"` // grpc or http
	ServiceName string  `koanf:"service_name"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// LoggingConfig is the user-facing subset of logging settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	cfg.Cache.Dir = expandHome(cfg.Cache.Dir)
	cfg.Cache.Path = expandHome(cfg.Cache.Path)
	return cfg
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Provider.Backend == "" {
		cfg.Provider.Backend = "ollama"
	}
	if cfg.Provider.URL == "" && cfg.Provider.Backend == "ollama" {
		cfg.Provider.URL = "http://localhost:11434"
	}
	if cfg.Provider.AnalysisModel == "" {
		cfg.Provider.AnalysisModel = "llama3.2:3b"
	}
	if cfg.Provider.PlanningModel == "" {
		cfg.Provider.PlanningModel = cfg.Provider.AnalysisModel
	}
	if cfg.Provider.CodingModel == "" {
		cfg.Provider.CodingModel = "qwen2.5-coder:3b"
	}
	if cfg.Provider.RateLimit == 0 {
		cfg.Provider.RateLimit = 5
	}
	if cfg.Provider.Burst == 0 {
		cfg.Provider.Burst = 2
	}

	if cfg.Orchestrator.MaxRounds == 0 {
		cfg.Orchestrator.MaxRounds = 10
	}
	if cfg.Orchestrator.MaxRetries == 0 {
		cfg.Orchestrator.MaxRetries = 3
	}
	if cfg.Orchestrator.RetryBackoff == 0 {
		cfg.Orchestrator.RetryBackoff = Duration(5 * time.Second)
	}
	if cfg.Orchestrator.FileTimeout == 0 {
		cfg.Orchestrator.FileTimeout = Duration(2 * time.Minute)
	}
	if cfg.Orchestrator.CacheTTL == 0 {
		cfg.Orchestrator.CacheTTL = Duration(time.Hour)
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = "~/.cache/storyforge"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = "~/.cache/storyforge/cache.db"
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./generated"
	}
	if cfg.Output.GitAuthor == "" {
		cfg.Output.GitAuthor = "storyforge"
	}
	if cfg.Output.Secrets == "" {
		cfg.Output.Secrets = "warn"
	}

	if cfg.Tools.StableDiffusionURL == "" {
		cfg.Tools.StableDiffusionURL = "http://localhost:7860/sdapi/v1/txt2img"
	}
	if cfg.Tools.StableDiffusionSteps == 0 {
		cfg.Tools.StableDiffusionSteps = 20
	}
	if cfg.Tools.StableDiffusionWidth == 0 {
		cfg.Tools.StableDiffusionWidth = 512
	}
	if cfg.Tools.StableDiffusionHeight == 0 {
		cfg.Tools.StableDiffusionHeight = 512
	}

	if cfg.Events.NATSURL == "" {
		cfg.Events.NATSURL = "nats://127.0.0.1:4222"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "storyforge"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "storyforge"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	switch c.Provider.Backend {
	case "ollama":
		if c.Provider.URL == "" {
			return errors.New("provider.url is required for the ollama backend")
		}
	case "openai", "anthropic":
		if !c.Provider.APIKey.IsSet() {
			return fmt.Errorf("provider.api_key is required for the %s backend", c.Provider.Backend)
		}
	default:
		return fmt.Errorf("unknown provider backend %q (want ollama, openai or anthropic)", c.Provider.Backend)
	}
	if c.Provider.RateLimit < 0 || c.Provider.Burst < 0 {
		return errors.New("provider rate_limit and burst must not be negative")
	}

	if c.Orchestrator.MaxRounds < 1 {
		return fmt.Errorf("orchestrator.max_rounds must be >= 1, got %d", c.Orchestrator.MaxRounds)
	}
	if c.Orchestrator.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be >= 0, got %d", c.Orchestrator.MaxRetries)
	}
	if c.Orchestrator.MaxConcurrency < 0 {
		return fmt.Errorf("orchestrator.max_concurrency must be >= 0, got %d", c.Orchestrator.MaxConcurrency)
	}
	if p := c.Orchestrator.ReferencePattern; p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return fmt.Errorf("invalid orchestrator.reference_pattern: %w", err)
		}
		if re.NumSubexp() < 1 {
			return errors.New("orchestrator.reference_pattern needs a capture group for the referenced name")
		}
	}

	switch c.Cache.Backend {
	case "memory", "file", "sqlite":
	default:
		return fmt.Errorf("unknown cache backend %q (want memory, file or sqlite)", c.Cache.Backend)
	}

	switch c.Output.Secrets {
	case "off", "warn", "redact":
	default:
		return fmt.Errorf("unknown output.secrets mode %q (want off, warn or redact)", c.Output.Secrets)
	}

	if c.Events.Enabled && c.Events.NATSURL == "" {
		return errors.New("events.nats_url is required when events are enabled")
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			return fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol)
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

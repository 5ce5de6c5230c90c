// Package config provides the orchestration configuration: retry policy,
// model defaults, provider credentials, storage and listener addresses, and
// per-agent sampling overrides.
//
// Values come from DefaultCoreConfig, then an optional YAML file (Load), then
// COWRITE_* environment variables (ApplyEnv). Only cmd/cowrited reads the
// environment.
package config

import (
	"fmt"
	"sync"
	"time"
)

// CoreConfig holds orchestration configuration.
type CoreConfig struct {
	// Retry policy
	MaxAttempts      int `json:"max_attempts"`
	BackoffInitialMS int `json:"backoff_initial_ms"`
	BackoffMaxMS     int `json:"backoff_max_ms"`

	// Model defaults
	LLMTimeout         int     `json:"llm_timeout"` // seconds
	DefaultModel       string  `json:"default_model"`
	DefaultTemperature float64 `json:"default_temperature"`
	DefaultMaxTokens   int     `json:"default_max_tokens"`

	// Providers
	GeminiAPIKey  string `json:"gemini_api_key"`
	GeminiModel   string `json:"gemini_model"`
	OpenAIBaseURL string `json:"openai_base_url"`
	OpenAIAPIKey  string `json:"openai_api_key"`
	OpenAIModel   string `json:"openai_model"`

	// Circuit breaker per provider
	CircuitFailureThreshold int `json:"circuit_failure_threshold"`
	CircuitResetSeconds     int `json:"circuit_reset_seconds"`

	// Pipeline behavior
	BatchConcurrency     int  `json:"batch_concurrency"`
	RepairOnParseFailure bool `json:"repair_on_parse_failure"`
	// RunsPerMinute caps RunStage calls per project on the gRPC surface.
	// Zero disables the limit.
	RunsPerMinute int `json:"runs_per_minute"`

	// Infrastructure
	DatabasePath   string `json:"database_path"`
	GRPCAddress    string `json:"grpc_address"`
	MetricsAddress string `json:"metrics_address"`
	OTLPEndpoint   string `json:"otlp_endpoint"`

	// Logging
	LogLevel string `json:"log_level"`

	// Agents holds per-agent overrides keyed by agent name.
	Agents map[string]*AgentConfig `json:"agents,omitempty"`
}

// DefaultCoreConfig returns a CoreConfig with default values.
func DefaultCoreConfig() *CoreConfig {
	return &CoreConfig{
		MaxAttempts:      3,
		BackoffInitialMS: 200,
		BackoffMaxMS:     2000,

		LLMTimeout:         120,
		DefaultModel:       "gemini-2.5-flash",
		DefaultTemperature: 0.3,
		DefaultMaxTokens:   8192,

		GeminiModel:   "gemini-2.5-flash",
		OpenAIBaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		OpenAIModel:   "qwen-plus",

		CircuitFailureThreshold: 5,
		CircuitResetSeconds:     30,

		BatchConcurrency:     5,
		RepairOnParseFailure: false,
		RunsPerMinute:        30,

		DatabasePath:   "cowrite.db",
		GRPCAddress:    ":50051",
		MetricsAddress: ":9090",

		LogLevel: "INFO",

		Agents: make(map[string]*AgentConfig),
	}
}

// CoreConfigFromMap creates CoreConfig from a map.
// Unknown keys are ignored; numbers may be int or float64.
func CoreConfigFromMap(config map[string]any) *CoreConfig {
	c := DefaultCoreConfig()

	setInt(config, "max_attempts", &c.MaxAttempts)
	setInt(config, "backoff_initial_ms", &c.BackoffInitialMS)
	setInt(config, "backoff_max_ms", &c.BackoffMaxMS)

	setInt(config, "llm_timeout", &c.LLMTimeout)
	setString(config, "default_model", &c.DefaultModel)
	setFloat(config, "default_temperature", &c.DefaultTemperature)
	setInt(config, "default_max_tokens", &c.DefaultMaxTokens)

	setString(config, "gemini_api_key", &c.GeminiAPIKey)
	setString(config, "gemini_model", &c.GeminiModel)
	setString(config, "openai_base_url", &c.OpenAIBaseURL)
	setString(config, "openai_api_key", &c.OpenAIAPIKey)
	setString(config, "openai_model", &c.OpenAIModel)

	setInt(config, "circuit_failure_threshold", &c.CircuitFailureThreshold)
	setInt(config, "circuit_reset_seconds", &c.CircuitResetSeconds)

	setInt(config, "batch_concurrency", &c.BatchConcurrency)
	if v, ok := config["repair_on_parse_failure"].(bool); ok {
		c.RepairOnParseFailure = v
	}

	setInt(config, "runs_per_minute", &c.RunsPerMinute)

	setString(config, "database_path", &c.DatabasePath)
	setString(config, "grpc_address", &c.GRPCAddress)
	setString(config, "metrics_address", &c.MetricsAddress)
	setString(config, "otlp_endpoint", &c.OTLPEndpoint)

	setString(config, "log_level", &c.LogLevel)

	if agents, ok := config["agents"].(map[string]any); ok {
		for name, raw := range agents {
			if m, ok := raw.(map[string]any); ok {
				c.Agents[name] = AgentConfigFromMap(name, m)
			}
		}
	}

	return c
}

func setInt(m map[string]any, key string, dst *int) {
	switch v := m[key].(type) {
	case int:
		*dst = v
	case int64:
		*dst = int(v)
	case float64:
		*dst = int(v)
	}
}

func setFloat(m map[string]any, key string, dst *float64) {
	switch v := m[key].(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	}
}

func setString(m map[string]any, key string, dst *string) {
	if v, ok := m[key].(string); ok {
		*dst = v
	}
}

// ToMap converts config to a map. Credentials are omitted.
func (c *CoreConfig) ToMap() map[string]any {
	agents := make(map[string]any, len(c.Agents))
	for name, a := range c.Agents {
		agents[name] = a.ToMap()
	}
	return map[string]any{
		"max_attempts":              c.MaxAttempts,
		"backoff_initial_ms":        c.BackoffInitialMS,
		"backoff_max_ms":            c.BackoffMaxMS,
		"llm_timeout":               c.LLMTimeout,
		"default_model":             c.DefaultModel,
		"default_temperature":       c.DefaultTemperature,
		"default_max_tokens":        c.DefaultMaxTokens,
		"gemini_model":              c.GeminiModel,
		"openai_base_url":           c.OpenAIBaseURL,
		"openai_model":              c.OpenAIModel,
		"circuit_failure_threshold": c.CircuitFailureThreshold,
		"circuit_reset_seconds":     c.CircuitResetSeconds,
		"batch_concurrency":         c.BatchConcurrency,
		"repair_on_parse_failure":   c.RepairOnParseFailure,
		"runs_per_minute":           c.RunsPerMinute,
		"database_path":             c.DatabasePath,
		"grpc_address":              c.GRPCAddress,
		"metrics_address":           c.MetricsAddress,
		"otlp_endpoint":             c.OTLPEndpoint,
		"log_level":                 c.LogLevel,
		"agents":                    agents,
	}
}

// Validate checks config invariants.
func (c *CoreConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.BackoffInitialMS < 0 || c.BackoffMaxMS < c.BackoffInitialMS {
		return fmt.Errorf("backoff must satisfy 0 <= backoff_initial_ms <= backoff_max_ms, got %d and %d", c.BackoffInitialMS, c.BackoffMaxMS)
	}
	if c.DefaultTemperature < 0 || c.DefaultTemperature > 2 {
		return fmt.Errorf("default_temperature must be in [0, 2], got %v", c.DefaultTemperature)
	}
	if c.DefaultMaxTokens <= 0 {
		return fmt.Errorf("default_max_tokens must be positive")
	}
	if c.BatchConcurrency < 1 {
		return fmt.Errorf("batch_concurrency must be at least 1")
	}
	for name, a := range c.Agents {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("agents.%s: %w", name, err)
		}
	}
	return nil
}

// BackoffInitial returns the first retry delay.
func (c *CoreConfig) BackoffInitial() time.Duration {
	return time.Duration(c.BackoffInitialMS) * time.Millisecond
}

// BackoffMax returns the retry delay cap.
func (c *CoreConfig) BackoffMax() time.Duration {
	return time.Duration(c.BackoffMaxMS) * time.Millisecond
}

// Agent returns the override for name, or nil.
func (c *CoreConfig) Agent(name string) *AgentConfig {
	if c.Agents == nil {
		return nil
	}
	return c.Agents[name]
}

// Global config instance (thread-safe)
var (
	globalConfig *CoreConfig
	configMu     sync.RWMutex
)

// GetCoreConfig returns the global core config.
// Returns default config if not set.
func GetCoreConfig() *CoreConfig {
	configMu.RLock()
	defer configMu.RUnlock()

	if globalConfig == nil {
		return DefaultCoreConfig()
	}
	return globalConfig
}

// SetCoreConfig sets the global core config.
// Called by cmd/cowrited after loading.
func SetCoreConfig(config *CoreConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = config
}

// ResetCoreConfig resets the global config (for testing).
func ResetCoreConfig() {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = nil
}

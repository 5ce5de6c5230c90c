package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults.
func Load(path string) (*CoreConfig, error) {
	if path == "" {
		return DefaultCoreConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes over the defaults.
func Parse(data []byte) (*CoreConfig, error) {
	raw := make(map[string]any)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c := CoreConfigFromMap(raw)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// envKeys maps COWRITE_* variables to config keys.
var envKeys = map[string]string{
	"COWRITE_GEMINI_API_KEY":          "gemini_api_key",
	"COWRITE_GEMINI_MODEL":            "gemini_model",
	"COWRITE_OPENAI_BASE_URL":         "openai_base_url",
	"COWRITE_OPENAI_API_KEY":          "openai_api_key",
	"COWRITE_OPENAI_MODEL":            "openai_model",
	"COWRITE_DATABASE_PATH":           "database_path",
	"COWRITE_GRPC_ADDRESS":            "grpc_address",
	"COWRITE_METRICS_ADDRESS":         "metrics_address",
	"COWRITE_OTLP_ENDPOINT":           "otlp_endpoint",
	"COWRITE_LOG_LEVEL":               "log_level",
	"COWRITE_MAX_ATTEMPTS":            "max_attempts",
	"COWRITE_REPAIR_ON_PARSE_FAILURE": "repair_on_parse_failure",
}

// ApplyEnv overlays environment variables onto c. lookup is normally
// os.LookupEnv.
func ApplyEnv(c *CoreConfig, lookup func(string) (string, bool)) error {
	for env, key := range envKeys {
		v, ok := lookup(env)
		if !ok || v == "" {
			continue
		}
		switch key {
		case "max_attempts":
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			c.MaxAttempts = n
		case "repair_on_parse_failure":
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
			c.RepairOnParseFailure = b
		default:
			if dst := c.stringField(key); dst != nil {
				*dst = v
			}
		}
	}
	return nil
}

func (c *CoreConfig) stringField(key string) *string {
	switch key {
	case "gemini_api_key":
		return &c.GeminiAPIKey
	case "gemini_model":
		return &c.GeminiModel
	case "openai_base_url":
		return &c.OpenAIBaseURL
	case "openai_api_key":
		return &c.OpenAIAPIKey
	case "openai_model":
		return &c.OpenAIModel
	case "database_path":
		return &c.DatabasePath
	case "grpc_address":
		return &c.GRPCAddress
	case "metrics_address":
		return &c.MetricsAddress
	case "otlp_endpoint":
		return &c.OTLPEndpoint
	case "log_level":
		return &c.LogLevel
	}
	return nil
}

package config

import "fmt"

// AgentConfig overrides sampling and retry settings for one agent. Zero
// values mean "inherit from CoreConfig or the agent's built-in default".
type AgentConfig struct {
	Name        string   `json:"name"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	MaxAttempts int      `json:"max_attempts,omitempty"`
}

// AgentConfigFromMap builds an AgentConfig from a decoded YAML or JSON map.
func AgentConfigFromMap(name string, m map[string]any) *AgentConfig {
	a := &AgentConfig{Name: name}
	setString(m, "model", &a.Model)
	if _, ok := m["temperature"]; ok {
		var t float64
		setFloat(m, "temperature", &t)
		a.Temperature = &t
	}
	setInt(m, "max_tokens", &a.MaxTokens)
	setInt(m, "max_attempts", &a.MaxAttempts)
	return a
}

// Validate validates the override.
func (a *AgentConfig) Validate() error {
	if a.Temperature != nil && (*a.Temperature < 0 || *a.Temperature > 2) {
		return fmt.Errorf("temperature must be in [0, 2], got %v", *a.Temperature)
	}
	if a.MaxTokens < 0 {
		return fmt.Errorf("max_tokens must not be negative")
	}
	if a.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	return nil
}

// ToMap converts the override to a map, omitting unset fields.
func (a *AgentConfig) ToMap() map[string]any {
	m := map[string]any{"name": a.Name}
	if a.Model != "" {
		m["model"] = a.Model
	}
	if a.Temperature != nil {
		m["temperature"] = *a.Temperature
	}
	if a.MaxTokens > 0 {
		m["max_tokens"] = a.MaxTokens
	}
	if a.MaxAttempts > 0 {
		m["max_attempts"] = a.MaxAttempts
	}
	return m
}

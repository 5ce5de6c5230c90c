package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
)

// DashScopeBaseURL is Qwen's OpenAI-compatible endpoint.
const DashScopeBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"

// ChatCompletionsConfig configures a ChatCompletionsClient.
type ChatCompletionsConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// ChatCompletionsClient speaks the OpenAI chat completions protocol, which
// Qwen and most relays also serve.
type ChatCompletionsClient struct {
	name       string
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewChatCompletionsClient creates a client. BaseURL may omit the /v1 suffix.
func NewChatCompletionsClient(cfg ChatCompletionsConfig) (*ChatCompletionsClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", cfg.Name)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DashScopeBaseURL
	}
	if cfg.Name == "" {
		cfg.Name = "openai-compatible"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return &ChatCompletionsClient{
		name:       cfg.Name,
		baseURL:    base,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Name implements Provider.
func (c *ChatCompletionsClient) Name() string { return c.name }

// Invoke implements Client.
func (c *ChatCompletionsClient) Invoke(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	model := params.Model
	if model == "" || (strings.HasPrefix(model, "gemini") && c.model != "") {
		model = c.model
	}
	start := time.Now()
	text, err := c.complete(ctx, chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: params.TemperatureOr(DefaultTemperature),
		MaxTokens:   params.MaxTokensOr(DefaultMaxTokens),
	})
	observability.RecordLLMCall(c.name, model, callStatus(err), int(time.Since(start).Milliseconds()))
	if err != nil {
		return "", failures.ModelInvocation(c.name, err)
	}
	return text, nil
}

func (c *ChatCompletionsClient) complete(ctx context.Context, body chatRequest) (string, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("API request failed with status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

var _ Provider = (*ChatCompletionsClient)(nil)

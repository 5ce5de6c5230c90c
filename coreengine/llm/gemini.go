package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeeves-cluster-organization/cowrite/coreengine/failures"
	"github.com/jeeves-cluster-organization/cowrite/coreengine/observability"
	"google.golang.org/genai"
)

// DefaultGeminiModel is used when neither config nor params name a model.
const DefaultGeminiModel = "gemini-2.5-flash"

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClient creates a GeminiClient.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Name implements Provider.
func (c *GeminiClient) Name() string { return "gemini" }

// Invoke implements Client.
func (c *GeminiClient) Invoke(ctx context.Context, prompt string, params SamplingParams) (string, error) {
	model := params.Model
	if model == "" {
		model = c.model
	}
	start := time.Now()

	temp := float32(params.TemperatureOr(DefaultTemperature))
	resp, err := c.client.Models.GenerateContent(ctx,
		model,
		[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		&genai.GenerateContentConfig{
			Temperature:     &temp,
			MaxOutputTokens: int32(params.MaxTokensOr(DefaultMaxTokens)),
		},
	)
	text, err := geminiText(resp, err)
	observability.RecordLLMCall(c.Name(), model, callStatus(err), int(time.Since(start).Milliseconds()))
	if err != nil {
		return "", failures.ModelInvocation(c.Name(), err)
	}
	return text, nil
}

func geminiText(resp *genai.GenerateContentResponse, err error) (string, error) {
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("no candidates returned")
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty candidate text")
	}
	return text, nil
}

func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

var _ Provider = (*GeminiClient)(nil)

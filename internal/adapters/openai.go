package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// completionTokenModels are the OpenAI model generations that replaced
// max_tokens with max_completion_tokens.
var completionTokenModels = map[string]bool{
	"o3":      true,
	"o3-mini": true,
	"o4-mini": true,
}

// webSearchModels are the models that accept the web_search tool.
var webSearchModels = map[string]bool{
	"gpt-4.1":                 true,
	"gpt-4.1-mini-2025-04-14": true,
}

// OpenAIAdapter builds chat-completion requests for OpenAI models.
type OpenAIAdapter struct {
	model string
}

func NewOpenAIAdapter(model string) *OpenAIAdapter {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAIAdapter{model: model}
}

func (a *OpenAIAdapter) ModelName() string            { return a.model }
func (a *OpenAIAdapter) ProviderName() string         { return "OpenAI" }
func (a *OpenAIAdapter) SupportedFeatures() []string  { return []string{"text", "images", "web_search"} }

func (a *OpenAIAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	req := Request{
		"model":       a.model,
		"messages":    chatMessages(systemPromptOr(cfg, "You are helpful."), input),
		"temperature": temperatureOr(cfg, 0.7),
	}

	// o-series models use the newer token-limit parameter name.
	if completionTokenModels[a.model] {
		req["max_completion_tokens"] = maxTokensOr(cfg, 512)
	} else {
		req["max_tokens"] = maxTokensOr(cfg, 512)
	}

	if enabled, _ := cfg.Extra["enableWebSearch"].(bool); enabled && webSearchModels[a.model] {
		req["tools"] = []any{
			map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        "web_search",
					"description": "Search the web for relevant information",
					"parameters": map[string]any{
						"type":       "object",
						"properties": map[string]any{},
						"required":   []any{},
					},
				},
			},
		}
	}

	return req
}

func (a *OpenAIAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}
	return Parsed{
		Output: choicesContent(response),
		Usage:  usageOf(response, "usage"),
		Raw:    response,
	}, nil
}

func (a *OpenAIAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *OpenAIAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(512),
		SystemPrompt: "You are a helpful assistant.",
		Extra:        map[string]any{"enableWebSearch": false},
	}
}

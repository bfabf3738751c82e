package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// GoogleAdapter builds generateContent requests for Gemini models.
type GoogleAdapter struct {
	model string
}

func NewGoogleAdapter(model string) *GoogleAdapter {
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &GoogleAdapter{model: model}
}

func (a *GoogleAdapter) ModelName() string           { return a.model }
func (a *GoogleAdapter) ProviderName() string        { return "Google Gemini" }
func (a *GoogleAdapter) SupportedFeatures() []string { return []string{"text", "images"} }

func (a *GoogleAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	return Request{
		"model": a.model,
		"contents": []any{
			map[string]any{
				"role":  "user",
				"parts": []any{map[string]any{"text": input}},
			},
		},
		"systemInstruction": map[string]any{
			"parts": []any{map[string]any{
				"text": systemPromptOr(cfg, "You are a helpful AI assistant."),
			}},
		},
		"generationConfig": map[string]any{
			"temperature":     temperatureOr(cfg, 0.7),
			"maxOutputTokens": maxTokensOr(cfg, 512),
		},
	}
}

// ParseResponse accepts the standardized choices shape first, then
// Gemini's native candidates format.
func (a *GoogleAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}

	if content := choicesContent(response); content != "" {
		return Parsed{Output: content, Usage: usageOf(response, "usage"), Raw: response}, nil
	}

	content := stringAt(response, "candidates", 0, "content", "parts", 0, "text")
	return Parsed{
		Output: content,
		Usage:  usageOf(response, "usageMetadata"),
		Raw:    response,
	}, nil
}

func (a *GoogleAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *GoogleAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(512),
		SystemPrompt: "You are Gemini, a helpful AI assistant.",
	}
}

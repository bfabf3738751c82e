package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// anthropicTokenLimits are per-model output-token ceilings. Requests are
// clamped so a generous user config never exceeds the model's limit.
var anthropicTokenLimits = map[string]int{
	"claude-3-7-sonnet-20250219": 16384,
	"claude-3-opus-20240229":     32768,
	"claude-3-sonnet-20240229":   16384,
	"claude-3-haiku-20240307":    4096,
}

// AnthropicAdapter builds messages-API requests for Anthropic models.
type AnthropicAdapter struct {
	model string
}

func NewAnthropicAdapter(model string) *AnthropicAdapter {
	return &AnthropicAdapter{model: model}
}

func (a *AnthropicAdapter) ModelName() string           { return a.model }
func (a *AnthropicAdapter) ProviderName() string        { return "Anthropic" }
func (a *AnthropicAdapter) SupportedFeatures() []string { return []string{"text"} }

func (a *AnthropicAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	limit, ok := anthropicTokenLimits[a.model]
	if !ok {
		limit = 4096
	}
	maxTokens := maxTokensOr(cfg, 1024)
	if maxTokens > limit {
		maxTokens = limit
	}

	return Request{
		"model":  a.model,
		"system": systemPromptOr(cfg, "You are Claude, a helpful AI assistant."),
		"messages": []any{
			map[string]any{"role": "user", "content": input},
		},
		"max_tokens":  maxTokens,
		"temperature": temperatureOr(cfg, 0.7),
	}
}

// ParseResponse accepts both the standardized choices shape (responses
// forwarded through an intermediary) and Anthropic's native content array.
func (a *AnthropicAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}

	if content := choicesContent(response); content != "" {
		return Parsed{Output: content, Usage: usageOf(response, "usage"), Raw: response}, nil
	}

	// Native format: content is an array of typed blocks.
	if blocks, ok := response["content"].([]any); ok {
		for _, b := range blocks {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := block["type"].(string); t == "text" {
				text, _ := block["text"].(string)
				return Parsed{Output: text, Usage: usageOf(response, "usage"), Raw: response}, nil
			}
		}
	}

	return Parsed{Output: "", Usage: map[string]any{}, Raw: response}, nil
}

func (a *AnthropicAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *AnthropicAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(4096),
		SystemPrompt: "You are Claude, a helpful AI assistant.",
	}
}

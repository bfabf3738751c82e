package adapters

import (
	"strings"

	"github.com/rmead777/agentflow/pkg/schema"
)

// DeepSeekAdapter builds chat-completion requests for DeepSeek models.
// Published names (deepseek-v3-0324, deepseek-r1) are mapped to the
// identifiers the API recognizes.
type DeepSeekAdapter struct {
	model string
}

func NewDeepSeekAdapter(model string) *DeepSeekAdapter {
	return &DeepSeekAdapter{model: strings.ToLower(model)}
}

func (a *DeepSeekAdapter) ModelName() string           { return a.model }
func (a *DeepSeekAdapter) ProviderName() string        { return "DeepSeek" }
func (a *DeepSeekAdapter) SupportedFeatures() []string { return []string{"text"} }

func (a *DeepSeekAdapter) apiModel() string {
	switch {
	case strings.Contains(a.model, "v3"):
		return "deepseek-chat"
	case strings.Contains(a.model, "r1"):
		return "deepseek-reasoner"
	default:
		return a.model
	}
}

func (a *DeepSeekAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	return Request{
		"model":       a.apiModel(),
		"messages":    chatMessages(systemPromptOr(cfg, "You are helpful."), input),
		"temperature": temperatureOr(cfg, 0.7),
		"max_tokens":  maxTokensOr(cfg, 512),
	}
}

func (a *DeepSeekAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}
	return Parsed{
		Output: choicesContent(response),
		Usage:  usageOf(response, "usage"),
		Raw:    response,
	}, nil
}

func (a *DeepSeekAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *DeepSeekAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(512),
		SystemPrompt: "You are a helpful assistant.",
	}
}

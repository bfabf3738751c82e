package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// grokAliases maps published model names (including legacy casing) to the
// identifiers the XAI API expects. Aliasing is the adapter's concern, not
// the registry's.
var grokAliases = map[string]string{
	"grok-3-beta":      "grok-3-latest",
	"grok-3-mini-beta": "grok-3-mini-latest",
	"Grok-3-beta":      "grok-3-latest",
	"Grok-3-mini-beta": "grok-3-mini-latest",
}

// XAIAdapter builds chat-completion requests for XAI Grok models.
type XAIAdapter struct {
	model string
}

func NewXAIAdapter(model string) *XAIAdapter {
	if canonical, ok := grokAliases[model]; ok {
		model = canonical
	}
	return &XAIAdapter{model: model}
}

func (a *XAIAdapter) ModelName() string           { return a.model }
func (a *XAIAdapter) ProviderName() string        { return "XAI" }
func (a *XAIAdapter) SupportedFeatures() []string { return []string{"text"} }

func (a *XAIAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	return Request{
		"model":       a.model,
		"messages":    chatMessages(systemPromptOr(cfg, "You are helpful."), input),
		"temperature": temperatureOr(cfg, 0.7),
		"max_tokens":  maxTokensOr(cfg, 512),
	}
}

func (a *XAIAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}
	return Parsed{
		Output: choicesContent(response),
		Usage:  usageOf(response, "usage"),
		Raw:    response,
	}, nil
}

func (a *XAIAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *XAIAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(512),
		SystemPrompt: "You are a helpful assistant.",
	}
}

package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// MistralAdapter builds chat-completion requests for Mistral models.
type MistralAdapter struct {
	model string
}

func NewMistralAdapter(model string) *MistralAdapter {
	if model == "" {
		model = "mistral-large"
	}
	return &MistralAdapter{model: model}
}

func (a *MistralAdapter) ModelName() string           { return a.model }
func (a *MistralAdapter) ProviderName() string        { return "Mistral" }
func (a *MistralAdapter) SupportedFeatures() []string { return []string{"text"} }

func (a *MistralAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	return Request{
		"model":       a.model,
		"messages":    chatMessages(systemPromptOr(cfg, "You are a helpful AI assistant."), input),
		"temperature": temperatureOr(cfg, 0.7),
		"max_tokens":  maxTokensOr(cfg, 512),
	}
}

func (a *MistralAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}
	return Parsed{
		Output: choicesContent(response),
		Usage:  usageOf(response, "usage"),
		Raw:    response,
	}, nil
}

func (a *MistralAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *MistralAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(512),
		SystemPrompt: "You are a helpful AI assistant.",
	}
}

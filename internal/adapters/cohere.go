package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// CohereAdapter builds chat requests for Cohere models. Cohere takes a
// single message string and a preamble instead of a message list.
type CohereAdapter struct {
	model string
}

func NewCohereAdapter(model string) *CohereAdapter {
	if model == "" {
		model = "command-r-plus"
	}
	return &CohereAdapter{model: model}
}

func (a *CohereAdapter) ModelName() string           { return a.model }
func (a *CohereAdapter) ProviderName() string        { return "Cohere" }
func (a *CohereAdapter) SupportedFeatures() []string { return []string{"text"} }

func (a *CohereAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	return Request{
		"model":       a.model,
		"message":     input,
		"preamble":    systemPromptOr(cfg, "You are a helpful AI assistant."),
		"temperature": temperatureOr(cfg, 0.7),
		"max_tokens":  maxTokensOr(cfg, 512),
	}
}

func (a *CohereAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}

	output := stringAt(response, "generations", 0, "text")
	if output == "" {
		// Intermediaries may have normalized to the choices shape.
		output = choicesContent(response)
	}

	usage := map[string]any{}
	if meta := mapAt(response, "meta"); meta != nil {
		if u, ok := meta["usage"].(map[string]any); ok {
			usage = u
		}
	}

	return Parsed{Output: output, Usage: usage, Raw: response}, nil
}

func (a *CohereAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *CohereAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(512),
		SystemPrompt: "You are a helpful AI assistant.",
	}
}

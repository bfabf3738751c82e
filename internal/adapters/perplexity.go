package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// PerplexityAdapter builds chat-completion requests for Perplexity sonar
// models, which carry extra sampling parameters and return citations.
type PerplexityAdapter struct {
	model string
}

func NewPerplexityAdapter(model string) *PerplexityAdapter {
	return &PerplexityAdapter{model: model}
}

func (a *PerplexityAdapter) ModelName() string           { return a.model }
func (a *PerplexityAdapter) ProviderName() string        { return "Perplexity" }
func (a *PerplexityAdapter) SupportedFeatures() []string { return []string{"text", "web_search"} }

func (a *PerplexityAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	return Request{
		"model":                    a.model,
		"messages":                 chatMessages(systemPromptOr(cfg, "You are a helpful assistant."), input),
		"temperature":              temperatureOr(cfg, 0.7),
		"max_tokens":               maxTokensOr(cfg, 8000),
		"top_p":                    0.9,
		"return_images":            false,
		"return_related_questions": false,
		"frequency_penalty":        1,
		"presence_penalty":         0,
	}
}

func (a *PerplexityAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}

	usage := usageOf(response, "usage")
	if citations, ok := response["citations"].([]any); ok && len(citations) > 0 {
		usage["citations"] = citations
	}

	return Parsed{
		Output: choicesContent(response),
		Usage:  usage,
		Raw:    response,
	}, nil
}

func (a *PerplexityAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	return validateBaseConfig(cfg)
}

func (a *PerplexityAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.7),
		MaxTokens:    intPtr(8000),
		SystemPrompt: "You are a helpful assistant.",
		Extra:        map[string]any{"enableWebSearch": true},
	}
}

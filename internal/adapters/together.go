package adapters

import (
	"encoding/json"

	"github.com/rmead777/agentflow/pkg/schema"
)

// TogetherAdapter builds chat-completion requests for Together AI hosted
// models. Responses may arrive in three shapes: an already-flattened
// {content} envelope, the standard choices shape, or something else
// entirely, which is stringified rather than dropped.
type TogetherAdapter struct {
	model string
}

func NewTogetherAdapter(model string) *TogetherAdapter {
	return &TogetherAdapter{model: model}
}

func (a *TogetherAdapter) ModelName() string           { return a.model }
func (a *TogetherAdapter) ProviderName() string        { return "Together AI" }
func (a *TogetherAdapter) SupportedFeatures() []string { return []string{"text"} }

func (a *TogetherAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	topP := 0.9
	if v, ok := cfg.Extra["top_p"].(float64); ok {
		topP = v
	}
	return Request{
		"messages":    chatMessages(systemPromptOr(cfg, "You are a helpful AI assistant."), input),
		"temperature": temperatureOr(cfg, 0.2),
		"top_p":       topP,
		"max_tokens":  maxTokensOr(cfg, 2048),
	}
}

func (a *TogetherAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	if err := errorPayload(a.ProviderName(), response); err != nil {
		return Parsed{}, err
	}

	if content, ok := response["content"].(string); ok && content != "" {
		raw := response
		if r, ok := response["raw"].(map[string]any); ok {
			raw = r
		}
		return Parsed{Output: content, Usage: usageOf(response, "usage"), Raw: raw}, nil
	}

	if content := choicesContent(response); content != "" {
		return Parsed{Output: content, Usage: usageOf(response, "usage"), Raw: response}, nil
	}

	encoded, err := json.Marshal(response)
	if err != nil {
		encoded = []byte("{}")
	}
	return Parsed{Output: string(encoded), Usage: map[string]any{}, Raw: response}, nil
}

func (a *TogetherAdapter) ValidateConfig(cfg schema.NodeConfig) error {
	if err := validateBaseConfig(cfg); err != nil {
		return err
	}
	if v, ok := cfg.Extra["top_p"]; ok {
		f, isNum := v.(float64)
		if !isNum || f < 0 || f > 1 {
			return schema.NewErrorf(schema.ErrCodeConfig, "top_p %v out of range [0, 1]", v)
		}
	}
	return nil
}

func (a *TogetherAdapter) DefaultConfig() schema.NodeConfig {
	return schema.NodeConfig{
		Temperature:  floatPtr(0.2),
		MaxTokens:    intPtr(2048),
		SystemPrompt: "You are a helpful AI assistant.",
		Extra:        map[string]any{"top_p": 0.9},
	}
}

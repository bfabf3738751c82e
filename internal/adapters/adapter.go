package adapters

import (
	"github.com/rmead777/agentflow/pkg/schema"
)

// Request is the provider-specific request payload built by an adapter.
// The shape is owned by the provider; the core treats it as opaque.
type Request map[string]any

// Parsed is the normalized result of a provider response.
type Parsed struct {
	Output string         `json:"output"`
	Usage  map[string]any `json:"usage"`
	Raw    map[string]any `json:"raw,omitempty"`
}

// ModelAdapter translates between the uniform request/response contract
// and one provider's native format. Implementations are stateless beyond
// their bound model name and safe to share across goroutines.
type ModelAdapter interface {
	ModelName() string
	ProviderName() string
	SupportedFeatures() []string

	// BuildRequest converts input text and config into a provider request.
	// Pure: applies provider and model constraints (token clamping, default
	// system prompts, parameter-name selection) but performs no I/O.
	BuildRequest(input string, cfg schema.NodeConfig) Request

	// ParseResponse extracts the normalized output from a provider response.
	// Missing fields resolve to an empty output; an explicit error payload
	// returns a descriptive PROVIDER_ERROR.
	ParseResponse(response map[string]any) (Parsed, error)

	// ValidateConfig performs type/range checks only. Unknown extra keys
	// are tolerated.
	ValidateConfig(cfg schema.NodeConfig) error

	// DefaultConfig returns the minimal safe defaults for this model.
	DefaultConfig() schema.NodeConfig
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(n int) *int           { return &n }

// validateBaseConfig checks the shared config shape: temperature in [0,1]
// and a positive max-token count when set.
func validateBaseConfig(cfg schema.NodeConfig) error {
	if cfg.Temperature != nil && (*cfg.Temperature < 0 || *cfg.Temperature > 1) {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"temperature %v out of range [0, 1]", *cfg.Temperature)
	}
	if cfg.MaxTokens != nil && *cfg.MaxTokens <= 0 {
		return schema.NewErrorf(schema.ErrCodeConfig,
			"maxTokens must be a positive integer, got %d", *cfg.MaxTokens)
	}
	return nil
}

// temperatureOr returns the configured temperature or the given default.
func temperatureOr(cfg schema.NodeConfig, def float64) float64 {
	if cfg.Temperature != nil {
		return *cfg.Temperature
	}
	return def
}

// maxTokensOr returns the configured max-token count or the given default.
func maxTokensOr(cfg schema.NodeConfig, def int) int {
	if cfg.MaxTokens != nil {
		return *cfg.MaxTokens
	}
	return def
}

// systemPromptOr returns the configured system prompt or the given default.
func systemPromptOr(cfg schema.NodeConfig, def string) string {
	if cfg.SystemPrompt != "" {
		return cfg.SystemPrompt
	}
	return def
}

// chatMessages builds the common system+user message pair.
func chatMessages(systemPrompt, input string) []any {
	return []any{
		map[string]any{"role": "system", "content": systemPrompt},
		map[string]any{"role": "user", "content": input},
	}
}

// mapAt walks nested maps/slices and returns the map at the given path,
// or nil when any hop is missing or of the wrong shape.
func mapAt(v any, path ...any) map[string]any {
	for _, hop := range path {
		switch key := hop.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[key]
		case int:
			s, ok := v.([]any)
			if !ok || key < 0 || key >= len(s) {
				return nil
			}
			v = s[key]
		}
	}
	m, _ := v.(map[string]any)
	return m
}

// stringAt walks nested maps/slices and returns the string at the given
// path, or "" when any hop is missing.
func stringAt(v any, path ...any) string {
	last := len(path) - 1
	if last < 0 {
		s, _ := v.(string)
		return s
	}
	parent := mapAt(v, path[:last]...)
	if parent == nil {
		return ""
	}
	key, ok := path[last].(string)
	if !ok {
		return ""
	}
	s, _ := parent[key].(string)
	return s
}

// choicesContent extracts the standardized chat-completion content:
// choices[0].message.content.
func choicesContent(response map[string]any) string {
	return stringAt(response, "choices", 0, "message", "content")
}

// usageOf returns the usage map of a response, or an empty map.
func usageOf(response map[string]any, key string) map[string]any {
	if u, ok := response[key].(map[string]any); ok {
		return u
	}
	return map[string]any{}
}

// errorPayload inspects a response for an explicit error field and, when
// present, returns a descriptive provider error. Responses may carry either
// an {error: true, message} envelope or a nested {error: {message}} object.
func errorPayload(provider string, response map[string]any) error {
	errVal, ok := response["error"]
	if !ok || errVal == nil {
		return nil
	}
	switch e := errVal.(type) {
	case bool:
		if !e {
			return nil
		}
		msg, _ := response["message"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return schema.NewErrorf(schema.ErrCodeProvider, "%s API error: %s", provider, msg)
	case map[string]any:
		msg, _ := e["message"].(string)
		if msg == "" {
			msg = "unknown error"
		}
		return schema.NewErrorf(schema.ErrCodeProvider, "%s API error: %s", provider, msg)
	case string:
		return schema.NewErrorf(schema.ErrCodeProvider, "%s API error: %s", provider, e)
	default:
		return schema.NewErrorf(schema.ErrCodeProvider, "%s API error", provider)
	}
}

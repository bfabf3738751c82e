package adapters

import (
	"sort"
	"strings"
	"sync"
)

// Registry is the static model-id → adapter mapping. Immutable after
// construction; no execution may add or remove entries.
type Registry struct {
	byID map[string]ModelAdapter
}

// NewRegistry builds a registry over the full provider catalog, including
// legacy aliases kept for backward compatibility with saved graphs.
func NewRegistry() *Registry {
	entries := map[string]ModelAdapter{
		// OpenAI
		"gpt-4o":                  NewOpenAIAdapter("gpt-4o"),
		"gpt-4.1":                 NewOpenAIAdapter("gpt-4.1"),
		"gpt-4o-mini":             NewOpenAIAdapter("gpt-4o-mini"),
		"gpt-4.5-preview":         NewOpenAIAdapter("gpt-4.5-preview"),
		"gpt-4.1-mini-2025-04-14": NewOpenAIAdapter("gpt-4.1-mini-2025-04-14"),
		"o3":                      NewOpenAIAdapter("o3"),
		"o3-mini":                 NewOpenAIAdapter("o3-mini"),
		"o4-mini":                 NewOpenAIAdapter("o4-mini"),

		// Anthropic, plus a dateless legacy alias
		"claude-3-7-sonnet-20250219": NewAnthropicAdapter("claude-3-7-sonnet-20250219"),
		"claude-3.7-sonnet":          NewAnthropicAdapter("claude-3-7-sonnet-20250219"),

		// Google Gemini
		"gemini-2.5-flash-preview-04-17": NewGoogleAdapter("gemini-2.5-flash-preview-04-17"),
		"gemini-2.5-pro-preview-03-25":   NewGoogleAdapter("gemini-2.5-pro-preview-03-25"),
		"gemini-2.0-flash":               NewGoogleAdapter("gemini-2.0-flash"),
		"gemini-2.0-flash-lite":          NewGoogleAdapter("gemini-2.0-flash-lite"),
		"gemini-1.5-flash":               NewGoogleAdapter("gemini-1.5-flash"),
		"gemini-1.5-flash-8b":            NewGoogleAdapter("gemini-1.5-flash-8b"),
		"gemini-1.5-pro":                 NewGoogleAdapter("gemini-1.5-pro"),

		// Mistral
		"mistral-large":  NewMistralAdapter("mistral-large"),
		"mistral-medium": NewMistralAdapter("mistral-medium"),
		"mistral-small":  NewMistralAdapter("mistral-small"),

		// Cohere
		"command-r":      NewCohereAdapter("command-r"),
		"command-r-plus": NewCohereAdapter("command-r-plus"),
		"command-light":  NewCohereAdapter("command-light"),

		// XAI, with legacy uppercase aliases
		"grok-3-beta":      NewXAIAdapter("grok-3-beta"),
		"grok-3-mini-beta": NewXAIAdapter("grok-3-mini-beta"),
		"Grok-3-beta":      NewXAIAdapter("grok-3-beta"),
		"Grok-3-mini-beta": NewXAIAdapter("grok-3-mini-beta"),

		// DeepSeek, with legacy mixed-case aliases
		"deepseek-r1":      NewDeepSeekAdapter("deepseek-r1"),
		"deepseek-v3-0324": NewDeepSeekAdapter("deepseek-v3-0324"),
		"DeepSeek-R1":      NewDeepSeekAdapter("deepseek-r1"),
		"DeepSeek-V3-0324": NewDeepSeekAdapter("deepseek-v3-0324"),

		// Mock
		MockModelID: NewMockAdapter(),

		// Perplexity
		"sonar-pro":           NewPerplexityAdapter("sonar-pro"),
		"sonar-deep-research": NewPerplexityAdapter("sonar-deep-research"),

		// Together AI
		"llama-4-maverick-instruct": NewTogetherAdapter("llama-4-maverick-instruct"),
		"llama-4-scout-instruct":    NewTogetherAdapter("llama-4-scout-instruct"),
	}

	return &Registry{byID: entries}
}

// Get returns the adapter for a model id: exact match first, then a
// case-insensitive fallback. Returns nil when no adapter is registered.
func (r *Registry) Get(modelID string) ModelAdapter {
	if a, ok := r.byID[modelID]; ok {
		return a
	}
	if a, ok := r.byID[strings.ToLower(modelID)]; ok {
		return a
	}
	return nil
}

// ByProvider returns all adapters for the given provider name.
func (r *Registry) ByProvider(providerName string) []ModelAdapter {
	var out []ModelAdapter
	for _, id := range r.sortedIDs() {
		a := r.byID[id]
		if a.ProviderName() == providerName {
			out = append(out, a)
		}
	}
	return out
}

// GroupedByProvider returns the registered model ids keyed by provider name.
func (r *Registry) GroupedByProvider() map[string][]string {
	grouped := make(map[string][]string)
	for _, id := range r.sortedIDs() {
		provider := r.byID[id].ProviderName()
		grouped[provider] = append(grouped[provider], id)
	}
	return grouped
}

// ModelIDs returns every registered model id in sorted order.
func (r *Registry) ModelIDs() []string {
	return r.sortedIDs()
}

func (r *Registry) sortedIDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// Default returns the process-wide registry, built once.
func Default() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Package secrets resolves provider API keys at call time. The execution
// core never touches raw credentials; it hands a Keyring to the transport
// layer and stays oblivious to where keys live.
package secrets

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/rmead777/agentflow/pkg/schema"
)

// Keyring resolves the API key for a model call. Implementations must be
// safe for concurrent use. userID and model let multi-tenant or per-model
// stores scope their lookup; the bundled implementations key by provider
// alone and ignore them.
type Keyring interface {
	APIKey(ctx context.Context, userID, provider, model string) (string, error)
}

// envVarByProvider maps provider display names to their conventional
// environment variables.
var envVarByProvider = map[string]string{
	"openai":        "OPENAI_API_KEY",
	"anthropic":     "ANTHROPIC_API_KEY",
	"google gemini": "GOOGLE_API_KEY",
	"mistral":       "MISTRAL_API_KEY",
	"cohere":        "COHERE_API_KEY",
	"xai":           "XAI_API_KEY",
	"deepseek":      "DEEPSEEK_API_KEY",
	"perplexity":    "PERPLEXITY_API_KEY",
	"together ai":   "TOGETHER_API_KEY",
}

// EnvKeyring reads keys from the process environment, one variable per
// provider. Unknown providers resolve via "<PROVIDER>_API_KEY".
type EnvKeyring struct{}

// NewEnvKeyring returns a Keyring backed by environment variables.
func NewEnvKeyring() *EnvKeyring { return &EnvKeyring{} }

func (k *EnvKeyring) APIKey(ctx context.Context, userID, provider, model string) (string, error) {
	name, ok := envVarByProvider[strings.ToLower(provider)]
	if !ok {
		name = strings.ToUpper(strings.ReplaceAll(provider, " ", "_")) + "_API_KEY"
	}
	key := os.Getenv(name)
	if key == "" {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "no API key found for provider %q (set %s)", provider, name)
	}
	return key, nil
}

// MemoryKeyring holds keys in memory, keyed by lowercased provider name.
// Used in tests and embedders that manage credentials themselves.
type MemoryKeyring struct {
	mu   sync.RWMutex
	keys map[string]string
}

// NewMemoryKeyring returns an empty in-memory keyring.
func NewMemoryKeyring() *MemoryKeyring {
	return &MemoryKeyring{keys: make(map[string]string)}
}

// Set stores a key for a provider.
func (k *MemoryKeyring) Set(provider, key string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[strings.ToLower(provider)] = key
}

func (k *MemoryKeyring) APIKey(ctx context.Context, userID, provider, model string) (string, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	key, ok := k.keys[strings.ToLower(provider)]
	if !ok || key == "" {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "no API key found for provider %q", provider)
	}
	return key, nil
}

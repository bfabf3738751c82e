// Package transport performs the actual provider HTTP calls on behalf of
// the execution core. The engine only sees the ModelCaller contract; all
// endpoint, credential, and failure-isolation policy lives here.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/internal/logging"
	"github.com/rmead777/agentflow/internal/secrets"
	"github.com/rmead777/agentflow/pkg/schema"
)

// defaultEndpoints maps lowercased provider names to their chat endpoints.
// Google is handled separately: its model id and key go in the URL.
var defaultEndpoints = map[string]string{
	"openai":      "https://api.openai.com/v1/chat/completions",
	"anthropic":   "https://api.anthropic.com/v1/messages",
	"mistral":     "https://api.mistral.ai/v1/chat/completions",
	"cohere":      "https://api.cohere.ai/v1/chat",
	"xai":         "https://api.x.ai/v1/chat/completions",
	"deepseek":    "https://api.deepseek.com/v1/chat/completions",
	"perplexity":  "https://api.perplexity.ai/chat/completions",
	"together ai": "https://api.together.xyz/v1/chat/completions",
}

const googleEndpointFormat = "https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s"

const anthropicVersion = "2023-06-01"

// Options configures an HTTPCaller.
type Options struct {
	// Client defaults to a client with a 120s timeout.
	Client *http.Client
	// Endpoints overrides provider endpoints, keyed by lowercased
	// provider name. Used to point tests at an httptest server.
	Endpoints map[string]string
	// GoogleEndpointFormat overrides the Gemini URL template
	// (expects model id and API key verbs, in that order).
	GoogleEndpointFormat string
	// UserID scopes key lookups for multi-tenant keyrings. Empty for
	// single-user deployments.
	UserID  string
	Breaker BreakerConfig
	Logger  *slog.Logger
}

// HTTPCaller dispatches a built provider request to the provider's HTTP
// API and returns the decoded response body.
type HTTPCaller struct {
	client       *http.Client
	keyring      secrets.Keyring
	userID       string
	endpoints    map[string]string
	googleFormat string
	breakers     *BreakerRegistry
	logger       *slog.Logger
}

// NewHTTPCaller creates a caller resolving credentials via the keyring.
func NewHTTPCaller(keyring secrets.Keyring, opts Options) *HTTPCaller {
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}
	endpoints := make(map[string]string, len(defaultEndpoints))
	for k, v := range defaultEndpoints {
		endpoints[k] = v
	}
	for k, v := range opts.Endpoints {
		endpoints[strings.ToLower(k)] = v
	}
	googleFormat := opts.GoogleEndpointFormat
	if googleFormat == "" {
		googleFormat = googleEndpointFormat
	}
	breakerCfg := opts.Breaker
	if breakerCfg.FailureThreshold == 0 {
		breakerCfg = DefaultBreakerConfig()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPCaller{
		client:       client,
		keyring:      keyring,
		userID:       opts.UserID,
		endpoints:    endpoints,
		googleFormat: googleFormat,
		breakers:     NewBreakerRegistry(breakerCfg),
		logger:       logger,
	}
}

// Call resolves the provider endpoint and API key, posts the request, and
// decodes the response. Missing credentials surface as AUTH_ERROR; HTTP
// and envelope failures as PROVIDER_ERROR carrying the provider's status
// and message.
func (c *HTTPCaller) Call(ctx context.Context, adapter adapters.ModelAdapter, req adapters.Request) (map[string]any, error) {
	provider := adapter.ProviderName()
	modelID := adapter.ModelName()

	if err := c.breakers.AllowRequest(provider); err != nil {
		return nil, err
	}

	key, err := c.keyring.APIKey(ctx, c.userID, provider, modelID)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeAuth,
			"no API key found for %s model: %s", provider, modelID).WithCause(err)
	}

	url, headers, err := c.routeFor(provider, modelID, key)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "encode request for %s: %s", provider, err.Error()).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "build request for %s: %s", provider, err.Error()).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	logging.LogWith(ctx, c.logger).Debug("calling provider",
		slog.String("provider", provider),
		slog.String("model_id", modelID))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		c.breakers.RecordFailure(provider)
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "%s request failed: %s", provider, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		c.breakers.RecordFailure(provider)
		return nil, schema.NewErrorf(schema.ErrCodeProvider, "read %s response: %s", provider, err.Error()).WithCause(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		c.breakers.RecordFailure(provider)
		return nil, schema.NewErrorf(schema.ErrCodeProvider,
			"%s returned non-JSON response (status %d)", provider, resp.StatusCode).WithCause(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.breakers.RecordFailure(provider)
		return nil, schema.NewErrorf(schema.ErrCodeProvider,
			"%s API error: %s", provider, providerErrorMessage(decoded)).
			WithDetails(map[string]any{
				"error":   true,
				"status":  resp.StatusCode,
				"message": providerErrorMessage(decoded),
				"details": decoded,
			})
	}

	c.breakers.RecordSuccess(provider)
	return decoded, nil
}

// routeFor resolves the endpoint URL and auth headers per provider.
func (c *HTTPCaller) routeFor(provider, modelID, key string) (string, map[string]string, error) {
	lower := strings.ToLower(provider)
	if lower == "google gemini" || lower == "google" {
		return fmt.Sprintf(c.googleFormat, modelID, key), map[string]string{}, nil
	}

	url, ok := c.endpoints[lower]
	if !ok {
		return "", nil, schema.NewErrorf(schema.ErrCodeConfig, "unsupported provider: %s", provider)
	}

	headers := map[string]string{"Authorization": "Bearer " + key}
	if lower == "anthropic" {
		headers = map[string]string{
			"x-api-key":         key,
			"anthropic-version": anthropicVersion,
		}
	}
	return url, headers, nil
}

// providerErrorMessage digs the human message out of a provider error
// body, tolerating the common shapes.
func providerErrorMessage(body map[string]any) string {
	switch v := body["error"].(type) {
	case map[string]any:
		if msg, ok := v["message"].(string); ok && msg != "" {
			return msg
		}
	case string:
		if v != "" {
			return v
		}
	}
	if msg, ok := body["message"].(string); ok && msg != "" {
		return msg
	}
	return "Unknown error"
}

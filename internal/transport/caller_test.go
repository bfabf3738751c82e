package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/internal/secrets"
	"github.com/rmead777/agentflow/pkg/schema"
)

func newTestCaller(t *testing.T, handler http.HandlerFunc) (*HTTPCaller, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	keyring := secrets.NewMemoryKeyring()
	keyring.Set("OpenAI", "sk-test")
	keyring.Set("Anthropic", "ak-test")

	caller := NewHTTPCaller(keyring, Options{
		Endpoints: map[string]string{
			"openai":    srv.URL,
			"anthropic": srv.URL,
		},
	})
	return caller, srv
}

func TestCallPostsRequestAndDecodesResponse(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	caller, _ := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "hi"}}},
		})
	})

	adapter := adapters.Default().Get("gpt-4o")
	require.NotNil(t, adapter)

	resp, err := caller.Call(context.Background(), adapter, adapters.Request{"model": "gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", gotAuth)
	assert.Equal(t, "gpt-4o", gotBody["model"])
	assert.Contains(t, resp, "choices")
}

func TestCallAnthropicHeaders(t *testing.T) {
	var gotKey, gotVersion string
	caller, _ := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		_ = json.NewEncoder(w).Encode(map[string]any{"content": []any{}})
	})

	adapter := adapters.Default().Get("claude-3-7-sonnet-20250219")
	require.NotNil(t, adapter)

	_, err := caller.Call(context.Background(), adapter, adapters.Request{})
	require.NoError(t, err)
	assert.Equal(t, "ak-test", gotKey)
	assert.Equal(t, anthropicVersion, gotVersion)
}

type recordingKeyring struct {
	userID   string
	provider string
	model    string
}

func (k *recordingKeyring) APIKey(ctx context.Context, userID, provider, model string) (string, error) {
	k.userID, k.provider, k.model = userID, provider, model
	return "sk-rec", nil
}

func TestCallScopesKeyLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	}))
	t.Cleanup(srv.Close)

	keyring := &recordingKeyring{}
	caller := NewHTTPCaller(keyring, Options{
		UserID:    "user-42",
		Endpoints: map[string]string{"openai": srv.URL},
	})

	adapter := adapters.Default().Get("gpt-4o")
	_, err := caller.Call(context.Background(), adapter, adapters.Request{})
	require.NoError(t, err)
	assert.Equal(t, "user-42", keyring.userID)
	assert.Equal(t, "OpenAI", keyring.provider)
	assert.Equal(t, "gpt-4o", keyring.model)
}

func TestCallMissingKeyIsAuthError(t *testing.T) {
	caller := NewHTTPCaller(secrets.NewMemoryKeyring(), Options{})
	adapter := adapters.Default().Get("gpt-4o")

	_, err := caller.Call(context.Background(), adapter, adapters.Request{})
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeAuth, flowErr.Code)
	assert.Contains(t, flowErr.Message, "gpt-4o")
}

func TestCallProviderErrorEnvelope(t *testing.T) {
	caller, _ := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited"},
		})
	})

	adapter := adapters.Default().Get("gpt-4o")
	_, err := caller.Call(context.Background(), adapter, adapters.Request{})
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, schema.ErrCodeProvider, flowErr.Code)
	assert.Contains(t, flowErr.Message, "rate limited")
	assert.Equal(t, true, flowErr.Details["error"])
	assert.Equal(t, http.StatusTooManyRequests, flowErr.Details["status"])
}

func TestCallOpensBreakerAfterConsecutiveFailures(t *testing.T) {
	caller, _ := newTestCaller(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "boom"})
	})

	adapter := adapters.Default().Get("gpt-4o")
	for i := 0; i < DefaultBreakerConfig().FailureThreshold; i++ {
		_, err := caller.Call(context.Background(), adapter, adapters.Request{})
		require.Error(t, err)
	}

	assert.Equal(t, CircuitOpen, caller.breakers.State("OpenAI"))

	_, err := caller.Call(context.Background(), adapter, adapters.Request{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker open")
}

func TestGoogleKeyAndModelInURL(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	}))
	t.Cleanup(srv.Close)

	keyring := secrets.NewMemoryKeyring()
	keyring.Set("Google Gemini", "g-key")
	caller := NewHTTPCaller(keyring, Options{
		GoogleEndpointFormat: srv.URL + "/models/%s:generateContent?key=%s",
	})

	adapter := adapters.Default().Get("gemini-2.0-flash")
	require.NotNil(t, adapter)

	_, err := caller.Call(context.Background(), adapter, adapters.Request{})
	require.NoError(t, err)
	assert.Contains(t, gotPath, "gemini-2.0-flash")
	assert.Contains(t, gotQuery, "key=g-key")
}

func TestBreakerRecovery(t *testing.T) {
	r := NewBreakerRegistry(BreakerConfig{FailureThreshold: 2, Cooldown: 0, HalfOpenMax: 1})

	r.RecordFailure("p")
	assert.Equal(t, CircuitClosed, r.State("p"))
	r.RecordFailure("p")
	assert.Equal(t, CircuitOpen, r.State("p"))

	// Zero cooldown: next request transitions to half-open.
	require.NoError(t, r.AllowRequest("p"))
	assert.Equal(t, CircuitHalfOpen, r.State("p"))

	r.RecordSuccess("p")
	assert.Equal(t, CircuitClosed, r.State("p"))
}

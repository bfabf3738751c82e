package adapters

import (
	"fmt"

	"github.com/rmead777/agentflow/pkg/schema"
)

// MockModelID is the model identifier the executor short-circuits on
// without any network call.
const MockModelID = "mock-model"

// MockAdapter simulates a model for flow-logic testing without API calls.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) ModelName() string           { return MockModelID }
func (a *MockAdapter) ProviderName() string        { return "Mock" }
func (a *MockAdapter) SupportedFeatures() []string { return []string{"test"} }

func (a *MockAdapter) BuildRequest(input string, cfg schema.NodeConfig) Request {
	return Request{"input": input, "config": cfg}
}

func (a *MockAdapter) ParseResponse(response map[string]any) (Parsed, error) {
	input, _ := response["input"]
	return Parsed{
		Output: fmt.Sprintf("[Simulated output for: %v]", input),
		Usage:  map[string]any{},
		Raw:    response,
	}, nil
}

func (a *MockAdapter) ValidateConfig(cfg schema.NodeConfig) error { return nil }

func (a *MockAdapter) DefaultConfig() schema.NodeConfig { return schema.NodeConfig{} }

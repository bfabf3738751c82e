// Package validation checks flow graphs for correctness before execution:
// shape via JSON Schema Draft 2020-12, then semantics against the adapter
// registry. A run does not start while any error remains.
package validation

import (
	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/pkg/schema"
)

// Validator runs the full validation pipeline over a flow graph.
type Validator struct {
	js       *JSONSchemaValidator
	registry *adapters.Registry
}

// New builds a Validator bound to the given adapter registry.
func New(registry *adapters.Registry) (*Validator, error) {
	js, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Validator{js: js, registry: registry}, nil
}

// Validate checks the graph's shape and semantics. Semantic failures are
// aggregated: the returned error carries every violation, not the first.
func (v *Validator) Validate(graph *schema.FlowGraph) error {
	if err := v.js.ValidateGraph(graph); err != nil {
		return err
	}
	return validateSemantic(graph, v.registry).ToError()
}

// Check is like Validate but returns the full result, warnings included.
func (v *Validator) Check(graph *schema.FlowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err := v.js.ValidateGraph(graph); err != nil {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	result.Merge(validateSemantic(graph, v.registry))
	return result
}

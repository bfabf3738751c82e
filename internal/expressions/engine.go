// Package expressions evaluates action-node expressions against upstream
// flow outputs. Three engines are available: Expr for general logic, CEL
// for guard-style conditions, and GoJQ for JSON reshaping.
package expressions

import (
	"context"
	"fmt"
	"sync"
)

// Engine evaluates expressions within action nodes.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// DefaultLang is used when an action node does not name a language.
const DefaultLang = "expr"

// Registry holds the available engines keyed by language name.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewRegistry builds a registry with all three engines registered.
func NewRegistry() (*Registry, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, fmt.Errorf("create CEL engine: %w", err)
	}
	r := &Registry{engines: make(map[string]Engine)}
	r.Register(NewExprEngine())
	r.Register(celEngine)
	r.Register(NewGoJQEngine())
	return r, nil
}

// Register adds an engine under its Name.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
}

// Get returns the engine for the given language, defaulting to expr when
// lang is empty.
func (r *Registry) Get(lang string) (Engine, error) {
	if lang == "" {
		lang = DefaultLang
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[lang]
	if !ok {
		return nil, fmt.Errorf("unknown expression language %q", lang)
	}
	return e, nil
}

package service

import (
	"context"
	"fmt"
	"sync"
)

// ArgSpec describes one named function argument.
type ArgSpec struct {
	Name        string    `json:"name"`
	Kind        ValueKind `json:"kind"`
	Description string    `json:"description,omitempty"`
	Required    bool      `json:"required"`
}

// FunctionSchema declares a callable service function.
type FunctionSchema struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Args        []ArgSpec `json:"args,omitempty"`
	Result      ValueKind `json:"result"`
}

// EventSchema declares an event a service can publish.
type EventSchema struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Payload     ValueKind `json:"payload"`
}

// EventItem is one published event instance.
type EventItem struct {
	Name    string `json:"name"`
	Payload Value  `json:"payload"`
}

// FunctionHandler executes one named function with typed arguments.
type FunctionHandler func(ctx context.Context, args map[string]Value) (Value, error)

// Service is the lifecycle contract an external service layer drives.
type Service interface {
	OnInit(ctx context.Context) error
	OnDeinit(ctx context.Context)
	OnStart(ctx context.Context) error
	OnStop(ctx context.Context)

	FunctionSchemas() []FunctionSchema
	EventSchemas() []EventSchema
	FunctionHandlers() map[string]FunctionHandler
}

// FunctionRegistry resolves function names to handlers, with argument
// checking against the declared schema.
type FunctionRegistry struct {
	mu       sync.RWMutex
	schemas  map[string]FunctionSchema
	handlers map[string]FunctionHandler
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{
		schemas:  make(map[string]FunctionSchema),
		handlers: make(map[string]FunctionHandler),
	}
}

// Register binds one schema to its handler.
func (r *FunctionRegistry) Register(schema FunctionSchema, h FunctionHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("function %q already registered", schema.Name)
	}
	if h == nil {
		return fmt.Errorf("nil handler for function %q", schema.Name)
	}
	r.schemas[schema.Name] = schema
	r.handlers[schema.Name] = h
	return nil
}

// Schemas lists every registered function schema.
func (r *FunctionRegistry) Schemas() []FunctionSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]FunctionSchema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	return out
}

// Invoke runs a function by name after validating required arguments.
func (r *FunctionRegistry) Invoke(ctx context.Context, name string, args map[string]Value) (Value, error) {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	h := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return Null(), fmt.Errorf("unknown function %q", name)
	}

	for _, spec := range schema.Args {
		v, present := args[spec.Name]
		if !present {
			if spec.Required {
				return Null(), fmt.Errorf("function %q: missing required arg %q", name, spec.Name)
			}
			continue
		}
		if v.Kind() != spec.Kind {
			return Null(), fmt.Errorf("function %q: arg %q expects %s, got %s",
				name, spec.Name, spec.Kind, v.Kind())
		}
	}

	return h(ctx, args)
}

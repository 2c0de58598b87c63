package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/quieloop/sonus/pkg/Logger"
	"github.com/quieloop/sonus/pkg/audio"
)

// Factory builds one concrete agent instance.
type Factory func(pipeline *audio.Pipeline, logger *Logger.Logger) (Agent, error)

// Registry maps agent names to factories. Concrete agents register at
// program initialization; selection happens by name at runtime.
type Registry interface {
	Register(name string, f Factory) error
	Create(name string, pipeline *audio.Pipeline, logger *Logger.Logger) (Agent, error)
	Names() []string
}

type memoryRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty in-memory registry.
func NewRegistry() Registry {
	return &memoryRegistry{factories: make(map[string]Factory)}
}

// Register implements Registry.
func (m *memoryRegistry) Register(name string, f Factory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.factories[name]; exists {
		return fmt.Errorf("agent %q already registered", name)
	}
	if f == nil {
		return fmt.Errorf("nil factory for agent %q", name)
	}
	m.factories[name] = f
	return nil
}

// Create implements Registry.
func (m *memoryRegistry) Create(name string, pipeline *audio.Pipeline, logger *Logger.Logger) (Agent, error) {
	m.mu.RLock()
	f, ok := m.factories[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown agent %q", name)
	}
	return f(pipeline, logger)
}

// Names implements Registry.
func (m *memoryRegistry) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.factories))
	for name := range m.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

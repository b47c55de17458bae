package tools

import (
	"fmt"
	"log"
	"sort"
)

// #region mode

// Mode selects how the registry resolves tool implementations.
type Mode string

const (
	// ModeStub registers only deterministic canned-data tools.
	ModeStub Mode = "stub"
	// ModeReal resolves only real implementations. Requirements
	// (credentials, binaries) are not checked at registration: a real
	// factory whose requirements are unmet fails when Get constructs it.
	ModeReal Mode = "real"
	// ModeHybrid prefers real implementations and falls back to stubs.
	ModeHybrid Mode = "hybrid"
)

// #endregion mode

// #region factory

// Factory builds a tool instance for a config snapshot. Real factories
// return an error when required credentials or dependencies are absent.
type Factory func(config Config) (Tool, error)

// #endregion factory

// #region registry

// Registry maps tool names to implementations. Instances are cached by
// name plus config key, so the same tool under different configs is a
// different entry. The registry is read-only after construction:
// register everything up front, then hand it to the dispatcher.
type Registry struct {
	mode      Mode
	factories map[string]Factory
	stubs     map[string]Factory
	instances map[string]Tool
	sealed    bool
}

// NewRegistry creates a registry in the given mode.
func NewRegistry(mode Mode) *Registry {
	return &Registry{
		mode:      mode,
		factories: map[string]Factory{},
		stubs:     map[string]Factory{},
		instances: map[string]Tool{},
	}
}

// Register adds a real implementation factory.
func (r *Registry) Register(name string, factory Factory) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed; tools register only at construction")
	}
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.factories[name] = factory
	return nil
}

// RegisterStub adds a stub implementation factory.
func (r *Registry) RegisterStub(name string, factory Factory) error {
	if r.sealed {
		return fmt.Errorf("registry is sealed; tools register only at construction")
	}
	if name == "" {
		return fmt.Errorf("tool name must not be empty")
	}
	r.stubs[name] = factory
	return nil
}

// Seal freezes the registry. After sealing, only look-ups are allowed.
func (r *Registry) Seal() {
	r.sealed = true
}

// Get resolves a tool instance for the config snapshot, creating and
// caching it on first use. Resolution honours the registry mode.
func (r *Registry) Get(name string, config Config) (Tool, error) {
	cacheKey := name + ":" + config.Key()
	if tool, ok := r.instances[cacheKey]; ok {
		return tool, nil
	}

	factory, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	tool, err := factory(config)
	if err != nil {
		// Hybrid mode: a failing real factory falls back to the stub.
		if r.mode == ModeHybrid {
			if stub, ok := r.stubs[name]; ok {
				log.Printf("[TOOL] real %q unavailable (%v), using stub", name, err)
				tool, err = stub(config)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("construct tool %q: %w", name, err)
		}
	}
	r.instances[cacheKey] = tool
	return tool, nil
}

func (r *Registry) resolve(name string) (Factory, error) {
	real, hasReal := r.factories[name]
	stub, hasStub := r.stubs[name]

	switch r.mode {
	case ModeStub:
		if hasStub {
			return stub, nil
		}
	case ModeReal:
		if hasReal {
			return real, nil
		}
	case ModeHybrid:
		if hasReal {
			return real, nil
		}
		if hasStub {
			return stub, nil
		}
	}
	return nil, fmt.Errorf("tool %q not registered (mode %s, available: %s)",
		name, r.mode, r.available())
}

func (r *Registry) available() string {
	seen := map[string]bool{}
	for name := range r.factories {
		seen[name] = true
	}
	for name := range r.stubs {
		seen[name] = true
	}
	if len(seen) == 0 {
		return "(none)"
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%v", names)
}

// Has reports whether a tool name can be resolved in the current mode.
func (r *Registry) Has(name string) bool {
	_, err := r.resolve(name)
	return err == nil
}

// #endregion registry

package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog/log"
)

// Constructor builds a tool instance for one turn from its decoded config and
// the per-turn runtime.
type Constructor func(ctx context.Context, config interface{}, rt Runtime) (Tool, error)

// Registration binds a tool name to its constructor and configuration type.
type Registration struct {
	Name string

	// NewConfig returns a pointer to a fresh config struct carrying the
	// tool's defaults. BuildConfig decodes caller options over it.
	NewConfig func() interface{}

	Construct Constructor
}

// Registry maps tool names to registrations. It is an explicit object owned by
// application setup and passed by reference, not a package global.
type Registry struct {
	entries map[string]Registration
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]Registration),
	}
}

// Register adds or replaces a registration. Last writer wins; overwriting is
// deliberate, it enables tool hot-replacement in long-lived processes.
func (r *Registry) Register(reg Registration) error {
	if reg.Name == "" {
		return &ConfigurationError{Reason: "tool name cannot be empty"}
	}
	if reg.Construct == nil {
		return &ConfigurationError{Reason: fmt.Sprintf("tool %s has no constructor", reg.Name)}
	}

	r.mu.Lock()
	_, replaced := r.entries[reg.Name]
	r.entries[reg.Name] = reg
	r.mu.Unlock()

	log.Debug().Str("tool", reg.Name).Bool("replaced", replaced).Msg("Tool registered")
	return nil
}

// Resolve returns the registration for name.
func (r *Registry) Resolve(name string) (Registration, error) {
	r.mu.RLock()
	reg, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return Registration{}, &NotFoundError{Name: name}
	}
	return reg, nil
}

// BuildConfig constructs the tool's configuration object from opts, applying
// the registration's defaults for omitted fields.
func (r *Registry) BuildConfig(name string, opts map[string]interface{}) (interface{}, error) {
	reg, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}

	var cfg interface{}
	if reg.NewConfig != nil {
		cfg = reg.NewConfig()
	} else {
		cfg = map[string]interface{}{}
	}

	if len(opts) == 0 {
		return cfg, nil
	}

	if err := mapstructure.Decode(opts, cfg); err != nil {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("tool %s: %v", name, err),
		}
	}
	return cfg, nil
}

// Build constructs a tool instance for one turn. Unknown names fail with
// *NotFoundError, never a generic error.
func (r *Registry) Build(ctx context.Context, name string, config interface{}, rt Runtime) (Tool, error) {
	reg, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return reg.Construct(ctx, config, rt)
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}

// Len returns the number of registrations.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

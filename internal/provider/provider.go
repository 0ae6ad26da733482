package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/koios/trmnl-server/pkg/models"
	"go.uber.org/zap"
)

// Provider resolves one named entry of a render context. The returned
// value must be JSON-serializable.
type Provider interface {
	Name() string
	Resolve(ctx context.Context, settings map[string]string) (any, error)
}

// RenderContext maps provider names to their resolved values
type RenderContext map[string]any

// UnknownProviderError is returned when a playlist names a context with no
// registered provider
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown context provider: %s", e.Name)
}

// Registry maps provider names to providers
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates a registry holding providers
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name
func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Get returns the provider registered under name
func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the registered provider names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Assembler builds render contexts from a device's configured providers
type Assembler struct {
	registry *Registry
	logger   *zap.Logger
}

// NewAssembler creates an assembler over registry
func NewAssembler(registry *Registry, logger *zap.Logger) *Assembler {
	return &Assembler{registry: registry, logger: logger}
}

// Assemble resolves every name in order using the device's settings for
// that provider. Any failure aborts the whole context.
func (a *Assembler) Assemble(ctx context.Context, names []string, device *models.DeviceConfig) (RenderContext, error) {
	result := make(RenderContext, len(names))

	for _, name := range names {
		p, ok := a.registry.Get(name)
		if !ok {
			return nil, &UnknownProviderError{Name: name}
		}

		var settings map[string]string
		if device != nil {
			settings, _ = device.ContextSettings(name)
		}

		a.logger.Debug("Resolving context",
			zap.String("provider", name),
			zap.String("friendly_id", friendlyID(device)))

		value, err := p.Resolve(ctx, settings)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s context: %w", name, err)
		}

		normalized, err := normalize(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s context: %w", name, err)
		}
		result[name] = normalized
	}

	return result, nil
}

// normalize round-trips value through JSON so templates only see maps,
// slices and scalars keyed by their JSON names.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func friendlyID(device *models.DeviceConfig) string {
	if device == nil {
		return ""
	}
	return device.FriendlyID
}

// LoadFile reads a render context from a JSON object file
func LoadFile(path string) (RenderContext, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context file: %w", err)
	}

	var rc RenderContext
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("failed to parse context file %s: %w", path, err)
	}
	if rc == nil {
		rc = RenderContext{}
	}
	return rc, nil
}

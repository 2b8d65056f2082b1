// registry.go - Plugin-Registrierung fuer DNN-Backends
// Pro Plattform koennen mehrere Plugins registriert sein, eines ist Default.
package dnn

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/clstream/cldnn/ml"
)

// PluginID identifies one DNN plugin implementation.
type PluginID uuid.UUID

// NewPluginID derives a stable id from a plugin name.
func NewPluginID(name string) PluginID {
	return PluginID(ml.NewID("plugin", name))
}

func (p PluginID) String() string { return uuid.UUID(p).String() }

// Factory creates a Support bound to an executor.
type Factory func(exec ml.Executor) (Support, error)

// ErrAlreadyRegistered is returned when a plugin id is registered twice
// for the same platform.
var ErrAlreadyRegistered = errors.New("dnn: plugin already registered")

// PluginInfo describes one registered plugin.
type PluginInfo struct {
	ID      PluginID
	Name    string
	Default bool
}

type plugin struct {
	name    string
	factory Factory
}

// Registry maps platforms to DNN plugin factories.
type Registry struct {
	mu        sync.Mutex
	factories map[ml.PlatformID]map[PluginID]plugin
	defaults  map[ml.PlatformID]PluginID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[ml.PlatformID]map[PluginID]plugin),
		defaults:  make(map[ml.PlatformID]PluginID),
	}
}

// Register adds a factory for platform under id.
func (r *Registry) Register(platform ml.PlatformID, id PluginID, name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byID, ok := r.factories[platform]
	if !ok {
		byID = make(map[PluginID]plugin)
		r.factories[platform] = byID
	}
	if existing, ok := byID[id]; ok {
		return fmt.Errorf("%w: %s (%s) on platform %s", ErrAlreadyRegistered, existing.name, id, platform)
	}

	byID[id] = plugin{name: name, factory: f}
	return nil
}

// SetDefault makes id the plugin NewSupport uses for platform.
func (r *Registry) SetDefault(platform ml.PlatformID, id PluginID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.factories[platform][id]; !ok {
		return fmt.Errorf("dnn: plugin %s not registered on platform %s", id, platform)
	}
	r.defaults[platform] = id
	return nil
}

// NewSupport creates the default plugin for the executor's platform.
func (r *Registry) NewSupport(exec ml.Executor) (Support, error) {
	r.mu.Lock()
	id, ok := r.defaults[exec.Platform()]
	p := r.factories[exec.Platform()][id]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("dnn: no default plugin for platform %s", exec.Platform())
	}
	return p.factory(exec)
}

// Plugins lists the plugins of platform sorted by name.
func (r *Registry) Plugins(platform ml.PlatformID) []PluginInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var infos []PluginInfo
	for id, p := range r.factories[platform] {
		def, ok := r.defaults[platform]
		infos = append(infos, PluginInfo{ID: id, Name: p.name, Default: ok && def == id})
	}
	slices.SortFunc(infos, func(a, b PluginInfo) int { return strings.Compare(a.Name, b.Name) })
	return infos
}

// =============================================================================
// Prozessweite Registry
// =============================================================================

var plugins = NewRegistry()

// RegisterFactory registers f in the process-wide registry.
func RegisterFactory(platform ml.PlatformID, id PluginID, name string, f Factory) error {
	return plugins.Register(platform, id, name, f)
}

// SetDefaultFactory sets the default plugin in the process-wide registry.
func SetDefaultFactory(platform ml.PlatformID, id PluginID) error {
	return plugins.SetDefault(platform, id)
}

// NewSupport creates the default plugin for exec from the process-wide registry.
func NewSupport(exec ml.Executor) (Support, error) {
	return plugins.NewSupport(exec)
}

// Plugins lists the process-wide plugins of platform.
func Plugins(platform ml.PlatformID) []PluginInfo {
	return plugins.Plugins(platform)
}

// register.go - Registrierung als DNN-Plugin

package cldnn

import (
	"log/slog"
	"sync"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/cdnn/hostlib"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
	"github.com/clstream/cldnn/ml/backend/host"
)

// PluginName is the name the adapter registers under.
const PluginName = "cuDNN"

// PluginID identifies the adapter in the plugin registry.
var PluginID = dnn.NewPluginID(PluginName)

// Factory returns a plugin factory that creates and initializes a Support
// for every executor.
func Factory(lib *cdnn.Library, opts Options) dnn.Factory {
	return func(exec ml.Executor) (dnn.Support, error) {
		s := New(exec, lib, opts)
		if err := s.Init(); err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Register adds the adapter to r for platform and makes it the default.
func Register(r *dnn.Registry, platform ml.PlatformID, lib *cdnn.Library, opts Options) error {
	if err := r.Register(platform, PluginID, PluginName, Factory(lib, opts)); err != nil {
		return err
	}
	return r.SetDefault(platform, PluginID)
}

// defaultLibrary binds the in-process library on the default host device.
var defaultLibrary = sync.OnceValues(func() (*cdnn.Library, error) {
	return cdnn.Bind(hostlib.New(host.Default()).Resolver())
})

// Initialize registers the adapter for the host platform in the process
// wide registry, bound to the default library. Failures are logged, not
// returned.
func Initialize() {
	lib, err := defaultLibrary()
	if err != nil {
		slog.Error("unable to bind backend library", "plugin", PluginName, "error", err)
		return
	}
	initialize(lib)
}

// initialize registers lib under the adapter's plugin id.
func initialize(lib *cdnn.Library) {
	if err := dnn.RegisterFactory(host.PlatformID, PluginID, PluginName, Factory(lib, Options{})); err != nil {
		slog.Error("unable to register backend factory", "plugin", PluginName, "error", err)
		return
	}
	if err := dnn.SetDefaultFactory(host.PlatformID, PluginID); err != nil {
		slog.Error("unable to set backend as default", "plugin", PluginName, "error", err)
	}
}

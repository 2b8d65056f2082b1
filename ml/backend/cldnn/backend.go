// backend.go - Support-Struktur und Handle-Lebenszyklus
// Enthält: Support struct, Init(), Close(), Version(), withHandle()

package cldnn

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/envconfig"
	"github.com/clstream/cldnn/logutil"
	"github.com/clstream/cldnn/ml"
)

// Options configures a Support. A nil Flags is resolved from the
// environment once the backend version is known.
type Options struct {
	Flags *envconfig.Flags
}

// Support implements dnn.Support on top of a resolved backend library.
type Support struct {
	lib  *cdnn.Library
	exec ml.Executor
	opts Options

	flags envconfig.Flags

	mu     sync.Mutex // Nur ein Aufruf kann gleichzeitig am Handle laufen
	handle cdnn.Handle
}

var _ dnn.Support = (*Support)(nil)

// New returns an uninitialized Support for exec. Init must succeed before
// any primitive is used.
func New(exec ml.Executor, lib *cdnn.Library, opts Options) *Support {
	return &Support{lib: lib, exec: exec, opts: opts}
}

// Init creates the backend handle and checks that the loaded library is
// compatible with the version this package was built against.
func (s *Support) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle != 0 {
		return nil
	}

	var h cdnn.Handle
	if err := s.lib.Create(&h).Err("cudnnCreate"); err != nil {
		slog.Error("could not create backend handle", "error", err)
		return fmt.Errorf("cldnn: init: %w", err)
	}

	loaded := s.lib.GetVersion()
	if cdnn.CompatVersion(loaded) != cdnn.CompatVersion(cdnn.Version) {
		slog.Error("loaded backend library does not match the version this binary was built against",
			"loaded", versionString(loaded), "compiled", versionString(cdnn.Version))
		if err := s.lib.Destroy(h).Err("cudnnDestroy"); err != nil {
			slog.Warn("could not destroy backend handle", "error", err)
		}
		return fmt.Errorf("cldnn: loaded version %s, built against %s: %w",
			versionString(loaded), versionString(cdnn.Version), cdnn.StatusInternalError.Err("cudnnGetVersion"))
	}

	if s.opts.Flags != nil {
		s.flags = *s.opts.Flags
	} else {
		s.flags = envconfig.LoadFlags(loaded)
	}

	s.handle = h
	slog.Debug("backend initialized", "version", versionString(loaded), "device", s.exec.Description().Name, "flags", s.flags)
	return nil
}

// Close destroys the backend handle. Close is idempotent.
func (s *Support) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == 0 {
		return nil
	}

	h := s.handle
	s.handle = 0
	if err := s.lib.Destroy(h).Err("cudnnDestroy"); err != nil {
		slog.Error("could not destroy backend handle", "error", err)
		return err
	}
	return nil
}

// Version reports the version of the loaded backend library.
func (s *Support) Version() (dnn.VersionInfo, error) {
	major, minor, patch := cdnn.SplitVersion(s.lib.GetVersion())
	return dnn.VersionInfo{Major: major, Minor: minor, Patch: patch}, nil
}

// Flags returns the feature flags the adapter runs with.
func (s *Support) Flags() envconfig.Flags {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flags
}

func versionString(v uint64) string {
	major, minor, patch := cdnn.SplitVersion(v)
	return fmt.Sprintf("%d.%d.%d", major, minor, patch)
}

// =============================================================================
// Handle-Zugriff
// =============================================================================

var errNotInitialized = fmt.Errorf("%w: backend handle not initialized", dnn.ErrInvalidState)

// withHandle runs fn with the handle bound to stream while holding the
// adapter mutex. A nil stream leaves the current binding untouched.
func (s *Support) withHandle(stream ml.Stream, fn func(h cdnn.Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == 0 {
		return errNotInitialized
	}

	if stream != nil {
		if err := s.call("cudnnSetStream", s.lib.SetStream(s.handle, cdnn.Stream(stream.Native()))); err != nil {
			return fmt.Errorf("could not bind stream: %w", err)
		}
	}

	return fn(s.handle)
}

// call converts a backend status into an error and logs failures.
func (s *Support) call(op string, st cdnn.Status) error {
	err := st.Err(op)
	if err != nil {
		slog.Error("backend call failed", "op", op, "status", st)
		return err
	}
	logutil.Trace("backend call", "op", op)
	return nil
}

// fatal logs and panics. It is reserved for configuration errors the
// caller cannot recover from.
func fatal(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	slog.Error(msg)
	panic("cldnn: " + msg)
}

// unimplemented logs and returns an error wrapping dnn.ErrUnimplemented.
func unimplemented(op string) error {
	slog.Error("primitive not implemented", "op", op)
	return fmt.Errorf("cldnn: %s: %w", op, dnn.ErrUnimplemented)
}

func invalidArgument(format string, args ...any) error {
	err := fmt.Errorf("cldnn: %w: %s", dnn.ErrInvalidArgument, fmt.Sprintf(format, args...))
	slog.Error(err.Error())
	return err
}

// ptr converts device memory into the address the backend expects.
func ptr(m ml.DeviceMemory) cdnn.Ptr {
	return cdnn.Ptr(m.Opaque())
}

// dataType maps a DNN element type to the backend's. Only float, double
// and half have a backend representation.
func dataType(dt dnn.DataType) (cdnn.DataType, error) {
	switch dt {
	case dnn.Float:
		return cdnn.DataFloat, nil
	case dnn.Double:
		return cdnn.DataDouble, nil
	case dnn.Half:
		return cdnn.DataHalf, nil
	default:
		return 0, fmt.Errorf("cldnn: %w: data type %s", dnn.ErrInvalidArgument, dt)
	}
}

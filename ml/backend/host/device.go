// device.go - Host-Geraet: Speicher-Arena im Prozess
// Enthält: Device, Optionen, Allocate/Free, Adressaufloesung

package host

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml"
)

// PlatformID is the platform of host devices.
var PlatformID = ml.NewPlatformID("host")

// ErrOutOfMemory is returned when an allocation exceeds the device budget.
var ErrOutOfMemory = errors.New("host: out of memory")

const (
	baseAddress = 0x10000
	alignment   = 256
)

// allocation is one live buffer. Backing words keep float data aligned.
type allocation struct {
	base ml.DevicePtr
	data []byte
}

// Device simulates accelerator memory in host RAM. Addresses are opaque
// integers, never Go pointers, so they can cross the backend ABI.
type Device struct {
	name         string
	totalMemory  uint64
	computeMajor int
	computeMinor int

	mu     sync.Mutex
	next   ml.DevicePtr
	used   uint64
	allocs []allocation // nach base sortiert
}

// Option configures a Device.
type Option func(*Device)

// WithMemory limits the total bytes the device hands out.
func WithMemory(bytes uint64) Option {
	return func(d *Device) { d.totalMemory = bytes }
}

// WithComputeCapability sets the capability reported to plugins.
func WithComputeCapability(major, minor int) Option {
	return func(d *Device) { d.computeMajor, d.computeMinor = major, minor }
}

// NewDevice creates a device with 1 GiB of memory and compute capability 7.0.
func NewDevice(opts ...Option) *Device {
	d := &Device{
		name:         "host",
		totalMemory:  1 << 30,
		computeMajor: 7,
		computeMinor: 0,
		next:         baseAddress,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Default returns the process wide host device.
var Default = sync.OnceValue(func() *Device { return NewDevice() })

// Platform implements ml.Executor.
func (d *Device) Platform() ml.PlatformID { return PlatformID }

// Description implements ml.Executor.
func (d *Device) Description() ml.DeviceDescription {
	var features []string
	for _, f := range []struct {
		name string
		has  bool
	}{
		{"avx2", cpu.X86.HasAVX2},
		{"avx512f", cpu.X86.HasAVX512F},
		{"fma", cpu.X86.HasFMA},
		{"asimd", cpu.ARM64.HasASIMD},
		{"fp16", cpu.ARM64.HasFPHP},
	} {
		if f.has {
			features = append(features, f.name)
		}
	}

	return ml.DeviceDescription{
		Name:         d.name,
		TotalMemory:  d.totalMemory,
		ComputeMajor: d.computeMajor,
		ComputeMinor: d.computeMinor,
		Features:     features,
	}
}

// Allocate reserves size bytes. A zero size yields the nil memory.
func (d *Device) Allocate(size uint64) (ml.DeviceMemory, error) {
	if size == 0 {
		return ml.DeviceMemory{}, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.used+size > d.totalMemory {
		return ml.DeviceMemory{}, fmt.Errorf("%w: requested %s, %s of %s in use", ErrOutOfMemory,
			format.HumanBytes2(size), format.HumanBytes2(d.used), format.HumanBytes2(d.totalMemory))
	}

	words := make([]uint64, (size+7)/8)
	a := allocation{
		base: d.next,
		data: unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size),
	}
	d.allocs = append(d.allocs, a)
	d.used += size
	d.next += ml.DevicePtr((size + 2*alignment - 1) / alignment * alignment)

	slog.Debug("host allocate", "ptr", fmt.Sprintf("%#x", uintptr(a.base)), "size", format.HumanBytes2(size))
	return ml.NewDeviceMemory(a.base, size), nil
}

// Free releases the allocation starting at m's address.
func (d *Device) Free(m ml.DeviceMemory) {
	if m.IsNil() {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i, ok := slices.BinarySearchFunc(d.allocs, m.Opaque(), func(a allocation, p ml.DevicePtr) int {
		return cmpPtr(a.base, p)
	})
	if !ok {
		slog.Warn("host free of unknown address", "ptr", fmt.Sprintf("%#x", uintptr(m.Opaque())))
		return
	}
	d.used -= uint64(len(d.allocs[i].data))
	d.allocs = slices.Delete(d.allocs, i, i+1)
}

// Used returns the bytes currently allocated.
func (d *Device) Used() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.used
}

// Bytes resolves [ptr, ptr+size) to host memory. The range must lie
// inside one allocation.
func (d *Device) Bytes(ptr ml.DevicePtr, size uint64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	i, found := slices.BinarySearchFunc(d.allocs, ptr, func(a allocation, p ml.DevicePtr) int {
		return cmpPtr(a.base, p)
	})
	if !found {
		i--
	}
	if i < 0 {
		return nil, fmt.Errorf("host: address %#x not allocated", uintptr(ptr))
	}

	a := d.allocs[i]
	offset := uint64(ptr - a.base)
	if offset+size > uint64(len(a.data)) {
		return nil, fmt.Errorf("host: range %#x+%d exceeds allocation %#x+%d", uintptr(ptr), size, uintptr(a.base), len(a.data))
	}
	return a.data[offset : offset+size], nil
}

func cmpPtr(a, b ml.DevicePtr) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// allocator.go - Scratch-Allokator fuer einen einzelnen Aufruf

package host

import (
	"fmt"
	"sync"

	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml"
)

// ScratchAllocator hands out device memory up to a limit and frees all of
// it on Release.
type ScratchAllocator struct {
	dev   *Device
	limit int64

	mu     sync.Mutex
	allocs []ml.DeviceMemory
}

// NewScratchAllocator returns an allocator for at most limit bytes per
// allocation. A negative limit reports "unknown" and allows any size the
// device can satisfy.
func NewScratchAllocator(dev *Device, limit int64) *ScratchAllocator {
	return &ScratchAllocator{dev: dev, limit: limit}
}

func (a *ScratchAllocator) MemoryLimitInBytes(ml.Stream) int64 { return a.limit }

func (a *ScratchAllocator) AllocateBytes(_ ml.Stream, size uint64) (ml.DeviceMemory, error) {
	if a.limit >= 0 && size > uint64(a.limit) {
		return ml.DeviceMemory{}, fmt.Errorf("%w: scratch request %s over limit %s", ErrOutOfMemory,
			format.HumanBytes2(size), format.HumanBytes2(uint64(a.limit)))
	}

	m, err := a.dev.Allocate(size)
	if err != nil {
		return ml.DeviceMemory{}, err
	}

	a.mu.Lock()
	a.allocs = append(a.allocs, m)
	a.mu.Unlock()
	return m, nil
}

// Allocations returns what was handed out and not yet released.
func (a *ScratchAllocator) Allocations() []ml.DeviceMemory {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]ml.DeviceMemory(nil), a.allocs...)
}

// Release frees every allocation.
func (a *ScratchAllocator) Release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, m := range a.allocs {
		a.dev.Free(m)
	}
	a.allocs = nil
}

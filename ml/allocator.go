// allocator.go - Scratch-Speicher-Allokator
package ml

// ScratchAllocator hands out workspace memory for the duration of one
// call. Implementations must not cache allocations across calls.
type ScratchAllocator interface {
	// MemoryLimitInBytes is the largest allocation the allocator expects
	// to satisfy. Negative values mean no meaningful limit is known.
	MemoryLimitInBytes(s Stream) int64

	// AllocateBytes returns size bytes of device memory or an error.
	AllocateBytes(s Stream, size uint64) (DeviceMemory, error)
}

// memory.go - Geraetespeicher-Referenzen
// Enthält: DevicePtr, DeviceMemory und Teilbereiche
package ml

import "fmt"

// DevicePtr is an opaque device address. Zero is the null address.
type DevicePtr uintptr

// DeviceMemory references a region of device memory. It does not own the
// region; allocation and release belong to whoever produced it.
type DeviceMemory struct {
	ptr  DevicePtr
	size uint64
}

// NewDeviceMemory wraps an address and a size in bytes.
func NewDeviceMemory(ptr DevicePtr, size uint64) DeviceMemory {
	return DeviceMemory{ptr: ptr, size: size}
}

// Opaque returns the device address.
func (m DeviceMemory) Opaque() DevicePtr { return m.ptr }

// Size returns the size in bytes.
func (m DeviceMemory) Size() uint64 { return m.size }

// IsNil reports whether m references nothing.
func (m DeviceMemory) IsNil() bool { return m.ptr == 0 }

// ElementCount is the number of elements of elemSize bytes that fit in m.
func (m DeviceMemory) ElementCount(elemSize int) uint64 {
	if elemSize <= 0 {
		return 0
	}
	return m.size / uint64(elemSize)
}

// Slice returns the sub-region [offset, offset+size). It panics when the
// sub-region does not fit, like slicing a Go slice out of range.
func (m DeviceMemory) Slice(offset, size uint64) DeviceMemory {
	if offset+size > m.size {
		panic(fmt.Sprintf("ml: slice [%d:%d] out of range for %d bytes", offset, offset+size, m.size))
	}
	return DeviceMemory{ptr: m.ptr + DevicePtr(offset), size: size}
}

func (m DeviceMemory) String() string {
	return fmt.Sprintf("%#x+%d", uintptr(m.ptr), m.size)
}

// view.go - Typisierte Sichten auf Geraetespeicher
// Enthält: Float32/Float64/Uint16-Sichten, Lese- und Schreibhilfen inkl. FP16

package host

import (
	"fmt"
	"unsafe"

	"github.com/x448/float16"

	"github.com/clstream/cldnn/ml"
)

// Float32View reinterprets b as float32 values. Allocations are 8-byte
// aligned, so offsets that are multiples of 4 stay aligned.
func Float32View(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Float64View reinterprets b as float64 values.
func Float64View(b []byte) []float64 {
	if len(b) < 8 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// HalfView reinterprets b as raw IEEE 754 half precision values.
func HalfView(b []byte) []float16.Float16 {
	if len(b) < 2 {
		return nil
	}
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&b[0])), len(b)/2)
}

// =============================================================================
// Lese-/Schreibhilfen
// =============================================================================

// WriteFloat32 copies values to the start of m.
func (d *Device) WriteFloat32(m ml.DeviceMemory, values []float32) error {
	b, err := d.Bytes(m.Opaque(), uint64(len(values))*4)
	if err != nil {
		return err
	}
	copy(Float32View(b), values)
	return nil
}

// ReadFloat32 returns all float32 values of m.
func (d *Device) ReadFloat32(m ml.DeviceMemory) ([]float32, error) {
	b, err := d.Bytes(m.Opaque(), m.Size())
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), Float32View(b)...), nil
}

// WriteHalf converts values to half precision and copies them to m.
func (d *Device) WriteHalf(m ml.DeviceMemory, values []float32) error {
	b, err := d.Bytes(m.Opaque(), uint64(len(values))*2)
	if err != nil {
		return err
	}
	h := HalfView(b)
	for i, v := range values {
		h[i] = float16.Fromfloat32(v)
	}
	return nil
}

// ReadHalf returns all half precision values of m widened to float32.
func (d *Device) ReadHalf(m ml.DeviceMemory) ([]float32, error) {
	b, err := d.Bytes(m.Opaque(), m.Size())
	if err != nil {
		return nil, err
	}
	h := HalfView(b)
	out := make([]float32, len(h))
	for i, v := range h {
		out[i] = v.Float32()
	}
	return out, nil
}

// AllocateFloat32 allocates memory holding values.
func (d *Device) AllocateFloat32(values []float32) (ml.DeviceMemory, error) {
	m, err := d.Allocate(uint64(len(values)) * 4)
	if err != nil {
		return ml.DeviceMemory{}, err
	}
	if err := d.WriteFloat32(m, values); err != nil {
		d.Free(m)
		return ml.DeviceMemory{}, fmt.Errorf("host: initialise allocation: %w", err)
	}
	return m, nil
}

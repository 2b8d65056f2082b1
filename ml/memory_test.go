package ml

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceMemorySlice(t *testing.T) {
	m := NewDeviceMemory(0x1000, 64)
	assert.False(t, m.IsNil())
	assert.Equal(t, uint64(16), m.ElementCount(4))
	assert.Equal(t, uint64(0), m.ElementCount(0))

	s := m.Slice(16, 32)
	assert.Equal(t, DevicePtr(0x1010), s.Opaque())
	assert.Equal(t, uint64(32), s.Size())

	require.Panics(t, func() { m.Slice(48, 32) })
	assert.True(t, DeviceMemory{}.IsNil())
}

func TestPlatformIDStable(t *testing.T) {
	assert.Equal(t, NewPlatformID("host"), NewPlatformID("host"))
	assert.NotEqual(t, NewPlatformID("host"), NewPlatformID("opencl"))
	assert.NotEqual(t, NewID("platform", "x"), NewID("plugin", "x"))
	assert.Len(t, NewPlatformID("host").String(), 36)
}

func TestDeviceDescriptionString(t *testing.T) {
	d := DeviceDescription{Name: "host", TotalMemory: 1 << 30, ComputeMajor: 7, ComputeMinor: 0, Features: []string{"avx2"}}
	assert.Equal(t, "host (compute 7.0, 1.0 GiB) [avx2]", d.String())
}

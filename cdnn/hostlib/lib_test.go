package hostlib

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/ml"
	"github.com/clstream/cldnn/ml/backend/host"
)

// fixture is a library with one handle on a fresh device.
type fixture struct {
	t   *testing.T
	dev *host.Device
	lib *Lib
	h   cdnn.Handle
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	dev := host.NewDevice(host.WithMemory(64 << 20))
	f := &fixture{t: t, dev: dev, lib: New(dev, opts...)}
	require.Equal(t, cdnn.StatusSuccess, f.lib.Create(&f.h))
	t.Cleanup(func() { f.lib.Destroy(f.h) })
	return f
}

func (f *fixture) ok(st cdnn.Status) {
	f.t.Helper()
	require.Equal(f.t, cdnn.StatusSuccess, st)
}

// tensor creates a packed descriptor of type dt.
func (f *fixture) tensorOf(dt cdnn.DataType, dims ...int32) cdnn.TensorDescriptor {
	f.t.Helper()
	strides := make([]int32, len(dims))
	acc := int32(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return f.strided(dt, dims, strides)
}

func (f *fixture) tensor(dims ...int32) cdnn.TensorDescriptor {
	f.t.Helper()
	return f.tensorOf(cdnn.DataFloat, dims...)
}

func (f *fixture) strided(dt cdnn.DataType, dims, strides []int32) cdnn.TensorDescriptor {
	f.t.Helper()
	var d cdnn.TensorDescriptor
	f.ok(f.lib.CreateTensorDescriptor(&d))
	f.ok(f.lib.SetTensorNdDescriptor(d, dt, dims, strides))
	f.t.Cleanup(func() { f.lib.DestroyTensorDescriptor(d) })
	return d
}

func (f *fixture) filter(dims ...int32) cdnn.FilterDescriptor {
	f.t.Helper()
	var d cdnn.FilterDescriptor
	f.ok(f.lib.CreateFilterDescriptor(&d))
	f.ok(f.lib.SetFilterNdDescriptor(d, cdnn.DataFloat, cdnn.TensorNCHW, dims))
	f.t.Cleanup(func() { f.lib.DestroyFilterDescriptor(d) })
	return d
}

func (f *fixture) upload(vals ...float32) cdnn.Ptr {
	f.t.Helper()
	m, err := f.dev.AllocateFloat32(vals)
	require.NoError(f.t, err)
	return cdnn.Ptr(m.Opaque())
}

func (f *fixture) zeros(n int) cdnn.Ptr {
	f.t.Helper()
	return f.upload(make([]float32, n)...)
}

func (f *fixture) download(p cdnn.Ptr, n int) []float32 {
	f.t.Helper()
	out, err := f.dev.ReadFloat32(ml.NewDeviceMemory(ml.DevicePtr(p), uint64(n)*4))
	require.NoError(f.t, err)
	return out
}

func (f *fixture) uploadDouble(vals []float64) cdnn.Ptr {
	f.t.Helper()
	m, err := f.dev.Allocate(uint64(len(vals)) * 8)
	require.NoError(f.t, err)
	b, err := f.dev.Bytes(m.Opaque(), m.Size())
	require.NoError(f.t, err)
	copy(host.Float64View(b), vals)
	return cdnn.Ptr(m.Opaque())
}

func (f *fixture) downloadDouble(p cdnn.Ptr, n int) []float64 {
	f.t.Helper()
	b, err := f.dev.Bytes(ml.DevicePtr(p), uint64(n)*8)
	require.NoError(f.t, err)
	return append([]float64(nil), host.Float64View(b)...)
}

func TestBind(t *testing.T) {
	lib := New(host.NewDevice())
	l, err := cdnn.Bind(lib.Resolver())
	require.NoError(t, err)
	assert.Equal(t, uint64(cdnn.Version), l.GetVersion())
	assert.NotNil(t, l.SetConvolutionMathType)

	required, optional := cdnn.Symbols()
	assert.Len(t, lib.Resolver(), len(required)+len(optional))
}

func TestBindWithoutSymbols(t *testing.T) {
	l, err := cdnn.Bind(New(host.NewDevice(), WithoutSymbols("cudnnSetConvolutionMathType")).Resolver())
	require.NoError(t, err)
	assert.Nil(t, l.SetConvolutionMathType)

	_, err = cdnn.Bind(New(host.NewDevice(), WithoutSymbols("cudnnConvolutionForward")).Resolver())
	require.ErrorContains(t, err, "cudnnConvolutionForward")
}

func TestWithVersion(t *testing.T) {
	assert.Equal(t, uint64(6021), New(host.NewDevice(), WithVersion(6021)).GetVersion())
}

func TestObjectLifetime(t *testing.T) {
	lib := New(host.NewDevice())
	var h cdnn.Handle
	require.Equal(t, cdnn.StatusSuccess, lib.Create(&h))

	var td cdnn.TensorDescriptor
	require.Equal(t, cdnn.StatusSuccess, lib.CreateTensorDescriptor(&td))
	assert.Equal(t, 2, lib.Live())

	// falscher Typ
	assert.Equal(t, cdnn.StatusBadParam, lib.DestroyFilterDescriptor(cdnn.FilterDescriptor(td)))
	assert.Equal(t, cdnn.StatusSuccess, lib.DestroyTensorDescriptor(td))
	assert.Equal(t, cdnn.StatusBadParam, lib.DestroyTensorDescriptor(td))

	require.Equal(t, cdnn.StatusSuccess, lib.SetStream(h, 42))
	assert.Equal(t, cdnn.Stream(42), lib.Stream(h))
	assert.Equal(t, cdnn.StatusSuccess, lib.Destroy(h))
	assert.Zero(t, lib.Live())
}

func TestTensorDescriptorRoundTrip(t *testing.T) {
	f := newFixture(t)
	d := f.strided(cdnn.DataHalf, []int32{2, 3, 4, 4}, []int32{48, 1, 12, 3})

	var dt cdnn.DataType
	var n int32
	dims := make([]int32, 8)
	strides := make([]int32, 8)
	f.ok(f.lib.GetTensorNdDescriptor(d, &dt, &n, dims, strides))
	assert.Equal(t, cdnn.DataHalf, dt)
	assert.Equal(t, []int32{2, 3, 4, 4}, dims[:n])
	assert.Equal(t, []int32{48, 1, 12, 3}, strides[:n])

	var bad cdnn.TensorDescriptor
	f.ok(f.lib.CreateTensorDescriptor(&bad))
	defer f.lib.DestroyTensorDescriptor(bad)
	assert.Equal(t, cdnn.StatusBadParam, f.lib.SetTensorNdDescriptor(bad, cdnn.DataFloat, []int32{1, 0, 1}, []int32{1, 1, 1}))
	assert.Equal(t, cdnn.StatusBadParam, f.lib.SetTensorNdDescriptor(bad, cdnn.DataFloat, []int32{1, 1}, []int32{1, 1}))
	assert.Equal(t, cdnn.StatusNotSupported, f.lib.SetTensorNdDescriptor(bad, cdnn.DataInt8, []int32{1, 1, 1}, []int32{1, 1, 1}))
}

func TestAddTensorBroadcast(t *testing.T) {
	f := newFixture(t)
	bias := f.tensor(1, 2, 1, 1)
	c := f.tensor(1, 2, 2, 2)
	bp := f.upload(1, 2)
	cp := f.upload(1, 2, 3, 4, 5, 6, 7, 8)

	f.ok(f.lib.AddTensor(f.h, 1, bias, bp, 1, c, cp))
	assert.Equal(t, []float32{2, 3, 4, 5, 7, 8, 9, 10}, f.download(cp, 8))

	mismatched := f.tensor(1, 3, 1, 1)
	assert.Equal(t, cdnn.StatusBadParam, f.lib.AddTensor(f.h, 1, mismatched, bp, 1, c, cp))
}

func TestTransformTensorToChannelsLast(t *testing.T) {
	f := newFixture(t)
	src := f.tensor(1, 2, 1, 2)
	dst := f.strided(cdnn.DataFloat, []int32{1, 2, 1, 2}, []int32{4, 1, 4, 2})
	sp := f.upload(1, 2, 3, 4)
	dp := f.zeros(4)

	f.ok(f.lib.TransformTensor(f.h, 1, src, sp, 0, dst, dp))
	assert.Equal(t, []float32{1, 3, 2, 4}, f.download(dp, 4))
}

func TestHalfTensors(t *testing.T) {
	f := newFixture(t)
	d := f.tensorOf(cdnn.DataHalf, 1, 1, 1, 4)
	m, err := f.dev.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, f.dev.WriteHalf(m, []float32{1, -2, 0.5, 8}))

	f.ok(f.lib.AddTensor(f.h, 1, d, cdnn.Ptr(m.Opaque()), 1, d, cdnn.Ptr(m.Opaque())))
	got, err := f.dev.ReadHalf(m)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, -4, 1, 16}, got)
}

package cldnn

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

// =============================================================================
// Pooling
// =============================================================================

func TestPoolMax(t *testing.T) {
	f := newFixture(t)
	pool := dnn.NewPoolingDescriptor(2)
	pool.Window = []int64{2, 2}
	pool.Strides = []int64{2, 2}

	in := dnn.NewBatchDescriptor2D(1, 1, 4, 4, dnn.BatchDepthYX)
	out := dnn.NewBatchDescriptor2D(1, 1, 2, 2, dnn.BatchDepthYX)
	x := f.upload(seq(16)...)
	y := f.zeros(4)

	require.NoError(t, f.s.DoPoolForward(f.stream, dnn.Float, pool, in, x, out, y))
	assert.Equal(t, []float32{6, 8, 14, 16}, f.download(y))

	dx := f.zeros(16)
	require.NoError(t, f.s.DoPoolBackward(f.stream, dnn.Float, pool, in, x, out, y, f.upload(1, 2, 3, 4), dx))
	want := make([]float32, 16)
	want[5], want[7], want[13], want[15] = 1, 2, 3, 4
	assert.Equal(t, want, f.download(dx))
	f.requireNoLeaks()
}

func TestPoolAverageExcludesPadding(t *testing.T) {
	f := newFixture(t)
	pool := dnn.NewPoolingDescriptor(2)
	pool.Mode = dnn.PoolingAverage
	pool.Window = []int64{2, 2}
	pool.Padding = []int64{1, 1}
	pool.Strides = []int64{2, 2}

	dims := dnn.NewBatchDescriptor2D(1, 1, 2, 2, dnn.BatchDepthYX)
	y := f.zeros(4)
	require.NoError(t, f.s.DoPoolForward(f.stream, dnn.Float, pool, dims, f.upload(1, 2, 3, 4), dims, y))
	assert.Equal(t, []float32{1, 2, 3, 4}, f.download(y))
}

func TestPoolRejectsShape(t *testing.T) {
	f := newFixture(t)
	pool := dnn.NewPoolingDescriptor(2)
	pool.Window = []int64{2, 2}
	pool.Strides = []int64{2, 2}

	err := f.s.DoPoolForward(f.stream, dnn.Float, pool,
		dnn.NewBatchDescriptor2D(1, 1, 4, 4, dnn.BatchDepthYX), f.zeros(16),
		dnn.NewBatchDescriptor2D(1, 1, 3, 3, dnn.BatchDepthYX), f.zeros(9))
	require.Error(t, err)
	f.requireNoLeaks()

	err = f.s.DoPoolForward(f.stream, dnn.Int8, pool,
		dnn.NewBatchDescriptor2D(1, 1, 4, 4, dnn.BatchDepthYX), f.zeros(16),
		dnn.NewBatchDescriptor2D(1, 1, 2, 2, dnn.BatchDepthYX), f.zeros(4))
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)
}

// =============================================================================
// Aktivierung und Bias
// =============================================================================

func TestActivate(t *testing.T) {
	cases := []struct {
		mode dnn.ActivationMode
		want []float32
	}{
		{dnn.ActivationRelu, []float32{0, 0, 3, 9}},
		{dnn.ActivationRelu6, []float32{0, 0, 3, 6}},
		{dnn.ActivationReluX, []float32{0, 0, 2, 2}},
		{dnn.ActivationTanh, []float32{float32(math.Tanh(-1)), 0, float32(math.Tanh(3)), float32(math.Tanh(9))}},
		{dnn.ActivationSigmoid, []float32{float32(1 / (1 + math.E)), 0.5, float32(1 / (1 + math.Exp(-3))), float32(1 / (1 + math.Exp(-9)))}},
	}

	f := newFixture(t)
	dims := dnn.NewBatchDescriptor2D(1, 1, 1, 4, dnn.BatchDepthYX)
	dims.ValueMax = 2
	for _, tt := range cases {
		t.Run(tt.mode.String(), func(t *testing.T) {
			y := f.zeros(4)
			require.NoError(t, f.s.DoActivate(f.stream, tt.mode, dims, f.upload(-1, 0, 3, 9), y))
			assert.InDeltaSlice(t, tt.want, f.download(y), 1e-6)
		})
	}

	err := f.s.DoActivate(f.stream, dnn.ActivationBandPass, dims, f.zeros(4), f.zeros(4))
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)
	f.requireNoLeaks()
}

func TestBiasAdd(t *testing.T) {
	f := newFixture(t)
	dims := dnn.NewBatchDescriptor2D(1, 2, 1, 2, dnn.BatchDepthYX)
	biases := f.upload(10, 20)

	cases := []struct {
		name    string
		inPlace bool
		calls   int
		want    []float32
	}{
		{"copy", false, 1, []float32{11, 12, 23, 24}},
		{"copy twice", false, 2, []float32{11, 12, 23, 24}},
		{"in place", true, 1, []float32{11, 12, 23, 24}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			x := f.upload(1, 2, 3, 4)
			y := x
			if !tt.inPlace {
				y = f.zeros(4)
			}
			for range tt.calls {
				require.NoError(t, f.s.DoBiasAdd(f.stream, x, biases, dims, y))
			}
			assert.Equal(t, tt.want, f.download(y))
			if !tt.inPlace {
				assert.Equal(t, []float32{1, 2, 3, 4}, f.download(x))
			}
		})
	}

	f.requireNoLeaks()
}

// =============================================================================
// Batch-Normalisierung
// =============================================================================

func TestBatchNormalization(t *testing.T) {
	const eps = 1e-3
	f := newFixture(t)

	xDesc := dnn.NewBatchDescriptor2D(2, 1, 1, 2, dnn.BatchDepthYX)
	scaleDesc := dnn.NewBatchDescriptor2D(1, 1, 1, 1, dnn.BatchDepthYX)
	x := f.upload(1, 2, 3, 4)

	inv := 1 / math.Sqrt(1.25+eps)
	want := []float32{float32(-1.5 * inv), float32(-0.5 * inv), float32(0.5 * inv), float32(1.5 * inv)}

	train := dnn.BatchNormForwardArgs{
		X:               x,
		Scale:           f.upload(1),
		Offset:          f.upload(0),
		XDesc:           xDesc,
		ScaleOffsetDesc: scaleDesc,
		Epsilon:         eps,
		Y:               f.zeros(4),
		BatchMean:       f.upload(100),
		BatchVar:        f.upload(100),
		SavedMean:       f.zeros(1),
		SavedInvVar:     f.zeros(1),
		IsTraining:      true,
	}
	require.NoError(t, f.s.DoBatchNormalizationForward(f.stream, dnn.Float, train))
	assert.InDeltaSlice(t, want, f.download(train.Y), 1e-5)
	assert.InDelta(t, 2.5, f.download(train.BatchMean)[0], 1e-6)
	assert.InDelta(t, 1.25*4/3, f.download(train.BatchVar)[0], 1e-5)
	assert.InDelta(t, inv, f.download(train.SavedInvVar)[0], 1e-5)

	infer := train
	infer.IsTraining = false
	infer.EstimatedMean = f.upload(2.5)
	infer.EstimatedVariance = f.upload(1.25)
	infer.Y = f.zeros(4)
	require.NoError(t, f.s.DoBatchNormalizationForward(f.stream, dnn.Float, infer))
	assert.InDeltaSlice(t, want, f.download(infer.Y), 1e-5)

	back := dnn.BatchNormBackwardArgs{
		YBackprop:       f.upload(1, 1, 1, 1),
		X:               x,
		Scale:           f.upload(2),
		Mean:            train.SavedMean,
		InvVariance:     train.SavedInvVar,
		XDesc:           xDesc,
		ScaleOffsetDesc: scaleDesc,
		Epsilon:         eps,
		XBackprop:       f.zeros(4),
		ScaleBackprop:   f.zeros(1),
		OffsetBackprop:  f.zeros(1),
	}
	require.NoError(t, f.s.DoBatchNormalizationBackward(f.stream, dnn.Float, back))
	assert.InDeltaSlice(t, []float32{0, 0, 0, 0}, f.download(back.XBackprop), 1e-5)
	assert.InDelta(t, 0, f.download(back.ScaleBackprop)[0], 1e-5)
	assert.InDelta(t, 4, f.download(back.OffsetBackprop)[0], 1e-6)
	f.requireNoLeaks()
}

func TestBatchNormalizationDataTypes(t *testing.T) {
	f := newFixture(t)
	err := f.s.DoBatchNormalizationForward(f.stream, dnn.Double, dnn.BatchNormForwardArgs{})
	require.ErrorIs(t, err, dnn.ErrUnimplemented)
	err = f.s.DoBatchNormalizationBackward(f.stream, dnn.Half, dnn.BatchNormBackwardArgs{})
	require.ErrorIs(t, err, dnn.ErrUnimplemented)
}

// =============================================================================
// LRN
// =============================================================================

func TestNormalizeWithDimensions(t *testing.T) {
	f := newFixture(t)
	dims := dnn.NewBatchDescriptor2D(1, 2, 1, 1, dnn.BatchDepthYX)
	nd := dnn.NormalizeDescriptor{Bias: 1, Range: 0, Alpha: 1, Beta: 1}

	x := f.upload(1, 2)
	y := f.zeros(2)
	require.NoError(t, f.s.DoNormalizeWithDimensions(f.stream, nd, dims, x, y))
	assert.InDeltaSlice(t, []float32{0.5, 0.4}, f.download(y), 1e-6)

	// y = x / (1 + x²), so dy/dx = (1 - x²) / (1 + x²)².
	dx := f.zeros(2)
	require.NoError(t, f.s.DoNormalizeBackwardWithDimensions(f.stream, nd, dims, x, y, f.upload(1, 1), dx))
	assert.InDeltaSlice(t, []float32{0, -0.12}, f.download(dx), 1e-5)
	f.requireNoLeaks()
}

func TestNormalizeUnsupported(t *testing.T) {
	f := newFixture(t)
	dims := dnn.NewBatchDescriptor2D(1, 2, 1, 1, dnn.BatchDepthYX)
	m := f.zeros(2)

	for _, nd := range []dnn.NormalizeDescriptor{
		{Bias: 1, Alpha: 1, Beta: 1, WrapAround: true},
		{Bias: 1, Alpha: 1, Beta: 1, SegmentSize: 4},
	} {
		require.ErrorIs(t, f.s.DoNormalizeWithDimensions(f.stream, nd, dims, m, m), dnn.ErrUnimplemented)
		require.ErrorIs(t, f.s.DoNormalizeBackwardWithDimensions(f.stream, nd, dims, m, m, m, m), dnn.ErrUnimplemented)
	}
}

// =============================================================================
// MatMul und Konkatenation
// =============================================================================

func TestMatMulSinglePosition(t *testing.T) {
	f := newFixture(t)
	in := dnn.NewBatchDescriptor2D(2, 3, 1, 1, dnn.BatchDepthYX)
	out := dnn.NewBatchDescriptor2D(2, 2, 1, 1, dnn.BatchDepthYX)

	y := f.zeros(4)
	require.NoError(t, f.s.DoMatMul(f.stream, f.upload(1, 1, 1, 1, 0, 2), f.upload(1, 2, 3, 4, 5, 6), in, out, y))
	assert.Equal(t, []float32{9, 12, 11, 14}, f.download(y))
}

func TestMatMulPerPosition(t *testing.T) {
	f := newFixture(t)
	in := dnn.NewBatchDescriptor2D(1, 2, 1, 1, dnn.BatchDepthYX)
	out := dnn.NewBatchDescriptor2D(1, 2, 1, 2, dnn.BatchYXDepth)

	y := f.zeros(4)
	require.NoError(t, f.s.DoMatMul(f.stream, f.upload(1, 2), f.upload(seq(8)...), in, out, y))
	assert.Equal(t, []float32{7, 10, 19, 22}, f.download(y))
}

func TestMatMulInvalidArguments(t *testing.T) {
	f := newFixture(t)
	m := f.zeros(16)

	err := f.s.DoMatMul(f.stream, m, m,
		dnn.NewBatchDescriptor2D(2, 2, 1, 1, dnn.BatchDepthYX),
		dnn.NewBatchDescriptor2D(1, 2, 1, 1, dnn.BatchDepthYX), m)
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)

	err = f.s.DoMatMul(f.stream, m, m,
		dnn.NewBatchDescriptor2D(1, 2, 1, 1, dnn.BatchDepthYX),
		dnn.NewBatchDescriptor2D(1, 2, 1, 2, dnn.BatchDepthYX), m)
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)

	err = f.s.DoMatMul(f.stream, m, m,
		dnn.NewBatchDescriptor2D(1, 2, 1, 1, dnn.YXDepthBatch),
		dnn.NewBatchDescriptor2D(1, 2, 1, 1, dnn.BatchDepthYX), m)
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)
}

func TestDepthConcatenate(t *testing.T) {
	// ramp returns n values starting at from.
	ramp := func(from float32, n int) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = from + float32(i)
		}
		return out
	}

	cases := []struct {
		name   string
		dims   []dnn.BatchDescriptor
		inputs [][]float32
		want   func(t *testing.T, out []float32)
	}{
		{
			name: "batch 2",
			dims: []dnn.BatchDescriptor{
				dnn.NewBatchDescriptor2D(2, 1, 1, 2, dnn.BatchDepthYX),
				dnn.NewBatchDescriptor2D(2, 2, 1, 2, dnn.BatchDepthYX),
			},
			inputs: [][]float32{{1, 2, 3, 4}, {10, 11, 12, 13, 14, 15, 16, 17}},
			want: func(t *testing.T, out []float32) {
				assert.Equal(t, []float32{1, 2, 10, 11, 12, 13, 3, 4, 14, 15, 16, 17}, out)
			},
		},
		{
			name: "depths 3 and 5",
			dims: []dnn.BatchDescriptor{
				dnn.NewBatchDescriptor2D(1, 3, 2, 2, dnn.BatchDepthYX),
				dnn.NewBatchDescriptor2D(1, 5, 2, 2, dnn.BatchDepthYX),
			},
			inputs: [][]float32{ramp(0, 12), ramp(100, 20)},
			want: func(t *testing.T, out []float32) {
				require.Len(t, out, 32)
				assert.Equal(t, ramp(0, 12), out[:12])
				assert.Equal(t, ramp(100, 20), out[12:])
				// output element [b=0, d=4, yx=0] comes from input 2 [b=0, d=1, yx=0]
				assert.Equal(t, float32(104), out[4*4])
			},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			var (
				data []ml.DeviceMemory
				n    int
			)
			for _, in := range tt.inputs {
				data = append(data, f.upload(in...))
				n += len(in)
			}

			out := f.zeros(n)
			require.NoError(t, f.s.DoDepthConcatenate(f.stream, tt.dims, data, out))
			tt.want(t, f.download(out))
		})
	}
}

func TestDepthConcatenateInvalid(t *testing.T) {
	f := newFixture(t)
	m := f.zeros(8)

	require.NoError(t, f.s.DoDepthConcatenate(f.stream, nil, nil, m))

	a := dnn.NewBatchDescriptor2D(1, 1, 1, 2, dnn.BatchDepthYX)
	err := f.s.DoDepthConcatenate(f.stream, []dnn.BatchDescriptor{a, a}, []ml.DeviceMemory{m}, m)
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)

	b := dnn.NewBatchDescriptor2D(1, 1, 1, 2, dnn.BatchYXDepth)
	err = f.s.DoDepthConcatenate(f.stream, []dnn.BatchDescriptor{a, b}, []ml.DeviceMemory{m, m}, m)
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)

	c := dnn.NewBatchDescriptor2D(2, 1, 1, 2, dnn.BatchDepthYX)
	err = f.s.DoDepthConcatenate(f.stream, []dnn.BatchDescriptor{a, c}, []ml.DeviceMemory{m, m}, m)
	require.Error(t, err)

	short := f.zeros(1)
	err = f.s.DoDepthConcatenate(f.stream, []dnn.BatchDescriptor{a, a}, []ml.DeviceMemory{m, short}, m)
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)

	err = f.s.DoDepthConcatenate(f.stream, []dnn.BatchDescriptor{a, a}, []ml.DeviceMemory{m, m}, short)
	require.ErrorIs(t, err, dnn.ErrInvalidArgument)
}

package cldnn

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
)

func (f *fixture) tensorShape(d *tensorDescriptor) (dims, strides []int32) {
	f.t.Helper()
	var n int32
	dims = make([]int32, 8)
	strides = make([]int32, 8)
	require.Equal(f.t, cdnn.StatusSuccess, f.lib.GetTensorNdDescriptor(d.Handle(), nil, &n, dims, strides))
	return dims[:n], strides[:n]
}

func TestTensorDescriptorLayouts(t *testing.T) {
	cases := []struct {
		name    string
		layout  dnn.DataLayout
		strides []int32
	}{
		{"BatchDepthYX", dnn.BatchDepthYX, []int32{48, 16, 4, 1}},
		{"BatchYXDepth", dnn.BatchYXDepth, []int32{48, 1, 12, 3}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := newTensorDescriptor(f.lib, dnn.NewBatchDescriptor2D(2, 3, 4, 4, tt.layout), cdnn.DataFloat)
			defer d.Close()

			dims, strides := f.tensorShape(d)
			if diff := cmp.Diff([]int32{2, 3, 4, 4}, dims); diff != "" {
				t.Errorf("dims mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.strides, strides); diff != "" {
				t.Errorf("strides mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTensorDescriptorUnsupportedLayout(t *testing.T) {
	f := newFixture(t)
	assert.Panics(t, func() {
		newTensorDescriptor(f.lib, dnn.NewBatchDescriptor2D(1, 1, 2, 2, dnn.YXDepthBatch), cdnn.DataFloat)
	})
	f.requireNoLeaks()
}

func TestDescriptorCloseIsIdempotent(t *testing.T) {
	f := newFixture(t)
	d := newTensorDescriptor(f.lib, dnn.NewBatchDescriptor2D(1, 1, 2, 2, dnn.BatchDepthYX), cdnn.DataFloat)
	assert.Equal(t, 2, f.host.Live())
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
	f.requireNoLeaks()
}

func TestCheckedNarrowing(t *testing.T) {
	assert.Equal(t, int32(math.MaxInt32), checkedNarrowing(math.MaxInt32))
	assert.Equal(t, int32(-7), checkedNarrowing(-7))
	assert.Panics(t, func() { checkedNarrowing(math.MaxInt32 + 1) })
}

func TestFilterDescriptor(t *testing.T) {
	f := newFixture(t)
	d := newFilterDescriptor(f.lib, dnn.NewFilterDescriptor2D(8, 3, 5, 7), cdnn.DataHalf)
	defer d.Close()

	var (
		dt     cdnn.DataType
		format cdnn.TensorFormat
		n      int32
	)
	dims := make([]int32, 8)
	require.Equal(t, cdnn.StatusSuccess, f.lib.GetFilterNdDescriptor(d.Handle(), &dt, &format, &n, dims))
	assert.Equal(t, cdnn.DataHalf, dt)
	assert.Equal(t, cdnn.TensorNCHW, format)
	assert.Equal(t, []int32{8, 3, 5, 7}, dims[:n])

	filter := dnn.NewFilterDescriptor2D(8, 3, 5, 7)
	filter.Layout = dnn.OutputYXInput
	assert.Panics(t, func() { newFilterDescriptor(f.lib, filter, cdnn.DataFloat) })
}

func TestActivationMode(t *testing.T) {
	cases := []struct {
		mode dnn.ActivationMode
		want cdnn.ActivationMode
		coef float64
	}{
		{dnn.ActivationRelu6, cdnn.ActivationClippedRelu, 6},
		{dnn.ActivationReluX, cdnn.ActivationClippedRelu, 2.5},
		{dnn.ActivationRelu, cdnn.ActivationRelu, math.MaxFloat64},
		{dnn.ActivationSigmoid, cdnn.ActivationSigmoid, math.MaxFloat64},
		{dnn.ActivationTanh, cdnn.ActivationTanh, math.MaxFloat64},
	}

	for _, tt := range cases {
		t.Run(tt.mode.String(), func(t *testing.T) {
			got, coef, err := activationMode(tt.mode, 2.5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.coef, coef)
		})
	}

	for _, mode := range []dnn.ActivationMode{dnn.ActivationNone, dnn.ActivationBandPass} {
		_, _, err := activationMode(mode, 0)
		assert.Error(t, err, mode.String())
	}
}

func TestConvolutionDescriptorTensorOpMath(t *testing.T) {
	cases := []struct {
		name string
		alg  dnn.AlgorithmDesc
		flag bool
		want cdnn.MathType
	}{
		{"requested", dnn.AlgorithmDesc{ID: 1, TensorOps: true}, true, cdnn.TensorOpMath},
		{"flag off", dnn.AlgorithmDesc{ID: 1, TensorOps: true}, false, cdnn.DefaultMath},
		{"not requested", dnn.AlgorithmDesc{ID: 1}, true, cdnn.DefaultMath},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			d := newConvolutionDescriptor(f.lib, dnn.NewConvolutionDescriptor(2), cdnn.DataFloat)
			defer d.Close()

			flags := allFlags
			flags.TensorOpMath = tt.flag
			d.setTensorOpMath(tt.alg, flags)

			got, ok := f.host.MathType(d.Handle())
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConvolutionDescriptorWithoutMathSetter(t *testing.T) {
	f := newFixture(t)
	f.lib.SetConvolutionMathType = nil

	d := newConvolutionDescriptor(f.lib, dnn.NewConvolutionDescriptor(2), cdnn.DataFloat)
	defer d.Close()
	assert.NotPanics(t, func() { d.setTensorOpMath(dnn.AlgorithmDesc{ID: 0, TensorOps: true}, allFlags) })
}

func TestPoolingAndLRNDescriptors(t *testing.T) {
	f := newFixture(t)

	pool := dnn.NewPoolingDescriptor(2)
	pool.Mode = dnn.PoolingAverage
	pool.Window = []int64{2, 2}
	p := newPoolingDescriptor(f.lib, pool)
	lrn := newLRNDescriptor(f.lib, dnn.NormalizeDescriptor{Bias: 1, Range: 2, Alpha: 1e-4, Beta: 0.75})
	assert.Equal(t, 3, f.host.Live())

	require.NoError(t, p.Close())
	require.NoError(t, lrn.Close())
	f.requireNoLeaks()
}

package hostlib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/cdnn"
)

func (f *fixture) pooling(mode cdnn.PoolingMode, window, pad, stride int32) cdnn.PoolingDescriptor {
	f.t.Helper()
	var d cdnn.PoolingDescriptor
	f.ok(f.lib.CreatePoolingDescriptor(&d))
	f.ok(f.lib.SetPoolingNdDescriptor(d, mode, cdnn.PropagateNan, []int32{window, window}, []int32{pad, pad}, []int32{stride, stride}))
	f.t.Cleanup(func() { f.lib.DestroyPoolingDescriptor(d) })
	return d
}

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i + 1)
	}
	return out
}

func TestPoolingMax(t *testing.T) {
	f := newFixture(t)
	pool := f.pooling(cdnn.PoolingMax, 2, 0, 2)
	x := f.tensor(1, 1, 4, 4)
	y := f.tensor(1, 1, 2, 2)
	xp := f.upload(seq(16)...)
	yp := f.zeros(4)

	f.ok(f.lib.PoolingForward(f.h, pool, 1, x, xp, 0, y, yp))
	assert.Equal(t, []float32{6, 8, 14, 16}, f.download(yp, 4))

	dy := f.upload(1, 1, 1, 1)
	dx := f.zeros(16)
	f.ok(f.lib.PoolingBackward(f.h, pool, 1, y, yp, y, dy, x, xp, 0, x, dx))
	want := make([]float32, 16)
	for _, i := range []int{5, 7, 13, 15} {
		want[i] = 1
	}
	assert.Equal(t, want, f.download(dx, 16))
}

func TestPoolingAveragePadding(t *testing.T) {
	f := newFixture(t)
	x := f.tensor(1, 1, 2, 2)
	y := f.tensor(1, 1, 2, 2)
	xp := f.upload(1, 2, 3, 4)

	yp := f.zeros(4)
	f.ok(f.lib.PoolingForward(f.h, f.pooling(cdnn.PoolingAverageCountExcludePadding, 2, 1, 2), 1, x, xp, 0, y, yp))
	assert.Equal(t, []float32{1, 2, 3, 4}, f.download(yp, 4))

	f.ok(f.lib.PoolingForward(f.h, f.pooling(cdnn.PoolingAverageCountIncludePadding, 2, 1, 2), 1, x, xp, 0, y, yp))
	assert.Equal(t, []float32{0.25, 0.5, 0.75, 1}, f.download(yp, 4))
}

func TestPoolingRejectsOutputShape(t *testing.T) {
	f := newFixture(t)
	pool := f.pooling(cdnn.PoolingMax, 2, 0, 2)
	assert.Equal(t, cdnn.StatusBadParam, f.lib.PoolingForward(f.h, pool, 1, f.tensor(1, 1, 4, 4), f.zeros(16), 0, f.tensor(1, 1, 3, 3), f.zeros(9)))
}

func TestActivation(t *testing.T) {
	f := newFixture(t)
	d := f.tensor(1, 1, 1, 4)
	var act cdnn.ActivationDescriptor
	f.ok(f.lib.CreateActivationDescriptor(&act))
	defer f.lib.DestroyActivationDescriptor(act)

	cases := []struct {
		mode cdnn.ActivationMode
		coef float64
		want []float32
	}{
		{cdnn.ActivationRelu, 0, []float32{0, 0, 3, 9}},
		{cdnn.ActivationClippedRelu, 6, []float32{0, 0, 3, 6}},
		{cdnn.ActivationTanh, 0, []float32{float32(math.Tanh(-1)), 0, float32(math.Tanh(3)), float32(math.Tanh(9))}},
		{cdnn.ActivationSigmoid, 0, []float32{float32(1 / (1 + math.E)), 0.5, float32(1 / (1 + math.Exp(-3))), float32(1 / (1 + math.Exp(-9)))}},
	}
	for _, tt := range cases {
		f.ok(f.lib.SetActivationDescriptor(act, tt.mode, cdnn.PropagateNan, tt.coef))
		xp := f.upload(-1, 0, 3, 9)
		yp := f.zeros(4)
		f.ok(f.lib.ActivationForward(f.h, act, 1, d, xp, 0, d, yp))
		assert.InDeltaSlice(t, tt.want, f.download(yp, 4), 1e-6, "mode %d", tt.mode)
	}
}

func TestLRNForward(t *testing.T) {
	f := newFixture(t)
	var lrn cdnn.LRNDescriptor
	f.ok(f.lib.CreateLRNDescriptor(&lrn))
	defer f.lib.DestroyLRNDescriptor(lrn)
	f.ok(f.lib.SetLRNDescriptor(lrn, 1, 1, 1, 1))

	d := f.tensor(1, 2, 1, 1)
	xp := f.upload(1, 2)
	yp := f.zeros(2)
	f.ok(f.lib.LRNCrossChannelForward(f.h, lrn, cdnn.LRNCrossChannelDim1, 1, d, xp, 0, d, yp))
	assert.InDeltaSlice(t, []float32{0.5, 0.4}, f.download(yp, 2), 1e-6)

	assert.Equal(t, cdnn.StatusBadParam, f.lib.SetLRNDescriptor(lrn, 17, 1, 1, 1))
	assert.Equal(t, cdnn.StatusBadParam, f.lib.SetLRNDescriptor(lrn, 5, 1, 0, 1))
}

// TestLRNBackwardMatchesFiniteDifference checks dx against the numeric
// gradient of L = Σ dy·y.
func TestLRNBackwardMatchesFiniteDifference(t *testing.T) {
	f := newFixture(t)
	var lrn cdnn.LRNDescriptor
	f.ok(f.lib.CreateLRNDescriptor(&lrn))
	defer f.lib.DestroyLRNDescriptor(lrn)

	for _, n := range []uint32{3, 4} {
		f.ok(f.lib.SetLRNDescriptor(lrn, n, 0.8, 0.75, 1.5))

		d := f.tensorOf(cdnn.DataDouble, 1, 5, 1, 1)
		x := []float64{0.3, -1.2, 0.7, 2.0, -0.4}
		dy := []float64{1, -0.5, 0.25, 2, -1}

		forward := func(x []float64) []float64 {
			yp := f.uploadDouble(make([]float64, 5))
			f.ok(f.lib.LRNCrossChannelForward(f.h, lrn, cdnn.LRNCrossChannelDim1, 1, d, f.uploadDouble(x), 0, d, yp))
			return f.downloadDouble(yp, 5)
		}
		loss := func(x []float64) float64 {
			sum := 0.0
			for i, v := range forward(x) {
				sum += dy[i] * v
			}
			return sum
		}

		xp := f.uploadDouble(x)
		yp := f.uploadDouble(forward(x))
		dxp := f.uploadDouble(make([]float64, 5))
		f.ok(f.lib.LRNCrossChannelBackward(f.h, lrn, cdnn.LRNCrossChannelDim1, 1, d, yp, d, f.uploadDouble(dy), d, xp, 0, d, dxp))
		got := f.downloadDouble(dxp, 5)

		const eps = 1e-6
		for i := range x {
			plus := append([]float64(nil), x...)
			minus := append([]float64(nil), x...)
			plus[i] += eps
			minus[i] -= eps
			numeric := (loss(plus) - loss(minus)) / (2 * eps)
			assert.InDelta(t, numeric, got[i], 1e-6, "n=%d i=%d", n, i)
		}
	}
}

func TestBatchNormTrainingAndInference(t *testing.T) {
	f := newFixture(t)
	x := f.tensor(2, 1, 1, 2)
	bn := f.tensor(1, 1, 1, 1)
	xp := f.upload(1, 2, 3, 4)
	scale := f.upload(1)
	bias := f.upload(0)
	runMean := f.zeros(1)
	runVar := f.zeros(1)
	saveMean := f.zeros(1)
	saveInv := f.zeros(1)
	yp := f.zeros(4)

	const eps = 1e-3
	f.ok(f.lib.BatchNormalizationForwardTraining(f.h, cdnn.BatchNormSpatial, 1, 0, x, xp, x, yp, bn, scale, bias, 1, runMean, runVar, eps, saveMean, saveInv))

	inv := 1 / math.Sqrt(1.25+eps)
	want := []float32{float32(-1.5 * inv), float32(-0.5 * inv), float32(0.5 * inv), float32(1.5 * inv)}
	assert.InDeltaSlice(t, want, f.download(yp, 4), 1e-5)
	assert.InDelta(t, 2.5, f.download(runMean, 1)[0], 1e-6)
	assert.InDelta(t, 1.25*4/3, f.download(runVar, 1)[0], 1e-5)
	assert.InDelta(t, 2.5, f.download(saveMean, 1)[0], 1e-6)
	assert.InDelta(t, inv, f.download(saveInv, 1)[0], 1e-5)

	mean := f.upload(2.5)
	variance := f.upload(1.25)
	yi := f.zeros(4)
	f.ok(f.lib.BatchNormalizationForwardInference(f.h, cdnn.BatchNormSpatial, 1, 0, x, xp, x, yi, bn, scale, bias, mean, variance, eps))
	assert.InDeltaSlice(t, want, f.download(yi, 4), 1e-5)

	assert.Equal(t, cdnn.StatusBadParam, f.lib.BatchNormalizationForwardInference(f.h, cdnn.BatchNormSpatial, 1, 0, x, xp, x, yi, bn, scale, bias, mean, variance, 1e-7))
}

func TestBatchNormBackward(t *testing.T) {
	f := newFixture(t)
	x := f.tensor(2, 1, 1, 2)
	bn := f.tensor(1, 1, 1, 1)
	xp := f.upload(1, 2, 3, 4)
	dy := f.upload(1, 1, 1, 1)
	dx := f.zeros(4)
	dscale := f.zeros(1)
	dbias := f.zeros(1)

	f.ok(f.lib.BatchNormalizationBackward(f.h, cdnn.BatchNormSpatial, 1, 0, 1, 0, x, xp, x, dy, x, dx, bn, f.upload(2), dscale, dbias, 1e-3, 0, 0))
	assert.InDeltaSlice(t, []float32{0, 0, 0, 0}, f.download(dx, 4), 1e-5)
	assert.InDelta(t, 4, f.download(dbias, 1)[0], 1e-6)
	assert.InDelta(t, 0, f.download(dscale, 1)[0], 1e-5)
}

func TestDropoutDescriptor(t *testing.T) {
	f := newFixture(t)
	var d cdnn.DropoutDescriptor
	f.ok(f.lib.CreateDropoutDescriptor(&d))
	defer f.lib.DestroyDropoutDescriptor(d)

	var size uint64
	f.ok(f.lib.DropoutGetStatesSize(f.h, &size))
	require.Equal(t, uint64(dropoutStatesSize), size)

	f.ok(f.lib.SetDropoutDescriptor(d, f.h, 0, 0, 0, 7))
	assert.Equal(t, cdnn.StatusInvalidValue, f.lib.SetDropoutDescriptor(d, f.h, 0.5, 0, 0, 7))
	assert.Equal(t, cdnn.StatusBadParam, f.lib.SetDropoutDescriptor(d, f.h, 1, 0, 0, 7))

	states := f.zeros(int(size / 4))
	f.ok(f.lib.SetDropoutDescriptor(d, f.h, 0.5, states, size, 7))
	assert.Equal(t, math.Float32frombits(7), f.download(states, 1)[0])
}

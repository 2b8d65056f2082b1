package hostlib

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/cdnn"
)

// convProblem is a 1×1×3×3 input with a 1×1×2×2 filter.
type convProblem struct {
	*fixture
	x, y   cdnn.TensorDescriptor
	w      cdnn.FilterDescriptor
	conv   cdnn.ConvolutionDescriptor
	xp, wp cdnn.Ptr
}

func newConvProblem(t *testing.T, mode cdnn.ConvolutionMode) *convProblem {
	f := newFixture(t)
	p := &convProblem{
		fixture: f,
		x:       f.tensor(1, 1, 3, 3),
		y:       f.tensor(1, 1, 2, 2),
		w:       f.filter(1, 1, 2, 2),
		xp:      f.upload(1, 2, 3, 4, 5, 6, 7, 8, 9),
		wp:      f.upload(1, 2, 3, 4),
	}
	f.ok(f.lib.CreateConvolutionDescriptor(&p.conv))
	f.ok(f.lib.SetConvolutionNdDescriptor(p.conv, []int32{0, 0}, []int32{1, 1}, []int32{1, 1}, mode, cdnn.DataFloat))
	t.Cleanup(func() { f.lib.DestroyConvolutionDescriptor(p.conv) })
	return p
}

func (p *convProblem) workspace(size uint64) cdnn.Ptr {
	if size == 0 {
		return 0
	}
	return p.zeros(int(size / 4))
}

func TestConvolutionForwardAlgorithms(t *testing.T) {
	for _, algo := range []cdnn.ConvolutionFwdAlgo{cdnn.FwdAlgoImplicitGemm, cdnn.FwdAlgoImplicitPrecompGemm, cdnn.FwdAlgoGemm} {
		t.Run(fmt.Sprint(algo), func(t *testing.T) {
			p := newConvProblem(t, cdnn.CrossCorrelation)
			var size uint64
			p.ok(p.lib.GetConvolutionForwardWorkspaceSize(p.h, p.x, p.w, p.conv, p.y, algo, &size))

			yp := p.zeros(4)
			p.ok(p.lib.ConvolutionForward(p.h, 1, p.x, p.xp, p.w, p.wp, p.conv, algo, p.workspace(size), size, 0, p.y, yp))
			assert.InDeltaSlice(t, []float32{37, 47, 67, 77}, p.download(yp, 4), 1e-5)
		})
	}
}

func TestConvolutionModeFlipsKernel(t *testing.T) {
	p := newConvProblem(t, cdnn.Convolution)
	yp := p.zeros(4)
	p.ok(p.lib.ConvolutionForward(p.h, 1, p.x, p.xp, p.w, p.wp, p.conv, cdnn.FwdAlgoImplicitGemm, 0, 0, 0, p.y, yp))
	assert.InDeltaSlice(t, []float32{23, 33, 53, 63}, p.download(yp, 4), 1e-5)
}

func TestConvolutionForwardBlend(t *testing.T) {
	p := newConvProblem(t, cdnn.CrossCorrelation)
	yp := p.upload(1, 1, 1, 1)
	p.ok(p.lib.ConvolutionForward(p.h, 2, p.x, p.xp, p.w, p.wp, p.conv, cdnn.FwdAlgoImplicitGemm, 0, 0, 1, p.y, yp))
	assert.InDeltaSlice(t, []float32{75, 95, 135, 155}, p.download(yp, 4), 1e-5)
}

func TestConvolutionWorkspaceChecks(t *testing.T) {
	p := newConvProblem(t, cdnn.CrossCorrelation)

	var size uint64
	p.ok(p.lib.GetConvolutionForwardWorkspaceSize(p.h, p.x, p.w, p.conv, p.y, cdnn.FwdAlgoGemm, &size))
	assert.Equal(t, uint64(64), size)
	p.ok(p.lib.GetConvolutionForwardWorkspaceSize(p.h, p.x, p.w, p.conv, p.y, cdnn.FwdAlgoImplicitGemm, &size))
	assert.Zero(t, size)
	assert.Equal(t, cdnn.StatusNotSupported, p.lib.GetConvolutionForwardWorkspaceSize(p.h, p.x, p.w, p.conv, p.y, cdnn.FwdAlgoFFT, &size))

	yp := p.zeros(4)
	assert.Equal(t, cdnn.StatusBadParam, p.lib.ConvolutionForward(p.h, 1, p.x, p.xp, p.w, p.wp, p.conv, cdnn.FwdAlgoGemm, 0, 0, 0, p.y, yp))
	assert.Equal(t, cdnn.StatusNotSupported, p.lib.ConvolutionForward(p.h, 1, p.x, p.xp, p.w, p.wp, p.conv, cdnn.FwdAlgoWinograd, 0, 0, 0, p.y, yp))

	wrong := p.tensor(1, 1, 3, 3)
	assert.Equal(t, cdnn.StatusBadParam, p.lib.ConvolutionForward(p.h, 1, p.x, p.xp, p.w, p.wp, p.conv, cdnn.FwdAlgoImplicitGemm, 0, 0, 0, wrong, yp))
}

func TestConvolutionForwardHeuristics(t *testing.T) {
	p := newConvProblem(t, cdnn.CrossCorrelation)
	cases := []struct {
		pref  cdnn.Preference
		limit uint64
		want  cdnn.ConvolutionFwdAlgo
	}{
		{cdnn.NoWorkspace, 1 << 20, cdnn.FwdAlgoImplicitGemm},
		{cdnn.PreferFastest, 0, cdnn.FwdAlgoGemm},
		{cdnn.SpecifyWorkspaceLimit, 0, cdnn.FwdAlgoImplicitGemm},
		{cdnn.SpecifyWorkspaceLimit, 64, cdnn.FwdAlgoGemm},
	}
	for _, tt := range cases {
		var algo cdnn.ConvolutionFwdAlgo
		p.ok(p.lib.GetConvolutionForwardAlgorithm(p.h, p.x, p.w, p.conv, p.y, tt.pref, tt.limit, &algo))
		assert.Equal(t, tt.want, algo, "pref %d limit %d", tt.pref, tt.limit)
	}
}

func TestConvolutionBackwardData(t *testing.T) {
	for _, algo := range []cdnn.ConvolutionBwdDataAlgo{cdnn.BwdDataAlgo0, cdnn.BwdDataAlgo1} {
		t.Run(fmt.Sprint(algo), func(t *testing.T) {
			p := newConvProblem(t, cdnn.CrossCorrelation)
			var size uint64
			p.ok(p.lib.GetConvolutionBackwardDataWorkspaceSize(p.h, p.w, p.y, p.conv, p.x, algo, &size))

			dy := p.upload(1, 1, 1, 1)
			dx := p.zeros(9)
			p.ok(p.lib.ConvolutionBackwardData(p.h, 1, p.w, p.wp, p.y, dy, p.conv, algo, p.workspace(size), size, 0, p.x, dx))
			assert.InDeltaSlice(t, []float32{1, 3, 2, 4, 10, 6, 3, 7, 4}, p.download(dx, 9), 1e-5)
		})
	}
}

func TestConvolutionBackwardFilter(t *testing.T) {
	for _, algo := range []cdnn.ConvolutionBwdFilterAlgo{cdnn.BwdFilterAlgo0, cdnn.BwdFilterAlgo1} {
		t.Run(fmt.Sprint(algo), func(t *testing.T) {
			p := newConvProblem(t, cdnn.CrossCorrelation)
			var size uint64
			p.ok(p.lib.GetConvolutionBackwardFilterWorkspaceSize(p.h, p.x, p.y, p.conv, p.w, algo, &size))

			dy := p.upload(1, 1, 1, 1)
			dw := p.zeros(4)
			p.ok(p.lib.ConvolutionBackwardFilter(p.h, 1, p.x, p.xp, p.y, dy, p.conv, algo, p.workspace(size), size, 0, p.w, dw))
			assert.InDeltaSlice(t, []float32{12, 16, 24, 28}, p.download(dw, 4), 1e-5)
		})
	}

	p := newConvProblem(t, cdnn.CrossCorrelation)
	var size uint64
	assert.Equal(t, cdnn.StatusNotSupported, p.lib.GetConvolutionBackwardFilterWorkspaceSize(p.h, p.x, p.y, p.conv, p.w, cdnn.BwdFilterAlgoFFT, &size))
}

func TestConvolutionBackwardBias(t *testing.T) {
	f := newFixture(t)
	dy := f.tensor(2, 2, 1, 2)
	db := f.tensor(1, 2, 1, 1)
	dyp := f.upload(1, 2, 3, 4, 5, 6, 7, 8)
	dbp := f.zeros(2)

	f.ok(f.lib.ConvolutionBackwardBias(f.h, 1, dy, dyp, 0, db, dbp))
	assert.Equal(t, []float32{1 + 2 + 5 + 6, 3 + 4 + 7 + 8}, f.download(dbp, 2))
}

func TestConvolutionPaddedStrided(t *testing.T) {
	f := newFixture(t)
	x := f.tensor(1, 1, 2, 2)
	w := f.filter(1, 1, 3, 3)
	y := f.tensor(1, 1, 1, 1)
	var conv cdnn.ConvolutionDescriptor
	f.ok(f.lib.CreateConvolutionDescriptor(&conv))
	defer f.lib.DestroyConvolutionDescriptor(conv)
	f.ok(f.lib.SetConvolutionNdDescriptor(conv, []int32{1, 1}, []int32{2, 2}, []int32{1, 1}, cdnn.CrossCorrelation, cdnn.DataFloat))

	xp := f.upload(1, 2, 3, 4)
	wp := f.upload(1, 1, 1, 1, 1, 1, 1, 1, 1)
	yp := f.zeros(1)
	f.ok(f.lib.ConvolutionForward(f.h, 1, x, xp, w, wp, conv, cdnn.FwdAlgoImplicitGemm, 0, 0, 0, y, yp))
	assert.Equal(t, []float32{10}, f.download(yp, 1))

	f.ok(f.lib.SetConvolutionMathType(conv, cdnn.TensorOpMath))
	mt, ok := f.lib.MathType(conv)
	require.True(t, ok)
	assert.Equal(t, cdnn.TensorOpMath, mt)
}

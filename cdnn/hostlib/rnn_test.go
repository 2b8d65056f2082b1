package hostlib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/cdnn"
)

// rnnProblem is a single layer unidirectional cell over a packed sequence.
type rnnProblem struct {
	*fixture
	rnn            cdnn.RNNDescriptor
	drop           cdnn.DropoutDescriptor
	x, y           []cdnn.TensorDescriptor
	state          cdnn.TensorDescriptor
	seqLen, hidden int
}

func newRNN(t *testing.T, mode cdnn.RNNMode, layers, hidden, input, batch, seqLen int32) *rnnProblem {
	f := newFixture(t)
	p := &rnnProblem{fixture: f, seqLen: int(seqLen), hidden: int(hidden)}
	f.ok(f.lib.CreateDropoutDescriptor(&p.drop))
	f.ok(f.lib.SetDropoutDescriptor(p.drop, f.h, 0, 0, 0, 0))
	f.ok(f.lib.CreateRNNDescriptor(&p.rnn))
	f.ok(f.lib.SetRNNDescriptor(f.h, p.rnn, hidden, layers, p.drop, cdnn.LinearInput, cdnn.Unidirectional, mode, cdnn.RNNAlgoStandard, cdnn.DataFloat))
	t.Cleanup(func() {
		f.lib.DestroyRNNDescriptor(p.rnn)
		f.lib.DestroyDropoutDescriptor(p.drop)
	})

	xd := f.strided(cdnn.DataFloat, []int32{batch, input, 1}, []int32{input, 1, 1})
	yd := f.strided(cdnn.DataFloat, []int32{batch, hidden, 1}, []int32{hidden, 1, 1})
	for range seqLen {
		p.x = append(p.x, xd)
		p.y = append(p.y, yd)
	}
	p.state = f.tensor(layers, batch, hidden)
	return p
}

func (p *rnnProblem) paramsSize() uint64 {
	var size uint64
	p.ok(p.lib.GetRNNParamsSize(p.h, p.rnn, p.x[0], &size, cdnn.DataFloat))
	return size
}

// weights returns a filter covering the whole parameter buffer.
func (p *rnnProblem) weights() cdnn.FilterDescriptor {
	return p.filter(int32(p.paramsSize()/4), 1, 1)
}

func (p *rnnProblem) forward(x, params, hx, cx cdnn.Ptr) (y, hy, cy cdnn.Ptr) {
	var ws uint64
	p.ok(p.lib.GetRNNWorkspaceSize(p.h, p.rnn, int32(p.seqLen), p.x, &ws))
	n := p.seqLen * p.hidden
	y, hy, cy = p.zeros(n), p.zeros(p.hidden), p.zeros(p.hidden)
	p.ok(p.lib.RNNForwardInference(p.h, p.rnn, int32(p.seqLen), p.x, x, p.state, hx, p.state, cx,
		p.weights(), params, p.y, y, p.state, hy, p.state, cy, p.zeros(int(ws/4)), ws))
	return y, hy, cy
}

func TestRNNParamsLayout(t *testing.T) {
	p := newRNN(t, cdnn.LSTM, 1, 2, 3, 1, 1)
	require.Equal(t, uint64(56*4), p.paramsSize())

	w := p.weights()
	var mat cdnn.FilterDescriptor
	p.ok(p.lib.CreateFilterDescriptor(&mat))
	defer p.lib.DestroyFilterDescriptor(mat)

	dims := make([]int32, 3)
	var nb int32
	cases := []struct {
		lin    int32
		offset cdnn.Ptr
		dims   []int32
	}{
		{0, 0, []int32{1, 2, 3}},
		{3, 3 * 6 * 4, []int32{1, 2, 3}},
		{4, 4 * 6 * 4, []int32{1, 2, 2}},
		{7, (24 + 12) * 4, []int32{1, 2, 2}},
	}
	for _, tt := range cases {
		var ptr cdnn.Ptr
		p.ok(p.lib.GetRNNLinLayerMatrixParams(p.h, p.rnn, 0, p.x[0], w, 0, tt.lin, mat, &ptr))
		p.ok(p.lib.GetFilterNdDescriptor(mat, nil, nil, &nb, dims))
		assert.Equal(t, tt.offset, ptr, "lin %d", tt.lin)
		assert.Equal(t, tt.dims, dims[:nb], "lin %d", tt.lin)
	}

	var ptr cdnn.Ptr
	p.ok(p.lib.GetRNNLinLayerBiasParams(p.h, p.rnn, 0, p.x[0], w, 0, 0, mat, &ptr))
	assert.Equal(t, cdnn.Ptr(40*4), ptr)
	p.ok(p.lib.GetRNNLinLayerBiasParams(p.h, p.rnn, 0, p.x[0], w, 0, 7, mat, &ptr))
	assert.Equal(t, cdnn.Ptr(54*4), ptr)
	p.ok(p.lib.GetFilterNdDescriptor(mat, nil, nil, &nb, dims))
	assert.Equal(t, []int32{1, 2, 1}, dims[:nb])

	assert.Equal(t, cdnn.StatusBadParam, p.lib.GetRNNLinLayerMatrixParams(p.h, p.rnn, 1, p.x[0], w, 0, 0, mat, &ptr))
	assert.Equal(t, cdnn.StatusBadParam, p.lib.GetRNNLinLayerMatrixParams(p.h, p.rnn, 0, p.x[0], w, 0, 8, mat, &ptr))
}

func TestRNNTanhForward(t *testing.T) {
	p := newRNN(t, cdnn.RNNTanh, 1, 1, 1, 1, 2)
	// W, R, bW, bR
	params := p.upload(0.5, 1, 0, 0)
	y, hy, _ := p.forward(p.upload(1, 2), params, 0, 0)

	h1 := math.Tanh(0.5)
	h2 := math.Tanh(1 + h1)
	assert.InDeltaSlice(t, []float32{float32(h1), float32(h2)}, p.download(y, 2), 1e-6)
	assert.InDelta(t, h2, p.download(hy, 1)[0], 1e-6)
}

func TestRNNGRUForward(t *testing.T) {
	p := newRNN(t, cdnn.GRU, 1, 1, 1, 1, 2)
	require.Equal(t, uint64(12*4), p.paramsSize())
	y, hy, _ := p.forward(p.upload(3, -3), p.zeros(12), p.upload(1), 0)

	assert.InDeltaSlice(t, []float32{0.5, 0.25}, p.download(y, 2), 1e-6)
	assert.InDelta(t, 0.25, p.download(hy, 1)[0], 1e-6)
}

func TestRNNLSTMForward(t *testing.T) {
	p := newRNN(t, cdnn.LSTM, 1, 1, 1, 1, 1)
	_, hy, cy := p.forward(p.upload(5), p.zeros(16), 0, p.upload(1))

	assert.InDelta(t, 0.5, p.download(cy, 1)[0], 1e-6)
	assert.InDelta(t, 0.5*math.Tanh(0.5), p.download(hy, 1)[0], 1e-6)
}

func TestRNNWorkspaceChecks(t *testing.T) {
	p := newRNN(t, cdnn.RNNRelu, 2, 2, 2, 3, 4)

	var ws, reserve uint64
	p.ok(p.lib.GetRNNWorkspaceSize(p.h, p.rnn, 4, p.x, &ws))
	p.ok(p.lib.GetRNNTrainingReserveSize(p.h, p.rnn, 4, p.x, &reserve))
	assert.Equal(t, uint64(2*4*3*2*4), ws)
	assert.Equal(t, uint64(4*3*2*4*2), reserve)

	assert.Equal(t, cdnn.StatusBadParam, p.lib.GetRNNWorkspaceSize(p.h, p.rnn, 3, p.x, &ws))
	assert.Equal(t, cdnn.StatusBadParam, p.lib.GetRNNWorkspaceSize(p.h, p.rnn, 0, nil, &ws))

	params := p.zeros(int(p.paramsSize() / 4))
	y := p.zeros(4 * 3 * 2)
	st := p.lib.RNNForwardTraining(p.h, p.rnn, 4, p.x, p.zeros(4*3*2), p.state, 0, p.state, 0,
		p.weights(), params, p.y, y, p.state, 0, p.state, 0, p.zeros(int(ws/4)), ws, 0, 0)
	assert.Equal(t, cdnn.StatusBadParam, st)
}

func TestRNNBackwardNotSupported(t *testing.T) {
	p := newRNN(t, cdnn.RNNRelu, 1, 1, 1, 1, 1)
	assert.Equal(t, cdnn.StatusNotSupported, p.lib.RNNBackwardWeights(p.h, p.rnn, 1, p.x, 0, p.state, 0, p.y, 0, 0, 0, 0, 0, 0, 0))
	assert.Equal(t, cdnn.StatusBadParam, p.lib.RNNBackwardWeights(0, p.rnn, 1, p.x, 0, p.state, 0, p.y, 0, 0, 0, 0, 0, 0, 0))
}

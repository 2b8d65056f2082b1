// rnn.go - Dropout- und RNN-Deskriptoren, Parameter-Layout, Vorwaertslauf
//
// Parameterpuffer je Pseudo-Schicht (Schicht × Richtung):
//   G Eingabematrizen (hidden × in), G rekurrente Matrizen (hidden × hidden),
//   danach 2G Bias-Vektoren (hidden). G = 1 (RELU/TANH), 4 (LSTM), 3 (GRU).
// Gatterreihenfolge LSTM: i, f, g, o. GRU: r, z, n.

package hostlib

import (
	"encoding/binary"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/blas"

	"github.com/clstream/cldnn/cdnn"
)

// dropoutStatesSize ist die Groesse des Zufallszustands in Bytes
const dropoutStatesSize = 256

// =============================================================================
// Dropout
// =============================================================================

type dropoutDesc struct {
	dropout float32
	states  cdnn.Ptr
	seed    uint64
}

func (l *Lib) CreateDropoutDescriptor(d *cdnn.DropoutDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.DropoutDescriptor(l.put(&dropoutDesc{}))
	return cdnn.StatusSuccess
}

func (l *Lib) DropoutGetStatesSize(h cdnn.Handle, size *uint64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	*size = dropoutStatesSize
	return cdnn.StatusSuccess
}

// SetDropoutDescriptor seeds the states buffer. A zero probability needs
// no states.
func (l *Lib) SetDropoutDescriptor(d cdnn.DropoutDescriptor, h cdnn.Handle, dropout float32, states cdnn.Ptr, size uint64, seed uint64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	dd, st := get[dropoutDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if dropout < 0 || dropout >= 1 {
		return cdnn.StatusBadParam
	}
	if dropout > 0 {
		if size < dropoutStatesSize {
			return cdnn.StatusInvalidValue
		}
		b, st := l.bytes(states, dropoutStatesSize)
		if st != cdnn.StatusSuccess {
			return st
		}
		clear(b)
		binary.LittleEndian.PutUint64(b, seed)
	}
	dd.dropout, dd.states, dd.seed = dropout, states, seed
	return cdnn.StatusSuccess
}

func (l *Lib) DestroyDropoutDescriptor(d cdnn.DropoutDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[dropoutDesc](l, uintptr(d))
}

// =============================================================================
// RNN-Deskriptor
// =============================================================================

type rnnDesc struct {
	hidden, layers int
	dropout        cdnn.DropoutDescriptor
	input          cdnn.RNNInputMode
	dir            cdnn.DirectionMode
	mode           cdnn.RNNMode
	dt             cdnn.DataType
	math           cdnn.MathType
	set            bool
}

func (r *rnnDesc) gates() int {
	switch r.mode {
	case cdnn.LSTM:
		return 4
	case cdnn.GRU:
		return 3
	default:
		return 1
	}
}

func (r *rnnDesc) dirs() int {
	if r.dir == cdnn.Bidirectional {
		return 2
	}
	return 1
}

// layerInput is the input width of pseudo-layer pl.
func (r *rnnDesc) layerInput(pl, inputSize int) int {
	if pl/r.dirs() == 0 {
		return inputSize
	}
	return r.hidden * r.dirs()
}

// skips reports whether pseudo-layer pl has no input matrices.
func (r *rnnDesc) skips(pl int) bool {
	return r.input == cdnn.SkipInput && pl/r.dirs() == 0
}

// layerParams is the element count of pseudo-layer pl.
func (r *rnnDesc) layerParams(pl, inputSize int) int {
	g, h := r.gates(), r.hidden
	n := g*h*h + 2*g*h
	if !r.skips(pl) {
		n += g * h * r.layerInput(pl, inputSize)
	}
	return n
}

func (r *rnnDesc) paramsElements(inputSize int) int {
	n := 0
	for pl := range r.layers * r.dirs() {
		n += r.layerParams(pl, inputSize)
	}
	return n
}

// matrix returns the element offset and shape of linear layer lin of
// pseudo-layer pl.
func (r *rnnDesc) matrix(pl, lin, inputSize int) (offset, rows, cols int) {
	for p := range pl {
		offset += r.layerParams(p, inputSize)
	}
	g, h := r.gates(), r.hidden
	in := r.layerInput(pl, inputSize)
	if r.skips(pl) {
		in = 0
	}
	if lin < g {
		return offset + lin*h*in, h, in
	}
	return offset + g*h*in + (lin-g)*h*h, h, h
}

// bias returns the element offset of bias lin of pseudo-layer pl.
func (r *rnnDesc) bias(pl, lin, inputSize int) int {
	g := r.gates()
	off, _, _ := r.matrix(pl, 2*g-1, inputSize)
	return off + r.hidden*r.hidden + lin*r.hidden
}

func (l *Lib) CreateRNNDescriptor(d *cdnn.RNNDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.RNNDescriptor(l.put(&rnnDesc{}))
	return cdnn.StatusSuccess
}

func (l *Lib) SetRNNDescriptor(h cdnn.Handle, d cdnn.RNNDescriptor, hidden, layers int32, dropout cdnn.DropoutDescriptor, input cdnn.RNNInputMode, dir cdnn.DirectionMode, mode cdnn.RNNMode, algo cdnn.RNNAlgo, dt cdnn.DataType) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	r, st := get[rnnDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if _, st := get[dropoutDesc](l, uintptr(dropout)); st != cdnn.StatusSuccess {
		return st
	}
	if hidden <= 0 || layers <= 0 || algo != cdnn.RNNAlgoStandard {
		return cdnn.StatusBadParam
	}
	if mode < cdnn.RNNRelu || mode > cdnn.GRU || dir < cdnn.Unidirectional || dir > cdnn.Bidirectional {
		return cdnn.StatusBadParam
	}
	if input != cdnn.LinearInput && input != cdnn.SkipInput {
		return cdnn.StatusBadParam
	}
	if !validDataType(dt) {
		return cdnn.StatusNotSupported
	}
	*r = rnnDesc{
		hidden: int(hidden), layers: int(layers), dropout: dropout,
		input: input, dir: dir, mode: mode, dt: dt, math: r.math, set: true,
	}
	return cdnn.StatusSuccess
}

func (l *Lib) SetRNNMatrixMathType(d cdnn.RNNDescriptor, m cdnn.MathType) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, st := get[rnnDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if m != cdnn.DefaultMath && m != cdnn.TensorOpMath {
		return cdnn.StatusBadParam
	}
	r.math = m
	return cdnn.StatusSuccess
}

func (l *Lib) DestroyRNNDescriptor(d cdnn.RNNDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[rnnDesc](l, uintptr(d))
}

// rnnInput resolves h, d and the input descriptor x, which must be
// batch × input × 1.
func (l *Lib) rnnInput(h cdnn.Handle, d cdnn.RNNDescriptor, x cdnn.TensorDescriptor) (*rnnDesc, int, cdnn.Status) {
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return nil, 0, st
	}
	r, st := get[rnnDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return nil, 0, st
	}
	if !r.set {
		return nil, 0, cdnn.StatusBadParam
	}
	xt, st := get[tensorDesc](l, uintptr(x))
	if st != cdnn.StatusSuccess {
		return nil, 0, st
	}
	if len(xt.dims) != 3 || xt.dt != r.dt {
		return nil, 0, cdnn.StatusBadParam
	}
	in := xt.dims[1]
	if r.input == cdnn.SkipInput && in != r.hidden {
		return nil, 0, cdnn.StatusBadParam
	}
	return r, in, cdnn.StatusSuccess
}

func (l *Lib) GetRNNParamsSize(h cdnn.Handle, d cdnn.RNNDescriptor, x cdnn.TensorDescriptor, size *uint64, dt cdnn.DataType) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, in, st := l.rnnInput(h, d, x)
	if st != cdnn.StatusSuccess {
		return st
	}
	if dt != r.dt {
		return cdnn.StatusBadParam
	}
	*size = uint64(r.paramsElements(in) * dt.Size())
	return cdnn.StatusSuccess
}

// linLayer validates the shared operands of the params queries.
func (l *Lib) linLayer(h cdnn.Handle, d cdnn.RNNDescriptor, layer int32, x cdnn.TensorDescriptor, wDesc cdnn.FilterDescriptor, lin int32, out cdnn.FilterDescriptor) (*rnnDesc, int, *filterDesc, cdnn.Status) {
	r, in, st := l.rnnInput(h, d, x)
	if st != cdnn.StatusSuccess {
		return nil, 0, nil, st
	}
	wf, st := get[filterDesc](l, uintptr(wDesc))
	if st != cdnn.StatusSuccess {
		return nil, 0, nil, st
	}
	if wf.elements()*wf.dt.Size() < r.paramsElements(in)*r.dt.Size() {
		return nil, 0, nil, cdnn.StatusBadParam
	}
	if layer < 0 || int(layer) >= r.layers*r.dirs() || lin < 0 || int(lin) >= 2*r.gates() {
		return nil, 0, nil, cdnn.StatusBadParam
	}
	of, st := get[filterDesc](l, uintptr(out))
	if st != cdnn.StatusSuccess {
		return nil, 0, nil, st
	}
	return r, in, of, cdnn.StatusSuccess
}

// GetRNNLinLayerMatrixParams describes one weight matrix as a 1 × rows ×
// cols filter and returns its address inside w.
func (l *Lib) GetRNNLinLayerMatrixParams(h cdnn.Handle, d cdnn.RNNDescriptor, layer int32, x cdnn.TensorDescriptor, wDesc cdnn.FilterDescriptor, w cdnn.Ptr, lin int32, matDesc cdnn.FilterDescriptor, mat *cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, in, of, st := l.linLayer(h, d, layer, x, wDesc, lin, matDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	off, rows, cols := r.matrix(int(layer), int(lin), in)
	*of = filterDesc{dt: r.dt, format: cdnn.TensorNCHW, dims: []int{1, rows, cols}}
	*mat = w + cdnn.Ptr(off*r.dt.Size())
	return cdnn.StatusSuccess
}

// GetRNNLinLayerBiasParams describes one bias vector as a 1 × hidden × 1
// filter and returns its address inside w.
func (l *Lib) GetRNNLinLayerBiasParams(h cdnn.Handle, d cdnn.RNNDescriptor, layer int32, x cdnn.TensorDescriptor, wDesc cdnn.FilterDescriptor, w cdnn.Ptr, lin int32, biasDesc cdnn.FilterDescriptor, bias *cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, in, of, st := l.linLayer(h, d, layer, x, wDesc, lin, biasDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	*of = filterDesc{dt: r.dt, format: cdnn.TensorNCHW, dims: []int{1, r.hidden, 1}}
	*bias = w + cdnn.Ptr(r.bias(int(layer), int(lin), in)*r.dt.Size())
	return cdnn.StatusSuccess
}

// sequence validates the per step descriptors and returns the batch size
// of every step.
func (l *Lib) sequence(seqLength int32, descs []cdnn.TensorDescriptor, width int, dt cdnn.DataType) ([]int, cdnn.Status) {
	if seqLength <= 0 || len(descs) != int(seqLength) {
		return nil, cdnn.StatusBadParam
	}
	batches := make([]int, seqLength)
	for t, d := range descs {
		td, st := get[tensorDesc](l, uintptr(d))
		if st != cdnn.StatusSuccess {
			return nil, st
		}
		if len(td.dims) != 3 || td.dims[1] != width || td.dt != dt {
			return nil, cdnn.StatusBadParam
		}
		batches[t] = td.dims[0]
		if t > 0 && batches[t] > batches[t-1] {
			return nil, cdnn.StatusBadParam
		}
	}
	return batches, cdnn.StatusSuccess
}

func (l *Lib) rnnSizes(h cdnn.Handle, d cdnn.RNNDescriptor, seqLength int32, x []cdnn.TensorDescriptor) (r *rnnDesc, workspace, reserve uint64, st cdnn.Status) {
	if len(x) == 0 {
		return nil, 0, 0, cdnn.StatusBadParam
	}
	r, in, st := l.rnnInput(h, d, x[0])
	if st != cdnn.StatusSuccess {
		return nil, 0, 0, st
	}
	batches, st := l.sequence(seqLength, x, in, r.dt)
	if st != cdnn.StatusSuccess {
		return nil, 0, 0, st
	}
	steps := 0
	for _, b := range batches {
		steps += b
	}
	width := uint64(steps * r.hidden * r.dirs() * r.dt.Size())
	return r, 2 * width, width * uint64(r.layers*r.gates()), cdnn.StatusSuccess
}

func (l *Lib) GetRNNWorkspaceSize(h cdnn.Handle, d cdnn.RNNDescriptor, seqLength int32, x []cdnn.TensorDescriptor, size *uint64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ws, _, st := l.rnnSizes(h, d, seqLength, x)
	if st == cdnn.StatusSuccess {
		*size = ws
	}
	return st
}

func (l *Lib) GetRNNTrainingReserveSize(h cdnn.Handle, d cdnn.RNNDescriptor, seqLength int32, x []cdnn.TensorDescriptor, size *uint64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, reserve, st := l.rnnSizes(h, d, seqLength, x)
	if st == cdnn.StatusSuccess {
		*size = reserve
	}
	return st
}

// =============================================================================
// Vorwaertslauf
// =============================================================================

// rnnCall bundles the operands of a forward pass.
type rnnCall struct {
	h           cdnn.Handle
	d           cdnn.RNNDescriptor
	seqLength   int32
	xDesc       []cdnn.TensorDescriptor
	x           cdnn.Ptr
	hxDesc      cdnn.TensorDescriptor
	hx          cdnn.Ptr
	cxDesc      cdnn.TensorDescriptor
	cx          cdnn.Ptr
	wDesc       cdnn.FilterDescriptor
	w           cdnn.Ptr
	yDesc       []cdnn.TensorDescriptor
	y           cdnn.Ptr
	hyDesc      cdnn.TensorDescriptor
	hy          cdnn.Ptr
	cyDesc      cdnn.TensorDescriptor
	cy          cdnn.Ptr
	ws          cdnn.Ptr
	wsSize      uint64
	reserve     cdnn.Ptr
	reserveSize uint64
	training    bool
}

func (l *Lib) RNNForwardInference(h cdnn.Handle, d cdnn.RNNDescriptor, seqLength int32, xDesc []cdnn.TensorDescriptor, x cdnn.Ptr, hxDesc cdnn.TensorDescriptor, hx cdnn.Ptr, cxDesc cdnn.TensorDescriptor, cx cdnn.Ptr, wDesc cdnn.FilterDescriptor, w cdnn.Ptr, yDesc []cdnn.TensorDescriptor, y cdnn.Ptr, hyDesc cdnn.TensorDescriptor, hy cdnn.Ptr, cyDesc cdnn.TensorDescriptor, cy cdnn.Ptr, ws cdnn.Ptr, wsSize uint64) cdnn.Status {
	return l.rnnForward(rnnCall{
		h: h, d: d, seqLength: seqLength, xDesc: xDesc, x: x, hxDesc: hxDesc, hx: hx, cxDesc: cxDesc, cx: cx,
		wDesc: wDesc, w: w, yDesc: yDesc, y: y, hyDesc: hyDesc, hy: hy, cyDesc: cyDesc, cy: cy, ws: ws, wsSize: wsSize,
	})
}

func (l *Lib) RNNForwardTraining(h cdnn.Handle, d cdnn.RNNDescriptor, seqLength int32, xDesc []cdnn.TensorDescriptor, x cdnn.Ptr, hxDesc cdnn.TensorDescriptor, hx cdnn.Ptr, cxDesc cdnn.TensorDescriptor, cx cdnn.Ptr, wDesc cdnn.FilterDescriptor, w cdnn.Ptr, yDesc []cdnn.TensorDescriptor, y cdnn.Ptr, hyDesc cdnn.TensorDescriptor, hy cdnn.Ptr, cyDesc cdnn.TensorDescriptor, cy cdnn.Ptr, ws cdnn.Ptr, wsSize uint64, reserve cdnn.Ptr, reserveSize uint64) cdnn.Status {
	return l.rnnForward(rnnCall{
		h: h, d: d, seqLength: seqLength, xDesc: xDesc, x: x, hxDesc: hxDesc, hx: hx, cxDesc: cxDesc, cx: cx,
		wDesc: wDesc, w: w, yDesc: yDesc, y: y, hyDesc: hyDesc, hy: hy, cyDesc: cyDesc, cy: cy, ws: ws, wsSize: wsSize,
		reserve: reserve, reserveSize: reserveSize, training: true,
	})
}

// stateDesc checks a layers·dirs × batch × hidden state descriptor.
func (l *Lib) stateDesc(d cdnn.TensorDescriptor, r *rnnDesc, batch int) (*tensorDesc, cdnn.Status) {
	t, st := get[tensorDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return nil, st
	}
	if len(t.dims) != 3 || t.dims[0] != r.layers*r.dirs() || t.dims[1] != batch || t.dims[2] != r.hidden || t.dt != r.dt {
		return nil, cdnn.StatusBadParam
	}
	return t, cdnn.StatusSuccess
}

func (l *Lib) rnnForward(c rnnCall) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	r, wsNeed, reserveNeed, st := l.rnnSizes(c.h, c.d, c.seqLength, c.xDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	_, in, _ := l.rnnInput(c.h, c.d, c.xDesc[0])
	batches, _ := l.sequence(c.seqLength, c.xDesc, in, r.dt)
	if _, st := l.sequence(c.seqLength, c.yDesc, r.hidden*r.dirs(), r.dt); st != cdnn.StatusSuccess {
		return st
	}
	for t, yd := range c.yDesc {
		if yt, _ := get[tensorDesc](l, uintptr(yd)); yt.dims[0] != batches[t] {
			return cdnn.StatusBadParam
		}
	}
	lstm := r.mode == cdnn.LSTM
	b0 := batches[0]
	states := []cdnn.TensorDescriptor{c.hxDesc, c.hyDesc}
	if lstm {
		states = append(states, c.cxDesc, c.cyDesc)
	}
	stateDescs := make([]*tensorDesc, len(states))
	for i, sd := range states {
		if stateDescs[i], st = l.stateDesc(sd, r, b0); st != cdnn.StatusSuccess {
			return st
		}
	}
	wf, st := get[filterDesc](l, uintptr(c.wDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	paramsBytes := r.paramsElements(in) * r.dt.Size()
	if wf.elements()*wf.dt.Size() < paramsBytes {
		return cdnn.StatusBadParam
	}
	if _, st := l.workspace(c.ws, c.wsSize, wsNeed); st != cdnn.StatusSuccess {
		return st
	}
	if c.training {
		reserve, st := l.workspace(c.reserve, c.reserveSize, reserveNeed)
		if st != cdnn.StatusSuccess {
			return st
		}
		clear(reserve)
	}

	steps := 0
	for _, b := range batches {
		steps += b
	}
	xv, st := l.dense(r.dt, c.x, steps*in)
	if st != cdnn.StatusSuccess {
		return st
	}
	wv, st := l.dense(r.dt, c.w, r.paramsElements(in))
	if st != cdnn.StatusSuccess {
		return st
	}
	hxv, st := l.loadOptional(stateDescs[0], c.hx)
	if st != cdnn.StatusSuccess {
		return st
	}
	var cxv []float64
	if lstm {
		if cxv, st = l.loadOptional(stateDescs[2], c.cx); st != cdnn.StatusSuccess {
			return st
		}
	}

	var drop *dropoutDesc
	if c.training {
		drop, _ = get[dropoutDesc](l, uintptr(r.dropout))
	}

	hyv, cyv, yv := r.run(in, batches, xv, wv, hxv, cxv, drop)

	ybuf, st := l.view(r.dt, c.y, len(yv))
	if st != cdnn.StatusSuccess {
		return st
	}
	for i, v := range yv {
		ybuf.set(i, v)
	}
	if c.hy != 0 {
		if st := l.store(stateDescs[1], c.hy, hyv, 1, 0); st != cdnn.StatusSuccess {
			return st
		}
	}
	if lstm && c.cy != 0 {
		if st := l.store(stateDescs[3], c.cy, cyv, 1, 0); st != cdnn.StatusSuccess {
			return st
		}
	}
	return cdnn.StatusSuccess
}

// dense reads n packed elements at p.
func (l *Lib) dense(dt cdnn.DataType, p cdnn.Ptr, n int) ([]float64, cdnn.Status) {
	buf, st := l.view(dt, p, n)
	if st != cdnn.StatusSuccess {
		return nil, st
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = buf.at(i)
	}
	return out, cdnn.StatusSuccess
}

// run computes all layers. x is packed per step with batches[t] rows of
// width in; hx and cx are layers·dirs × batch0 × hidden or nil for zero.
func (r *rnnDesc) run(in int, batches []int, x, w, hx, cx []float64, drop *dropoutDesc) (hy, cy, y []float64) {
	hid, dirs := r.hidden, r.dirs()
	b0 := batches[0]
	stateSize := r.layers * dirs * b0 * hid
	hy = make([]float64, stateSize)
	cy = make([]float64, stateSize)
	if hx != nil {
		copy(hy, hx)
	}
	if cx != nil {
		copy(cy, cx)
	}

	starts := make([]int, len(batches))
	steps := 0
	for t, b := range batches {
		starts[t] = steps
		steps += b
	}

	layerIn, width := x, in
	for layer := range r.layers {
		out := make([]float64, steps*hid*dirs)
		for dir := range dirs {
			pl := layer*dirs + dir
			hs := hy[pl*b0*hid:][:b0*hid]
			cs := cy[pl*b0*hid:][:b0*hid]
			for i := range len(batches) {
				t := i
				if dir == 1 {
					t = len(batches) - 1 - i
				}
				bt := batches[t]
				xt := layerIn[starts[t]*width:][:bt*width]
				r.step(pl, in, width, bt, xt, w, hs[:bt*hid], cs[:bt*hid])
				for b := range bt {
					copy(out[(starts[t]+b)*hid*dirs+dir*hid:][:hid], hs[b*hid:][:hid])
				}
			}
		}
		if drop != nil && drop.dropout > 0 && layer < r.layers-1 {
			rng := rand.New(rand.NewPCG(drop.seed, uint64(layer)))
			keep := 1 - float64(drop.dropout)
			for i := range out {
				if rng.Float64() < keep {
					out[i] /= keep
				} else {
					out[i] = 0
				}
			}
		}
		layerIn, width = out, hid*dirs
	}
	return hy, cy, layerIn
}

// step advances pseudo-layer pl by one time step for bt rows. h and c are
// updated in place.
func (r *rnnDesc) step(pl, inputSize, width, bt int, x, w, h, c []float64) {
	hid, g := r.hidden, r.gates()
	gx := make([][]float64, g)
	gh := make([][]float64, g)
	for k := range g {
		gx[k] = make([]float64, bt*hid)
		gh[k] = make([]float64, bt*hid)

		if r.skips(pl) {
			copy(gx[k], x)
		} else {
			off, _, cols := r.matrix(pl, k, inputSize)
			// gx (bt×hid) = x (bt×width) · W^T
			blasImpl.Dgemm(blas.NoTrans, blas.Trans, bt, hid, width, 1, x, width, w[off:][:hid*cols], cols, 0, gx[k], hid)
		}
		off, _, _ := r.matrix(pl, g+k, inputSize)
		blasImpl.Dgemm(blas.NoTrans, blas.Trans, bt, hid, hid, 1, h, hid, w[off:][:hid*hid], hid, 0, gh[k], hid)

		bw := w[r.bias(pl, k, inputSize):][:hid]
		br := w[r.bias(pl, g+k, inputSize):][:hid]
		for b := range bt {
			for j := range hid {
				gx[k][b*hid+j] += bw[j]
				gh[k][b*hid+j] += br[j]
			}
		}
	}

	for i := range bt * hid {
		switch r.mode {
		case cdnn.RNNRelu:
			h[i] = max(gx[0][i]+gh[0][i], 0)
		case cdnn.RNNTanh:
			h[i] = math.Tanh(gx[0][i] + gh[0][i])
		case cdnn.LSTM:
			ig := sigmoid(gx[0][i] + gh[0][i])
			fg := sigmoid(gx[1][i] + gh[1][i])
			cg := math.Tanh(gx[2][i] + gh[2][i])
			og := sigmoid(gx[3][i] + gh[3][i])
			c[i] = fg*c[i] + ig*cg
			h[i] = og * math.Tanh(c[i])
		case cdnn.GRU:
			rg := sigmoid(gx[0][i] + gh[0][i])
			zg := sigmoid(gx[1][i] + gh[1][i])
			ng := math.Tanh(gx[2][i] + rg*gh[2][i])
			h[i] = (1-zg)*ng + zg*h[i]
		}
	}
}

// =============================================================================
// Rueckwaerts
// =============================================================================

// RNNBackwardData is not provided by the host library.
func (l *Lib) RNNBackwardData(h cdnn.Handle, d cdnn.RNNDescriptor, seqLength int32, yDesc []cdnn.TensorDescriptor, y cdnn.Ptr, dyDesc []cdnn.TensorDescriptor, dy cdnn.Ptr, dhyDesc cdnn.TensorDescriptor, dhy cdnn.Ptr, dcyDesc cdnn.TensorDescriptor, dcy cdnn.Ptr, wDesc cdnn.FilterDescriptor, w cdnn.Ptr, hxDesc cdnn.TensorDescriptor, hx cdnn.Ptr, cxDesc cdnn.TensorDescriptor, cx cdnn.Ptr, dxDesc []cdnn.TensorDescriptor, dx cdnn.Ptr, dhxDesc cdnn.TensorDescriptor, dhx cdnn.Ptr, dcxDesc cdnn.TensorDescriptor, dcx cdnn.Ptr, ws cdnn.Ptr, wsSize uint64, reserve cdnn.Ptr, reserveSize uint64) cdnn.Status {
	return l.unsupported(h)
}

// RNNBackwardWeights is not provided by the host library.
func (l *Lib) RNNBackwardWeights(h cdnn.Handle, d cdnn.RNNDescriptor, seqLength int32, xDesc []cdnn.TensorDescriptor, x cdnn.Ptr, hxDesc cdnn.TensorDescriptor, hx cdnn.Ptr, yDesc []cdnn.TensorDescriptor, y cdnn.Ptr, ws cdnn.Ptr, wsSize uint64, dwDesc cdnn.FilterDescriptor, dw cdnn.Ptr, reserve cdnn.Ptr, reserveSize uint64) cdnn.Status {
	return l.unsupported(h)
}

func (l *Lib) unsupported(h cdnn.Handle) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	return cdnn.StatusNotSupported
}

// conv.go - Faltung vorwaerts und rueckwaerts, Algorithmenwahl, Workspace
//
// Unterstuetzte Algorithmen:
//   vorwaerts        IMPLICIT_GEMM (direkt), IMPLICIT_PRECOMP_GEMM
//                    (Indextabelle im Workspace), GEMM (im2col + Sgemm)
//   Daten rueckw.    ALGO_0 (direkt), ALGO_1 (Sgemm + col2im)
//   Filter rueckw.   ALGO_0 (direkt), ALGO_1 (im2col + Sgemm)
// Alle anderen liefern CUDNN_STATUS_NOT_SUPPORTED.

package hostlib

import (
	"encoding/binary"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/gonum"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/ml/backend/host"
)

var blasImpl gonum.Implementation

// geometry is a validated convolution problem in dense NC(spatial) order.
type geometry struct {
	n, c, k int
	in      []int // Eingabe raeumlich
	kern    []int // Filter raeumlich
	out     []int // Ausgabe raeumlich
	pad     []int
	stride  []int
	dil     []int
	flip    bool
}

func (g *geometry) inSize() int   { return product(g.in) }
func (g *geometry) kernSize() int { return product(g.kern) }
func (g *geometry) outSize() int  { return product(g.out) }

// colSize is the element count of one im2col matrix, C·R × P.
func (g *geometry) colSize() int { return g.c * g.kernSize() * g.outSize() }

// table maps (output position, kernel position) to the flat input spatial
// index, or -1 where the kernel tap falls into padding.
func (g *geometry) table() []int32 {
	p, r := g.outSize(), g.kernSize()
	t := make([]int32, p*r)
	opos := make([]int, len(g.out))
	kpos := make([]int, len(g.kern))
	for o := range p {
		unravel(o, g.out, opos)
		for kr := range r {
			unravel(kr, g.kern, kpos)
			idx := 0
			for d := range g.in {
				i := opos[d]*g.stride[d] - g.pad[d] + kpos[d]*g.dil[d]
				if i < 0 || i >= g.in[d] {
					idx = -1
					break
				}
				idx = idx*g.in[d] + i
			}
			t[o*r+kr] = int32(idx)
		}
	}
	return t
}

// tap returns the filter tap used for kernel position kr.
func (g *geometry) tap(kr int) int {
	if g.flip {
		return g.kernSize() - 1 - kr
	}
	return kr
}

func unravel(idx int, sizes, out []int) {
	for d := len(sizes) - 1; d >= 0; d-- {
		out[d] = idx % sizes[d]
		idx /= sizes[d]
	}
}

// outputSize is the forward output extent of one spatial dimension.
func outputSize(in, kern, pad, stride, dil int) int {
	span := (kern-1)*dil + 1
	return (in+2*pad-span)/stride + 1
}

// GetConvolutionNdForwardOutputDim writes batch, feature maps and spatial
// extents of the forward output for x and w.
func (l *Lib) GetConvolutionNdForwardOutputDim(cd cdnn.ConvolutionDescriptor, xd cdnn.TensorDescriptor, wd cdnn.FilterDescriptor, nbDims int32, dims []int32) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	conv, st := get[convDesc](l, uintptr(cd))
	if st != cdnn.StatusSuccess {
		return st
	}
	x, st := get[tensorDesc](l, uintptr(xd))
	if st != cdnn.StatusSuccess {
		return st
	}
	w, st := get[filterDesc](l, uintptr(wd))
	if st != cdnn.StatusSuccess {
		return st
	}

	nsp := len(conv.pad)
	if int(nbDims) != nsp+2 || len(dims) < nsp+2 || len(x.dims) != nsp+2 || len(w.dims) != nsp+2 {
		return cdnn.StatusBadParam
	}
	if x.dims[1] != w.dims[1] {
		return cdnn.StatusBadParam
	}

	dims[0] = int32(x.dims[0])
	dims[1] = int32(w.dims[0])
	for d := range nsp {
		o := outputSize(x.dims[d+2], w.dims[d+2], conv.pad[d], conv.stride[d], conv.dilation[d])
		if o <= 0 {
			return cdnn.StatusBadParam
		}
		dims[d+2] = int32(o)
	}
	return cdnn.StatusSuccess
}

// convGeometry validates x, w, conv and y against each other.
func convGeometry(x *tensorDesc, w *filterDesc, conv *convDesc, y *tensorDesc) (*geometry, cdnn.Status) {
	nsp := len(conv.pad)
	if len(x.dims) != nsp+2 || len(w.dims) != nsp+2 || len(y.dims) != nsp+2 {
		return nil, cdnn.StatusBadParam
	}
	if x.dt != y.dt || x.dt != w.dt {
		return nil, cdnn.StatusBadParam
	}
	if x.dims[1] != w.dims[1] || x.dims[0] != y.dims[0] || y.dims[1] != w.dims[0] {
		return nil, cdnn.StatusBadParam
	}
	g := &geometry{
		n: x.dims[0], c: x.dims[1], k: w.dims[0],
		in: x.dims[2:], kern: w.dims[2:], out: make([]int, nsp),
		pad: conv.pad, stride: conv.stride, dil: conv.dilation,
		flip: conv.mode == cdnn.Convolution,
	}
	for d := range nsp {
		g.out[d] = outputSize(g.in[d], g.kern[d], g.pad[d], g.stride[d], g.dil[d])
		if g.out[d] <= 0 || g.out[d] != y.dims[d+2] {
			return nil, cdnn.StatusBadParam
		}
	}
	return g, cdnn.StatusSuccess
}

// convOperands resolves the descriptors shared by all convolution entry
// points. Callers hold l.mu.
func (l *Lib) convOperands(h cdnn.Handle, xd cdnn.TensorDescriptor, wd cdnn.FilterDescriptor, cd cdnn.ConvolutionDescriptor, yd cdnn.TensorDescriptor) (x, y *tensorDesc, w *filterDesc, g *geometry, st cdnn.Status) {
	if _, st = get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return
	}
	if x, st = get[tensorDesc](l, uintptr(xd)); st != cdnn.StatusSuccess {
		return
	}
	if w, st = get[filterDesc](l, uintptr(wd)); st != cdnn.StatusSuccess {
		return
	}
	conv, st := get[convDesc](l, uintptr(cd))
	if st != cdnn.StatusSuccess {
		return
	}
	if y, st = get[tensorDesc](l, uintptr(yd)); st != cdnn.StatusSuccess {
		return
	}
	g, st = convGeometry(x, w, conv, y)
	return
}

// =============================================================================
// Workspace-Groessen und Heuristik
// =============================================================================

func fwdWorkspace(g *geometry, algo cdnn.ConvolutionFwdAlgo) (uint64, cdnn.Status) {
	switch algo {
	case cdnn.FwdAlgoImplicitGemm:
		return 0, cdnn.StatusSuccess
	case cdnn.FwdAlgoImplicitPrecompGemm:
		return uint64(g.outSize()*g.kernSize()) * 4, cdnn.StatusSuccess
	case cdnn.FwdAlgoGemm:
		return uint64(g.colSize()) * 4, cdnn.StatusSuccess
	default:
		return 0, cdnn.StatusNotSupported
	}
}

func bwdDataWorkspace(g *geometry, algo cdnn.ConvolutionBwdDataAlgo) (uint64, cdnn.Status) {
	switch algo {
	case cdnn.BwdDataAlgo0:
		return 0, cdnn.StatusSuccess
	case cdnn.BwdDataAlgo1:
		return uint64(g.colSize()) * 4, cdnn.StatusSuccess
	default:
		return 0, cdnn.StatusNotSupported
	}
}

func bwdFilterWorkspace(g *geometry, algo cdnn.ConvolutionBwdFilterAlgo) (uint64, cdnn.Status) {
	switch algo {
	case cdnn.BwdFilterAlgo0:
		return 0, cdnn.StatusSuccess
	case cdnn.BwdFilterAlgo1:
		return uint64(g.colSize()) * 4, cdnn.StatusSuccess
	default:
		return 0, cdnn.StatusNotSupported
	}
}

// choose picks the gemm-based algorithm unless the preference or limit
// rules out its workspace.
func choose[A ~int32](pref cdnn.Preference, limit, gemmSize uint64, direct, gemm A) (A, cdnn.Status) {
	switch pref {
	case cdnn.NoWorkspace:
		return direct, cdnn.StatusSuccess
	case cdnn.PreferFastest:
		return gemm, cdnn.StatusSuccess
	case cdnn.SpecifyWorkspaceLimit:
		if gemmSize <= limit {
			return gemm, cdnn.StatusSuccess
		}
		return direct, cdnn.StatusSuccess
	default:
		return direct, cdnn.StatusBadParam
	}
}

func (l *Lib) GetConvolutionForwardAlgorithm(h cdnn.Handle, x cdnn.TensorDescriptor, w cdnn.FilterDescriptor, conv cdnn.ConvolutionDescriptor, y cdnn.TensorDescriptor, pref cdnn.Preference, limit uint64, algo *cdnn.ConvolutionFwdAlgo) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, _, g, st := l.convOperands(h, x, w, conv, y)
	if st != cdnn.StatusSuccess {
		return st
	}
	size, _ := fwdWorkspace(g, cdnn.FwdAlgoGemm)
	*algo, st = choose(pref, limit, size, cdnn.FwdAlgoImplicitGemm, cdnn.FwdAlgoGemm)
	return st
}

func (l *Lib) GetConvolutionForwardWorkspaceSize(h cdnn.Handle, x cdnn.TensorDescriptor, w cdnn.FilterDescriptor, conv cdnn.ConvolutionDescriptor, y cdnn.TensorDescriptor, algo cdnn.ConvolutionFwdAlgo, size *uint64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, _, g, st := l.convOperands(h, x, w, conv, y)
	if st != cdnn.StatusSuccess {
		return st
	}
	*size, st = fwdWorkspace(g, algo)
	return st
}

func (l *Lib) GetConvolutionBackwardDataAlgorithm(h cdnn.Handle, w cdnn.FilterDescriptor, dy cdnn.TensorDescriptor, conv cdnn.ConvolutionDescriptor, dx cdnn.TensorDescriptor, pref cdnn.Preference, limit uint64, algo *cdnn.ConvolutionBwdDataAlgo) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, _, g, st := l.convOperands(h, dx, w, conv, dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	size, _ := bwdDataWorkspace(g, cdnn.BwdDataAlgo1)
	*algo, st = choose(pref, limit, size, cdnn.BwdDataAlgo0, cdnn.BwdDataAlgo1)
	return st
}

func (l *Lib) GetConvolutionBackwardDataWorkspaceSize(h cdnn.Handle, w cdnn.FilterDescriptor, dy cdnn.TensorDescriptor, conv cdnn.ConvolutionDescriptor, dx cdnn.TensorDescriptor, algo cdnn.ConvolutionBwdDataAlgo, size *uint64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, _, g, st := l.convOperands(h, dx, w, conv, dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	*size, st = bwdDataWorkspace(g, algo)
	return st
}

func (l *Lib) GetConvolutionBackwardFilterAlgorithm(h cdnn.Handle, x cdnn.TensorDescriptor, dy cdnn.TensorDescriptor, conv cdnn.ConvolutionDescriptor, dw cdnn.FilterDescriptor, pref cdnn.Preference, limit uint64, algo *cdnn.ConvolutionBwdFilterAlgo) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, _, g, st := l.convOperands(h, x, dw, conv, dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	size, _ := bwdFilterWorkspace(g, cdnn.BwdFilterAlgo1)
	*algo, st = choose(pref, limit, size, cdnn.BwdFilterAlgo0, cdnn.BwdFilterAlgo1)
	return st
}

func (l *Lib) GetConvolutionBackwardFilterWorkspaceSize(h cdnn.Handle, x cdnn.TensorDescriptor, dy cdnn.TensorDescriptor, conv cdnn.ConvolutionDescriptor, dw cdnn.FilterDescriptor, algo cdnn.ConvolutionBwdFilterAlgo, size *uint64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _, _, g, st := l.convOperands(h, x, dw, conv, dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	*size, st = bwdFilterWorkspace(g, algo)
	return st
}

// workspace resolves ws as float32 scratch of at least need bytes.
func (l *Lib) workspace(ws cdnn.Ptr, wsSize, need uint64) ([]byte, cdnn.Status) {
	if wsSize < need {
		return nil, cdnn.StatusBadParam
	}
	return l.bytes(ws, need)
}

// =============================================================================
// Vorwaerts
// =============================================================================

func (l *Lib) ConvolutionForward(h cdnn.Handle, alpha float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, wDesc cdnn.FilterDescriptor, w cdnn.Ptr, conv cdnn.ConvolutionDescriptor, algo cdnn.ConvolutionFwdAlgo, ws cdnn.Ptr, wsSize uint64, beta float64, yDesc cdnn.TensorDescriptor, y cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	xt, yt, wf, g, st := l.convOperands(h, xDesc, wDesc, conv, yDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	need, st := fwdWorkspace(g, algo)
	if st != cdnn.StatusSuccess {
		return st
	}
	scratch, st := l.workspace(ws, wsSize, need)
	if st != cdnn.StatusSuccess {
		return st
	}

	xv, st := l.load(xt, x)
	if st != cdnn.StatusSuccess {
		return st
	}
	wv, st := l.loadFilter(wf, w)
	if st != cdnn.StatusSuccess {
		return st
	}

	var out []float64
	switch algo {
	case cdnn.FwdAlgoGemm:
		out = forwardGemm(g, xv, wv, host.Float32View(scratch))
	case cdnn.FwdAlgoImplicitPrecompGemm:
		out = forwardDirect(g, xv, wv, precompute(g, scratch))
	default:
		out = forwardDirect(g, xv, wv, g.table())
	}
	return l.store(yt, y, out, alpha, beta)
}

// precompute writes the index table into the workspace and runs from there.
func precompute(g *geometry, ws []byte) []int32 {
	t := g.table()
	for i, v := range t {
		binary.LittleEndian.PutUint32(ws[4*i:], uint32(v))
	}
	for i := range t {
		t[i] = int32(binary.LittleEndian.Uint32(ws[4*i:]))
	}
	return t
}

func forwardDirect(g *geometry, x, w []float64, tbl []int32) []float64 {
	p, r, in := g.outSize(), g.kernSize(), g.inSize()
	y := make([]float64, g.n*g.k*p)
	for n := range g.n {
		for k := range g.k {
			dst := y[(n*g.k+k)*p:][:p]
			for c := range g.c {
				src := x[(n*g.c+c)*in:][:in]
				flt := w[(k*g.c+c)*r:][:r]
				for o := range p {
					acc := 0.0
					for kr := range r {
						if i := tbl[o*r+kr]; i >= 0 {
							acc += src[i] * flt[g.tap(kr)]
						}
					}
					dst[o] += acc
				}
			}
		}
	}
	return y
}

// im2col fills col (C·R rows × P columns, row-major) for image n.
func im2col(g *geometry, x []float64, n int, tbl []int32, col []float32) {
	p, r, in := g.outSize(), g.kernSize(), g.inSize()
	for c := range g.c {
		src := x[(n*g.c+c)*in:][:in]
		for kr := range r {
			row := col[(c*r+g.tap(kr))*p:][:p]
			for o := range p {
				if i := tbl[o*r+kr]; i >= 0 {
					row[o] = float32(src[i])
				} else {
					row[o] = 0
				}
			}
		}
	}
}

func forwardGemm(g *geometry, x, w []float64, col []float32) []float64 {
	p, cr := g.outSize(), g.c*g.kernSize()
	tbl := g.table()
	wf := toFloat32(w)
	tmp := make([]float32, g.k*p)
	y := make([]float64, g.n*g.k*p)
	for n := range g.n {
		im2col(g, x, n, tbl, col)
		// Y[n] (K×P) = W (K×CR) · col (CR×P)
		blasImpl.Sgemm(blas.NoTrans, blas.NoTrans, g.k, p, cr, 1, wf, cr, col, p, 0, tmp, p)
		for i, v := range tmp {
			y[n*g.k*p+i] = float64(v)
		}
	}
	return y
}

// =============================================================================
// Rueckwaerts: Daten
// =============================================================================

func (l *Lib) ConvolutionBackwardData(h cdnn.Handle, alpha float64, wDesc cdnn.FilterDescriptor, w cdnn.Ptr, dyDesc cdnn.TensorDescriptor, dy cdnn.Ptr, conv cdnn.ConvolutionDescriptor, algo cdnn.ConvolutionBwdDataAlgo, ws cdnn.Ptr, wsSize uint64, beta float64, dxDesc cdnn.TensorDescriptor, dx cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	dxt, dyt, wf, g, st := l.convOperands(h, dxDesc, wDesc, conv, dyDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	need, st := bwdDataWorkspace(g, algo)
	if st != cdnn.StatusSuccess {
		return st
	}
	scratch, st := l.workspace(ws, wsSize, need)
	if st != cdnn.StatusSuccess {
		return st
	}
	dyv, st := l.load(dyt, dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	wv, st := l.loadFilter(wf, w)
	if st != cdnn.StatusSuccess {
		return st
	}

	p, r, in := g.outSize(), g.kernSize(), g.inSize()
	tbl := g.table()
	dxv := make([]float64, g.n*g.c*in)

	if algo == cdnn.BwdDataAlgo1 {
		col := host.Float32View(scratch)
		wt := toFloat32(wv)
		cr := g.c * r
		for n := range g.n {
			dyn := toFloat32(dyv[n*g.k*p:][:g.k*p])
			// col (CR×P) = W^T (CR×K) · dY[n] (K×P)
			blasImpl.Sgemm(blas.Trans, blas.NoTrans, cr, p, g.k, 1, wt, cr, dyn, p, 0, col, p)
			for c := range g.c {
				dst := dxv[(n*g.c+c)*in:][:in]
				for kr := range r {
					row := col[(c*r+g.tap(kr))*p:][:p]
					for o := range p {
						if i := tbl[o*r+kr]; i >= 0 {
							dst[i] += float64(row[o])
						}
					}
				}
			}
		}
		return l.store(dxt, dx, dxv, alpha, beta)
	}

	for n := range g.n {
		for k := range g.k {
			src := dyv[(n*g.k+k)*p:][:p]
			for c := range g.c {
				dst := dxv[(n*g.c+c)*in:][:in]
				flt := wv[(k*g.c+c)*r:][:r]
				for o := range p {
					for kr := range r {
						if i := tbl[o*r+kr]; i >= 0 {
							dst[i] += src[o] * flt[g.tap(kr)]
						}
					}
				}
			}
		}
	}
	return l.store(dxt, dx, dxv, alpha, beta)
}

// =============================================================================
// Rueckwaerts: Filter
// =============================================================================

func (l *Lib) ConvolutionBackwardFilter(h cdnn.Handle, alpha float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, dyDesc cdnn.TensorDescriptor, dy cdnn.Ptr, conv cdnn.ConvolutionDescriptor, algo cdnn.ConvolutionBwdFilterAlgo, ws cdnn.Ptr, wsSize uint64, beta float64, dwDesc cdnn.FilterDescriptor, dw cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	xt, dyt, wf, g, st := l.convOperands(h, xDesc, dwDesc, conv, dyDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	need, st := bwdFilterWorkspace(g, algo)
	if st != cdnn.StatusSuccess {
		return st
	}
	scratch, st := l.workspace(ws, wsSize, need)
	if st != cdnn.StatusSuccess {
		return st
	}
	xv, st := l.load(xt, x)
	if st != cdnn.StatusSuccess {
		return st
	}
	dyv, st := l.load(dyt, dy)
	if st != cdnn.StatusSuccess {
		return st
	}

	p, r, in := g.outSize(), g.kernSize(), g.inSize()
	tbl := g.table()
	dwv := make([]float64, g.k*g.c*r)

	if algo == cdnn.BwdFilterAlgo1 {
		col := host.Float32View(scratch)
		cr := g.c * r
		acc := make([]float32, g.k*cr)
		for n := range g.n {
			im2col(g, xv, n, tbl, col)
			dyn := toFloat32(dyv[n*g.k*p:][:g.k*p])
			// dW (K×CR) += dY[n] (K×P) · col^T (P×CR)
			blasImpl.Sgemm(blas.NoTrans, blas.Trans, g.k, cr, p, 1, dyn, p, col, p, 1, acc, cr)
		}
		for i, v := range acc {
			dwv[i] = float64(v)
		}
		return l.storeFilter(wf, dw, dwv, alpha, beta)
	}

	for n := range g.n {
		for k := range g.k {
			src := dyv[(n*g.k+k)*p:][:p]
			for c := range g.c {
				img := xv[(n*g.c+c)*in:][:in]
				dst := dwv[(k*g.c+c)*r:][:r]
				for o := range p {
					for kr := range r {
						if i := tbl[o*r+kr]; i >= 0 {
							dst[g.tap(kr)] += src[o] * img[i]
						}
					}
				}
			}
		}
	}
	return l.storeFilter(wf, dw, dwv, alpha, beta)
}

// =============================================================================
// Rueckwaerts: Bias
// =============================================================================

// ConvolutionBackwardBias sums dy over batch and spatial positions into
// db, which has shape 1×K×1×...
func (l *Lib) ConvolutionBackwardBias(h cdnn.Handle, alpha float64, dyDesc cdnn.TensorDescriptor, dy cdnn.Ptr, beta float64, dbDesc cdnn.TensorDescriptor, db cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	dyt, st := get[tensorDesc](l, uintptr(dyDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	dbt, st := get[tensorDesc](l, uintptr(dbDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	if len(dbt.dims) != len(dyt.dims) || dbt.elements() != dyt.dims[1] || dbt.dims[1] != dyt.dims[1] {
		return cdnn.StatusBadParam
	}
	dyv, st := l.load(dyt, dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	k, sp := dyt.dims[1], product(dyt.dims[2:])
	sums := make([]float64, k)
	for i, v := range dyv {
		sums[(i/sp)%k] += v
	}
	return l.store(dbt, db, sums, alpha, beta)
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

// pooling.go - Pooling vorwaerts und rueckwaerts

package hostlib

import (
	"math"

	"github.com/clstream/cldnn/cdnn"
)

type poolGeometry struct {
	planes  int     // N·C
	inSize  int     // Eingabe raeumlich
	taps    [][]int // je Ausgabeposition die Eingabeindizes im Bereich
	divisor []float64
}

func newPoolGeometry(p *poolDesc, x, y *tensorDesc) (*poolGeometry, cdnn.Status) {
	nsp := len(p.window)
	if len(x.dims) != nsp+2 || len(y.dims) != nsp+2 || x.dt != y.dt {
		return nil, cdnn.StatusBadParam
	}
	if x.dims[0] != y.dims[0] || x.dims[1] != y.dims[1] {
		return nil, cdnn.StatusBadParam
	}
	in, out := x.dims[2:], y.dims[2:]
	for d := range nsp {
		if want := (in[d]+2*p.pad[d]-p.window[d])/p.stride[d] + 1; want != out[d] {
			return nil, cdnn.StatusBadParam
		}
	}

	g := &poolGeometry{
		planes:  x.dims[0] * x.dims[1],
		inSize:  product(in),
		taps:    make([][]int, product(out)),
		divisor: make([]float64, product(out)),
	}
	windowSize := product(p.window)
	opos := make([]int, nsp)
	wpos := make([]int, nsp)
	for o := range g.taps {
		unravel(o, out, opos)
		for w := range windowSize {
			unravel(w, p.window, wpos)
			idx := 0
			for d := range nsp {
				i := opos[d]*p.stride[d] - p.pad[d] + wpos[d]
				if i < 0 || i >= in[d] {
					idx = -1
					break
				}
				idx = idx*in[d] + i
			}
			if idx >= 0 {
				g.taps[o] = append(g.taps[o], idx)
			}
		}
		switch p.mode {
		case cdnn.PoolingAverageCountIncludePadding:
			g.divisor[o] = float64(windowSize)
		default:
			g.divisor[o] = float64(len(g.taps[o]))
		}
	}
	return g, cdnn.StatusSuccess
}

func isMax(m cdnn.PoolingMode) bool {
	return m == cdnn.PoolingMax || m == cdnn.PoolingMaxDeterministic
}

// argmax returns the first tap holding the maximum, or the first NaN tap
// when NaNs propagate.
func argmax(src []float64, taps []int, nan cdnn.NanPropagation) int {
	best := -1
	for _, i := range taps {
		v := src[i]
		if math.IsNaN(v) {
			if nan == cdnn.PropagateNan {
				return i
			}
			continue
		}
		if best < 0 || v > src[best] {
			best = i
		}
	}
	return best
}

func (l *Lib) poolOperands(h cdnn.Handle, pd cdnn.PoolingDescriptor, xd, yd cdnn.TensorDescriptor) (p *poolDesc, x, y *tensorDesc, g *poolGeometry, st cdnn.Status) {
	if _, st = get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return
	}
	if p, st = get[poolDesc](l, uintptr(pd)); st != cdnn.StatusSuccess {
		return
	}
	if x, st = get[tensorDesc](l, uintptr(xd)); st != cdnn.StatusSuccess {
		return
	}
	if y, st = get[tensorDesc](l, uintptr(yd)); st != cdnn.StatusSuccess {
		return
	}
	g, st = newPoolGeometry(p, x, y)
	return
}

func (l *Lib) PoolingForward(h cdnn.Handle, pool cdnn.PoolingDescriptor, alpha float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, beta float64, yDesc cdnn.TensorDescriptor, y cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, xt, yt, g, st := l.poolOperands(h, pool, xDesc, yDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	xv, st := l.load(xt, x)
	if st != cdnn.StatusSuccess {
		return st
	}

	outSize := len(g.taps)
	yv := make([]float64, g.planes*outSize)
	for pl := range g.planes {
		src := xv[pl*g.inSize:][:g.inSize]
		dst := yv[pl*outSize:][:outSize]
		for o, taps := range g.taps {
			if isMax(p.mode) {
				if i := argmax(src, taps, p.nan); i >= 0 {
					dst[o] = src[i]
				} else {
					dst[o] = math.Inf(-1)
				}
				continue
			}
			sum := 0.0
			for _, i := range taps {
				sum += src[i]
			}
			if g.divisor[o] > 0 {
				dst[o] = sum / g.divisor[o]
			}
		}
	}
	return l.store(yt, y, yv, alpha, beta)
}

func (l *Lib) PoolingBackward(h cdnn.Handle, pool cdnn.PoolingDescriptor, alpha float64, yDesc cdnn.TensorDescriptor, y cdnn.Ptr, dyDesc cdnn.TensorDescriptor, dy cdnn.Ptr, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, beta float64, dxDesc cdnn.TensorDescriptor, dx cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, xt, yt, g, st := l.poolOperands(h, pool, xDesc, yDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	dyt, st := get[tensorDesc](l, uintptr(dyDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	dxt, st := get[tensorDesc](l, uintptr(dxDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	if !sameDims(dyt.dims, yt.dims) || !sameDims(dxt.dims, xt.dims) {
		return cdnn.StatusBadParam
	}
	xv, st := l.load(xt, x)
	if st != cdnn.StatusSuccess {
		return st
	}
	dyv, st := l.load(dyt, dy)
	if st != cdnn.StatusSuccess {
		return st
	}

	outSize := len(g.taps)
	dxv := make([]float64, g.planes*g.inSize)
	for pl := range g.planes {
		src := xv[pl*g.inSize:][:g.inSize]
		grad := dyv[pl*outSize:][:outSize]
		dst := dxv[pl*g.inSize:][:g.inSize]
		for o, taps := range g.taps {
			if isMax(p.mode) {
				if i := argmax(src, taps, p.nan); i >= 0 {
					dst[i] += grad[o]
				}
				continue
			}
			if g.divisor[o] == 0 {
				continue
			}
			share := grad[o] / g.divisor[o]
			for _, i := range taps {
				dst[i] += share
			}
		}
	}
	return l.store(dxt, dx, dxv, alpha, beta)
}

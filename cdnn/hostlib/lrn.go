// lrn.go - Lokale Antwortnormalisierung ueber Kanaele
//
//	y_c = x_c / (k + alpha/n · Σ_{j ∈ W(c)} x_j²)^beta
//
// mit W(c) = [c - ⌊(n-1)/2⌋, c + ⌈(n-1)/2⌉] geschnitten mit [0, C).

package hostlib

import (
	"math"

	"github.com/clstream/cldnn/cdnn"
)

// window returns the channel bounds [lo, hi] around c.
func (r *lrnDesc) window(c, channels int) (lo, hi int) {
	lo = max(c-(r.n-1)/2, 0)
	hi = min(c+r.n/2, channels-1)
	return lo, hi
}

// scales returns k + alpha/n·Σx² for every element of x (N×C×S).
func (r *lrnDesc) scales(x []float64, n, c, s int) []float64 {
	out := make([]float64, len(x))
	for b := range n {
		for ch := range c {
			lo, hi := r.window(ch, c)
			for p := range s {
				sum := 0.0
				for j := lo; j <= hi; j++ {
					v := x[(b*c+j)*s+p]
					sum += v * v
				}
				out[(b*c+ch)*s+p] = r.k + r.alpha/float64(r.n)*sum
			}
		}
	}
	return out
}

func (l *Lib) lrnOperands(h cdnn.Handle, d cdnn.LRNDescriptor, mode cdnn.LRNMode, descs ...cdnn.TensorDescriptor) (*lrnDesc, []*tensorDesc, cdnn.Status) {
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return nil, nil, st
	}
	if mode != cdnn.LRNCrossChannelDim1 {
		return nil, nil, cdnn.StatusBadParam
	}
	r, st := get[lrnDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return nil, nil, st
	}
	ts := make([]*tensorDesc, len(descs))
	for i, td := range descs {
		if ts[i], st = get[tensorDesc](l, uintptr(td)); st != cdnn.StatusSuccess {
			return nil, nil, st
		}
		if !sameDims(ts[i].dims, ts[0].dims) || ts[i].dt != ts[0].dt {
			return nil, nil, cdnn.StatusBadParam
		}
	}
	return r, ts, cdnn.StatusSuccess
}

func (l *Lib) LRNCrossChannelForward(h cdnn.Handle, lrn cdnn.LRNDescriptor, mode cdnn.LRNMode, alpha float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, beta float64, yDesc cdnn.TensorDescriptor, y cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ts, st := l.lrnOperands(h, lrn, mode, xDesc, yDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	xt, yt := ts[0], ts[1]
	xv, st := l.load(xt, x)
	if st != cdnn.StatusSuccess {
		return st
	}
	n, c, s := xt.dims[0], xt.dims[1], product(xt.dims[2:])
	sc := r.scales(xv, n, c, s)
	yv := make([]float64, len(xv))
	for i, v := range xv {
		yv[i] = v * math.Pow(sc[i], -r.beta)
	}
	return l.store(yt, y, yv, alpha, beta)
}

// LRNCrossChannelBackward computes
//
//	dx_i = dy_i·s_i^-beta - 2·beta·alpha/n · x_i · Σ_{j: i ∈ W(j)} dy_j·y_j/s_j
func (l *Lib) LRNCrossChannelBackward(h cdnn.Handle, lrn cdnn.LRNDescriptor, mode cdnn.LRNMode, alpha float64, yDesc cdnn.TensorDescriptor, y cdnn.Ptr, dyDesc cdnn.TensorDescriptor, dy cdnn.Ptr, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, beta float64, dxDesc cdnn.TensorDescriptor, dx cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ts, st := l.lrnOperands(h, lrn, mode, yDesc, dyDesc, xDesc, dxDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	yv, st := l.load(ts[0], y)
	if st != cdnn.StatusSuccess {
		return st
	}
	dyv, st := l.load(ts[1], dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	xv, st := l.load(ts[2], x)
	if st != cdnn.StatusSuccess {
		return st
	}

	n, c, s := ts[2].dims[0], ts[2].dims[1], product(ts[2].dims[2:])
	sc := r.scales(xv, n, c, s)
	ratio := make([]float64, len(xv))
	for i := range ratio {
		ratio[i] = dyv[i] * yv[i] / sc[i]
	}

	coef := 2 * r.beta * r.alpha / float64(r.n)
	dxv := make([]float64, len(xv))
	for b := range n {
		for ch := range c {
			// j enthaelt ch im Fenster genau fuer j ∈ [ch-⌈(n-1)/2⌉, ch+⌊(n-1)/2⌋]
			lo := max(ch-r.n/2, 0)
			hi := min(ch+(r.n-1)/2, c-1)
			for p := range s {
				i := (b*c+ch)*s + p
				sum := 0.0
				for j := lo; j <= hi; j++ {
					sum += ratio[(b*c+j)*s+p]
				}
				dxv[i] = dyv[i]*math.Pow(sc[i], -r.beta) - coef*xv[i]*sum
			}
		}
	}
	return l.store(ts[3], dx, dxv, alpha, beta)
}

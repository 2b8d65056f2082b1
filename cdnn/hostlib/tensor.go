// tensor.go - Elementzugriff auf strided Tensoren, AddTensor, TransformTensor
//
// Rechenkerne arbeiten auf dichten float64-Kopien in logischer
// Zeilen-Reihenfolge der Dimensionen. load/store uebersetzen zwischen
// dieser Form und dem strided Geraetespeicher.

package hostlib

import (
	"encoding/binary"
	"math"

	"github.com/x448/float16"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/ml/backend/host"
)

// buffer is typed device memory.
type buffer struct {
	dt cdnn.DataType
	b  []byte
}

func (b buffer) at(i int) float64 {
	switch b.dt {
	case cdnn.DataDouble:
		return host.Float64View(b.b)[i]
	case cdnn.DataHalf:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(b.b[2*i:])).Float32())
	default:
		return float64(host.Float32View(b.b)[i])
	}
}

func (b buffer) set(i int, v float64) {
	switch b.dt {
	case cdnn.DataDouble:
		host.Float64View(b.b)[i] = v
	case cdnn.DataHalf:
		binary.LittleEndian.PutUint16(b.b[2*i:], float16.Fromfloat32(float32(v)).Bits())
	default:
		host.Float32View(b.b)[i] = float32(v)
	}
}

// offsets maps every logical row-major index to its strided element offset.
func offsets(dims, strides []int) []int {
	out := make([]int, product(dims))
	idx := make([]int, len(dims))
	off := 0
	for i := range out {
		out[i] = off
		for d := len(dims) - 1; d >= 0; d-- {
			idx[d]++
			off += strides[d]
			if idx[d] < dims[d] {
				break
			}
			off -= idx[d] * strides[d]
			idx[d] = 0
		}
	}
	return out
}

// blend writes alpha*v + beta*old. With beta zero the old value is not read.
func blend(b buffer, i int, v, alpha, beta float64) {
	if beta == 0 {
		b.set(i, alpha*v)
		return
	}
	b.set(i, alpha*v+beta*b.at(i))
}

func (l *Lib) view(dt cdnn.DataType, p cdnn.Ptr, elements int) (buffer, cdnn.Status) {
	b, st := l.bytes(p, uint64(elements*dt.Size()))
	return buffer{dt: dt, b: b}, st
}

func (l *Lib) load(t *tensorDesc, p cdnn.Ptr) ([]float64, cdnn.Status) {
	buf, st := l.view(t.dt, p, t.span())
	if st != cdnn.StatusSuccess {
		return nil, st
	}
	offs := offsets(t.dims, t.strides)
	out := make([]float64, len(offs))
	for i, o := range offs {
		out[i] = buf.at(o)
	}
	return out, cdnn.StatusSuccess
}

func (l *Lib) store(t *tensorDesc, p cdnn.Ptr, vals []float64, alpha, beta float64) cdnn.Status {
	buf, st := l.view(t.dt, p, t.span())
	if st != cdnn.StatusSuccess {
		return st
	}
	for i, o := range offsets(t.dims, t.strides) {
		blend(buf, o, vals[i], alpha, beta)
	}
	return cdnn.StatusSuccess
}

// filterStrides returns the element strides of a filter in its format,
// indexed like dims (output, input, spatial...).
func filterStrides(f *filterDesc) []int {
	if f.format != cdnn.TensorNHWC {
		return packedStrides(f.dims)
	}
	s := make([]int, len(f.dims))
	c := f.dims[1]
	s[1] = 1
	acc := c
	for i := len(f.dims) - 1; i >= 2; i-- {
		s[i] = acc
		acc *= f.dims[i]
	}
	s[0] = acc
	return s
}

func (l *Lib) loadFilter(f *filterDesc, p cdnn.Ptr) ([]float64, cdnn.Status) {
	return l.load(&tensorDesc{dt: f.dt, dims: f.dims, strides: filterStrides(f)}, p)
}

func (l *Lib) storeFilter(f *filterDesc, p cdnn.Ptr, vals []float64, alpha, beta float64) cdnn.Status {
	return l.store(&tensorDesc{dt: f.dt, dims: f.dims, strides: filterStrides(f)}, p, vals, alpha, beta)
}

// =============================================================================
// AddTensor / TransformTensor
// =============================================================================

// AddTensor computes C = alpha*A + beta*C. Each dimension of A must match
// C or be 1, in which case A is broadcast along it.
func (l *Lib) AddTensor(h cdnn.Handle, alpha float64, aDesc cdnn.TensorDescriptor, a cdnn.Ptr, beta float64, cDesc cdnn.TensorDescriptor, c cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	at, st := get[tensorDesc](l, uintptr(aDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	ct, st := get[tensorDesc](l, uintptr(cDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	if len(at.dims) != len(ct.dims) || at.dt != ct.dt {
		return cdnn.StatusBadParam
	}

	// Broadcast: Stride 0 entlang der Dimensionen der Groesse 1
	bstrides := make([]int, len(at.dims))
	for i := range at.dims {
		switch at.dims[i] {
		case ct.dims[i]:
			bstrides[i] = at.strides[i]
		case 1:
		default:
			return cdnn.StatusBadParam
		}
	}

	abuf, st := l.view(at.dt, a, at.span())
	if st != cdnn.StatusSuccess {
		return st
	}
	cbuf, st := l.view(ct.dt, c, ct.span())
	if st != cdnn.StatusSuccess {
		return st
	}

	aoffs := offsets(ct.dims, bstrides)
	for i, o := range offsets(ct.dims, ct.strides) {
		v := alpha * abuf.at(aoffs[i])
		if beta != 0 {
			v += beta * cbuf.at(o)
		}
		cbuf.set(o, v)
	}
	return cdnn.StatusSuccess
}

// TransformTensor copies x into y's layout: y = alpha*x + beta*y.
func (l *Lib) TransformTensor(h cdnn.Handle, alpha float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, beta float64, yDesc cdnn.TensorDescriptor, y cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	xt, st := get[tensorDesc](l, uintptr(xDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	yt, st := get[tensorDesc](l, uintptr(yDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	if !sameDims(xt.dims, yt.dims) {
		return cdnn.StatusBadParam
	}
	vals, st := l.load(xt, x)
	if st != cdnn.StatusSuccess {
		return st
	}
	return l.store(yt, y, vals, alpha, beta)
}

func sigmoid(x float64) float64 { return 1 / (1 + math.Exp(-x)) }

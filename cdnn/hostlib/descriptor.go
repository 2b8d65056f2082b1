// descriptor.go - Create/Set/Get/Destroy aller Deskriptor-Arten

package hostlib

import (
	"slices"

	"github.com/clstream/cldnn/cdnn"
)

const maxDims = 8

// =============================================================================
// Tensor
// =============================================================================

type tensorDesc struct {
	dt      cdnn.DataType
	dims    []int
	strides []int
}

// elements is the number of logical values.
func (t *tensorDesc) elements() int {
	if len(t.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.dims {
		n *= d
	}
	return n
}

// span is the number of element slots the strided layout touches.
func (t *tensorDesc) span() int {
	if t.elements() == 0 {
		return 0
	}
	n := 1
	for i, d := range t.dims {
		n += (d - 1) * t.strides[i]
	}
	return n
}

func validDataType(dt cdnn.DataType) bool {
	switch dt {
	case cdnn.DataFloat, cdnn.DataDouble, cdnn.DataHalf:
		return true
	}
	return false
}

func (l *Lib) CreateTensorDescriptor(d *cdnn.TensorDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.TensorDescriptor(l.put(&tensorDesc{}))
	return cdnn.StatusSuccess
}

func (l *Lib) SetTensorNdDescriptor(d cdnn.TensorDescriptor, dt cdnn.DataType, dims, strides []int32) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, st := get[tensorDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if len(dims) < 3 || len(dims) > maxDims || len(strides) != len(dims) {
		return cdnn.StatusBadParam
	}
	if !validDataType(dt) {
		return cdnn.StatusNotSupported
	}
	for i := range dims {
		if dims[i] <= 0 || strides[i] <= 0 {
			return cdnn.StatusBadParam
		}
	}
	t.dt = dt
	t.dims = widen(dims)
	t.strides = widen(strides)
	return cdnn.StatusSuccess
}

func (l *Lib) GetTensorNdDescriptor(d cdnn.TensorDescriptor, dt *cdnn.DataType, nbDims *int32, dims, strides []int32) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, st := get[tensorDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if dt != nil {
		*dt = t.dt
	}
	if nbDims != nil {
		*nbDims = int32(len(t.dims))
	}
	copy(dims, narrow(t.dims))
	copy(strides, narrow(t.strides))
	return cdnn.StatusSuccess
}

func (l *Lib) DestroyTensorDescriptor(d cdnn.TensorDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[tensorDesc](l, uintptr(d))
}

// =============================================================================
// Filter
// =============================================================================

type filterDesc struct {
	dt     cdnn.DataType
	format cdnn.TensorFormat
	dims   []int
}

func (f *filterDesc) elements() int {
	if len(f.dims) == 0 {
		return 0
	}
	n := 1
	for _, d := range f.dims {
		n *= d
	}
	return n
}

func (l *Lib) CreateFilterDescriptor(d *cdnn.FilterDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.FilterDescriptor(l.put(&filterDesc{}))
	return cdnn.StatusSuccess
}

func (l *Lib) SetFilterNdDescriptor(d cdnn.FilterDescriptor, dt cdnn.DataType, format cdnn.TensorFormat, dims []int32) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, st := get[filterDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if len(dims) < 3 || len(dims) > maxDims {
		return cdnn.StatusBadParam
	}
	if !validDataType(dt) {
		return cdnn.StatusNotSupported
	}
	for _, v := range dims {
		if v <= 0 {
			return cdnn.StatusBadParam
		}
	}
	f.dt, f.format, f.dims = dt, format, widen(dims)
	return cdnn.StatusSuccess
}

func (l *Lib) GetFilterNdDescriptor(d cdnn.FilterDescriptor, dt *cdnn.DataType, format *cdnn.TensorFormat, nbDims *int32, dims []int32) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, st := get[filterDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if dt != nil {
		*dt = f.dt
	}
	if format != nil {
		*format = f.format
	}
	if nbDims != nil {
		*nbDims = int32(len(f.dims))
	}
	copy(dims, narrow(f.dims))
	return cdnn.StatusSuccess
}

func (l *Lib) DestroyFilterDescriptor(d cdnn.FilterDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[filterDesc](l, uintptr(d))
}

// =============================================================================
// Faltung
// =============================================================================

type convDesc struct {
	pad, stride, dilation []int
	mode                  cdnn.ConvolutionMode
	dt                    cdnn.DataType
	math                  cdnn.MathType
}

func (l *Lib) CreateConvolutionDescriptor(d *cdnn.ConvolutionDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.ConvolutionDescriptor(l.put(&convDesc{}))
	return cdnn.StatusSuccess
}

func (l *Lib) SetConvolutionNdDescriptor(d cdnn.ConvolutionDescriptor, pad, stride, upscale []int32, mode cdnn.ConvolutionMode, dt cdnn.DataType) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, st := get[convDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	n := len(pad)
	if n == 0 || n > maxDims-2 || len(stride) != n || len(upscale) != n {
		return cdnn.StatusBadParam
	}
	if mode != cdnn.Convolution && mode != cdnn.CrossCorrelation {
		return cdnn.StatusBadParam
	}
	if !validDataType(dt) {
		return cdnn.StatusNotSupported
	}
	for i := range n {
		if pad[i] < 0 || stride[i] <= 0 || upscale[i] <= 0 {
			return cdnn.StatusBadParam
		}
	}
	c.pad, c.stride, c.dilation = widen(pad), widen(stride), widen(upscale)
	c.mode, c.dt = mode, dt
	return cdnn.StatusSuccess
}

func (l *Lib) SetConvolutionMathType(d cdnn.ConvolutionDescriptor, m cdnn.MathType) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, st := get[convDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if m != cdnn.DefaultMath && m != cdnn.TensorOpMath {
		return cdnn.StatusBadParam
	}
	c.math = m
	return cdnn.StatusSuccess
}

// MathType returns the math type of a convolution descriptor.
func (l *Lib) MathType(d cdnn.ConvolutionDescriptor) (cdnn.MathType, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, st := get[convDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return 0, false
	}
	return c.math, true
}

func (l *Lib) DestroyConvolutionDescriptor(d cdnn.ConvolutionDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[convDesc](l, uintptr(d))
}

// =============================================================================
// Pooling
// =============================================================================

type poolDesc struct {
	mode                cdnn.PoolingMode
	nan                 cdnn.NanPropagation
	window, pad, stride []int
}

func (l *Lib) CreatePoolingDescriptor(d *cdnn.PoolingDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.PoolingDescriptor(l.put(&poolDesc{}))
	return cdnn.StatusSuccess
}

func (l *Lib) SetPoolingNdDescriptor(d cdnn.PoolingDescriptor, mode cdnn.PoolingMode, nan cdnn.NanPropagation, window, pad, stride []int32) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, st := get[poolDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	n := len(window)
	if n == 0 || len(pad) != n || len(stride) != n {
		return cdnn.StatusBadParam
	}
	if mode < cdnn.PoolingMax || mode > cdnn.PoolingMaxDeterministic {
		return cdnn.StatusBadParam
	}
	for i := range n {
		if window[i] <= 0 || stride[i] <= 0 || pad[i] < 0 {
			return cdnn.StatusBadParam
		}
	}
	p.mode, p.nan = mode, nan
	p.window, p.pad, p.stride = widen(window), widen(pad), widen(stride)
	return cdnn.StatusSuccess
}

func (l *Lib) DestroyPoolingDescriptor(d cdnn.PoolingDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[poolDesc](l, uintptr(d))
}

// =============================================================================
// LRN
// =============================================================================

// Grenzen wie in der Referenzbibliothek
const (
	lrnMinN    = 1
	lrnMaxN    = 16
	lrnMinK    = 1e-5
	lrnMinBeta = 0.01
)

type lrnDesc struct {
	n              int
	alpha, beta, k float64
}

func (l *Lib) CreateLRNDescriptor(d *cdnn.LRNDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.LRNDescriptor(l.put(&lrnDesc{n: 5, alpha: 1e-4, beta: 0.75, k: 2}))
	return cdnn.StatusSuccess
}

func (l *Lib) SetLRNDescriptor(d cdnn.LRNDescriptor, n uint32, alpha, beta, k float64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, st := get[lrnDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if n < lrnMinN || n > lrnMaxN || k < lrnMinK || beta < lrnMinBeta {
		return cdnn.StatusBadParam
	}
	r.n, r.alpha, r.beta, r.k = int(n), alpha, beta, k
	return cdnn.StatusSuccess
}

func (l *Lib) DestroyLRNDescriptor(d cdnn.LRNDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[lrnDesc](l, uintptr(d))
}

// =============================================================================
// Aktivierung
// =============================================================================

type activationDesc struct {
	mode cdnn.ActivationMode
	nan  cdnn.NanPropagation
	coef float64
}

func (l *Lib) CreateActivationDescriptor(d *cdnn.ActivationDescriptor) cdnn.Status {
	if d == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*d = cdnn.ActivationDescriptor(l.put(&activationDesc{}))
	return cdnn.StatusSuccess
}

func (l *Lib) SetActivationDescriptor(d cdnn.ActivationDescriptor, mode cdnn.ActivationMode, nan cdnn.NanPropagation, coef float64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, st := get[activationDesc](l, uintptr(d))
	if st != cdnn.StatusSuccess {
		return st
	}
	if mode < cdnn.ActivationSigmoid || mode > cdnn.ActivationIdentity {
		return cdnn.StatusBadParam
	}
	a.mode, a.nan, a.coef = mode, nan, coef
	return cdnn.StatusSuccess
}

func (l *Lib) DestroyActivationDescriptor(d cdnn.ActivationDescriptor) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[activationDesc](l, uintptr(d))
}

// =============================================================================
// Hilfsfunktionen
// =============================================================================

func widen(v []int32) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}

func narrow(v []int) []int32 {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = int32(x)
	}
	return out
}

func product(v []int) int {
	n := 1
	for _, x := range v {
		n *= x
	}
	return n
}

// packedStrides returns row-major strides for dims.
func packedStrides(dims []int) []int {
	s := make([]int, len(dims))
	acc := 1
	for i := len(dims) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= dims[i]
	}
	return s
}

func sameDims(a, b []int) bool { return slices.Equal(a, b) }

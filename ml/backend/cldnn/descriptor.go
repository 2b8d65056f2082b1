// descriptor.go - Scoped Deskriptoren fuer Tensoren, Filter und Operationen
// Enthält: tensorDescriptor, filterDescriptor, convolutionDescriptor,
// poolingDescriptor, lrnDescriptor, activationDescriptor, checkedNarrowing
//
// Jeder Deskriptor besitzt genau ein Backend-Handle. Fehler beim Anlegen
// sind Konfigurationsfehler und damit fatal; Close gibt das Handle frei
// und protokolliert Fehler nur.

package cldnn

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/envconfig"
)

// noCopy markiert Strukturen, die nach der ersten Nutzung nicht kopiert
// werden duerfen (go vet copylocks)
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// checkedNarrowing converts v to int32 and panics if the value changes.
func checkedNarrowing(v int64) int32 {
	n := int32(v)
	if int64(n) != v {
		fatal("narrowing %d to int32 loses precision", v)
	}
	return n
}

func narrowAll(v []int64) []int32 {
	out := make([]int32, len(v))
	for i, x := range v {
		out[i] = checkedNarrowing(x)
	}
	return out
}

// release destroys a handle and logs instead of failing.
func release(kind string, st cdnn.Status) error {
	if err := st.Err("cudnnDestroy" + kind + "Descriptor"); err != nil {
		slog.Error("could not destroy descriptor", "kind", kind, "error", err)
		return err
	}
	return nil
}

// =============================================================================
// Tensor
// =============================================================================

type tensorDescriptor struct {
	_ noCopy

	lib    *cdnn.Library
	handle cdnn.TensorDescriptor
}

// createTensor creates and sets a tensor descriptor, returning the status
// of the first failing call.
func createTensor(lib *cdnn.Library, dt cdnn.DataType, dims, strides []int32) (cdnn.TensorDescriptor, error) {
	var h cdnn.TensorDescriptor
	if err := lib.CreateTensorDescriptor(&h).Err("cudnnCreateTensorDescriptor"); err != nil {
		return 0, err
	}
	if err := lib.SetTensorNdDescriptor(h, dt, dims, strides).Err("cudnnSetTensorNdDescriptor"); err != nil {
		_ = release("Tensor", lib.DestroyTensorDescriptor(h))
		return 0, err
	}
	return h, nil
}

// newTensorDescriptorNd wraps raw dims and strides.
func newTensorDescriptorNd(lib *cdnn.Library, dt cdnn.DataType, dims, strides []int32) *tensorDescriptor {
	h, err := createTensor(lib, dt, dims, strides)
	if err != nil {
		fatal("could not create tensor descriptor dims=%v strides=%v: %v", dims, strides, err)
	}
	return &tensorDescriptor{lib: lib, handle: h}
}

// newTensorDescriptor converts b into batch-depth-spatial order. Only the
// BatchDepthYX and BatchYXDepth layouts have a backend representation.
func newTensorDescriptor(lib *cdnn.Library, b dnn.BatchDescriptor, dt cdnn.DataType) *tensorDescriptor {
	switch b.Layout {
	case dnn.BatchDepthYX, dnn.BatchYXDepth:
	default:
		fatal("unsupported tensor layout %s", b.Layout)
	}

	dims := narrowAll(b.FullDims(dnn.BatchDepthYX))
	strides := narrowAll(b.FullStrides(dnn.BatchDepthYX))
	return newTensorDescriptorNd(lib, dt, dims, strides)
}

func (d *tensorDescriptor) Handle() cdnn.TensorDescriptor { return d.handle }

func (d *tensorDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Tensor", d.lib.DestroyTensorDescriptor(h))
}

// =============================================================================
// Filter
// =============================================================================

type filterDescriptor struct {
	_ noCopy

	lib    *cdnn.Library
	handle cdnn.FilterDescriptor
}

func createFilter(lib *cdnn.Library, dt cdnn.DataType, dims []int32) (cdnn.FilterDescriptor, error) {
	var h cdnn.FilterDescriptor
	if err := lib.CreateFilterDescriptor(&h).Err("cudnnCreateFilterDescriptor"); err != nil {
		return 0, err
	}
	if err := lib.SetFilterNdDescriptor(h, dt, cdnn.TensorNCHW, dims).Err("cudnnSetFilterNdDescriptor"); err != nil {
		_ = release("Filter", lib.DestroyFilterDescriptor(h))
		return 0, err
	}
	return h, nil
}

// newFilterDescriptor converts f into output-input-spatial order.
func newFilterDescriptor(lib *cdnn.Library, f dnn.FilterDescriptor, dt cdnn.DataType) *filterDescriptor {
	if f.Layout != dnn.OutputInputYX {
		fatal("unsupported filter layout %s", f.Layout)
	}

	dims := make([]int32, 0, f.NDims()+2)
	dims = append(dims, checkedNarrowing(f.OutputFeatureMapCount), checkedNarrowing(f.InputFeatureMapCount))
	dims = append(dims, narrowAll(f.Spatial)...)

	h, err := createFilter(lib, dt, dims)
	if err != nil {
		fatal("could not create filter descriptor %s: %v", f, err)
	}
	return &filterDescriptor{lib: lib, handle: h}
}

func (d *filterDescriptor) Handle() cdnn.FilterDescriptor { return d.handle }

func (d *filterDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Filter", d.lib.DestroyFilterDescriptor(h))
}

// =============================================================================
// Convolution
// =============================================================================

type convolutionDescriptor struct {
	_ noCopy

	lib    *cdnn.Library
	handle cdnn.ConvolutionDescriptor
}

// newConvolutionDescriptor always uses cross-correlation. Dilations are
// passed as the backend's upscale factors.
func newConvolutionDescriptor(lib *cdnn.Library, c dnn.ConvolutionDescriptor, compute cdnn.DataType) *convolutionDescriptor {
	pad := narrowAll(c.Padding)
	stride := narrowAll(c.Strides)
	upscale := narrowAll(c.Dilations)

	var h cdnn.ConvolutionDescriptor
	if err := lib.CreateConvolutionDescriptor(&h).Err("cudnnCreateConvolutionDescriptor"); err != nil {
		fatal("could not create convolution descriptor: %v", err)
	}
	if err := lib.SetConvolutionNdDescriptor(h, pad, stride, upscale, cdnn.CrossCorrelation, compute).Err("cudnnSetConvolutionNdDescriptor"); err != nil {
		_ = release("Convolution", lib.DestroyConvolutionDescriptor(h))
		fatal("could not set convolution descriptor %s: %v", c, err)
	}
	return &convolutionDescriptor{lib: lib, handle: h}
}

// setTensorOpMath switches to tensor-op math when the algorithm asks for it
// and the flag allows it. Libraries without the setter are left alone.
func (d *convolutionDescriptor) setTensorOpMath(alg dnn.AlgorithmDesc, flags envconfig.Flags) {
	if !alg.TensorOps || !flags.TensorOpMath {
		return
	}
	if d.lib.SetConvolutionMathType == nil {
		slog.Debug("backend has no convolution math type setter, keeping default math")
		return
	}
	if err := d.lib.SetConvolutionMathType(d.handle, cdnn.TensorOpMath).Err("cudnnSetConvolutionMathType"); err != nil {
		fatal("could not set convolution math type: %v", err)
	}
}

func (d *convolutionDescriptor) Handle() cdnn.ConvolutionDescriptor { return d.handle }

func (d *convolutionDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Convolution", d.lib.DestroyConvolutionDescriptor(h))
}

// =============================================================================
// Pooling
// =============================================================================

type poolingDescriptor struct {
	_ noCopy

	lib    *cdnn.Library
	handle cdnn.PoolingDescriptor
}

// newPoolingDescriptor maps average pooling to the mode that excludes
// padding. NaNs always propagate.
func newPoolingDescriptor(lib *cdnn.Library, p dnn.PoolingDescriptor) *poolingDescriptor {
	mode := cdnn.PoolingMax
	if p.Mode == dnn.PoolingAverage {
		mode = cdnn.PoolingAverageCountExcludePadding
	}

	window := narrowAll(p.Window)
	pad := narrowAll(p.Padding)
	stride := narrowAll(p.Strides)

	var h cdnn.PoolingDescriptor
	if err := lib.CreatePoolingDescriptor(&h).Err("cudnnCreatePoolingDescriptor"); err != nil {
		fatal("could not create pooling descriptor: %v", err)
	}
	if err := lib.SetPoolingNdDescriptor(h, mode, cdnn.PropagateNan, window, pad, stride).Err("cudnnSetPoolingNdDescriptor"); err != nil {
		_ = release("Pooling", lib.DestroyPoolingDescriptor(h))
		fatal("could not set pooling descriptor %s: %v", p, err)
	}
	return &poolingDescriptor{lib: lib, handle: h}
}

func (d *poolingDescriptor) Handle() cdnn.PoolingDescriptor { return d.handle }

func (d *poolingDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Pooling", d.lib.DestroyPoolingDescriptor(h))
}

// =============================================================================
// LRN
// =============================================================================

type lrnDescriptor struct {
	_ noCopy

	lib    *cdnn.Library
	handle cdnn.LRNDescriptor
}

// newLRNDescriptor translates a range into a window of 2*range+1 channels.
// The backend divides alpha by the window size, so it is scaled back up.
func newLRNDescriptor(lib *cdnn.Library, nd dnn.NormalizeDescriptor) *lrnDescriptor {
	n := 2*int64(nd.Range) + 1
	if n < 0 || n > math.MaxUint32 {
		fatal("invalid normalization range %d", nd.Range)
	}
	alpha := float64(n) * float64(nd.Alpha)

	var h cdnn.LRNDescriptor
	if err := lib.CreateLRNDescriptor(&h).Err("cudnnCreateLRNDescriptor"); err != nil {
		fatal("could not create lrn descriptor: %v", err)
	}
	if err := lib.SetLRNDescriptor(h, uint32(n), alpha, float64(nd.Beta), float64(nd.Bias)).Err("cudnnSetLRNDescriptor"); err != nil {
		_ = release("LRN", lib.DestroyLRNDescriptor(h))
		fatal("could not set lrn descriptor n=%d alpha=%g beta=%g k=%g: %v", n, alpha, nd.Beta, nd.Bias, err)
	}
	return &lrnDescriptor{lib: lib, handle: h}
}

func (d *lrnDescriptor) Handle() cdnn.LRNDescriptor { return d.handle }

func (d *lrnDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("LRN", d.lib.DestroyLRNDescriptor(h))
}

// =============================================================================
// Activation
// =============================================================================

type activationDescriptor struct {
	_ noCopy

	lib    *cdnn.Library
	handle cdnn.ActivationDescriptor
}

// activationMode maps a DNN activation to the backend mode and the clipping
// ceiling. valueMax is the ReluX ceiling.
func activationMode(mode dnn.ActivationMode, valueMax float64) (cdnn.ActivationMode, float64, error) {
	switch mode {
	case dnn.ActivationRelu6:
		return cdnn.ActivationClippedRelu, 6, nil
	case dnn.ActivationReluX:
		return cdnn.ActivationClippedRelu, valueMax, nil
	case dnn.ActivationRelu:
		return cdnn.ActivationRelu, math.MaxFloat64, nil
	case dnn.ActivationSigmoid:
		return cdnn.ActivationSigmoid, math.MaxFloat64, nil
	case dnn.ActivationTanh:
		return cdnn.ActivationTanh, math.MaxFloat64, nil
	default:
		return 0, 0, fmt.Errorf("unrecognized activation mode %s", mode)
	}
}

func newActivationDescriptor(lib *cdnn.Library, mode cdnn.ActivationMode, coef float64) *activationDescriptor {
	var h cdnn.ActivationDescriptor
	if err := lib.CreateActivationDescriptor(&h).Err("cudnnCreateActivationDescriptor"); err != nil {
		fatal("could not create activation descriptor: %v", err)
	}
	if err := lib.SetActivationDescriptor(h, mode, cdnn.PropagateNan, coef).Err("cudnnSetActivationDescriptor"); err != nil {
		_ = release("Activation", lib.DestroyActivationDescriptor(h))
		fatal("could not set activation descriptor: %v", err)
	}
	return &activationDescriptor{lib: lib, handle: h}
}

func (d *activationDescriptor) Handle() cdnn.ActivationDescriptor { return d.handle }

func (d *activationDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Activation", d.lib.DestroyActivationDescriptor(h))
}

// library.go - Binding-Tabelle der Backend-C-API
//
// Library haelt fuer jeden exportierten Einstiegspunkt ein typisiertes
// Funktionsfeld. Bind loest alle Felder einmalig ueber einen Resolver auf;
// fehlt ein Pflichtsymbol, schlaegt Bind fehl.
package cdnn

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
)

// Library is the resolved backend API. Fields mirror the C prototypes:
// out parameters are pointers, arrays are slices, scaling factors are
// float64 and converted to the tensor's precision by the library.
type Library struct {
	GetVersion func() uint64

	Create    func(h *Handle) Status
	Destroy   func(h Handle) Status
	SetStream func(h Handle, s Stream) Status

	CreateTensorDescriptor  func(d *TensorDescriptor) Status
	SetTensorNdDescriptor   func(d TensorDescriptor, dt DataType, dims, strides []int32) Status
	GetTensorNdDescriptor   func(d TensorDescriptor, dt *DataType, nbDims *int32, dims, strides []int32) Status
	DestroyTensorDescriptor func(d TensorDescriptor) Status

	CreateFilterDescriptor  func(d *FilterDescriptor) Status
	SetFilterNdDescriptor   func(d FilterDescriptor, dt DataType, format TensorFormat, dims []int32) Status
	GetFilterNdDescriptor   func(d FilterDescriptor, dt *DataType, format *TensorFormat, nbDims *int32, dims []int32) Status
	DestroyFilterDescriptor func(d FilterDescriptor) Status

	CreateConvolutionDescriptor  func(d *ConvolutionDescriptor) Status
	SetConvolutionNdDescriptor   func(d ConvolutionDescriptor, pad, stride, upscale []int32, mode ConvolutionMode, dt DataType) Status
	SetConvolutionMathType       func(d ConvolutionDescriptor, m MathType) Status
	DestroyConvolutionDescriptor func(d ConvolutionDescriptor) Status

	CreatePoolingDescriptor  func(d *PoolingDescriptor) Status
	SetPoolingNdDescriptor   func(d PoolingDescriptor, mode PoolingMode, nan NanPropagation, window, pad, stride []int32) Status
	DestroyPoolingDescriptor func(d PoolingDescriptor) Status

	CreateLRNDescriptor  func(d *LRNDescriptor) Status
	SetLRNDescriptor     func(d LRNDescriptor, n uint32, alpha, beta, k float64) Status
	DestroyLRNDescriptor func(d LRNDescriptor) Status

	CreateActivationDescriptor  func(d *ActivationDescriptor) Status
	SetActivationDescriptor     func(d ActivationDescriptor, mode ActivationMode, nan NanPropagation, coef float64) Status
	DestroyActivationDescriptor func(d ActivationDescriptor) Status

	GetConvolutionForwardAlgorithm     func(h Handle, x TensorDescriptor, w FilterDescriptor, conv ConvolutionDescriptor, y TensorDescriptor, pref Preference, limit uint64, algo *ConvolutionFwdAlgo) Status
	GetConvolutionForwardWorkspaceSize func(h Handle, x TensorDescriptor, w FilterDescriptor, conv ConvolutionDescriptor, y TensorDescriptor, algo ConvolutionFwdAlgo, size *uint64) Status
	ConvolutionForward                 func(h Handle, alpha float64, xDesc TensorDescriptor, x Ptr, wDesc FilterDescriptor, w Ptr, conv ConvolutionDescriptor, algo ConvolutionFwdAlgo, ws Ptr, wsSize uint64, beta float64, yDesc TensorDescriptor, y Ptr) Status

	GetConvolutionBackwardDataAlgorithm     func(h Handle, w FilterDescriptor, dy TensorDescriptor, conv ConvolutionDescriptor, dx TensorDescriptor, pref Preference, limit uint64, algo *ConvolutionBwdDataAlgo) Status
	GetConvolutionBackwardDataWorkspaceSize func(h Handle, w FilterDescriptor, dy TensorDescriptor, conv ConvolutionDescriptor, dx TensorDescriptor, algo ConvolutionBwdDataAlgo, size *uint64) Status
	ConvolutionBackwardData                 func(h Handle, alpha float64, wDesc FilterDescriptor, w Ptr, dyDesc TensorDescriptor, dy Ptr, conv ConvolutionDescriptor, algo ConvolutionBwdDataAlgo, ws Ptr, wsSize uint64, beta float64, dxDesc TensorDescriptor, dx Ptr) Status

	GetConvolutionBackwardFilterAlgorithm     func(h Handle, x TensorDescriptor, dy TensorDescriptor, conv ConvolutionDescriptor, dw FilterDescriptor, pref Preference, limit uint64, algo *ConvolutionBwdFilterAlgo) Status
	GetConvolutionBackwardFilterWorkspaceSize func(h Handle, x TensorDescriptor, dy TensorDescriptor, conv ConvolutionDescriptor, dw FilterDescriptor, algo ConvolutionBwdFilterAlgo, size *uint64) Status
	ConvolutionBackwardFilter                 func(h Handle, alpha float64, xDesc TensorDescriptor, x Ptr, dyDesc TensorDescriptor, dy Ptr, conv ConvolutionDescriptor, algo ConvolutionBwdFilterAlgo, ws Ptr, wsSize uint64, beta float64, dwDesc FilterDescriptor, dw Ptr) Status

	GetConvolutionNdForwardOutputDim func(conv ConvolutionDescriptor, x TensorDescriptor, w FilterDescriptor, nbDims int32, dims []int32) Status

	ConvolutionBackwardBias func(h Handle, alpha float64, dyDesc TensorDescriptor, dy Ptr, beta float64, dbDesc TensorDescriptor, db Ptr) Status

	AddTensor       func(h Handle, alpha float64, aDesc TensorDescriptor, a Ptr, beta float64, cDesc TensorDescriptor, c Ptr) Status
	TransformTensor func(h Handle, alpha float64, xDesc TensorDescriptor, x Ptr, beta float64, yDesc TensorDescriptor, y Ptr) Status

	PoolingForward  func(h Handle, pool PoolingDescriptor, alpha float64, xDesc TensorDescriptor, x Ptr, beta float64, yDesc TensorDescriptor, y Ptr) Status
	PoolingBackward func(h Handle, pool PoolingDescriptor, alpha float64, yDesc TensorDescriptor, y Ptr, dyDesc TensorDescriptor, dy Ptr, xDesc TensorDescriptor, x Ptr, beta float64, dxDesc TensorDescriptor, dx Ptr) Status

	ActivationForward func(h Handle, act ActivationDescriptor, alpha float64, xDesc TensorDescriptor, x Ptr, beta float64, yDesc TensorDescriptor, y Ptr) Status

	LRNCrossChannelForward  func(h Handle, lrn LRNDescriptor, mode LRNMode, alpha float64, xDesc TensorDescriptor, x Ptr, beta float64, yDesc TensorDescriptor, y Ptr) Status
	LRNCrossChannelBackward func(h Handle, lrn LRNDescriptor, mode LRNMode, alpha float64, yDesc TensorDescriptor, y Ptr, dyDesc TensorDescriptor, dy Ptr, xDesc TensorDescriptor, x Ptr, beta float64, dxDesc TensorDescriptor, dx Ptr) Status

	BatchNormalizationForwardInference func(h Handle, mode BatchNormMode, alpha, beta float64, xDesc TensorDescriptor, x Ptr, yDesc TensorDescriptor, y Ptr, bnDesc TensorDescriptor, scale, bias, mean, variance Ptr, epsilon float64) Status
	BatchNormalizationForwardTraining  func(h Handle, mode BatchNormMode, alpha, beta float64, xDesc TensorDescriptor, x Ptr, yDesc TensorDescriptor, y Ptr, bnDesc TensorDescriptor, scale, bias Ptr, avgFactor float64, runningMean, runningVar Ptr, epsilon float64, saveMean, saveInvVar Ptr) Status
	BatchNormalizationBackward         func(h Handle, mode BatchNormMode, alphaData, betaData, alphaParam, betaParam float64, xDesc TensorDescriptor, x Ptr, dyDesc TensorDescriptor, dy Ptr, dxDesc TensorDescriptor, dx Ptr, bnDesc TensorDescriptor, scale, dScale, dBias Ptr, epsilon float64, savedMean, savedInvVar Ptr) Status

	CreateDropoutDescriptor  func(d *DropoutDescriptor) Status
	DropoutGetStatesSize     func(h Handle, size *uint64) Status
	SetDropoutDescriptor     func(d DropoutDescriptor, h Handle, dropout float32, states Ptr, size uint64, seed uint64) Status
	DestroyDropoutDescriptor func(d DropoutDescriptor) Status

	CreateRNNDescriptor        func(d *RNNDescriptor) Status
	SetRNNDescriptor           func(h Handle, d RNNDescriptor, hidden, layers int32, dropout DropoutDescriptor, input RNNInputMode, dir DirectionMode, mode RNNMode, algo RNNAlgo, dt DataType) Status
	SetRNNMatrixMathType       func(d RNNDescriptor, m MathType) Status
	DestroyRNNDescriptor       func(d RNNDescriptor) Status
	GetRNNParamsSize           func(h Handle, d RNNDescriptor, x TensorDescriptor, size *uint64, dt DataType) Status
	GetRNNLinLayerMatrixParams func(h Handle, d RNNDescriptor, layer int32, x TensorDescriptor, wDesc FilterDescriptor, w Ptr, linLayer int32, matDesc FilterDescriptor, mat *Ptr) Status
	GetRNNLinLayerBiasParams   func(h Handle, d RNNDescriptor, layer int32, x TensorDescriptor, wDesc FilterDescriptor, w Ptr, linLayer int32, biasDesc FilterDescriptor, bias *Ptr) Status
	GetRNNWorkspaceSize        func(h Handle, d RNNDescriptor, seqLength int32, x []TensorDescriptor, size *uint64) Status
	GetRNNTrainingReserveSize  func(h Handle, d RNNDescriptor, seqLength int32, x []TensorDescriptor, size *uint64) Status

	RNNForwardInference func(h Handle, d RNNDescriptor, seqLength int32, xDesc []TensorDescriptor, x Ptr, hxDesc TensorDescriptor, hx Ptr, cxDesc TensorDescriptor, cx Ptr, wDesc FilterDescriptor, w Ptr, yDesc []TensorDescriptor, y Ptr, hyDesc TensorDescriptor, hy Ptr, cyDesc TensorDescriptor, cy Ptr, ws Ptr, wsSize uint64) Status
	RNNForwardTraining  func(h Handle, d RNNDescriptor, seqLength int32, xDesc []TensorDescriptor, x Ptr, hxDesc TensorDescriptor, hx Ptr, cxDesc TensorDescriptor, cx Ptr, wDesc FilterDescriptor, w Ptr, yDesc []TensorDescriptor, y Ptr, hyDesc TensorDescriptor, hy Ptr, cyDesc TensorDescriptor, cy Ptr, ws Ptr, wsSize uint64, reserve Ptr, reserveSize uint64) Status
	RNNBackwardData     func(h Handle, d RNNDescriptor, seqLength int32, yDesc []TensorDescriptor, y Ptr, dyDesc []TensorDescriptor, dy Ptr, dhyDesc TensorDescriptor, dhy Ptr, dcyDesc TensorDescriptor, dcy Ptr, wDesc FilterDescriptor, w Ptr, hxDesc TensorDescriptor, hx Ptr, cxDesc TensorDescriptor, cx Ptr, dxDesc []TensorDescriptor, dx Ptr, dhxDesc TensorDescriptor, dhx Ptr, dcxDesc TensorDescriptor, dcx Ptr, ws Ptr, wsSize uint64, reserve Ptr, reserveSize uint64) Status
	RNNBackwardWeights  func(h Handle, d RNNDescriptor, seqLength int32, xDesc []TensorDescriptor, x Ptr, hxDesc TensorDescriptor, hx Ptr, yDesc []TensorDescriptor, y Ptr, ws Ptr, wsSize uint64, dwDesc FilterDescriptor, dw Ptr, reserve Ptr, reserveSize uint64) Status
}

// symbol links one exported name to its slot in the table.
type symbol struct {
	name     string
	slot     any
	optional bool
}

// symbols lists every slot of l under its C name.
func (l *Library) symbols() []symbol {
	return []symbol{
		{name: "cudnnGetVersion", slot: &l.GetVersion},
		{name: "cudnnCreate", slot: &l.Create},
		{name: "cudnnDestroy", slot: &l.Destroy},
		{name: "cudnnSetStream", slot: &l.SetStream},

		{name: "cudnnCreateTensorDescriptor", slot: &l.CreateTensorDescriptor},
		{name: "cudnnSetTensorNdDescriptor", slot: &l.SetTensorNdDescriptor},
		{name: "cudnnGetTensorNdDescriptor", slot: &l.GetTensorNdDescriptor},
		{name: "cudnnDestroyTensorDescriptor", slot: &l.DestroyTensorDescriptor},

		{name: "cudnnCreateFilterDescriptor", slot: &l.CreateFilterDescriptor},
		{name: "cudnnSetFilterNdDescriptor", slot: &l.SetFilterNdDescriptor},
		{name: "cudnnGetFilterNdDescriptor", slot: &l.GetFilterNdDescriptor},
		{name: "cudnnDestroyFilterDescriptor", slot: &l.DestroyFilterDescriptor},

		{name: "cudnnCreateConvolutionDescriptor", slot: &l.CreateConvolutionDescriptor},
		{name: "cudnnSetConvolutionNdDescriptor", slot: &l.SetConvolutionNdDescriptor},
		{name: "cudnnSetConvolutionMathType", slot: &l.SetConvolutionMathType, optional: true},
		{name: "cudnnDestroyConvolutionDescriptor", slot: &l.DestroyConvolutionDescriptor},

		{name: "cudnnCreatePoolingDescriptor", slot: &l.CreatePoolingDescriptor},
		{name: "cudnnSetPoolingNdDescriptor", slot: &l.SetPoolingNdDescriptor},
		{name: "cudnnDestroyPoolingDescriptor", slot: &l.DestroyPoolingDescriptor},

		{name: "cudnnCreateLRNDescriptor", slot: &l.CreateLRNDescriptor},
		{name: "cudnnSetLRNDescriptor", slot: &l.SetLRNDescriptor},
		{name: "cudnnDestroyLRNDescriptor", slot: &l.DestroyLRNDescriptor},

		{name: "cudnnCreateActivationDescriptor", slot: &l.CreateActivationDescriptor},
		{name: "cudnnSetActivationDescriptor", slot: &l.SetActivationDescriptor},
		{name: "cudnnDestroyActivationDescriptor", slot: &l.DestroyActivationDescriptor},

		{name: "cudnnGetConvolutionForwardAlgorithm", slot: &l.GetConvolutionForwardAlgorithm},
		{name: "cudnnGetConvolutionForwardWorkspaceSize", slot: &l.GetConvolutionForwardWorkspaceSize},
		{name: "cudnnConvolutionForward", slot: &l.ConvolutionForward},
		{name: "cudnnGetConvolutionBackwardDataAlgorithm", slot: &l.GetConvolutionBackwardDataAlgorithm},
		{name: "cudnnGetConvolutionBackwardDataWorkspaceSize", slot: &l.GetConvolutionBackwardDataWorkspaceSize},
		{name: "cudnnConvolutionBackwardData", slot: &l.ConvolutionBackwardData},
		{name: "cudnnGetConvolutionBackwardFilterAlgorithm", slot: &l.GetConvolutionBackwardFilterAlgorithm},
		{name: "cudnnGetConvolutionBackwardFilterWorkspaceSize", slot: &l.GetConvolutionBackwardFilterWorkspaceSize},
		{name: "cudnnConvolutionBackwardFilter", slot: &l.ConvolutionBackwardFilter},
		{name: "cudnnConvolutionBackwardBias", slot: &l.ConvolutionBackwardBias},
		{name: "cudnnGetConvolutionNdForwardOutputDim", slot: &l.GetConvolutionNdForwardOutputDim, optional: true},

		{name: "cudnnAddTensor", slot: &l.AddTensor},
		{name: "cudnnTransformTensor", slot: &l.TransformTensor},
		{name: "cudnnPoolingForward", slot: &l.PoolingForward},
		{name: "cudnnPoolingBackward", slot: &l.PoolingBackward},
		{name: "cudnnActivationForward", slot: &l.ActivationForward},
		{name: "cudnnLRNCrossChannelForward", slot: &l.LRNCrossChannelForward},
		{name: "cudnnLRNCrossChannelBackward", slot: &l.LRNCrossChannelBackward},

		{name: "cudnnBatchNormalizationForwardInference", slot: &l.BatchNormalizationForwardInference},
		{name: "cudnnBatchNormalizationForwardTraining", slot: &l.BatchNormalizationForwardTraining},
		{name: "cudnnBatchNormalizationBackward", slot: &l.BatchNormalizationBackward},

		{name: "cudnnCreateDropoutDescriptor", slot: &l.CreateDropoutDescriptor},
		{name: "cudnnDropoutGetStatesSize", slot: &l.DropoutGetStatesSize},
		{name: "cudnnSetDropoutDescriptor", slot: &l.SetDropoutDescriptor},
		{name: "cudnnDestroyDropoutDescriptor", slot: &l.DestroyDropoutDescriptor},

		{name: "cudnnCreateRNNDescriptor", slot: &l.CreateRNNDescriptor},
		{name: "cudnnSetRNNDescriptor_v6", slot: &l.SetRNNDescriptor},
		{name: "cudnnSetRNNMatrixMathType", slot: &l.SetRNNMatrixMathType, optional: true},
		{name: "cudnnDestroyRNNDescriptor", slot: &l.DestroyRNNDescriptor},
		{name: "cudnnGetRNNParamsSize", slot: &l.GetRNNParamsSize},
		{name: "cudnnGetRNNLinLayerMatrixParams", slot: &l.GetRNNLinLayerMatrixParams},
		{name: "cudnnGetRNNLinLayerBiasParams", slot: &l.GetRNNLinLayerBiasParams},
		{name: "cudnnGetRNNWorkspaceSize", slot: &l.GetRNNWorkspaceSize},
		{name: "cudnnGetRNNTrainingReserveSize", slot: &l.GetRNNTrainingReserveSize},
		{name: "cudnnRNNForwardInference", slot: &l.RNNForwardInference},
		{name: "cudnnRNNForwardTraining", slot: &l.RNNForwardTraining},
		{name: "cudnnRNNBackwardData", slot: &l.RNNBackwardData},
		{name: "cudnnRNNBackwardWeights", slot: &l.RNNBackwardWeights},
	}
}

// Symbols returns the exported names the table binds, required ones first
// in declaration order, then optional ones.
func Symbols() (required, optional []string) {
	var l Library
	for _, s := range l.symbols() {
		if s.optional {
			optional = append(optional, s.name)
		} else {
			required = append(required, s.name)
		}
	}
	return required, optional
}

// =============================================================================
// Aufloesung
// =============================================================================

// ErrSymbolNotFound is returned by a Resolver for names it does not export.
var ErrSymbolNotFound = errors.New("cdnn: symbol not found")

// Resolver looks up exported entry points. Resolve stores the
// implementation of name into fn, a non-nil pointer to a func variable of
// the matching type.
type Resolver interface {
	Resolve(name string, fn any) error
}

// Bind resolves every slot of a new Library from r. All missing required
// symbols are reported together; missing optional symbols stay nil.
func Bind(r Resolver) (*Library, error) {
	l := new(Library)

	var missing []string
	for _, s := range l.symbols() {
		err := r.Resolve(s.name, s.slot)
		switch {
		case err == nil:
		case s.optional && errors.Is(err, ErrSymbolNotFound):
			slog.Debug("optional backend symbol not available", "symbol", s.name)
		default:
			missing = append(missing, s.name)
			slog.Error("failed to resolve backend symbol", "symbol", s.name, "error", err)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("cdnn: unresolved symbols: %s", strings.Join(missing, ", "))
	}
	return l, nil
}

// =============================================================================
// MapResolver
// =============================================================================

// MapResolver resolves names from a map of Go functions. It is the
// resolver of in-process backend implementations.
type MapResolver map[string]any

// Resolve implements Resolver.
func (m MapResolver) Resolve(name string, fn any) error {
	impl, ok := m[name]
	if !ok || impl == nil {
		return fmt.Errorf("%w: %s", ErrSymbolNotFound, name)
	}

	dst := reflect.ValueOf(fn)
	if dst.Kind() != reflect.Pointer || dst.IsNil() || dst.Elem().Kind() != reflect.Func {
		return fmt.Errorf("cdnn: resolve %s: destination %T is not a pointer to a func", name, fn)
	}

	src := reflect.ValueOf(impl)
	if src.Type() != dst.Elem().Type() {
		return fmt.Errorf("cdnn: resolve %s: have %s, want %s", name, src.Type(), dst.Elem().Type())
	}

	dst.Elem().Set(src)
	return nil
}

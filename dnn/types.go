// types.go - Aufzaehlungstypen fuer DNN-Primitive
//
// Dieses Modul enthaelt:
// - DataType, DataLayout, FilterLayout, DimIndex
// - ActivationMode, PoolingMode, ElementwiseOperation, QuantizedActivationMode
// - RNN-Modi (Eingabe, Richtung, Zelltyp)
package dnn

import "fmt"

// =============================================================================
// Datentypen
// =============================================================================

// DataType is the element type of a tensor.
type DataType int

const (
	Float DataType = iota
	Double
	Half
	Int8
	Int32
)

// Size returns the element width in bytes.
func (t DataType) Size() int {
	switch t {
	case Float, Int32:
		return 4
	case Double:
		return 8
	case Half:
		return 2
	case Int8:
		return 1
	default:
		panic(fmt.Sprintf("dnn: unknown data type %d", int(t)))
	}
}

func (t DataType) String() string {
	switch t {
	case Float:
		return "float"
	case Double:
		return "double"
	case Half:
		return "half"
	case Int8:
		return "int8"
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("DataType(%d)", int(t))
	}
}

// =============================================================================
// Layouts
// =============================================================================

// DataLayout names the order of dimensions in memory, major to minor.
type DataLayout int

const (
	YXDepthBatch DataLayout = iota
	YXBatchDepth
	BatchYXDepth
	BatchDepthYX
	BatchDepthYX4
)

func (l DataLayout) String() string {
	switch l {
	case YXDepthBatch:
		return "YXDepthBatch"
	case YXBatchDepth:
		return "YXBatchDepth"
	case BatchYXDepth:
		return "BatchYXDepth"
	case BatchDepthYX:
		return "BatchDepthYX"
	case BatchDepthYX4:
		return "BatchDepthYX4"
	default:
		return fmt.Sprintf("DataLayout(%d)", int(l))
	}
}

// FilterLayout names the order of filter dimensions in memory, major to minor.
type FilterLayout int

const (
	OutputInputYX FilterLayout = iota
	OutputYXInput
	OutputInputYX4
	InputYXOutput
	YXInputOutput
)

func (l FilterLayout) String() string {
	switch l {
	case OutputInputYX:
		return "OutputInputYX"
	case OutputYXInput:
		return "OutputYXInput"
	case OutputInputYX4:
		return "OutputInputYX4"
	case InputYXOutput:
		return "InputYXOutput"
	case YXInputOutput:
		return "YXInputOutput"
	default:
		return fmt.Sprintf("FilterLayout(%d)", int(l))
	}
}

// DimIndex addresses a spatial dimension counting from the minor end.
type DimIndex int

const (
	DimX DimIndex = iota
	DimY
	DimZ
)

// =============================================================================
// Modi
// =============================================================================

// ActivationMode selects a pointwise nonlinearity.
type ActivationMode int

const (
	ActivationNone ActivationMode = iota
	ActivationSigmoid
	// ActivationRelu6 clips at 6.
	ActivationRelu6
	// ActivationReluX clips at the descriptor's ValueMax.
	ActivationReluX
	ActivationTanh
	ActivationBandPass
	ActivationRelu
)

func (m ActivationMode) String() string {
	switch m {
	case ActivationNone:
		return "none"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationRelu6:
		return "relu6"
	case ActivationReluX:
		return "relux"
	case ActivationTanh:
		return "tanh"
	case ActivationBandPass:
		return "bandpass"
	case ActivationRelu:
		return "relu"
	default:
		return fmt.Sprintf("ActivationMode(%d)", int(m))
	}
}

// PoolingMode selects the reduction over a pooling window.
type PoolingMode int

const (
	PoolingMaximum PoolingMode = iota
	PoolingAverage
)

func (m PoolingMode) String() string {
	if m == PoolingMaximum {
		return "max"
	}
	return "avg"
}

// ElementwiseOperation combines several tensors pointwise.
type ElementwiseOperation int

const (
	ElementwiseAdd ElementwiseOperation = iota
	ElementwiseMultiply
)

// QuantizedActivationMode is the element width of quantized host copies.
type QuantizedActivationMode int

const (
	Quantized8Bit QuantizedActivationMode = iota
	Quantized16Bit
	Quantized32Bit
)

// =============================================================================
// RNN-Modi
// =============================================================================

// RnnInputMode selects how the first layer consumes its input.
type RnnInputMode int

const (
	RnnLinearSkip RnnInputMode = iota
	RnnSkipInput
)

// RnnDirectionMode is uni- or bidirectional.
type RnnDirectionMode int

const (
	RnnUnidirectional RnnDirectionMode = iota
	RnnBidirectional
)

// Count is the number of directions.
func (d RnnDirectionMode) Count() int {
	if d == RnnBidirectional {
		return 2
	}
	return 1
}

// RnnMode is the recurrent cell type.
type RnnMode int

const (
	RnnRelu RnnMode = iota
	RnnTanh
	RnnLstm
	RnnGru
)

// ParamsPerLayer is the number of weight matrices (and as many bias
// vectors) one layer of the cell owns.
func (m RnnMode) ParamsPerLayer() int {
	switch m {
	case RnnRelu, RnnTanh:
		return 2
	case RnnLstm:
		return 8
	case RnnGru:
		return 6
	default:
		panic(fmt.Sprintf("dnn: unknown rnn mode %d", int(m)))
	}
}

func (m RnnMode) String() string {
	switch m {
	case RnnRelu:
		return "relu"
	case RnnTanh:
		return "tanh"
	case RnnLstm:
		return "lstm"
	case RnnGru:
		return "gru"
	default:
		return fmt.Sprintf("RnnMode(%d)", int(m))
	}
}

// types.go - Opake Handles und Aufzaehlungen der C-API
package cdnn

// Version is the library version this package was written against.
const Version = 7088

// CompatVersion drops the patch level: only major and minor must match.
func CompatVersion(v uint64) uint64 {
	return (v / 100) * 100
}

// SplitVersion returns major, minor and patch of a packed version number.
func SplitVersion(v uint64) (major, minor, patch int) {
	return int(v / 1000), int(v % 1000 / 100), int(v % 100)
}

// =============================================================================
// Opake Handles
// =============================================================================

type (
	Handle                uintptr
	Stream                uintptr
	TensorDescriptor      uintptr
	FilterDescriptor      uintptr
	ConvolutionDescriptor uintptr
	PoolingDescriptor     uintptr
	LRNDescriptor         uintptr
	ActivationDescriptor  uintptr
	DropoutDescriptor     uintptr
	RNNDescriptor         uintptr
)

// Ptr is a device address as the library sees it.
type Ptr uintptr

// =============================================================================
// Aufzaehlungen
// =============================================================================

type DataType int32

const (
	DataFloat DataType = iota
	DataDouble
	DataHalf
	DataInt8
	DataInt32
)

// Size returns the element width in bytes.
func (t DataType) Size() int {
	switch t {
	case DataDouble:
		return 8
	case DataHalf:
		return 2
	case DataInt8:
		return 1
	default:
		return 4
	}
}

type TensorFormat int32

const (
	TensorNCHW TensorFormat = iota
	TensorNHWC
)

type ConvolutionMode int32

const (
	Convolution ConvolutionMode = iota
	CrossCorrelation
)

type MathType int32

const (
	DefaultMath MathType = iota
	TensorOpMath
)

// Preference steers the algorithm heuristics. The same values serve
// forward, backward data and backward filter queries.
type Preference int32

const (
	NoWorkspace Preference = iota
	PreferFastest
	SpecifyWorkspaceLimit
)

type ConvolutionFwdAlgo int32

const (
	FwdAlgoImplicitGemm ConvolutionFwdAlgo = iota
	FwdAlgoImplicitPrecompGemm
	FwdAlgoGemm
	FwdAlgoDirect
	FwdAlgoFFT
	FwdAlgoFFTTiling
	FwdAlgoWinograd
	FwdAlgoWinogradNonfused
	FwdAlgoCount
)

type ConvolutionBwdDataAlgo int32

const (
	BwdDataAlgo0 ConvolutionBwdDataAlgo = iota
	BwdDataAlgo1
	BwdDataAlgoFFT
	BwdDataAlgoFFTTiling
	BwdDataAlgoWinograd
	BwdDataAlgoWinogradNonfused
	BwdDataAlgoCount
)

type ConvolutionBwdFilterAlgo int32

const (
	BwdFilterAlgo0 ConvolutionBwdFilterAlgo = iota
	BwdFilterAlgo1
	BwdFilterAlgoFFT
	BwdFilterAlgo3
	BwdFilterAlgoWinograd
	BwdFilterAlgoWinogradNonfused
	BwdFilterAlgoFFTTiling
	BwdFilterAlgoCount
)

type PoolingMode int32

const (
	PoolingMax PoolingMode = iota
	PoolingAverageCountIncludePadding
	PoolingAverageCountExcludePadding
	PoolingMaxDeterministic
)

type NanPropagation int32

const (
	NotPropagateNan NanPropagation = iota
	PropagateNan
)

type ActivationMode int32

const (
	ActivationSigmoid ActivationMode = iota
	ActivationRelu
	ActivationTanh
	ActivationClippedRelu
	ActivationElu
	ActivationIdentity
)

type LRNMode int32

const LRNCrossChannelDim1 LRNMode = 0

type BatchNormMode int32

const (
	BatchNormPerActivation BatchNormMode = iota
	BatchNormSpatial
)

type RNNMode int32

const (
	RNNRelu RNNMode = iota
	RNNTanh
	LSTM
	GRU
)

type DirectionMode int32

const (
	Unidirectional DirectionMode = iota
	Bidirectional
)

type RNNInputMode int32

const (
	LinearInput RNNInputMode = iota
	SkipInput
)

type RNNAlgo int32

const RNNAlgoStandard RNNAlgo = 0

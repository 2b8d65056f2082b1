// support.go - Support-Interface: alle DNN-Primitive eines Backends
//
// Primitive liefern nil bei Erfolg. Nicht unterstuetzte Primitive liefern
// einen Fehler, der ErrUnimplemented umschliesst.
package dnn

import "github.com/clstream/cldnn/ml"

// =============================================================================
// Argument-Strukturen
// =============================================================================

// ConvolveArgs are the operands of a forward convolution.
type ConvolveArgs struct {
	Input       BatchDescriptor
	InputData   ml.DeviceMemory
	Filter      FilterDescriptor
	FilterData  ml.DeviceMemory
	Convolution ConvolutionDescriptor
	Output      BatchDescriptor
	OutputData  ml.DeviceMemory
}

// ConvolveBackwardDataArgs computes the input gradient from the output
// gradient.
type ConvolveBackwardDataArgs struct {
	Filter         FilterDescriptor
	FilterData     ml.DeviceMemory
	Output         BatchDescriptor
	BackpropOutput ml.DeviceMemory
	Convolution    ConvolutionDescriptor
	Input          BatchDescriptor
	BackpropInput  ml.DeviceMemory

	// OutputLayoutUsed is set by the call to the layout the output
	// gradient was consumed in.
	OutputLayoutUsed DataLayout
}

// ConvolveBackwardFilterArgs computes the filter gradient.
type ConvolveBackwardFilterArgs struct {
	Input          BatchDescriptor
	InputData      ml.DeviceMemory
	Output         BatchDescriptor
	BackpropOutput ml.DeviceMemory
	Convolution    ConvolutionDescriptor
	Filter         FilterDescriptor
	BackpropFilter ml.DeviceMemory

	// OutputLayoutUsed is set by the call to the layout the output
	// gradient was consumed in.
	OutputLayoutUsed DataLayout
}

// BatchNormForwardArgs are the operands of spatial batch normalization.
type BatchNormForwardArgs struct {
	X                 ml.DeviceMemory
	Scale             ml.DeviceMemory
	Offset            ml.DeviceMemory
	EstimatedMean     ml.DeviceMemory
	EstimatedVariance ml.DeviceMemory
	XDesc             BatchDescriptor
	ScaleOffsetDesc   BatchDescriptor
	Epsilon           float64
	Y                 ml.DeviceMemory

	// Training outputs.
	BatchMean   ml.DeviceMemory
	BatchVar    ml.DeviceMemory
	SavedMean   ml.DeviceMemory
	SavedInvVar ml.DeviceMemory

	IsTraining bool
}

// BatchNormBackwardArgs are the operands of the batch normalization gradient.
type BatchNormBackwardArgs struct {
	YBackprop       ml.DeviceMemory
	X               ml.DeviceMemory
	Scale           ml.DeviceMemory
	Mean            ml.DeviceMemory
	InvVariance     ml.DeviceMemory
	XDesc           BatchDescriptor
	ScaleOffsetDesc BatchDescriptor
	Epsilon         float64
	XBackprop       ml.DeviceMemory
	ScaleBackprop   ml.DeviceMemory
	OffsetBackprop  ml.DeviceMemory
}

// RnnForwardArgs are the operands of a recurrent forward pass.
type RnnForwardArgs struct {
	Rnn         RnnDescriptor
	Input       RnnSequenceTensorDescriptor
	InputData   ml.DeviceMemory
	InputH      RnnStateTensorDescriptor
	InputHData  ml.DeviceMemory
	InputC      RnnStateTensorDescriptor
	InputCData  ml.DeviceMemory
	Params      ml.DeviceMemory
	Output      RnnSequenceTensorDescriptor
	OutputData  ml.DeviceMemory
	OutputH     RnnStateTensorDescriptor
	OutputHData ml.DeviceMemory
	OutputC     RnnStateTensorDescriptor
	OutputCData ml.DeviceMemory

	IsTraining            bool
	ReserveSpaceAllocator ml.ScratchAllocator
	WorkspaceAllocator    ml.ScratchAllocator

	// ReserveSpace is set by a training pass and must be handed to the
	// matching backward pass.
	ReserveSpace ml.DeviceMemory
}

// RnnBackwardArgs are the operands of a recurrent backward pass. The
// forward operands are repeated because the backend recomputes from them.
type RnnBackwardArgs struct {
	RnnForwardArgs

	OutputBackprop  ml.DeviceMemory
	OutputHBackprop ml.DeviceMemory
	OutputCBackprop ml.DeviceMemory
	InputBackprop   ml.DeviceMemory
	InputHBackprop  ml.DeviceMemory
	InputCBackprop  ml.DeviceMemory

	// ParamsBackprop receives the weight gradient. When it is nil only the data
	// gradients are computed.
	ParamsBackprop ml.DeviceMemory
}

// VersionInfo is a backend library version.
type VersionInfo struct {
	Major, Minor, Patch int
}

// =============================================================================
// Support
// =============================================================================

// Support is a DNN backend bound to one device.
type Support interface {
	Init() error
	Version() (VersionInfo, error)
	Close() error

	GetConvolveAlgorithms(withWinogradNonfused bool, ccMajor, ccMinor int) []AlgorithmDesc
	GetConvolveBackwardDataAlgorithms(withWinogradNonfused bool, ccMajor, ccMinor int) []AlgorithmDesc
	GetConvolveBackwardFilterAlgorithms(withWinogradNonfused bool, ccMajor, ccMinor int) []AlgorithmDesc

	DoConvolve(s ml.Stream, dt DataType, args ConvolveArgs, scratch ml.ScratchAllocator, cfg AlgorithmConfig, profile *ProfileResult) error
	DoConvolveBackwardData(s ml.Stream, dt DataType, args *ConvolveBackwardDataArgs, scratch ml.ScratchAllocator, cfg AlgorithmConfig, profile *ProfileResult) error
	DoConvolveBackwardFilter(s ml.Stream, dt DataType, args *ConvolveBackwardFilterArgs, scratch ml.ScratchAllocator, cfg AlgorithmConfig, profile *ProfileResult) error
	DoConvolveBackwardBias(s ml.Stream, dt DataType, input BatchDescriptor, inputData ml.DeviceMemory, bias BatchDescriptor, backpropBias ml.DeviceMemory) error

	DoPoolForward(s ml.Stream, dt DataType, pool PoolingDescriptor, input BatchDescriptor, inputData ml.DeviceMemory, output BatchDescriptor, outputData ml.DeviceMemory) error
	DoPoolBackward(s ml.Stream, dt DataType, pool PoolingDescriptor, input BatchDescriptor, inputData ml.DeviceMemory, output BatchDescriptor, outputData, inputDiff, outputDiff ml.DeviceMemory) error

	DoActivate(s ml.Stream, mode ActivationMode, dims BatchDescriptor, input, output ml.DeviceMemory) error
	DoBiasAdd(s ml.Stream, input, biases ml.DeviceMemory, dims BatchDescriptor, output ml.DeviceMemory) error

	DoBatchNormalizationForward(s ml.Stream, dt DataType, args BatchNormForwardArgs) error
	DoBatchNormalizationBackward(s ml.Stream, dt DataType, args BatchNormBackwardArgs) error

	DoNormalize(s ml.Stream, nd NormalizeDescriptor, input, output ml.DeviceMemory) error
	DoNormalizeWithDimensions(s ml.Stream, nd NormalizeDescriptor, dims BatchDescriptor, input, output ml.DeviceMemory) error
	DoNormalizeBackwardWithDimensions(s ml.Stream, nd NormalizeDescriptor, dims BatchDescriptor, rawData, normalizedData, normalizedGradient, rawGradient ml.DeviceMemory) error

	CreateRnnDescriptor(cfg RnnConfig) (RnnDescriptor, error)
	CreateRnnSequenceTensorDescriptor(seqLength, batchSize, dataSize int, dt DataType) (RnnSequenceTensorDescriptor, error)
	CreateRnnStateTensorDescriptor(numLayers, batchSize, dataSize int, dt DataType) (RnnStateTensorDescriptor, error)
	DoRnnForward(s ml.Stream, dt DataType, args *RnnForwardArgs) error
	DoRnnBackward(s ml.Stream, dt DataType, args *RnnBackwardArgs) error

	DoDepthConcatenate(s ml.Stream, inputDims []BatchDescriptor, inputData []ml.DeviceMemory, output ml.DeviceMemory) error
	DoMatMul(s ml.Stream, input, weights ml.DeviceMemory, inputDims, outputDims BatchDescriptor, output ml.DeviceMemory) error

	DoElementwiseOperate(s ml.Stream, op ElementwiseOperation, inputDims []BatchDescriptor, inputData []ml.DeviceMemory, outputDims BatchDescriptor, output ml.DeviceMemory) error
	DoXYPad(s ml.Stream, dims BatchDescriptor, input ml.DeviceMemory, left, right, top, bottom int64, output ml.DeviceMemory) error
	DoXYSlice(s ml.Stream, dims BatchDescriptor, input ml.DeviceMemory, left, right, top, bottom int64, output ml.DeviceMemory) error
	DoMemcpyD2HQuantized(s ml.Stream, src ml.DeviceMemory, mode QuantizedActivationMode, dst []byte) error
	DoMemcpyH2DQuantized(s ml.Stream, src []byte, mode QuantizedActivationMode, dst ml.DeviceMemory) error
	DeriveOutputBatchDescriptor(input BatchDescriptor, filter FilterDescriptor, conv ConvolutionDescriptor) (BatchDescriptor, error)
}

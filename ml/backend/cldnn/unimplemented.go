// unimplemented.go - Primitive ohne Entsprechung in der Backend-API

package cldnn

import (
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
)

func (s *Support) DoElementwiseOperate(stream ml.Stream, op dnn.ElementwiseOperation, inputDims []dnn.BatchDescriptor, inputData []ml.DeviceMemory, outputDims dnn.BatchDescriptor, output ml.DeviceMemory) error {
	return unimplemented("DoElementwiseOperate")
}

func (s *Support) DoXYPad(stream ml.Stream, dims dnn.BatchDescriptor, input ml.DeviceMemory, left, right, top, bottom int64, output ml.DeviceMemory) error {
	return unimplemented("DoXYPad")
}

func (s *Support) DoXYSlice(stream ml.Stream, dims dnn.BatchDescriptor, input ml.DeviceMemory, left, right, top, bottom int64, output ml.DeviceMemory) error {
	return unimplemented("DoXYSlice")
}

func (s *Support) DoMemcpyD2HQuantized(stream ml.Stream, src ml.DeviceMemory, mode dnn.QuantizedActivationMode, dst []byte) error {
	return unimplemented("DoMemcpyD2HQuantized")
}

func (s *Support) DoMemcpyH2DQuantized(stream ml.Stream, src []byte, mode dnn.QuantizedActivationMode, dst ml.DeviceMemory) error {
	return unimplemented("DoMemcpyH2DQuantized")
}

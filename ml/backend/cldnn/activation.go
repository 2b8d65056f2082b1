// activation.go - Aktivierungen und Bias-Addition (nur float)

package cldnn

import (
	"fmt"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
)

// DoActivate applies mode to input. Relu6 and ReluX run as clipped relu.
func (s *Support) DoActivate(stream ml.Stream, mode dnn.ActivationMode, dims dnn.BatchDescriptor, input, output ml.DeviceMemory) error {
	am, coef, err := activationMode(mode, dims.ValueMax)
	if err != nil {
		return invalidArgument("DoActivate: %v", err)
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		act := newActivationDescriptor(s.lib, am, coef)
		defer act.Close()
		desc := newTensorDescriptor(s.lib, dims, cdnn.DataFloat)
		defer desc.Close()

		st := s.lib.ActivationForward(h, act.Handle(), 1, desc.Handle(), ptr(input), 0, desc.Handle(), ptr(output))
		if err := s.call("cudnnActivationForward", st); err != nil {
			return fmt.Errorf("activation %s: %w", mode, err)
		}
		return nil
	})
}

// DoBiasAdd computes output = input + biases with one bias per feature map.
// input is copied into output first unless both are the same memory.
func (s *Support) DoBiasAdd(stream ml.Stream, input, biases ml.DeviceMemory, dims dnn.BatchDescriptor, output ml.DeviceMemory) error {
	inputDesc := newTensorDescriptor(s.lib, dims, cdnn.DataFloat)
	defer inputDesc.Close()

	bias := dnn.NewBatchDescriptor(dims.NDims())
	bias.Count = 1
	bias.FeatureMapCount = dims.FeatureMapCount
	for i := range bias.Spatial {
		bias.Spatial[i] = 1
	}
	biasDesc := newTensorDescriptor(s.lib, bias, cdnn.DataFloat)
	defer biasDesc.Close()

	if input.Opaque() != output.Opaque() {
		size := uint64(dims.ElementCount()) * uint64(dnn.Float.Size())
		if err := stream.MemcpyD2D(output, input, size); err != nil {
			return fmt.Errorf("bias add: could not copy input: %w", err)
		}
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		st := s.lib.AddTensor(h, 1, biasDesc.Handle(), ptr(biases), 1, inputDesc.Handle(), ptr(output))
		if err := s.call("cudnnAddTensor", st); err != nil {
			return fmt.Errorf("bias add: %w", err)
		}
		return nil
	})
}

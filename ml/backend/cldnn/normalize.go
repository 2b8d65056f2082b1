// normalize.go - Lokale Antwort-Normalisierung ueber Kanaele (LRN)

package cldnn

import (
	"fmt"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
)

// DoNormalize needs the tensor dimensions and is never supported.
func (s *Support) DoNormalize(stream ml.Stream, nd dnn.NormalizeDescriptor, input, output ml.DeviceMemory) error {
	return unimplemented("DoNormalize")
}

// lrnSupported rejects what the backend's cross-channel mode cannot express.
func lrnSupported(op string, nd dnn.NormalizeDescriptor) error {
	if nd.WrapAround {
		return unimplemented(op + "(wrap around)")
	}
	if nd.SegmentSize != 0 {
		return unimplemented(op + "(segment size)")
	}
	return nil
}

func (s *Support) DoNormalizeWithDimensions(stream ml.Stream, nd dnn.NormalizeDescriptor, dims dnn.BatchDescriptor, input, output ml.DeviceMemory) error {
	if err := lrnSupported("DoNormalizeWithDimensions", nd); err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		desc := newTensorDescriptor(s.lib, dims, cdnn.DataFloat)
		defer desc.Close()
		lrn := newLRNDescriptor(s.lib, nd)
		defer lrn.Close()

		st := s.lib.LRNCrossChannelForward(h, lrn.Handle(), cdnn.LRNCrossChannelDim1, 1, desc.Handle(), ptr(input), 0, desc.Handle(), ptr(output))
		if err := s.call("cudnnLRNCrossChannelForward", st); err != nil {
			return fmt.Errorf("normalize: %w", err)
		}
		return nil
	})
}

// DoNormalizeBackwardWithDimensions computes rawGradient, the gradient of
// rawData, from normalizedGradient.
func (s *Support) DoNormalizeBackwardWithDimensions(stream ml.Stream, nd dnn.NormalizeDescriptor, dims dnn.BatchDescriptor, rawData, normalizedData, normalizedGradient, rawGradient ml.DeviceMemory) error {
	if err := lrnSupported("DoNormalizeBackwardWithDimensions", nd); err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		desc := newTensorDescriptor(s.lib, dims, cdnn.DataFloat)
		defer desc.Close()
		lrn := newLRNDescriptor(s.lib, nd)
		defer lrn.Close()

		st := s.lib.LRNCrossChannelBackward(h, lrn.Handle(), cdnn.LRNCrossChannelDim1, 1,
			desc.Handle(), ptr(normalizedData),
			desc.Handle(), ptr(normalizedGradient),
			desc.Handle(), ptr(rawData),
			0, desc.Handle(), ptr(rawGradient))
		if err := s.call("cudnnLRNCrossChannelBackward", st); err != nil {
			return fmt.Errorf("normalize backward: %w", err)
		}
		return nil
	})
}

// pooling.go - Pooling vorwaerts und rueckwaerts

package cldnn

import (
	"fmt"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
)

func poolDataType(op string, dt dnn.DataType) (cdnn.DataType, error) {
	switch dt {
	case dnn.Float:
		return cdnn.DataFloat, nil
	case dnn.Half:
		return cdnn.DataHalf, nil
	case dnn.Double:
		return cdnn.DataDouble, nil
	default:
		return 0, invalidArgument("%s: data type %s", op, dt)
	}
}

func (s *Support) DoPoolForward(stream ml.Stream, dt dnn.DataType, pool dnn.PoolingDescriptor, input dnn.BatchDescriptor, inputData ml.DeviceMemory, output dnn.BatchDescriptor, outputData ml.DeviceMemory) error {
	cdt, err := poolDataType("DoPoolForward", dt)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		src := newTensorDescriptor(s.lib, input, cdt)
		defer src.Close()
		dest := newTensorDescriptor(s.lib, output, cdt)
		defer dest.Close()
		pd := newPoolingDescriptor(s.lib, pool)
		defer pd.Close()

		st := s.lib.PoolingForward(h, pd.Handle(), 1, src.Handle(), ptr(inputData), 0, dest.Handle(), ptr(outputData))
		if err := s.call("cudnnPoolingForward", st); err != nil {
			return fmt.Errorf("pooling forward %s: %w", pool, err)
		}
		return nil
	})
}

// DoPoolBackward propagates inputDiff, the gradient of the pooled output,
// into outputDiff, the gradient of the pooling input.
func (s *Support) DoPoolBackward(stream ml.Stream, dt dnn.DataType, pool dnn.PoolingDescriptor, input dnn.BatchDescriptor, inputData ml.DeviceMemory, output dnn.BatchDescriptor, outputData, inputDiff, outputDiff ml.DeviceMemory) error {
	cdt, err := poolDataType("DoPoolBackward", dt)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		src := newTensorDescriptor(s.lib, input, cdt)
		defer src.Close()
		dest := newTensorDescriptor(s.lib, output, cdt)
		defer dest.Close()
		pd := newPoolingDescriptor(s.lib, pool)
		defer pd.Close()

		st := s.lib.PoolingBackward(h, pd.Handle(), 1,
			dest.Handle(), ptr(outputData),
			dest.Handle(), ptr(inputDiff),
			src.Handle(), ptr(inputData),
			0, src.Handle(), ptr(outputDiff))
		if err := s.call("cudnnPoolingBackward", st); err != nil {
			return fmt.Errorf("pooling backward %s: %w", pool, err)
		}
		return nil
	})
}

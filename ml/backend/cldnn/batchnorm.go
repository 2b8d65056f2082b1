// batchnorm.go - Batch-Normalisierung (raeumlicher Modus)

package cldnn

import (
	"fmt"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
)

// DoBatchNormalizationForward normalizes per feature map. Training zeroes
// the batch statistics first so the running average with factor 1 leaves
// exactly this batch's mean and variance.
func (s *Support) DoBatchNormalizationForward(stream ml.Stream, dt dnn.DataType, args dnn.BatchNormForwardArgs) error {
	var cdt cdnn.DataType
	switch dt {
	case dnn.Float:
		cdt = cdnn.DataFloat
	case dnn.Half:
		cdt = cdnn.DataHalf
	default:
		return unimplemented(fmt.Sprintf("DoBatchNormalizationForward(%s)", dt))
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		x := newTensorDescriptor(s.lib, args.XDesc, cdt)
		defer x.Close()
		scaleOffset := newTensorDescriptor(s.lib, args.ScaleOffsetDesc, cdnn.DataFloat)
		defer scaleOffset.Close()

		if !args.IsTraining {
			st := s.lib.BatchNormalizationForwardInference(h, cdnn.BatchNormSpatial, 1, 0,
				x.Handle(), ptr(args.X), x.Handle(), ptr(args.Y),
				scaleOffset.Handle(), ptr(args.Scale), ptr(args.Offset),
				ptr(args.EstimatedMean), ptr(args.EstimatedVariance), args.Epsilon)
			if err := s.call("cudnnBatchNormalizationForwardInference", st); err != nil {
				return fmt.Errorf("batch norm inference: %w", err)
			}
			return nil
		}

		for _, m := range []ml.DeviceMemory{args.BatchMean, args.BatchVar} {
			if err := stream.MemZero(m, m.Size()); err != nil {
				return fmt.Errorf("batch norm: could not clear batch statistics: %w", err)
			}
		}

		st := s.lib.BatchNormalizationForwardTraining(h, cdnn.BatchNormSpatial, 1, 0,
			x.Handle(), ptr(args.X), x.Handle(), ptr(args.Y),
			scaleOffset.Handle(), ptr(args.Scale), ptr(args.Offset),
			1, ptr(args.BatchMean), ptr(args.BatchVar), args.Epsilon,
			ptr(args.SavedMean), ptr(args.SavedInvVar))
		if err := s.call("cudnnBatchNormalizationForwardTraining", st); err != nil {
			return fmt.Errorf("batch norm training: %w", err)
		}
		return nil
	})
}

// DoBatchNormalizationBackward computes the data, scale and offset
// gradients from the statistics saved by a training pass.
func (s *Support) DoBatchNormalizationBackward(stream ml.Stream, dt dnn.DataType, args dnn.BatchNormBackwardArgs) error {
	if dt != dnn.Float {
		return unimplemented(fmt.Sprintf("DoBatchNormalizationBackward(%s)", dt))
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		x := newTensorDescriptor(s.lib, args.XDesc, cdnn.DataFloat)
		defer x.Close()
		scaleOffset := newTensorDescriptor(s.lib, args.ScaleOffsetDesc, cdnn.DataFloat)
		defer scaleOffset.Close()

		st := s.lib.BatchNormalizationBackward(h, cdnn.BatchNormSpatial, 1, 0, 1, 0,
			x.Handle(), ptr(args.X),
			x.Handle(), ptr(args.YBackprop),
			x.Handle(), ptr(args.XBackprop),
			scaleOffset.Handle(), ptr(args.Scale), ptr(args.ScaleBackprop), ptr(args.OffsetBackprop),
			args.Epsilon, ptr(args.Mean), ptr(args.InvVariance))
		if err := s.call("cudnnBatchNormalizationBackward", st); err != nil {
			return fmt.Errorf("batch norm backward: %w", err)
		}
		return nil
	})
}

// convolution.go - Faltung vorwaerts, rueckwaerts (Daten, Filter, Bias)
// Enthält: DoConvolve, DoConvolveBackwardData, DoConvolveBackwardFilter,
// DoConvolveBackwardBias, DeriveOutputBatchDescriptor, maybeTransformLayout

package cldnn

import (
	"fmt"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/ml"
)

// convDataType maps the element type of a convolution. Double has no
// convolution kernels.
func convDataType(op string, dt dnn.DataType) (cdnn.DataType, error) {
	switch dt {
	case dnn.Float:
		return cdnn.DataFloat, nil
	case dnn.Half:
		return cdnn.DataHalf, nil
	case dnn.Double:
		return 0, unimplemented(op + "(double)")
	default:
		return 0, invalidArgument("%s: data type %s", op, dt)
	}
}

// DoConvolve runs a forward cross-correlation.
func (s *Support) DoConvolve(stream ml.Stream, dt dnn.DataType, args dnn.ConvolveArgs, scratchAlloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profile *dnn.ProfileResult) error {
	cdt, err := convDataType("DoConvolve", dt)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		compute := cdt
		if cdt == cdnn.DataHalf && s.flags.FP16ConvUseFP32Compute {
			compute = cdnn.DataFloat
		}

		input := newTensorDescriptor(s.lib, args.Input, cdt)
		defer input.Close()
		output := newTensorDescriptor(s.lib, args.Output, cdt)
		defer output.Close()
		filter := newFilterDescriptor(s.lib, args.Filter, cdt)
		defer filter.Close()
		conv := newConvolutionDescriptor(s.lib, args.Convolution, compute)
		defer conv.Close()

		ops := convAlgorithms{
			direction: "Forward",
			heuristic: func(pref cdnn.Preference, limit uint64) (int64, cdnn.Status) {
				var algo cdnn.ConvolutionFwdAlgo
				st := s.lib.GetConvolutionForwardAlgorithm(h, input.Handle(), filter.Handle(), conv.Handle(), output.Handle(), pref, limit, &algo)
				return int64(algo), st
			},
			workspace: func(id int64) (uint64, cdnn.Status) {
				var size uint64
				st := s.lib.GetConvolutionForwardWorkspaceSize(h, input.Handle(), filter.Handle(), conv.Handle(), output.Handle(), cdnn.ConvolutionFwdAlgo(id), &size)
				return size, st
			},
		}

		alg, scratch, err := s.selectAlgorithm(stream, ops, scratchAlloc, cfg, profile != nil)
		if err != nil {
			return err
		}
		conv.setTensorOpMath(alg, s.flags)

		p, err := startProfiler(stream, profile)
		if err != nil {
			return err
		}

		st := s.lib.ConvolutionForward(h, 1,
			input.Handle(), ptr(args.InputData),
			filter.Handle(), ptr(args.FilterData),
			conv.Handle(), cdnn.ConvolutionFwdAlgo(alg.ID), ptr(scratch), scratch.Size(),
			0, output.Handle(), ptr(args.OutputData))
		if err := s.call("cudnnConvolutionForward", st); err != nil {
			p.close()
			return fmt.Errorf("forward convolution with algorithm %s: %w", alg, err)
		}
		return p.stop(alg, scratch)
	})
}

// DoConvolveBackwardData computes the input gradient. The output gradient
// is consumed in BatchDepthYX layout; args.OutputLayoutUsed reports it.
func (s *Support) DoConvolveBackwardData(stream ml.Stream, dt dnn.DataType, args *dnn.ConvolveBackwardDataArgs, scratchAlloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profile *dnn.ProfileResult) error {
	cdt, err := convDataType("DoConvolveBackwardData", dt)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		outDesc, dyData, done, err := s.maybeTransformLayout(h, stream, args.Output, args.BackpropOutput, cdt)
		if err != nil {
			return err
		}
		defer done()
		args.OutputLayoutUsed = outDesc.Layout

		dy := newTensorDescriptor(s.lib, outDesc, cdt)
		defer dy.Close()
		dx := newTensorDescriptor(s.lib, args.Input, cdt)
		defer dx.Close()
		filter := newFilterDescriptor(s.lib, args.Filter, cdt)
		defer filter.Close()
		conv := newConvolutionDescriptor(s.lib, args.Convolution, cdnn.DataFloat)
		defer conv.Close()

		ops := convAlgorithms{
			direction: "BackwardData",
			heuristic: func(pref cdnn.Preference, limit uint64) (int64, cdnn.Status) {
				var algo cdnn.ConvolutionBwdDataAlgo
				st := s.lib.GetConvolutionBackwardDataAlgorithm(h, filter.Handle(), dy.Handle(), conv.Handle(), dx.Handle(), pref, limit, &algo)
				return int64(algo), st
			},
			workspace: func(id int64) (uint64, cdnn.Status) {
				var size uint64
				st := s.lib.GetConvolutionBackwardDataWorkspaceSize(h, filter.Handle(), dy.Handle(), conv.Handle(), dx.Handle(), cdnn.ConvolutionBwdDataAlgo(id), &size)
				return size, st
			},
		}

		alg, scratch, err := s.selectAlgorithm(stream, ops, scratchAlloc, cfg, profile != nil)
		if err != nil {
			return err
		}
		conv.setTensorOpMath(alg, s.flags)

		p, err := startProfiler(stream, profile)
		if err != nil {
			return err
		}

		st := s.lib.ConvolutionBackwardData(h, 1,
			filter.Handle(), ptr(args.FilterData),
			dy.Handle(), ptr(dyData),
			conv.Handle(), cdnn.ConvolutionBwdDataAlgo(alg.ID), ptr(scratch), scratch.Size(),
			0, dx.Handle(), ptr(args.BackpropInput))
		if err := s.call("cudnnConvolutionBackwardData", st); err != nil {
			p.close()
			return fmt.Errorf("backward data convolution with algorithm %s: %w", alg, err)
		}
		return p.stop(alg, scratch)
	})
}

// DoConvolveBackwardFilter computes the filter gradient.
func (s *Support) DoConvolveBackwardFilter(stream ml.Stream, dt dnn.DataType, args *dnn.ConvolveBackwardFilterArgs, scratchAlloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profile *dnn.ProfileResult) error {
	cdt, err := convDataType("DoConvolveBackwardFilter", dt)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		outDesc, dyData, done, err := s.maybeTransformLayout(h, stream, args.Output, args.BackpropOutput, cdt)
		if err != nil {
			return err
		}
		defer done()
		args.OutputLayoutUsed = outDesc.Layout

		x := newTensorDescriptor(s.lib, args.Input, cdt)
		defer x.Close()
		dy := newTensorDescriptor(s.lib, outDesc, cdt)
		defer dy.Close()
		dw := newFilterDescriptor(s.lib, args.Filter, cdt)
		defer dw.Close()
		conv := newConvolutionDescriptor(s.lib, args.Convolution, cdnn.DataFloat)
		defer conv.Close()

		ops := convAlgorithms{
			direction: "BackwardFilter",
			heuristic: func(pref cdnn.Preference, limit uint64) (int64, cdnn.Status) {
				var algo cdnn.ConvolutionBwdFilterAlgo
				st := s.lib.GetConvolutionBackwardFilterAlgorithm(h, x.Handle(), dy.Handle(), conv.Handle(), dw.Handle(), pref, limit, &algo)
				return int64(algo), st
			},
			workspace: func(id int64) (uint64, cdnn.Status) {
				var size uint64
				st := s.lib.GetConvolutionBackwardFilterWorkspaceSize(h, x.Handle(), dy.Handle(), conv.Handle(), dw.Handle(), cdnn.ConvolutionBwdFilterAlgo(id), &size)
				return size, st
			},
		}

		alg, scratch, err := s.selectAlgorithm(stream, ops, scratchAlloc, cfg, profile != nil)
		if err != nil {
			return err
		}
		conv.setTensorOpMath(alg, s.flags)

		p, err := startProfiler(stream, profile)
		if err != nil {
			return err
		}

		st := s.lib.ConvolutionBackwardFilter(h, 1,
			x.Handle(), ptr(args.InputData),
			dy.Handle(), ptr(dyData),
			conv.Handle(), cdnn.ConvolutionBwdFilterAlgo(alg.ID), ptr(scratch), scratch.Size(),
			0, dw.Handle(), ptr(args.BackpropFilter))
		if err := s.call("cudnnConvolutionBackwardFilter", st); err != nil {
			p.close()
			return fmt.Errorf("backward filter convolution with algorithm %s: %w", alg, err)
		}
		return p.stop(alg, scratch)
	})
}

// DoConvolveBackwardBias sums the output gradient into the bias gradient.
func (s *Support) DoConvolveBackwardBias(stream ml.Stream, dt dnn.DataType, input dnn.BatchDescriptor, inputData ml.DeviceMemory, bias dnn.BatchDescriptor, backpropBias ml.DeviceMemory) error {
	cdt, err := dataType(dt)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		dy := newTensorDescriptor(s.lib, input, cdt)
		defer dy.Close()
		db := newTensorDescriptor(s.lib, bias, cdt)
		defer db.Close()

		st := s.lib.ConvolutionBackwardBias(h, 1, dy.Handle(), ptr(inputData), 0, db.Handle(), ptr(backpropBias))
		if err := s.call("cudnnConvolutionBackwardBias", st); err != nil {
			return fmt.Errorf("backward bias: %w", err)
		}
		return nil
	})
}

// maybeTransformLayout returns data in BatchDepthYX layout. BatchYXDepth
// data is transformed into stream temporary memory that lives until done
// is called.
func (s *Support) maybeTransformLayout(h cdnn.Handle, stream ml.Stream, desc dnn.BatchDescriptor, data ml.DeviceMemory, dt cdnn.DataType) (dnn.BatchDescriptor, ml.DeviceMemory, func(), error) {
	if desc.Layout == dnn.BatchDepthYX {
		return desc, data, func() {}, nil
	}
	if desc.Layout != dnn.BatchYXDepth {
		fatal("unsupported layout %s for backward convolution", desc.Layout)
	}

	size := uint64(desc.ElementCount()) * uint64(dt.Size())
	tmp, err := stream.AllocateTemporary(size)
	if err != nil {
		return desc, data, nil, fmt.Errorf("could not allocate layout transform scratch: %w", err)
	}

	transformed := desc.Clone()
	transformed.Layout = dnn.BatchDepthYX

	orig := newTensorDescriptor(s.lib, desc, dt)
	defer orig.Close()
	target := newTensorDescriptor(s.lib, transformed, dt)
	defer target.Close()

	st := s.lib.TransformTensor(h, 1, orig.Handle(), ptr(data), 0, target.Handle(), ptr(tmp.Memory()))
	if err := st.Err("cudnnTransformTensor"); err != nil {
		tmp.Release()
		fatal("failed to transform the data layout: %v", err)
	}
	return transformed, tmp.Memory(), tmp.Release, nil
}

// DeriveOutputBatchDescriptor asks the backend for the shape a forward
// convolution of input with filter produces. The output keeps the input
// layout. Libraries without the shape query report it as unimplemented.
func (s *Support) DeriveOutputBatchDescriptor(input dnn.BatchDescriptor, filter dnn.FilterDescriptor, conv dnn.ConvolutionDescriptor) (dnn.BatchDescriptor, error) {
	if s.lib.GetConvolutionNdForwardOutputDim == nil {
		return dnn.BatchDescriptor{}, unimplemented("DeriveOutputBatchDescriptor")
	}
	switch input.Layout {
	case dnn.BatchDepthYX, dnn.BatchYXDepth:
	default:
		return dnn.BatchDescriptor{}, invalidArgument("DeriveOutputBatchDescriptor: unsupported input layout %s", input.Layout)
	}
	if filter.Layout != dnn.OutputInputYX {
		return dnn.BatchDescriptor{}, invalidArgument("DeriveOutputBatchDescriptor: unsupported filter layout %s", filter.Layout)
	}
	if input.NDims() != filter.NDims() || input.NDims() != conv.NDims() {
		return dnn.BatchDescriptor{}, invalidArgument("DeriveOutputBatchDescriptor: input %s, filter %s and convolution %s disagree on spatial dimensions",
			input, filter, conv)
	}

	x := newTensorDescriptor(s.lib, input, cdnn.DataFloat)
	defer x.Close()
	w := newFilterDescriptor(s.lib, filter, cdnn.DataFloat)
	defer w.Close()
	c := newConvolutionDescriptor(s.lib, conv, cdnn.DataFloat)
	defer c.Close()

	dims := make([]int32, input.NDims()+2)
	st := s.lib.GetConvolutionNdForwardOutputDim(c.Handle(), x.Handle(), w.Handle(), int32(len(dims)), dims)
	if err := s.call("cudnnGetConvolutionNdForwardOutputDim", st); err != nil {
		return dnn.BatchDescriptor{}, fmt.Errorf("could not derive output of %s: %w", input, err)
	}

	out := dnn.BatchDescriptor{
		Count:           int64(dims[0]),
		FeatureMapCount: int64(dims[1]),
		Spatial:         make([]int64, input.NDims()),
		Layout:          input.Layout,
	}
	for i, v := range dims[2:] {
		out.Spatial[i] = int64(v)
	}
	return out, nil
}

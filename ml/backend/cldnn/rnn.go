// rnn.go - Rekurrente Netze: Deskriptor-Fabriken, Vorwaerts- und Rueckwaertslauf
// Enthält: CreateRnnDescriptor, CreateRnn*TensorDescriptor, DoRnnForward,
// DoRnnBackward, Form-Pruefung

package cldnn

import (
	"fmt"
	"log/slog"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml"
)

// checked closes r and returns its status when construction failed.
func checked[T fallibleResource](r T) (T, error) {
	if r.OK() {
		return r, nil
	}
	err := r.Status()
	if cerr := r.Close(); cerr != nil {
		slog.Warn("could not release failed descriptor", "error", cerr)
	}
	var zero T
	return zero, err
}

// CreateRnnDescriptor builds a recurrent cell and computes its parameter
// layout.
func (s *Support) CreateRnnDescriptor(cfg dnn.RnnConfig) (dnn.RnnDescriptor, error) {
	var d *rnnDescriptor
	err := s.withHandle(nil, func(h cdnn.Handle) error {
		var err error
		d, err = checked(newRnnDescriptor(s.lib, h, cfg, s.flags))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create rnn descriptor %s: %w", cfg, err)
	}
	return d, nil
}

func (s *Support) CreateRnnSequenceTensorDescriptor(seqLength, batchSize, dataSize int, dt dnn.DataType) (dnn.RnnSequenceTensorDescriptor, error) {
	cdt, err := dataType(dt)
	if err != nil {
		return nil, err
	}
	d, err := checked(newRnnSequenceTensorDescriptor(s.lib, seqLength, batchSize, dataSize, cdt))
	if err != nil {
		return nil, fmt.Errorf("create rnn sequence descriptor: %w", err)
	}
	return d, nil
}

func (s *Support) CreateRnnStateTensorDescriptor(numLayers, batchSize, dataSize int, dt dnn.DataType) (dnn.RnnStateTensorDescriptor, error) {
	cdt, err := dataType(dt)
	if err != nil {
		return nil, err
	}
	d, err := checked(newRnnStateTensorDescriptor(s.lib, numLayers, batchSize, dataSize, cdt))
	if err != nil {
		return nil, fmt.Errorf("create rnn state descriptor: %w", err)
	}
	return d, nil
}

// =============================================================================
// Form-Pruefung
// =============================================================================

// rnnModel sind die aufgeloesten Deskriptoren eines RNN-Aufrufs
type rnnModel struct {
	rnn                *rnnDescriptor
	input, output      *rnnSequenceTensorDescriptor
	inputH, inputC     *rnnStateTensorDescriptor
	outputH, outputC   *rnnStateTensorDescriptor
	seqLength, dirs    int
	numLayers, hidden  int
	inputSize, batches int
}

func asRnnModel(args *dnn.RnnForwardArgs) (*rnnModel, error) {
	rnn, ok := args.Rnn.(*rnnDescriptor)
	if !ok {
		return nil, invalidArgument("rnn descriptor %T was not created by this backend", args.Rnn)
	}
	seq := func(d dnn.RnnSequenceTensorDescriptor, what string) (*rnnSequenceTensorDescriptor, error) {
		if t, ok := d.(*rnnSequenceTensorDescriptor); ok {
			return t, nil
		}
		return nil, invalidArgument("%s descriptor %T was not created by this backend", what, d)
	}
	state := func(d dnn.RnnStateTensorDescriptor, what string) (*rnnStateTensorDescriptor, error) {
		if t, ok := d.(*rnnStateTensorDescriptor); ok {
			return t, nil
		}
		return nil, invalidArgument("%s descriptor %T was not created by this backend", what, d)
	}

	m := &rnnModel{rnn: rnn}
	var err error
	if m.input, err = seq(args.Input, "input"); err != nil {
		return nil, err
	}
	if m.output, err = seq(args.Output, "output"); err != nil {
		return nil, err
	}
	if m.inputH, err = state(args.InputH, "input h"); err != nil {
		return nil, err
	}
	if m.inputC, err = state(args.InputC, "input c"); err != nil {
		return nil, err
	}
	if m.outputH, err = state(args.OutputH, "output h"); err != nil {
		return nil, err
	}
	if m.outputC, err = state(args.OutputC, "output c"); err != nil {
		return nil, err
	}
	return m, m.validate()
}

// validate checks that all shapes agree with the cell and with each other.
func (m *rnnModel) validate() error {
	m.seqLength = m.input.seqLength
	m.batches = m.input.batch
	m.inputSize = m.input.dataSize
	m.dirs = m.rnn.cfg.Direction.Count()
	m.numLayers = m.rnn.cfg.NumLayers
	m.hidden = m.rnn.cfg.HiddenSize

	h := m.inputH
	if h.numLayers != m.numLayers*m.dirs {
		return invalidArgument("input h has %d layers, want %d", h.numLayers, m.numLayers*m.dirs)
	}
	if h.batch != m.batches {
		return invalidArgument("input h batch %d does not match input batch %d", h.batch, m.batches)
	}
	if h.dataSize != m.hidden {
		return invalidArgument("input h size %d does not match hidden size %d", h.dataSize, m.hidden)
	}
	if !h.sameShape(m.inputC) || !h.sameShape(m.outputH) || !h.sameShape(m.outputC) {
		return invalidArgument("input c, output h and output c must match input h")
	}
	if m.inputSize != m.rnn.cfg.InputSize {
		return fmt.Errorf("cldnn: %w: input size %d does not match cell input size %d", dnn.ErrInvalidState, m.inputSize, m.rnn.cfg.InputSize)
	}
	if m.output.seqLength != m.seqLength || m.output.batch != m.batches {
		return invalidArgument("output sequence %dx%d does not match input %dx%d",
			m.output.seqLength, m.output.batch, m.seqLength, m.batches)
	}
	if m.output.dataSize != m.hidden*m.dirs {
		return invalidArgument("output size %d, want %d", m.output.dataSize, m.hidden*m.dirs)
	}
	return nil
}

// checkParamsSize compares the computed layout with a backend query for
// the caller's input steps.
func (s *Support) checkParamsSize(h cdnn.Handle, m *rnnModel) error {
	rnn := m.rnn
	size, err := queryParamsSize(s.lib, h, rnn.Handle(), m.input.Handles()[0], rnn.dt)
	if err != nil {
		return fmt.Errorf("could not query rnn params size: %w", err)
	}
	if size != rnn.ParamsSizeInBytes() {
		err := fmt.Errorf("cldnn: %w: rnn params size %d does not match backend size %d", dnn.ErrInvalidState, rnn.ParamsSizeInBytes(), size)
		slog.Error(err.Error())
		return err
	}
	return nil
}

// allocate returns size bytes from alloc. A zero size needs no allocator.
func allocate(stream ml.Stream, alloc ml.ScratchAllocator, size uint64, what string) (ml.DeviceMemory, error) {
	if size == 0 {
		return ml.DeviceMemory{}, nil
	}
	if alloc == nil {
		return ml.DeviceMemory{}, invalidArgument("%s of %s needs an allocator", what, format.HumanBytes2(size))
	}
	m, err := alloc.AllocateBytes(stream, size)
	if err != nil {
		return ml.DeviceMemory{}, fmt.Errorf("could not allocate %s of %s: %w", format.HumanBytes2(size), what, err)
	}
	return m, nil
}

func (s *Support) rnnWorkspace(h cdnn.Handle, stream ml.Stream, m *rnnModel, alloc ml.ScratchAllocator) (ml.DeviceMemory, error) {
	var size uint64
	st := s.lib.GetRNNWorkspaceSize(h, m.rnn.Handle(), int32(m.seqLength), m.input.Handles(), &size)
	if err := s.call("cudnnGetRNNWorkspaceSize", st); err != nil {
		return ml.DeviceMemory{}, err
	}
	return allocate(stream, alloc, size, "rnn workspace")
}

// =============================================================================
// Vorwaerts / Rueckwaerts
// =============================================================================

// DoRnnForward runs the cell over the input sequence. A training pass
// allocates the reserve space and stores it in args.ReserveSpace.
func (s *Support) DoRnnForward(stream ml.Stream, dt dnn.DataType, args *dnn.RnnForwardArgs) error {
	if _, err := dataType(dt); err != nil {
		return err
	}
	m, err := asRnnModel(args)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		if err := s.checkParamsSize(h, m); err != nil {
			return err
		}

		workspace, err := s.rnnWorkspace(h, stream, m, args.WorkspaceAllocator)
		if err != nil {
			return err
		}

		if !args.IsTraining {
			st := s.lib.RNNForwardInference(h, m.rnn.Handle(), int32(m.seqLength),
				m.input.Handles(), ptr(args.InputData),
				m.inputH.Handle(), ptr(args.InputHData),
				m.inputC.Handle(), ptr(args.InputCData),
				m.rnn.params.Handle(), ptr(args.Params),
				m.output.Handles(), ptr(args.OutputData),
				m.outputH.Handle(), ptr(args.OutputHData),
				m.outputC.Handle(), ptr(args.OutputCData),
				ptr(workspace), workspace.Size())
			if err := s.call("cudnnRNNForwardInference", st); err != nil {
				return fmt.Errorf("rnn forward: %w", err)
			}
			return nil
		}

		var size uint64
		st := s.lib.GetRNNTrainingReserveSize(h, m.rnn.Handle(), int32(m.seqLength), m.input.Handles(), &size)
		if err := s.call("cudnnGetRNNTrainingReserveSize", st); err != nil {
			return err
		}
		reserve, err := allocate(stream, args.ReserveSpaceAllocator, size, "rnn reserve space")
		if err != nil {
			return err
		}
		args.ReserveSpace = reserve

		st = s.lib.RNNForwardTraining(h, m.rnn.Handle(), int32(m.seqLength),
			m.input.Handles(), ptr(args.InputData),
			m.inputH.Handle(), ptr(args.InputHData),
			m.inputC.Handle(), ptr(args.InputCData),
			m.rnn.params.Handle(), ptr(args.Params),
			m.output.Handles(), ptr(args.OutputData),
			m.outputH.Handle(), ptr(args.OutputHData),
			m.outputC.Handle(), ptr(args.OutputCData),
			ptr(workspace), workspace.Size(),
			ptr(reserve), reserve.Size())
		if err := s.call("cudnnRNNForwardTraining", st); err != nil {
			return fmt.Errorf("rnn forward training: %w", err)
		}
		return nil
	})
}

// DoRnnBackward computes the data gradients and, when ParamsBackprop is
// set, the weight gradient. args.ReserveSpace must come from the matching
// training pass.
func (s *Support) DoRnnBackward(stream ml.Stream, dt dnn.DataType, args *dnn.RnnBackwardArgs) error {
	if _, err := dataType(dt); err != nil {
		return err
	}
	m, err := asRnnModel(&args.RnnForwardArgs)
	if err != nil {
		return err
	}

	return s.withHandle(stream, func(h cdnn.Handle) error {
		if err := s.checkParamsSize(h, m); err != nil {
			return err
		}

		workspace, err := s.rnnWorkspace(h, stream, m, args.WorkspaceAllocator)
		if err != nil {
			return err
		}
		reserve := args.ReserveSpace

		st := s.lib.RNNBackwardData(h, m.rnn.Handle(), int32(m.seqLength),
			m.output.Handles(), ptr(args.OutputData),
			m.output.Handles(), ptr(args.OutputBackprop),
			m.outputH.Handle(), ptr(args.OutputHBackprop),
			m.outputC.Handle(), ptr(args.OutputCBackprop),
			m.rnn.params.Handle(), ptr(args.Params),
			m.inputH.Handle(), ptr(args.InputHData),
			m.inputC.Handle(), ptr(args.InputCData),
			m.input.Handles(), ptr(args.InputBackprop),
			m.inputH.Handle(), ptr(args.InputHBackprop),
			m.inputC.Handle(), ptr(args.InputCBackprop),
			ptr(workspace), workspace.Size(),
			ptr(reserve), reserve.Size())
		if err := s.call("cudnnRNNBackwardData", st); err != nil {
			return fmt.Errorf("rnn backward data: %w", err)
		}

		if args.ParamsBackprop.IsNil() {
			return nil
		}

		// Die Gewichtsgradienten werden aufaddiert
		if err := stream.MemZero(args.ParamsBackprop, args.ParamsBackprop.Size()); err != nil {
			return fmt.Errorf("rnn backward: could not clear params gradient: %w", err)
		}

		st = s.lib.RNNBackwardWeights(h, m.rnn.Handle(), int32(m.seqLength),
			m.input.Handles(), ptr(args.InputData),
			m.inputH.Handle(), ptr(args.InputHData),
			m.output.Handles(), ptr(args.OutputData),
			ptr(workspace), workspace.Size(),
			m.rnn.params.Handle(), ptr(args.ParamsBackprop),
			ptr(reserve), reserve.Size())
		if err := s.call("cudnnRNNBackwardWeights", st); err != nil {
			return fmt.Errorf("rnn backward weights: %w", err)
		}
		return nil
	})
}

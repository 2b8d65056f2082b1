// descriptor_rnn.go - Deskriptoren mit Status fuer rekurrente Netze
// Enthält: fallible, dropoutDescriptor, rnnDescriptor, rnnParamsDescriptor,
// rnnSequenceTensorDescriptor, rnnStateTensorDescriptor
//
// Anders als die reinen Marshaling-Deskriptoren sind Fehler hier nicht
// fatal, sondern werden im Deskriptor vermerkt und ueber Status() gemeldet.

package cldnn

import (
	"fmt"
	"log/slog"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/envconfig"
	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml"
)

// fallible traegt den ersten Fehler eines Deskriptors
type fallible struct {
	err error
}

// OK reports whether construction succeeded.
func (f *fallible) OK() bool { return f.err == nil }

// Status returns the construction error, if any.
func (f *fallible) Status() error { return f.err }

func (f *fallible) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// fallibleResource is implemented by every status-carrying descriptor.
type fallibleResource interface {
	OK() bool
	Status() error
	Close() error
}

// =============================================================================
// Dropout
// =============================================================================

type dropoutDescriptor struct {
	_ noCopy
	fallible

	lib    *cdnn.Library
	handle cdnn.DropoutDescriptor
	states ml.DeviceMemory
}

// newDropoutDescriptor allocates the random state only for a non-zero
// probability. The caller holds the adapter mutex.
func newDropoutDescriptor(lib *cdnn.Library, h cdnn.Handle, dropout float32, seed uint64, alloc ml.ScratchAllocator) *dropoutDescriptor {
	d := &dropoutDescriptor{lib: lib}
	if err := lib.CreateDropoutDescriptor(&d.handle).Err("cudnnCreateDropoutDescriptor"); err != nil {
		d.fail(err)
		return d
	}

	if dropout == 0 {
		return d
	}

	var size uint64
	if err := lib.DropoutGetStatesSize(h, &size).Err("cudnnDropoutGetStatesSize"); err != nil {
		d.fail(err)
		return d
	}

	if size > 0 {
		if alloc == nil {
			d.fail(fmt.Errorf("%w: dropout %g needs a state allocator", dnn.ErrInvalidArgument, dropout))
			return d
		}
		states, err := alloc.AllocateBytes(nil, size)
		if err != nil {
			d.fail(fmt.Errorf("could not allocate %s of dropout state: %w", format.HumanBytes(int64(size)), err))
			return d
		}
		d.states = states
	}

	if err := lib.SetDropoutDescriptor(d.handle, h, dropout, ptr(d.states), d.states.Size(), seed).Err("cudnnSetDropoutDescriptor"); err != nil {
		d.fail(err)
	}
	return d
}

func (d *dropoutDescriptor) Handle() cdnn.DropoutDescriptor {
	if !d.OK() {
		return 0
	}
	return d.handle
}

func (d *dropoutDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Dropout", d.lib.DestroyDropoutDescriptor(h))
}

// =============================================================================
// RNN-Parameter
// =============================================================================

// rnnParamsDescriptor describes the flat parameter buffer and the location
// of every weight matrix and bias vector inside it.
type rnnParamsDescriptor struct {
	_ noCopy
	fallible

	lib     *cdnn.Library
	handle  cdnn.FilterDescriptor
	size    int64
	weights []dnn.ParamsRegion
	biases  []dnn.ParamsRegion
}

// regionsPerLayer is the number of weight matrices of one layer.
func regionsPerLayer(mode dnn.RnnMode) int {
	return mode.ParamsPerLayer()
}

// stepTensor returns a 1 × input × 1 tensor the size queries accept.
func stepTensor(lib *cdnn.Library, cfg dnn.RnnConfig, dt cdnn.DataType) (cdnn.TensorDescriptor, error) {
	in := checkedNarrowing(int64(cfg.InputSize))
	return createTensor(lib, dt, []int32{1, in, 1}, []int32{in, 1, 1})
}

// queryParamsSize asks the backend for the size of the parameter buffer
// when the cell is fed steps described by x.
func queryParamsSize(lib *cdnn.Library, h cdnn.Handle, rnn cdnn.RNNDescriptor, x cdnn.TensorDescriptor, dt cdnn.DataType) (int64, error) {
	var size uint64
	if err := lib.GetRNNParamsSize(h, rnn, x, &size, dt).Err("cudnnGetRNNParamsSize"); err != nil {
		return 0, err
	}
	return int64(size), nil
}

func newRnnParamsDescriptor(lib *cdnn.Library, h cdnn.Handle, rnn cdnn.RNNDescriptor, cfg dnn.RnnConfig, dt cdnn.DataType) *rnnParamsDescriptor {
	d := &rnnParamsDescriptor{lib: lib}

	x, err := stepTensor(lib, cfg, dt)
	if err != nil {
		d.fail(err)
		return d
	}
	defer func() { _ = release("Tensor", lib.DestroyTensorDescriptor(x)) }()

	size, err := queryParamsSize(lib, h, rnn, x, dt)
	if err != nil {
		d.fail(err)
		return d
	}
	d.size = size

	elem := int64(dt.Size())
	d.handle, err = createFilter(lib, dt, []int32{checkedNarrowing(size / elem), 1, 1})
	if err != nil {
		d.fail(err)
		return d
	}

	region, err := createFilter(lib, dt, []int32{1, 1, 1})
	if err != nil {
		d.fail(err)
		return d
	}
	defer func() { _ = release("Filter", lib.DestroyFilterDescriptor(region)) }()

	regions := regionsPerLayer(cfg.Mode)
	for layer := range cfg.NumLayers {
		for r := range regions {
			for _, bias := range []bool{false, true} {
				var offset cdnn.Ptr
				var st cdnn.Status
				op := "cudnnGetRNNLinLayerMatrixParams"
				if bias {
					op = "cudnnGetRNNLinLayerBiasParams"
					st = lib.GetRNNLinLayerBiasParams(h, rnn, int32(layer), x, d.handle, 0, int32(r), region, &offset)
				} else {
					st = lib.GetRNNLinLayerMatrixParams(h, rnn, int32(layer), x, d.handle, 0, int32(r), region, &offset)
				}
				if err := st.Err(op); err != nil {
					d.fail(fmt.Errorf("layer %d region %d: %w", layer, r, err))
					return d
				}

				n, err := filterElements(lib, region)
				if err != nil {
					d.fail(err)
					return d
				}

				pr := dnn.ParamsRegion{Offset: int64(offset), Size: n * elem}
				if bias {
					d.biases = append(d.biases, pr)
				} else {
					d.weights = append(d.weights, pr)
				}
			}
		}
	}
	return d
}

// filterElements reads a filter descriptor back and multiplies its dims.
func filterElements(lib *cdnn.Library, f cdnn.FilterDescriptor) (int64, error) {
	var (
		dt     cdnn.DataType
		tf     cdnn.TensorFormat
		nbDims int32
		dims   = make([]int32, 8)
	)
	if err := lib.GetFilterNdDescriptor(f, &dt, &tf, &nbDims, dims).Err("cudnnGetFilterNdDescriptor"); err != nil {
		return 0, err
	}
	n := int64(1)
	for _, v := range dims[:nbDims] {
		n *= int64(v)
	}
	return n, nil
}

func (d *rnnParamsDescriptor) Handle() cdnn.FilterDescriptor {
	if !d.OK() {
		return 0
	}
	return d.handle
}

func (d *rnnParamsDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Filter", d.lib.DestroyFilterDescriptor(h))
}

// =============================================================================
// RNN-Deskriptor
// =============================================================================

// rnnDescriptor implements dnn.RnnDescriptor. It owns its dropout and
// parameter descriptors.
type rnnDescriptor struct {
	_ noCopy
	fallible

	lib    *cdnn.Library
	cfg    dnn.RnnConfig
	dt     cdnn.DataType
	handle cdnn.RNNDescriptor

	dropout *dropoutDescriptor
	params  *rnnParamsDescriptor
}

var _ dnn.RnnDescriptor = (*rnnDescriptor)(nil)

func rnnMode(m dnn.RnnMode) (cdnn.RNNMode, error) {
	switch m {
	case dnn.RnnRelu:
		return cdnn.RNNRelu, nil
	case dnn.RnnTanh:
		return cdnn.RNNTanh, nil
	case dnn.RnnLstm:
		return cdnn.LSTM, nil
	case dnn.RnnGru:
		return cdnn.GRU, nil
	default:
		return 0, fmt.Errorf("%w: unsupported rnn mode %s", dnn.ErrInvalidArgument, m)
	}
}

func rnnInputMode(m dnn.RnnInputMode) cdnn.RNNInputMode {
	if m == dnn.RnnSkipInput {
		return cdnn.SkipInput
	}
	return cdnn.LinearInput
}

func rnnDirection(d dnn.RnnDirectionMode) cdnn.DirectionMode {
	if d == dnn.RnnBidirectional {
		return cdnn.Bidirectional
	}
	return cdnn.Unidirectional
}

func newRnnDescriptor(lib *cdnn.Library, h cdnn.Handle, cfg dnn.RnnConfig, flags envconfig.Flags) *rnnDescriptor {
	d := &rnnDescriptor{lib: lib, cfg: cfg}

	dt, err := dataType(cfg.DataType)
	if err != nil {
		d.fail(err)
		return d
	}
	d.dt = dt

	mode, err := rnnMode(cfg.Mode)
	if err != nil {
		d.fail(err)
		return d
	}

	d.dropout = newDropoutDescriptor(lib, h, cfg.Dropout, cfg.Seed, cfg.StateAllocator)
	if !d.dropout.OK() {
		d.fail(d.dropout.Status())
		return d
	}

	if err := lib.CreateRNNDescriptor(&d.handle).Err("cudnnCreateRNNDescriptor"); err != nil {
		d.fail(err)
		return d
	}

	st := lib.SetRNNDescriptor(h, d.handle,
		checkedNarrowing(int64(cfg.HiddenSize)), checkedNarrowing(int64(cfg.NumLayers)),
		d.dropout.Handle(), rnnInputMode(cfg.InputMode), rnnDirection(cfg.Direction),
		mode, cdnn.RNNAlgoStandard, dt)
	if err := st.Err("cudnnSetRNNDescriptor"); err != nil {
		d.fail(err)
		return d
	}

	if flags.RnnTensorOpMath && lib.SetRNNMatrixMathType != nil {
		math := cdnn.DefaultMath
		if dt == cdnn.DataHalf {
			math = cdnn.TensorOpMath
		}
		if err := lib.SetRNNMatrixMathType(d.handle, math).Err("cudnnSetRNNMatrixMathType"); err != nil {
			d.fail(err)
			return d
		}
	}

	d.params = newRnnParamsDescriptor(lib, h, d.handle, cfg, dt)
	if !d.params.OK() {
		d.fail(d.params.Status())
		return d
	}

	slog.Debug("rnn descriptor created", "config", cfg, "params", format.HumanBytes(d.params.size))
	return d
}

func (d *rnnDescriptor) Handle() cdnn.RNNDescriptor {
	if !d.OK() {
		return 0
	}
	return d.handle
}

func (d *rnnDescriptor) ParamsSizeInBytes() int64 {
	if d.params == nil {
		return 0
	}
	return d.params.size
}

func (d *rnnDescriptor) ParamsWeightRegions() []dnn.ParamsRegion {
	if d.params == nil {
		return nil
	}
	return d.params.weights
}

func (d *rnnDescriptor) ParamsBiasRegions() []dnn.ParamsRegion {
	if d.params == nil {
		return nil
	}
	return d.params.biases
}

// Close releases the parameter and dropout descriptors before the cell.
func (d *rnnDescriptor) Close() error {
	var first error
	keep := func(err error) {
		if first == nil {
			first = err
		}
	}

	if d.params != nil {
		keep(d.params.Close())
	}
	if d.dropout != nil {
		keep(d.dropout.Close())
	}
	if d.handle != 0 {
		h := d.handle
		d.handle = 0
		keep(release("RNN", d.lib.DestroyRNNDescriptor(h)))
	}
	return first
}

// =============================================================================
// Sequenz- und Zustands-Tensoren
// =============================================================================

// rnnSequenceTensorDescriptor describes seqLength steps of batch × data.
// All steps share one backend descriptor.
type rnnSequenceTensorDescriptor struct {
	_ noCopy
	fallible

	lib       *cdnn.Library
	seqLength int
	batch     int
	dataSize  int
	dt        cdnn.DataType
	handle    cdnn.TensorDescriptor
	handles   []cdnn.TensorDescriptor
}

var _ dnn.RnnSequenceTensorDescriptor = (*rnnSequenceTensorDescriptor)(nil)

func newRnnSequenceTensorDescriptor(lib *cdnn.Library, seqLength, batch, dataSize int, dt cdnn.DataType) *rnnSequenceTensorDescriptor {
	d := &rnnSequenceTensorDescriptor{lib: lib, seqLength: seqLength, batch: batch, dataSize: dataSize, dt: dt}
	if seqLength <= 0 {
		d.fail(fmt.Errorf("%w: sequence length must be positive, got %d", dnn.ErrInvalidArgument, seqLength))
		return d
	}

	b := checkedNarrowing(int64(batch))
	n := checkedNarrowing(int64(dataSize))
	h, err := createTensor(lib, dt, []int32{b, n, 1}, []int32{n, 1, 1})
	if err != nil {
		d.fail(err)
		return d
	}

	d.handle = h
	d.handles = make([]cdnn.TensorDescriptor, seqLength)
	for i := range d.handles {
		d.handles[i] = h
	}
	return d
}

// Handles returns one descriptor per step.
func (d *rnnSequenceTensorDescriptor) Handles() []cdnn.TensorDescriptor {
	if !d.OK() {
		return nil
	}
	return d.handles
}

func (d *rnnSequenceTensorDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	d.handles = nil
	return release("Tensor", d.lib.DestroyTensorDescriptor(h))
}

// rnnStateTensorDescriptor describes a layers × batch × data state.
type rnnStateTensorDescriptor struct {
	_ noCopy
	fallible

	lib       *cdnn.Library
	numLayers int
	batch     int
	dataSize  int
	dt        cdnn.DataType
	handle    cdnn.TensorDescriptor
}

var _ dnn.RnnStateTensorDescriptor = (*rnnStateTensorDescriptor)(nil)

func newRnnStateTensorDescriptor(lib *cdnn.Library, numLayers, batch, dataSize int, dt cdnn.DataType) *rnnStateTensorDescriptor {
	d := &rnnStateTensorDescriptor{lib: lib, numLayers: numLayers, batch: batch, dataSize: dataSize, dt: dt}

	l := checkedNarrowing(int64(numLayers))
	b := checkedNarrowing(int64(batch))
	n := checkedNarrowing(int64(dataSize))
	h, err := createTensor(lib, dt, []int32{l, b, n}, []int32{b * n, n, 1})
	if err != nil {
		d.fail(err)
		return d
	}
	d.handle = h
	return d
}

func (d *rnnStateTensorDescriptor) Handle() cdnn.TensorDescriptor {
	if !d.OK() {
		return 0
	}
	return d.handle
}

func (d *rnnStateTensorDescriptor) Close() error {
	if d.handle == 0 {
		return nil
	}
	h := d.handle
	d.handle = 0
	return release("Tensor", d.lib.DestroyTensorDescriptor(h))
}

func (d *rnnStateTensorDescriptor) sameShape(o *rnnStateTensorDescriptor) bool {
	return d.numLayers == o.numLayers && d.batch == o.batch && d.dataSize == o.dataSize
}

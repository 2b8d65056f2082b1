// rnn.go - Rekurrente Zellen: Konfiguration, Deskriptoren, Parameter-Regionen
package dnn

import (
	"fmt"

	"github.com/clstream/cldnn/ml"
)

// ParamsRegion is one weight matrix or bias vector inside the flat
// parameter buffer.
type ParamsRegion struct {
	Offset int64
	Size   int64
}

// RnnConfig describes a stack of recurrent layers.
type RnnConfig struct {
	NumLayers  int
	HiddenSize int
	InputSize  int
	InputMode  RnnInputMode
	Direction  RnnDirectionMode
	Mode       RnnMode
	DataType   DataType

	// Dropout is applied between layers during training; 0 disables it.
	Dropout float32
	Seed    uint64

	// StateAllocator provides the dropout state buffer. It may be nil when
	// Dropout is 0.
	StateAllocator ml.ScratchAllocator
}

func (c RnnConfig) String() string {
	return fmt.Sprintf("{layers: %d hidden: %d input: %d mode: %s directions: %d type: %s dropout: %g}",
		c.NumLayers, c.HiddenSize, c.InputSize, c.Mode, c.Direction.Count(), c.DataType, c.Dropout)
}

// RnnDescriptor is a backend recurrent cell with its parameter layout.
type RnnDescriptor interface {
	// ParamsSizeInBytes is the size of the flat parameter buffer.
	ParamsSizeInBytes() int64

	// ParamsWeightRegions lists weight matrices, layer-major then region.
	ParamsWeightRegions() []ParamsRegion

	// ParamsBiasRegions lists bias vectors in the same order.
	ParamsBiasRegions() []ParamsRegion

	Close() error
}

// RnnSequenceTensorDescriptor describes max_seq_length steps of
// batch_size × data_size inputs or outputs.
type RnnSequenceTensorDescriptor interface {
	Close() error
}

// RnnStateTensorDescriptor describes a num_layers × batch_size × data_size
// hidden or cell state.
type RnnStateTensorDescriptor interface {
	Close() error
}

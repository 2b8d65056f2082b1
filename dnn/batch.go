// batch.go - BatchDescriptor: logische Form eines Aktivierungs-Tensors
//
// Raeumliche Dimensionen werden von major nach minor gespeichert (..., Z, Y, X).
// FullDims/FullStrides liefern Dimensionen und Strides in einem beliebigen Layout.
package dnn

import (
	"fmt"
	"slices"
	"strings"
)

// BatchDescriptor describes a batch of feature maps.
type BatchDescriptor struct {
	Count           int64
	FeatureMapCount int64

	// Spatial holds the spatial sizes, major to minor.
	Spatial []int64

	Layout DataLayout

	// ValueMin and ValueMax bound the values, ValueMax is the ReluX ceiling.
	ValueMin float64
	ValueMax float64
}

// NewBatchDescriptor returns an empty descriptor with ndims spatial
// dimensions in BatchDepthYX layout.
func NewBatchDescriptor(ndims int) BatchDescriptor {
	return BatchDescriptor{
		Spatial: make([]int64, ndims),
		Layout:  BatchDepthYX,
	}
}

// NewBatchDescriptor2D is the common count × depth × height × width case.
func NewBatchDescriptor2D(count, depth, height, width int64, layout DataLayout) BatchDescriptor {
	return BatchDescriptor{
		Count:           count,
		FeatureMapCount: depth,
		Spatial:         []int64{height, width},
		Layout:          layout,
	}
}

// Clone returns a deep copy.
func (b BatchDescriptor) Clone() BatchDescriptor {
	b.Spatial = slices.Clone(b.Spatial)
	return b
}

// NDims is the number of spatial dimensions.
func (b BatchDescriptor) NDims() int { return len(b.Spatial) }

// SpatialDim returns the size along d.
func (b BatchDescriptor) SpatialDim(d DimIndex) int64 {
	return b.Spatial[len(b.Spatial)-1-int(d)]
}

// SetSpatialDim sets the size along d.
func (b *BatchDescriptor) SetSpatialDim(d DimIndex, v int64) *BatchDescriptor {
	b.Spatial[len(b.Spatial)-1-int(d)] = v
	return b
}

func (b BatchDescriptor) Height() int64 { return b.SpatialDim(DimY) }
func (b BatchDescriptor) Width() int64  { return b.SpatialDim(DimX) }

// NodesPerFeatureMap is the product of the spatial sizes.
func (b BatchDescriptor) NodesPerFeatureMap() int64 {
	n := int64(1)
	for _, s := range b.Spatial {
		n *= s
	}
	return n
}

// NodesAcrossFeatureMaps is the number of values for one batch entry.
func (b BatchDescriptor) NodesAcrossFeatureMaps() int64 {
	return b.NodesPerFeatureMap() * b.FeatureMapCount
}

// ElementCount is the number of values in the whole batch.
func (b BatchDescriptor) ElementCount() int64 {
	return b.Count * b.NodesAcrossFeatureMaps()
}

// FullDims returns count, depth and spatial sizes ordered for layout.
func (b BatchDescriptor) FullDims(layout DataLayout) []int64 {
	bdyx := make([]int64, b.NDims()+2)
	bdyx[0] = b.Count
	bdyx[1] = b.FeatureMapCount
	copy(bdyx[2:], b.Spatial)
	return ReorderDims(bdyx, BatchDepthYX, layout)
}

// FullStrides returns element strides of the descriptor's own physical
// layout, ordered for layout.
func (b BatchDescriptor) FullStrides(layout DataLayout) []int64 {
	phys := b.FullDims(b.Layout)
	strides := make([]int64, len(phys))
	strides[len(phys)-1] = 1
	for i := len(phys) - 2; i >= 0; i-- {
		strides[i] = strides[i+1] * phys[i+1]
	}
	return ReorderDims(strides, b.Layout, layout)
}

func (b BatchDescriptor) String() string {
	spatial := make([]string, len(b.Spatial))
	for i, s := range b.Spatial {
		spatial[i] = fmt.Sprint(s)
	}
	return fmt.Sprintf("{count: %d feature_map_count: %d spatial: %s value_min: %g value_max: %g layout: %s}",
		b.Count, b.FeatureMapCount, strings.Join(spatial, " "), b.ValueMin, b.ValueMax, b.Layout)
}

// dimIndices returns the positions of the depth, batch and first spatial
// dimension for a layout with n dimensions in total.
func dimIndices(layout DataLayout, n int) (depth, batch, spatial int) {
	switch layout {
	case YXBatchDepth:
		return n - 1, n - 2, 0
	case YXDepthBatch:
		return n - 2, n - 1, 0
	case BatchYXDepth:
		return n - 1, 0, 1
	case BatchDepthYX, BatchDepthYX4:
		return 1, 0, 2
	default:
		panic(fmt.Sprintf("dnn: unknown layout %d", int(layout)))
	}
}

// ReorderDims permutes a dims (or strides) vector from one layout to another.
func ReorderDims(in []int64, from, to DataLayout) []int64 {
	if from == to {
		return slices.Clone(in)
	}

	dFrom, bFrom, sFrom := dimIndices(from, len(in))
	dTo, bTo, sTo := dimIndices(to, len(in))

	out := make([]int64, len(in))
	out[bTo] = in[bFrom]
	out[dTo] = in[dFrom]
	for i := 0; i < len(in)-2; i++ {
		out[sTo+i] = in[sFrom+i]
	}
	return out
}

// DepthConcatenateOutputDescriptor returns the descriptor of the tensor
// that stacks all inputs along depth. Inputs must agree on count and
// spatial sizes.
func DepthConcatenateOutputDescriptor(inputs []BatchDescriptor) (BatchDescriptor, error) {
	if len(inputs) == 0 {
		return BatchDescriptor{}, fmt.Errorf("%w: no inputs to concatenate", ErrInvalidArgument)
	}

	out := inputs[0].Clone()
	out.FeatureMapCount = 0
	for i, in := range inputs {
		if in.Count != out.Count || !slices.Equal(in.Spatial, out.Spatial) {
			return BatchDescriptor{}, fmt.Errorf("%w: input %d %s does not match %s", ErrInvalidArgument, i, in, inputs[0])
		}
		out.FeatureMapCount += in.FeatureMapCount
	}
	return out, nil
}

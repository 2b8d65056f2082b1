// filter.go - Filter-, Faltungs-, Pooling- und Normalisierungs-Parameter
package dnn

import (
	"fmt"
	"slices"
)

// =============================================================================
// FilterDescriptor
// =============================================================================

// FilterDescriptor describes convolution weights.
type FilterDescriptor struct {
	OutputFeatureMapCount int64
	InputFeatureMapCount  int64

	// Spatial holds the kernel sizes, major to minor.
	Spatial []int64

	Layout FilterLayout
}

// NewFilterDescriptor2D is the output × input × height × width case.
func NewFilterDescriptor2D(output, input, height, width int64) FilterDescriptor {
	return FilterDescriptor{
		OutputFeatureMapCount: output,
		InputFeatureMapCount:  input,
		Spatial:               []int64{height, width},
		Layout:                OutputInputYX,
	}
}

func (f FilterDescriptor) NDims() int { return len(f.Spatial) }

func (f FilterDescriptor) SpatialDim(d DimIndex) int64 {
	return f.Spatial[len(f.Spatial)-1-int(d)]
}

// WeightCount is the number of values in the filter.
func (f FilterDescriptor) WeightCount() int64 {
	n := f.OutputFeatureMapCount * f.InputFeatureMapCount
	for _, s := range f.Spatial {
		n *= s
	}
	return n
}

func (f FilterDescriptor) String() string {
	return fmt.Sprintf("{output_feature_map_count: %d input_feature_map_count: %d spatial: %v layout: %s}",
		f.OutputFeatureMapCount, f.InputFeatureMapCount, f.Spatial, f.Layout)
}

// =============================================================================
// ConvolutionDescriptor
// =============================================================================

// ConvolutionDescriptor holds per spatial dimension padding, strides and
// dilations, major to minor.
type ConvolutionDescriptor struct {
	Padding   []int64
	Strides   []int64
	Dilations []int64
}

// NewConvolutionDescriptor returns unit strides and dilations, no padding.
func NewConvolutionDescriptor(ndims int) ConvolutionDescriptor {
	return ConvolutionDescriptor{
		Padding:   make([]int64, ndims),
		Strides:   ones(ndims),
		Dilations: ones(ndims),
	}
}

func (c ConvolutionDescriptor) NDims() int { return len(c.Strides) }

// SetPadding sets the zero padding along d.
func (c ConvolutionDescriptor) SetPadding(d DimIndex, v int64) ConvolutionDescriptor {
	c.Padding = slices.Clone(c.Padding)
	c.Padding[len(c.Padding)-1-int(d)] = v
	return c
}

// SetStride sets the filter stride along d.
func (c ConvolutionDescriptor) SetStride(d DimIndex, v int64) ConvolutionDescriptor {
	c.Strides = slices.Clone(c.Strides)
	c.Strides[len(c.Strides)-1-int(d)] = v
	return c
}

// SetDilation sets the dilation rate along d.
func (c ConvolutionDescriptor) SetDilation(d DimIndex, v int64) ConvolutionDescriptor {
	c.Dilations = slices.Clone(c.Dilations)
	c.Dilations[len(c.Dilations)-1-int(d)] = v
	return c
}

// OutputSpatial computes the output spatial sizes of a cross-correlation
// of input with a filter.
func (c ConvolutionDescriptor) OutputSpatial(input BatchDescriptor, filter FilterDescriptor) []int64 {
	out := make([]int64, c.NDims())
	for i := range out {
		k := (filter.Spatial[i]-1)*c.Dilations[i] + 1
		out[i] = (input.Spatial[i]+2*c.Padding[i]-k)/c.Strides[i] + 1
	}
	return out
}

func (c ConvolutionDescriptor) String() string {
	return fmt.Sprintf("{padding: %v strides: %v dilations: %v}", c.Padding, c.Strides, c.Dilations)
}

// =============================================================================
// PoolingDescriptor
// =============================================================================

// PoolingDescriptor holds the pooling window geometry, major to minor.
type PoolingDescriptor struct {
	Mode    PoolingMode
	Window  []int64
	Padding []int64
	Strides []int64
}

// NewPoolingDescriptor returns a max pooling of unit window and stride.
func NewPoolingDescriptor(ndims int) PoolingDescriptor {
	return PoolingDescriptor{
		Mode:    PoolingMaximum,
		Window:  ones(ndims),
		Padding: make([]int64, ndims),
		Strides: ones(ndims),
	}
}

func (p PoolingDescriptor) NDims() int { return len(p.Window) }

func (p PoolingDescriptor) String() string {
	return fmt.Sprintf("{mode: %s window: %v padding: %v strides: %v}", p.Mode, p.Window, p.Padding, p.Strides)
}

// =============================================================================
// NormalizeDescriptor
// =============================================================================

// NormalizeDescriptor parameterises local response normalization:
//
//	out_i = in_i / (Bias + Alpha * sum_{j in [i-Range, i+Range]} in_j^2) ^ Beta
type NormalizeDescriptor struct {
	Bias        float32
	Range       int32
	Alpha       float32
	Beta        float32
	WrapAround  bool
	SegmentSize int32
}

func ones(n int) []int64 {
	s := make([]int64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

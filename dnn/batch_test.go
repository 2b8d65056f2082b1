package dnn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFullDimsAndStrides(t *testing.T) {
	cases := []struct {
		name        string
		layout      DataLayout
		wantDims    []int64
		wantStrides []int64
	}{
		{
			name:        "BatchDepthYX",
			layout:      BatchDepthYX,
			wantDims:    []int64{2, 3, 4, 4},
			wantStrides: []int64{48, 16, 4, 1},
		},
		{
			// Physisch NHWC, kanonisch als BDYX gelesen
			name:        "BatchYXDepth",
			layout:      BatchYXDepth,
			wantDims:    []int64{2, 3, 4, 4},
			wantStrides: []int64{48, 1, 12, 3},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBatchDescriptor2D(2, 3, 4, 4, tt.layout)
			if diff := cmp.Diff(tt.wantDims, b.FullDims(BatchDepthYX)); diff != "" {
				t.Errorf("FullDims mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantStrides, b.FullStrides(BatchDepthYX)); diff != "" {
				t.Errorf("FullStrides mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestReorderDimsRoundTrip(t *testing.T) {
	in := []int64{2, 3, 5, 7}
	for _, layout := range []DataLayout{YXDepthBatch, YXBatchDepth, BatchYXDepth, BatchDepthYX} {
		there := ReorderDims(in, BatchDepthYX, layout)
		back := ReorderDims(there, layout, BatchDepthYX)
		assert.Equal(t, in, back, layout.String())
	}
	assert.Equal(t, []int64{2, 5, 7, 3}, ReorderDims(in, BatchDepthYX, BatchYXDepth))
	assert.Equal(t, []int64{5, 7, 2, 3}, ReorderDims(in, BatchDepthYX, YXBatchDepth))
}

func TestBatchDescriptorCounts(t *testing.T) {
	b := NewBatchDescriptor2D(2, 3, 4, 5, BatchDepthYX)
	assert.Equal(t, int64(20), b.NodesPerFeatureMap())
	assert.Equal(t, int64(60), b.NodesAcrossFeatureMaps())
	assert.Equal(t, int64(120), b.ElementCount())
	assert.Equal(t, int64(4), b.Height())
	assert.Equal(t, int64(5), b.Width())

	c := b.Clone()
	c.SetSpatialDim(DimX, 9)
	assert.Equal(t, int64(5), b.Width(), "Clone muss Spatial kopieren")
	assert.Equal(t, int64(9), c.Width())
}

func TestDepthConcatenateOutputDescriptor(t *testing.T) {
	a := NewBatchDescriptor2D(1, 3, 2, 2, BatchDepthYX)
	b := NewBatchDescriptor2D(1, 5, 2, 2, BatchDepthYX)

	out, err := DepthConcatenateOutputDescriptor([]BatchDescriptor{a, b})
	require.NoError(t, err)
	assert.Equal(t, int64(8), out.FeatureMapCount)
	assert.Equal(t, []int64{2, 2}, out.Spatial)

	_, err = DepthConcatenateOutputDescriptor(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = DepthConcatenateOutputDescriptor([]BatchDescriptor{a, NewBatchDescriptor2D(1, 5, 3, 2, BatchDepthYX)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestConvolutionOutputSpatial(t *testing.T) {
	in := NewBatchDescriptor2D(1, 1, 5, 5, BatchDepthYX)
	f := NewFilterDescriptor2D(1, 1, 3, 3)

	conv := NewConvolutionDescriptor(2)
	assert.Equal(t, []int64{3, 3}, conv.OutputSpatial(in, f))

	padded := conv.SetPadding(DimX, 1).SetPadding(DimY, 1)
	assert.Equal(t, []int64{5, 5}, padded.OutputSpatial(in, f))
	assert.Equal(t, []int64{0, 0}, conv.Padding, "Setter duerfen das Original nicht aendern")

	strided := conv.SetStride(DimY, 2)
	assert.Equal(t, []int64{2, 3}, strided.OutputSpatial(in, f))

	dilated := conv.SetDilation(DimX, 2)
	assert.Equal(t, []int64{3, 1}, dilated.OutputSpatial(in, f))
}

func TestRnnModeParamsPerLayer(t *testing.T) {
	assert.Equal(t, 2, RnnRelu.ParamsPerLayer())
	assert.Equal(t, 2, RnnTanh.ParamsPerLayer())
	assert.Equal(t, 8, RnnLstm.ParamsPerLayer())
	assert.Equal(t, 6, RnnGru.ParamsPerLayer())
	assert.Equal(t, 2, RnnBidirectional.Count())
	assert.Equal(t, 1, RnnUnidirectional.Count())
}

func TestDataTypeSize(t *testing.T) {
	assert.Equal(t, 4, Float.Size())
	assert.Equal(t, 2, Half.Size())
	assert.Equal(t, 8, Double.Size())
	assert.Panics(t, func() { DataType(42).Size() })
}

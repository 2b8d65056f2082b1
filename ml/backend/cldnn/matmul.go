// matmul.go - Matrixmultiplikation und Tiefen-Konkatenation (nur float)
// Beide Primitive laufen ohne Backend-Handle direkt auf dem Stream.

package cldnn

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml"
)

// DoMatMul multiplies every input batch entry with weights. A 1×1 output
// needs one gemm; larger outputs run one gemm per output position, each
// with its own slice of the weights.
func (s *Support) DoMatMul(stream ml.Stream, input, weights ml.DeviceMemory, inputDims, outputDims dnn.BatchDescriptor, output ml.DeviceMemory) error {
	if inputDims.Count != outputDims.Count {
		return invalidArgument("DoMatMul: input count %d does not match output count %d", inputDims.Count, outputDims.Count)
	}
	for _, d := range []dnn.BatchDescriptor{inputDims, outputDims} {
		if d.Layout != dnn.BatchYXDepth && d.Layout != dnn.BatchDepthYX {
			return invalidArgument("DoMatMul: unsupported layout %s", d.Layout)
		}
	}

	if outputDims.NodesPerFeatureMap() == 1 {
		m := uint64(outputDims.NodesAcrossFeatureMaps())
		n := uint64(inputDims.Count)
		k := uint64(inputDims.NodesAcrossFeatureMaps())
		if err := stream.Gemm(ml.NoTranspose, ml.NoTranspose, m, n, k, 1,
			weights, int(m), input, int(k), 0, output, int(m)); err != nil {
			return fmt.Errorf("matmul: %w", err)
		}
		return nil
	}

	if outputDims.Layout != dnn.BatchYXDepth && outputDims.FeatureMapCount != 1 {
		return invalidArgument("DoMatMul: output layout %s with %d feature maps needs BatchYXDepth", outputDims.Layout, outputDims.FeatureMapCount)
	}

	const elem = 4
	m := outputDims.FeatureMapCount
	n := inputDims.Count
	k := inputDims.NodesAcrossFeatureMaps()
	batch := outputDims.NodesPerFeatureMap()

	a := make([]ml.DeviceMemory, batch)
	b := make([]ml.DeviceMemory, batch)
	c := make([]ml.DeviceMemory, batch)
	for i := range batch {
		wOff := uint64(i*k*m) * elem
		a[i] = weights.Slice(wOff, weights.Size()-wOff)
		b[i] = input
		oOff := uint64(i*m) * elem
		c[i] = output.Slice(oOff, output.Size()-oOff)
	}

	ldc := int(outputDims.NodesAcrossFeatureMaps())
	if err := stream.GemmBatched(ml.NoTranspose, ml.NoTranspose, uint64(m), uint64(n), uint64(k), 1,
		a, int(m), b, int(k), 0, c, ldc); err != nil {
		return fmt.Errorf("matmul: %w", err)
	}
	return nil
}

// DoDepthConcatenate stacks the inputs along depth by staging them on the
// host. All inputs must be BatchDepthYX.
func (s *Support) DoDepthConcatenate(stream ml.Stream, inputDims []dnn.BatchDescriptor, inputData []ml.DeviceMemory, output ml.DeviceMemory) error {
	if len(inputDims) == 0 {
		return nil
	}
	if len(inputDims) != len(inputData) {
		return invalidArgument("DoDepthConcatenate: %d descriptors for %d inputs", len(inputDims), len(inputData))
	}
	for _, d := range inputDims {
		if d.Layout != dnn.BatchDepthYX {
			return invalidArgument("DoDepthConcatenate: unsupported layout %s", d.Layout)
		}
	}

	outDims, err := dnn.DepthConcatenateOutputDescriptor(inputDims)
	if err != nil {
		return fmt.Errorf("cldnn: %w", err)
	}
	for i, dims := range inputDims {
		if want := uint64(dims.ElementCount() * 4); inputData[i].Size() < want {
			return invalidArgument("DoDepthConcatenate: input %d holds %s, descriptor needs %s",
				i, format.HumanBytes2(inputData[i].Size()), format.HumanBytes2(want))
		}
	}
	if want := uint64(outDims.ElementCount() * 4); output.Size() < want {
		return invalidArgument("DoDepthConcatenate: output holds %s, descriptor needs %s",
			format.HumanBytes2(output.Size()), format.HumanBytes2(want))
	}

	out := make([]float32, outDims.ElementCount())
	area := outDims.NodesPerFeatureMap()
	outDepth := outDims.FeatureMapCount

	var depthSum int64
	for i, dims := range inputDims {
		raw := make([]byte, dims.ElementCount()*4)
		if err := stream.MemcpyD2H(raw, inputData[i]); err != nil {
			return fmt.Errorf("depth concatenate: could not read input %d: %w", i, err)
		}
		if err := stream.BlockHostUntilDone(); err != nil {
			return fmt.Errorf("depth concatenate: %w", err)
		}

		inDepth := dims.FeatureMapCount
		for b := range dims.Count {
			for d := range inDepth {
				for yx := range area {
					src := ((b*inDepth+d)*area + yx) * 4
					dst := (b*outDepth+d+depthSum)*area + yx
					out[dst] = math.Float32frombits(binary.NativeEndian.Uint32(raw[src:]))
				}
			}
		}
		depthSum += inDepth
	}

	raw := make([]byte, len(out)*4)
	for i, v := range out {
		binary.NativeEndian.PutUint32(raw[i*4:], math.Float32bits(v))
	}
	if err := stream.MemcpyH2D(output, raw); err != nil {
		return fmt.Errorf("depth concatenate: could not write output: %w", err)
	}
	return nil
}

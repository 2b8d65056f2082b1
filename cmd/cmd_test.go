package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clstream/cldnn/dnn"
)

// run executes the CLI with args and returns stdout split into TSV rows.
func run(t *testing.T, args ...string) ([][]string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	c := NewCLI()
	c.SetOut(&out)
	c.SetErr(&errOut)
	c.SetArgs(args)
	err := c.Execute()

	var rows [][]string
	for _, line := range strings.Split(strings.TrimRight(out.String(), "\n"), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rows = append(rows, strings.Split(line, "\t"))
	}
	return rows, err
}

func column(rows [][]string, i int) []string {
	var out []string
	for _, r := range rows[1:] {
		out = append(out, r[i])
	}
	return out
}

func TestInfo(t *testing.T) {
	rows, err := run(t, "info", "--backend-version", "7093", "--cc", "6.1")
	require.NoError(t, err)
	require.NotEmpty(t, rows)
	assert.Equal(t, []string{"PROPERTY", "VALUE"}, rows[0])

	props := map[string]string{}
	for _, r := range rows[1:] {
		props[r[0]] = r[1]
	}
	assert.Equal(t, "cuDNN", props["plugin"])
	assert.Equal(t, "7.0.93", props["backend version"])
	assert.Equal(t, "7000", props["compat version"])
	assert.Equal(t, "7088", props["built against"])
	assert.Equal(t, "6.1", props["compute capability"])
	assert.Contains(t, props, "tensor op math")
}

func TestInfoVersionMismatch(t *testing.T) {
	_, err := run(t, "info", "--backend-version", "6021")
	require.Error(t, err)
}

func TestAlgos(t *testing.T) {
	rows, err := run(t, "algos", "--direction", "backward-data", "--winograd-nonfused=false", "--cc", "6.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"DIRECTION", "ID", "ALGORITHM"}, rows[0])
	assert.Equal(t, []string{"algo_0", "algo_1", "fft", "fft_tiling"}, column(rows, 2))
	assert.Equal(t, []string{"0", "1", "2", "3"}, column(rows, 1))

	_, err = run(t, "algos", "--direction", "sideways")
	require.Error(t, err)
}

func TestAlgorithmName(t *testing.T) {
	fwd := directions[0]
	assert.Equal(t, "winograd_nonfused", fwd.algorithmName(dnn.AlgorithmDesc{ID: 7}))
	assert.Equal(t, "gemm+tensor_ops", fwd.algorithmName(dnn.AlgorithmDesc{ID: 2, TensorOps: true}))
	assert.Equal(t, "unknown(42)", fwd.algorithmName(dnn.AlgorithmDesc{ID: 42}))
}

func TestParseShape(t *testing.T) {
	s, err := parseShape("2x3x8x9:4x3x5")
	require.NoError(t, err)
	assert.Equal(t, convShape{n: 2, c: 3, h: 8, w: 9, k: 4, r: 3, s: 5}, s)
	assert.Equal(t, "2x3x8x9:4x3x5", s.String())
	assert.Equal(t, []int64{2, 4, 6, 5}, s.output().FullDims(dnn.BatchDepthYX))

	for _, bad := range []string{"2x3x8x9", "2x3x8:4x3x5", "2x3x8x9:4x3", "0x3x8x9:4x3x3", "1x1x2x2:1x3x3", "ax3x8x9:4x3x3"} {
		_, err := parseShape(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseComputeCapability(t *testing.T) {
	major, minor, err := parseComputeCapability("7.5")
	require.NoError(t, err)
	assert.Equal(t, 7, major)
	assert.Equal(t, 5, minor)

	for _, bad := range []string{"7", "x.5", "7.y"} {
		_, _, err := parseComputeCapability(bad)
		assert.Error(t, err, bad)
	}
}

func TestBench(t *testing.T) {
	rows, err := run(t, "bench", "1x1x4x4:2x2x2", "2x2x5x5:1x3x3", "--direction", "forward", "--iterations", "2", "--parallel", "2")
	require.NoError(t, err)
	assert.Equal(t, []string{"SHAPE", "DIRECTION", "ALGORITHM", "BEST (MS)", "MEAN (MS)", "SCRATCH", "STATUS"}, rows[0])

	status := map[string]string{}
	for _, r := range rows[1:] {
		require.Len(t, r, 7)
		assert.Equal(t, "forward", r[1])
		if r[0] == "1x1x4x4:2x2x2" {
			status[r[2]] = r[6]
		}
	}

	// The host backend implements the gemm family only.
	assert.Equal(t, "ok", status["implicit_gemm"])
	assert.Equal(t, "ok", status["implicit_precomp_gemm"])
	assert.Equal(t, "ok", status["gemm"])
	assert.Equal(t, "CUDNN_STATUS_NOT_SUPPORTED", status["fft"])
	assert.Equal(t, "CUDNN_STATUS_NOT_SUPPORTED", status["direct"])
}

func TestBenchWorkspaceLimit(t *testing.T) {
	rows, err := run(t, "bench", "1x1x4x4:1x2x2", "--direction", "backward-filter", "--iterations", "1", "--workspace-limit", "0")
	require.NoError(t, err)

	for _, r := range rows[1:] {
		if r[2] == "algo_1" {
			assert.Equal(t, "ok", r[6], "falls back to a scratch-free algorithm")
			assert.Equal(t, "0 B", r[5])
		}
	}
}

func TestBenchRejectsShape(t *testing.T) {
	_, err := run(t, "bench", "1x1x4x4")
	require.Error(t, err)
}

func TestRnnLayout(t *testing.T) {
	rows, err := run(t, "rnn-layout", "--mode", "lstm", "--hidden", "2", "--input", "3")
	require.NoError(t, err)
	assert.Equal(t, []string{"KIND", "LAYER", "REGION", "OFFSET", "SIZE"}, rows[0])
	require.Len(t, rows, 1+16)

	assert.Equal(t, []string{"weight", "0", "4", "96", "16"}, rows[5])
	assert.Equal(t, []string{"bias", "0", "7", "216", "8"}, rows[16])
}

func TestRnnLayoutRejectsFlags(t *testing.T) {
	_, err := run(t, "rnn-layout", "--mode", "elman")
	require.Error(t, err)

	_, err = run(t, "rnn-layout", "--dtype", "int8")
	require.Error(t, err)
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	c := NewCLI()
	c.SetOut(&out)
	c.SetArgs([]string{"--version"})
	require.NoError(t, c.Execute())
	assert.Equal(t, "cldnn built against backend version 7.0.88\n", out.String())
}

func TestEnvDocs(t *testing.T) {
	c := NewCLI()
	for _, sub := range c.Commands() {
		assert.Contains(t, sub.UsageTemplate(), "Environment Variables:", sub.Name())
	}
}

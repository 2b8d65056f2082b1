// cmd_bench.go - Bench Command
// Hauptfunktionen: BenchHandler, Profiling-Lauf je Form und Algorithmus
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/envconfig"
	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml"
	"github.com/clstream/cldnn/ml/backend/host"
)

// noScratch ist in allen Richtungen ein Algorithmus ohne Scratch-Speicher
var noScratch = dnn.AlgorithmDesc{ID: 0}

var defaultShapes = []string{"1x3x16x16:8x3x3", "2x8x8x8:16x3x3", "1x4x12x12:4x5x5"}

// convShape - Eingabe NxCxHxW und Filter KxRxS ohne Padding, Schrittweite 1
type convShape struct {
	n, c, h, w int64
	k, r, s    int64
}

func (s convShape) String() string {
	return fmt.Sprintf("%dx%dx%dx%d:%dx%dx%d", s.n, s.c, s.h, s.w, s.k, s.r, s.s)
}

// parseShape - Liest "NxCxHxW:KxRxS"
func parseShape(arg string) (convShape, error) {
	in, filter, ok := strings.Cut(arg, ":")
	if !ok {
		return convShape{}, fmt.Errorf("invalid shape %q: want NxCxHxW:KxRxS", arg)
	}

	dims := func(s string, n int) ([]int64, error) {
		parts := strings.Split(s, "x")
		if len(parts) != n {
			return nil, fmt.Errorf("invalid shape %q: %q needs %d dimensions", arg, s, n)
		}
		out := make([]int64, n)
		for i, p := range parts {
			v, err := strconv.ParseInt(p, 10, 64)
			if err != nil || v <= 0 {
				return nil, fmt.Errorf("invalid shape %q: dimension %q must be a positive integer", arg, p)
			}
			out[i] = v
		}
		return out, nil
	}

	x, err := dims(in, 4)
	if err != nil {
		return convShape{}, err
	}
	f, err := dims(filter, 3)
	if err != nil {
		return convShape{}, err
	}

	s := convShape{n: x[0], c: x[1], h: x[2], w: x[3], k: f[0], r: f[1], s: f[2]}
	if s.r > s.h || s.s > s.w {
		return convShape{}, fmt.Errorf("invalid shape %q: filter larger than input", arg)
	}
	return s, nil
}

func (s convShape) input() dnn.BatchDescriptor {
	return dnn.NewBatchDescriptor2D(s.n, s.c, s.h, s.w, dnn.BatchDepthYX)
}

func (s convShape) filter() dnn.FilterDescriptor {
	return dnn.NewFilterDescriptor2D(s.k, s.c, s.r, s.s)
}

func (s convShape) output() dnn.BatchDescriptor {
	return dnn.NewBatchDescriptor2D(s.n, s.k, s.h-s.r+1, s.w-s.s+1, dnn.BatchDepthYX)
}

// =============================================================================
// Puffer
// =============================================================================

// benchBuffers - Geraetespeicher einer Form
type benchBuffers struct {
	x, w, y    ml.DeviceMemory
	dy, dx, dw ml.DeviceMemory
}

// fill - Allokiert n Elemente und fuellt sie mit Werten aus [-1, 1)
func fill(dev *host.Device, dt dnn.DataType, n int64, rng *rand.Rand) (ml.DeviceMemory, error) {
	vals := make([]float32, n)
	for i := range vals {
		vals[i] = rng.Float32()*2 - 1
	}
	m, err := dev.Allocate(uint64(n) * uint64(dt.Size()))
	if err != nil {
		return ml.DeviceMemory{}, err
	}
	if dt == dnn.Half {
		err = dev.WriteHalf(m, vals)
	} else {
		err = dev.WriteFloat32(m, vals)
	}
	return m, err
}

func newBenchBuffers(dev *host.Device, dt dnn.DataType, s convShape, seed uint64) (*benchBuffers, error) {
	rng := rand.New(rand.NewPCG(seed, 0))
	sizes := []int64{s.input().ElementCount(), s.filter().WeightCount(), s.output().ElementCount()}

	b := &benchBuffers{}
	for i, dst := range []*ml.DeviceMemory{&b.x, &b.w, &b.y, &b.dy, &b.dx, &b.dw} {
		m, err := fill(dev, dt, sizes[[]int{0, 1, 2, 2, 0, 1}[i]], rng)
		if err != nil {
			b.free(dev)
			return nil, fmt.Errorf("allocate buffers for %s: %w", s, err)
		}
		*dst = m
	}
	return b, nil
}

func (b *benchBuffers) free(dev *host.Device) {
	for _, m := range []ml.DeviceMemory{b.x, b.w, b.y, b.dy, b.dx, b.dw} {
		dev.Free(m)
	}
}

// =============================================================================
// Profiling
// =============================================================================

// benchRun - Fuehrt einen Algorithmus einer Richtung einmal aus
type benchRun func(stream ml.Stream, alloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profile *dnn.ProfileResult) error

func benchRuns(s dnn.Support, dt dnn.DataType, shape convShape, buf *benchBuffers) map[string]benchRun {
	conv := dnn.NewConvolutionDescriptor(2)
	return map[string]benchRun{
		"forward": func(stream ml.Stream, alloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profile *dnn.ProfileResult) error {
			args := dnn.ConvolveArgs{
				Input: shape.input(), InputData: buf.x,
				Filter: shape.filter(), FilterData: buf.w,
				Convolution: conv,
				Output:      shape.output(), OutputData: buf.y,
			}
			return s.DoConvolve(stream, dt, args, alloc, cfg, profile)
		},
		"backward-data": func(stream ml.Stream, alloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profile *dnn.ProfileResult) error {
			args := &dnn.ConvolveBackwardDataArgs{
				Filter: shape.filter(), FilterData: buf.w,
				Output: shape.output(), BackpropOutput: buf.dy,
				Convolution: conv,
				Input:       shape.input(), BackpropInput: buf.dx,
			}
			return s.DoConvolveBackwardData(stream, dt, args, alloc, cfg, profile)
		},
		"backward-filter": func(stream ml.Stream, alloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profile *dnn.ProfileResult) error {
			args := &dnn.ConvolveBackwardFilterArgs{
				Input: shape.input(), InputData: buf.x,
				Output: shape.output(), BackpropOutput: buf.dy,
				Convolution: conv,
				Filter:      shape.filter(), BackpropFilter: buf.dw,
			}
			return s.DoConvolveBackwardFilter(stream, dt, args, alloc, cfg, profile)
		},
	}
}

// benchResult - Messung eines Algorithmus
type benchResult struct {
	shape     convShape
	direction string
	algorithm string
	best      float32
	mean      float32
	scratch   uint64
	err       error
}

func (r benchResult) row() []string {
	if r.err != nil {
		status := r.err.Error()
		if se := (*cdnn.StatusError)(nil); errors.As(r.err, &se) {
			status = se.Status.String()
		}
		return []string{r.shape.String(), r.direction, r.algorithm, "-", "-", "-", status}
	}
	return []string{
		r.shape.String(), r.direction, r.algorithm,
		strconv.FormatFloat(float64(r.best), 'f', 3, 32),
		strconv.FormatFloat(float64(r.mean), 'f', 3, 32),
		format.HumanBytes2(r.scratch), "ok",
	}
}

// benchOptions - Parameter eines Laufs
type benchOptions struct {
	dt         dnn.DataType
	iterations int
	limit      int64
	dirs       []direction
	winograd   bool
}

// profileShape - Misst alle Kandidaten aller Richtungen fuer eine Form
func profileShape(ctx context.Context, b *backend, shape convShape, seed uint64, opts benchOptions) ([]benchResult, error) {
	buf, err := newBenchBuffers(b.dev, opts.dt, shape, seed)
	if err != nil {
		return nil, err
	}
	defer buf.free(b.dev)

	stream := b.dev.NewStream()
	runs := benchRuns(b.support, opts.dt, shape, buf)
	major, minor := b.computeCapability()

	var results []benchResult
	for _, d := range opts.dirs {
		run := runs[d.name]
		for _, alg := range d.list(b.support, opts.winograd, major, minor) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			res := benchResult{shape: shape, direction: d.name, algorithm: d.algorithmName(alg), best: math.MaxFloat32}
			var total float32
			for range opts.iterations {
				alloc := host.NewScratchAllocator(b.dev, opts.limit)
				var profile dnn.ProfileResult
				err := run(stream, alloc, dnn.NewAlgorithmConfig(alg, noScratch), &profile)
				alloc.Release()
				if err != nil {
					res.err = err
					break
				}
				total += profile.ElapsedMilliseconds
				res.best = min(res.best, profile.ElapsedMilliseconds)
				res.scratch = profile.ScratchSize
			}
			if res.err == nil {
				res.mean = total / float32(opts.iterations)
			}
			slog.Debug("profiled", "shape", shape, "direction", d.name, "algorithm", res.algorithm, "error", res.err)
			results = append(results, res)
		}
	}
	return results, nil
}

// BenchHandler - Profiliert alle Algorithmen fuer die angegebenen Formen.
// Formen laufen parallel auf eigenen Streams.
func BenchHandler(cmd *cobra.Command, args []string) error {
	names := args
	if len(names) == 0 {
		names = defaultShapes
	}
	shapes := make([]convShape, len(names))
	for i, name := range names {
		s, err := parseShape(name)
		if err != nil {
			return err
		}
		shapes[i] = s
	}

	opts := benchOptions{dt: dnn.Float, iterations: int(envconfig.BenchIterations())}
	if half, _ := cmd.Flags().GetBool("half"); half {
		opts.dt = dnn.Half
	}
	if n, _ := cmd.Flags().GetInt("iterations"); n > 0 {
		opts.iterations = n
	}
	if opts.iterations <= 0 {
		opts.iterations = 1
	}
	limit, _ := cmd.Flags().GetInt64("workspace-limit")
	if limit >= 0 {
		limit <<= 20
	}
	opts.limit = limit

	name, _ := cmd.Flags().GetString("direction")
	dirs, err := selectDirections(name)
	if err != nil {
		return err
	}
	opts.dirs = dirs

	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()
	opts.winograd = b.support.Flags().WinogradNonfused

	parallel, _ := cmd.Flags().GetInt("parallel")
	g, ctx := errgroup.WithContext(cmd.Context())
	if parallel > 0 {
		g.SetLimit(parallel)
	}

	results := make([][]benchResult, len(shapes))
	for i, shape := range shapes {
		g.Go(func() error {
			r, err := profileShape(ctx, b, shape, uint64(i), opts)
			if err != nil {
				return fmt.Errorf("bench %s: %w", shape, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var data [][]string
	for _, rs := range results {
		for _, r := range rs {
			data = append(data, r.row())
		}
	}
	renderTable(cmd.OutOrStdout(), []string{"SHAPE", "DIRECTION", "ALGORITHM", "BEST (MS)", "MEAN (MS)", "SCRATCH", "STATUS"}, data)
	return nil
}

// newBenchCmd - Erstellt den bench Command
func newBenchCmd() *cobra.Command {
	benchCmd := &cobra.Command{
		Use:   "bench [SHAPE...]",
		Short: "Profile convolution algorithms",
		Long: `Profile every candidate convolution algorithm on the host backend.

A shape is NxCxHxW:KxRxS: batch, channels, height and width of the input,
then output channels, height and width of the filter.`,
		Example: "  cldnn bench 1x3x32x32:16x3x3 --direction forward",
		RunE:    BenchHandler,
	}

	benchCmd.Flags().String("direction", "all", "Convolution direction: forward, backward-data, backward-filter or all")
	benchCmd.Flags().Int("iterations", 0, "Timed iterations per algorithm (default: CLDNN_BENCH_ITERATIONS)")
	benchCmd.Flags().Int64("workspace-limit", -1, "Scratch memory limit in MiB, negative for unlimited")
	benchCmd.Flags().Int("parallel", 0, "Shapes profiled concurrently (0 = all)")
	benchCmd.Flags().Bool("half", false, "Profile half precision instead of float")

	return benchCmd
}

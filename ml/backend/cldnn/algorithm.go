// algorithm.go - Algorithmus-Auswahl und Workspace-Allokation fuer Faltungen
// Enthält: convAlgorithms, selectAlgorithm(), profiler, Algorithmus-Listen
//
// Ohne fest gewaehlten Algorithmus entscheidet die Heuristik des Backends
// innerhalb des Speicherlimits des Allokators. Ein fest gewaehlter
// Algorithmus faellt bei fehlgeschlagener Allokation auf den Algorithmus
// ohne Workspace zurueck.

package cldnn

import (
	"fmt"
	"log/slog"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml"
)

// convAlgorithms bindet Heuristik und Workspace-Abfrage einer Richtung
type convAlgorithms struct {
	direction string
	heuristic func(pref cdnn.Preference, limit uint64) (int64, cdnn.Status)
	workspace func(algo int64) (uint64, cdnn.Status)
}

// selectAlgorithm picks the algorithm and allocates its workspace. It must
// run under the adapter mutex.
func (s *Support) selectAlgorithm(stream ml.Stream, ops convAlgorithms, alloc ml.ScratchAllocator, cfg dnn.AlgorithmConfig, profiling bool) (dnn.AlgorithmDesc, ml.DeviceMemory, error) {
	if cfg.Algorithm.IsDefault() {
		return s.heuristicAlgorithm(stream, ops, alloc, cfg.Algorithm.TensorOps)
	}

	alg := cfg.Algorithm
	size, st := ops.workspace(alg.ID)
	if err := st.Err("GetConvolution" + ops.direction + "WorkspaceSize"); err != nil {
		if profiling {
			slog.Debug("algorithm cannot be sized, skipping", "direction", ops.direction, "algorithm", alg, "error", err)
			return alg, ml.DeviceMemory{}, err
		}
		fatal("could not get %s workspace size for algorithm %s: %v", ops.direction, alg, err)
	}

	if size == 0 {
		return alg, ml.DeviceMemory{}, nil
	}

	if alloc == nil {
		fatal("no scratch allocator provided for %s algorithm %s needing %s", ops.direction, alg, format.HumanBytes2(size))
	}

	scratch, err := alloc.AllocateBytes(stream, size)
	if err == nil {
		return alg, scratch, nil
	}

	if profiling {
		return alg, ml.DeviceMemory{}, fmt.Errorf("could not allocate %s workspace for algorithm %s: %w", format.HumanBytes2(size), alg, err)
	}
	if cfg.AlgorithmNoScratch.IsDefault() {
		fatal("%s algorithm %s failed to allocate %s of workspace and no fallback algorithm is configured: %v",
			ops.direction, alg, format.HumanBytes2(size), err)
	}

	slog.Debug("workspace allocation failed, using fallback algorithm",
		"direction", ops.direction, "algorithm", alg, "fallback", cfg.AlgorithmNoScratch, "size", format.HumanBytes2(size))
	return cfg.AlgorithmNoScratch, ml.DeviceMemory{}, nil
}

// heuristicAlgorithm asks the backend for the best algorithm that fits the
// allocator's limit. When the pick cannot be sized or its workspace is not
// allocated it asks again for an algorithm without workspace. Without an
// allocator only the second query runs.
func (s *Support) heuristicAlgorithm(stream ml.Stream, ops convAlgorithms, alloc ml.ScratchAllocator, tensorOps bool) (dnn.AlgorithmDesc, ml.DeviceMemory, error) {
	if alloc != nil {
		limit := max(alloc.MemoryLimitInBytes(stream), 0)
		id, st := ops.heuristic(cdnn.SpecifyWorkspaceLimit, uint64(limit))
		if err := st.Err("GetConvolution" + ops.direction + "Algorithm"); err != nil {
			fatal("unable to find a suitable %s algorithm: %v", ops.direction, err)
		}
		alg := dnn.AlgorithmDesc{ID: id, TensorOps: tensorOps}

		size, st := ops.workspace(id)
		switch err := st.Err("GetConvolution" + ops.direction + "WorkspaceSize"); {
		case err != nil:
			slog.Debug("workspace size unavailable, asking for an algorithm without workspace",
				"direction", ops.direction, "algorithm", id, "error", err)
		case size == 0:
			return alg, ml.DeviceMemory{}, nil
		default:
			scratch, err := alloc.AllocateBytes(stream, size)
			if err == nil {
				return alg, scratch, nil
			}
			slog.Debug("workspace allocation failed, asking for an algorithm without workspace",
				"direction", ops.direction, "algorithm", id, "size", format.HumanBytes2(size), "error", err)
		}
	}

	id, st := ops.heuristic(cdnn.NoWorkspace, 0)
	if err := st.Err("GetConvolution" + ops.direction + "Algorithm"); err != nil {
		fatal("unable to find a suitable %s algorithm without workspace: %v", ops.direction, err)
	}
	return dnn.AlgorithmDesc{ID: id, TensorOps: tensorOps}, ml.DeviceMemory{}, nil
}

// =============================================================================
// Profiling
// =============================================================================

// profiler times one backend call when a result is requested.
type profiler struct {
	stream ml.Stream
	result *dnn.ProfileResult
	timer  ml.Timer
}

func startProfiler(stream ml.Stream, result *dnn.ProfileResult) (*profiler, error) {
	p := &profiler{stream: stream, result: result}
	if result == nil {
		return p, nil
	}

	t, err := stream.NewTimer()
	if err != nil {
		return nil, fmt.Errorf("could not create timer: %w", err)
	}
	if err := t.Start(stream); err != nil {
		t.Close()
		return nil, fmt.Errorf("could not start timer: %w", err)
	}
	p.timer = t
	return p, nil
}

// stop records alg and scratch in the result.
func (p *profiler) stop(alg dnn.AlgorithmDesc, scratch ml.DeviceMemory) error {
	if p.timer == nil {
		return nil
	}
	defer p.timer.Close()

	if err := p.timer.Stop(p.stream); err != nil {
		return fmt.Errorf("could not stop timer: %w", err)
	}
	p.result.Record(alg, p.timer.ElapsedMilliseconds(), scratch.Size())
	return nil
}

// close releases the timer when the call failed before stop.
func (p *profiler) close() {
	if p.timer != nil {
		p.timer.Close()
		p.timer = nil
	}
}

// =============================================================================
// Algorithmus-Listen
// =============================================================================

// withTensorOps adds a tensor-op variant of every algorithm on devices that
// support it.
func (s *Support) withTensorOps(ids []int64, ccMajor int) []dnn.AlgorithmDesc {
	flags := s.Flags()
	out := make([]dnn.AlgorithmDesc, 0, 2*len(ids))
	for _, id := range ids {
		out = append(out, dnn.AlgorithmDesc{ID: id})
		if ccMajor >= 7 && flags.TensorOpMath {
			out = append(out, dnn.AlgorithmDesc{ID: id, TensorOps: true})
		}
	}
	return out
}

// GetConvolveAlgorithms lists the forward algorithms worth profiling.
func (s *Support) GetConvolveAlgorithms(withWinogradNonfused bool, ccMajor, ccMinor int) []dnn.AlgorithmDesc {
	ids := []int64{
		int64(cdnn.FwdAlgoImplicitGemm),
		int64(cdnn.FwdAlgoImplicitPrecompGemm),
		int64(cdnn.FwdAlgoGemm),
		int64(cdnn.FwdAlgoDirect),
		int64(cdnn.FwdAlgoFFT),
		int64(cdnn.FwdAlgoWinograd),
	}
	flags := s.Flags()
	if flags.FftTilingForward {
		ids = append(ids, int64(cdnn.FwdAlgoFFTTiling))
	}
	if withWinogradNonfused && flags.WinogradNonfused {
		ids = append(ids, int64(cdnn.FwdAlgoWinogradNonfused))
	}
	return s.withTensorOps(ids, ccMajor)
}

// GetConvolveBackwardDataAlgorithms lists the backward data algorithms.
func (s *Support) GetConvolveBackwardDataAlgorithms(withWinogradNonfused bool, ccMajor, ccMinor int) []dnn.AlgorithmDesc {
	ids := []int64{
		int64(cdnn.BwdDataAlgo0),
		int64(cdnn.BwdDataAlgo1),
		int64(cdnn.BwdDataAlgoFFT),
		int64(cdnn.BwdDataAlgoFFTTiling),
	}
	if withWinogradNonfused && s.Flags().WinogradNonfused {
		ids = append(ids, int64(cdnn.BwdDataAlgoWinogradNonfused))
	}
	return s.withTensorOps(ids, ccMajor)
}

// GetConvolveBackwardFilterAlgorithms lists the backward filter algorithms.
func (s *Support) GetConvolveBackwardFilterAlgorithms(withWinogradNonfused bool, ccMajor, ccMinor int) []dnn.AlgorithmDesc {
	ids := []int64{
		int64(cdnn.BwdFilterAlgo0),
		int64(cdnn.BwdFilterAlgo1),
		int64(cdnn.BwdFilterAlgoFFT),
		int64(cdnn.BwdFilterAlgo3),
	}
	if withWinogradNonfused && s.Flags().WinogradNonfused {
		ids = append(ids, int64(cdnn.BwdFilterAlgoWinogradNonfused))
	}
	return s.withTensorOps(ids, ccMajor)
}

// algorithm.go - Algorithmus-Auswahl und Profiling-Ergebnisse
package dnn

import (
	"fmt"
	"math"
)

// AlgorithmDesc names one backend algorithm. TensorOps requests
// reduced-precision tensor-op accumulation.
type AlgorithmDesc struct {
	ID        int64
	TensorOps bool
}

// DefaultAlgorithm asks the backend heuristic to choose.
var DefaultAlgorithm = AlgorithmDesc{ID: -1}

func (a AlgorithmDesc) IsDefault() bool { return a.ID == DefaultAlgorithm.ID }

func (a AlgorithmDesc) String() string {
	if a.IsDefault() {
		return "default"
	}
	if a.TensorOps {
		return fmt.Sprintf("%d+tensor_ops", a.ID)
	}
	return fmt.Sprint(a.ID)
}

// AlgorithmConfig pins an algorithm and optionally a fallback that needs
// no scratch memory.
type AlgorithmConfig struct {
	Algorithm          AlgorithmDesc
	AlgorithmNoScratch AlgorithmDesc
}

// DefaultAlgorithmConfig leaves both choices to the backend.
func DefaultAlgorithmConfig() AlgorithmConfig {
	return AlgorithmConfig{Algorithm: DefaultAlgorithm, AlgorithmNoScratch: DefaultAlgorithm}
}

// NewAlgorithmConfig pins primary with fallback noScratch.
func NewAlgorithmConfig(primary, noScratch AlgorithmDesc) AlgorithmConfig {
	return AlgorithmConfig{Algorithm: primary, AlgorithmNoScratch: noScratch}
}

func (c AlgorithmConfig) String() string {
	return fmt.Sprintf("{algorithm: %s no_scratch: %s}", c.Algorithm, c.AlgorithmNoScratch)
}

// ProfileResult receives the timing of one profiled primitive call.
type ProfileResult struct {
	Algorithm           AlgorithmDesc
	ElapsedMilliseconds float32
	ScratchSize         uint64

	recorded bool
}

// Record stores the outcome of a profiled call.
func (p *ProfileResult) Record(alg AlgorithmDesc, elapsed float32, scratch uint64) {
	p.Algorithm = alg
	p.ElapsedMilliseconds = elapsed
	p.ScratchSize = scratch
	p.recorded = true
}

// IsValid reports whether a call recorded a usable timing.
func (p *ProfileResult) IsValid() bool {
	return p.recorded && !p.Algorithm.IsDefault() && p.ElapsedMilliseconds != math.MaxFloat32
}

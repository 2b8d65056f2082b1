// blas.go - Spaltenorientiertes GEMM ueber gonum
//
// gonum rechnet zeilenorientiert. Eine spaltenorientierte m×n Matrix C ist
// zeilenorientiert gelesen C^T, daher wird C^T = op(B)^T · op(A)^T berechnet.

package host

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/gonum"

	"github.com/clstream/cldnn/ml"
)

var impl gonum.Implementation

func toBlas(t ml.Transpose) blas.Transpose {
	switch t {
	case ml.Trans:
		return blas.Trans
	case ml.ConjugateTranspose:
		return blas.ConjTrans
	default:
		return blas.NoTrans
	}
}

// SgemmColMajor runs C = alpha·op(A)·op(B) + beta·C on column-major host
// slices.
func SgemmColMajor(transA, transB ml.Transpose, m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	if m == 0 || n == 0 {
		return
	}
	impl.Sgemm(toBlas(transB), toBlas(transA), n, m, k, alpha, b, ldb, a, lda, beta, c, ldc)
}

func (s *Stream) floats(m ml.DeviceMemory, what string) ([]float32, error) {
	b, err := s.dev.Bytes(m.Opaque(), m.Size())
	if err != nil {
		return nil, fmt.Errorf("gemm %s: %w", what, err)
	}
	return Float32View(b), nil
}

func (s *Stream) Gemm(transA, transB ml.Transpose, m, n, k uint64, alpha float32,
	a ml.DeviceMemory, lda int, b ml.DeviceMemory, ldb int,
	beta float32, c ml.DeviceMemory, ldc int,
) (err error) {
	av, err := s.floats(a, "A")
	if err != nil {
		return err
	}
	bv, err := s.floats(b, "B")
	if err != nil {
		return err
	}
	cv, err := s.floats(c, "C")
	if err != nil {
		return err
	}

	// gonum panics on inconsistent shapes; report them as errors instead
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gemm: %v", r)
		}
	}()
	SgemmColMajor(transA, transB, int(m), int(n), int(k), alpha, av, lda, bv, ldb, beta, cv, ldc)
	return err
}

func (s *Stream) GemmBatched(transA, transB ml.Transpose, m, n, k uint64, alpha float32,
	a []ml.DeviceMemory, lda int, b []ml.DeviceMemory, ldb int,
	beta float32, c []ml.DeviceMemory, ldc int,
) error {
	if len(a) != len(b) || len(a) != len(c) {
		return fmt.Errorf("gemm batched: batch sizes differ: %d, %d, %d", len(a), len(b), len(c))
	}
	for i := range a {
		if err := s.Gemm(transA, transB, m, n, k, alpha, a[i], lda, b[i], ldb, beta, c[i], ldc); err != nil {
			return fmt.Errorf("gemm batched %d: %w", i, err)
		}
	}
	return nil
}

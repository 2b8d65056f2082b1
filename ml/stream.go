// stream.go - Stream-, Timer- und BLAS-Schnittstellen
// Dieses Modul definiert die Ausfuehrungs-Queue, gegen die Backend-Aufrufe laufen.
package ml

// Stream sequences work on one device. Operations may complete
// asynchronously; BlockHostUntilDone waits for everything enqueued so far.
type Stream interface {
	// Native returns the handle the backend library binds to.
	Native() uintptr

	MemcpyD2D(dst, src DeviceMemory, size uint64) error
	MemcpyD2H(dst []byte, src DeviceMemory) error
	MemcpyH2D(dst DeviceMemory, src []byte) error
	MemZero(dst DeviceMemory, size uint64) error

	BlockHostUntilDone() error

	// AllocateTemporary returns memory that lives until Release.
	AllocateTemporary(size uint64) (TemporaryMemory, error)

	// NewTimer creates a timer that measures work on this stream.
	NewTimer() (Timer, error)

	BLAS
}

// BLAS is the subset of level 3 BLAS the DNN layer needs. Matrices are
// column-major, element type float32.
type BLAS interface {
	Gemm(transA, transB Transpose, m, n, k uint64, alpha float32,
		a DeviceMemory, lda int, b DeviceMemory, ldb int,
		beta float32, c DeviceMemory, ldc int) error

	GemmBatched(transA, transB Transpose, m, n, k uint64, alpha float32,
		a []DeviceMemory, lda int, b []DeviceMemory, ldb int,
		beta float32, c []DeviceMemory, ldc int) error
}

// TemporaryMemory is stream-scoped scratch memory.
type TemporaryMemory interface {
	Memory() DeviceMemory
	Release()
}

// Timer measures elapsed time between Start and Stop on a stream.
type Timer interface {
	Start(s Stream) error
	Stop(s Stream) error
	ElapsedMilliseconds() float32
	Close()
}

// stream.go - Host-Stream: synchrone Ausfuehrung, Kopien, Timer
// Enthält: Stream, Timer, temporaerer Speicher

package host

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/clstream/cldnn/ml"
)

var streamIDs atomic.Uintptr

// Stream executes every operation synchronously on the calling goroutine.
type Stream struct {
	dev *Device
	id  uintptr
}

// NewStream creates a stream on d. Native handles are unique per process.
func (d *Device) NewStream() *Stream {
	return &Stream{dev: d, id: streamIDs.Add(1)}
}

// Device returns the device the stream runs on.
func (s *Stream) Device() *Device { return s.dev }

func (s *Stream) Native() uintptr { return s.id }

func (s *Stream) MemcpyD2D(dst, src ml.DeviceMemory, size uint64) error {
	from, err := s.dev.Bytes(src.Opaque(), size)
	if err != nil {
		return fmt.Errorf("memcpy d2d source: %w", err)
	}
	to, err := s.dev.Bytes(dst.Opaque(), size)
	if err != nil {
		return fmt.Errorf("memcpy d2d destination: %w", err)
	}
	copy(to, from)
	return nil
}

func (s *Stream) MemcpyD2H(dst []byte, src ml.DeviceMemory) error {
	from, err := s.dev.Bytes(src.Opaque(), uint64(len(dst)))
	if err != nil {
		return fmt.Errorf("memcpy d2h: %w", err)
	}
	copy(dst, from)
	return nil
}

func (s *Stream) MemcpyH2D(dst ml.DeviceMemory, src []byte) error {
	to, err := s.dev.Bytes(dst.Opaque(), uint64(len(src)))
	if err != nil {
		return fmt.Errorf("memcpy h2d: %w", err)
	}
	copy(to, src)
	return nil
}

func (s *Stream) MemZero(dst ml.DeviceMemory, size uint64) error {
	to, err := s.dev.Bytes(dst.Opaque(), size)
	if err != nil {
		return fmt.Errorf("memzero: %w", err)
	}
	clear(to)
	return nil
}

// BlockHostUntilDone returns immediately, host work is already complete.
func (s *Stream) BlockHostUntilDone() error { return nil }

func (s *Stream) AllocateTemporary(size uint64) (ml.TemporaryMemory, error) {
	m, err := s.dev.Allocate(size)
	if err != nil {
		return nil, err
	}
	return &temporary{dev: s.dev, mem: m}, nil
}

func (s *Stream) NewTimer() (ml.Timer, error) {
	return &Timer{}, nil
}

type temporary struct {
	dev *Device
	mem ml.DeviceMemory
}

func (t *temporary) Memory() ml.DeviceMemory { return t.mem }

func (t *temporary) Release() {
	t.dev.Free(t.mem)
	t.mem = ml.DeviceMemory{}
}

// =============================================================================
// Timer
// =============================================================================

// Timer measures wall time, which equals stream time on a synchronous stream.
type Timer struct {
	start, stop time.Time
}

func (t *Timer) Start(ml.Stream) error {
	t.start = time.Now()
	return nil
}

func (t *Timer) Stop(ml.Stream) error {
	if t.start.IsZero() {
		return fmt.Errorf("host: timer stopped before start")
	}
	t.stop = time.Now()
	return nil
}

func (t *Timer) ElapsedMilliseconds() float32 {
	return float32(t.stop.Sub(t.start).Seconds() * 1000)
}

func (t *Timer) Close() {}

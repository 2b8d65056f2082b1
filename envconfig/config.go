// config.go - Haupt-Konfigurationsfunktionen fuer cldnn
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (CLDNN_DEBUG)
// - Var: Liest eine Environment-Variable bereinigt
// - Flags: Schnappschuss aller Feature-Flags fuer den DNN-Adapter
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags des Backends
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via CLDNN_DEBUG
// 1/true = Debug, 2 = Trace, sonst Info
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("CLDNN_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// =============================================================================
// Flags-Schnappschuss
// =============================================================================

// Flags is the immutable set of backend feature switches handed to the
// DNN adapter at construction time.
type Flags struct {
	// TensorOpMath allows convolutions to run with reduced-precision
	// tensor-op accumulation when the algorithm asks for it.
	TensorOpMath bool

	// RnnTensorOpMath is the same switch for recurrent cells.
	RnnTensorOpMath bool

	// FftTilingForward adds the FFT tiling forward algorithm to the
	// candidate list.
	FftTilingForward bool

	// WinogradNonfused adds the non-fused Winograd algorithms.
	WinogradNonfused bool

	// FP16ConvUseFP32Compute makes half-precision forward convolutions
	// accumulate in fp32.
	FP16ConvUseFP32Compute bool
}

// LoadFlags resolves every feature flag for a backend reporting the given
// runtime version. Environment lookups are cached for the process lifetime.
func LoadFlags(backendVersion uint64) Flags {
	return Flags{
		TensorOpMath:           TensorOpMath(),
		RnnTensorOpMath:        RnnTensorOpMath(),
		FftTilingForward:       FftTilingForward(backendVersion),
		WinogradNonfused:       WinogradNonfused(),
		FP16ConvUseFP32Compute: FP16ConvUseFP32Compute(),
	}
}

// String formats the flags for log lines.
func (f Flags) String() string {
	return fmt.Sprintf("tensor_op_math=%t rnn_tensor_op_math=%t fft_tiling_forward=%t winograd_nonfused=%t fp16_conv_fp32_compute=%t",
		f.TensorOpMath, f.RnnTensorOpMath, f.FftTilingForward, f.WinogradNonfused, f.FP16ConvUseFP32Compute)
}

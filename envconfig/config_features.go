// config_features.go - Feature-Flags des DNN-Backends
//
// Dieses Modul enthaelt:
// - Feature: Parser im Stil der TF_* Variablen ("0" = aus, alles andere = an)
// - Gecachte Flags fuer Tensor-Op-Math, FFT-Tiling, Winograd, FP16-Compute
package envconfig

import "sync"

// Feature gibt eine Funktion zurueck, die ein Feature-Flag liest.
// Ein gesetzter Wert "0" schaltet ab, jeder andere gesetzte Wert schaltet an.
// Ist die Variable nicht gesetzt, gilt der Default.
func Feature(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s, ok := lookup(k); ok {
			return s != "0"
		}
		return defaultValue
	}
}

// minFftTilingVersion ist die erste Backend-Version mit FFT-Tiling vorwaerts.
const minFftTilingVersion = 7000

// =============================================================================
// Gecachte Feature-Flags
// =============================================================================

var (
	// TensorOpMath ist an, solange TF_DISABLE_CUDNN_TENSOR_OP_MATH nicht gesetzt ist
	TensorOpMath = sync.OnceValue(func() bool {
		return !Feature("TF_DISABLE_CUDNN_TENSOR_OP_MATH")(false)
	})

	// RnnTensorOpMath ist an, solange TF_DISABLE_CUDNN_RNN_TENSOR_OP_MATH nicht gesetzt ist
	RnnTensorOpMath = sync.OnceValue(func() bool {
		return !Feature("TF_DISABLE_CUDNN_RNN_TENSOR_OP_MATH")(false)
	})

	// WinogradNonfused aktiviert Winograd ohne Fusion (Default: an)
	WinogradNonfused = sync.OnceValue(func() bool {
		return Feature("TF_ENABLE_WINOGRAD_NONFUSED")(true)
	})

	// FP16ConvUseFP32Compute laesst FP16-Faltungen in FP32 akkumulieren (Default: an)
	FP16ConvUseFP32Compute = sync.OnceValue(func() bool {
		return Feature("TF_FP16_CONV_USE_FP32_COMPUTE")(true)
	})

	fftTilingForward = sync.OnceValues(func() (bool, bool) {
		s, ok := lookup("TF_ENABLE_FFT_TILING_FORWARD")
		return s != "0", ok
	})
)

// FftTilingForward aktiviert FFT-Tiling vorwaerts.
// Ohne TF_ENABLE_FFT_TILING_FORWARD entscheidet die Backend-Version.
func FftTilingForward(backendVersion uint64) bool {
	if enabled, ok := fftTilingForward(); ok {
		return enabled
	}
	return backendVersion >= minFftTilingVersion
}

// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// lookup liest eine Variable bereinigt und meldet, ob sie gesetzt ist
func lookup(key string) (string, bool) {
	s, ok := os.LookupEnv(key)
	return strings.Trim(strings.TrimSpace(s), "\"'"), ok
}

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// CLI-Konfiguration
// =============================================================================

var (
	// BenchIterations ist die Anzahl gemessener Durchlaeufe pro Algorithmus
	BenchIterations = Uint("CLDNN_BENCH_ITERATIONS", 5)

	// PlainOutput schaltet formatierte Tabellen in der CLI ab
	PlainOutput = Bool("CLDNN_NO_TABLE")
)

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"CLDNN_DEBUG":                         {"CLDNN_DEBUG", LogLevel(), "Show additional debug information (e.g. CLDNN_DEBUG=1)"},
		"CLDNN_BENCH_ITERATIONS":              {"CLDNN_BENCH_ITERATIONS", BenchIterations(), "Timed iterations per algorithm in bench (default: 5)"},
		"CLDNN_NO_TABLE":                      {"CLDNN_NO_TABLE", PlainOutput(), "Print tab separated output instead of tables"},
		"TF_DISABLE_CUDNN_TENSOR_OP_MATH":     {"TF_DISABLE_CUDNN_TENSOR_OP_MATH", !TensorOpMath(), "Disable tensor-op math for convolutions"},
		"TF_DISABLE_CUDNN_RNN_TENSOR_OP_MATH": {"TF_DISABLE_CUDNN_RNN_TENSOR_OP_MATH", !RnnTensorOpMath(), "Disable tensor-op math for recurrent cells"},
		"TF_ENABLE_WINOGRAD_NONFUSED":         {"TF_ENABLE_WINOGRAD_NONFUSED", WinogradNonfused(), "Offer non-fused Winograd convolution algorithms (default: 1)"},
		"TF_FP16_CONV_USE_FP32_COMPUTE":       {"TF_FP16_CONV_USE_FP32_COMPUTE", FP16ConvUseFP32Compute(), "Accumulate half precision convolutions in fp32 (default: 1)"},
		"TF_ENABLE_FFT_TILING_FORWARD":        {"TF_ENABLE_FFT_TILING_FORWARD", Var("TF_ENABLE_FFT_TILING_FORWARD"), "Offer the FFT tiling forward algorithm (default: backend version >= 7000)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// config_test.go - Unit Tests fuer Environment-Konfiguration
package envconfig

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeature(t *testing.T) {
	cases := []struct {
		name  string
		value string
		set   bool
		def   bool
		want  bool
	}{
		{name: "unset default true", def: true, want: true},
		{name: "unset default false", def: false, want: false},
		{name: "zero disables", value: "0", set: true, def: true, want: false},
		{name: "one enables", value: "1", set: true, def: false, want: true},
		{name: "any other value enables", value: "false", set: true, def: false, want: true},
		{name: "empty but set enables", value: "", set: true, def: false, want: true},
		{name: "quoted zero disables", value: "'0'", set: true, def: true, want: false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			if tt.set {
				t.Setenv("CLDNN_TEST_FEATURE", tt.value)
			}
			assert.Equal(t, tt.want, Feature("CLDNN_TEST_FEATURE")(tt.def))
		})
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for value, want := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("CLDNN_DEBUG", value)
			assert.Equal(t, want, LogLevel(), "CLDNN_DEBUG=%q", value)
		})
	}
}

func TestUint(t *testing.T) {
	t.Setenv("CLDNN_TEST_UINT", "12")
	assert.Equal(t, uint(12), Uint("CLDNN_TEST_UINT", 3)())

	t.Setenv("CLDNN_TEST_UINT", "zwoelf")
	assert.Equal(t, uint(3), Uint("CLDNN_TEST_UINT", 3)(), "ungueltiger Wert sollte Default liefern")
}

func TestVar(t *testing.T) {
	t.Setenv("CLDNN_TEST_VAR", "  \"wert\" ")
	assert.Equal(t, "wert", Var("CLDNN_TEST_VAR"))
}

func TestLoadFlagsDefaults(t *testing.T) {
	// Die gecachten Flags werden in diesem Paket sonst nirgends gesetzt
	f := LoadFlags(7088)
	assert.True(t, f.TensorOpMath)
	assert.True(t, f.RnnTensorOpMath)
	assert.True(t, f.WinogradNonfused)
	assert.True(t, f.FP16ConvUseFP32Compute)
	assert.True(t, f.FftTilingForward)

	assert.False(t, FftTilingForward(6021), "vor Version 7000 kein FFT-Tiling")
	assert.Contains(t, f.String(), "winograd_nonfused=true")
}

func TestAsMap(t *testing.T) {
	m := AsMap()
	for k, v := range m {
		assert.Equal(t, k, v.Name)
		assert.NotEmpty(t, v.Description, k)
	}
	assert.Contains(t, Values(), "TF_ENABLE_WINOGRAD_NONFUSED")
}

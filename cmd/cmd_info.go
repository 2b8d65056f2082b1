// cmd_info.go - Info Command
// Hauptfunktionen: InfoHandler
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml/backend/cldnn"
)

// InfoHandler - Zeigt Version, Feature-Flags und Geraet
func InfoHandler(cmd *cobra.Command, _ []string) error {
	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	v, err := b.support.Version()
	if err != nil {
		return err
	}
	loaded, _ := cmd.Flags().GetUint64("backend-version")
	major, minor := b.computeCapability()
	desc := b.dev.Description()
	flags := b.support.Flags()

	data := [][]string{
		{"plugin", cldnn.PluginName},
		{"backend version", fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)},
		{"compat version", strconv.FormatUint(cdnn.CompatVersion(loaded), 10)},
		{"built against", strconv.FormatUint(cdnn.Version, 10)},
		{"device", desc.Name},
		{"memory", format.HumanBytes2(desc.TotalMemory)},
		{"compute capability", fmt.Sprintf("%d.%d", major, minor)},
		{"tensor op math", strconv.FormatBool(flags.TensorOpMath)},
		{"rnn tensor op math", strconv.FormatBool(flags.RnnTensorOpMath)},
		{"fft tiling forward", strconv.FormatBool(flags.FftTilingForward)},
		{"winograd nonfused", strconv.FormatBool(flags.WinogradNonfused)},
		{"fp16 conv fp32 compute", strconv.FormatBool(flags.FP16ConvUseFP32Compute)},
	}
	for _, f := range desc.Features {
		data = append(data, []string{"cpu feature", f})
	}

	renderTable(cmd.OutOrStdout(), []string{"PROPERTY", "VALUE"}, data)
	return nil
}

// newInfoCmd - Erstellt den info Command
func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show backend version, feature flags and device",
		Args:  cobra.NoArgs,
		RunE:  InfoHandler,
	}
}

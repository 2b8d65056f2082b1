// cmd_algos.go - Algos Command
// Hauptfunktionen: AlgosHandler, Algorithmus-Namen je Richtung
package cmd

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/clstream/cldnn/dnn"
)

// direction - Eine Faltungsrichtung mit ihrer Algorithmusliste
type direction struct {
	name  string
	names []string
	list  func(s dnn.Support, winograd bool, major, minor int) []dnn.AlgorithmDesc
}

var directions = []direction{
	{
		name:  "forward",
		names: []string{"implicit_gemm", "implicit_precomp_gemm", "gemm", "direct", "fft", "fft_tiling", "winograd", "winograd_nonfused"},
		list:  dnn.Support.GetConvolveAlgorithms,
	},
	{
		name:  "backward-data",
		names: []string{"algo_0", "algo_1", "fft", "fft_tiling", "winograd", "winograd_nonfused"},
		list:  dnn.Support.GetConvolveBackwardDataAlgorithms,
	},
	{
		name:  "backward-filter",
		names: []string{"algo_0", "algo_1", "fft", "algo_3", "winograd", "winograd_nonfused", "fft_tiling"},
		list:  dnn.Support.GetConvolveBackwardFilterAlgorithms,
	},
}

// algorithmName - Lesbarer Name eines Algorithmus
func (d direction) algorithmName(a dnn.AlgorithmDesc) string {
	name := fmt.Sprintf("unknown(%d)", a.ID)
	if a.ID >= 0 && a.ID < int64(len(d.names)) {
		name = d.names[a.ID]
	}
	if a.TensorOps {
		name += "+tensor_ops"
	}
	return name
}

// selectDirections - Filtert die Richtungen nach dem --direction Flag
func selectDirections(name string) ([]direction, error) {
	if name == "" || name == "all" {
		return directions, nil
	}
	i := slices.IndexFunc(directions, func(d direction) bool { return d.name == name })
	if i < 0 {
		return nil, fmt.Errorf("unknown direction %q: want forward, backward-data, backward-filter or all", name)
	}
	return directions[i : i+1], nil
}

// AlgosHandler - Listet die Kandidaten-Algorithmen je Richtung
func AlgosHandler(cmd *cobra.Command, _ []string) error {
	name, _ := cmd.Flags().GetString("direction")
	dirs, err := selectDirections(name)
	if err != nil {
		return err
	}

	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	winograd := b.support.Flags().WinogradNonfused
	if cmd.Flags().Changed("winograd-nonfused") {
		winograd, _ = cmd.Flags().GetBool("winograd-nonfused")
	}
	major, minor := b.computeCapability()

	var data [][]string
	for _, d := range dirs {
		for _, a := range d.list(b.support, winograd, major, minor) {
			data = append(data, []string{d.name, a.String(), d.algorithmName(a)})
		}
	}

	renderTable(cmd.OutOrStdout(), []string{"DIRECTION", "ID", "ALGORITHM"}, data)
	return nil
}

// newAlgosCmd - Erstellt den algos Command
func newAlgosCmd() *cobra.Command {
	algosCmd := &cobra.Command{
		Use:   "algos",
		Short: "List candidate convolution algorithms",
		Args:  cobra.NoArgs,
		RunE:  AlgosHandler,
	}

	algosCmd.Flags().String("direction", "all", "Convolution direction: forward, backward-data, backward-filter or all")
	algosCmd.Flags().Bool("winograd-nonfused", true, "Include non-fused Winograd algorithms (default: from environment)")

	return algosCmd
}

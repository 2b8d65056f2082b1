// cmd_rnn.go - RNN-Layout Command
// Hauptfunktionen: RnnLayoutHandler, Parser fuer Modus und Richtung
package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/format"
)

func parseRnnMode(s string) (dnn.RnnMode, error) {
	for _, m := range []dnn.RnnMode{dnn.RnnRelu, dnn.RnnTanh, dnn.RnnLstm, dnn.RnnGru} {
		if m.String() == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown rnn mode %q: want relu, tanh, lstm or gru", s)
}

func parseDataType(s string) (dnn.DataType, error) {
	for _, dt := range []dnn.DataType{dnn.Float, dnn.Double, dnn.Half} {
		if dt.String() == s {
			return dt, nil
		}
	}
	return 0, fmt.Errorf("unknown data type %q: want float, double or half", s)
}

// rnnConfigFromFlags - Liest die Zellkonfiguration aus den Flags
func rnnConfigFromFlags(cmd *cobra.Command) (dnn.RnnConfig, error) {
	flags := cmd.Flags()
	modeName, _ := flags.GetString("mode")
	mode, err := parseRnnMode(modeName)
	if err != nil {
		return dnn.RnnConfig{}, err
	}
	dtName, _ := flags.GetString("dtype")
	dt, err := parseDataType(dtName)
	if err != nil {
		return dnn.RnnConfig{}, err
	}

	cfg := dnn.RnnConfig{Mode: mode, DataType: dt}
	cfg.NumLayers, _ = flags.GetInt("layers")
	cfg.HiddenSize, _ = flags.GetInt("hidden")
	cfg.InputSize, _ = flags.GetInt("input")
	if bi, _ := flags.GetBool("bidirectional"); bi {
		cfg.Direction = dnn.RnnBidirectional
	}
	if skip, _ := flags.GetBool("skip-input"); skip {
		cfg.InputMode = dnn.RnnSkipInput
	}
	return cfg, nil
}

// RnnLayoutHandler - Zeigt die Lage aller Gewichte und Biases im
// Parameterpuffer einer Zelle
func RnnLayoutHandler(cmd *cobra.Command, _ []string) error {
	cfg, err := rnnConfigFromFlags(cmd)
	if err != nil {
		return err
	}

	b, err := openBackend(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	d, err := b.support.CreateRnnDescriptor(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	perLayer := cfg.Mode.ParamsPerLayer()
	region := func(kind string, i int, r dnn.ParamsRegion) []string {
		return []string{
			kind,
			strconv.Itoa(i / perLayer),
			strconv.Itoa(i % perLayer),
			strconv.FormatInt(r.Offset, 10),
			strconv.FormatInt(r.Size, 10),
		}
	}

	var data [][]string
	for i, r := range d.ParamsWeightRegions() {
		data = append(data, region("weight", i, r))
	}
	for i, r := range d.ParamsBiasRegions() {
		data = append(data, region("bias", i, r))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "# %s params %s (%d bytes)\n", cfg, format.HumanBytes(d.ParamsSizeInBytes()), d.ParamsSizeInBytes())
	renderTable(cmd.OutOrStdout(), []string{"KIND", "LAYER", "REGION", "OFFSET", "SIZE"}, data)
	return nil
}

// newRnnLayoutCmd - Erstellt den rnn-layout Command
func newRnnLayoutCmd() *cobra.Command {
	rnnCmd := &cobra.Command{
		Use:   "rnn-layout",
		Short: "Show the parameter layout of a recurrent cell",
		Args:  cobra.NoArgs,
		RunE:  RnnLayoutHandler,
	}

	rnnCmd.Flags().String("mode", "lstm", "Cell type: relu, tanh, lstm or gru")
	rnnCmd.Flags().String("dtype", "float", "Element type: float, double or half")
	rnnCmd.Flags().Int("layers", 1, "Number of layers")
	rnnCmd.Flags().Int("hidden", 128, "Hidden size")
	rnnCmd.Flags().Int("input", 128, "Input size")
	rnnCmd.Flags().Bool("bidirectional", false, "Run in both directions")
	rnnCmd.Flags().Bool("skip-input", false, "Feed the input to the first layer without a projection")

	return rnnCmd
}

// cmd.go - Haupt-CLI Setup und Root Command
// Hauptfunktionen: NewCLI, appendEnvDocs
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/containerd/console"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/envconfig"
	"github.com/clstream/cldnn/logutil"
)

// appendEnvDocs - Fuegt Umgebungsvariablen-Dokumentation zum Command hinzu
func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-36s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// versionHandler - Gibt die Versionen von CLI und Backend aus
func versionHandler(cmd *cobra.Command, _ []string) {
	major, minor, patch := cdnn.SplitVersion(cdnn.Version)
	fmt.Fprintf(cmd.OutOrStdout(), "cldnn built against backend version %d.%d.%d\n", major, minor, patch)
}

// NewCLI - Erstellt das Haupt-CLI mit allen Commands
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false

	if runtime.GOOS == "windows" && term.IsTerminal(int(os.Stdout.Fd())) {
		console.ConsoleFromFile(os.Stdin) //nolint:errcheck
	}

	rootCmd := &cobra.Command{
		Use:           "cldnn",
		Short:         "Inspect and benchmark the DNN backend adapter",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logutil.NewLogger(cmd.ErrOrStderr(), envconfig.LogLevel()))
		},
		Run: func(cmd *cobra.Command, args []string) {
			if version, _ := cmd.Flags().GetBool("version"); version {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
	addBackendFlags(rootCmd)

	// Commands erstellen
	infoCmd := newInfoCmd()
	algosCmd := newAlgosCmd()
	benchCmd := newBenchCmd()
	rnnCmd := newRnnLayoutCmd()

	// Environment-Dokumentation hinzufuegen
	envVars := envconfig.AsMap()
	flagEnvs := []envconfig.EnvVar{
		envVars["CLDNN_DEBUG"],
		envVars["CLDNN_NO_TABLE"],
		envVars["TF_DISABLE_CUDNN_TENSOR_OP_MATH"],
		envVars["TF_DISABLE_CUDNN_RNN_TENSOR_OP_MATH"],
		envVars["TF_ENABLE_WINOGRAD_NONFUSED"],
		envVars["TF_FP16_CONV_USE_FP32_COMPUTE"],
		envVars["TF_ENABLE_FFT_TILING_FORWARD"],
	}

	for _, cmd := range []*cobra.Command{infoCmd, algosCmd, benchCmd, rnnCmd} {
		switch cmd {
		case benchCmd:
			appendEnvDocs(cmd, append([]envconfig.EnvVar{envVars["CLDNN_BENCH_ITERATIONS"]}, flagEnvs...))
		case rnnCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["CLDNN_DEBUG"],
				envVars["CLDNN_NO_TABLE"],
				envVars["TF_DISABLE_CUDNN_RNN_TENSOR_OP_MATH"],
			})
		default:
			appendEnvDocs(cmd, flagEnvs)
		}
	}

	rootCmd.AddCommand(
		infoCmd,
		algosCmd,
		benchCmd,
		rnnCmd,
	)

	return rootCmd
}

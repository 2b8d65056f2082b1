// cmd_backend.go - Backend-Aufbau fuer alle Commands
// Hauptfunktionen: addBackendFlags, openBackend
package cmd

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/cdnn/hostlib"
	"github.com/clstream/cldnn/dnn"
	"github.com/clstream/cldnn/format"
	"github.com/clstream/cldnn/ml/backend/cldnn"
	"github.com/clstream/cldnn/ml/backend/host"
)

// addBackendFlags - Registriert die Flags fuer das simulierte Geraet
func addBackendFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().Uint64("backend-version", cdnn.Version, "Version the host backend reports (e.g. 7102)")
	cmd.PersistentFlags().Uint64("memory", 1024, "Device memory in MiB")
	cmd.PersistentFlags().String("cc", "7.0", "Compute capability of the device (major.minor)")
}

// backend - Ein initialisierter Adapter auf einem Host-Geraet
type backend struct {
	dev     *host.Device
	support *cldnn.Support
}

// parseComputeCapability - Zerlegt "7.5" in 7 und 5
func parseComputeCapability(s string) (major, minor int, err error) {
	maj, mnr, ok := strings.Cut(s, ".")
	if !ok {
		return 0, 0, fmt.Errorf("invalid compute capability %q: want major.minor", s)
	}
	if major, err = strconv.Atoi(maj); err != nil {
		return 0, 0, fmt.Errorf("invalid compute capability %q: %w", s, err)
	}
	if minor, err = strconv.Atoi(mnr); err != nil {
		return 0, 0, fmt.Errorf("invalid compute capability %q: %w", s, err)
	}
	return major, minor, nil
}

// openBackend - Baut Geraet, Bibliothek und Adapter aus den Flags auf.
// Der Adapter wird ueber die Plugin-Registry erzeugt.
func openBackend(cmd *cobra.Command) (*backend, error) {
	version, err := cmd.Flags().GetUint64("backend-version")
	if err != nil {
		return nil, err
	}
	mib, err := cmd.Flags().GetUint64("memory")
	if err != nil {
		return nil, err
	}
	cc, err := cmd.Flags().GetString("cc")
	if err != nil {
		return nil, err
	}
	major, minor, err := parseComputeCapability(cc)
	if err != nil {
		return nil, err
	}

	dev := host.NewDevice(host.WithMemory(mib<<20), host.WithComputeCapability(major, minor))
	lib, err := cdnn.Bind(hostlib.New(dev, hostlib.WithVersion(version)).Resolver())
	if err != nil {
		return nil, fmt.Errorf("bind backend library: %w", err)
	}

	r := dnn.NewRegistry()
	if err := cldnn.Register(r, host.PlatformID, lib, cldnn.Options{}); err != nil {
		return nil, err
	}
	s, err := r.NewSupport(dev)
	if err != nil {
		return nil, fmt.Errorf("initialize %s: %w", cldnn.PluginName, err)
	}

	slog.Debug("backend ready", "version", version, "memory", format.HumanBytes2(mib<<20), "cc", cc)
	return &backend{dev: dev, support: s.(*cldnn.Support)}, nil
}

func (b *backend) Close() error {
	return b.support.Close()
}

// computeCapability - Faehigkeit des Geraets
func (b *backend) computeCapability() (major, minor int) {
	desc := b.dev.Description()
	return desc.ComputeMajor, desc.ComputeMinor
}

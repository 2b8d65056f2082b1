// device_info.go
// Dieses Modul enthaelt die DeviceDescription-Struktur fuer Geraete-Abfragen.

package ml

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/clstream/cldnn/format"
)

// DeviceDescription is what a DNN plugin may ask about its device.
type DeviceDescription struct {
	// Name is the name of the device as labeled by the platform
	Name string `json:"name"`

	// TotalMemory is the total amount of memory usable for tensors
	TotalMemory uint64 `json:"total_memory"`

	// ComputeMajor is the major version of capabilities of the device
	// if unsupported by the platform, -1 will be returned
	ComputeMajor int

	// ComputeMinor is the minor version of capabilities of the device
	// if unsupported by the platform, -1 will be returned
	ComputeMinor int

	// Features lists optional instruction set features
	Features []string `json:"features,omitempty"`
}

func (d DeviceDescription) Compute() string {
	return strconv.Itoa(d.ComputeMajor) + "." + strconv.Itoa(d.ComputeMinor)
}

func (d DeviceDescription) String() string {
	s := fmt.Sprintf("%s (compute %s, %s)", d.Name, d.Compute(), format.HumanBytes2(d.TotalMemory))
	if len(d.Features) > 0 {
		s += " [" + strings.Join(d.Features, " ") + "]"
	}
	return s
}

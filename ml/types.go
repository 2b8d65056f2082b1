// types.go - Grundtypen fuer Geraete und BLAS-Aufrufe
// Dieses Modul definiert PlatformID und Transpose.
package ml

import "github.com/google/uuid"

// namespace ist der UUID-Namensraum fuer Plattform- und Plugin-IDs
var namespace = uuid.MustParse("6f1c3c9e-0b7a-5d2e-9c41-2a8d7e5f4b10")

// PlatformID identifies an execution platform (host, OpenCL, ...).
type PlatformID uuid.UUID

// NewPlatformID derives a stable id from a platform name.
func NewPlatformID(name string) PlatformID {
	return PlatformID(uuid.NewSHA1(namespace, []byte("platform/"+name)))
}

func (p PlatformID) String() string {
	return uuid.UUID(p).String()
}

// NewID derives a stable id for any named component under the module namespace.
func NewID(kind, name string) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(kind+"/"+name))
}

// Transpose selects how a BLAS operand is read.
type Transpose int

const (
	NoTranspose Transpose = iota
	Trans
	ConjugateTranspose
)

func (t Transpose) String() string {
	switch t {
	case NoTranspose:
		return "N"
	case Trans:
		return "T"
	case ConjugateTranspose:
		return "C"
	default:
		return "?"
	}
}

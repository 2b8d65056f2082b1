// status.go - Statuscodes der Backend-Bibliothek
//
// Status entspricht den Rueckgabewerten der C-API. StatusError traegt
// Operation und Status als Go-Fehler weiter.
package cdnn

import (
	"errors"
	"fmt"
)

// Status is the return code of every backend entry point.
type Status int32

const (
	StatusSuccess Status = iota
	StatusNotInitialized
	StatusAllocFailed
	StatusBadParam
	StatusInternalError
	StatusInvalidValue
	StatusArchMismatch
	StatusMappingError
	StatusExecutionFailed
	StatusNotSupported
	StatusLicenseError
	StatusRuntimePrerequisiteMissing
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "CUDNN_STATUS_SUCCESS"
	case StatusNotInitialized:
		return "CUDNN_STATUS_NOT_INITIALIZED"
	case StatusAllocFailed:
		return "CUDNN_STATUS_ALLOC_FAILED"
	case StatusBadParam:
		return "CUDNN_STATUS_BAD_PARAM"
	case StatusInternalError:
		return "CUDNN_STATUS_INTERNAL_ERROR"
	case StatusInvalidValue:
		return "CUDNN_STATUS_INVALID_VALUE"
	case StatusArchMismatch:
		return "CUDNN_STATUS_ARCH_MISMATCH"
	case StatusMappingError:
		return "CUDNN_STATUS_MAPPING_ERROR"
	case StatusExecutionFailed:
		return "CUDNN_STATUS_EXECUTION_FAILED"
	case StatusNotSupported:
		return "CUDNN_STATUS_NOT_SUPPORTED"
	case StatusLicenseError:
		return "CUDNN_STATUS_LICENSE_ERROR"
	case StatusRuntimePrerequisiteMissing:
		return "CUDNN_STATUS_RUNTIME_PREREQUISITE_MISSING"
	default:
		return fmt.Sprintf("<unknown cudnn status: %d>", int32(s))
	}
}

// Err wraps a non-success status for op. It returns nil on success.
func (s Status) Err(op string) error {
	if s == StatusSuccess {
		return nil
	}
	return &StatusError{Op: op, Status: s}
}

// StatusError is a failed backend call.
type StatusError struct {
	Op     string
	Status Status
}

func (e *StatusError) Error() string {
	return e.Op + ": " + e.Status.String()
}

// Is matches another StatusError with the same status, ignoring Op.
func (e *StatusError) Is(target error) bool {
	var t *StatusError
	if !errors.As(target, &t) {
		return false
	}
	return t.Status == e.Status
}

// IsStatus reports whether err carries status s.
func IsStatus(err error, s Status) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == s
}

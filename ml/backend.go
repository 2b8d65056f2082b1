// backend.go - Executor-Interface fuer Geraete-Backends
// Dieses Modul definiert das Executor-Interface, das DNN-Plugins bei ihrer Erzeugung erhalten.
package ml

// Executor is one device as seen by backend plugins.
type Executor interface {
	Platform() PlatformID
	Description() DeviceDescription
}

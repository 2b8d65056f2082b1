// lib.go - In-Prozess-Implementierung der Backend-C-API
//
// MODUL: hostlib
// ZWECK: Implementiert die cdnn-Einstiegspunkte ueber Host-Speicher, damit
//
//	der Adapter ohne Beschleuniger gebunden und geprueft werden kann
//
// INPUT: host.Device (Adressraum), Optionen (Version, ausgelassene Symbole)
// OUTPUT: cdnn.MapResolver mit allen Symbolen als Methodenwerte
// NEBENEFFEKTE: Schreibt in Geraetespeicher des host.Device
// ABHAENGIGKEITEN: cdnn (Typen, Status), ml/backend/host (Speicher)
// HINWEISE: Jeder Einstiegspunkt haelt die Bibliothekssperre fuer die
//
//	gesamte Dauer des Aufrufs. Handles und Deskriptoren sind
//	fortlaufende Ganzzahlen, niemals Go-Zeiger.
package hostlib

import (
	"log/slog"
	"sync"

	"github.com/clstream/cldnn/cdnn"
	"github.com/clstream/cldnn/ml"
	"github.com/clstream/cldnn/ml/backend/host"
)

// Lib is one instance of the backend library.
type Lib struct {
	dev     *host.Device
	version uint64
	omit    map[string]bool

	mu      sync.Mutex
	nextID  uintptr
	objects map[uintptr]any
}

// Option configures a Lib.
type Option func(*Lib)

// WithVersion makes GetVersion report v instead of cdnn.Version.
func WithVersion(v uint64) Option {
	return func(l *Lib) { l.version = v }
}

// WithoutSymbols leaves names out of the resolver.
func WithoutSymbols(names ...string) Option {
	return func(l *Lib) {
		for _, n := range names {
			l.omit[n] = true
		}
	}
}

// New creates a library whose device pointers address dev.
func New(dev *host.Device, opts ...Option) *Lib {
	l := &Lib{
		dev:     dev,
		version: cdnn.Version,
		omit:    make(map[string]bool),
		nextID:  1,
		objects: make(map[uintptr]any),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Live returns the number of handles and descriptors not yet destroyed.
func (l *Lib) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.objects)
}

// =============================================================================
// Objekttabelle
// =============================================================================

func (l *Lib) put(obj any) uintptr {
	id := l.nextID
	l.nextID++
	l.objects[id] = obj
	return id
}

// get returns the object id if it exists and has type T.
func get[T any](l *Lib, id uintptr) (*T, cdnn.Status) {
	obj, ok := l.objects[id].(*T)
	if !ok {
		return nil, cdnn.StatusBadParam
	}
	return obj, cdnn.StatusSuccess
}

func destroy[T any](l *Lib, id uintptr) cdnn.Status {
	if _, st := get[T](l, id); st != cdnn.StatusSuccess {
		return st
	}
	delete(l.objects, id)
	return cdnn.StatusSuccess
}

// =============================================================================
// Speicherzugriff
// =============================================================================

// bytes resolves size bytes at p. A null pointer with size 0 is valid.
func (l *Lib) bytes(p cdnn.Ptr, size uint64) ([]byte, cdnn.Status) {
	if size == 0 {
		return nil, cdnn.StatusSuccess
	}
	if p == 0 {
		return nil, cdnn.StatusBadParam
	}
	b, err := l.dev.Bytes(ml.DevicePtr(p), size)
	if err != nil {
		slog.Debug("hostlib: invalid device range", "error", err)
		return nil, cdnn.StatusExecutionFailed
	}
	return b, cdnn.StatusSuccess
}

// =============================================================================
// Handle
// =============================================================================

type handle struct {
	stream cdnn.Stream
}

func (l *Lib) GetVersion() uint64 { return l.version }

func (l *Lib) Create(h *cdnn.Handle) cdnn.Status {
	if h == nil {
		return cdnn.StatusBadParam
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*h = cdnn.Handle(l.put(&handle{}))
	return cdnn.StatusSuccess
}

func (l *Lib) Destroy(h cdnn.Handle) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return destroy[handle](l, uintptr(h))
}

func (l *Lib) SetStream(h cdnn.Handle, s cdnn.Stream) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	hd, st := get[handle](l, uintptr(h))
	if st != cdnn.StatusSuccess {
		return st
	}
	hd.stream = s
	return cdnn.StatusSuccess
}

// Stream returns the stream bound to h, or 0.
func (l *Lib) Stream(h cdnn.Handle) cdnn.Stream {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hd, st := get[handle](l, uintptr(h)); st == cdnn.StatusSuccess {
		return hd.stream
	}
	return 0
}

// =============================================================================
// Resolver
// =============================================================================

// Resolver exports every entry point under its C name.
func (l *Lib) Resolver() cdnn.MapResolver {
	m := cdnn.MapResolver{
		"cudnnGetVersion": l.GetVersion,
		"cudnnCreate":     l.Create,
		"cudnnDestroy":    l.Destroy,
		"cudnnSetStream":  l.SetStream,

		"cudnnCreateTensorDescriptor":  l.CreateTensorDescriptor,
		"cudnnSetTensorNdDescriptor":   l.SetTensorNdDescriptor,
		"cudnnGetTensorNdDescriptor":   l.GetTensorNdDescriptor,
		"cudnnDestroyTensorDescriptor": l.DestroyTensorDescriptor,

		"cudnnCreateFilterDescriptor":  l.CreateFilterDescriptor,
		"cudnnSetFilterNdDescriptor":   l.SetFilterNdDescriptor,
		"cudnnGetFilterNdDescriptor":   l.GetFilterNdDescriptor,
		"cudnnDestroyFilterDescriptor": l.DestroyFilterDescriptor,

		"cudnnCreateConvolutionDescriptor":  l.CreateConvolutionDescriptor,
		"cudnnSetConvolutionNdDescriptor":   l.SetConvolutionNdDescriptor,
		"cudnnSetConvolutionMathType":       l.SetConvolutionMathType,
		"cudnnDestroyConvolutionDescriptor": l.DestroyConvolutionDescriptor,

		"cudnnCreatePoolingDescriptor":  l.CreatePoolingDescriptor,
		"cudnnSetPoolingNdDescriptor":   l.SetPoolingNdDescriptor,
		"cudnnDestroyPoolingDescriptor": l.DestroyPoolingDescriptor,

		"cudnnCreateLRNDescriptor":  l.CreateLRNDescriptor,
		"cudnnSetLRNDescriptor":     l.SetLRNDescriptor,
		"cudnnDestroyLRNDescriptor": l.DestroyLRNDescriptor,

		"cudnnCreateActivationDescriptor":  l.CreateActivationDescriptor,
		"cudnnSetActivationDescriptor":     l.SetActivationDescriptor,
		"cudnnDestroyActivationDescriptor": l.DestroyActivationDescriptor,

		"cudnnGetConvolutionForwardAlgorithm":            l.GetConvolutionForwardAlgorithm,
		"cudnnGetConvolutionForwardWorkspaceSize":        l.GetConvolutionForwardWorkspaceSize,
		"cudnnConvolutionForward":                        l.ConvolutionForward,
		"cudnnGetConvolutionBackwardDataAlgorithm":       l.GetConvolutionBackwardDataAlgorithm,
		"cudnnGetConvolutionBackwardDataWorkspaceSize":   l.GetConvolutionBackwardDataWorkspaceSize,
		"cudnnConvolutionBackwardData":                   l.ConvolutionBackwardData,
		"cudnnGetConvolutionBackwardFilterAlgorithm":     l.GetConvolutionBackwardFilterAlgorithm,
		"cudnnGetConvolutionBackwardFilterWorkspaceSize": l.GetConvolutionBackwardFilterWorkspaceSize,
		"cudnnConvolutionBackwardFilter":                 l.ConvolutionBackwardFilter,
		"cudnnConvolutionBackwardBias":                   l.ConvolutionBackwardBias,
		"cudnnGetConvolutionNdForwardOutputDim":          l.GetConvolutionNdForwardOutputDim,

		"cudnnAddTensor":               l.AddTensor,
		"cudnnTransformTensor":         l.TransformTensor,
		"cudnnPoolingForward":          l.PoolingForward,
		"cudnnPoolingBackward":         l.PoolingBackward,
		"cudnnActivationForward":       l.ActivationForward,
		"cudnnLRNCrossChannelForward":  l.LRNCrossChannelForward,
		"cudnnLRNCrossChannelBackward": l.LRNCrossChannelBackward,

		"cudnnBatchNormalizationForwardInference": l.BatchNormalizationForwardInference,
		"cudnnBatchNormalizationForwardTraining":  l.BatchNormalizationForwardTraining,
		"cudnnBatchNormalizationBackward":         l.BatchNormalizationBackward,

		"cudnnCreateDropoutDescriptor":  l.CreateDropoutDescriptor,
		"cudnnDropoutGetStatesSize":     l.DropoutGetStatesSize,
		"cudnnSetDropoutDescriptor":     l.SetDropoutDescriptor,
		"cudnnDestroyDropoutDescriptor": l.DestroyDropoutDescriptor,

		"cudnnCreateRNNDescriptor":        l.CreateRNNDescriptor,
		"cudnnSetRNNDescriptor_v6":        l.SetRNNDescriptor,
		"cudnnSetRNNMatrixMathType":       l.SetRNNMatrixMathType,
		"cudnnDestroyRNNDescriptor":       l.DestroyRNNDescriptor,
		"cudnnGetRNNParamsSize":           l.GetRNNParamsSize,
		"cudnnGetRNNLinLayerMatrixParams": l.GetRNNLinLayerMatrixParams,
		"cudnnGetRNNLinLayerBiasParams":   l.GetRNNLinLayerBiasParams,
		"cudnnGetRNNWorkspaceSize":        l.GetRNNWorkspaceSize,
		"cudnnGetRNNTrainingReserveSize":  l.GetRNNTrainingReserveSize,
		"cudnnRNNForwardInference":        l.RNNForwardInference,
		"cudnnRNNForwardTraining":         l.RNNForwardTraining,
		"cudnnRNNBackwardData":            l.RNNBackwardData,
		"cudnnRNNBackwardWeights":         l.RNNBackwardWeights,
	}
	for name := range l.omit {
		delete(m, name)
	}
	return m
}

// activation.go - Elementweise Aktivierungen

package hostlib

import (
	"math"

	"github.com/clstream/cldnn/cdnn"
)

func activate(a *activationDesc, x float64) float64 {
	if math.IsNaN(x) {
		if a.nan == cdnn.NotPropagateNan && (a.mode == cdnn.ActivationRelu || a.mode == cdnn.ActivationClippedRelu) {
			return 0
		}
		return x
	}
	switch a.mode {
	case cdnn.ActivationSigmoid:
		return sigmoid(x)
	case cdnn.ActivationRelu:
		return max(x, 0)
	case cdnn.ActivationTanh:
		return math.Tanh(x)
	case cdnn.ActivationClippedRelu:
		return min(max(x, 0), a.coef)
	case cdnn.ActivationElu:
		if x > 0 {
			return x
		}
		return a.coef * (math.Exp(x) - 1)
	default:
		return x
	}
}

func (l *Lib) ActivationForward(h cdnn.Handle, act cdnn.ActivationDescriptor, alpha float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, beta float64, yDesc cdnn.TensorDescriptor, y cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return st
	}
	a, st := get[activationDesc](l, uintptr(act))
	if st != cdnn.StatusSuccess {
		return st
	}
	xt, st := get[tensorDesc](l, uintptr(xDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	yt, st := get[tensorDesc](l, uintptr(yDesc))
	if st != cdnn.StatusSuccess {
		return st
	}
	if !sameDims(xt.dims, yt.dims) || xt.dt != yt.dt {
		return cdnn.StatusBadParam
	}
	vals, st := l.load(xt, x)
	if st != cdnn.StatusSuccess {
		return st
	}
	for i, v := range vals {
		vals[i] = activate(a, v)
	}
	return l.store(yt, y, vals, alpha, beta)
}

// batchnorm.go - Batch-Normalisierung: Inferenz, Training, Gradient

package hostlib

import (
	"math"

	"github.com/clstream/cldnn/cdnn"
)

// minEpsilon ist das kleinste zulaessige Epsilon
const minEpsilon = 1e-5

// bnGeometry maps every element of x to its parameter slot.
type bnGeometry struct {
	n, c, s int
	params  int
	perAct  bool
}

func (g *bnGeometry) slot(i int) int {
	if g.perAct {
		return i % (g.c * g.s)
	}
	return (i / g.s) % g.c
}

// count is the number of elements reduced into one parameter slot.
func (g *bnGeometry) count() int {
	if g.perAct {
		return g.n
	}
	return g.n * g.s
}

func (l *Lib) bnOperands(h cdnn.Handle, mode cdnn.BatchNormMode, eps float64, bnDesc cdnn.TensorDescriptor, descs ...cdnn.TensorDescriptor) (*tensorDesc, []*tensorDesc, *bnGeometry, cdnn.Status) {
	if _, st := get[handle](l, uintptr(h)); st != cdnn.StatusSuccess {
		return nil, nil, nil, st
	}
	if eps < minEpsilon {
		return nil, nil, nil, cdnn.StatusBadParam
	}
	bn, st := get[tensorDesc](l, uintptr(bnDesc))
	if st != cdnn.StatusSuccess {
		return nil, nil, nil, st
	}
	ts := make([]*tensorDesc, len(descs))
	for i, d := range descs {
		if ts[i], st = get[tensorDesc](l, uintptr(d)); st != cdnn.StatusSuccess {
			return nil, nil, nil, st
		}
		if !sameDims(ts[i].dims, ts[0].dims) {
			return nil, nil, nil, cdnn.StatusBadParam
		}
	}

	x := ts[0]
	g := &bnGeometry{n: x.dims[0], c: x.dims[1], s: product(x.dims[2:])}
	if len(bn.dims) != len(x.dims) || bn.dims[0] != 1 || bn.dims[1] != g.c {
		return nil, nil, nil, cdnn.StatusBadParam
	}
	switch mode {
	case cdnn.BatchNormSpatial:
		if bn.elements() != g.c {
			return nil, nil, nil, cdnn.StatusBadParam
		}
	case cdnn.BatchNormPerActivation:
		if !sameDims(bn.dims[2:], x.dims[2:]) {
			return nil, nil, nil, cdnn.StatusBadParam
		}
		g.perAct = true
	default:
		return nil, nil, nil, cdnn.StatusBadParam
	}
	g.params = bn.elements()
	return bn, ts, g, cdnn.StatusSuccess
}

// loadOptional loads t at p, or returns nil for a null pointer.
func (l *Lib) loadOptional(t *tensorDesc, p cdnn.Ptr) ([]float64, cdnn.Status) {
	if p == 0 {
		return nil, cdnn.StatusSuccess
	}
	return l.load(t, p)
}

func (l *Lib) BatchNormalizationForwardInference(h cdnn.Handle, mode cdnn.BatchNormMode, alpha, beta float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, yDesc cdnn.TensorDescriptor, y cdnn.Ptr, bnDesc cdnn.TensorDescriptor, scale, bias, mean, variance cdnn.Ptr, epsilon float64) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	bn, ts, g, st := l.bnOperands(h, mode, epsilon, bnDesc, xDesc, yDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	params := make([][]float64, 4)
	for i, p := range []cdnn.Ptr{scale, bias, mean, variance} {
		if params[i], st = l.load(bn, p); st != cdnn.StatusSuccess {
			return st
		}
	}
	xv, st := l.load(ts[0], x)
	if st != cdnn.StatusSuccess {
		return st
	}
	yv := make([]float64, len(xv))
	for i, v := range xv {
		k := g.slot(i)
		yv[i] = params[0][k]*(v-params[2][k])/math.Sqrt(params[3][k]+epsilon) + params[1][k]
	}
	return l.store(ts[1], y, yv, alpha, beta)
}

// BatchNormalizationForwardTraining normalizes with batch statistics and
// folds them into the running averages with factor avgFactor. Running and
// saved buffers may be null.
func (l *Lib) BatchNormalizationForwardTraining(h cdnn.Handle, mode cdnn.BatchNormMode, alpha, beta float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, yDesc cdnn.TensorDescriptor, y cdnn.Ptr, bnDesc cdnn.TensorDescriptor, scale, bias cdnn.Ptr, avgFactor float64, runningMean, runningVar cdnn.Ptr, epsilon float64, saveMean, saveInvVar cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	bn, ts, g, st := l.bnOperands(h, mode, epsilon, bnDesc, xDesc, yDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	if (runningMean == 0) != (runningVar == 0) || (saveMean == 0) != (saveInvVar == 0) {
		return cdnn.StatusBadParam
	}
	sc, st := l.load(bn, scale)
	if st != cdnn.StatusSuccess {
		return st
	}
	bi, st := l.load(bn, bias)
	if st != cdnn.StatusSuccess {
		return st
	}
	xv, st := l.load(ts[0], x)
	if st != cdnn.StatusSuccess {
		return st
	}

	mean := make([]float64, g.params)
	variance := make([]float64, g.params)
	for i, v := range xv {
		mean[g.slot(i)] += v
	}
	m := float64(g.count())
	for k := range mean {
		mean[k] /= m
	}
	for i, v := range xv {
		d := v - mean[g.slot(i)]
		variance[g.slot(i)] += d * d
	}
	for k := range variance {
		variance[k] /= m
	}

	invStd := make([]float64, g.params)
	for k := range invStd {
		invStd[k] = 1 / math.Sqrt(variance[k]+epsilon)
	}
	yv := make([]float64, len(xv))
	for i, v := range xv {
		k := g.slot(i)
		yv[i] = sc[k]*(v-mean[k])*invStd[k] + bi[k]
	}
	if st := l.store(ts[1], y, yv, alpha, beta); st != cdnn.StatusSuccess {
		return st
	}

	if runningMean != 0 {
		unbiased := make([]float64, g.params)
		for k := range unbiased {
			unbiased[k] = variance[k]
			if m > 1 {
				unbiased[k] *= m / (m - 1)
			}
		}
		if st := l.store(bn, runningMean, mean, avgFactor, 1-avgFactor); st != cdnn.StatusSuccess {
			return st
		}
		if st := l.store(bn, runningVar, unbiased, avgFactor, 1-avgFactor); st != cdnn.StatusSuccess {
			return st
		}
	}
	if saveMean != 0 {
		if st := l.store(bn, saveMean, mean, 1, 0); st != cdnn.StatusSuccess {
			return st
		}
		if st := l.store(bn, saveInvVar, invStd, 1, 0); st != cdnn.StatusSuccess {
			return st
		}
	}
	return cdnn.StatusSuccess
}

// BatchNormalizationBackward computes dx, dscale and dbias. Without saved
// statistics they are recomputed from x.
func (l *Lib) BatchNormalizationBackward(h cdnn.Handle, mode cdnn.BatchNormMode, alphaData, betaData, alphaParam, betaParam float64, xDesc cdnn.TensorDescriptor, x cdnn.Ptr, dyDesc cdnn.TensorDescriptor, dy cdnn.Ptr, dxDesc cdnn.TensorDescriptor, dx cdnn.Ptr, bnDesc cdnn.TensorDescriptor, scale, dScale, dBias cdnn.Ptr, epsilon float64, savedMean, savedInvVar cdnn.Ptr) cdnn.Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	bn, ts, g, st := l.bnOperands(h, mode, epsilon, bnDesc, xDesc, dyDesc, dxDesc)
	if st != cdnn.StatusSuccess {
		return st
	}
	if (savedMean == 0) != (savedInvVar == 0) {
		return cdnn.StatusBadParam
	}
	sc, st := l.load(bn, scale)
	if st != cdnn.StatusSuccess {
		return st
	}
	xv, st := l.load(ts[0], x)
	if st != cdnn.StatusSuccess {
		return st
	}
	dyv, st := l.load(ts[1], dy)
	if st != cdnn.StatusSuccess {
		return st
	}
	mean, st := l.loadOptional(bn, savedMean)
	if st != cdnn.StatusSuccess {
		return st
	}
	invStd, st := l.loadOptional(bn, savedInvVar)
	if st != cdnn.StatusSuccess {
		return st
	}

	m := float64(g.count())
	if mean == nil {
		mean = make([]float64, g.params)
		invStd = make([]float64, g.params)
		for i, v := range xv {
			mean[g.slot(i)] += v
		}
		for k := range mean {
			mean[k] /= m
		}
		for i, v := range xv {
			d := v - mean[g.slot(i)]
			invStd[g.slot(i)] += d * d
		}
		for k := range invStd {
			invStd[k] = 1 / math.Sqrt(invStd[k]/m+epsilon)
		}
	}

	dbias := make([]float64, g.params)
	dscale := make([]float64, g.params)
	for i, v := range xv {
		k := g.slot(i)
		dbias[k] += dyv[i]
		dscale[k] += dyv[i] * (v - mean[k]) * invStd[k]
	}
	dxv := make([]float64, len(xv))
	for i, v := range xv {
		k := g.slot(i)
		xhat := (v - mean[k]) * invStd[k]
		dxv[i] = sc[k] * invStd[k] / m * (m*dyv[i] - dbias[k] - xhat*dscale[k])
	}

	if st := l.store(ts[2], dx, dxv, alphaData, betaData); st != cdnn.StatusSuccess {
		return st
	}
	if st := l.store(bn, dScale, dscale, alphaParam, betaParam); st != cdnn.StatusSuccess {
		return st
	}
	return l.store(bn, dBias, dbias, alphaParam, betaParam)
}

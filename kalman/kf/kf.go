package kf

import (
	"fmt"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	smc "github.com/milosgajdos/go-smc"
)

// KF is a linear-Gaussian discrete-time Kalman Filter. Next to the state
// estimate it accumulates the exact marginal log-likelihood of the processed
// measurements, which makes it the ground truth that particle filter
// likelihood estimates are validated against.
type KF struct {
	// a is the state transition matrix
	a *mat.Dense
	// q is the process noise covariance
	q *mat.SymDense
	// h is the observation matrix
	h *mat.Dense
	// r is the measurement noise covariance
	r *mat.SymDense
	// x is the state estimate
	x *mat.VecDense
	// p is the state covariance
	p *mat.Dense
	// ll is the accumulated marginal log-likelihood
	ll float64
}

// New creates new KF with transition matrix a, process noise covariance q,
// observation matrix h, measurement noise covariance r and initial
// condition ic, and returns it.
// It returns error if the matrix dimensions are inconsistent.
func New(a *mat.Dense, q *mat.SymDense, h *mat.Dense, r *mat.SymDense, ic smc.InitCond) (*KF, error) {
	if a == nil || q == nil || h == nil || r == nil || ic == nil {
		return nil, fmt.Errorf("missing filter matrices")
	}

	nx, cols := a.Dims()
	if nx != cols {
		return nil, fmt.Errorf("invalid transition matrix dimensions: [%d x %d]", nx, cols)
	}
	if q.SymmetricDim() != nx {
		return nil, fmt.Errorf("invalid process noise dimension: %d", q.SymmetricDim())
	}
	ny, cols := h.Dims()
	if cols != nx {
		return nil, fmt.Errorf("invalid observation matrix dimensions: [%d x %d]", ny, cols)
	}
	if r.SymmetricDim() != ny {
		return nil, fmt.Errorf("invalid measurement noise dimension: %d", r.SymmetricDim())
	}
	if ic.State().Len() != nx || ic.Cov().SymmetricDim() != nx {
		return nil, fmt.Errorf("invalid initial condition dimension: %d", ic.State().Len())
	}

	x := mat.NewVecDense(nx, nil)
	x.CloneFromVec(ic.State())

	p := mat.NewDense(nx, nx, nil)
	p.Copy(ic.Cov())

	return &KF{
		a: a,
		q: q,
		h: h,
		r: r,
		x: x,
		p: p,
	}, nil
}

// Step runs one predict-update cycle on the measurement y and folds the
// log-density of the innovation into the accumulated marginal
// log-likelihood.
// It returns error if y has wrong size or the innovation covariance is not
// positive definite.
func (k *KF) Step(y mat.Vector) error {
	nx, _ := k.a.Dims()
	ny, _ := k.h.Dims()
	if y.Len() != ny {
		return fmt.Errorf("invalid measurement size: %d", y.Len())
	}

	// predict: x = A x, P = A P A' + Q
	xPred := mat.NewVecDense(nx, nil)
	xPred.MulVec(k.a, k.x)

	pPred := mat.NewDense(nx, nx, nil)
	pPred.Mul(k.a, k.p)
	pPred.Mul(pPred, k.a.T())
	pPred.Add(pPred, k.q)

	// innovation: v = y - H x, S = H P H' + R
	v := mat.NewVecDense(ny, nil)
	v.MulVec(k.h, xPred)
	v.SubVec(y, v)

	hp := mat.NewDense(ny, nx, nil)
	hp.Mul(k.h, pPred)
	sDense := mat.NewDense(ny, ny, nil)
	sDense.Mul(hp, k.h.T())
	sDense.Add(sDense, k.r)

	s, err := matrix.ToSymDense(sDense)
	if err != nil {
		return fmt.Errorf("innovation covariance not symmetric: %v", err)
	}

	dist, ok := distmv.NewNormal(make([]float64, ny), s, nil)
	if !ok {
		return fmt.Errorf("innovation covariance not positive definite")
	}
	k.ll += dist.LogProb(v.RawVector().Data)

	// gain: K = P H' S^-1
	sInv := mat.NewDense(ny, ny, nil)
	if err := sInv.Inverse(sDense); err != nil {
		return fmt.Errorf("failed to invert innovation covariance: %v", err)
	}
	gain := mat.NewDense(nx, ny, nil)
	gain.Mul(pPred, k.h.T())
	gain.Mul(gain, sInv)

	// update: x = x + K v, P = (I - K H) P
	corr := mat.NewVecDense(nx, nil)
	corr.MulVec(gain, v)
	k.x.AddVec(xPred, corr)

	kh := mat.NewDense(nx, nx, nil)
	kh.Mul(gain, k.h)
	for i := 0; i < nx; i++ {
		kh.Set(i, i, kh.At(i, i)-1)
	}
	kh.Scale(-1, kh)
	k.p.Mul(kh, pPred)

	return nil
}

// Run processes all observations of the iterator in order.
// It returns error if any step fails.
func (k *KF) Run(obs smc.ObsIterator) error {
	for obs.HasNext() {
		_, y, err := obs.Next()
		if err != nil {
			return err
		}
		if err := k.Step(y); err != nil {
			return err
		}
	}

	return nil
}

// LogLikelihood returns the accumulated marginal log-likelihood of the
// processed measurements.
func (k *KF) LogLikelihood() float64 {
	return k.ll
}

// State returns the state estimate.
func (k *KF) State() mat.Vector {
	x := mat.NewVecDense(k.x.Len(), nil)
	x.CloneFromVec(k.x)

	return x
}

// Covariance returns the state covariance.
func (k *KF) Covariance() mat.Symmetric {
	s, err := matrix.ToSymDense(k.p)
	if err != nil {
		// covariance symmetry is maintained by Step
		panic(fmt.Sprintf("kf: state covariance not symmetric: %v", err))
	}

	return s
}

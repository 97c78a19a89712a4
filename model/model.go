package model

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// InitCond implements smc.InitCond
type InitCond struct {
	state *mat.VecDense
	cov   *mat.SymDense
}

// NewInitCond creates new InitCond and returns it
func NewInitCond(state mat.Vector, cov mat.Symmetric) *InitCond {
	s := &mat.VecDense{}
	s.CloneFromVec(state)

	c := mat.NewSymDense(cov.SymmetricDim(), nil)
	c.CopySym(cov)

	return &InitCond{
		state: s,
		cov:   c,
	}
}

// State returns initial state
func (c *InitCond) State() mat.Vector {
	state := mat.NewVecDense(c.state.Len(), nil)
	state.CloneFromVec(c.state)

	return state
}

// Cov returns initial covariance
func (c *InitCond) Cov() mat.Symmetric {
	cov := mat.NewSymDense(c.cov.SymmetricDim(), nil)
	cov.CopySym(c.cov)

	return cov
}

// Linear is a linear-Gaussian model of the continuous stochastic group:
// every grid step updates the C values as
//
//	c <- A c + G r
//
// where r are the standard normal random inputs of the step. The D and P
// groups are empty. Initial particles are drawn from the Gaussian initial
// condition. Linear implements smc.Model.
type Linear struct {
	// a is the per-step transition matrix
	a *mat.Dense
	// g shapes the random inputs into process noise
	g *mat.Dense
	// mean and l hold the initial condition: mean vector and a factor l
	// with l l' equal to the initial covariance
	mean []float64
	l    *mat.Dense
	nc   int
	nr   int
	// step scratch; the filter drives particles from a single goroutine
	next []float64
}

// NewLinear creates new Linear model with transition matrix a, noise shaping
// matrix g and Gaussian initial condition ic, and returns it.
// It returns error if the dimensions are inconsistent or the factorization
// of the initial covariance fails.
func NewLinear(a, g *mat.Dense, ic *InitCond) (*Linear, error) {
	if a == nil || g == nil || ic == nil {
		return nil, fmt.Errorf("missing model matrices")
	}

	nc, cols := a.Dims()
	if nc != cols {
		return nil, fmt.Errorf("invalid transition matrix dimensions: [%d x %d]", nc, cols)
	}
	rows, nr := g.Dims()
	if rows != nc {
		return nil, fmt.Errorf("invalid noise matrix dimensions: [%d x %d]", rows, nr)
	}
	if ic.State().Len() != nc || ic.Cov().SymmetricDim() != nc {
		return nil, fmt.Errorf("invalid initial condition dimension: %d", ic.State().Len())
	}

	// factor the initial covariance with SVD; Cholesky can be unstable
	// when the covariance is (almost) singular
	var svd mat.SVD
	if ok := svd.Factorize(ic.Cov(), mat.SVDFull); !ok {
		return nil, fmt.Errorf("SVD factorization of initial covariance failed")
	}
	l := new(mat.Dense)
	svd.UTo(l)
	vals := svd.Values(nil)
	for i := range vals {
		vals[i] = math.Sqrt(vals[i])
	}
	l.Mul(l, mat.NewDiagDense(len(vals), vals))

	mean := make([]float64, nc)
	for i := range mean {
		mean[i] = ic.State().AtVec(i)
	}

	return &Linear{
		a:    mat.DenseCopyOf(a),
		g:    mat.DenseCopyOf(g),
		mean: mean,
		l:    l,
		nc:   nc,
		nr:   nr,
		next: make([]float64, nc),
	}, nil
}

// Dims returns the sizes of the D, C, R and P variable groups.
func (m *Linear) Dims() (nd, nc, nr, np int) {
	return 0, m.nc, m.nr, 0
}

// Init draws initial values for one particle into c.
func (m *Linear) Init(d, c, theta []float64, rng *rand.Rand) {
	for j := 0; j < m.nc; j++ {
		c[j] = m.mean[j]
	}
	for k := 0; k < m.nc; k++ {
		z := rng.NormFloat64()
		for j := 0; j < m.nc; j++ {
			c[j] += m.l.At(j, k) * z
		}
	}
}

// Step advances one particle by one grid step.
func (m *Linear) Step(t, dt float64, d, c, r, theta []float64) {
	next := m.next
	for i := 0; i < m.nc; i++ {
		var v float64
		for j := 0; j < m.nc; j++ {
			v += m.a.At(i, j) * c[j]
		}
		for j := 0; j < m.nr; j++ {
			v += m.g.At(i, j) * r[j]
		}
		next[i] = v
	}
	copy(c, next)
}

// Observe returns an observation map computing out = H c for the Gaussian
// log-likelihood kernel.
func Observe(h *mat.Dense) func(d, c, theta, out []float64) {
	ny, nc := h.Dims()

	return func(d, c, theta, out []float64) {
		for i := 0; i < ny; i++ {
			var v float64
			for j := 0; j < nc; j++ {
				v += h.At(i, j) * c[j]
			}
			out[i] = v
		}
	}
}

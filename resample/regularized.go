package resample

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"github.com/milosgajdos/matrix"
	"gonum.org/v1/gonum/mat"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/rnd"
	"github.com/milosgajdos/go-smc/state"
)

// Regularized wraps a resampler and perturbs the resampled continuous state
// with draws shaped by the post-resampling particle covariance, scaled by the
// regularization bandwidth alpha. It counters the particle impoverishment a
// plain resampler causes when the same ancestor is selected many times over.
type Regularized struct {
	// resam draws the ancestry
	resam smc.Resampler
	// alpha is the regularization bandwidth; non-positive means AlphaGauss
	alpha float64
	rng   *rand.Rand
}

// NewRegularized creates new Regularized resampler wrapping resam with
// bandwidth alpha and returns it. A non-positive alpha selects the optimal
// bandwidth for a Gaussian kernel.
// It returns error if resam is nil.
func NewRegularized(resam smc.Resampler, alpha float64, seed uint64) (*Regularized, error) {
	if resam == nil {
		return nil, fmt.Errorf("missing resampler")
	}

	return &Regularized{
		resam: resam,
		alpha: alpha,
		rng:   rand.New(rand.NewSource(seed)),
	}, nil
}

// Resample resamples the particles of s and jitters their continuous state.
func (r *Regularized) Resample(lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	if err := r.resam.Resample(lw1, lw2, as, theta, s); err != nil {
		return err
	}

	return r.jitter(s, 0)
}

// ResampleConditional resamples the particles of s with the ancestor of the
// first particle pinned to a. The conditioned particle is left unperturbed.
func (r *Regularized) ResampleConditional(a int, lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	if err := r.resam.ResampleConditional(a, lw1, lw2, as, theta, s); err != nil {
		return err
	}

	return r.jitter(s, 1)
}

func (r *Regularized) jitter(s *state.State, from int) error {
	c := s.C()
	if c == nil {
		return nil
	}
	p, nc := c.Dims()
	if p < 2 {
		return nil
	}

	// matrix.Cov expects observations in columns
	cm := mat.DenseCopyOf(c.T())
	cov, err := matrix.Cov(cm, "cols")
	if err != nil {
		return fmt.Errorf("failed to calculate particle covariance: %v", err)
	}

	m, err := rnd.WithCovN(cov, p, r.rng)
	if err != nil {
		return fmt.Errorf("failed to draw particle perturbations: %v", err)
	}

	alpha := r.alpha
	if alpha <= 0 {
		alpha = AlphaGauss(nc, p)
	}
	m.Scale(alpha, m)

	for i := from; i < p; i++ {
		row := c.RawRowView(i)
		pert := m.RawRowView(i)
		for j := range row {
			row[j] += pert[j]
		}
	}

	return nil
}

// AlphaGauss computes the optimal regularization bandwidth for a Gaussian
// kernel over c particles of dimension r and returns it.
func AlphaGauss(r, c int) float64 {
	return math.Pow(4.0/(float64(c)*(float64(r)+2.0)), 1/(float64(r)+4.0))
}

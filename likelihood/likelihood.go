package likelihood

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/milosgajdos/go-smc/state"
)

// ObserveFunc maps the state of one particle to its expected observation out.
type ObserveFunc func(d, c, theta, out []float64)

// Gaussian is an observation log-likelihood kernel with additive Gaussian
// measurement error: it scores every particle by the log-density of the
// innovation between the observation and the particle's expected output.
type Gaussian struct {
	// observe maps particle state to expected output
	observe ObserveFunc
	// pdf is the measurement error density
	pdf distmv.LogProber
	// inn and out are preallocated per-particle scratch vectors
	inn []float64
	out []float64
}

// NewGaussian creates new Gaussian kernel with observation map observe,
// observation size ny and measurement error density pdf and returns it.
// It returns error if observe or pdf is nil or ny is not positive.
func NewGaussian(observe ObserveFunc, ny int, pdf distmv.LogProber) (*Gaussian, error) {
	if observe == nil {
		return nil, fmt.Errorf("missing observation map")
	}
	if pdf == nil {
		return nil, fmt.Errorf("missing measurement error density")
	}
	if ny <= 0 {
		return nil, fmt.Errorf("invalid observation size: %d", ny)
	}

	return &Gaussian{
		observe: observe,
		pdf:     pdf,
		inn:     make([]float64, ny),
		out:     make([]float64, ny),
	}, nil
}

// LogLikelihood adds log p(y|particle i) into lw[i] for every particle in s.
// It returns error if y or lw has wrong size.
func (g *Gaussian) LogLikelihood(s *state.State, theta *mat.Dense, y mat.Vector, lw []float64) error {
	if y.Len() != len(g.inn) {
		return fmt.Errorf("invalid observation size: %d", y.Len())
	}
	if len(lw) != s.Size() {
		return fmt.Errorf("invalid weight vector size: %d", len(lw))
	}

	for i := 0; i < s.Size(); i++ {
		g.observe(s.RowD(i), s.RowC(i), state.ThetaRow(theta, i), g.out)
		for j := range g.inn {
			g.inn[j] = y.AtVec(j) - g.out[j]
		}
		lw[i] += g.pdf.LogProb(g.inn)
	}

	return nil
}

const halfLogTwoPi = 0.9189385332046727

// LogNormal is a closed form log-normal observation log-likelihood kernel
// for scalar observations:
//
//	ll = -((log y - mu)/sigma)^2/2 - log(2*pi)/2 - log(sigma) - log(y)
//
// Mu and Sigma extract the per-particle location and scale. A nil Mu means
// mu = 0 and a nil Sigma means sigma = 1; the corresponding terms drop out
// of the density.
type LogNormal struct {
	// Mu extracts the location parameter; nil means 0
	Mu func(d, c, theta []float64) float64
	// Sigma extracts the scale parameter; nil means 1
	Sigma func(d, c, theta []float64) float64
}

// NewLogNormal creates new LogNormal kernel and returns it.
func NewLogNormal(mu, sigma func(d, c, theta []float64) float64) *LogNormal {
	return &LogNormal{Mu: mu, Sigma: sigma}
}

// LogLikelihood adds log p(y|particle i) into lw[i] for every particle in s.
// Observations must be positive scalars; a non-positive observation has zero
// density and contributes -Inf.
// It returns error if y is not scalar or lw has wrong size.
func (l *LogNormal) LogLikelihood(s *state.State, theta *mat.Dense, y mat.Vector, lw []float64) error {
	if y.Len() != 1 {
		return fmt.Errorf("invalid observation size: %d", y.Len())
	}
	if len(lw) != s.Size() {
		return fmt.Errorf("invalid weight vector size: %d", len(lw))
	}

	yv := y.AtVec(0)
	if yv <= 0 {
		for i := range lw {
			lw[i] = math.Inf(-1)
		}
		return nil
	}
	logy := math.Log(yv)

	for i := 0; i < s.Size(); i++ {
		d, c, th := s.RowD(i), s.RowC(i), state.ThetaRow(theta, i)

		z := logy
		if l.Mu != nil {
			z -= l.Mu(d, c, th)
		}

		ll := 0.0
		if l.Sigma != nil {
			sigma := l.Sigma(d, c, th)
			ll = -0.5*(z/sigma)*(z/sigma) - halfLogTwoPi - math.Log(sigma) - logy
		} else {
			ll = -0.5*z*z - halfLogTwoPi - logy
		}
		lw[i] += ll
	}

	return nil
}

package resample

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-smc/rnd"
	"github.com/milosgajdos/go-smc/state"
	"github.com/milosgajdos/go-smc/weight"
)

// base carries the pieces shared by all resampling schemes: the random
// stream, ancestor selection from stage 1 log-weights and the post-draw
// bookkeeping (row gather and output log-weights).
type base struct {
	rng *rand.Rand
}

// probs exponentiates the stage 1 log-weights against their maximum.
// It returns error if no particle carries probability mass.
func (b *base) probs(lw1 []float64) ([]float64, error) {
	if len(lw1) == 0 {
		return nil, fmt.Errorf("empty weight vector")
	}
	max := floats.Max(lw1)
	if math.IsInf(max, -1) {
		return nil, fmt.Errorf("degenerate weights: no particle has mass")
	}

	w := make([]float64, len(lw1))
	for i, lw := range lw1 {
		w[i] = math.Exp(lw - max)
	}

	return w, nil
}

// finish rearranges the particle rows of s along the chosen ancestry and
// overwrites lw2 with the post-resampling log-weights
//
//	lw2[i] = logsumexp(lw1) - log(P) + lw2in[as[i]] - lw1[as[i]]
//
// When stage 1 and stage 2 weights coincide this is the uniform
// log-mean weight; otherwise the per-ancestor term carries the auxiliary
// proposal correction so that downstream marginal likelihood estimates
// stay unbiased.
func (b *base) finish(lw1, lw2 []float64, as []int, s *state.State) error {
	if len(lw1) != len(lw2) || len(lw1) != len(as) || len(lw1) != s.Size() {
		return fmt.Errorf("size mismatch: %d weights, %d ancestors, %d particles", len(lw1), len(as), s.Size())
	}

	if err := s.Gather(as); err != nil {
		return err
	}

	offset := weight.LogSumExp(lw1) - math.Log(float64(len(lw1)))
	out := make([]float64, len(lw2))
	for i, a := range as {
		out[i] = offset + lw2[a] - lw1[a]
	}
	copy(lw2, out)

	return nil
}

// inverseCDF fills as[lo:] with the indices selected by the ordered uniform
// positions us scaled to the total mass of w.
func inverseCDF(w, us []float64, as []int, lo int) {
	cdf := make([]float64, len(w))
	floats.CumSum(cdf, w)
	total := cdf[len(cdf)-1]

	j := 0
	for i, u := range us {
		v := u * total
		for j < len(cdf)-1 && cdf[j] <= v {
			j++
		}
		as[lo+i] = j
	}
}

// Multinomial resamples particles independently in proportion to their
// stage 1 weights.
type Multinomial struct {
	base
}

// NewMultinomial creates new Multinomial resampler drawing from a stream
// seeded with seed and returns it.
func NewMultinomial(seed uint64) *Multinomial {
	return &Multinomial{base{rng: rand.New(rand.NewSource(seed))}}
}

// Resample resamples the particles of s.
func (m *Multinomial) Resample(lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	w, err := m.probs(lw1)
	if err != nil {
		return err
	}

	idx, err := rnd.RouletteDrawN(w, len(as), m.rng)
	if err != nil {
		return err
	}
	copy(as, idx)

	return m.finish(lw1, lw2, as, s)
}

// ResampleConditional resamples the particles of s with the ancestor of the
// first particle pinned to a.
func (m *Multinomial) ResampleConditional(a int, lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	if a < 0 || a >= len(as) {
		return fmt.Errorf("conditioned ancestor out of range: %d", a)
	}

	w, err := m.probs(lw1)
	if err != nil {
		return err
	}

	idx, err := rnd.RouletteDrawN(w, len(as)-1, m.rng)
	if err != nil {
		return err
	}
	as[0] = a
	copy(as[1:], idx)

	return m.finish(lw1, lw2, as, s)
}

// Stratified resamples particles with one uniform draw per equal-mass
// stratum, trading the variance of multinomial draws for ordered positions.
type Stratified struct {
	base
}

// NewStratified creates new Stratified resampler drawing from a stream
// seeded with seed and returns it.
func NewStratified(seed uint64) *Stratified {
	return &Stratified{base{rng: rand.New(rand.NewSource(seed))}}
}

// Resample resamples the particles of s.
func (r *Stratified) Resample(lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	w, err := r.probs(lw1)
	if err != nil {
		return err
	}

	n := len(as)
	us := make([]float64, n)
	for i := range us {
		us[i] = (float64(i) + r.rng.Float64()) / float64(n)
	}
	inverseCDF(w, us, as, 0)

	return r.finish(lw1, lw2, as, s)
}

// ResampleConditional resamples the particles of s with the ancestor of the
// first particle pinned to a.
func (r *Stratified) ResampleConditional(a int, lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	if a < 0 || a >= len(as) {
		return fmt.Errorf("conditioned ancestor out of range: %d", a)
	}

	w, err := r.probs(lw1)
	if err != nil {
		return err
	}

	n := len(as) - 1
	us := make([]float64, n)
	for i := range us {
		us[i] = (float64(i) + r.rng.Float64()) / float64(n)
	}
	as[0] = a
	inverseCDF(w, us, as, 1)

	return r.finish(lw1, lw2, as, s)
}

// Systematic resamples particles with a single uniform draw shared by all
// equal-mass strata.
type Systematic struct {
	base
}

// NewSystematic creates new Systematic resampler drawing from a stream
// seeded with seed and returns it.
func NewSystematic(seed uint64) *Systematic {
	return &Systematic{base{rng: rand.New(rand.NewSource(seed))}}
}

// Resample resamples the particles of s.
func (r *Systematic) Resample(lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	w, err := r.probs(lw1)
	if err != nil {
		return err
	}

	n := len(as)
	u0 := r.rng.Float64()
	us := make([]float64, n)
	for i := range us {
		us[i] = (float64(i) + u0) / float64(n)
	}
	inverseCDF(w, us, as, 0)

	return r.finish(lw1, lw2, as, s)
}

// ResampleConditional resamples the particles of s with the ancestor of the
// first particle pinned to a.
func (r *Systematic) ResampleConditional(a int, lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error {
	if a < 0 || a >= len(as) {
		return fmt.Errorf("conditioned ancestor out of range: %d", a)
	}

	w, err := r.probs(lw1)
	if err != nil {
		return err
	}

	n := len(as) - 1
	u0 := r.rng.Float64()
	us := make([]float64, n)
	for i := range us {
		us[i] = (float64(i) + u0) / float64(n)
	}
	as[0] = a
	inverseCDF(w, us, as, 1)

	return r.finish(lw1, lw2, as, s)
}

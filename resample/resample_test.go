package resample

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/state"
)

func newState(t *testing.T, p int) *state.State {
	s, err := state.New(p, 0, 1, 1)
	assert.NoError(t, err)
	for i := 0; i < p; i++ {
		s.RowC(i)[0] = float64(i)
	}
	return s
}

func resamplers(seed uint64) map[string]smc.Resampler {
	return map[string]smc.Resampler{
		"multinomial": NewMultinomial(seed),
		"stratified":  NewStratified(seed),
		"systematic":  NewSystematic(seed),
	}
}

func TestResampleUniform(t *testing.T) {
	assert := assert.New(t)

	const p = 100
	for name, r := range resamplers(11) {
		s := newState(t, p)
		lw1 := make([]float64, p)
		lw2 := make([]float64, p)
		as := make([]int, p)

		assert.NoError(r.Resample(lw1, lw2, as, nil, s), name)

		for i, a := range as {
			assert.True(a >= 0 && a < p, name)
			// rows follow the ancestry
			assert.Equal(float64(a), s.RowC(i)[0], name)
			// equal stage weights come out uniform
			assert.InDelta(0, lw2[i], 1e-12, name)
		}
	}
}

func TestResampleWeighted(t *testing.T) {
	assert := assert.New(t)

	// all stage 1 mass on particle 2
	const p = 10
	inf := math.Inf(-1)
	for name, r := range resamplers(17) {
		s := newState(t, p)
		lw1 := make([]float64, p)
		lw2 := make([]float64, p)
		for i := range lw1 {
			lw1[i] = inf
		}
		lw1[2] = 0
		as := make([]int, p)

		assert.NoError(r.Resample(lw1, lw2, as, nil, s), name)
		for i := range as {
			assert.Equal(2, as[i], name)
			assert.Equal(2.0, s.RowC(i)[0], name)
		}
	}
}

func TestResampleOutputWeights(t *testing.T) {
	assert := assert.New(t)

	// stage 1 weights twist the draw; the output weights carry the
	// per-ancestor correction lse(lw1) - log(P) + lw2[a] - lw1[a]
	lw1 := []float64{math.Log(2), 0}
	lw2 := []float64{0, 0}
	as := make([]int, 2)
	s := newState(t, 2)

	r := NewMultinomial(3)
	assert.NoError(r.Resample(lw1, lw2, as, nil, s))

	offset := math.Log(3) - math.Log(2)
	for i, a := range as {
		want := offset - lw1[a]
		assert.InDelta(want, lw2[i], 1e-12)
	}
}

func TestResampleDegenerate(t *testing.T) {
	assert := assert.New(t)

	inf := math.Inf(-1)
	for name, r := range resamplers(5) {
		s := newState(t, 3)
		lw1 := []float64{inf, inf, inf}
		lw2 := make([]float64, 3)
		as := make([]int, 3)

		assert.Error(r.Resample(lw1, lw2, as, nil, s), name)
	}
}

func TestResampleConditional(t *testing.T) {
	assert := assert.New(t)

	const p = 50
	for name, r := range resamplers(29) {
		s := newState(t, p)
		lw1 := make([]float64, p)
		lw2 := make([]float64, p)
		as := make([]int, p)

		// out of range ancestor
		assert.Error(r.ResampleConditional(-1, lw1, lw2, as, nil, s), name)
		assert.Error(r.ResampleConditional(p, lw1, lw2, as, nil, s), name)

		assert.NoError(r.ResampleConditional(7, lw1, lw2, as, nil, s), name)
		assert.Equal(7, as[0], name)
		assert.Equal(7.0, s.RowC(0)[0], name)
		for i, a := range as {
			assert.True(a >= 0 && a < p, name)
			assert.Equal(float64(a), s.RowC(i)[0], name)
		}
	}
}

func TestResampleDeterminism(t *testing.T) {
	assert := assert.New(t)

	const p = 64
	run := func() []int {
		s := newState(t, p)
		lw1 := make([]float64, p)
		for i := range lw1 {
			lw1[i] = -0.01 * float64(i)
		}
		lw2 := make([]float64, p)
		as := make([]int, p)
		r := NewSystematic(41)
		assert.NoError(r.Resample(lw1, lw2, as, nil, s))
		return as
	}

	assert.Equal(run(), run())
}

func TestRegularized(t *testing.T) {
	assert := assert.New(t)

	// wrapping nothing is an error
	reg, err := NewRegularized(nil, 0, 1)
	assert.Nil(reg)
	assert.Error(err)

	const p = 200
	reg, err = NewRegularized(NewSystematic(13), 0, 2)
	assert.NoError(err)

	s := newState(t, p)
	lw1 := make([]float64, p)
	lw2 := make([]float64, p)
	as := make([]int, p)

	assert.NoError(reg.Resample(lw1, lw2, as, nil, s))
	// jitter moves resampled rows off their ancestor values
	moved := 0
	for i, a := range as {
		if s.RowC(i)[0] != float64(a) {
			moved++
		}
	}
	assert.True(moved > 0)

	// the conditioned particle stays untouched
	s = newState(t, p)
	assert.NoError(reg.ResampleConditional(3, lw1, lw2, as, nil, s))
	assert.Equal(3, as[0])
	assert.Equal(3.0, s.RowC(0)[0])
}

func TestAlphaGauss(t *testing.T) {
	assert := assert.New(t)

	alpha := AlphaGauss(1, 100)
	assert.True(alpha > 0 && alpha < 1)
}

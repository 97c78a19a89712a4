package pf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"

	"github.com/milosgajdos/go-smc/likelihood"
	"github.com/milosgajdos/go-smc/model"
	"github.com/milosgajdos/go-smc/obs"
	"github.com/milosgajdos/go-smc/sim"
	"github.com/milosgajdos/go-smc/sink"
	"github.com/milosgajdos/go-smc/state"
)

func newFixture(t *testing.T, p int) (*PF, *state.State, *sink.Memory) {
	ic := model.NewInitCond(mat.NewVecDense(1, []float64{0}), mat.NewSymDense(1, []float64{1}))
	m, err := model.NewLinear(
		mat.NewDense(1, 1, []float64{1}),
		mat.NewDense(1, 1, []float64{0.5}),
		ic,
	)
	assert.NoError(t, err)

	sm, err := sim.New(m, 1.0, 0, 31)
	assert.NoError(t, err)

	sched, err := obs.NewSchedule([]float64{1, 2}, [][]float64{{0.1}, {0.2}})
	assert.NoError(t, err)

	pdf, ok := distmv.NewNormal([]float64{0}, mat.NewSymDense(1, []float64{1}), nil)
	assert.True(t, ok)
	kernel, err := likelihood.NewGaussian(model.Observe(mat.NewDense(1, 1, []float64{1})), 1, pdf)
	assert.NoError(t, err)

	out := sink.NewMemory()
	f, err := New(sm, sched, kernel, out)
	assert.NoError(t, err)

	s, err := state.New(p, 0, 1, 1)
	assert.NoError(t, err)

	return f, s, out
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	f, err := New(nil, nil, nil, nil)
	assert.Nil(f)
	assert.Error(err)
}

func TestPredictCorrect(t *testing.T) {
	assert := assert.New(t)

	f, s, _ := newFixture(t, 20)
	lw := make([]float64, 20)
	as := make([]int, 20)
	assert.NoError(f.Init(nil, s, lw, as))

	// predict stops at the next observation time, not at T
	assert.NoError(f.Predict(10, nil, s))
	assert.Equal(1.0, f.Time())
	assert.Equal(f.Sim().Time(), f.Time())

	// correct consumes the observation due at the filter time
	assert.NoError(f.Correct(nil, s, lw))
	changed := false
	for _, w := range lw {
		if w != 0 {
			changed = true
			break
		}
	}
	assert.True(changed)

	// a second correct at the same time is a no-op: the next observation
	// is not due yet
	snapshot := append([]float64(nil), lw...)
	assert.NoError(f.Correct(nil, s, lw))
	assert.Equal(snapshot, lw)

	// predict stops at the second observation; once correct consumes it the
	// schedule is exhausted and predict runs to T
	assert.NoError(f.Predict(10, nil, s))
	assert.Equal(2.0, f.Time())
	assert.NoError(f.Correct(nil, s, lw))
	assert.NoError(f.Predict(10, nil, s))
	assert.Equal(10.0, f.Time())
}

func TestOutputFlush(t *testing.T) {
	assert := assert.New(t)

	f, s, out := newFixture(t, 5)
	lw := make([]float64, 5)
	as := make([]int, 5)
	assert.NoError(f.Init(nil, s, lw, as))

	assert.NoError(f.Output(0, nil, s, true, lw, as))
	assert.NoError(f.Output(1, nil, s, false, lw, as))
	assert.Equal(2, f.LogWeightsCache().Size())
	assert.True(f.Resampled()[0])
	assert.False(f.Resampled()[1])

	assert.NoError(f.Flush())
	assert.Len(out.LogWeights(0), 5)
	assert.Len(out.Ancestors(1), 5)
	assert.False(out.Resampled(1))
	assert.Equal(0, f.LogWeightsCache().Size())
}

func TestTerm(t *testing.T) {
	assert := assert.New(t)

	f, _, _ := newFixture(t, 5)
	assert.NoError(f.Term(nil))

	// an outstanding snapshot is a leak
	mark := f.Sim().Mark()
	assert.Error(f.Term(nil))
	mark.Discard()
	assert.NoError(f.Term(nil))
}

func TestEstimate(t *testing.T) {
	assert := assert.New(t)

	f, s, _ := newFixture(t, 2)
	s.RowC(0)[0] = 1
	s.RowC(1)[0] = 3

	// equal weights: plain average
	est, err := f.Estimate(s, []float64{0, 0})
	assert.NoError(err)
	assert.InDelta(2.0, est.AtVec(0), 1e-12)

	// weight vector size must match
	_, err = f.Estimate(s, []float64{0})
	assert.Error(err)
}

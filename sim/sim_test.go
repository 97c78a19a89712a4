package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-smc/state"
)

// linearModel is a scalar test model: c <- a*c + g*r, d counts grid steps.
type linearModel struct {
	a, g float64
	np   int
}

func (m *linearModel) Dims() (nd, nc, nr, np int) { return 1, 1, 1, m.np }

func (m *linearModel) Init(d, c, theta []float64, rng *rand.Rand) {
	d[0] = 0
	c[0] = 1
}

func (m *linearModel) Step(t, dt float64, d, c, r, theta []float64) {
	d[0]++
	c[0] = m.a*c[0] + m.g*r[0]
}

func newState(t *testing.T, p int) *state.State {
	s, err := state.New(p, 1, 1, 1)
	assert.NoError(t, err)
	return s
}

func TestNew(t *testing.T) {
	assert := assert.New(t)

	sm, err := New(&linearModel{a: 1, g: 1}, 0, 0, 1)
	assert.Nil(sm)
	assert.Error(err)

	sm, err = New(&linearModel{a: 1, g: 1}, 0.5, 0, 1)
	assert.NotNil(sm)
	assert.NoError(err)
	assert.Equal(0.5, sm.Delta())
	assert.Equal(0.0, sm.Time())
	assert.Equal(0, sm.Marks())
}

func TestInit(t *testing.T) {
	assert := assert.New(t)

	sm, err := New(&linearModel{a: 1, g: 1}, 1, 0, 1)
	assert.NoError(err)

	s := newState(t, 3)
	assert.NoError(sm.Init(nil, s))
	for i := 0; i < s.Size(); i++ {
		assert.Equal(0.0, s.RowD(i)[0])
		assert.Equal(1.0, s.RowC(i)[0])
		assert.Equal(0.0, s.RowR(i)[0])
	}

	// mismatched state dimensions
	bad, err := state.New(3, 2, 1, 1)
	assert.NoError(err)
	assert.Error(sm.Init(nil, bad))

	// parameterised model requires theta of matching shape
	psm, err := New(&linearModel{a: 1, g: 1, np: 2}, 1, 0, 1)
	assert.NoError(err)
	assert.Error(psm.Init(nil, s))
	assert.Error(psm.Init(mat.NewDense(1, 1, nil), s))
	assert.Error(psm.Init(mat.NewDense(2, 2, nil), s))
	assert.NoError(psm.Init(mat.NewDense(1, 2, nil), s))
	assert.NoError(psm.Init(mat.NewDense(3, 2, nil), s))
}

func TestAdvanceGrid(t *testing.T) {
	assert := assert.New(t)

	// no noise: c follows a^n exactly
	sm, err := New(&linearModel{a: 2, g: 0}, 0.5, 0, 1)
	assert.NoError(err)

	s := newState(t, 2)
	assert.NoError(sm.Init(nil, s))

	// 0 -> 1.6 covers three whole grid steps
	assert.NoError(sm.Advance(1.6, nil, s))
	assert.Equal(1.6, sm.Time())
	for i := 0; i < s.Size(); i++ {
		assert.Equal(3.0, s.RowD(i)[0])
		assert.Equal(8.0, s.RowC(i)[0])
	}

	// 1.6 -> 2.0 covers the fourth step
	assert.NoError(sm.Advance(2.0, nil, s))
	assert.Equal(4.0, s.RowD(0)[0])
	assert.Equal(16.0, s.RowC(0)[0])

	// advancing to the current time is a no-op
	assert.NoError(sm.Advance(2.0, nil, s))
	assert.Equal(4.0, s.RowD(0)[0])

	// no going back
	assert.Error(sm.Advance(1.0, nil, s))
}

func TestAdvanceDeterminism(t *testing.T) {
	assert := assert.New(t)

	run := func() *mat.Dense {
		sm, err := New(&linearModel{a: 0.9, g: 0.3}, 1, 0, 99)
		assert.NoError(err)
		s := newState(t, 5)
		assert.NoError(sm.Init(nil, s))
		assert.NoError(sm.Advance(4, nil, s))
		snap, err := s.Save(nil)
		assert.NoError(err)
		return snap
	}

	assert.True(mat.Equal(run(), run()))
}

func TestBufferConsumption(t *testing.T) {
	assert := assert.New(t)

	sm, err := New(&linearModel{a: 1, g: 1}, 1, 0, 7)
	assert.NoError(err)

	s := newState(t, 2)
	assert.NoError(sm.Init(nil, s))

	// two pending chunks with fixed inputs: c = 1 + r1 + r2
	buf := sm.Buf()
	buf.Resize(2, 2)
	buf.Zero()
	buf.Chunk(0, 1).Set(0, 0, 0.25)
	buf.Chunk(1, 1).Set(0, 0, 0.5)
	buf.Chunk(0, 1).Set(1, 0, -1)
	buf.Chunk(1, 1).Set(1, 0, -2)
	sm.SetNext(2)

	assert.NoError(sm.Advance(2, nil, s))
	assert.Equal(1.75, s.RowC(0)[0])
	assert.Equal(-2.0, s.RowC(1)[0])

	// the last consumed chunk remains in the R group
	assert.Equal(0.5, s.RowR(0)[0])
	assert.Equal(-2.0, s.RowR(1)[0])
}

func TestMarkRestore(t *testing.T) {
	assert := assert.New(t)

	newSim := func() (*Simulator, *state.State) {
		sm, err := New(&linearModel{a: 0.8, g: 0.5}, 1, 0, 123)
		assert.NoError(err)
		s := newState(t, 4)
		assert.NoError(sm.Init(nil, s))
		assert.NoError(sm.Advance(2, nil, s))
		return sm, s
	}

	// control: no excursion
	ctrl, cs := newSim()
	assert.NoError(ctrl.Advance(5, nil, cs))
	want, err := cs.Save(nil)
	assert.NoError(err)

	// marked: excursion to t=4, state and stream restored
	sm, s := newSim()
	snap, err := s.Save(nil)
	assert.NoError(err)

	mark := sm.Mark()
	assert.Equal(1, sm.Marks())
	assert.NoError(sm.Advance(4, nil, s))
	assert.NoError(s.Load(snap))
	mark.Restore()
	assert.Equal(0, sm.Marks())
	assert.Equal(2.0, sm.Time())

	assert.NoError(sm.Advance(5, nil, s))
	got, err := s.Save(nil)
	assert.NoError(err)
	assert.True(mat.Equal(want, got))
}

func TestMarkRelease(t *testing.T) {
	assert := assert.New(t)

	sm, err := New(&linearModel{a: 1, g: 1}, 1, 0, 1)
	assert.NoError(err)

	// nested snapshots release in reverse order
	outer := sm.Mark()
	inner := sm.Mark()
	assert.Equal(2, sm.Marks())
	assert.Panics(func() { outer.Restore() })
	inner.Discard()
	outer.Restore()
	assert.Equal(0, sm.Marks())

	// double release
	mark := sm.Mark()
	mark.Discard()
	assert.Panics(func() { mark.Restore() })
}

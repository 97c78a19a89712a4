package sim

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/state"
)

// Simulator advances a set of particles through time with the Euler-Maruyama
// scheme on a fixed step grid of size delta. Random inputs are drawn from a
// PCG stream into the R group of the particle state, one draw per particle
// per grid step, unless pending chunks of the random input buffer have been
// armed with SetNext; then the buffer is consumed instead.
//
// Advance is deterministic given the buffer contents and the stream position.
// Mark snapshots time, buffer cursors and the full stream state, so an
// excursion between Mark and Restore is invisible to later calls.
type Simulator struct {
	model smc.Model
	delta float64
	t     float64
	t0    float64
	src   *rand.PCGSource
	rng   *rand.Rand
	buf   *state.Buffer
	// next is the number of pending buffer chunks, cursor the next chunk index
	next   int
	cursor int
	marks  int
}

// snapshot captures the restorable simulator internals.
type snapshot struct {
	sim    *Simulator
	t      float64
	next   int
	cursor int
	rng    []byte
	depth  int
	done   bool
}

// New creates new Simulator for model m with integration step delta, initial
// time t0 and random stream seed and returns it.
// It returns error if delta is not positive.
func New(m smc.Model, delta, t0 float64, seed uint64) (*Simulator, error) {
	if delta <= 0 {
		return nil, fmt.Errorf("invalid integration step: %f", delta)
	}

	src := &rand.PCGSource{}
	src.Seed(seed)

	return &Simulator{
		model: m,
		delta: delta,
		t:     t0,
		t0:    t0,
		src:   src,
		rng:   rand.New(src),
		buf:   state.NewBuffer(0, 0),
	}, nil
}

// Time returns the simulator time.
func (sm *Simulator) Time() float64 {
	return sm.t
}

// Delta returns the integration step size.
func (sm *Simulator) Delta() float64 {
	return sm.delta
}

// Buf returns the random input buffer consumed by Advance.
func (sm *Simulator) Buf() *state.Buffer {
	return sm.buf
}

// SetNext arms n pending buffer chunks. The following n grid steps of
// Advance read their random inputs from the buffer instead of the stream.
func (sm *Simulator) SetNext(n int) {
	sm.next = n
	sm.cursor = 0
}

// Marks returns the number of outstanding snapshots.
func (sm *Simulator) Marks() int {
	return sm.marks
}

// Init draws the initial particle values of s and rewinds the simulator to
// its initial time. The R group is zeroed; pending buffer chunks are dropped.
// It returns error if the state dimensions do not match the model.
func (sm *Simulator) Init(theta *mat.Dense, s *state.State) error {
	if err := sm.check(theta, s); err != nil {
		return err
	}

	for i := 0; i < s.Size(); i++ {
		sm.model.Init(s.RowD(i), s.RowC(i), state.ThetaRow(theta, i), sm.rng)
		if r := s.RowR(i); r != nil {
			for j := range r {
				r[j] = 0
			}
		}
	}

	sm.t = sm.t0
	sm.next, sm.cursor = 0, 0

	return nil
}

// Advance integrates the particles of s from the current time to t.
// The number of grid steps taken is floor(t/delta) - floor(time/delta);
// afterwards the simulator time is t.
// It returns error if t precedes the current time or the state dimensions
// do not match the model.
func (sm *Simulator) Advance(t float64, theta *mat.Dense, s *state.State) error {
	if t < sm.t {
		return fmt.Errorf("cannot advance backwards: %f < %f", t, sm.t)
	}
	if err := sm.check(theta, s); err != nil {
		return err
	}

	_, _, nr, _ := sm.model.Dims()
	nupdates := gridSteps(t, sm.delta) - gridSteps(sm.t, sm.delta)

	tcur := float64(gridSteps(sm.t, sm.delta)) * sm.delta
	for u := 0; u < nupdates; u++ {
		if nr > 0 {
			if sm.next > 0 {
				s.R().Copy(sm.buf.Chunk(sm.cursor, nr))
				sm.cursor++
				sm.next--
			} else {
				for i := 0; i < s.Size(); i++ {
					r := s.RowR(i)
					for j := range r {
						r[j] = sm.rng.NormFloat64()
					}
				}
			}
		}

		for i := 0; i < s.Size(); i++ {
			sm.model.Step(tcur, sm.delta, s.RowD(i), s.RowC(i), s.RowR(i), state.ThetaRow(theta, i))
		}
		tcur += sm.delta
	}

	sm.t = t

	return nil
}

// Mark snapshots the simulator internals and returns the restore token.
// Snapshots nest; tokens must be released in reverse order of acquisition.
func (sm *Simulator) Mark() smc.Snapshot {
	st, err := sm.src.MarshalBinary()
	if err != nil {
		// PCGSource marshaling is infallible; keep the contract loud
		panic(fmt.Sprintf("sim: failed to snapshot random stream: %v", err))
	}

	sm.marks++

	return &snapshot{
		sim:    sm,
		t:      sm.t,
		next:   sm.next,
		cursor: sm.cursor,
		rng:    st,
		depth:  sm.marks,
	}
}

// Restore rewinds the simulator to the marked point and drops the mark.
func (sn *snapshot) Restore() {
	sn.release()

	sm := sn.sim
	sm.t = sn.t
	sm.next = sn.next
	sm.cursor = sn.cursor
	if err := sm.src.UnmarshalBinary(sn.rng); err != nil {
		panic(fmt.Sprintf("sim: failed to restore random stream: %v", err))
	}
}

// Discard commits the excursion and drops the mark.
func (sn *snapshot) Discard() {
	sn.release()
}

func (sn *snapshot) release() {
	if sn.done {
		panic("sim: snapshot released twice")
	}
	if sn.depth != sn.sim.marks {
		panic("sim: snapshots released out of order")
	}
	sn.done = true
	sn.sim.marks--
}

func (sm *Simulator) check(theta *mat.Dense, s *state.State) error {
	nd, nc, nr, np := sm.model.Dims()
	snd, snc, snr := s.Dims()
	if snd != nd || snc != nc || snr != nr {
		return fmt.Errorf("state dimensions [%d, %d, %d] do not match model [%d, %d, %d]", snd, snc, snr, nd, nc, nr)
	}
	if np > 0 {
		if theta == nil {
			return fmt.Errorf("missing parameter matrix")
		}
		rows, cols := theta.Dims()
		if cols != np || (rows != 1 && rows != s.Size()) {
			return fmt.Errorf("invalid parameter matrix dimensions: [%d x %d]", rows, cols)
		}
	}

	return nil
}

// gridSteps returns the number of whole delta steps below t. A small
// tolerance absorbs accumulated floating point drift on the grid.
func gridSteps(t, delta float64) int {
	return int(math.Floor(t/delta + 1e-9))
}

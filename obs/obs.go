package obs

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Schedule is a finite sequence of timestamped observations with strictly
// increasing times. It implements smc.ObsIterator: NextTime and Peek read
// the upcoming observation without consuming it, Next advances the cursor.
type Schedule struct {
	times []float64
	ys    []*mat.VecDense
	cur   int
}

// NewSchedule creates new Schedule from observation times and vectors and
// returns it. It returns error if the sequences differ in length, the times
// are not strictly increasing or the observation vectors differ in size.
func NewSchedule(times []float64, ys [][]float64) (*Schedule, error) {
	if len(times) != len(ys) {
		return nil, fmt.Errorf("observation count mismatch: %d times, %d vectors", len(times), len(ys))
	}
	if len(times) == 0 {
		return nil, fmt.Errorf("empty observation schedule")
	}

	ny := len(ys[0])
	vecs := make([]*mat.VecDense, len(ys))
	for i := range ys {
		if i > 0 && times[i] <= times[i-1] {
			return nil, fmt.Errorf("observation times not strictly increasing at index %d", i)
		}
		if len(ys[i]) != ny {
			return nil, fmt.Errorf("invalid observation size at index %d: %d", i, len(ys[i]))
		}
		y := make([]float64, ny)
		copy(y, ys[i])
		vecs[i] = mat.NewVecDense(ny, y)
	}

	ts := make([]float64, len(times))
	copy(ts, times)

	return &Schedule{times: ts, ys: vecs}, nil
}

// Len returns the total number of observations in the schedule.
func (o *Schedule) Len() int {
	return len(o.times)
}

// HasNext returns true if observations remain.
func (o *Schedule) HasNext() bool {
	return o.cur < len(o.times)
}

// NextTime returns the time of the next observation without consuming it.
// It panics if the schedule is exhausted.
func (o *Schedule) NextTime() float64 {
	return o.times[o.cur]
}

// Peek returns the next observation vector without consuming it.
// It panics if the schedule is exhausted.
func (o *Schedule) Peek() mat.Vector {
	return o.ys[o.cur]
}

// Next consumes the next observation and returns its time and vector.
// It returns error if the schedule is exhausted.
func (o *Schedule) Next() (float64, mat.Vector, error) {
	if !o.HasNext() {
		return 0, nil, fmt.Errorf("observation schedule exhausted")
	}
	t, y := o.times[o.cur], o.ys[o.cur]
	o.cur++

	return t, y, nil
}

// Reset rewinds the schedule cursor to the first observation.
func (o *Schedule) Reset() {
	o.cur = 0
}

package sink

import (
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-smc/state"
)

// Memory is an in-process output sink keeping every stream in memory.
// It is the sink of choice for tests and for callers that post-process
// filter output within the same process.
type Memory struct {
	stage1    map[int][]float64
	stage2    map[int][]float64
	ancestors map[int][]int
	resampled map[int]bool
	states    map[int]*mat.Dense
	times     map[int]float64
}

// NewMemory creates new Memory sink and returns it.
func NewMemory() *Memory {
	return &Memory{
		stage1:    make(map[int][]float64),
		stage2:    make(map[int][]float64),
		ancestors: make(map[int][]int),
		resampled: make(map[int]bool),
		states:    make(map[int]*mat.Dense),
		times:     make(map[int]float64),
	}
}

// WriteStage1LogWeights stores a copy of the stage 1 log-weights of step k.
func (m *Memory) WriteStage1LogWeights(k int, lw []float64) error {
	m.stage1[k] = append([]float64(nil), lw...)
	return nil
}

// WriteLogWeights stores a copy of the stage 2 log-weights of step k.
func (m *Memory) WriteLogWeights(k int, lw []float64) error {
	m.stage2[k] = append([]float64(nil), lw...)
	return nil
}

// WriteAncestors stores a copy of the ancestry of step k.
func (m *Memory) WriteAncestors(k int, as []int) error {
	m.ancestors[k] = append([]int(nil), as...)
	return nil
}

// WriteResampled stores the resampled flag of step k.
func (m *Memory) WriteResampled(k int, r bool) error {
	m.resampled[k] = r
	return nil
}

// WriteState stores a snapshot of the particle state of step k.
func (m *Memory) WriteState(k int, t float64, s *state.State) error {
	snap, err := s.Save(nil)
	if err != nil {
		return err
	}
	m.states[k] = snap
	m.times[k] = t

	return nil
}

// Stage1LogWeights returns the stored stage 1 log-weights of step k.
func (m *Memory) Stage1LogWeights(k int) []float64 { return m.stage1[k] }

// LogWeights returns the stored stage 2 log-weights of step k.
func (m *Memory) LogWeights(k int) []float64 { return m.stage2[k] }

// Ancestors returns the stored ancestry of step k.
func (m *Memory) Ancestors(k int) []int { return m.ancestors[k] }

// Resampled returns the stored resampled flag of step k.
func (m *Memory) Resampled(k int) bool { return m.resampled[k] }

// State returns the stored particle snapshot of step k and its time.
func (m *Memory) State(k int) (*mat.Dense, float64) { return m.states[k], m.times[k] }

// Steps returns the number of steps with stored stage 2 log-weights.
func (m *Memory) Steps() int { return len(m.stage2) }

package smc

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/milosgajdos/go-smc/state"
)

// Model is a partially observed stochastic dynamical system described by
// four variable groups: deterministic (D), continuous stochastic (C),
// random input (R) and parameter (P).
type Model interface {
	// Dims returns the sizes of the D, C, R and P variable groups
	Dims() (nd, nc, nr, np int)
	// Init draws initial values for one particle into d and c
	Init(d, c, theta []float64, rng *rand.Rand)
	// Step advances one particle from time t by step dt.
	// r holds the random inputs driving the step.
	Step(t, dt float64, d, c, r, theta []float64)
}

// Snapshot is a token for a marked simulator excursion.
// Exactly one of Restore or Discard must be called.
type Snapshot interface {
	// Restore rewinds the simulator internals to the marked point
	Restore()
	// Discard commits the excursion and drops the mark
	Discard()
}

// Simulator advances particle state through time.
type Simulator interface {
	// Init draws initial particles into s and rewinds time to t0
	Init(theta *mat.Dense, s *state.State) error
	// Advance integrates s from the current time to t
	Advance(t float64, theta *mat.Dense, s *state.State) error
	// Time returns the simulator time
	Time() float64
	// Delta returns the integration step size
	Delta() float64
	// Mark snapshots simulator internals and returns the restore token
	Mark() Snapshot
	// Marks returns the number of outstanding snapshots
	Marks() int
	// Buf returns the random input buffer consumed by Advance
	Buf() *state.Buffer
	// SetNext sets the number of pending buffer chunks Advance consumes
	// before drawing fresh random inputs
	SetNext(n int)
}

// ObsIterator iterates over a schedule of timestamped observations.
type ObsIterator interface {
	// HasNext returns true if observations remain
	HasNext() bool
	// NextTime returns the next observation time without consuming it
	NextTime() float64
	// Peek returns the next observation vector without consuming it
	Peek() mat.Vector
	// Next consumes and returns the next observation time and vector
	Next() (float64, mat.Vector, error)
}

// Kernel computes per-particle observation log-likelihoods.
type Kernel interface {
	// LogLikelihood adds log p(y|particle i) into lw[i] for every particle in s
	LogLikelihood(s *state.State, theta *mat.Dense, y mat.Vector, lw []float64) error
}

// Resampler draws a new particle set from the current one.
// Both entry points select ancestors from the stage 1 log-weights lw1,
// write them into as, rearrange the particle rows of s accordingly and
// overwrite lw2 with the post-resampling log-weights.
type Resampler interface {
	// Resample resamples the particles of s
	Resample(lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error
	// ResampleConditional resamples the particles of s with the ancestor
	// of the first particle pinned to a
	ResampleConditional(a int, lw1, lw2 []float64, as []int, theta *mat.Dense, s *state.State) error
}

// OutputSink receives per-step filter output streams keyed by step index.
type OutputSink interface {
	// WriteStage1LogWeights writes the stage 1 log-weights of step k
	WriteStage1LogWeights(k int, lw []float64) error
	// WriteLogWeights writes the stage 2 log-weights of step k
	WriteLogWeights(k int, lw []float64) error
	// WriteAncestors writes the ancestry of step k
	WriteAncestors(k int, as []int) error
	// WriteResampled writes the resampled flag of step k
	WriteResampled(k int, r bool) error
	// WriteState writes the particle state of step k valid at time t
	WriteState(k int, t float64, s *state.State) error
}

// Noise is a random signal source
type Noise interface {
	// Sample returns a sample of the noise
	Sample() mat.Vector
	// Cov returns covariance matrix of the noise
	Cov() mat.Symmetric
	// Mean returns noise mean
	Mean() []float64
	// Reset resets the noise
	Reset() error
}

// InitCond is an initial condition of a filter
type InitCond interface {
	// State returns initial filter state
	State() mat.Vector
	// Cov returns initial state covariance
	Cov() mat.Symmetric
}

// Estimate is a filter estimate
type Estimate interface {
	// State returns the state estimate
	State() mat.Vector
	// Covariance returns the covariance of the estimate
	Covariance() mat.Symmetric
}

// Filter is a sequential Monte Carlo filter over an observation schedule.
type Filter interface {
	// Filter runs the filter until time T
	Filter(T float64, theta *mat.Dense, s *state.State, resam Resampler, relEss float64) error
	// Summarise returns the marginal log-likelihood estimate together with
	// its per-step increments and per-step effective sample sizes
	Summarise() (ll float64, lls []float64, ess []float64, err error)
}

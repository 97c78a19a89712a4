package pf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/cache"
	"github.com/milosgajdos/go-smc/state"
	"github.com/milosgajdos/go-smc/weight"
)

// PF is the base particle filter. It owns the filter time, the per-step
// output caches and the predict/correct primitives shared by the concrete
// filters built on top of it. Observations are consumed exactly once, by
// Correct; Predict advances the simulator to the next observation time.
type PF struct {
	// sim advances particle state
	sim smc.Simulator
	// obs is the observation schedule
	obs smc.ObsIterator
	// kernel scores particles against observations
	kernel smc.Kernel
	// out is the output sink; nil disables persisted output
	out smc.OutputSink
	// t is the time up to which particle state is valid
	t float64
	// lwCache caches per-step log-weights
	lwCache *cache.Cache2D[float64]
	// asCache caches per-step ancestry
	asCache *cache.Cache2D[int]
	// flags records whether resampling preceded each step
	flags []bool
}

// New creates new base particle filter and returns it.
// It returns error if sim, obs or kernel is nil.
func New(sim smc.Simulator, obs smc.ObsIterator, kernel smc.Kernel, out smc.OutputSink) (*PF, error) {
	if sim == nil {
		return nil, fmt.Errorf("missing simulator")
	}
	if obs == nil {
		return nil, fmt.Errorf("missing observation schedule")
	}
	if kernel == nil {
		return nil, fmt.Errorf("missing log-likelihood kernel")
	}

	return &PF{
		sim:     sim,
		obs:     obs,
		kernel:  kernel,
		out:     out,
		lwCache: cache.New[float64](),
		asCache: cache.New[int](),
	}, nil
}

// Sim returns the filter simulator.
func (f *PF) Sim() smc.Simulator { return f.sim }

// Obs returns the filter observation schedule.
func (f *PF) Obs() smc.ObsIterator { return f.obs }

// Kernel returns the filter log-likelihood kernel.
func (f *PF) Kernel() smc.Kernel { return f.kernel }

// Out returns the filter output sink. It is nil if none is configured.
func (f *PF) Out() smc.OutputSink { return f.out }

// Time returns the time up to which the particle state is valid.
func (f *PF) Time() float64 { return f.t }

// LogWeightsCache returns the per-step log-weight cache.
func (f *PF) LogWeightsCache() *cache.Cache2D[float64] { return f.lwCache }

// AncestorsCache returns the per-step ancestry cache.
func (f *PF) AncestorsCache() *cache.Cache2D[int] { return f.asCache }

// Resampled returns the per-step resampled flags.
func (f *PF) Resampled() []bool { return f.flags }

// Init draws the initial particles of s, zeroes the log-weights, sets the
// ancestry to the identity and rewinds the filter time.
// It returns error if the weight and ancestry vectors differ in size or the
// simulator fails to initialise the state.
func (f *PF) Init(theta *mat.Dense, s *state.State, lw []float64, as []int) error {
	if len(lw) != len(as) || len(lw) != s.Size() {
		return fmt.Errorf("size mismatch: %d weights, %d ancestors, %d particles", len(lw), len(as), s.Size())
	}

	if err := f.sim.Init(theta, s); err != nil {
		return fmt.Errorf("failed to initialise particles: %v", err)
	}

	for i := range lw {
		lw[i] = 0
		as[i] = i
	}
	f.t = f.sim.Time()

	f.lwCache.Clean()
	f.asCache.Clean()
	f.flags = f.flags[:0]

	return nil
}

// Normalise shifts the log-weights by their maximum.
func (f *PF) Normalise(lw []float64) {
	weight.Normalise(lw)
}

// Predict advances the particle state to the next observation time or to T,
// whichever comes first.
func (f *PF) Predict(T float64, theta *mat.Dense, s *state.State) error {
	target := T
	if f.obs.HasNext() {
		if to := f.obs.NextTime(); to < target {
			target = to
		}
	}
	if target < f.t {
		return fmt.Errorf("target time precedes filter time: %f < %f", target, f.t)
	}

	if err := f.sim.Advance(target, theta, s); err != nil {
		return fmt.Errorf("failed to advance particles: %v", err)
	}
	f.t = target

	return nil
}

// Correct consumes the observation due at the filter time, if any, and adds
// its per-particle log-likelihood into lw.
func (f *PF) Correct(theta *mat.Dense, s *state.State, lw []float64) error {
	if !f.obs.HasNext() || f.obs.NextTime() > f.t {
		return nil
	}

	_, y, err := f.obs.Next()
	if err != nil {
		return err
	}

	if err := f.kernel.LogLikelihood(s, theta, y, lw); err != nil {
		return fmt.Errorf("failed to compute log-likelihood: %v", err)
	}

	return nil
}

// Output caches the log-weights and ancestry of step k together with the
// resampled flag r, and writes the particle state to the output sink when
// one is configured.
func (f *PF) Output(k int, theta *mat.Dense, s *state.State, r bool, lw []float64, as []int) error {
	f.lwCache.Put(k, lw)
	f.asCache.Put(k, as)
	for len(f.flags) <= k {
		f.flags = append(f.flags, false)
	}
	f.flags[k] = r

	if f.out != nil {
		if err := f.out.WriteState(k, f.t, s); err != nil {
			return fmt.Errorf("failed to write state: %v", err)
		}
	}

	return nil
}

// Flush writes the cached log-weights, ancestry and resampled flags to the
// output sink and cleans the caches. On a sink write failure the caches are
// retained so the caller may retry.
func (f *PF) Flush() error {
	if f.out == nil {
		return nil
	}
	if !f.lwCache.IsValid() || !f.asCache.IsValid() || len(f.flags) < f.lwCache.Size() {
		return fmt.Errorf("incomplete output caches")
	}

	for k := 0; k < f.lwCache.Size(); k++ {
		if err := f.out.WriteLogWeights(k, f.lwCache.Get(k)); err != nil {
			return err
		}
		if err := f.out.WriteAncestors(k, f.asCache.Get(k)); err != nil {
			return err
		}
		if err := f.out.WriteResampled(k, f.flags[k]); err != nil {
			return err
		}
	}

	f.lwCache.Clean()
	f.asCache.Clean()
	f.flags = nil

	return nil
}

// Term finishes a filter pass. It verifies that every simulator snapshot
// taken during the pass was released.
func (f *PF) Term(theta *mat.Dense) error {
	if n := f.sim.Marks(); n != 0 {
		return fmt.Errorf("unbalanced simulator snapshots: %d outstanding", n)
	}

	return nil
}

// Estimate returns the weighted mean of the D|C particle state under the
// log-weights lw.
func (f *PF) Estimate(s *state.State, lw []float64) (mat.Vector, error) {
	if len(lw) != s.Size() {
		return nil, fmt.Errorf("invalid weight vector size: %d", len(lw))
	}

	nd, nc, _ := s.Dims()
	mean := mat.NewVecDense(nd+nc, nil)

	max := math.Inf(-1)
	for _, w := range lw {
		if w > max {
			max = w
		}
	}
	if math.IsInf(max, -1) {
		return nil, fmt.Errorf("degenerate weights: no particle has mass")
	}

	var sum float64
	for i := 0; i < s.Size(); i++ {
		w := math.Exp(lw[i] - max)
		sum += w
		for j, v := range s.RowD(i) {
			mean.SetVec(j, mean.AtVec(j)+w*v)
		}
		for j, v := range s.RowC(i) {
			mean.SetVec(nd+j, mean.AtVec(nd+j)+w*v)
		}
	}
	mean.ScaleVec(1/sum, mean)

	return mean, nil
}

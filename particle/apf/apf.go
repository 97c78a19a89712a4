package apf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/cache"
	"github.com/milosgajdos/go-smc/particle/pf"
	"github.com/milosgajdos/go-smc/state"
	"github.com/milosgajdos/go-smc/weight"
)

// APF is an auxiliary particle filter with deterministic lookahead.
//
// Ahead of every resampling decision the filter simulates the particles
// forward to the next observation time with zeroed random inputs, scores the
// predicted state against the upcoming observation and folds the result into
// the stage 1 log-weights. Resampling, when the effective sample size of the
// stage 1 weights calls for it, therefore favours ancestors whose expected
// trajectory explains the next observation. The particle state is restored
// before the proper time update, so the excursion leaves no trace.
//
// Stage 2 log-weights carry the filtering posterior; stage 1 log-weights are
// cached per step alongside them and written to the output sink on Flush.
type APF struct {
	*pf.PF
	// stage1 caches per-step stage 1 log-weights
	stage1 *cache.Cache2D[float64]
	// snap is the lookahead state snapshot, reused across steps
	snap *mat.Dense
}

// New creates new auxiliary particle filter and returns it.
// It returns error if sim, obs or kernel is nil.
func New(sim smc.Simulator, obs smc.ObsIterator, kernel smc.Kernel, out smc.OutputSink) (*APF, error) {
	base, err := pf.New(sim, obs, kernel, out)
	if err != nil {
		return nil, err
	}

	return &APF{
		PF:     base,
		stage1: cache.New[float64](),
	}, nil
}

// Stage1Cache returns the per-step stage 1 log-weight cache.
func (f *APF) Stage1Cache() *cache.Cache2D[float64] { return f.stage1 }

// Init draws the initial particles of s, zeroes both stage log-weight
// vectors, sets the ancestry to the identity and rewinds the filter time.
// It returns error if the vectors differ in size.
func (f *APF) Init(theta *mat.Dense, s *state.State, lw1, lw2 []float64, as []int) error {
	if len(lw2) != len(as) {
		return fmt.Errorf("size mismatch: %d stage 2 weights, %d ancestors", len(lw2), len(as))
	}

	if err := f.PF.Init(theta, s, lw1, as); err != nil {
		return err
	}

	for i := range lw2 {
		lw2[i] = 0
	}
	f.stage1.Clean()

	return nil
}

// Resample decides whether to resample the particles of s ahead of the next
// observation and carries the resampling out when the decision falls.
//
// The stage 2 log-weights are normalised and seeded into the stage 1 vector;
// the lookahead augments the stage 1 vector with the predictive
// log-likelihood of the upcoming observation. Resampling fires when
// relEss >= 1 or the effective sample size of the stage 1 weights drops to
// relEss times the particle count. When it does not fire, the stage 1
// weights are reset to the stage 2 weights and the ancestry to the identity.
// It returns true if resampling was performed.
func (f *APF) Resample(T float64, theta *mat.Dense, s *state.State, lw1, lw2 []float64, as []int, resam smc.Resampler, relEss float64) (bool, error) {
	return f.resample(T, theta, s, -1, lw1, lw2, as, resam, relEss)
}

// ResampleConditional is Resample with the ancestor of the first particle
// pinned to a whenever resampling fires.
func (f *APF) ResampleConditional(T float64, theta *mat.Dense, s *state.State, a int, lw1, lw2 []float64, as []int, resam smc.Resampler, relEss float64) (bool, error) {
	if a < 0 || a >= s.Size() {
		return false, fmt.Errorf("conditioned ancestor out of range: %d", a)
	}

	return f.resample(T, theta, s, a, lw1, lw2, as, resam, relEss)
}

// resample implements both resampling entry points: a negative a selects the
// unconditional variant.
func (f *APF) resample(T float64, theta *mat.Dense, s *state.State, a int, lw1, lw2 []float64, as []int, resam smc.Resampler, relEss float64) (bool, error) {
	if len(lw1) != len(lw2) {
		return false, fmt.Errorf("size mismatch: %d stage 1 weights, %d stage 2 weights", len(lw1), len(lw2))
	}

	r := false
	f.Normalise(lw2)
	if f.Obs().HasNext() {
		to := f.Obs().NextTime()
		copy(lw1, lw2)
		if resam != nil && to > f.Time() {
			if err := f.lookahead(T, theta, s, lw1); err != nil {
				return false, err
			}

			if relEss >= 1.0 || weight.ESS(lw1) <= float64(s.Size())*relEss {
				var err error
				if a < 0 {
					err = resam.Resample(lw1, lw2, as, theta, s)
				} else {
					err = resam.ResampleConditional(a, lw1, lw2, as, theta, s)
				}
				if err != nil {
					return false, fmt.Errorf("resampling failed: %v", err)
				}
				r = true
			}

			if f.Sim().Time() != f.Time() {
				return r, fmt.Errorf("simulator time diverged from filter time: %f != %f", f.Sim().Time(), f.Time())
			}
		}
	}

	if !r {
		copy(lw1, lw2)
		for i := range as {
			as[i] = i
		}
	}

	return r, nil
}

// lookahead folds the predictive log-likelihood of the upcoming observation
// into the stage 1 log-weights lw1.
//
// The particles are advanced to the observation time on their expected
// trajectory: the simulator's random input buffer is resized to cover the
// interval and zero-filled, so no fresh randomness enters the excursion.
// Particle state and simulator internals are restored before returning;
// only lw1 is mutated.
func (f *APF) lookahead(T float64, theta *mat.Dense, s *state.State, lw1 []float64) error {
	if !f.Obs().HasNext() {
		return nil
	}
	to := f.Obs().NextTime()
	if to > T {
		return nil
	}

	_, _, nr := s.Dims()
	delta := f.Sim().Delta()
	nupdates := gridSteps(to, delta) - gridSteps(f.Time(), delta)

	snap, err := s.Save(f.snap)
	if err != nil {
		return err
	}
	f.snap = snap
	mark := f.Sim().Mark()

	buf := f.Sim().Buf()
	buf.Resize(s.Size(), nr*nupdates)
	buf.Zero()
	f.Sim().SetNext(nupdates)

	err = f.Sim().Advance(to, theta, s)
	if err == nil {
		err = f.Kernel().LogLikelihood(s, theta, f.Obs().Peek(), lw1)
	}

	if lerr := s.Load(snap); lerr != nil && err == nil {
		err = lerr
	}
	mark.Restore()

	return err
}

// Filter runs the filter from its initial time until T.
// It returns error if T does not exceed the initial time or relEss lies
// outside [0, 1].
func (f *APF) Filter(T float64, theta *mat.Dense, s *state.State, resam smc.Resampler, relEss float64) error {
	lw1, lw2, as, err := f.begin(T, theta, s, relEss)
	if err != nil {
		return err
	}

	return f.loop(T, theta, s, lw1, lw2, as, resam, relEss)
}

// FilterFrom runs the filter until T with every particle seeded from the
// initial state x0 laid out as D|C|P.
// It returns error if x0 has wrong size.
func (f *APF) FilterFrom(T float64, x0 mat.Vector, theta *mat.Dense, s *state.State, resam smc.Resampler, relEss float64) error {
	lw1, lw2, as, err := f.begin(T, theta, s, relEss)
	if err != nil {
		return err
	}

	if err := seedRows(x0, theta, s); err != nil {
		return err
	}

	return f.loop(T, theta, s, lw1, lw2, as, resam, relEss)
}

// FilterConditional runs the conditional variant of the filter until T: the
// first particle descends from ancestor a and its state is overwritten after
// every prediction with the step's column of the reference trajectory
// matrices xd, xc and xr.
// It returns error if the reference trajectory is too short or a is out of
// range.
func (f *APF) FilterConditional(T float64, theta *mat.Dense, s *state.State, xd, xc, xr *mat.Dense, a int, resam smc.Resampler, relEss float64) error {
	if resam == nil {
		return fmt.Errorf("missing resampler")
	}
	if a < 0 || a >= s.Size() {
		return fmt.Errorf("conditioned ancestor out of range: %d", a)
	}

	lw1, lw2, as, err := f.begin(T, theta, s, relEss)
	if err != nil {
		return err
	}

	n := 0
	for f.Time() < T {
		r, err := f.ResampleConditional(T, theta, s, a, lw1, lw2, as, resam, relEss)
		if err != nil {
			return err
		}

		if err := f.Predict(T, theta, s); err != nil {
			return err
		}

		// overwrite first particle with the conditioned particle
		d, c, rr, err := refColumns(xd, xc, xr, n, s)
		if err != nil {
			return err
		}
		s.SetRow(0, d, c, rr)

		if err := f.Correct(theta, s, lw2); err != nil {
			return err
		}
		if err := f.Output(n, theta, s, r, lw1, lw2, as); err != nil {
			return err
		}
		n++
	}

	return f.Term(theta)
}

// begin validates the run parameters, allocates the weight and ancestry
// vectors and initialises the filter.
func (f *APF) begin(T float64, theta *mat.Dense, s *state.State, relEss float64) (lw1, lw2 []float64, as []int, err error) {
	if relEss < 0 || relEss > 1 {
		return nil, nil, nil, fmt.Errorf("invalid relative ESS threshold: %f", relEss)
	}

	p := s.Size()
	lw1 = make([]float64, p)
	lw2 = make([]float64, p)
	as = make([]int, p)

	if err := f.Init(theta, s, lw1, lw2, as); err != nil {
		return nil, nil, nil, err
	}

	if T <= f.Time() {
		return nil, nil, nil, fmt.Errorf("end time does not exceed filter time: %f <= %f", T, f.Time())
	}

	return lw1, lw2, as, nil
}

// loop is the filter loop: resample, predict, correct, output.
func (f *APF) loop(T float64, theta *mat.Dense, s *state.State, lw1, lw2 []float64, as []int, resam smc.Resampler, relEss float64) error {
	n := 0
	for f.Time() < T {
		r, err := f.Resample(T, theta, s, lw1, lw2, as, resam, relEss)
		if err != nil {
			return err
		}
		if err := f.Predict(T, theta, s); err != nil {
			return err
		}
		if err := f.Correct(theta, s, lw2); err != nil {
			return err
		}
		if err := f.Output(n, theta, s, r, lw1, lw2, as); err != nil {
			return err
		}
		n++
	}

	return f.Term(theta)
}

// Output records the step through the base filter and caches the stage 1
// log-weights. The cached vector is whatever lw1 holds at output time:
// lookahead-augmented weights when resampling fired at this step, the
// normalised entering weights when it did not.
func (f *APF) Output(k int, theta *mat.Dense, s *state.State, r bool, lw1, lw2 []float64, as []int) error {
	if err := f.PF.Output(k, theta, s, r, lw2, as); err != nil {
		return err
	}
	f.stage1.Put(k, lw1)

	return nil
}

// Flush writes all cached output streams to the output sink and cleans the
// caches. On a sink write failure the remaining caches are retained so the
// caller may retry.
func (f *APF) Flush() error {
	if err := f.PF.Flush(); err != nil {
		return err
	}

	if f.Out() == nil {
		return nil
	}
	if !f.stage1.IsValid() {
		return fmt.Errorf("incomplete stage 1 cache")
	}
	for k := 0; k < f.stage1.Size(); k++ {
		if err := f.Out().WriteStage1LogWeights(k, f.stage1.Get(k)); err != nil {
			return err
		}
	}
	f.stage1.Clean()

	return nil
}

// Summarise computes the marginal log-likelihood estimate from the cached
// stage 2 log-weights; the stage 1 cache must be complete but its values do
// not enter the estimate. It returns the total estimate, the per-step
// increments and the per-step effective sample sizes of the stage 2 weights.
// It must be called before Flush cleans the caches.
func (f *APF) Summarise() (ll float64, lls []float64, ess []float64, err error) {
	k := f.stage1.Size()
	if k == 0 || k != f.LogWeightsCache().Size() {
		return 0, nil, nil, fmt.Errorf("incomplete weight caches")
	}

	stage1 := make([][]float64, k)
	stage2 := make([][]float64, k)
	for i := 0; i < k; i++ {
		stage1[i] = f.stage1.Get(i)
		stage2[i] = f.LogWeightsCache().Get(i)
		if stage1[i] == nil || stage2[i] == nil {
			return 0, nil, nil, fmt.Errorf("incomplete weight caches")
		}
	}

	return weight.Summarise(stage1, stage2)
}

// LogWeights returns the stage 2 log-weights of the latest step.
func (f *APF) LogWeights() mat.Vector {
	k := f.LogWeightsCache().Size()
	if k == 0 {
		return nil
	}
	lw := f.LogWeightsCache().Get(k - 1)
	data := make([]float64, len(lw))
	copy(data, lw)

	return mat.NewVecDense(len(data), data)
}

// seedRows overwrites every particle row of s and the parameter matrix from
// the initial state vector x0 laid out as D|C|P.
func seedRows(x0 mat.Vector, theta *mat.Dense, s *state.State) error {
	nd, nc, _ := s.Dims()
	np := 0
	if theta != nil {
		_, np = theta.Dims()
	}
	if x0.Len() != nd+nc+np {
		return fmt.Errorf("invalid initial state size: %d", x0.Len())
	}

	for i := 0; i < s.Size(); i++ {
		for j := 0; j < nd; j++ {
			s.RowD(i)[j] = x0.AtVec(j)
		}
		for j := 0; j < nc; j++ {
			s.RowC(i)[j] = x0.AtVec(nd + j)
		}
	}
	if theta != nil {
		rows, _ := theta.Dims()
		for i := 0; i < rows; i++ {
			for j := 0; j < np; j++ {
				theta.Set(i, j, x0.AtVec(nd+nc+j))
			}
		}
	}

	return nil
}

// refColumns extracts column n of the reference trajectory matrices,
// validating their shape against the state dimensions.
func refColumns(xd, xc, xr *mat.Dense, n int, s *state.State) (d, c, r []float64, err error) {
	nd, nc, nr := s.Dims()

	col := func(m *mat.Dense, rows int, name string) ([]float64, error) {
		if rows == 0 {
			return nil, nil
		}
		if m == nil {
			return nil, fmt.Errorf("missing reference trajectory %s", name)
		}
		mr, mc := m.Dims()
		if mr != rows {
			return nil, fmt.Errorf("invalid reference trajectory %s rows: %d", name, mr)
		}
		if n >= mc {
			return nil, fmt.Errorf("reference trajectory %s too short: %d steps", name, mc)
		}
		out := make([]float64, rows)
		mat.Col(out, n, m)

		return out, nil
	}

	if d, err = col(xd, nd, "xd"); err != nil {
		return nil, nil, nil, err
	}
	if c, err = col(xc, nc, "xc"); err != nil {
		return nil, nil, nil, err
	}
	if r, err = col(xr, nr, "xr"); err != nil {
		return nil, nil, nil, err
	}

	return d, c, r, nil
}

// gridSteps returns the number of whole delta steps below t. A small
// tolerance absorbs accumulated floating point drift on the grid.
func gridSteps(t, delta float64) int {
	return int(math.Floor(t/delta + 1e-9))
}

package weight

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Normalise shifts the log-weights in lw by their maximum.
// Relative weights are unchanged; subsequent exponentiation can not overflow.
// Degenerate vectors with no finite weight are left untouched.
func Normalise(lw []float64) {
	if len(lw) == 0 {
		return
	}
	max := floats.Max(lw)
	if math.IsInf(max, -1) {
		return
	}
	for i := range lw {
		lw[i] -= max
	}
}

// LogSumExp returns log(sum(exp(lw))) computed against the maximum weight.
// It returns -Inf when no weight is finite: impossible particles contribute
// zero mass.
func LogSumExp(lw []float64) float64 {
	if len(lw) == 0 {
		return math.Inf(-1)
	}
	max := floats.Max(lw)
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}

	sum := 0.0
	for _, w := range lw {
		sum += math.Exp(w - max)
	}

	return max + math.Log(sum)
}

// LogMeanExp returns log(mean(exp(lw))).
func LogMeanExp(lw []float64) float64 {
	if len(lw) == 0 {
		return math.Inf(-1)
	}

	return LogSumExp(lw) - math.Log(float64(len(lw)))
}

// ESS returns the effective sample size (sum w)^2 / sum w^2 of the weights
// w = exp(lw). It is invariant to a common shift of lw. It returns 0 when
// no weight is finite.
func ESS(lw []float64) float64 {
	if len(lw) == 0 {
		return 0
	}
	max := floats.Max(lw)
	if math.IsInf(max, -1) {
		return 0
	}

	var sum, sumSq float64
	for _, w := range lw {
		v := math.Exp(w - max)
		sum += v
		sumSq += v * v
	}

	return sum * sum / sumSq
}

// Summarise computes the auxiliary particle filter marginal log-likelihood
// estimate from the cached per-step stage 2 log-weight vectors. The stage 1
// vectors are checked for count and size only; their values do not enter the
// estimate. It returns the total estimate ll, the per-step increments lls and
// the per-step effective sample sizes computed from the stage 2 weights.
//
// The increment of step k is logsumexp(stage2[k]) less the log-mass of the
// weights the step started from: the previous stage 2 vector after
// normalisation, or the uniform initial weights at k = 0. A step whose
// particles are all impossible yields -Inf and the total is -Inf.
func Summarise(stage1, stage2 [][]float64) (ll float64, lls, ess []float64, err error) {
	if len(stage1) != len(stage2) {
		return 0, nil, nil, fmt.Errorf("cache size mismatch: %d != %d", len(stage1), len(stage2))
	}
	if len(stage2) == 0 {
		return 0, nil, nil, fmt.Errorf("empty caches")
	}

	p := len(stage2[0])
	lls = make([]float64, len(stage2))
	ess = make([]float64, len(stage2))

	pre := math.Log(float64(p))
	for k := range stage2 {
		if len(stage1[k]) != p || len(stage2[k]) != p {
			return 0, nil, nil, fmt.Errorf("invalid weight vector size at step %d", k)
		}

		lse := LogSumExp(stage2[k])
		ess[k] = ESS(stage2[k])

		if math.IsInf(lse, -1) {
			lls[k] = math.Inf(-1)
			// weight vector carries no information; the next step starts
			// from whatever the resampler recovers, with uniform mass
			pre = math.Log(float64(p))
		} else {
			lls[k] = lse - pre
			pre = lse - floats.Max(stage2[k])
		}
	}

	ll = 0.0
	for _, l := range lls {
		ll += l
	}

	return ll, lls, ess, nil
}

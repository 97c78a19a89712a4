package weight

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalise(t *testing.T) {
	assert := assert.New(t)

	lw := []float64{1, 3, 2}
	Normalise(lw)
	assert.Equal([]float64{-2, 0, -1}, lw)

	// degenerate vectors are left untouched
	inf := math.Inf(-1)
	lw = []float64{inf, inf}
	Normalise(lw)
	assert.Equal([]float64{inf, inf}, lw)

	Normalise(nil)
}

func TestLogSumExp(t *testing.T) {
	assert := assert.New(t)

	assert.InDelta(math.Log(3), LogSumExp([]float64{0, 0, 0}), 1e-12)
	assert.InDelta(math.Log(1+math.E), LogSumExp([]float64{0, 1}), 1e-12)

	// a -Inf entry contributes zero mass
	assert.InDelta(0, LogSumExp([]float64{0, math.Inf(-1)}), 1e-12)

	// no finite mass
	assert.True(math.IsInf(LogSumExp([]float64{math.Inf(-1), math.Inf(-1)}), -1))
	assert.True(math.IsInf(LogSumExp(nil), -1))

	// shift invariance up to the shift itself
	assert.InDelta(LogSumExp([]float64{1, 2})-1000, LogSumExp([]float64{-999, -998}), 1e-9)

	assert.InDelta(0, LogMeanExp([]float64{0, 0, 0}), 1e-12)
}

func TestESS(t *testing.T) {
	assert := assert.New(t)

	// equal weights: ESS equals the particle count
	assert.InDelta(4, ESS([]float64{0, 0, 0, 0}), 1e-12)
	assert.InDelta(4, ESS([]float64{-3, -3, -3, -3}), 1e-12)

	// one dominant particle: ESS approaches 1
	ess := ESS([]float64{0, -1000, -1000, -1000})
	assert.InDelta(1, ess, 1e-9)

	// bounds for a non-degenerate vector
	ess = ESS([]float64{0, -1, -2, -0.5})
	assert.True(ess >= 1 && ess <= 4)

	// shift invariance
	assert.InDelta(ESS([]float64{0, -1, -2}), ESS([]float64{7, 6, 5}), 1e-12)

	// degenerate weights
	assert.Equal(0.0, ESS([]float64{math.Inf(-1), math.Inf(-1)}))
	assert.Equal(0.0, ESS(nil))
}

func TestSummarise(t *testing.T) {
	assert := assert.New(t)

	// size mismatches
	_, _, _, err := Summarise([][]float64{{0}}, nil)
	assert.Error(err)
	_, _, _, err = Summarise(nil, nil)
	assert.Error(err)
	_, _, _, err = Summarise([][]float64{{0, 0}}, [][]float64{{0}})
	assert.Error(err)

	// two steps, two particles:
	// step 0 enters with uniform mass 2, accumulates weights {0, 0}
	// step 1 enters with mass 2 after normalisation, accumulates {log2, 0}
	stage1 := [][]float64{{0, 0}, {0, 0}}
	stage2 := [][]float64{{0, 0}, {math.Log(2), 0}}

	ll, lls, ess, err := Summarise(stage1, stage2)
	assert.NoError(err)
	assert.Len(lls, 2)
	assert.InDelta(0, lls[0], 1e-12)
	assert.InDelta(math.Log(3)-math.Log(2), lls[1], 1e-12)
	assert.InDelta(math.Log(3)-math.Log(2), ll, 1e-12)
	assert.InDelta(2, ess[0], 1e-12)
	assert.InDelta(9.0/5.0, ess[1], 1e-12)
}

func TestSummariseDegenerate(t *testing.T) {
	assert := assert.New(t)

	inf := math.Inf(-1)
	stage1 := [][]float64{{0, 0}, {0, 0}}
	stage2 := [][]float64{{inf, inf}, {0, 0}}

	ll, lls, ess, err := Summarise(stage1, stage2)
	assert.NoError(err)
	assert.True(math.IsInf(lls[0], -1))
	assert.True(math.IsInf(ll, -1))
	assert.Equal(0.0, ess[0])
	// the filter continues past a degenerate step
	assert.InDelta(0, lls[1], 1e-12)
}

package estimate

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/milosgajdos/go-smc/state"
)

// Base is base estimate
type Base struct {
	// state is the state estimate
	state mat.Vector
	// cov is the estimate covariance
	cov mat.Symmetric
}

// NewBase returns base estimate with the given state and covariance.
func NewBase(st mat.Vector, cov mat.Symmetric) *Base {
	return &Base{
		state: st,
		cov:   cov,
	}
}

// State returns the state estimate
func (b *Base) State() mat.Vector {
	return b.state
}

// Covariance returns the covariance of the estimate
func (b *Base) Covariance() mat.Symmetric {
	return b.cov
}

// NewWeighted computes the weighted posterior mean and covariance of the
// D|C particle state of s under the log-weights lw and returns them as a
// Base estimate.
// It returns error if lw has wrong size or carries no probability mass.
func NewWeighted(s *state.State, lw []float64) (*Base, error) {
	if len(lw) != s.Size() {
		return nil, fmt.Errorf("invalid weight vector size: %d", len(lw))
	}

	max := floats.Max(lw)
	if math.IsInf(max, -1) {
		return nil, fmt.Errorf("degenerate weights: no particle has mass")
	}

	w := make([]float64, len(lw))
	var sum float64
	for i, v := range lw {
		w[i] = math.Exp(v - max)
		sum += w[i]
	}
	floats.Scale(1/sum, w)

	nd, nc, _ := s.Dims()
	n := nd + nc
	x := mat.NewDense(s.Size(), n, nil)
	for i := 0; i < s.Size(); i++ {
		row := x.RawRowView(i)
		copy(row[:nd], s.RowD(i))
		copy(row[nd:], s.RowC(i))
	}

	mean := mat.NewVecDense(n, nil)
	for i := 0; i < s.Size(); i++ {
		row := x.RawRowView(i)
		for j := 0; j < n; j++ {
			mean.SetVec(j, mean.AtVec(j)+w[i]*row[j])
		}
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, x, w)

	return NewBase(mean, cov), nil
}

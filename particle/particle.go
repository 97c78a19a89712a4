package particle

import (
	smc "github.com/milosgajdos/go-smc"
	"gonum.org/v1/gonum/mat"
)

// Filter is a particle filter
type Filter interface {
	// smc.Filter is a sequential Monte Carlo filter
	smc.Filter
	// LogWeights returns the latest particle log-weights
	LogWeights() mat.Vector
}

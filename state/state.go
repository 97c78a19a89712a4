package state

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// State holds the values of the D (deterministic), C (continuous stochastic)
// and R (random input) variable groups for a set of particles. The values of
// each group are stored in a dense row-major matrix with one row per particle.
// Variable groups of zero size are not allocated.
type State struct {
	d, c, r *mat.Dense
	// gather scratch, allocated on first use
	scratch *mat.Dense
	p       int
	nd      int
	nc      int
	nr      int
}

// New creates new State for p particles with the given group sizes and returns it.
// It returns error if p is not positive or if any of the group sizes is negative.
func New(p, nd, nc, nr int) (*State, error) {
	if p <= 0 {
		return nil, fmt.Errorf("invalid particle count: %d", p)
	}
	if nd < 0 || nc < 0 || nr < 0 || nd+nc+nr == 0 {
		return nil, fmt.Errorf("invalid group sizes: [%d, %d, %d]", nd, nc, nr)
	}

	s := &State{p: p, nd: nd, nc: nc, nr: nr}
	if nd > 0 {
		s.d = mat.NewDense(p, nd, nil)
	}
	if nc > 0 {
		s.c = mat.NewDense(p, nc, nil)
	}
	if nr > 0 {
		s.r = mat.NewDense(p, nr, nil)
	}

	return s, nil
}

// Size returns the number of particles.
func (s *State) Size() int {
	return s.p
}

// Dims returns the sizes of the D, C and R groups.
func (s *State) Dims() (nd, nc, nr int) {
	return s.nd, s.nc, s.nr
}

// D returns the deterministic group matrix. It is nil if the group is empty.
func (s *State) D() *mat.Dense { return s.d }

// C returns the continuous stochastic group matrix. It is nil if the group is empty.
func (s *State) C() *mat.Dense { return s.c }

// R returns the random input group matrix. It is nil if the group is empty.
func (s *State) R() *mat.Dense { return s.r }

// RowD returns the D values of particle i. It is nil if the group is empty.
func (s *State) RowD(i int) []float64 {
	if s.d == nil {
		return nil
	}
	return s.d.RawRowView(i)
}

// RowC returns the C values of particle i. It is nil if the group is empty.
func (s *State) RowC(i int) []float64 {
	if s.c == nil {
		return nil
	}
	return s.c.RawRowView(i)
}

// RowR returns the R values of particle i. It is nil if the group is empty.
func (s *State) RowR(i int) []float64 {
	if s.r == nil {
		return nil
	}
	return s.r.RawRowView(i)
}

// Save copies the particle values into dst laid out as D|C|R and returns dst.
// If dst is nil a new matrix of shape p x (nd+nc+nr) is allocated.
// It returns error if dst has wrong dimensions.
func (s *State) Save(dst *mat.Dense) (*mat.Dense, error) {
	n := s.nd + s.nc + s.nr
	if dst == nil {
		dst = mat.NewDense(s.p, n, nil)
	}
	if r, c := dst.Dims(); r != s.p || c != n {
		return nil, fmt.Errorf("invalid snapshot dimensions: [%d x %d]", r, c)
	}

	if s.d != nil {
		dst.Slice(0, s.p, 0, s.nd).(*mat.Dense).Copy(s.d)
	}
	if s.c != nil {
		dst.Slice(0, s.p, s.nd, s.nd+s.nc).(*mat.Dense).Copy(s.c)
	}
	if s.r != nil {
		dst.Slice(0, s.p, s.nd+s.nc, n).(*mat.Dense).Copy(s.r)
	}

	return dst, nil
}

// Load restores the particle values from a snapshot taken with Save.
// It returns error if src has wrong dimensions.
func (s *State) Load(src *mat.Dense) error {
	n := s.nd + s.nc + s.nr
	if r, c := src.Dims(); r != s.p || c != n {
		return fmt.Errorf("invalid snapshot dimensions: [%d x %d]", r, c)
	}

	if s.d != nil {
		s.d.Copy(src.Slice(0, s.p, 0, s.nd))
	}
	if s.c != nil {
		s.c.Copy(src.Slice(0, s.p, s.nd, s.nd+s.nc))
	}
	if s.r != nil {
		s.r.Copy(src.Slice(0, s.p, s.nd+s.nc, n))
	}

	return nil
}

// Gather rearranges the particle rows so that row i holds the values of
// particle as[i] prior to the call. It returns error if as has wrong size
// or contains an index out of range.
func (s *State) Gather(as []int) error {
	if len(as) != s.p {
		return fmt.Errorf("invalid ancestor vector size: %d", len(as))
	}
	for _, a := range as {
		if a < 0 || a >= s.p {
			return fmt.Errorf("ancestor index out of range: %d", a)
		}
	}

	snap, err := s.Save(s.scratch)
	if err != nil {
		return err
	}
	s.scratch = snap

	for i, a := range as {
		if i == a {
			continue
		}
		src := snap.RawRowView(a)
		if s.d != nil {
			copy(s.d.RawRowView(i), src[:s.nd])
		}
		if s.c != nil {
			copy(s.c.RawRowView(i), src[s.nd:s.nd+s.nc])
		}
		if s.r != nil {
			copy(s.r.RawRowView(i), src[s.nd+s.nc:])
		}
	}

	return nil
}

// ThetaRow returns the parameter row of particle i in theta: shared
// parameters are stored as a single row, per-particle parameters as one row
// per particle. It returns nil if theta is nil.
func ThetaRow(theta *mat.Dense, i int) []float64 {
	if theta == nil {
		return nil
	}
	rows, _ := theta.Dims()
	if rows == 1 {
		return theta.RawRowView(0)
	}

	return theta.RawRowView(i)
}

// SetRow overwrites the D, C and R values of particle i.
// Slices for empty groups are ignored.
func (s *State) SetRow(i int, d, c, r []float64) {
	if s.d != nil && d != nil {
		copy(s.d.RawRowView(i), d)
	}
	if s.c != nil && c != nil {
		copy(s.c.RawRowView(i), c)
	}
	if s.r != nil && r != nil {
		copy(s.r.RawRowView(i), r)
	}
}

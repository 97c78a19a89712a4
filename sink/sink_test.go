package sink

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/milosgajdos/go-smc/state"
)

func newState(t *testing.T) *state.State {
	s, err := state.New(2, 1, 1, 1)
	assert.NoError(t, err)
	s.RowD(0)[0], s.RowC(0)[0], s.RowR(0)[0] = 1, 2, 3
	s.RowD(1)[0], s.RowC(1)[0], s.RowR(1)[0] = 4, 5, 6
	return s
}

func TestMemory(t *testing.T) {
	assert := assert.New(t)

	m := NewMemory()
	assert.Equal(0, m.Steps())

	assert.NoError(m.WriteStage1LogWeights(0, []float64{-1, -2}))
	assert.NoError(m.WriteLogWeights(0, []float64{0, -0.5}))
	assert.NoError(m.WriteAncestors(0, []int{1, 1}))
	assert.NoError(m.WriteResampled(0, true))
	assert.NoError(m.WriteState(0, 1.5, newState(t)))

	assert.Equal([]float64{-1, -2}, m.Stage1LogWeights(0))
	assert.Equal([]float64{0, -0.5}, m.LogWeights(0))
	assert.Equal([]int{1, 1}, m.Ancestors(0))
	assert.True(m.Resampled(0))
	assert.Equal(1, m.Steps())

	snap, tm := m.State(0)
	assert.Equal(1.5, tm)
	assert.Equal(2.0, snap.At(0, 1))
	assert.Equal(6.0, snap.At(1, 2))

	// stored vectors are copies
	lw := []float64{7}
	assert.NoError(m.WriteLogWeights(1, lw))
	lw[0] = 8
	assert.Equal([]float64{7}, m.LogWeights(1))
}

func TestCSV(t *testing.T) {
	assert := assert.New(t)

	dir := filepath.Join(t.TempDir(), "out")
	c, err := NewCSV(dir)
	assert.NoError(err)

	assert.NoError(c.WriteStage1LogWeights(0, []float64{-1, -2}))
	assert.NoError(c.WriteLogWeights(0, []float64{0, -0.5}))
	assert.NoError(c.WriteAncestors(0, []int{1, 0}))
	assert.NoError(c.WriteResampled(0, false))
	assert.NoError(c.WriteState(0, 1.0, newState(t)))
	assert.NoError(c.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "stage1_log_weights.csv"))
	assert.NoError(err)
	assert.Equal("0,-1,-2", strings.TrimSpace(string(raw)))

	raw, err = os.ReadFile(filepath.Join(dir, "ancestors.csv"))
	assert.NoError(err)
	assert.Equal("0,1,0", strings.TrimSpace(string(raw)))

	raw, err = os.ReadFile(filepath.Join(dir, "resampled.csv"))
	assert.NoError(err)
	assert.Equal("0,0", strings.TrimSpace(string(raw)))

	raw, err = os.ReadFile(filepath.Join(dir, "state.csv"))
	assert.NoError(err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	assert.Len(lines, 2)
	assert.Equal("0,1,0,1,2,3", lines[0])
	assert.Equal("0,1,1,4,5,6", lines[1])
}

package obs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSchedule(t *testing.T) {
	assert := assert.New(t)

	// length mismatch
	o, err := NewSchedule([]float64{1, 2}, [][]float64{{0.1}})
	assert.Nil(o)
	assert.Error(err)

	// empty schedule
	o, err = NewSchedule(nil, nil)
	assert.Nil(o)
	assert.Error(err)

	// times must be strictly increasing
	o, err = NewSchedule([]float64{1, 1}, [][]float64{{0.1}, {0.2}})
	assert.Nil(o)
	assert.Error(err)

	// observation sizes must agree
	o, err = NewSchedule([]float64{1, 2}, [][]float64{{0.1}, {0.2, 0.3}})
	assert.Nil(o)
	assert.Error(err)

	o, err = NewSchedule([]float64{1, 2}, [][]float64{{0.1}, {0.2}})
	assert.NotNil(o)
	assert.NoError(err)
	assert.Equal(2, o.Len())
}

func TestIterate(t *testing.T) {
	assert := assert.New(t)

	times := []float64{1, 2.5, 3}
	ys := [][]float64{{0.1}, {-0.2}, {0.05}}
	o, err := NewSchedule(times, ys)
	assert.NoError(err)

	// peeking does not consume
	assert.True(o.HasNext())
	assert.Equal(1.0, o.NextTime())
	assert.Equal(0.1, o.Peek().AtVec(0))
	assert.Equal(1.0, o.NextTime())

	for i := range times {
		assert.True(o.HasNext())
		tm, y, err := o.Next()
		assert.NoError(err)
		assert.Equal(times[i], tm)
		assert.Equal(ys[i][0], y.AtVec(0))
	}

	assert.False(o.HasNext())
	_, _, err = o.Next()
	assert.Error(err)

	o.Reset()
	assert.True(o.HasNext())
	assert.Equal(1.0, o.NextTime())
}

func TestCopies(t *testing.T) {
	assert := assert.New(t)

	times := []float64{1}
	ys := [][]float64{{0.5}}
	o, err := NewSchedule(times, ys)
	assert.NoError(err)

	// the schedule owns copies of the input
	times[0] = 9
	ys[0][0] = 9
	assert.Equal(1.0, o.NextTime())
	assert.Equal(0.5, o.Peek().AtVec(0))
}

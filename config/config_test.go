package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const valid = `
t: 3
delta: 1
particles: 500
rel_ess: 0.5
resampler: systematic
seed: 42
init_mean: 0
init_sigma: 1
process_sigma: 0.5
obs_sigma: 1
observations:
  - time: 1
    y: [0.1]
  - time: 2
    y: [-0.2]
  - time: 3
    y: [0.05]
`

func TestLoad(t *testing.T) {
	assert := assert.New(t)

	c, err := Load(strings.NewReader(valid))
	assert.NotNil(c)
	assert.NoError(err)

	assert.Equal(3.0, c.T)
	assert.Equal(500, c.Particles)
	assert.Equal("systematic", c.Resampler)
	assert.Len(c.Observations, 3)

	sched, err := c.Schedule()
	assert.NoError(err)
	assert.Equal(3, sched.Len())
	assert.Equal(1.0, sched.NextTime())

	// unknown fields are rejected
	_, err = Load(strings.NewReader(valid + "\nbogus: 1\n"))
	assert.Error(err)

	// malformed yaml
	_, err = Load(strings.NewReader(":"))
	assert.Error(err)
}

func TestValidate(t *testing.T) {
	assert := assert.New(t)

	base := func() *Config {
		c, err := Load(strings.NewReader(valid))
		assert.NoError(err)
		return c
	}

	c := base()
	c.T = 0
	assert.Error(c.Validate())

	c = base()
	c.Delta = -1
	assert.Error(c.Validate())

	c = base()
	c.Particles = 0
	assert.Error(c.Validate())

	c = base()
	c.RelEss = 1.5
	assert.Error(c.Validate())

	c = base()
	c.Resampler = "bogus"
	assert.Error(c.Validate())

	c = base()
	c.ObsSigma = 0
	assert.Error(c.Validate())

	c = base()
	c.Observations = nil
	assert.Error(c.Validate())

	// unsorted observation times surface when building the schedule
	c = base()
	c.Observations[1].Time = 0.5
	assert.NoError(c.Validate())
	_, err := c.Schedule()
	assert.Error(err)
}

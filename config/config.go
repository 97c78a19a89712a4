package config

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/milosgajdos/go-smc/obs"
)

// Observation is one timestamped observation vector.
type Observation struct {
	// Time is the observation time
	Time float64 `yaml:"time"`
	// Y is the observation vector
	Y []float64 `yaml:"y"`
}

// Config describes one filter run.
type Config struct {
	// T is the end time of the run
	T float64 `yaml:"t"`
	// Delta is the simulator integration step
	Delta float64 `yaml:"delta"`
	// Particles is the particle count
	Particles int `yaml:"particles"`
	// RelEss is the relative ESS resampling threshold in [0, 1]
	RelEss float64 `yaml:"rel_ess"`
	// Resampler selects the resampling scheme:
	// none, multinomial, stratified or systematic
	Resampler string `yaml:"resampler"`
	// Seed seeds every random stream of the run
	Seed uint64 `yaml:"seed"`
	// InitMean and InitSigma parameterise the scalar initial condition
	InitMean  float64 `yaml:"init_mean"`
	InitSigma float64 `yaml:"init_sigma"`
	// ProcessSigma scales the per-step process noise
	ProcessSigma float64 `yaml:"process_sigma"`
	// ObsSigma is the measurement noise standard deviation
	ObsSigma float64 `yaml:"obs_sigma"`
	// Observations is the observation schedule
	Observations []Observation `yaml:"observations"`
}

// Load decodes a Config from r and validates it.
// It returns error if decoding or validation fails.
func Load(r io.Reader) (*Config, error) {
	c := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return nil, fmt.Errorf("failed to decode config: %v", err)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// LoadFile reads and decodes a Config from the file at path.
// It returns error if the file can not be read or decoding fails.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %v", err)
	}
	defer f.Close()

	return Load(f)
}

// Validate checks the run parameters.
// It returns error describing the first violated constraint.
func (c *Config) Validate() error {
	if c.T <= 0 {
		return fmt.Errorf("invalid end time: %f", c.T)
	}
	if c.Delta <= 0 {
		return fmt.Errorf("invalid integration step: %f", c.Delta)
	}
	if c.Particles <= 0 {
		return fmt.Errorf("invalid particle count: %d", c.Particles)
	}
	if c.RelEss < 0 || c.RelEss > 1 {
		return fmt.Errorf("invalid relative ESS threshold: %f", c.RelEss)
	}
	switch c.Resampler {
	case "none", "multinomial", "stratified", "systematic":
	default:
		return fmt.Errorf("unknown resampler: %q", c.Resampler)
	}
	if c.InitSigma < 0 {
		return fmt.Errorf("invalid initial sigma: %f", c.InitSigma)
	}
	if c.ProcessSigma < 0 {
		return fmt.Errorf("invalid process sigma: %f", c.ProcessSigma)
	}
	if c.ObsSigma <= 0 {
		return fmt.Errorf("invalid observation sigma: %f", c.ObsSigma)
	}
	if len(c.Observations) == 0 {
		return fmt.Errorf("empty observation schedule")
	}

	return nil
}

// Schedule builds the observation schedule of the run.
// It returns error if the observation times are not strictly increasing.
func (c *Config) Schedule() (*obs.Schedule, error) {
	times := make([]float64, len(c.Observations))
	ys := make([][]float64, len(c.Observations))
	for i, o := range c.Observations {
		times[i] = o.Time
		ys[i] = o.Y
	}

	return obs.NewSchedule(times, ys)
}

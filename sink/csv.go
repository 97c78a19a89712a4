package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/milosgajdos/go-smc/state"
)

// csvStreams lists the per-step output streams, one file each.
var csvStreams = []string{"stage1_log_weights", "stage2_log_weights", "ancestors", "resampled", "state"}

// CSV is an output sink writing every stream to its own CSV file inside a
// directory. Each record starts with the step index; vector streams follow
// with one column per particle.
type CSV struct {
	files   map[string]*os.File
	writers map[string]*csv.Writer
}

// NewCSV creates new CSV sink rooted at dir and returns it.
// The directory is created when missing.
// It returns error if the directory or any of the stream files can not be
// created.
func NewCSV(dir string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %v", err)
	}

	c := &CSV{
		files:   make(map[string]*os.File),
		writers: make(map[string]*csv.Writer),
	}
	for _, name := range csvStreams {
		f, err := os.Create(filepath.Join(dir, name+".csv"))
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to create %s stream: %v", name, err)
		}
		c.files[name] = f
		c.writers[name] = csv.NewWriter(f)
	}

	return c, nil
}

// WriteStage1LogWeights writes the stage 1 log-weights of step k.
func (c *CSV) WriteStage1LogWeights(k int, lw []float64) error {
	return c.writeFloats("stage1_log_weights", k, lw)
}

// WriteLogWeights writes the stage 2 log-weights of step k.
func (c *CSV) WriteLogWeights(k int, lw []float64) error {
	return c.writeFloats("stage2_log_weights", k, lw)
}

// WriteAncestors writes the ancestry of step k.
func (c *CSV) WriteAncestors(k int, as []int) error {
	rec := make([]string, 0, len(as)+1)
	rec = append(rec, strconv.Itoa(k))
	for _, a := range as {
		rec = append(rec, strconv.Itoa(a))
	}

	return c.write("ancestors", rec)
}

// WriteResampled writes the resampled flag of step k.
func (c *CSV) WriteResampled(k int, r bool) error {
	flag := "0"
	if r {
		flag = "1"
	}

	return c.write("resampled", []string{strconv.Itoa(k), flag})
}

// WriteState writes the particle state of step k, one record per particle
// laid out as D|C|R.
func (c *CSV) WriteState(k int, t float64, s *state.State) error {
	snap, err := s.Save(nil)
	if err != nil {
		return err
	}

	rows, cols := snap.Dims()
	for i := 0; i < rows; i++ {
		rec := make([]string, 0, cols+3)
		rec = append(rec, strconv.Itoa(k), strconv.FormatFloat(t, 'g', -1, 64), strconv.Itoa(i))
		for j := 0; j < cols; j++ {
			rec = append(rec, strconv.FormatFloat(snap.At(i, j), 'g', -1, 64))
		}
		if err := c.write("state", rec); err != nil {
			return err
		}
	}

	return nil
}

// Close flushes and closes all stream files.
// It returns the first error encountered.
func (c *CSV) Close() error {
	var first error
	for _, w := range c.writers {
		w.Flush()
		if err := w.Error(); err != nil && first == nil {
			first = err
		}
	}
	for _, f := range c.files {
		if err := f.Close(); err != nil && first == nil {
			first = err
		}
	}

	return first
}

func (c *CSV) writeFloats(stream string, k int, vs []float64) error {
	rec := make([]string, 0, len(vs)+1)
	rec = append(rec, strconv.Itoa(k))
	for _, v := range vs {
		rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
	}

	return c.write(stream, rec)
}

func (c *CSV) write(stream string, rec []string) error {
	w := c.writers[stream]
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("failed to write %s record: %v", stream, err)
	}
	w.Flush()

	return w.Error()
}

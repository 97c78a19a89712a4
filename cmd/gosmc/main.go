package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	smc "github.com/milosgajdos/go-smc"
	"github.com/milosgajdos/go-smc/config"
	"github.com/milosgajdos/go-smc/estimate"
	"github.com/milosgajdos/go-smc/likelihood"
	"github.com/milosgajdos/go-smc/model"
	"github.com/milosgajdos/go-smc/particle/apf"
	"github.com/milosgajdos/go-smc/resample"
	"github.com/milosgajdos/go-smc/sim"
	"github.com/milosgajdos/go-smc/sink"
	"github.com/milosgajdos/go-smc/state"
	"gonum.org/v1/gonum/stat/distmv"
)

var (
	cfgPath  string
	outDir   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "gosmc",
	Short: "Sequential Monte Carlo filtering for stochastic dynamical systems",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an auxiliary particle filter over a configured model",
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := config.LoadFile(cfgPath)
		if err != nil {
			return err
		}

		logrus.Infof("Starting filter run: T=%.2f, delta=%.2f, particles=%d, relEss=%.2f, resampler=%s",
			cfg.T, cfg.Delta, cfg.Particles, cfg.RelEss, cfg.Resampler)

		return run(cfg)
	},
}

func run(cfg *config.Config) error {
	ic := model.NewInitCond(
		mat.NewVecDense(1, []float64{cfg.InitMean}),
		mat.NewSymDense(1, []float64{cfg.InitSigma * cfg.InitSigma}),
	)
	m, err := model.NewLinear(
		mat.NewDense(1, 1, []float64{1}),
		mat.NewDense(1, 1, []float64{cfg.ProcessSigma}),
		ic,
	)
	if err != nil {
		return err
	}

	sm, err := sim.New(m, cfg.Delta, 0, cfg.Seed)
	if err != nil {
		return err
	}

	sched, err := cfg.Schedule()
	if err != nil {
		return err
	}

	pdf, ok := distmv.NewNormal([]float64{0}, mat.NewSymDense(1, []float64{cfg.ObsSigma * cfg.ObsSigma}), nil)
	if !ok {
		logrus.Fatal("Failed to build measurement error density")
	}
	kernel, err := likelihood.NewGaussian(model.Observe(mat.NewDense(1, 1, []float64{1})), 1, pdf)
	if err != nil {
		return err
	}

	var out smc.OutputSink
	var csvOut *sink.CSV
	if outDir != "" {
		csvOut, err = sink.NewCSV(outDir)
		if err != nil {
			return err
		}
		defer csvOut.Close()
		out = csvOut
	}

	f, err := apf.New(sm, sched, kernel, out)
	if err != nil {
		return err
	}

	var resam smc.Resampler
	switch cfg.Resampler {
	case "multinomial":
		resam = resample.NewMultinomial(cfg.Seed + 1)
	case "stratified":
		resam = resample.NewStratified(cfg.Seed + 1)
	case "systematic":
		resam = resample.NewSystematic(cfg.Seed + 1)
	}

	s, err := state.New(cfg.Particles, 0, 1, 1)
	if err != nil {
		return err
	}

	if err := f.Filter(cfg.T, nil, s, resam, cfg.RelEss); err != nil {
		return err
	}

	ll, lls, ess, err := f.Summarise()
	if err != nil {
		return err
	}
	logrus.Infof("Marginal log-likelihood estimate: %.6f", ll)
	for k := range lls {
		logrus.Debugf("step %d: ll=%.6f ess=%.1f", k, lls[k], ess[k])
	}

	lw := f.LogWeights()
	raw := make([]float64, lw.Len())
	for i := range raw {
		raw[i] = lw.AtVec(i)
	}
	est, err := estimate.NewWeighted(s, raw)
	if err != nil {
		return err
	}
	logrus.Infof("Posterior mean: %.6f, variance: %.6f", est.State().AtVec(0), est.Covariance().At(0, 0))

	if csvOut != nil {
		if err := f.Flush(); err != nil {
			return err
		}
		logrus.Infof("Output written to %s", outDir)
	}
	logrus.Info("Filter run complete.")

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	runCmd.Flags().StringVar(&cfgPath, "config", "filter.yaml", "Path to the run configuration file")
	runCmd.Flags().StringVar(&outDir, "out", "", "Directory for CSV output streams; empty disables persisted output")
	runCmd.Flags().StringVar(&logLevel, "log", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd)
}

// Command tesiv runs the IV/dIdV sweep analysis of one TES channel and
// prints the calibration, the per-point results and the optimum bias.
//
// Usage:
//
//	tesiv [flags] sweep.json
//
// Settings are read from TES_* environment variables and an optional .env
// file; flags override them. Results are stored in a SQLite database in the
// output directory unless -nodb is given.
//
// Examples:
//
//	tesiv -nnorm 5 -nsc 4 -tc 0.04 -tc-err 0.002 sweep.json
//	tesiv -channel PBS1 -samples 2000 -workers 8 sweep.json
//	tesiv -transition 6:18 -percentiles 16:84 sweep.json
//	TES_LOG_LEVEL=debug tesiv -simple sweep.json
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/cwbudde/algo-tes/analysis"
	"github.com/cwbudde/algo-tes/internal/config"
	"github.com/cwbudde/algo-tes/internal/store"
	"github.com/cwbudde/algo-tes/sweep"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	env := config.Load()

	fs := flag.NewFlagSet("tesiv", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&env.Channel, "channel", env.Channel, "channel to analyse (required with several channels)")
	fs.IntVar(&env.NumNormal, "nnorm", env.NumNormal, "number of normal bias points")
	fs.IntVar(&env.NumSC, "nsc", env.NumSC, "number of superconducting bias points")
	fs.BoolVar(&env.RemoveBad, "remove-bad", env.RemoveBad, "drop points of series with flat traces")
	fs.Float64Var(&env.Rshunt, "rshunt", env.Rshunt, "shunt resistance in Ω")
	fs.Float64Var(&env.RshuntErr, "rshunt-err", env.RshuntErr, "shunt resistance uncertainty in Ω")
	fs.Float64Var(&env.Tc, "tc", env.Tc, "critical temperature in K")
	fs.Float64Var(&env.TcErr, "tc-err", env.TcErr, "critical temperature uncertainty in K")
	fs.Float64Var(&env.Tbath, "tbath", env.Tbath, "bath temperature in K")
	fs.Float64Var(&env.TbathErr, "tbath-err", env.TbathErr, "bath temperature uncertainty in K")
	fs.Float64Var(&env.G, "g", env.G, "thermal conductance in W/K")
	fs.Float64Var(&env.GErr, "g-err", env.GErr, "thermal conductance uncertainty in W/K")
	fs.Func("transition", "transition points as start:end of the sorted sweep (default: detect)", func(v string) error {
		r, err := config.ParseRange(v)
		if err != nil {
			return err
		}
		env.Transition = &r
		return nil
	})
	fs.IntVar(&env.Samples, "samples", env.Samples, "Monte-Carlo samples per point")
	fs.Func("percentiles", fmt.Sprintf("uncertainty percentiles as lower:upper (default %g:%g)", env.Percentiles.Lower, env.Percentiles.Upper), func(v string) error {
		p, err := config.ParsePercentiles(v)
		if err != nil {
			return err
		}
		env.Percentiles = p
		return nil
	})
	fs.Uint64Var(&env.Seed, "seed", env.Seed, "random seed of the noise model")
	fs.IntVar(&env.Workers, "workers", env.Workers, "parallel point fits (0: GOMAXPROCS)")
	fs.StringVar(&env.OutputDir, "out", env.OutputDir, "output directory")
	fs.StringVar(&env.Database, "db", env.Database, "result database name inside the output directory")
	noDB := fs.Bool("nodb", false, "do not store results")
	simple := fs.Bool("simple", false, "also evaluate the noise model at the central values")
	verbose := fs.Bool("v", false, "debug logging")
	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: tesiv [flags] sweep.json\n\n")
		fmt.Fprintf(stderr, "Analyses an IV/dIdV sweep of a transition-edge sensor.\n")
		fmt.Fprintf(stderr, "Flags default to the TES_* environment variables.\n\n")
		fmt.Fprintf(stderr, "Flags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	input := env.Input
	if fs.NArg() > 0 {
		input = fs.Arg(0)
	}
	if input == "" {
		fs.Usage()
		return 2
	}

	level := env.Level()
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	recs, err := readRecords(input)
	if err != nil {
		logger.Error("read sweep", "path", input, "error", err)
		return 1
	}

	cfg := analysis.ApplyOptions(append(env.Options(), analysis.WithLogger(logger))...)
	c, err := analysis.NewContext(recs, cfg)
	if err != nil {
		logger.Error("prepare sweep", "error", err)
		return 1
	}

	stages := analysis.DefaultStages()
	if *simple {
		stages = append(stages, analysis.ModelNoiseSimple{})
	}
	p, err := analysis.NewPipeline(stages...)
	if err != nil {
		logger.Error("build pipeline", "error", err)
		return 1
	}

	out, runErr := p.Run(c)
	if runErr != nil {
		logger.Error("analysis stopped", "error", runErr)
	}
	if err := printReport(stdout, out); err != nil {
		logger.Error("write report", "error", err)
		return 1
	}

	if !*noDB {
		path := filepath.Join(env.OutputDir, env.Database)
		id, err := save(path, out)
		if err != nil {
			logger.Error("store results", "path", path, "error", err)
			return 1
		}
		logger.Info("results stored", "path", path, "run", id)
	}

	if runErr != nil {
		return 1
	}
	return 0
}

func readRecords(path string) ([]sweep.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return sweep.ReadJSON(f)
}

func save(path string, c *analysis.Context) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	s, err := store.NewStore(path)
	if err != nil {
		return "", err
	}
	defer s.Close()
	return s.SaveRun(c)
}

func printReport(w io.Writer, c *analysis.Context) error {
	fmt.Fprintf(w, "channel %s: %d normal, %d transition, %d sc points, %d excluded\n",
		c.Dataset.Channel, c.Dataset.Normal.Len(), c.Dataset.Transition.Len(), c.Dataset.SC.Len(), len(c.Dataset.Excluded))
	if c.Load != nil {
		fmt.Fprintf(w, "rload %.4g ± %.2g Ω, rp %.4g ± %.2g Ω\n", c.Load.Rload, c.Load.RloadErr, c.Load.Rp, c.Load.RpErr)
	}
	if c.Normal != nil {
		fmt.Fprintf(w, "rn (dIdV) %.4g ± %.2g Ω\n", c.Normal.Rn, c.Normal.RnErr)
	}
	if c.IV != nil {
		fmt.Fprintf(w, "rn (IV) %.4g ± %.2g Ω, rp (IV) %.4g ± %.2g Ω\n", c.IV.Rn, c.IV.RnErr, c.IV.Rp, c.IV.RpErr)
	}
	if c.Squid != nil {
		sq := c.Squid.Squid
		fmt.Fprintf(w, "squid %.3g A/√Hz, knee %.3g Hz, n %.3g\n", sq.DC, sq.Pole, sq.N)
	}
	if c.Tload != nil {
		fmt.Fprintf(w, "tload %.4g ± %.2g K\n", c.Tload.Tload, c.Tload.TloadErr)
	}

	if c.IV != nil {
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintf(tw, "Index\tBias [A]\tRegion\tR0 [Ω]\tP0 [W]\tFit\tLoop gain\ttau_eff [s]\tdE [eV]\tdE simple [eV]\n")
		fmt.Fprintf(tw, "-----\t--------\t------\t------\t------\t---\t---------\t-----------\t-------\t--------------\n")
		for _, pt := range c.Dataset.All {
			op := c.IV.Point(pt.Index)
			state, gain, tau, eres, simple := "-", "-", "-", "-", "-"
			if ss := c.SmallSignal[pt.Index]; ss != nil {
				state = ss.State.String()
				if ss.Physical != nil {
					gain = fmt.Sprintf("%.3g", ss.Physical.Params.LoopGain)
				}
				if ss.Usable() {
					tau = fmt.Sprintf("%.3g", ss.TauEff)
				}
			}
			if nm := c.NoiseModel[pt.Index]; nm != nil {
				e := nm.EnergyRes
				eres = fmt.Sprintf("%.3g [%.3g, %.3g]", e.Center, e.Lower, e.Upper)
			}
			if sn := c.SimpleNoise[pt.Index]; sn != nil {
				simple = fmt.Sprintf("%.3g", sn.EnergyRes)
			}
			fmt.Fprintf(tw, "%d\t%.4g\t%s\t%.4g\t%.4g\t%s\t%s\t%s\t%s\t%s\n",
				pt.Index, pt.Bias, pt.Region, op.R0, op.P0, state, gain, tau, eres, simple)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if o := c.Optimum; o != nil {
		fmt.Fprintf(w, "optimum resolution: bias %.4g A, R0/Rn %.3f, %.3g eV\n", o.Resolution.Bias, o.Resolution.R0Fraction, o.Resolution.Value)
		fmt.Fprintf(w, "optimum speed: bias %.4g A, R0/Rn %.3f, tau_eff %.3g s\n", o.Tau.Bias, o.Tau.R0Fraction, o.Tau.Value)
	}

	stages := make([]string, 0, len(c.Failures))
	for _, f := range c.Failures {
		if !slices.Contains(stages, f.Stage) {
			stages = append(stages, f.Stage)
		}
	}
	for _, st := range stages {
		_, err := fmt.Fprintf(w, "%s: %d point failures\n", st, len(c.StageFailures(st)))
		if err != nil {
			return err
		}
	}
	return nil
}

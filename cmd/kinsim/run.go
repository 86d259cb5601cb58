package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/san-kum/kinsim/internal/automation"
	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/experiment"
	"github.com/san-kum/kinsim/internal/optim"
	"github.com/san-kum/kinsim/internal/sim"
	"github.com/san-kum/kinsim/internal/storage"
	"github.com/san-kum/kinsim/internal/tui"
	"github.com/spf13/cobra"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}

	exp, err := experiment.New(cfg, experiment.NewRegistry(), sim.WithLogger(log))
	if err != nil {
		return err
	}

	exp.GetSimulator().AddObserver(newProgressLogger(log, cfg.Duration))

	ctx, cancel := signalContext()
	defer cancel()

	log.Info().Str("scenario", cfg.Name).Strs("evaluators", exp.EvaluatorNames()).Str("integrator", cfg.Integrator).Msg("run")
	fmt.Printf("running %s...\n", cfg.Name)
	start := time.Now()
	result, err := exp.Run(ctx)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Printf("completed in %v\n", elapsed)
	if !noSave {
		st := storage.New(dataDir)
		if err := st.Init(); err != nil {
			return err
		}
		runID, err := st.Save(cfg, result)
		if err != nil {
			return err
		}
		fmt.Printf("run id: %s\n", runID)
	}
	fmt.Printf("steps: %d\n", result.StepsTaken)
	for _, e := range result.Errors {
		fmt.Printf("error: %v\n", e)
	}
	printMetrics(result.Metrics)
	return nil
}

func printMetrics(metrics map[string]float64) {
	fmt.Println("\nmetrics:")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, name := range sortedKeys(metrics) {
		fmt.Fprintf(w, "  %s\t%.6g\n", name, metrics[name])
	}
	w.Flush()
}

func checkScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}
	exp, err := experiment.New(cfg, experiment.NewRegistry())
	if err != nil {
		return err
	}
	rep, err := exp.Check()
	if err != nil {
		return err
	}

	fmt.Printf("scenario: %s\n", rep.Name)
	fmt.Printf("positions: %d  velocities: %d  actuators: %d\n", rep.NumPositions, rep.NumVelocities, rep.NumActuators)
	fmt.Printf("constraint rows: %d full, %d active, jacobian rank %d\n\n", rep.CountFull, rep.CountActive, rep.JacobianRank)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EVALUATOR\tFULL\tACTIVE\tROWS\tRELATIVE")
	for _, ev := range rep.Evaluators {
		fmt.Fprintf(w, "%s\t%d+%d\t%d+%d\t%v\t%v\n", ev.Name, ev.FullStart, ev.NumFull, ev.ActiveStart, ev.NumActive, ev.ActiveInds, ev.Relative)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nresidual |φ|: %.3e\n", rep.ResidualNorm)
	if rep.Redundant() {
		fmt.Println("warning: active constraints are redundant")
	}
	if rep.SolveErr != nil {
		fmt.Printf("solve failed: %v\n", rep.SolveErr)
		return nil
	}
	fmt.Printf("multipliers λ: %.4g\n", rep.Multipliers)
	fmt.Printf("accelerations v̇: %.4g\n", rep.Accel)
	return nil
}

func tuneScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}

	gs, err := optim.NewGridSearch([]string{"alpha"}, [][]float64{alphas}, workers)
	if err != nil {
		return err
	}

	reg := experiment.NewRegistry()
	build := func(params map[string]float64) (*experiment.Experiment, error) {
		c := *cfg
		c.Alpha = params["alpha"]
		return experiment.New(&c, reg)
	}

	ctx, cancel := signalContext()
	defer cancel()

	log.Info().Str("scenario", cfg.Name).Int("points", len(alphas)).Str("metric", metricName).Msg("tuning")
	trials, err := gs.Search(ctx, build, metricName)
	if err != nil && !errors.Is(err, optim.ErrNoFeasiblePoint) {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ALPHA\t%s\tNOTE\n", metricName)
	for _, tr := range trials {
		note := ""
		if tr.Err != nil {
			note = tr.Err.Error()
		}
		fmt.Fprintf(w, "%g\t%.4g\t%s\n", tr.Params["alpha"], tr.Value, note)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}
	if len(trials) > 0 {
		fmt.Printf("\nbest alpha: %g\n", trials[0].Params["alpha"])
	}
	return nil
}

func watchScenario(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}
	exp, err := experiment.New(cfg, experiment.NewRegistry())
	if err != nil {
		return err
	}
	return tui.Run(exp)
}

func runBatch(cmd *cobra.Command, args []string) error {
	b, err := automation.LoadBatch(args[0])
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	results, err := automation.RunBatch(ctx, b, experiment.NewRegistry(), log)
	for _, r := range results {
		runID, serr := st.Save(r.Config, r.Result)
		if serr != nil {
			return serr
		}
		fmt.Printf("%s  steps=%d  errors=%d  drift=%.3g\n", runID, r.Result.StepsTaken, len(r.Result.Errors), r.Result.Metrics["constraint_drift"])
	}
	return err
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := loadScenario(cmd, args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	mc := automation.MonteCarloConfig{
		Trials:       trials,
		Perturbation: perturbation,
		Seed:         cfg.Seed,
		Workers:      workers,
	}
	results, err := automation.RunMonteCarlo(ctx, cfg, experiment.NewRegistry(), mc, log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tSTABLE\tFINAL |φ|\tPEAK |λ|\tERRORS")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%v\t%.3g\t%.4g\t%d\n", r.TrialID, r.Stable, r.FinalResidual, r.Metrics["peak_force"], len(r.Errors))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	stable, unstable := automation.MonteCarloStats(results)
	fmt.Printf("\nstable: %d  unstable: %d\n", stable, unstable)
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRESET\tLINKS\tSLIDER\tEVALUATORS\tCONTROLLER")
	for _, name := range config.ListPresets() {
		cfg := config.GetPreset(name)
		kinds := make([]string, len(cfg.Evaluators))
		for i, ec := range cfg.Evaluators {
			kinds[i] = ec.Kind
		}
		fmt.Fprintf(w, "%s\t%d\t%v\t%v\t%s\n", name, len(cfg.Plant.Links), cfg.Plant.Slider, kinds, cfg.Controller.Kind)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	reg := experiment.NewRegistry()
	fmt.Printf("\nevaluators:  %s\n", strings.Join(reg.ListEvaluators(), ", "))
	fmt.Printf("integrators: %s\n", strings.Join(reg.ListIntegrators(), ", "))
	fmt.Printf("controllers: %s\n", strings.Join(reg.ListControllers(), ", "))
	return nil
}

package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/kinsim/internal/analysis"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/storage"
	"github.com/spf13/cobra"
)

const maxPlots = 6

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tTIME\tDURATION\tDT\tINTEG\tALPHA\tDRIFT\tERRORS")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2fs\t%.4fs\t%s\t%g\t%.2e\t%d\n",
			run.ID,
			run.Scenario,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Duration,
			run.Dt,
			run.Integrator,
			run.Alpha,
			run.Metrics["constraint_drift"],
			len(run.Errors),
		)
	}

	return w.Flush()
}

// loadSeries reads one of the recorded series of a run.
func loadSeries(st *storage.Store, runID, name string) ([][]float64, []float64, error) {
	switch name {
	case "states":
		return st.LoadStates(runID)
	case "multipliers", "lambda":
		return st.LoadMultipliers(runID)
	case "residuals", "phi":
		return st.LoadResiduals(runID)
	}
	return nil, nil, fmt.Errorf("unknown series %q (states, multipliers, residuals)", name)
}

func column(rows [][]float64, i int) []float64 {
	data := make([]float64, len(rows))
	for r := range rows {
		if i < len(rows[r]) {
			data[r] = rows[r][i]
		}
	}
	return data
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	rows, _, err := loadSeries(st, runID, series)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scenario: %s\n", meta.Scenario)
	fmt.Printf("samples: %d\n\n", len(rows))

	prefix := map[string]string{"states": "x", "multipliers": "λ", "lambda": "λ", "residuals": "φ", "phi": "φ"}[series]
	numVars := min(len(rows[0]), maxPlots)
	for i := 0; i < numVars; i++ {
		graph := asciigraph.Plot(column(rows, i),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("%s%d vs time", prefix, i)),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

func phasePlot(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	scenario, err := st.LoadScenario(runID)
	if err != nil {
		return err
	}

	states, _, err := st.LoadStates(runID)
	if err != nil {
		return err
	}

	y := yAxis
	if y < 0 {
		y = xAxis + scenario.NumPositions()
	}
	portrait, err := analysis.NewPortrait(states, xAxis, y)
	if err != nil {
		return err
	}

	fmt.Printf("phase space plot: %s\n", meta.ID)
	fmt.Printf("scenario: %s\n", meta.Scenario)
	fmt.Printf("x-axis: x%d, y-axis: x%d\n\n", xAxis, y)

	const width, height = 70, 20
	grid := portrait.Grid(width, height)

	fmt.Printf("%9.2f ┌%s┐\n", portrait.YMax, repeat('─', width))
	for i, row := range grid {
		if i == height/2 {
			fmt.Printf("%9.2f │%s│\n", (portrait.YMax+portrait.YMin)/2, string(row))
		} else {
			fmt.Printf("          │%s│\n", string(row))
		}
	}
	fmt.Printf("%9.2f └%s┘\n", portrait.YMin, repeat('─', width))
	fmt.Printf("          %-*.2f%.2f\n", width-4, portrait.XMin, portrait.XMax)

	fmt.Printf("\nlegend: . = early, o = middle, ● = late\n")
	return nil
}

func repeat(r rune, n int) string {
	s := make([]rune, n)
	for i := range s {
		s[i] = r
	}
	return string(s)
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}

	rows, _, err := loadSeries(st, runID, series)
	if err != nil {
		return err
	}
	if len(rows) == 0 || index >= len(rows[0]) {
		return fmt.Errorf("no column %d in %s", index, series)
	}

	fmt.Printf("frequency analysis: %s\n", meta.ID)
	fmt.Printf("scenario: %s\n\n", meta.Scenario)

	data := column(rows, index)
	ps := analysis.PowerSpectrum(data)
	plotData := ps[:max(2, len(ps)/4)]

	graph := asciigraph.Plot(plotData,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption(fmt.Sprintf("power spectrum (%s column %d)", series, index)),
	)
	fmt.Println(graph)
	fmt.Println()

	freq, err := analysis.DominantFrequency(data, meta.Dt)
	if err != nil {
		return err
	}
	fmt.Printf("dominant frequency: %.3f hz\n", freq)
	if freq > 0 {
		fmt.Printf("period: %.3f s\n", 1.0/freq)
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	scenario, err := st.LoadScenario(runID)
	if err != nil {
		return err
	}

	rows, times, err := st.LoadStates(runID)
	if err != nil {
		return err
	}

	nx := 2 * scenario.NumPositions()
	result := &dynamo.Result{
		States:  make([]dynamo.State, len(rows)),
		Times:   times,
		Metrics: meta.Metrics,
	}
	for i, row := range rows {
		result.States[i] = row[:min(nx, len(row))]
		if i < meta.Steps && len(row) > nx {
			result.Controls = append(result.Controls, row[nx:])
		}
	}

	if result.Multipliers, _, err = st.LoadMultipliers(runID); err != nil && !errors.Is(err, storage.ErrRunNotFound) {
		return err
	}
	if result.Residuals, _, err = st.LoadResiduals(runID); err != nil && !errors.Is(err, storage.ErrRunNotFound) {
		return err
	}

	if outFile == "" {
		return storage.Export(os.Stdout, *meta, result)
	}
	return storage.ExportJSON(outFile, *meta, result)
}

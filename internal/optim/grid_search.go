package optim

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"sort"

	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/experiment"
)

var ErrNoFeasiblePoint = errors.New("optim: no grid point produced a usable run")

// Trial is one evaluated grid point. Err is set when the experiment could
// not be built or a step failed; such trials never win.
type Trial struct {
	Params map[string]float64
	Value  float64
	Err    error
}

// GridSearch minimizes a run metric over the cartesian product of parameter
// ranges, typically the stabilization gain "alpha".
type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	workers    int
}

func NewGridSearch(params []string, ranges [][]float64, workers int) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%w: %d params, %d ranges", dynamo.ErrDimensionMismatch, len(params), len(ranges))
	}
	return &GridSearch{paramNames: params, ranges: ranges, workers: workers}, nil
}

// Points enumerates the grid, last parameter varying fastest.
func (g *GridSearch) Points() []map[string]float64 {
	var points []map[string]float64
	g.enumerate(0, make(map[string]float64), &points)
	return points
}

func (g *GridSearch) enumerate(depth int, current map[string]float64, out *[]map[string]float64) {
	if depth == len(g.paramNames) {
		*out = append(*out, maps.Clone(current))
		return
	}
	for _, val := range g.ranges[depth] {
		current[g.paramNames[depth]] = val
		g.enumerate(depth+1, current, out)
	}
	delete(current, g.paramNames[depth])
}

// Search runs every grid point and returns the trials sorted by value, best
// first. A canceled ctx aborts the search.
func (g *GridSearch) Search(
	ctx context.Context,
	buildExperiment func(params map[string]float64) (*experiment.Experiment, error),
	metricName string,
) ([]Trial, error) {
	points := g.Points()
	trials := make([]Trial, len(points))

	err := dynamo.ParallelFor(ctx, len(points), g.workers, func(ctx context.Context, i int) error {
		trials[i] = Trial{Params: points[i], Value: math.Inf(1)}

		exp, err := buildExperiment(points[i])
		if err != nil {
			trials[i].Err = err
			return nil
		}
		result, err := exp.Run(ctx)
		if err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			trials[i].Err = result.Errors[0]
			return nil
		}
		val, ok := result.Metrics[metricName]
		if !ok {
			trials[i].Err = fmt.Errorf("optim: metric %q not recorded", metricName)
			return nil
		}
		trials[i].Value = val
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(trials, func(a, b int) bool {
		if (trials[a].Err == nil) != (trials[b].Err == nil) {
			return trials[a].Err == nil
		}
		return trials[a].Value < trials[b].Value
	})
	if len(trials) == 0 || trials[0].Err != nil {
		return trials, ErrNoFeasiblePoint
	}
	return trials, nil
}

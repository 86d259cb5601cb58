package optim

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/experiment"
)

func TestPoints(t *testing.T) {
	g, err := NewGridSearch([]string{"alpha", "damping"}, [][]float64{{1, 2}, {0, 0.5, 1}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	points := g.Points()
	if len(points) != 6 {
		t.Fatalf("expected 6 points, got %d", len(points))
	}
	if points[1]["alpha"] != 1 || points[1]["damping"] != 0.5 {
		t.Errorf("unexpected order: %v", points[1])
	}
	if points[5]["alpha"] != 2 || points[5]["damping"] != 1 {
		t.Errorf("unexpected last point: %v", points[5])
	}
}

func TestNewGridSearchMismatch(t *testing.T) {
	if _, err := NewGridSearch([]string{"alpha"}, nil, 1); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

func buildFourBar(params map[string]float64) (*experiment.Experiment, error) {
	cfg := config.GetPreset("four_bar")
	cfg.Integrator = "euler"
	cfg.Duration = 0.4
	cfg.Alpha = params["alpha"]
	return experiment.New(cfg, experiment.NewRegistry())
}

func TestSearchPrefersStabilization(t *testing.T) {
	g, err := NewGridSearch([]string{"alpha"}, [][]float64{{0, 10, -1}}, 2)
	if err != nil {
		t.Fatal(err)
	}

	trials, err := g.Search(context.Background(), buildFourBar, "constraint_drift")
	if err != nil {
		t.Fatalf("search failed: %v", err)
	}
	if len(trials) != 3 {
		t.Fatalf("expected 3 trials, got %d", len(trials))
	}
	if trials[0].Params["alpha"] != 10 {
		t.Errorf("expected alpha 10 to win, got %v", trials[0].Params)
	}
	if trials[0].Value >= trials[1].Value {
		t.Errorf("expected sorted values, got %v then %v", trials[0].Value, trials[1].Value)
	}
	// A negative gain is rejected at build time and sorts last.
	if trials[2].Err == nil || trials[2].Params["alpha"] != -1 {
		t.Errorf("expected the failed trial last, got %+v", trials[2])
	}
}

func TestSearchNoFeasiblePoint(t *testing.T) {
	g, _ := NewGridSearch([]string{"alpha"}, [][]float64{{1, 2}}, 1)
	boom := errors.New("boom")
	trials, err := g.Search(context.Background(), func(map[string]float64) (*experiment.Experiment, error) {
		return nil, boom
	}, "constraint_drift")
	if !errors.Is(err, ErrNoFeasiblePoint) {
		t.Errorf("expected ErrNoFeasiblePoint, got %v", err)
	}
	for _, tr := range trials {
		if !errors.Is(tr.Err, boom) {
			t.Errorf("expected boom on every trial, got %v", tr.Err)
		}
	}
}

func TestSearchUnknownMetric(t *testing.T) {
	g, _ := NewGridSearch([]string{"alpha"}, [][]float64{{5}}, 1)
	_, err := g.Search(context.Background(), func(p map[string]float64) (*experiment.Experiment, error) {
		cfg := config.GetPreset("four_bar")
		cfg.Duration = 0.01
		return experiment.New(cfg, experiment.NewRegistry())
	}, "no_such_metric")
	if !errors.Is(err, ErrNoFeasiblePoint) {
		t.Errorf("expected ErrNoFeasiblePoint, got %v", err)
	}
}

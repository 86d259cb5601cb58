package tui

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/kinsim/internal/config"
	"github.com/san-kum/kinsim/internal/experiment"
)

func newModel(t *testing.T, cfg *config.Config) Model {
	t.Helper()
	exp, err := experiment.New(cfg, experiment.NewRegistry())
	if err != nil {
		t.Fatalf("experiment: %v", err)
	}
	return NewModel(exp)
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	nm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return nm
}

func key(s string) tea.KeyMsg {
	switch s {
	case " ":
		return tea.KeyMsg{Type: tea.KeySpace, Runes: []rune{' '}}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "right":
		return tea.KeyMsg{Type: tea.KeyRight}
	case "left":
		return tea.KeyMsg{Type: tea.KeyLeft}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestWatchAdvancesOnTick(t *testing.T) {
	m := newModel(t, config.GetPreset("four_bar"))

	m = update(t, m, tickMsg(time.Now()))
	// 1/60 s at dt=1e-3 rounds to 17 steps.
	if got := m.t; got < 0.0165 || got > 0.0175 {
		t.Errorf("expected t≈0.017 after one frame, got %v", got)
	}
	if m.err != nil {
		t.Fatalf("unexpected error: %v", m.err)
	}
	drift := m.drift
	if len(drift) != 18 {
		t.Errorf("expected 18 drift samples, got %d", len(drift))
	}
	for i, d := range drift {
		if d > 1e-6 {
			t.Errorf("drift[%d] = %g", i, d)
		}
	}
}

func TestWatchPauseAndReset(t *testing.T) {
	m := newModel(t, config.GetPreset("four_bar"))

	m = update(t, m, key(" "))
	if m.running {
		t.Fatal("expected paused after space")
	}
	m = update(t, m, tickMsg(time.Now()))
	if m.t != 0 {
		t.Errorf("paused model advanced to %v", m.t)
	}

	m = update(t, m, key(" "))
	m = update(t, m, tickMsg(time.Now()))
	if m.t == 0 {
		t.Fatal("resumed model did not advance")
	}

	m = update(t, m, key("r"))
	if m.t != 0 || !m.running || len(m.drift) != 1 {
		t.Errorf("reset left t=%v running=%v history=%d", m.t, m.running, len(m.drift))
	}
}

func TestWatchStopsAtDuration(t *testing.T) {
	cfg := config.GetPreset("four_bar")
	cfg.Duration = 0.01

	m := newModel(t, cfg)
	m = update(t, m, tickMsg(time.Now()))
	if m.running {
		t.Error("expected the model to stop at the end of the scenario")
	}
	if got := m.t; got < 0.0099 || got > 0.0111 {
		t.Errorf("expected t≈0.01, got %v", got)
	}
}

func TestWatchManualNudge(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Controller.Kind = "manual"

	m := newModel(t, cfg)
	m = update(t, m, key("right"))
	m = update(t, m, key("right"))
	if u := m.ctrl.Compute(m.x, 0); len(u) != 1 || u[0] != 2*nudgeStep {
		t.Errorf("expected u=[%v], got %v", 2*nudgeStep, u)
	}

	m = update(t, m, key("0"))
	if u := m.ctrl.Compute(m.x, 0); u[0] != 0 {
		t.Errorf("expected zeroed input, got %v", u)
	}
}

func TestWatchReportsSolveFailure(t *testing.T) {
	cfg := config.GetPreset("redundant")
	cfg.Solver = "strict"

	m := newModel(t, cfg)
	m = update(t, m, tickMsg(time.Now()))
	if m.err == nil {
		t.Fatal("expected the strict solve to fail")
	}
	if m.running {
		t.Error("expected the model to stop after a failure")
	}
	if !strings.Contains(m.View(), "failed") {
		t.Error("view does not show the failure")
	}
}

func TestWatchView(t *testing.T) {
	m := newModel(t, config.GetPreset("slider_crank"))
	m = update(t, m, tickMsg(time.Now()))

	view := m.View()
	for _, want := range []string{"slider_crank", "constraint drift", "u0", "⬤", "█"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestCanvasLine(t *testing.T) {
	c := NewCanvas(5, 3)
	c.Line(0, 0, 4, 2, '*')
	if c.At(0, 0) != '*' || c.At(4, 2) != '*' || c.At(2, 1) != '*' {
		t.Errorf("unexpected canvas:\n%s", c.String())
	}
	c.Set(10, 10, 'x')
	if c.At(10, 10) != 0 {
		t.Error("out of range point was drawn")
	}
	if lines := strings.Split(c.String(), "\n"); len(lines) != 3 {
		t.Errorf("expected 3 rows, got %d", len(lines))
	}
}

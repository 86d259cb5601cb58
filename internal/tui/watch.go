package tui

import (
	"fmt"
	"math"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/kinsim/internal/control"
	"github.com/san-kum/kinsim/internal/dynamo"
	"github.com/san-kum/kinsim/internal/experiment"
	"github.com/san-kum/kinsim/internal/multibody"
	"github.com/san-kum/kinsim/internal/sim"
)

const (
	canvasWidth     = 60
	canvasHeight    = 22
	historyCapacity = 300
	frameInterval   = time.Second / 60
	nudgeStep       = 0.5
	maxSpeed        = 16
)

var (
	canvasStyle = lipgloss.NewStyle().Padding(1, 2)
	statsStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, false, true).BorderForeground(lipgloss.Color("240")).Padding(1, 2).Width(60)
	headerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true).MarginBottom(1)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(12)
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	activeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	graphStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("49")).Padding(1, 0)
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).MarginTop(1)
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Model steps an experiment one frame at a time. It shares the experiment's
// system, integrator and controller, so it must not run alongside
// Experiment.Run.
type Model struct {
	exp    *experiment.Experiment
	system *sim.ConstrainedSystem
	integ  dynamo.Integrator
	ctrl   dynamo.Controller
	manual *control.Manual

	x        dynamo.State
	u        dynamo.Control
	lambda   []float64
	t, dt    float64
	duration float64

	stepsPerFrame int
	speed         float64
	running       bool
	selected      int
	err           error

	drift  []float64
	force  []float64
	canvas *Canvas
	scale  float64
}

func NewModel(exp *experiment.Experiment) Model {
	cfg := exp.Config()
	m := Model{
		exp:           exp,
		system:        exp.System(),
		integ:         exp.Integrator(),
		ctrl:          exp.Controller(),
		dt:            cfg.Dt,
		duration:      cfg.Duration,
		stepsPerFrame: max(1, int(math.Round(frameInterval.Seconds()/cfg.Dt))),
		speed:         1,
		canvas:        NewCanvas(canvasWidth, canvasHeight),
	}
	m.manual, _ = m.ctrl.(*control.Manual)

	reach := 0.0
	for _, l := range exp.Plant().Links() {
		reach += l.Length
	}
	m.scale = float64(canvasHeight/2-1) / math.Max(reach, 1e-9)

	m.reset()
	return m
}

func (m *Model) reset() {
	m.x = m.exp.InitialState()
	m.u = make(dynamo.Control, m.system.ControlDim())
	m.lambda = nil
	m.t = 0
	m.err = nil
	m.running = true
	m.drift = m.drift[:0]
	m.force = m.force[:0]
	if r, ok := m.ctrl.(interface{ Reset() }); ok {
		r.Reset()
	}
	m.record()
}

func (m Model) Init() tea.Cmd { return tick() }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			if m.err == nil && m.t < m.duration {
				m.running = !m.running
			}
		case "r":
			m.reset()
		case "+", "=":
			m.speed = math.Min(m.speed*2, maxSpeed)
		case "-", "_":
			m.speed = math.Max(m.speed/2, 1.0/maxSpeed)
		case "tab":
			if n := m.system.ControlDim(); n > 0 {
				m.selected = (m.selected + 1) % n
			}
		case "left", "h":
			m.nudge(-nudgeStep)
		case "right", "l":
			m.nudge(nudgeStep)
		case "0":
			if m.manual != nil {
				m.manual.SetControl(make([]float64, m.system.ControlDim()))
			}
		}
	case tickMsg:
		if m.running {
			m.advance()
		}
		return m, tick()
	}
	return m, nil
}

func (m *Model) nudge(delta float64) {
	if m.manual == nil || m.system.ControlDim() == 0 {
		return
	}
	m.manual.Nudge(m.selected, delta)
}

// advance takes one frame's worth of steps, and at least one.
func (m *Model) advance() {
	steps := max(1, int(float64(m.stepsPerFrame)*m.speed))
	for i := 0; i < steps && m.running; i++ {
		m.step()
	}
}

func (m *Model) step() {
	if m.t >= m.duration {
		m.running = false
		return
	}

	u := m.ctrl.Compute(m.x, m.t)
	lambda, err := m.system.Multipliers(m.x, u, m.t)
	if err == nil {
		var next dynamo.State
		next, err = m.integ.Step(m.system, m.x, u, m.t, m.dt)
		if err == nil {
			m.x = next
		}
	}
	if err != nil {
		m.err = &dynamo.SimulationError{Time: m.t, State: m.x.Clone(), Wrapped: err}
		m.running = false
		return
	}

	m.u = u
	m.lambda = lambda
	m.t += m.dt
	m.record()
}

func (m *Model) record() {
	phi, err := m.system.Residual(m.x)
	if err != nil {
		m.err = err
		m.running = false
		return
	}
	m.drift = pushHistory(m.drift, norm(phi))
	m.force = pushHistory(m.force, norm(m.lambda))
}

func pushHistory(h []float64, v float64) []float64 {
	h = append(h, v)
	if len(h) > historyCapacity {
		h = h[len(h)-historyCapacity:]
	}
	return h
}

func norm(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// draw renders the chain with the base at the canvas center. Cells are
// about twice as tall as wide, so x is stretched by two.
func (m *Model) draw() {
	c := m.canvas
	c.Clear()

	ctx, err := m.system.Context(m.x, nil)
	if err != nil {
		return
	}
	plant := m.exp.Plant()
	links := plant.Links()

	cx, cy := canvasWidth/2, canvasHeight/2
	toCell := func(p []float64) (int, int) {
		return cx + int(math.Round(p[0]*m.scale*2)), cy - int(math.Round(p[1]*m.scale))
	}

	slider := plant.NumPositions() > len(links)
	if slider {
		for x := 0; x < canvasWidth; x++ {
			c.Set(x, cy+1, '═')
		}
	}

	joints := make([][2]int, 0, len(links)+1)
	for frame := 0; frame <= len(links); frame++ {
		var p []float64
		if frame == len(links) {
			p = plant.PointPosition(ctx, frame, multibody.Point{links[frame-1].Length, 0}).Values()
		} else {
			p = plant.PointPosition(ctx, frame+1, multibody.Point{}).Values()
		}
		x, y := toCell(p)
		joints = append(joints, [2]int{x, y})
	}

	for i := 1; i < len(joints); i++ {
		c.Line(joints[i-1][0], joints[i-1][1], joints[i][0], joints[i][1], '·')
	}
	for i, j := range joints[:len(joints)-1] {
		r := '●'
		if i == 0 {
			r = '▼'
			if slider {
				r = '█'
			}
		}
		c.Set(j[0], j[1], r)
	}
	tip := joints[len(joints)-1]
	c.Set(tip[0], tip[1], '⬤')
}

func (m Model) View() string {
	m.draw()

	var stats strings.Builder
	status := "running"
	switch {
	case m.err != nil:
		status = errorStyle.Render("failed")
	case !m.running:
		status = "paused"
	}
	stats.WriteString(headerStyle.Render(fmt.Sprintf("%s  %s", m.exp.Config().Name, status)) + "\n")

	row := func(label, value string) {
		stats.WriteString(labelStyle.Render(label) + valueStyle.Render(value) + "\n")
	}
	row("time", fmt.Sprintf("%.3f / %.1f s", m.t, m.duration))
	row("speed", fmt.Sprintf("%gx", m.speed))
	row("|φ|", fmt.Sprintf("%.3e", last(m.drift)))
	row("|λ|", fmt.Sprintf("%.3f", last(m.force)))
	row("energy", fmt.Sprintf("%.4f", m.system.Energy(m.x)))
	row("alpha", fmt.Sprintf("%g", m.system.Alpha()))

	for i, v := range m.u {
		label := fmt.Sprintf("u%d", i)
		value := fmt.Sprintf("%.3f", v)
		if m.manual != nil && i == m.selected {
			stats.WriteString(labelStyle.Render(label) + activeStyle.Render(value) + "\n")
			continue
		}
		row(label, value)
	}

	if m.err != nil {
		stats.WriteString("\n" + errorStyle.Render(m.err.Error()) + "\n")
	}

	if len(m.drift) > 1 {
		stats.WriteString(graphStyle.Render(asciigraph.Plot(m.drift,
			asciigraph.Height(5), asciigraph.Width(36), asciigraph.Caption("constraint drift |φ|"))) + "\n")
	}
	if len(m.force) > 1 {
		stats.WriteString(graphStyle.Render(asciigraph.Plot(m.force,
			asciigraph.Height(5), asciigraph.Width(36), asciigraph.Caption("constraint force |λ|"))) + "\n")
	}

	help := "space pause  r reset  +/- speed  q quit"
	if m.manual != nil {
		help += "  tab actuator  ←/→ nudge  0 zero"
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, canvasStyle.Render(m.canvas.String()), statsStyle.Render(stats.String()))
	return body + "\n" + helpStyle.Render(help) + "\n"
}

func last(h []float64) float64 {
	if len(h) == 0 {
		return 0
	}
	return h[len(h)-1]
}

// Run opens the watch view on the alternate screen.
func Run(exp *experiment.Experiment) error {
	p := tea.NewProgram(NewModel(exp), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

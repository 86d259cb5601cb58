package analysis

import (
	"fmt"
	"math"
)

// Portrait is the trajectory of two state entries.
type Portrait struct {
	XIndex, YIndex int
	X, Y           []float64
	XMin, XMax     float64
	YMin, YMax     float64
}

func NewPortrait(states [][]float64, xIdx, yIdx int) (*Portrait, error) {
	if len(states) == 0 {
		return nil, ErrShortSeries
	}

	p := &Portrait{
		XIndex: xIdx,
		YIndex: yIdx,
		X:      make([]float64, 0, len(states)),
		Y:      make([]float64, 0, len(states)),
		XMin:   math.Inf(1),
		XMax:   math.Inf(-1),
		YMin:   math.Inf(1),
		YMax:   math.Inf(-1),
	}
	for i, s := range states {
		if xIdx < 0 || yIdx < 0 || xIdx >= len(s) || yIdx >= len(s) {
			return nil, fmt.Errorf("analysis: state %d has %d entries, axes are %d and %d", i, len(s), xIdx, yIdx)
		}
		x, y := s[xIdx], s[yIdx]
		p.X = append(p.X, x)
		p.Y = append(p.Y, y)
		p.XMin, p.XMax = math.Min(p.XMin, x), math.Max(p.XMax, x)
		p.YMin, p.YMax = math.Min(p.YMin, y), math.Max(p.YMax, y)
	}
	return p, nil
}

// Grid rasterizes the portrait into h rows of w cells, y up. Points are
// drawn as '.', 'o' or '●' for the first, middle and last third of the run.
func (p *Portrait) Grid(w, h int) [][]rune {
	grid := make([][]rune, h)
	for i := range grid {
		grid[i] = make([]rune, w)
		for j := range grid[i] {
			grid[i][j] = ' '
		}
	}
	if w == 0 || h == 0 {
		return grid
	}

	xRange := p.XMax - p.XMin
	if xRange == 0 {
		xRange = 1
	}
	yRange := p.YMax - p.YMin
	if yRange == 0 {
		yRange = 1
	}

	n := len(p.X)
	for i := range p.X {
		px := int(float64(w-1) * (p.X[i] - p.XMin) / xRange)
		py := h - 1 - int(float64(h-1)*(p.Y[i]-p.YMin)/yRange)
		switch {
		case i < n/3:
			grid[py][px] = '.'
		case i < 2*n/3:
			grid[py][px] = 'o'
		default:
			grid[py][px] = '●'
		}
	}
	return grid
}

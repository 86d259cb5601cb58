package main

import (
	"github.com/rs/zerolog"
	"github.com/san-kum/kinsim/internal/dynamo"
)

// progressLogger logs the simulated time each time another tenth of the
// run has passed.
type progressLogger struct {
	log      zerolog.Logger
	duration float64
	next     float64
}

func newProgressLogger(log zerolog.Logger, duration float64) *progressLogger {
	return &progressLogger{log: log, duration: duration}
}

func (p *progressLogger) OnStep(x dynamo.State, u dynamo.Control, t float64) {
	if p.duration <= 0 || t < p.next {
		return
	}
	p.log.Debug().Float64("t", t).Int("percent", int(100*t/p.duration+0.5)).Msg("progress")
	p.next += p.duration / 10
	for p.next <= t {
		p.next += p.duration / 10
	}
}

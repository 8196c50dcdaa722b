// Package workflow contains the coordinator that sequences query
// understanding, fetching, processing and persistence under one timeout
// budget.
package workflow

import (
	"time"

	"github.com/quarryd/quarry/internal/harvest"
	"github.com/quarryd/quarry/internal/telemetry"
)

// progressTracker records per-stage wall time and the completed/failed stage
// lists used to assemble partial results. Owned by a single Run call, so no
// locking.
type progressTracker struct {
	clock harvest.Clock

	timings   map[string]float64
	completed []string
	failed    string

	current    string
	stageStart time.Time
}

func newProgressTracker(clock harvest.Clock) *progressTracker {
	return &progressTracker{
		clock:     clock,
		timings:   make(map[string]float64),
		completed: []string{},
	}
}

func (p *progressTracker) start(stage string) {
	p.current = stage
	p.stageStart = p.clock.Now()
}

func (p *progressTracker) complete() {
	p.record()
	p.completed = append(p.completed, p.current)
	p.current = ""
}

// fail records the current stage as the failure point. Later stages never
// run, so at most one stage fails per workflow.
func (p *progressTracker) fail() {
	p.record()
	p.failed = p.current
	p.current = ""
}

// abandon records timing for a stage that ran but did not complete, without
// marking it as the workflow failure point. Used for best-effort persistence.
func (p *progressTracker) abandon() {
	p.record()
	p.current = ""
}

func (p *progressTracker) record() {
	if p.current == "" {
		return
	}
	elapsed := p.clock.Now().Sub(p.stageStart)
	p.timings[p.current] = elapsed.Seconds()
	telemetry.ObserveStageDuration(p.current, elapsed)
}

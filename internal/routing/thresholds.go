package routing

import (
	"sync"

	"go.uber.org/zap"

	"github.com/math-agent/backend/pkg/logger"
)

// Threshold bounds keep feedback-driven drift from collapsing the
// confidence bands into each other.
const (
	minHighThreshold = 0.60
	maxHighThreshold = 0.95
	minLowThreshold  = 0.30
	minBandGap       = 0.10
)

// Thresholds holds the confidence gates shared between the routing engine
// and the feedback engine. Reads are taken per query; writes come from
// feedback-driven improvement passes.
type Thresholds struct {
	mu   sync.RWMutex
	high float64
	low  float64
	step float64
}

func NewThresholds(high, low, step float64) *Thresholds {
	if high == 0 {
		high = 0.80
	}
	if low == 0 {
		low = 0.50
	}
	if step == 0 {
		step = 0.02
	}
	t := &Thresholds{step: step}
	t.set(high, low)
	return t
}

func (t *Thresholds) Snapshot() (high, low float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.high, t.low
}

func (t *Thresholds) High() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.high
}

func (t *Thresholds) Low() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.low
}

// Restore replaces the current values, used when loading persisted
// thresholds at startup.
func (t *Thresholds) Restore(high, low float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.set(high, low)
}

// Nudge moves each threshold by at most one step in the requested
// direction. Positive direction raises the gate, negative lowers it.
func (t *Thresholds) Nudge(highDirection, lowDirection float64) (high, low float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	newHigh := t.high + clampStep(highDirection, t.step)
	newLow := t.low + clampStep(lowDirection, t.step)
	t.set(newHigh, newLow)

	logger.Info("Routing thresholds adjusted",
		zap.Float64("high", t.high),
		zap.Float64("low", t.low),
	)
	return t.high, t.low
}

func (t *Thresholds) set(high, low float64) {
	if high < minHighThreshold {
		high = minHighThreshold
	}
	if high > maxHighThreshold {
		high = maxHighThreshold
	}
	if low < minLowThreshold {
		low = minLowThreshold
	}
	if low > high-minBandGap {
		low = high - minBandGap
	}
	t.high = high
	t.low = low
}

func clampStep(direction, step float64) float64 {
	if direction > step {
		return step
	}
	if direction < -step {
		return -step
	}
	return direction
}

package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThresholdDefaults(t *testing.T) {
	th := NewThresholds(0, 0, 0)

	high, low := th.Snapshot()
	assert.Equal(t, 0.80, high)
	assert.Equal(t, 0.50, low)
}

func TestNudgeIsBoundedToOneStep(t *testing.T) {
	th := NewThresholds(0.80, 0.50, 0.02)

	high, low := th.Nudge(1.0, -1.0)

	assert.InDelta(t, 0.82, high, 1e-9)
	assert.InDelta(t, 0.48, low, 1e-9)
}

func TestNudgeClampsAtBounds(t *testing.T) {
	th := NewThresholds(0.80, 0.50, 0.02)

	for i := 0; i < 50; i++ {
		th.Nudge(0.02, 0)
	}
	high, _ := th.Snapshot()
	assert.Equal(t, 0.95, high)

	for i := 0; i < 50; i++ {
		th.Nudge(-0.02, -0.02)
	}
	high, low := th.Snapshot()
	assert.Equal(t, 0.60, high)
	assert.Equal(t, 0.30, low)
}

func TestBandGapIsPreserved(t *testing.T) {
	th := NewThresholds(0.62, 0.58, 0.02)

	high, low := th.Snapshot()
	assert.GreaterOrEqual(t, high-low, 0.10-1e-9)
}

func TestRestoreAppliesClamps(t *testing.T) {
	th := NewThresholds(0.80, 0.50, 0.02)

	th.Restore(0.99, 0.10)

	high, low := th.Snapshot()
	assert.Equal(t, 0.95, high)
	assert.Equal(t, 0.30, low)
}

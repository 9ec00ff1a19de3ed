package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Levels arrive rounded to two decimals, so the round trip is checked on that grid.
// Off the grid the two roundings can add up to slightly more than 0.01
func TestPercentDecibelRoundTripOnHundredthsGrid(t *testing.T) {
	bounds := [][2]float64{
		{-60, 12},
		{-60, 0},
		{-96, 24},
		{-80, 40},
	}

	for _, b := range bounds {
		for step := 0; step <= 10000; step++ {
			p := float64(step) / 100
			db := PercentToDecibel(p, b[0], b[1])
			back := DecibelToPercent(db, b[0], b[1])

			assert.InDelta(t, p, back, 0.01+1e-9, "p=%v min=%v max=%v db=%v", p, b[0], b[1], db)
		}
	}
}

func TestPercentToDecibel(t *testing.T) {
	assert.Equal(t, -60.0, PercentToDecibel(0, -60, 12))
	assert.Equal(t, 12.0, PercentToDecibel(100, -60, 12))
	assert.Equal(t, -24.0, PercentToDecibel(50, -60, 12))

	// out of range input is clamped first
	assert.Equal(t, -60.0, PercentToDecibel(-10, -60, 12))
	assert.Equal(t, 12.0, PercentToDecibel(140, -60, 12))

	assert.Equal(t, -31.92, PercentToDecibel(39, -60, 12))
}

func TestDecibelToPercent(t *testing.T) {
	assert.Equal(t, 0.0, DecibelToPercent(-60, -60, 12))
	assert.Equal(t, 100.0, DecibelToPercent(12, -60, 12))
	assert.Equal(t, 50.0, DecibelToPercent(-24, -60, 12))

	assert.Equal(t, 0.0, DecibelToPercent(-90, -60, 12))
	assert.Equal(t, 100.0, DecibelToPercent(18, -60, 12))

	assert.Equal(t, 33.33, DecibelToPercent(-36, -60, 12))

	// degenerate bounds never divide by zero
	assert.Equal(t, 0.0, DecibelToPercent(0, 5, 5))
}

func TestScalarPercent(t *testing.T) {
	assert.InDelta(t, 55.0, ScalarToPercent(0.55), 1e-9)
	assert.Equal(t, 100.0, ScalarToPercent(1.7))
	assert.Equal(t, 0.0, ScalarToPercent(-0.2))

	assert.InDelta(t, 0.4, PercentToScalar(40), 1e-9)
	assert.Equal(t, 1.0, PercentToScalar(120))
	assert.Equal(t, 0.0, PercentToScalar(-3))
}

func TestNormalizeScalar(t *testing.T) {
	assert.Equal(t, float32(0.15), NormalizeScalar(0.15442))
	assert.Equal(t, float32(1), NormalizeScalar(1))
}

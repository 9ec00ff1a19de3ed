package util

import "math"

// Clamp limits value to the closed range [min, max]
func Clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}

	return value
}

// Round2 rounds to two decimal places, halves away from zero
func Round2(value float64) float64 {
	return math.Round(value*100) / 100
}

// PercentToDecibel maps a 0-100 level linearly onto [minDB, maxDB]
func PercentToDecibel(percent, minDB, maxDB float64) float64 {
	p := Clamp(percent, 0, 100)
	return Round2(p/100*(maxDB-minDB) + minDB)
}

// DecibelToPercent is the inverse of PercentToDecibel
func DecibelToPercent(db, minDB, maxDB float64) float64 {
	if maxDB <= minDB {
		return 0
	}

	d := Clamp(db, minDB, maxDB)
	return Round2((d - minDB) / (maxDB - minDB) * 100)
}

// ScalarToPercent converts a normalized 0-1 level into percent
func ScalarToPercent(scalar float64) float64 {
	return Clamp(scalar, 0, 1) * 100
}

// PercentToScalar converts a 0-100 level into a normalized 0-1 scalar
func PercentToScalar(percent float64) float64 {
	return Clamp(percent, 0, 100) / 100
}

// NormalizeScalar "trims" the given float32 to 2 points of precision (e.g. 0.15442 -> 0.15)
// Core audio reports levels with float jitter in the low digits
func NormalizeScalar(v float32) float32 {
	return float32(math.Floor(float64(v)*100) / 100.0)
}

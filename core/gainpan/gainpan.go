// Package gainpan holds the gain and pan law shared by the live mixer and the
// offline renderer. Every function is pure.
package gainpan

import "math"

const (
	// MinGainDB and MaxGainDB bound track and master gain in the live mixer.
	MinGainDB = -41.0
	MaxGainDB = 18.0

	// RenderMinGainDB and RenderMaxGainDB bound track gain in the render path.
	// The render ceiling is lower than the live one to leave headroom in the sum.
	RenderMinGainDB = -30.0
	RenderMaxGainDB = 0.0

	// NormalizeTargetDB is the level a freshly loaded track is brought to
	// when the caller gave no initial gain.
	NormalizeTargetDB = -12

	NormalizeMinDB = -20
	NormalizeMaxDB = 18

	// PeakEpsilon floors peak amplitude so silence maps to -80 dB instead of -Inf.
	PeakEpsilon = 1e-4

	// MasterCompensationDB counters the 1/N attenuation of the render sum.
	MasterCompensationDB = 3.0
)

// DbToLinear converts decibels to a linear amplitude factor.
func DbToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// LinearToDb is the inverse of DbToLinear. Non-positive input yields -Inf.
func LinearToDb(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(v)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampGainDB clamps a live-mixer gain to [MinGainDB, MaxGainDB].
func ClampGainDB(db float64) float64 {
	return clamp(db, MinGainDB, MaxGainDB)
}

// ClampRenderGainDB clamps a gain to the render range [-30, 0].
func ClampRenderGainDB(db float64) float64 {
	return clamp(db, RenderMinGainDB, RenderMaxGainDB)
}

// ClampPan clamps pan to [-1, 1]. NaN is treated as center.
func ClampPan(pan float64) float64 {
	if math.IsNaN(pan) {
		return 0
	}
	return clamp(pan, -1, 1)
}

// PanToStereoWeights is the linear pan law: -1 is full left, +1 full right.
func PanToStereoWeights(pan float64) (left, right float64) {
	p := ClampPan(pan)
	return (1 - p) / 2, (1 + p) / 2
}

// PeakAmplitudeToDb maps a normalized peak amplitude to whole decibels.
func PeakAmplitudeToDb(peak float64) int {
	return int(math.Round(20 * math.Log10(math.Max(peak, PeakEpsilon))))
}

// NormalizeToTargetDb returns the gain that moves peakDB to targetDB,
// limited to [NormalizeMinDB, NormalizeMaxDB].
func NormalizeToTargetDb(peakDB, targetDB int) int {
	g := targetDB - peakDB
	if g < NormalizeMinDB {
		return NormalizeMinDB
	}
	if g > NormalizeMaxDB {
		return NormalizeMaxDB
	}
	return g
}

// PeakOf returns the peak absolute amplitude of PCM samples, normalized to [0, 1].
func PeakOf(samples []int16) float64 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return math.Min(float64(peak)/32767.0, 1)
}

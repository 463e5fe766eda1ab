package audio

import "math"

// LevelData reports a live input level on a 0-100 scale plus clipping status.
// It is derived from the most recent frame without consuming it from the
// relay queue, so level metering never competes with the disk writer.
type LevelData struct {
	Level    int  `json:"level"`
	Clipping bool `json:"clipping"`
}

// CalculateLevel computes the RMS level of a frame and scales it to 0-100.
func CalculateLevel(fr Frame, f Format) LevelData {
	samples := fr.Samples(f)
	if len(samples) == 0 {
		return LevelData{}
	}

	fullScale := float64(int64(1) << (f.BitDepth - 1))
	maxPositive := int(fullScale) - 1
	minNegative := -int(fullScale)

	var sum float64
	clipping := false
	for _, s := range samples {
		v := float64(s)
		sum += v * v
		if s >= maxPositive || s <= minNegative {
			clipping = true
		}
	}

	rms := math.Sqrt(sum / float64(len(samples)))

	// Convert RMS to decibels relative to full scale, then map the usable
	// -60..-10 dB window onto 0-100.
	db := 20 * math.Log10(rms/fullScale)
	scaled := (db + 60) * (100.0 / 50.0)

	if clipping {
		scaled = math.Max(scaled, 95)
	}
	if scaled < 0 {
		scaled = 0
	} else if scaled > 100 {
		scaled = 100
	}

	return LevelData{Level: int(scaled), Clipping: clipping}
}

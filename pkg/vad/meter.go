package vad

import "math"

// RMS computes the root-mean-square volume of one window of 16-bit samples.
// Returned values are in raw sample units (0..32767).
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sumSquares float64
	for _, sample := range samples {
		val := float64(sample)
		sumSquares += val * val
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}

// Normalize maps a raw RMS volume to 0..1 for UI volume feedback.
func Normalize(rms float64) float64 {
	v := rms / 32768.0
	if v > 1 {
		return 1
	}
	return v
}

// Detector classifies a volume sample as speech or silence against a
// threshold in raw RMS units.
type Detector struct {
	Threshold float64
}

func NewDetector(threshold float64) Detector {
	if threshold <= 0 {
		threshold = 1000
	}
	return Detector{Threshold: threshold}
}

// IsSpeech reports whether the window's energy crosses the threshold.
func (d Detector) IsSpeech(samples []int16) bool {
	return RMS(samples) > d.Threshold
}

// IsSpeechLevel classifies an already-computed RMS value.
func (d Detector) IsSpeechLevel(rms float64) bool {
	return rms > d.Threshold
}

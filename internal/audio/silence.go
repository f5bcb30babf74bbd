package audio

import (
	"math"
)

// DefaultSilenceThresholdDBFS is the RMS level below which a recording is
// treated as silent by the transcribe gate.
const DefaultSilenceThresholdDBFS = -60.0

type SilenceMetrics struct {
	RMSdBFS  float64 `json:"rms_dbfs"`
	PeakdBFS float64 `json:"peak_dbfs"`
	Samples  int64   `json:"samples"`
}

// MeasureLevels computes RMS and peak level of samples in dBFS.
func MeasureLevels(samples []float32) SilenceMetrics {
	if len(samples) == 0 {
		return SilenceMetrics{RMSdBFS: math.Inf(-1), PeakdBFS: math.Inf(-1)}
	}

	var peak, sumSquares float64
	for _, s := range samples {
		v := float64(s)
		if abs := math.Abs(v); abs > peak {
			peak = abs
		}
		sumSquares += v * v
	}
	rms := math.Sqrt(sumSquares / float64(len(samples)))
	return SilenceMetrics{
		RMSdBFS:  amplitudeToDBFS(rms),
		PeakdBFS: amplitudeToDBFS(peak),
		Samples:  int64(len(samples)),
	}
}

// IsSilent applies the gate: RMS at or below the threshold and peak no more
// than 6 dB above it. Empty input is silent.
func IsSilent(samples []float32, thresholdDBFS float64) (bool, SilenceMetrics) {
	m := MeasureLevels(samples)
	if m.Samples == 0 {
		return true, m
	}
	if math.IsInf(m.RMSdBFS, -1) && math.IsInf(m.PeakdBFS, -1) {
		return true, m
	}
	peakGate := thresholdDBFS + 6
	return m.RMSdBFS <= thresholdDBFS && m.PeakdBFS <= peakGate, m
}

// IsSilentWAV loads the WAV at path and applies IsSilent.
func IsSilentWAV(path string, thresholdDBFS float64) (bool, SilenceMetrics, error) {
	sig, err := LoadWAV(path)
	if err != nil {
		return false, SilenceMetrics{}, err
	}
	silent, m := IsSilent(sig.Samples, thresholdDBFS)
	return silent, m, nil
}

func amplitudeToDBFS(amplitude float64) float64 {
	if amplitude <= 0 {
		return math.Inf(-1)
	}
	return 20.0 * math.Log10(amplitude)
}

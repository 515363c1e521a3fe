package tools

import "time"

// FrameSamples is the number of interleaved s16 samples that cover duration
// at rate. Partial frames are dropped.
func FrameSamples(duration time.Duration, rate, channels int) int {
	if duration <= 0 || rate <= 0 || channels <= 0 {
		return 0
	}
	frames := int64(duration) * int64(rate) / int64(time.Second)
	return int(frames) * channels
}

// Resample converts mono samples between rates by linear interpolation.
func Resample(samples []float32, from, to int) []float32 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		return samples
	}
	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	last := len(samples) - 1
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = samples[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = samples[j] + (samples[j+1]-samples[j])*frac
	}
	return out
}

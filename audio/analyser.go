package audio

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	defaultSmoothing   = 0.8
	defaultMinDecibels = -100
	defaultMaxDecibels = -30
)

// Analyser keeps the most recent fftSize rendered samples and reports their
// smoothed magnitude spectrum as bytes, the same scale browsers use for
// frequency data.
type Analyser struct {
	mu        sync.Mutex
	fftSize   int
	ring      []float32
	pos       int
	window    []float64
	input     []float64
	coeffs    []complex128
	smoothed  []float64
	bytes     []uint8
	fft       *fourier.FFT
	smoothing float64
	minDB     float64
	maxDB     float64
}

func NewAnalyser(fftSize int) *Analyser {
	if fftSize < 2 {
		fftSize = AnalyserFFTSize
	}
	a := &Analyser{
		fftSize:   fftSize,
		ring:      make([]float32, fftSize),
		window:    blackman(fftSize),
		input:     make([]float64, fftSize),
		smoothed:  make([]float64, fftSize/2),
		bytes:     make([]uint8, fftSize/2),
		fft:       fourier.NewFFT(fftSize),
		smoothing: defaultSmoothing,
		minDB:     defaultMinDecibels,
		maxDB:     defaultMaxDecibels,
	}
	return a
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := 2 * math.Pi * float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(x) + a2*math.Cos(2*x)
	}
	return w
}

func (a *Analyser) FrequencyBinCount() int {
	return a.fftSize / 2
}

func (a *Analyser) write(samples []float32) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(samples) >= a.fftSize {
		copy(a.ring, samples[len(samples)-a.fftSize:])
		a.pos = 0
		return
	}
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.fftSize
	}
}

// ByteFrequencyData computes the current spectrum and copies it into dst,
// which is grown to FrequencyBinCount when needed.
func (a *Analyser) ByteFrequencyData(dst []uint8) []uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.update()
	if cap(dst) < len(a.bytes) {
		dst = make([]uint8, len(a.bytes))
	}
	dst = dst[:len(a.bytes)]
	copy(dst, a.bytes)
	return dst
}

// Volume is the mean of the byte frequency bins normalised to [0, 1].
func (a *Analyser) Volume() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.update()
	sum := 0
	for _, b := range a.bytes {
		sum += int(b)
	}
	return float64(sum) / float64(len(a.bytes)) / 255
}

func (a *Analyser) update() {
	for i := range a.input {
		a.input[i] = float64(a.ring[(a.pos+i)%a.fftSize]) * a.window[i]
	}
	a.coeffs = a.fft.Coefficients(a.coeffs, a.input)
	scale := 255 / (a.maxDB - a.minDB)
	for k := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[k]) / float64(a.fftSize)
		a.smoothed[k] = a.smoothing*a.smoothed[k] + (1-a.smoothing)*mag
		if a.smoothed[k] <= 0 {
			a.bytes[k] = 0
			continue
		}
		v := scale * (20*math.Log10(a.smoothed[k]) - a.minDB)
		switch {
		case v < 0:
			a.bytes[k] = 0
		case v > 255:
			a.bytes[k] = 255
		default:
			a.bytes[k] = uint8(v)
		}
	}
}

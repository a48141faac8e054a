package audio

import (
	"fmt"
	"math"
	"math/cmplx"
)

const (
	// DefaultMinDecibels and DefaultMaxDecibels bound the byte mapping of
	// ByteFrequencyData, matching common browser analyser defaults.
	DefaultMinDecibels = -100.0
	DefaultMaxDecibels = -30.0
)

// Analyser turns windows of samples into smoothed byte-scaled frequency
// magnitudes. It keeps the previous spectrum for time smoothing and is not
// safe for concurrent use.
type Analyser struct {
	fftSize     int
	smoothing   float64
	minDecibels float64
	maxDecibels float64

	window []float64
	prev   []float64
	buf    []complex128
}

// NewAnalyser returns an analyser for fftSize (a power of two) with the
// given time smoothing constant in [0, 1).
func NewAnalyser(fftSize int, smoothing float64) (*Analyser, error) {
	if fftSize < 32 || fftSize&(fftSize-1) != 0 {
		return nil, fmt.Errorf("fft size %d is not a power of two >= 32", fftSize)
	}
	if smoothing < 0 || smoothing >= 1 {
		return nil, fmt.Errorf("smoothing %v out of range [0,1)", smoothing)
	}
	a := &Analyser{
		fftSize:     fftSize,
		smoothing:   smoothing,
		minDecibels: DefaultMinDecibels,
		maxDecibels: DefaultMaxDecibels,
		window:      blackman(fftSize),
		prev:        make([]float64, fftSize/2),
		buf:         make([]complex128, fftSize),
	}
	return a, nil
}

// FFTSize returns the analysis window length in samples.
func (a *Analyser) FFTSize() int { return a.fftSize }

// ByteFrequencyData analyses the most recent fftSize samples (zero padded at
// the front when fewer are available) and returns fftSize/2 bins on 0-255.
func (a *Analyser) ByteFrequencyData(samples []float64) []uint8 {
	n := a.fftSize
	offset := n - len(samples)
	if offset < 0 {
		samples = samples[len(samples)-n:]
		offset = 0
	}
	for i := 0; i < n; i++ {
		v := 0.0
		if i >= offset {
			v = samples[i-offset]
		}
		a.buf[i] = complex(v*a.window[i], 0)
	}
	fft(a.buf)

	out := make([]uint8, n/2)
	scale := 255 / (a.maxDecibels - a.minDecibels)
	for k := range out {
		mag := cmplx.Abs(a.buf[k]) / float64(n)
		a.prev[k] = a.smoothing*a.prev[k] + (1-a.smoothing)*mag
		db := math.Inf(-1)
		if a.prev[k] > 0 {
			db = 20 * math.Log10(a.prev[k])
		}
		v := math.Floor(scale * (db - a.minDecibels))
		switch {
		case math.IsInf(v, -1) || v < 0:
			out[k] = 0
		case v > 255:
			out[k] = 255
		default:
			out[k] = uint8(v)
		}
	}
	return out
}

// MeanMagnitude is the arithmetic mean of byte frequency bins.
func MeanMagnitude(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}

func blackman(n int) []float64 {
	const alpha = 0.16
	a0, a1, a2 := (1-alpha)/2, 0.5, alpha/2
	w := make([]float64, n)
	for i := range w {
		x := float64(i) / float64(n)
		w[i] = a0 - a1*math.Cos(2*math.Pi*x) + a2*math.Cos(4*math.Pi*x)
	}
	return w
}

// fft is an in-place iterative radix-2 transform; len(x) must be a power of two.
func fft(x []complex128) {
	n := len(x)
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j ^= bit
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}
	for size := 2; size <= n; size <<= 1 {
		step := cmplx.Exp(complex(0, -2*math.Pi/float64(size)))
		for start := 0; start < n; start += size {
			w := complex(1, 0)
			half := size / 2
			for k := 0; k < half; k++ {
				u := x[start+k]
				v := x[start+k+half] * w
				x[start+k] = u + v
				x[start+k+half] = u - v
				w *= step
			}
		}
	}
}

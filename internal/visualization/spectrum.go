package visualization

import (
	"math"
	"sync"
)

// spectrumState runs a radix-2 DIT FFT over the head of each block and
// folds the magnitude bins into log-spaced bars. All scratch buffers
// are sized in init; process allocates nothing.
type spectrumState struct {
	mu sync.Mutex

	fftSize   int
	minFreq   float64
	maxFreq   float64
	smoothing float64

	window []float64 // Hann, fftSize long
	re     []float64
	im     []float64

	bars     []float64 // smoothed, dB
	barFreqs []float64 // band center frequencies
	barBins  []int     // FFT bin closest to each band center

	mappedRate uint32 // sample rate barBins was computed for
}

func (s *spectrumState) init(fftSize, bars int, minFreq, maxFreq, smoothing float64) {
	s.fftSize = fftSize
	s.minFreq = minFreq
	s.maxFreq = maxFreq
	s.smoothing = smoothing

	s.window = make([]float64, fftSize)
	for i := range s.window {
		s.window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(fftSize-1)))
	}
	s.re = make([]float64, fftSize)
	s.im = make([]float64, fftSize)

	s.bars = make([]float64, bars)
	for i := range s.bars {
		s.bars[i] = dbFloor
	}
	s.barFreqs = make([]float64, bars)
	s.barBins = make([]int, bars)

	ratio := maxFreq / minFreq
	for i := 0; i < bars; i++ {
		// Log-spaced band centers between minFreq and maxFreq.
		frac := (float64(i) + 0.5) / float64(bars)
		s.barFreqs[i] = minFreq * math.Pow(ratio, frac)
	}
	s.mappedRate = 0
}

// mapBins picks, for each band center, the FFT bin whose frequency is
// closest. Recomputed only when the sample rate changes.
func (s *spectrumState) mapBins(sampleRate uint32) {
	binHz := float64(sampleRate) / float64(s.fftSize)
	half := s.fftSize / 2
	for i, f := range s.barFreqs {
		bin := int(math.Round(f / binHz))
		if bin < 1 {
			bin = 1
		}
		if bin > half-1 {
			bin = half - 1
		}
		s.barBins[i] = bin
	}
	s.mappedRate = sampleRate
}

// process mono-mixes the first fftSize samples of the block, windows
// them, runs the FFT and updates the smoothed bars. Caller holds s.mu.
func (s *spectrumState) process(samples []float32, frames, channels int, sampleRate uint32) {
	if sampleRate == 0 {
		return
	}
	if s.mappedRate != sampleRate {
		s.mapBins(sampleRate)
	}

	n := frames
	if n > s.fftSize {
		n = s.fftSize
	}
	inv := 1.0 / float64(channels)
	for i := 0; i < n; i++ {
		var acc float64
		base := i * channels
		for c := 0; c < channels; c++ {
			acc += float64(samples[base+c])
		}
		s.re[i] = acc * inv * s.window[i]
		s.im[i] = 0
	}
	for i := n; i < s.fftSize; i++ {
		s.re[i] = 0
		s.im[i] = 0
	}

	fftRadix2(s.re, s.im)

	scale := 2.0 / float64(s.fftSize)
	alpha := s.smoothing
	for i, bin := range s.barBins {
		mag := math.Hypot(s.re[bin], s.im[bin]) * scale
		instant := linearToDB(mag)
		s.bars[i] = alpha*s.bars[i] + (1-alpha)*instant
	}
}

func (s *spectrumState) reset() {
	for i := range s.bars {
		s.bars[i] = dbFloor
	}
}

// fftRadix2 computes an in-place Cooley-Tukey radix-2
// decimation-in-time FFT. len(re) must be a power of two.
func fftRadix2(re, im []float64) {
	n := len(re)

	// Bit-reversal permutation.
	for i, j := 1, 0; i < n; i++ {
		bit := n >> 1
		for ; j&bit != 0; bit >>= 1 {
			j ^= bit
		}
		j |= bit
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for length := 2; length <= n; length <<= 1 {
		ang := -2 * math.Pi / float64(length)
		wRe := math.Cos(ang)
		wIm := math.Sin(ang)
		for start := 0; start < n; start += length {
			curRe, curIm := 1.0, 0.0
			half := length / 2
			for k := 0; k < half; k++ {
				even := start + k
				odd := even + half
				tRe := re[odd]*curRe - im[odd]*curIm
				tIm := re[odd]*curIm + im[odd]*curRe
				re[odd] = re[even] - tRe
				im[odd] = im[even] - tIm
				re[even] += tRe
				im[even] += tIm
				curRe, curIm = curRe*wRe-curIm*wIm, curRe*wIm+curIm*wRe
			}
		}
	}
}

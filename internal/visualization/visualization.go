// Package visualization produces the three audio-thread-fed data
// products consumed by a UI at ~60 Hz: a waveform ring buffer, an FFT
// spectrum with log-spaced bars, and stereo VU meters with peak decay
// and windowed RMS.
//
// Each product is guarded by its own mutex; ProcessAudio acquires them
// one at a time and never holds more than one. Readers never block:
// when a product's lock cannot be taken immediately, the previous
// snapshot is returned instead.
package visualization

import (
	"math"
	"sync/atomic"
)

// Config sizes the three products. Zero fields are replaced by the
// corresponding Default values at Initialize.
type Config struct {
	// WaveformTimeSpan is the number of seconds of audio the waveform
	// ring retains.
	WaveformTimeSpan float64
	// WaveformWidth is the number of (min,max) pixel pairs a waveform
	// read produces.
	WaveformWidth int
	// FFTSize is rounded up to the next power of two.
	FFTSize int
	// SpectrumBars is the number of log-spaced bands between
	// SpectrumMinFreq and SpectrumMaxFreq.
	SpectrumBars                     int
	SpectrumMinFreq, SpectrumMaxFreq float64
	// SpectrumSmoothing is the exponential smoothing factor alpha in
	// [0,1]: new = alpha*old + (1-alpha)*instant.
	SpectrumSmoothing float64
	// VUPeakDecayRate is how fast a held peak falls between blocks, in
	// dB per second.
	VUPeakDecayRate float64
	// VURMSWindowMs is the sliding-window length for the RMS meter.
	VURMSWindowMs float64
	// MaxSampleRate is the highest rate ProcessAudio will be fed; the
	// waveform ring is sized from it so rates above 48 kHz do not wrap
	// early.
	MaxSampleRate uint32
	Channels      uint32
}

// Default configuration values.
const (
	DefaultWaveformTimeSpan  = 5.0
	DefaultWaveformWidth     = 512
	DefaultFFTSize           = 2048
	DefaultSpectrumBars      = 32
	DefaultSpectrumMinFreq   = 20.0
	DefaultSpectrumMaxFreq   = 20000.0
	DefaultSpectrumSmoothing = 0.7
	DefaultVUPeakDecayRate   = 20.0 // dB/s
	DefaultVURMSWindowMs     = 300.0
	DefaultMaxSampleRate     = 48000
)

// dbFloor is the lowest magnitude either meter or the spectrum reports.
const dbFloor = -80.0

func (c *Config) applyDefaults() {
	if c.WaveformTimeSpan <= 0 {
		c.WaveformTimeSpan = DefaultWaveformTimeSpan
	}
	if c.WaveformWidth <= 0 {
		c.WaveformWidth = DefaultWaveformWidth
	}
	if c.FFTSize <= 0 {
		c.FFTSize = DefaultFFTSize
	}
	c.FFTSize = nextPowerOfTwo(c.FFTSize)
	if c.SpectrumBars <= 0 {
		c.SpectrumBars = DefaultSpectrumBars
	}
	if c.SpectrumMinFreq <= 0 {
		c.SpectrumMinFreq = DefaultSpectrumMinFreq
	}
	if c.SpectrumMaxFreq <= c.SpectrumMinFreq {
		c.SpectrumMaxFreq = DefaultSpectrumMaxFreq
	}
	if c.SpectrumSmoothing < 0 || c.SpectrumSmoothing > 1 {
		c.SpectrumSmoothing = DefaultSpectrumSmoothing
	}
	if c.VUPeakDecayRate <= 0 {
		c.VUPeakDecayRate = DefaultVUPeakDecayRate
	}
	if c.VURMSWindowMs <= 0 {
		c.VURMSWindowMs = DefaultVURMSWindowMs
	}
	if c.MaxSampleRate == 0 {
		c.MaxSampleRate = DefaultMaxSampleRate
	}
	if c.Channels == 0 {
		c.Channels = 2
	}
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Engine holds the three products. All hot-path buffers are allocated
// in Initialize; ProcessAudio performs no allocation.
type Engine struct {
	cfg         Config
	initialized bool

	waveform waveformRing
	spectrum spectrumState
	vu       vuState

	// Cached snapshots handed out when a reader loses the lock race.
	lastWaveform atomic.Pointer[WaveformSnapshot]
	lastSpectrum atomic.Pointer[SpectrumSnapshot]
	lastVU       atomic.Pointer[VUSnapshot]
}

// New returns an uninitialized Engine; call Initialize before use.
func New() *Engine { return &Engine{} }

// Initialize sizes every buffer from cfg. Must be called before the
// first ProcessAudio and never concurrently with it.
func (e *Engine) Initialize(cfg Config) error {
	cfg.applyDefaults()
	e.cfg = cfg

	ringSamples := int(math.Ceil(float64(cfg.MaxSampleRate) * cfg.WaveformTimeSpan * float64(cfg.Channels)))
	e.waveform.init(ringSamples)
	e.spectrum.init(cfg.FFTSize, cfg.SpectrumBars, cfg.SpectrumMinFreq, cfg.SpectrumMaxFreq, cfg.SpectrumSmoothing)
	e.vu.init(cfg.MaxSampleRate, cfg.VURMSWindowMs, cfg.VUPeakDecayRate)

	e.lastWaveform.Store(&WaveformSnapshot{
		Min: make([]float32, cfg.WaveformWidth),
		Max: make([]float32, cfg.WaveformWidth),
	})
	e.lastSpectrum.Store(&SpectrumSnapshot{Bars: make([]float64, cfg.SpectrumBars)})
	e.lastVU.Store(&VUSnapshot{})

	e.initialized = true
	return nil
}

// ProcessAudio feeds one block of interleaved samples from the audio
// thread. Locks are taken one product at a time; none is held across
// another product's update.
func (e *Engine) ProcessAudio(samples []float32, frames, channels, sampleRate uint32) {
	if !e.initialized || frames == 0 || channels == 0 {
		return
	}
	n := int(frames) * int(channels)
	if n > len(samples) {
		n = len(samples) - len(samples)%int(channels)
		frames = uint32(n) / channels
	}

	e.waveform.mu.Lock()
	e.waveform.write(samples, int(frames), int(channels))
	e.waveform.mu.Unlock()

	e.spectrum.mu.Lock()
	e.spectrum.process(samples, int(frames), int(channels), sampleRate)
	e.spectrum.mu.Unlock()

	e.vu.mu.Lock()
	e.vu.process(samples, int(frames), int(channels), sampleRate)
	e.vu.mu.Unlock()
}

// GetWaveform returns WaveformWidth (min,max) pairs computed over the
// ring. Non-blocking: if the audio thread holds the waveform lock, the
// previous snapshot is returned.
func (e *Engine) GetWaveform() *WaveformSnapshot {
	if !e.initialized {
		return &WaveformSnapshot{}
	}
	if !e.waveform.mu.TryLock() {
		return e.lastWaveform.Load()
	}
	snap := &WaveformSnapshot{
		Min: make([]float32, e.cfg.WaveformWidth),
		Max: make([]float32, e.cfg.WaveformWidth),
	}
	e.waveform.read(snap.Min, snap.Max)
	e.waveform.mu.Unlock()
	e.lastWaveform.Store(snap)
	return snap
}

// GetSpectrum returns the smoothed spectrum bars in dB. Non-blocking.
func (e *Engine) GetSpectrum() *SpectrumSnapshot {
	if !e.initialized {
		return &SpectrumSnapshot{}
	}
	if !e.spectrum.mu.TryLock() {
		return e.lastSpectrum.Load()
	}
	snap := &SpectrumSnapshot{Bars: make([]float64, len(e.spectrum.bars))}
	copy(snap.Bars, e.spectrum.bars)
	snap.BarFrequencies = e.spectrum.barFreqs
	e.spectrum.mu.Unlock()
	e.lastSpectrum.Store(snap)
	return snap
}

// GetVU returns the current stereo peak/RMS levels. Non-blocking.
func (e *Engine) GetVU() *VUSnapshot {
	if !e.initialized {
		return &VUSnapshot{}
	}
	if !e.vu.mu.TryLock() {
		return e.lastVU.Load()
	}
	snap := e.vu.snapshot()
	e.vu.mu.Unlock()
	e.lastVU.Store(snap)
	return snap
}

// Reset clears every product, for example across a seek discontinuity.
// Control-thread only.
func (e *Engine) Reset() {
	if !e.initialized {
		return
	}
	e.waveform.mu.Lock()
	e.waveform.reset()
	e.waveform.mu.Unlock()
	e.spectrum.mu.Lock()
	e.spectrum.reset()
	e.spectrum.mu.Unlock()
	e.vu.mu.Lock()
	e.vu.reset()
	e.vu.mu.Unlock()
}

// WaveformSnapshot is one (min,max) pair per output pixel.
type WaveformSnapshot struct {
	Min []float32
	Max []float32
}

// SpectrumSnapshot is the smoothed per-bar magnitude in dB, with each
// bar's center frequency for labeling.
type SpectrumSnapshot struct {
	Bars           []float64
	BarFrequencies []float64
}

// VUSnapshot carries stereo peak and RMS, both linear and in dB.
type VUSnapshot struct {
	Peak   [2]float64
	RMS    [2]float64
	PeakDB [2]float64
	RMSDB  [2]float64
}

// linearToDB converts a linear magnitude to dB with the shared floor.
func linearToDB(v float64) float64 {
	if v <= 0 {
		return dbFloor
	}
	db := 20 * math.Log10(v)
	if db < dbFloor {
		return dbFloor
	}
	return db
}

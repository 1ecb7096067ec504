package dsp

import (
	"math"
	"strconv"
	"sync"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// BandFrequencies are the ten peaking-EQ center frequencies.
var BandFrequencies = [10]float64{31.25, 62.5, 125, 250, 500, 1000, 2000, 4000, 8000, 16000}

const (
	numBands       = 10
	eqQFactor      = 1.0
	eqGainMinDB    = -12.0
	eqGainMaxDB    = 12.0
	eqMaxChannels  = 2
)

// biquadState is the per-channel direct-form-I state for one band;
// never accessed across channels (testable property 6).
type biquadState struct {
	x1, x2, y1, y2 float64
}

// biquadCoeffs are the five RBJ peaking-EQ coefficients.
type biquadCoeffs struct {
	b0, b1, b2, a1, a2 float64
}

// peakingCoeffs derives RBJ peaking-EQ coefficients for a center
// frequency, Q and gain in dB, at the given sample rate
// (A = 10^(gain/40)).
func peakingCoeffs(freq, q, gainDB float64, sampleRate uint32) biquadCoeffs {
	a := math.Pow(10, gainDB/40)
	omega := 2 * math.Pi * freq / float64(sampleRate)
	sinW := math.Sin(omega)
	cosW := math.Cos(omega)
	alpha := sinW / (2 * q)

	b0 := 1 + alpha*a
	b1 := -2 * cosW
	b2 := 1 - alpha*a
	a0 := 1 + alpha/a
	a1 := -2 * cosW
	a2 := 1 - alpha/a

	return biquadCoeffs{
		b0: b0 / a0,
		b1: b1 / a0,
		b2: b2 / a0,
		a1: a1 / a0,
		a2: a2 / a0,
	}
}

func (c biquadCoeffs) process(s *biquadState, x float64) float64 {
	y := c.b0*x + c.b1*s.x1 + c.b2*s.x2 - c.a1*s.y1 - c.a2*s.y2
	s.x2, s.x1 = s.x1, x
	s.y2, s.y1 = s.y1, y
	return y
}

// band is one peaking EQ band: shared coefficients, per-channel state.
type band struct {
	mu     sync.Mutex
	freq   float64
	gainDB float64
	coeffs biquadCoeffs
	state  []biquadState
}

func (b *band) recompute(sampleRate uint32) {
	b.coeffs = peakingCoeffs(b.freq, eqQFactor, b.gainDB, sampleRate)
}

// Equalizer is the ten-band peaking graphic equalizer. Rejects
// configuration with more than two channels with NotSupported.
type Equalizer struct {
	bypassable
	sampleRate uint32
	channels   uint32
	bands      [numBands]*band
}

// NewEqualizer returns an Equalizer with all bands at 0 dB.
func NewEqualizer() *Equalizer {
	e := &Equalizer{}
	for i := range e.bands {
		e.bands[i] = &band{freq: BandFrequencies[i]}
	}
	return e
}

func (e *Equalizer) Initialize(cfg Config) error {
	if cfg.Channels > eqMaxChannels {
		return mptypes.NotSupported.Err()
	}
	e.sampleRate = cfg.SampleRate
	e.channels = cfg.Channels
	for _, b := range e.bands {
		b.mu.Lock()
		b.state = make([]biquadState, cfg.Channels)
		b.recompute(cfg.SampleRate)
		b.mu.Unlock()
	}
	return nil
}

func (e *Equalizer) Process(in, out []float32, frames uint32) {
	ch := int(e.channels)
	if ch == 0 || frames == 0 {
		return
	}
	if &in[0] != &out[0] {
		copy(out[:int(frames)*ch], in[:int(frames)*ch])
	}
	for _, b := range e.bands {
		b.mu.Lock()
		coeffs := b.coeffs
		for f := 0; f < int(frames); f++ {
			for c := 0; c < ch; c++ {
				idx := f*ch + c
				out[idx] = float32(coeffs.process(&b.state[c], float64(out[idx])))
			}
		}
		b.mu.Unlock()
	}
}

func (e *Equalizer) LatencySamples() uint32 { return 0 }

func (e *Equalizer) Reset() {
	for _, b := range e.bands {
		b.mu.Lock()
		for i := range b.state {
			b.state[i] = biquadState{}
		}
		b.mu.Unlock()
	}
}

func (e *Equalizer) Shutdown() {}

func (e *Equalizer) ParamCount() int { return numBands }

func (e *Equalizer) ParamInfo(i int) ParamInfo {
	return ParamInfo{
		Name:    bandParamName(i),
		Label:   bandParamName(i),
		Min:     eqGainMinDB,
		Max:     eqGainMaxDB,
		Default: 0,
		Unit:    "dB",
	}
}

func (e *Equalizer) GetParam(i int) float64 {
	b := e.bands[i]
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.gainDB
}

func (e *Equalizer) SetParam(i int, v float64) error {
	if i < 0 || i >= numBands {
		return mptypes.InvalidParameter.Err()
	}
	if v < eqGainMinDB || v > eqGainMaxDB {
		return mptypes.InvalidParameter.Err()
	}
	b := e.bands[i]
	b.mu.Lock()
	b.gainDB = v
	b.recompute(e.sampleRate)
	b.mu.Unlock()
	return nil
}

func bandParamName(i int) string {
	f := BandFrequencies[i]
	if f < 1000 {
		return formatHz(f)
	}
	return formatKHz(f)
}

func formatHz(f float64) string {
	if f == math.Trunc(f) {
		return strconv.Itoa(int(f)) + " Hz"
	}
	return strconv.FormatFloat(f, 'g', -1, 64) + " Hz"
}

func formatKHz(f float64) string {
	return strconv.FormatFloat(f/1000, 'g', -1, 64) + " kHz"
}

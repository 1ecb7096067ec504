package src

import "gonum.org/v1/gonum/floats"

// antiAliasFilter is a Kaiser-windowed FIR low-pass, active only when
// downsampling: 101 taps, beta=6, cutoff per antiAliasCutoff.
type antiAliasFilter struct {
	taps     []float64
	channels int
	delay    [][]float64 // per-channel ring of len(taps)-1 history samples
	scratch  []float64   // len(taps) working buffer, reused across calls
}

const cubicFilterTaps = 101
const kaiserBeta = 6.0

func newAntiAliasFilter(inHz, outHz, channels uint32) *antiAliasFilter {
	cutoff := antiAliasCutoff(inHz, outHz)
	f := &antiAliasFilter{
		taps:     sincCoefficients(cubicFilterTaps, cutoff, kaiserBeta),
		channels: int(channels),
	}
	f.delay = make([][]float64, f.channels)
	for c := range f.delay {
		f.delay[c] = make([]float64, len(f.taps)-1)
	}
	f.scratch = make([]float64, len(f.taps))
	return f
}

func (f *antiAliasFilter) reset() {
	for c := range f.delay {
		for i := range f.delay[c] {
			f.delay[c][i] = 0
		}
	}
}

// apply filters one frame (one sample per channel) in place, maintaining
// per-channel delay-line history across calls.
func (f *antiAliasFilter) apply(frame []float32) {
	n := len(f.taps)
	for c := 0; c < f.channels; c++ {
		copy(f.scratch, f.delay[c])
		f.scratch[n-1] = float64(frame[c])
		acc := floats.Dot(f.scratch, f.taps)
		frame[c] = float32(acc)
		copy(f.delay[c], f.scratch[1:])
	}
}

func (f *antiAliasFilter) delaySamples() uint32 {
	return uint32(len(f.taps) / 2)
}

// Cubic is a 4-point Catmull-Rom cubic-Hermite converter with an
// anti-alias filter active only when downsampling (THD ~ -100 dB).
type Cubic struct {
	inHz, outHz uint32
	channels    uint32
	position    float64
	history     [][]float32 // 4 frames of per-channel history: history[0..3]
	filter      *antiAliasFilter
}

func NewCubic() *Cubic { return &Cubic{} }

func (c *Cubic) Initialize(inHz, outHz, channels uint32) error {
	c.inHz, c.outHz, c.channels = inHz, outHz, channels
	c.history = make([][]float32, 4)
	for i := range c.history {
		c.history[i] = make([]float32, channels)
	}
	c.position = 0
	if outHz < inHz {
		c.filter = newAntiAliasFilter(inHz, outHz, channels)
	} else {
		c.filter = nil
	}
	return nil
}

func (c *Cubic) LatencySamples() uint32 {
	lat := uint32(1)
	if c.filter != nil {
		lat += c.filter.delaySamples()
	}
	return lat
}

func (c *Cubic) Reset() {
	c.position = 0
	for i := range c.history {
		for j := range c.history[i] {
			c.history[i][j] = 0
		}
	}
	if c.filter != nil {
		c.filter.reset()
	}
}

// cubicInterpolate evaluates the Catmull-Rom cubic through y0..y3 at
// fractional position frac between y1 and y2.
func cubicInterpolate(y0, y1, y2, y3 float32, frac float64) float32 {
	a := -0.5*float64(y0) + 1.5*float64(y1) - 1.5*float64(y2) + 0.5*float64(y3)
	b := float64(y0) - 2.5*float64(y1) + 2.0*float64(y2) - 0.5*float64(y3)
	cc := -0.5*float64(y0) + 0.5*float64(y2)
	d := float64(y1)
	return float32(((a*frac+b)*frac + cc) * frac + d)
}

func (c *Cubic) Convert(in []float32, inFrames uint32, out []float32, outCap uint32) (uint32, error) {
	if inFrames == 0 {
		return 0, nil
	}
	if c.inHz == c.outHz {
		ch := int(c.channels)
		n := inFrames
		if n > outCap {
			n = outCap
		}
		copy(out[:int(n)*ch], in[:int(n)*ch])
		c.shiftHistory(in, int(n))
		return n, nil
	}

	ch := int(c.channels)
	ratio := float64(c.inHz) / float64(c.outHz)
	var written uint32
	for written < outCap {
		idx := int(c.position)
		frac := c.position - float64(idx)
		if idx >= int(inFrames) {
			break
		}
		// Causal window: the four most recent frames, interpolating
		// between the middle pair. Output trails the read position by
		// two input frames, which keeps every frame a call needs in
		// either in or the history buffer.
		base := int(written) * ch
		for cIdx := 0; cIdx < ch; cIdx++ {
			y0 := c.sampleAt(in, idx-3, cIdx)
			y1 := c.sampleAt(in, idx-2, cIdx)
			y2 := c.sampleAt(in, idx-1, cIdx)
			y3 := c.sampleAt(in, idx, cIdx)
			out[base+cIdx] = cubicInterpolate(y0, y1, y2, y3, frac)
		}
		if c.filter != nil {
			c.filter.apply(out[base : base+ch])
		}
		written++
		c.position += ratio
	}
	// Consume all input: the last four frames persist in history, so
	// consecutive calls match one bulk call.
	c.shiftHistory(in, int(inFrames))
	c.position -= float64(inFrames)
	if c.position < 0 {
		c.position = 0
	}
	return written, nil
}

func (c *Cubic) sampleAt(in []float32, idx, ch int) float32 {
	if idx < 0 {
		return c.history[4+idx][ch]
	}
	return in[idx*int(c.channels)+ch]
}

// shiftHistory keeps the last 4 consumed input frames for the next call.
func (c *Cubic) shiftHistory(in []float32, consumed int) {
	ch := int(c.channels)
	for n := 0; n < consumed; n++ {
		copy(c.history[0], c.history[1])
		copy(c.history[1], c.history[2])
		copy(c.history[2], c.history[3])
		copy(c.history[3], in[n*ch:n*ch+ch])
	}
}

package src

// Linear is a 1-sample-delay linear-interpolation converter with no
// anti-alias filter (THD ~ -80 dB).
type Linear struct {
	inHz, outHz uint32
	channels    uint32
	position    float64  // fractional input-frame read position
	lastFrame   []float32 // one frame of history for cross-call continuity
	haveHistory bool
}

func NewLinear() *Linear { return &Linear{} }

func (c *Linear) Initialize(inHz, outHz, channels uint32) error {
	c.inHz, c.outHz, c.channels = inHz, outHz, channels
	c.lastFrame = make([]float32, channels)
	c.position = 0
	c.haveHistory = false
	return nil
}

func (c *Linear) LatencySamples() uint32 { return 1 }

func (c *Linear) Reset() {
	c.position = 0
	c.haveHistory = false
	for i := range c.lastFrame {
		c.lastFrame[i] = 0
	}
}

// frameAt returns the channels-wide frame at input frame index idx,
// treating idx == -1 as the carried-over history frame.
func (c *Linear) frameAt(in []float32, idx int) []float32 {
	ch := int(c.channels)
	if idx < 0 {
		return c.lastFrame
	}
	return in[idx*ch : idx*ch+ch]
}

func (c *Linear) Convert(in []float32, inFrames uint32, out []float32, outCap uint32) (uint32, error) {
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
		if n > 0 {
			c.lastFrame = append(c.lastFrame[:0], in[int(n-1)*ch:int(n)*ch]...)
			c.haveHistory = true
		}
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
		var p0 []float32
		if idx == 0 {
			if c.haveHistory {
				p0 = c.frameAt(in, -1)
			} else {
				p0 = c.frameAt(in, 0)
			}
		} else {
			p0 = c.frameAt(in, idx-1)
		}
		p1 := c.frameAt(in, idx)
		base := int(written) * ch
		for cIdx := 0; cIdx < ch; cIdx++ {
			out[base+cIdx] = p0[cIdx] + float32(frac)*(p1[cIdx]-p0[cIdx])
		}
		written++
		c.position += ratio
	}
	// Carry the last consumed input frame forward for the next call.
	consumed := int(c.position)
	if consumed > int(inFrames) {
		consumed = int(inFrames)
	}
	if consumed > 0 {
		c.lastFrame = append(c.lastFrame[:0], in[(consumed-1)*ch:consumed*ch]...)
		c.haveHistory = true
	}
	c.position -= float64(consumed)
	return written, nil
}

package playback

import (
	"encoding/binary"
	"math"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// FillBuffer is the real-time callback handed to the audio output. It
// produces exactly len(out) float32 samples (frames * channels): audio
// while Playing, silence otherwise. No allocation, no filesystem work,
// no lock held elsewhere for longer than a field read.
func (e *Engine) FillBuffer(out []float32) {
	for i := range out {
		out[i] = 0
	}
	if State(e.state.Load()) != Playing {
		return
	}
	channels := int(e.cfg.Channels)
	frames := uint32(len(out) / channels)
	if frames == 0 {
		return
	}

	filled := e.produce(out, frames)

	if filled == 0 {
		// Zero useful frames: degrade to Stopped; this buffer is
		// already silence. The control thread notices the state and
		// tears the output down.
		e.state.Store(int32(Stopped))
		return
	}

	e.chain.Process(out, frames)
	if e.viz != nil {
		e.viz.ProcessAudio(out, frames, e.cfg.Channels, e.cfg.SampleRate)
	}
	gain := float32(floatFromBits(e.volumeBits.Load()))
	if gain != 1.0 {
		for i := range out {
			out[i] *= gain
		}
	}
}

// produce fills out with up to frames frames from the current slot,
// transitioning to the prepared next slot inline when the current one
// runs dry. Returns frames actually produced; the remainder of out is
// already zero.
func (e *Engine) produce(out []float32, frames uint32) uint32 {
	var filled uint32
	for filled < frames {
		cur := int(e.current.Load())
		if cur == noSlot {
			break
		}
		s := e.slots[cur]
		if !s.active.Load() || s.eos.Load() {
			if !e.advanceOrStop(s) {
				break
			}
			continue
		}

		got := e.produceFromSlot(s, out, filled, frames-filled)
		filled += got

		if s.eos.Load() && filled < frames {
			if !e.advanceOrStop(s) {
				break
			}
		} else if got == 0 {
			break
		}
	}
	return filled
}

// advanceOrStop performs the inline EOS handling: transition to the
// prepared slot when gapless allows it, otherwise stop. Returns true
// when a transition happened and production can continue.
func (e *Engine) advanceOrStop(old *slot) bool {
	next := int(e.next.Load())
	if next == noSlot || !e.gapless.Load() || !e.slots[next].loaded.Load() {
		e.state.Store(int32(Stopped))
		return false
	}
	e.transitionToNext(old, next)
	return true
}

// transitionToNext retires old and promotes the prepared slot. Runs on
// the audio thread: the old decoder is only marked for close (the
// control thread reaps it); nothing here allocates.
func (e *Engine) transitionToNext(old *slot, next int) {
	e.state.Store(int32(Transitioning))

	newSlot := e.slots[next]
	mismatch := newSlot.info.SampleRate != old.info.SampleRate ||
		newSlot.info.Channels != old.info.Channels
	if mismatch {
		// Formats differ: fade the incoming track in over the
		// crossfade window (the outgoing one ended at its natural
		// boundary). Logged off-thread.
		fade := uint32(uint64(crossfadeDurationMs) * uint64(e.cfg.SampleRate) / 1000)
		newSlot.fadeRemaining = fade
		newSlot.fadeTotal = fade
		e.crossfadeCount.Add(1)
		select {
		case e.events <- "gapless transition with mismatched format, applying crossfade":
		default:
		}
	}

	old.active.Store(false)
	old.pendingClose.Store(true)
	newSlot.active.Store(true)
	e.current.Store(int32(next))
	e.next.Store(noSlot)

	// Point the SRC at the new slot's rate pair; every tier for it was
	// prewarmed when the slot was prepared.
	_ = e.conv.Initialize(newSlot.info.SampleRate, e.cfg.SampleRate, e.cfg.Channels)

	e.state.Store(int32(Playing))
}

// produceFromSlot decodes, converts and copies up to want output frames
// from s into out starting at frame offset. Sets s.eos when the slot
// runs out. Returns output frames written.
func (e *Engine) produceFromSlot(s *slot, out []float32, offset, want uint32) uint32 {
	outCh := int(e.cfg.Channels)
	inRate := uint64(s.info.SampleRate)
	outRate := uint64(e.cfg.SampleRate)

	var produced uint32
	for produced < want {
		remaining := want - produced

		// Conservative input demand: never more than converts into
		// remaining output frames, so the converter always drains its
		// input and keeps cross-call continuity.
		needIn := uint32(uint64(remaining) * inRate / outRate)
		if needIn == 0 {
			needIn = 1
		}
		if needIn > s.maxInFrames {
			needIn = s.maxInFrames
		}

		n := e.decodeInto(s, needIn)
		if n == 0 {
			s.eos.Store(true)
			return produced
		}

		pos := s.positionSamples.Add(uint64(n))
		if end := s.track.EffectiveEndSample(); end > 0 && pos >= end {
			// Trim trailing encoder padding.
			over := pos - end
			if uint64(n) > over {
				n -= uint32(over)
			} else {
				n = 0
			}
			s.eos.Store(true)
			if n == 0 {
				return produced
			}
		}

		base := int(offset+produced) * outCh
		outFrames, err := e.conv.Convert(s.floatBuf, n, out[base:], remaining)
		if err != nil {
			s.eos.Store(true)
			return produced
		}
		e.applyFadeIn(s, out, offset+produced, outFrames)
		produced += outFrames

		if s.eos.Load() {
			return produced
		}
		if outFrames == 0 && n == 0 {
			return produced
		}
	}
	return produced
}

// decodeInto decodes up to maxFrames frames from s's decoder into the
// slot's scratch buffers, converting the decoder's native format to
// channel-adapted Float32 in s.floatBuf. Returns frames decoded after
// encoder-delay trimming.
func (e *Engine) decodeInto(s *slot, maxFrames uint32) uint32 {
	inCh := int(s.info.Channels)
	bps := s.info.Format.BytesPerSample()
	if bps == 0 || inCh == 0 {
		return 0
	}
	for {
		raw := s.decodeBytes[:int(maxFrames)*inCh*bps]
		n, err := s.dec.DecodeBlock(raw)
		if err != nil || n <= 0 {
			return 0
		}
		// Encoder delay: drop whole blocks until the skip is consumed.
		if s.skipFrames > 0 {
			if uint64(n) <= s.skipFrames {
				s.skipFrames -= uint64(n)
				continue
			}
			drop := int(s.skipFrames)
			s.skipFrames = 0
			rest := raw[drop*inCh*bps : n*inCh*bps]
			n -= drop
			e.toFloat(s, rest, n)
			return uint32(n)
		}
		e.toFloat(s, raw[:n*inCh*bps], n)
		return uint32(n)
	}
}

// toFloat converts n frames of the slot's native samples into
// channel-adapted Float32 in s.floatBuf: mono is duplicated across
// output channels; any other channel-count mismatch averages all input
// channels and writes that average to every output channel.
func (e *Engine) toFloat(s *slot, raw []byte, n int) {
	inCh := int(s.info.Channels)
	outCh := int(e.cfg.Channels)
	format := s.info.Format
	bps := format.BytesPerSample()

	for f := 0; f < n; f++ {
		if inCh == outCh {
			for c := 0; c < outCh; c++ {
				s.floatBuf[f*outCh+c] = sampleAt(raw, (f*inCh+c)*bps, format)
			}
		} else if inCh == 1 {
			v := sampleAt(raw, f*bps, format)
			for c := 0; c < outCh; c++ {
				s.floatBuf[f*outCh+c] = v
			}
		} else {
			// Fold all input channels to mono, then spread.
			var acc float32
			for c := 0; c < inCh; c++ {
				acc += sampleAt(raw, (f*inCh+c)*bps, format)
			}
			v := acc / float32(inCh)
			for c := 0; c < outCh; c++ {
				s.floatBuf[f*outCh+c] = v
			}
		}
	}
}

// sampleAt reads one native sample at byte offset off and returns it as
// Float32 in [-1, 1).
func sampleAt(raw []byte, off int, format mptypes.SampleFormat) float32 {
	switch format {
	case mptypes.Int16:
		v := int16(binary.LittleEndian.Uint16(raw[off:]))
		return float32(v) / 32768.0
	case mptypes.Int24:
		v := int32(raw[off]) | int32(raw[off+1])<<8 | int32(raw[off+2])<<16
		if v&0x800000 != 0 {
			v |= ^int32(0xFFFFFF) // sign-extend
		}
		return float32(v) / 8388608.0
	case mptypes.Int32:
		v := int32(binary.LittleEndian.Uint32(raw[off:]))
		return float32(float64(v) / 2147483648.0)
	case mptypes.Float32:
		return math.Float32frombits(binary.LittleEndian.Uint32(raw[off:]))
	case mptypes.Float64:
		return float32(math.Float64frombits(binary.LittleEndian.Uint64(raw[off:])))
	default:
		return 0
	}
}

// applyFadeIn ramps the first fadeTotal frames after a mismatched
// transition linearly from 0 to unity.
func (e *Engine) applyFadeIn(s *slot, out []float32, startFrame, frames uint32) {
	if s.fadeRemaining == 0 || frames == 0 {
		return
	}
	ch := int(e.cfg.Channels)
	total := float32(s.fadeTotal)
	done := s.fadeTotal - s.fadeRemaining
	var f uint32
	for f = 0; f < frames && s.fadeRemaining > 0; f++ {
		gain := float32(done+f) / total
		base := int(startFrame+f) * ch
		for c := 0; c < ch; c++ {
			out[base+c] *= gain
		}
		s.fadeRemaining--
	}
}

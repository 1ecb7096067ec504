package visualization

import "sync"

// waveformRing stores mono-downmixed samples in a fixed ring. Writes
// happen on the audio thread; downsampling to pixel pairs happens on
// read so the write path stays a plain copy.
type waveformRing struct {
	mu       sync.Mutex
	ring     []float32
	writeIdx int
	filled   int
}

func (w *waveformRing) init(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	w.ring = make([]float32, capacity)
	w.writeIdx = 0
	w.filled = 0
}

// write downmixes frames to mono and appends them at the write index,
// wrapping as needed. Caller holds w.mu.
func (w *waveformRing) write(samples []float32, frames, channels int) {
	inv := 1.0 / float32(channels)
	for f := 0; f < frames; f++ {
		var acc float32
		base := f * channels
		for c := 0; c < channels; c++ {
			acc += samples[base+c]
		}
		w.ring[w.writeIdx] = acc * inv
		w.writeIdx++
		if w.writeIdx == len(w.ring) {
			w.writeIdx = 0
		}
		if w.filled < len(w.ring) {
			w.filled++
		}
	}
}

// read fills min/max with one (min,max) pair per pixel, computed over
// the currently filled portion of the ring, oldest sample first. Caller
// holds w.mu.
func (w *waveformRing) read(minOut, maxOut []float32) {
	width := len(minOut)
	if width == 0 || w.filled == 0 {
		for i := range minOut {
			minOut[i], maxOut[i] = 0, 0
		}
		return
	}
	start := w.writeIdx - w.filled
	if start < 0 {
		start += len(w.ring)
	}
	for px := 0; px < width; px++ {
		lo := px * w.filled / width
		hi := (px + 1) * w.filled / width
		if hi <= lo {
			hi = lo + 1
		}
		if lo >= w.filled {
			minOut[px], maxOut[px] = 0, 0
			continue
		}
		if hi > w.filled {
			hi = w.filled
		}
		idx := start + lo
		if idx >= len(w.ring) {
			idx -= len(w.ring)
		}
		mn := w.ring[idx]
		mx := mn
		for s := lo; s < hi; s++ {
			v := w.ring[idx]
			if v < mn {
				mn = v
			}
			if v > mx {
				mx = v
			}
			idx++
			if idx == len(w.ring) {
				idx = 0
			}
		}
		minOut[px], maxOut[px] = mn, mx
	}
}

func (w *waveformRing) reset() {
	for i := range w.ring {
		w.ring[i] = 0
	}
	w.writeIdx = 0
	w.filled = 0
}

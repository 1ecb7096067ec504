package visualization

import (
	"math"
	"sync"
)

// vuState tracks stereo peak and windowed RMS. The peak only moves
// upward within a block and decays by peakDecayDBps between blocks,
// an asymmetric fast-attack/slow-release shape.
type vuState struct {
	mu sync.Mutex

	peakDecayDBps float64

	peak [2]float64

	// Per-channel ring of squared samples backing the sliding RMS
	// window, plus a running sum so each block is O(frames).
	sq       [2][]float64
	sqIdx    [2]int
	sqFilled [2]int
	sqSum    [2]float64
}

func (v *vuState) init(maxRate uint32, windowMs, peakDecayDBps float64) {
	v.peakDecayDBps = peakDecayDBps
	winSamples := int(math.Ceil(float64(maxRate) * windowMs / 1000.0))
	if winSamples < 1 {
		winSamples = 1
	}
	for c := 0; c < 2; c++ {
		v.sq[c] = make([]float64, winSamples)
		v.sqIdx[c] = 0
		v.sqFilled[c] = 0
		v.sqSum[c] = 0
		v.peak[c] = 0
	}
}

// process updates both meters from one interleaved block. Mono input
// feeds both channels identically; channels beyond two are ignored.
// Caller holds v.mu.
func (v *vuState) process(samples []float32, frames, channels int, sampleRate uint32) {
	// Decay the held peak by the time this block represents, then let
	// the block's own maxima push it back up.
	if sampleRate > 0 && v.peakDecayDBps > 0 {
		dt := float64(frames) / float64(sampleRate)
		decay := math.Pow(10, -v.peakDecayDBps*dt/20)
		v.peak[0] *= decay
		v.peak[1] *= decay
	}

	meterCh := channels
	if meterCh > 2 {
		meterCh = 2
	}
	for f := 0; f < frames; f++ {
		base := f * channels
		for m := 0; m < 2; m++ {
			srcCh := m
			if srcCh >= meterCh {
				srcCh = 0
			}
			x := float64(samples[base+srcCh])
			if ax := math.Abs(x); ax > v.peak[m] {
				v.peak[m] = ax
			}
			ring := v.sq[m]
			idx := v.sqIdx[m]
			v.sqSum[m] += x*x - ring[idx]
			ring[idx] = x * x
			idx++
			if idx == len(ring) {
				idx = 0
			}
			v.sqIdx[m] = idx
			if v.sqFilled[m] < len(ring) {
				v.sqFilled[m]++
			}
		}
	}
}

// snapshot builds a VUSnapshot from the current state. Caller holds v.mu.
func (v *vuState) snapshot() *VUSnapshot {
	snap := &VUSnapshot{}
	for m := 0; m < 2; m++ {
		snap.Peak[m] = v.peak[m]
		snap.PeakDB[m] = linearToDB(v.peak[m])
		if v.sqFilled[m] > 0 {
			mean := v.sqSum[m] / float64(v.sqFilled[m])
			if mean < 0 {
				mean = 0 // running-sum rounding can drift slightly negative
			}
			snap.RMS[m] = math.Sqrt(mean)
		}
		snap.RMSDB[m] = linearToDB(snap.RMS[m])
	}
	return snap
}

func (v *vuState) reset() {
	for m := 0; m < 2; m++ {
		v.peak[m] = 0
		v.sqSum[m] = 0
		v.sqIdx[m] = 0
		v.sqFilled[m] = 0
		for i := range v.sq[m] {
			v.sq[m][i] = 0
		}
	}
}

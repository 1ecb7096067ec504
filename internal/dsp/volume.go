package dsp

import (
	"math"
	"sync/atomic"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

const (
	volumeMinDB = -60.0
	volumeMaxDB = 12.0
)

// Volume is the single-parameter gain stage: linear gain = 10^(dB/20),
// unity gain short-circuits the multiply, 0 latency.
type Volume struct {
	bypassable
	gainDB atomic.Uint64 // math.Float64bits of the current dB value
}

// NewVolume returns a Volume stage at 0 dB (unity gain).
func NewVolume() *Volume {
	v := &Volume{}
	v.gainDB.Store(math.Float64bits(0))
	return v
}

func (v *Volume) Initialize(Config) error { return nil }

func (v *Volume) dB() float64 { return math.Float64frombits(v.gainDB.Load()) }

// Process multiplies every sample in in by the current linear gain,
// writing to out (which may alias in for in-place processing). frames is
// unused beyond bounding the slices the caller already sized correctly;
// the full len(in) is always frames*channels.
func (v *Volume) Process(in, out []float32, frames uint32) {
	if len(in) == 0 {
		return
	}
	db := v.dB()
	if db == 0 {
		if &in[0] != &out[0] {
			copy(out[:len(in)], in)
		}
		return
	}
	linear := math.Pow(10, db/20)
	if db <= volumeMinDB {
		linear = 0 // -inf dB clamp is silence
	}
	// Plain loop rather than a vector helper: this runs on the audio
	// thread, where a float64 staging buffer per call is not allowed.
	g := float32(linear)
	for i := range in {
		out[i] = in[i] * g
	}
}

func (v *Volume) LatencySamples() uint32 { return 0 }

func (v *Volume) Reset() {} // no internal state beyond the parameter itself

func (v *Volume) Shutdown() {}

func (v *Volume) ParamCount() int { return 1 }

func (v *Volume) ParamInfo(int) ParamInfo {
	return ParamInfo{Name: "volume", Label: "Volume", Min: volumeMinDB, Max: volumeMaxDB, Default: 0, Unit: "dB"}
}

func (v *Volume) GetParam(int) float64 { return v.dB() }

func (v *Volume) SetParam(i int, val float64) error {
	if i != 0 {
		return mptypes.InvalidParameter.Err()
	}
	if val < volumeMinDB || val > volumeMaxDB {
		return mptypes.InvalidParameter.Err()
	}
	v.gainDB.Store(math.Float64bits(val))
	return nil
}

package output

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// FakeOutput is an in-process Output double driven by an explicit Pump
// call instead of a real audio callback thread, used to exercise
// lifecycle and fill logic without hardware.
type FakeOutput struct {
	mu sync.Mutex

	fill       FillFunc
	opened     bool
	started    bool
	volumeBits atomic.Uint64
	latencyMs  float64
}

func NewFakeOutput() *FakeOutput {
	f := &FakeOutput{latencyMs: 10}
	f.volumeBits.Store(math.Float64bits(1.0))
	return f
}

func (f *FakeOutput) EnumerateDevices() ([]Device, error) {
	return []Device{{ID: 0, Name: "fake", MaxOutputChannels: 2, DefaultSampleRate: 48000}}, nil
}

func (f *FakeOutput) Open(deviceID int, sampleRate, channels, framesPerBuffer uint32, fill FillFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened {
		return mptypes.AlreadyInitialized.Err()
	}
	if fill == nil {
		return mptypes.InvalidParameter.Err()
	}
	f.fill = fill
	f.opened = true
	return nil
}

func (f *FakeOutput) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.opened {
		return mptypes.NotInitialized.Err()
	}
	f.started = true
	return nil
}

func (f *FakeOutput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false
	return nil
}

func (f *FakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = false
	f.fill = nil
	return nil
}

func (f *FakeOutput) LatencyMs() float64 { return f.latencyMs }

func (f *FakeOutput) SetVolume(v float64) { f.volumeBits.Store(math.Float64bits(v)) }
func (f *FakeOutput) GetVolume() float64  { return math.Float64frombits(f.volumeBits.Load()) }

// Pump drives one callback iteration as if PortAudio had invoked it,
// applying volume the same way PortAudioOutput.callback does. Test-only.
func (f *FakeOutput) Pump(out []float32) {
	f.mu.Lock()
	fill := f.fill
	started := f.started
	f.mu.Unlock()
	if !started || fill == nil {
		for i := range out {
			out[i] = 0
		}
		return
	}
	fill(out)
	vol := float32(f.GetVolume())
	if vol == 1.0 {
		return
	}
	for i := range out {
		out[i] *= vol
	}
}

package dsp

import (
	"math"
	"testing"

	"pgregory.net/rapid"
)

func TestEqualizerZeroDBIsPassThrough(t *testing.T) {
	eq := NewEqualizer()
	if err := eq.Initialize(Config{SampleRate: 48000, Channels: 2}); err != nil {
		t.Fatal(err)
	}
	in := make([]float32, 64)
	for i := range in {
		in[i] = float32(math.Sin(float64(i)))
	}
	out := make([]float32, len(in))
	eq.Process(in, out, 32)
	for i := range in {
		if math.Abs(float64(in[i]-out[i])) > 1e-6 {
			t.Fatalf("sample %d: |out-in| too large: %v vs %v", i, in[i], out[i])
		}
	}
}

func TestEqualizerRejectsMoreThanTwoChannels(t *testing.T) {
	eq := NewEqualizer()
	if err := eq.Initialize(Config{SampleRate: 48000, Channels: 3}); err == nil {
		t.Fatal("expected NotSupported for 3 channels")
	}
}

func TestBiquadChannelIsolation(t *testing.T) {
	eq := NewEqualizer()
	_ = eq.Initialize(Config{SampleRate: 48000, Channels: 2})
	_ = eq.SetParam(5, 12) // boost band 5 (1kHz)

	frames := 64
	in := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		in[i*2] = float32(math.Sin(2 * math.Pi * 1000 * float64(i) / 48000)) // left only
		in[i*2+1] = 0                                                        // right silent
	}
	out := make([]float32, len(in))
	eq.Process(in, out, uint32(frames))
	for i := 0; i < frames; i++ {
		if out[i*2+1] != 0 {
			t.Fatalf("right channel (silent input) produced nonzero output at frame %d: %v", i, out[i*2+1])
		}
	}
}

func TestVolumeUnityIsByteIdentical(t *testing.T) {
	v := NewVolume()
	in := []float32{0.1, -0.2, 0.3, -0.4}
	out := make([]float32, len(in))
	v.Process(in, out, 2)
	for i := range in {
		if in[i] != out[i] {
			t.Fatalf("unity gain not byte-identical at %d", i)
		}
	}
}

func TestVolumeMinDBIsSilence(t *testing.T) {
	v := NewVolume()
	if err := v.SetParam(0, -60); err != nil {
		t.Fatal(err)
	}
	in := []float32{0.5, -0.5, 1.0, -1.0}
	out := make([]float32, len(in))
	v.Process(in, out, 2)
	for i, s := range out {
		if s != 0 {
			t.Fatalf("expected silence at -60dB clamp, got %v at %d", s, i)
		}
	}
}

func TestChainProcessesInRegistrationOrderAndResets(t *testing.T) {
	chain := NewChain()
	eq := NewEqualizer()
	vol := NewVolume()
	chain.Add(eq)
	chain.Add(vol)
	if err := chain.Initialize(Config{SampleRate: 48000, Channels: 2}); err != nil {
		t.Fatal(err)
	}
	_ = vol.SetParam(0, -6)
	buf := []float32{0.2, 0.2, 0.2, 0.2}
	chain.Process(buf, 2)
	want := float32(0.2 * math.Pow(10, -6.0/20))
	for _, s := range buf {
		if math.Abs(float64(s-want)) > 1e-4 {
			t.Fatalf("chain output = %v, want ~%v", s, want)
		}
	}
	chain.Reset() // must not panic and must clear EQ biquad state
}

func TestEqualizerFlatPassThroughProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		eq := NewEqualizer()
		if err := eq.Initialize(Config{SampleRate: 48000, Channels: 2}); err != nil {
			t.Fatal(err)
		}
		frames := rapid.IntRange(1, 256).Draw(t, "frames")
		in := make([]float32, frames*2)
		for i := range in {
			in[i] = float32(rapid.Float64Range(-1, 1).Draw(t, "sample"))
		}
		out := make([]float32, len(in))
		eq.Process(in, out, uint32(frames))
		for i := range in {
			if math.Abs(float64(out[i]-in[i])) > 1e-6 {
				t.Fatalf("flat EQ altered sample %d: %v -> %v", i, in[i], out[i])
			}
		}
	})
}

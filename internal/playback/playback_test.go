package playback

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyguts/musicplayer/internal/mptypes"
	"github.com/rustyguts/musicplayer/internal/output"
	"github.com/rustyguts/musicplayer/internal/src"
	"github.com/rustyguts/musicplayer/internal/visualization"
)

// writeSineWAV builds a 16-bit PCM WAV containing a sine tone and
// returns its path. phase is the starting phase in radians, so two
// fixtures can be made sample-continuous across a file boundary.
func writeSineWAV(t *testing.T, dir, name string, sampleRate, channels, frames int, freq, amp, phase float64) string {
	t.Helper()
	const bitsPerSample = 16
	dataSize := frames * channels * (bitsPerSample / 8)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(channels*bitsPerSample/8))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for i := 0; i < frames; i++ {
		v := int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)+phase))
		for c := 0; c < channels; c++ {
			binary.Write(&buf, binary.LittleEndian, v)
		}
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func newTestEngine(t *testing.T, cfg Config) (*Engine, *output.FakeOutput) {
	t.Helper()
	fake := output.NewFakeOutput()
	e := New(fake, nil)
	require.NoError(t, e.Initialize(cfg))
	t.Cleanup(e.Shutdown)
	return e, fake
}

func testConfig() Config {
	return Config{
		DeviceID:     -1,
		SampleRate:   48000,
		Channels:     2,
		BufferFrames: 512,
		MinQuality:   src.QualityFast,
		MaxQuality:   src.QualityBest,
		CPUThreshold: 80,
	}
}

// pump drives n callback invocations and returns the concatenated
// output.
func pump(fake *output.FakeOutput, n int, cfg Config) []float32 {
	var all []float32
	buf := make([]float32, int(cfg.BufferFrames)*int(cfg.Channels))
	for i := 0; i < n; i++ {
		fake.Pump(buf)
		all = append(all, buf...)
	}
	return all
}

// goertzel measures the power of one frequency in a mono signal.
func goertzel(samples []float64, freq, sampleRate float64) float64 {
	w := 2 * math.Pi * freq / sampleRate
	coeff := 2 * math.Cos(w)
	var s0, s1, s2 float64
	for _, x := range samples {
		s0 = x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

func monoMix(interleaved []float32, channels int) []float64 {
	out := make([]float64, len(interleaved)/channels)
	for f := range out {
		var acc float64
		for c := 0; c < channels; c++ {
			acc += float64(interleaved[f*channels+c])
		}
		out[f] = acc / float64(channels)
	}
	return out
}

func rms(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestBasicWAVPlayback(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	dir := t.TempDir()
	// 2 s of 440 Hz at 0.5 amplitude, 44.1 kHz stereo: exercises the
	// SRC up to the 48 kHz output rate.
	path := writeSineWAV(t, dir, "tone.wav", 44100, 2, 88200, 440, 0.5, 0)

	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	assert.Equal(t, Playing, e.State())

	// First ~100 ms of output.
	out := pump(fake, 10, cfg)
	mono := monoMix(out, 2)

	// Dominant frequency must be 440 Hz, not a neighbor.
	p440 := goertzel(mono, 440, 48000)
	p392 := goertzel(mono, 392, 48000)
	p494 := goertzel(mono, 494, 48000)
	assert.Greater(t, p440, 10*p392)
	assert.Greater(t, p440, 10*p494)

	// RMS within 1 dB of the source sine (0.5 amplitude -> 0.3536).
	got := rms(mono)
	want := 0.5 / math.Sqrt2
	db := 20 * math.Log10(got/want)
	assert.InDelta(t, 0, db, 1.0)
}

func TestStopResetsStateAndPosition(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	path := writeSineWAV(t, t.TempDir(), "tone.wav", 48000, 2, 48000, 440, 0.5, 0)

	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	pump(fake, 4, cfg)
	assert.NotZero(t, e.GetPositionMs())

	require.NoError(t, e.Stop())
	assert.Equal(t, Stopped, e.State())
	assert.Zero(t, e.GetPositionMs())

	// Pause after Stop is a no-op and succeeds.
	assert.NoError(t, e.Pause())
	assert.Equal(t, Stopped, e.State())
}

func TestCallbackWhileStoppedEmitsSilence(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(t, cfg)

	buf := make([]float32, int(cfg.BufferFrames)*2)
	for i := range buf {
		buf[i] = 1 // stale garbage the callback must overwrite
	}
	e.FillBuffer(buf)
	for i, v := range buf {
		require.Zerof(t, v, "sample %d", i)
	}
}

func TestPauseResume(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	path := writeSineWAV(t, t.TempDir(), "tone.wav", 48000, 2, 96000, 440, 0.5, 0)

	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	pump(fake, 4, cfg)

	require.NoError(t, e.Pause())
	assert.Equal(t, Paused, e.State())
	posAtPause := e.GetPositionMs()

	// While paused the callback produces silence and position holds.
	buf := make([]float32, int(cfg.BufferFrames)*2)
	e.FillBuffer(buf)
	for _, v := range buf {
		require.Zero(t, v)
	}
	assert.Equal(t, posAtPause, e.GetPositionMs())

	require.NoError(t, e.Play())
	assert.Equal(t, Playing, e.State())
}

func TestGaplessSeamHasNoDropout(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	dir := t.TempDir()

	const rate = 48000
	const freq = 1000.0
	const firstFrames = 12000 // 0.25 s
	phase2 := 2 * math.Pi * freq * firstFrames / rate
	first := writeSineWAV(t, dir, "a.wav", rate, 2, firstFrames, freq, 0.8, 0)
	second := writeSineWAV(t, dir, "b.wav", rate, 2, 12000, freq, 0.8, phase2)

	require.NoError(t, e.LoadTrack(first))
	require.NoError(t, e.Play())
	require.NoError(t, e.PrepareNextTrack(second))

	out := pump(fake, 40, cfg) // 20480 frames, seam at frame 12000
	mono := monoMix(out, 2)

	assert.Equal(t, Playing, e.State())
	assert.Zero(t, e.CrossfadeCount(), "same-format transition must not crossfade")

	// RMS of the 5 ms windows on either side of the seam must match
	// the steady-state tone within 0.1 dB: no inserted silence.
	window := rate * 5 / 1000
	before := rms(mono[12000-window : 12000])
	after := rms(mono[12000 : 12000+window])
	steady := rms(mono[2000 : 2000+window*4])
	for _, got := range []float64{before, after} {
		db := 20 * math.Log10(got/steady)
		assert.InDelta(t, 0, db, 0.1)
	}

	// Spectral peak stays at 1 kHz across the 10 ms seam window.
	seam := mono[12000-240 : 12000+240]
	p1000 := goertzel(seam, 1000, rate)
	p500 := goertzel(seam, 500, rate)
	assert.Greater(t, p1000, 10*p500)
}

func TestMismatchedFormatTransitionCrossfades(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	dir := t.TempDir()

	first := writeSineWAV(t, dir, "a.wav", 48000, 2, 4800, 1000, 0.8, 0)
	second := writeSineWAV(t, dir, "b.wav", 44100, 2, 44100, 1000, 0.8, 0)

	require.NoError(t, e.LoadTrack(first))
	require.NoError(t, e.Play())
	require.NoError(t, e.PrepareNextTrack(second))

	pump(fake, 20, cfg)
	assert.Equal(t, Playing, e.State())
	assert.Equal(t, uint64(1), e.CrossfadeCount())
}

func TestEOSWithoutNextStops(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	path := writeSineWAV(t, t.TempDir(), "short.wav", 48000, 2, 1024, 440, 0.5, 0)

	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	pump(fake, 8, cfg)
	assert.Equal(t, Stopped, e.State())
}

func TestSeekIdempotence(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	// 4 s track.
	path := writeSineWAV(t, t.TempDir(), "long.wav", 48000, 2, 192000, 440, 0.5, 0)

	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	pump(fake, 4, cfg)

	blockMs := uint64(cfg.BufferFrames) * 1000 / uint64(cfg.SampleRate)
	for i := 0; i < 2; i++ {
		require.NoError(t, e.Seek(2000))
		pos := e.GetPositionMs()
		assert.GreaterOrEqual(t, pos, uint64(2000))
		assert.LessOrEqual(t, pos, 2000+blockMs)
	}
	assert.Equal(t, Playing, e.State())
}

func TestAtMostOneSlotActiveOutsideTransition(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	dir := t.TempDir()
	first := writeSineWAV(t, dir, "a.wav", 48000, 2, 4800, 440, 0.5, 0)
	second := writeSineWAV(t, dir, "b.wav", 48000, 2, 4800, 440, 0.5, 0)

	require.NoError(t, e.LoadTrack(first))
	require.NoError(t, e.Play())
	require.NoError(t, e.PrepareNextTrack(second))

	// A prepared slot is loaded but never active: only the current
	// slot plays, and only a transition promotes the prepared one.
	cur := int(e.current.Load())
	next := int(e.next.Load())
	require.NotEqual(t, noSlot, next)
	require.NotEqual(t, cur, next)
	assert.Equal(t, Playing, e.State())
	assert.True(t, e.slots[cur].active.Load())
	assert.True(t, e.slots[next].loaded.Load())
	assert.False(t, e.slots[next].active.Load())

	// Across the transition and beyond, never more than one active
	// slot outside Transitioning (each Pump observes the engine at
	// rest, after any inline transition completed).
	buf := make([]float32, int(cfg.BufferFrames)*2)
	for i := 0; i < 24; i++ {
		fake.Pump(buf)
		if e.State() == Transitioning {
			continue
		}
		activeCount := 0
		for _, s := range e.slots {
			if s.active.Load() {
				activeCount++
			}
		}
		assert.LessOrEqual(t, activeCount, 1)
	}
	// After the transition the retired slot is reaped and inactive.
	e.mu.Lock()
	e.reapLocked()
	e.mu.Unlock()
	assert.True(t, e.slots[next].active.Load(), "promoted slot plays on")
	assert.False(t, e.slots[cur].active.Load(), "retired slot released")
}

func TestLoadTrackMissingFile(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(t, cfg)
	err := e.LoadTrack(filepath.Join(t.TempDir(), "missing.wav"))
	require.Error(t, err)
	assert.Equal(t, mptypes.FileNotFound, mptypes.Kind(err))
	assert.Equal(t, Stopped, e.State())
}

func TestPlayWithoutTrackFails(t *testing.T) {
	cfg := testConfig()
	e, _ := newTestEngine(t, cfg)
	err := e.Play()
	require.Error(t, err)
	assert.Equal(t, mptypes.InvalidState, mptypes.Kind(err))
}

func TestVolumeAppliedToOutput(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	path := writeSineWAV(t, t.TempDir(), "tone.wav", 48000, 2, 96000, 440, 0.8, 0)

	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	loud := rms(monoMix(pump(fake, 8, cfg), 2))

	e.SetVolume(0.5)
	quiet := rms(monoMix(pump(fake, 8, cfg), 2))
	assert.InDelta(t, 0.5, quiet/loud, 0.02)
}

func TestApproachingEnd(t *testing.T) {
	cfg := testConfig()
	e, fake := newTestEngine(t, cfg)
	// 6 s track: not approaching at the head, approaching after a seek
	// to 1.5 s from the end.
	path := writeSineWAV(t, t.TempDir(), "long.wav", 48000, 2, 288000, 440, 0.5, 0)

	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	pump(fake, 2, cfg)
	assert.False(t, e.ApproachingEnd())

	require.NoError(t, e.Seek(4500))
	assert.True(t, e.ApproachingEnd())
}

func TestVisualizationTapReceivesAudio(t *testing.T) {
	cfg := testConfig()
	viz := visualization.New()
	require.NoError(t, viz.Initialize(visualization.Config{MaxSampleRate: cfg.SampleRate, Channels: cfg.Channels}))
	fake := output.NewFakeOutput()
	e := New(fake, viz)
	require.NoError(t, e.Initialize(cfg))
	t.Cleanup(e.Shutdown)

	path := writeSineWAV(t, t.TempDir(), "tone.wav", 48000, 2, 96000, 440, 0.8, 0)
	require.NoError(t, e.LoadTrack(path))
	require.NoError(t, e.Play())
	pump(fake, 20, cfg)

	vu := viz.GetVU()
	assert.Greater(t, vu.Peak[0], 0.5)
	assert.Greater(t, vu.RMS[0], 0.3)
}

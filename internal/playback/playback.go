// Package playback implements the dual-decoder gapless playback engine:
// the Stopped/Playing/Paused/Transitioning state machine, A/B decoder
// slots, and the real-time FillBuffer callback that feeds the audio
// output.
//
// Synchronization model: all structural mutations (LoadTrack,
// PrepareNextTrack, Stop, Seek) run on the control thread under a
// single engine mutex and stop the output (joining the callback) before
// touching the current slot. The callback reads atomics for state,
// volume, gapless and the slot indices; slot identity fields (decoder,
// stream info, track info) are stable between Play and Stop.
package playback

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/rustyguts/musicplayer/internal/decoder"
	"github.com/rustyguts/musicplayer/internal/dsp"
	"github.com/rustyguts/musicplayer/internal/mptypes"
	"github.com/rustyguts/musicplayer/internal/output"
	"github.com/rustyguts/musicplayer/internal/src"
	"github.com/rustyguts/musicplayer/internal/visualization"
)

// State is the engine's playback state.
type State int32

const (
	Stopped State = iota
	Playing
	Paused
	Transitioning
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "Stopped"
	case Playing:
		return "Playing"
	case Paused:
		return "Paused"
	case Transitioning:
		return "Transitioning"
	default:
		return "Unknown"
	}
}

const (
	// prebufferThresholdMs is how close to the end of the current track
	// ApproachingEnd starts reporting true, giving the host time to
	// call PrepareNextTrack before the callback hits EOS.
	prebufferThresholdMs = 5000

	// crossfadeDurationMs is the fade applied across a transition whose
	// two tracks disagree on sample rate or channel count.
	crossfadeDurationMs = 50

	noSlot = -1
)

// Config shapes the output side of the engine.
type Config struct {
	DeviceID     int // -1 = default device
	SampleRate   uint32
	Channels     uint32
	BufferFrames uint32

	// Adaptive SRC bounds.
	MinQuality   src.Quality
	MaxQuality   src.Quality
	CPUThreshold float64
}

// DefaultConfig returns the stock 48 kHz stereo configuration with a
// 1024-frame buffer (~21 ms, enough headroom for worst-case decode).
func DefaultConfig() Config {
	return Config{
		DeviceID:     -1,
		SampleRate:   48000,
		Channels:     2,
		BufferFrames: 1024,
		MinQuality:   src.QualityFast,
		MaxQuality:   src.QualityBest,
		CPUThreshold: 80,
	}
}

// slot is one of the two pre-allocated decoder contexts (A/B). Fields
// written by the control thread while the slot is inactive; the
// callback reads them only through an active slot.
type slot struct {
	dec   decoder.Decoder
	info  mptypes.AudioStreamInfo
	track mptypes.TrackInfo

	positionSamples atomic.Uint64 // input-rate samples consumed
	loaded          atomic.Bool   // decoder opened, scratch sized
	active          atomic.Bool   // being played; exclusive outside a transition
	eos             atomic.Bool
	pendingClose    atomic.Bool

	// Frames of decoded audio still to drop (encoder delay trim).
	skipFrames uint64

	// Hot-path scratch, sized at load for this slot's rate so the
	// callback never allocates. decodeBytes receives raw decoder
	// output; floatBuf holds the channel-adapted Float32 frames fed to
	// the SRC.
	decodeBytes []byte
	floatBuf    []float32
	maxInFrames uint32

	// Remaining fade-in frames after a format-mismatched transition.
	fadeRemaining uint32
	fadeTotal     uint32
}

func (s *slot) clear() {
	s.dec = nil
	s.info = mptypes.AudioStreamInfo{}
	s.track = mptypes.TrackInfo{}
	s.positionSamples.Store(0)
	s.loaded.Store(false)
	s.active.Store(false)
	s.eos.Store(false)
	s.pendingClose.Store(false)
	s.skipFrames = 0
	s.fadeRemaining = 0
	s.fadeTotal = 0
}

// Engine is the playback engine. Construct with New, then Initialize.
type Engine struct {
	mu          sync.Mutex // guards slots, current, next, initialized, out lifecycle
	initialized bool

	cfg   Config
	out   output.Output
	conv  *src.Adaptive
	chain *dsp.Chain
	eq    *dsp.Equalizer
	viz   *visualization.Engine

	slots   [2]*slot
	current atomic.Int32
	next    atomic.Int32

	state          atomic.Int32
	volumeBits     atomic.Uint64 // float64 bits, linear gain
	gapless        atomic.Bool
	outputOpen     bool
	crossfadeCount atomic.Uint64 // mismatched transitions observed

	// events carries messages out of the callback for logging on a
	// normal goroutine; sends never block (drop on contention).
	events chan string
	done   chan struct{}
	wg     sync.WaitGroup
}

// New returns an engine driving out. The visualization engine may be
// nil when no UI tap is wanted.
func New(out output.Output, viz *visualization.Engine) *Engine {
	e := &Engine{
		out:    out,
		viz:    viz,
		events: make(chan string, 16),
		done:   make(chan struct{}),
	}
	e.slots[0] = &slot{}
	e.slots[1] = &slot{}
	e.current.Store(noSlot)
	e.next.Store(noSlot)
	e.volumeBits.Store(floatBits(1.0))
	e.gapless.Store(true)
	return e
}

// Initialize prepares the DSP chain, SRC and event drain. Must be
// called once before any other method.
func (e *Engine) Initialize(cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return mptypes.AlreadyInitialized.Err()
	}
	if cfg.SampleRate == 0 || cfg.Channels == 0 || cfg.BufferFrames == 0 {
		return mptypes.InvalidParameter.Err()
	}
	e.cfg = cfg

	e.conv = src.NewAdaptive(cfg.MinQuality, cfg.MaxQuality, cfg.CPUThreshold)

	e.eq = dsp.NewEqualizer()
	vol := dsp.NewVolume()
	e.chain = dsp.NewChain()
	e.chain.Add(e.eq)
	e.chain.Add(vol)
	dspCfg := dsp.Config{
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		MaxBufferFrames: cfg.BufferFrames,
	}
	if err := e.chain.Initialize(dspCfg); err != nil {
		return err
	}

	e.wg.Add(1)
	go e.drainEvents()
	e.initialized = true
	return nil
}

// drainEvents logs messages the callback could not log itself.
func (e *Engine) drainEvents() {
	defer e.wg.Done()
	for {
		select {
		case msg := <-e.events:
			log.Warn(msg)
		case <-e.done:
			return
		}
	}
}

// Shutdown stops playback and releases everything. The engine cannot be
// reused afterwards.
func (e *Engine) Shutdown() {
	_ = e.Stop()
	e.mu.Lock()
	if e.initialized {
		e.chain.Shutdown()
		e.initialized = false
	}
	e.mu.Unlock()
	close(e.done)
	e.wg.Wait()
}

// Chain exposes the DSP chain for parameter control (EQ bands, the
// volume stage).
func (e *Engine) Chain() *dsp.Chain { return e.chain }

// Converter exposes the adaptive SRC for quality inspection.
func (e *Engine) Converter() *src.Adaptive { return e.conv }

// State returns the current playback state.
func (e *Engine) State() State { return State(e.state.Load()) }

// SetVolume sets the engine's linear output gain, clamped to [0, 1].
func (e *Engine) SetVolume(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.volumeBits.Store(floatBits(v))
}

// GetVolume returns the engine's linear output gain.
func (e *Engine) GetVolume() float64 { return floatFromBits(e.volumeBits.Load()) }

// SetGapless toggles gapless transitions; when disabled an EOS with a
// prepared next track still stops.
func (e *Engine) SetGapless(enabled bool) { e.gapless.Store(enabled) }

// LoadTrack opens path into slot A. Legal only while Stopped.
func (e *Engine) LoadTrack(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return mptypes.NotInitialized.Err()
	}
	if e.State() != Stopped {
		return mptypes.InvalidState.Err()
	}
	if e.outputOpen {
		// The callback may still be running (an EOS degrade leaves the
		// stream open); join it before touching slots.
		_ = e.out.Stop()
	}
	e.reapLocked()
	e.closeSlotsLocked()
	if err := e.loadSlotLocked(0, path); err != nil {
		return err
	}
	if err := e.conv.Initialize(e.slots[0].info.SampleRate, e.cfg.SampleRate, e.cfg.Channels); err != nil {
		e.closeSlotsLocked()
		return err
	}
	e.slots[0].active.Store(true)
	e.current.Store(0)
	e.next.Store(noSlot)
	return nil
}

// PrepareNextTrack opens path into the non-current slot for a gapless
// handover. Legal while a current track is loaded.
func (e *Engine) PrepareNextTrack(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return mptypes.NotInitialized.Err()
	}
	cur := int(e.current.Load())
	if cur == noSlot {
		return mptypes.InvalidState.Err()
	}
	e.reapLocked()
	nextIdx := 1 - cur
	s := e.slots[nextIdx]
	if s.loaded.Load() {
		// Replace an earlier prepared track. A prepared slot is never
		// active; only a transition promotes it.
		e.next.Store(noSlot)
		if s.dec != nil {
			_ = s.dec.Close()
		}
		s.clear()
	}
	if err := e.loadSlotLocked(nextIdx, path); err != nil {
		return err
	}
	e.next.Store(int32(nextIdx))
	return nil
}

// loadSlotLocked populates slot idx from path: open, probe stream info,
// size scratch buffers, prewarm the SRC. Caller holds e.mu and the slot
// is inactive.
func (e *Engine) loadSlotLocked(idx int, path string) error {
	dec, err := decoder.OpenFile(path)
	if err != nil {
		return err
	}
	info := dec.StreamInfo()
	if info.SampleRate == 0 || info.Channels == 0 {
		_ = dec.Close()
		return mptypes.InvalidFormat.Err()
	}

	s := e.slots[idx]
	s.clear()
	s.dec = dec
	s.info = info
	s.track = mptypes.TrackInfo{
		FilePath:     path,
		TotalSamples: info.TotalSamples,
	}
	s.skipFrames = s.track.EncoderDelaySamples

	// Worst-case input frames one callback can demand at this slot's
	// rate, with slack for SRC history.
	maxIn := uint64(e.cfg.BufferFrames)*uint64(info.SampleRate)/uint64(e.cfg.SampleRate) + 16
	s.maxInFrames = uint32(maxIn)
	bps := info.Format.BytesPerSample()
	if bps == 0 {
		bps = 4
	}
	s.decodeBytes = make([]byte, int(maxIn)*int(info.Channels)*bps)
	s.floatBuf = make([]float32, int(maxIn)*int(e.cfg.Channels))

	// Warm every quality tier for this rate pair now so neither the
	// transition nor an adaptive tier change allocates on the audio
	// thread. The converter is pointed at this pair only when the slot
	// becomes current.
	if err := e.conv.Prewarm(info.SampleRate, e.cfg.SampleRate, e.cfg.Channels); err != nil {
		_ = dec.Close()
		s.clear()
		return err
	}

	s.loaded.Store(true)
	log.Info("track loaded", "path", path, "rate", info.SampleRate,
		"channels", info.Channels, "format", info.Format.String())
	return nil
}

// Play starts or resumes playback.
func (e *Engine) Play() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return mptypes.NotInitialized.Err()
	}
	switch e.State() {
	case Playing:
		return nil
	case Paused:
		if err := e.out.Start(); err != nil {
			return err
		}
		e.state.Store(int32(Playing))
		return nil
	}
	cur := int(e.current.Load())
	if cur == noSlot || !e.slots[cur].loaded.Load() {
		return mptypes.InvalidState.Err()
	}
	if !e.outputOpen {
		err := e.out.Open(e.cfg.DeviceID, e.cfg.SampleRate, e.cfg.Channels, e.cfg.BufferFrames, e.FillBuffer)
		if err != nil {
			return err
		}
		e.outputOpen = true
	}
	if err := e.out.Start(); err != nil {
		return err
	}
	e.state.Store(int32(Playing))
	return nil
}

// Pause halts the output without losing position. A Pause while not
// Playing is a no-op and returns success.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.State() != Playing {
		return nil
	}
	if err := e.out.Stop(); err != nil {
		return err
	}
	e.state.Store(int32(Paused))
	return nil
}

// Stop halts the output, closes it, and releases both slots.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}
	e.state.Store(int32(Stopped))
	_ = e.out.Stop() // joins the callback; slots are safe to touch after
	if e.outputOpen {
		_ = e.out.Close()
		e.outputOpen = false
	}
	e.closeSlotsLocked()
	e.current.Store(noSlot)
	e.next.Store(noSlot)
	if e.chain != nil {
		e.chain.Reset()
	}
	return nil
}

// Seek repositions the current track. Control-thread only: the output
// is stopped across the decoder seek and the DSP chain is reset for the
// discontinuity.
func (e *Engine) Seek(positionMs uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := int(e.current.Load())
	if cur == noSlot || !e.slots[cur].active.Load() {
		return mptypes.InvalidState.Err()
	}
	wasPlaying := e.State() == Playing
	if wasPlaying {
		if err := e.out.Stop(); err != nil {
			return err
		}
	}
	s := e.slots[cur]
	actual, err := s.dec.Seek(positionMs)
	if err != nil {
		if wasPlaying {
			_ = e.out.Start()
		}
		return err
	}
	s.positionSamples.Store(actual * uint64(s.info.SampleRate) / 1000)
	s.eos.Store(false)
	e.chain.Reset()
	e.conv.Reset()
	if e.viz != nil {
		e.viz.Reset()
	}
	if wasPlaying {
		if err := e.out.Start(); err != nil {
			return err
		}
	}
	return nil
}

// GetPositionMs returns the current track position in milliseconds, 0
// when nothing is loaded.
func (e *Engine) GetPositionMs() uint64 {
	cur := int(e.current.Load())
	if cur == noSlot {
		return 0
	}
	s := e.slots[cur]
	if !s.active.Load() {
		return 0
	}
	rate := uint64(s.info.SampleRate)
	if rate == 0 {
		return 0
	}
	return s.positionSamples.Load() * 1000 / rate
}

// GetDurationMs returns the current track duration, 0 when unknown.
func (e *Engine) GetDurationMs() uint64 {
	cur := int(e.current.Load())
	if cur == noSlot {
		return 0
	}
	s := e.slots[cur]
	if !s.active.Load() {
		return 0
	}
	return s.info.DurationMs
}

// ApproachingEnd reports whether the current track has less than the
// prebuffer threshold remaining, the host's cue to PrepareNextTrack.
func (e *Engine) ApproachingEnd() bool {
	dur := e.GetDurationMs()
	if dur == 0 {
		return false
	}
	pos := e.GetPositionMs()
	if pos >= dur {
		return true
	}
	return dur-pos < prebufferThresholdMs
}

// CrossfadeCount reports how many format-mismatched transitions have
// happened, for tests and diagnostics.
func (e *Engine) CrossfadeCount() uint64 { return e.crossfadeCount.Load() }

// reapLocked closes decoders the callback retired during a transition.
// The callback itself must not touch the filesystem, so it only marks
// the old slot pendingClose; the close happens here, on the control
// thread, at the next structural call. Caller holds e.mu.
func (e *Engine) reapLocked() {
	for _, s := range e.slots {
		if s.pendingClose.CompareAndSwap(true, false) {
			if s.dec != nil {
				_ = s.dec.Close()
			}
			s.clear()
		}
	}
}

// closeSlotsLocked releases both slots. Caller holds e.mu with the
// output stopped.
func (e *Engine) closeSlotsLocked() {
	for _, s := range e.slots {
		if s.dec != nil {
			_ = s.dec.Close()
		}
		s.clear()
	}
}

func floatBits(v float64) uint64 { return math.Float64bits(v) }

func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }

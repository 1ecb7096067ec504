// Package dsp implements the DSP chain: a linear, fixed-order chain
// of Stage implementations with a parameter surface, bypass, and latency
// reporting. The two stock stages are a 10-band peaking graphic
// equalizer and a volume stage.
package dsp

import "sync/atomic"

// ParamInfo describes one parameter of a Stage: an enumerated table
// entry, not a reflective/dictionary system.
type ParamInfo struct {
	Name    string
	Label   string
	Min     float64
	Max     float64
	Default float64
	Unit    string
}

// Config carries the stream shape a Stage must be initialized with.
type Config struct {
	SampleRate      uint32
	Channels        uint32
	MaxBufferFrames uint32
}

// Stage is one node of the DSP chain.
type Stage interface {
	Initialize(cfg Config) error
	// Process runs in place when in and out are the same slice.
	Process(in, out []float32, frames uint32)
	LatencySamples() uint32
	Reset()
	SetBypass(bypassed bool)
	IsBypassed() bool
	ParamCount() int
	ParamInfo(i int) ParamInfo
	GetParam(i int) float64
	SetParam(i int, v float64) error
	Shutdown()
}

// bypassable is embedded by every Stage for the shared bypass flag; kept
// atomic so SetBypass/IsBypassed never need the stage's own mutex.
type bypassable struct {
	bypassed atomic.Bool
}

func (b *bypassable) SetBypass(v bool) { b.bypassed.Store(v) }
func (b *bypassable) IsBypassed() bool { return b.bypassed.Load() }

// Chain processes stages in registration order. Reset resets every
// stage; a bypassed stage is skipped in Process but still reports its
// usual latency for scheduling purposes.
type Chain struct {
	stages []Stage
}

// NewChain returns an empty Chain; stages are appended with Add.
func NewChain() *Chain { return &Chain{} }

// Add appends a stage to the end of the processing order.
func (c *Chain) Add(s Stage) { c.stages = append(c.stages, s) }

// Initialize initializes every stage with cfg.
func (c *Chain) Initialize(cfg Config) error {
	for _, s := range c.stages {
		if err := s.Initialize(cfg); err != nil {
			return err
		}
	}
	return nil
}

// Process runs buf (in place) through every non-bypassed stage in
// registration order.
func (c *Chain) Process(buf []float32, frames uint32) {
	for _, s := range c.stages {
		if s.IsBypassed() {
			continue
		}
		s.Process(buf, buf, frames)
	}
}

// LatencySamples sums every stage's latency, bypassed or not.
func (c *Chain) LatencySamples() uint32 {
	var total uint32
	for _, s := range c.stages {
		total += s.LatencySamples()
	}
	return total
}

// Reset resets every stage, regardless of bypass state.
func (c *Chain) Reset() {
	for _, s := range c.stages {
		s.Reset()
	}
}

// Shutdown shuts down every stage in registration order.
func (c *Chain) Shutdown() {
	for _, s := range c.stages {
		s.Shutdown()
	}
}

// Stages exposes the registered stages for parameter introspection by
// index (e.g. a CLI `--list-plugins`-style surface).
func (c *Chain) Stages() []Stage { return c.stages }

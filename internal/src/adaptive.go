package src

import (
	"sync"
	"time"
)

// qualityLadder is the ordered tier list the Adaptive selector steps
// through.
var qualityLadder = []Quality{QualityFast, QualityBalanced, QualityBest}

func tierIndex(q Quality) int {
	for i, t := range qualityLadder {
		if t == q {
			return i
		}
	}
	return 1
}

// performanceMonitor tracks conversion CPU cost, updating an estimate
// every updateInterval frames: cpu_estimate = min(100, totalMs/10).
type performanceMonitor struct {
	updateInterval   uint64
	framesSinceCheck uint64
	timeSinceCheck   time.Duration
	estimate         float64
}

func newPerformanceMonitor() *performanceMonitor {
	return &performanceMonitor{updateInterval: 1000}
}

// record adds one Convert call's elapsed wall time and frame count,
// returning true when the running estimate was just refreshed.
func (m *performanceMonitor) record(frames uint32, elapsed time.Duration) bool {
	m.framesSinceCheck += uint64(frames)
	m.timeSinceCheck += elapsed
	if m.framesSinceCheck < m.updateInterval {
		return false
	}
	ms := float64(m.timeSinceCheck.Microseconds()) / 1000.0
	est := ms / 10.0
	if est > 100 {
		est = 100
	}
	m.estimate = est
	m.framesSinceCheck = 0
	m.timeSinceCheck = 0
	return true
}

// Adaptive wraps Universal with CPU-pressure-driven quality-tier
// stepping: above the CPU threshold it drops one tier, below half the
// threshold it raises one, bounded to [minQuality, maxQuality].
type Adaptive struct {
	mu            sync.Mutex
	universal     *Universal
	monitor       *performanceMonitor
	minQuality    Quality
	maxQuality    Quality
	cpuThreshold  float64 // percent, e.g. 80.0
	current       Quality
	inHz, outHz   uint32
	channels      uint32
}

// NewAdaptive returns an Adaptive selector bounded to [minQ, maxQ] and
// reacting to cpuThreshold percent estimated CPU load.
func NewAdaptive(minQ, maxQ Quality, cpuThreshold float64) *Adaptive {
	start := minQ
	if tierIndex(maxQ) < tierIndex(start) {
		start = maxQ
	}
	return &Adaptive{
		universal:    NewUniversal(start),
		monitor:      newPerformanceMonitor(),
		minQuality:   minQ,
		maxQuality:   maxQ,
		cpuThreshold: cpuThreshold,
		current:      start,
	}
}

// NewAdaptiveForUseCase returns tuned presets: realtime favors
// Fast/Balanced with an aggressive threshold, music is the
// general-purpose default, professional favors Best with a generous
// threshold.
func NewAdaptiveForUseCase(useCase string) *Adaptive {
	switch useCase {
	case "realtime":
		return NewAdaptive(QualityFast, QualityBalanced, 60)
	case "professional":
		return NewAdaptive(QualityBalanced, QualityBest, 90)
	default: // "music"
		return NewAdaptive(QualityFast, QualityBest, 80)
	}
}

// Initialize sets the rate pair to convert between. No converter is
// built here: the next Convert takes the converter for this pair and
// the current tier from the Universal cache, creating it if absent.
func (a *Adaptive) Initialize(inHz, outHz, channels uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inHz, a.outHz, a.channels = inHz, outHz, channels
	return nil
}

// Prewarm builds and caches converters for the given rate pair at every
// tier in [minQuality, maxQuality], so a later Initialize to that pair
// followed by tier changes on the audio thread never allocates. The
// active pair is untouched.
func (a *Adaptive) Prewarm(inHz, outHz, channels uint32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := tierIndex(a.minQuality); i <= tierIndex(a.maxQuality); i++ {
		a.universal.SetQuality(qualityLadder[i])
		if err := a.universal.Prewarm(inHz, outHz, channels); err != nil {
			a.universal.SetQuality(a.current)
			return err
		}
	}
	a.universal.SetQuality(a.current)
	return nil
}

// CurrentQuality returns the presently active tier.
func (a *Adaptive) CurrentQuality() Quality {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// EstimatedCPUPercent returns the most recently computed CPU estimate.
func (a *Adaptive) EstimatedCPUPercent() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.monitor.estimate
}

// Convert performs the conversion, timing the call for the performance
// monitor and stepping the quality tier on the monitor's update
// boundary. No sample is dropped across a tier transition: the next
// Convert call simply reconfigures with the current (inHz,outHz,channels)
// and the Universal cache keeps per-tier converter state warm.
func (a *Adaptive) Convert(in []float32, inFrames uint32, out []float32, outCap uint32) (uint32, error) {
	a.mu.Lock()
	inHz, outHz, channels := a.inHz, a.outHz, a.channels
	a.universal.SetQuality(a.current)
	a.mu.Unlock()

	start := time.Now()
	n, err := a.universal.Convert(inHz, outHz, channels, in, inFrames, out, outCap)
	elapsed := time.Since(start)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.monitor.record(inFrames, elapsed) {
		a.stepQuality()
	}
	return n, err
}

// stepQuality drops one tier above cpuThreshold, raises one below
// cpuThreshold/2, else holds. Caller holds a.mu.
func (a *Adaptive) stepQuality() {
	idx := tierIndex(a.current)
	switch {
	case a.monitor.estimate > a.cpuThreshold && idx > tierIndex(a.minQuality):
		a.current = qualityLadder[idx-1]
	case a.monitor.estimate < a.cpuThreshold/2 && idx < tierIndex(a.maxQuality):
		a.current = qualityLadder[idx+1]
	}
}

// LatencySamples reports the latency of the converter presently backing
// the active quality tier.
func (a *Adaptive) LatencySamples() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	c, err := a.universal.converterFor(a.inHz, a.outHz, a.channels)
	if err != nil {
		return 0
	}
	return c.LatencySamples()
}

// Reset clears conversion state and the performance monitor, but not
// the selected tier.
func (a *Adaptive) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.monitor = newPerformanceMonitor()
	if c, err := a.universal.converterFor(a.inHz, a.outHz, a.channels); err == nil {
		c.Reset()
	}
}

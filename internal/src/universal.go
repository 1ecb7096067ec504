package src

import "fmt"

// Quality selects which converter algorithm the Universal multiplexer
// instantiates for a given rate pair.
type Quality int

const (
	QualityFast Quality = iota
	QualityBalanced
	QualityBest
)

func (q Quality) String() string {
	switch q {
	case QualityFast:
		return "Fast"
	case QualityBalanced:
		return "Balanced"
	case QualityBest:
		return "Best"
	default:
		return "Unknown"
	}
}

func newConverterForQuality(q Quality) Converter {
	switch q {
	case QualityFast:
		return NewLinear()
	case QualityBest:
		return NewSinc16()
	default:
		return NewCubic()
	}
}

type cacheKey struct {
	inHz, outHz, channels uint32
	quality               Quality
}

// Universal is the caching converter multiplexer: keeps one converter
// instance per (inHz, outHz, channels, quality), routes identity rates
// through a fast copy, and routes non-standard rates via the nearest
// standard rate.
type Universal struct {
	cache   map[cacheKey]Converter
	quality Quality
}

// NewUniversal returns a Universal multiplexer that builds converters at
// the given quality tier.
func NewUniversal(quality Quality) *Universal {
	return &Universal{cache: make(map[cacheKey]Converter), quality: quality}
}

// SetQuality changes the tier used for converters created from now on;
// existing cached converters are unaffected until re-requested at a
// different key.
func (u *Universal) SetQuality(q Quality) { u.quality = q }

// converterFor returns the cached converter for the given rate pair,
// creating and initializing one on first use.
func (u *Universal) converterFor(inHz, outHz, channels uint32) (Converter, error) {
	key := cacheKey{inHz, outHz, channels, u.quality}
	if c, ok := u.cache[key]; ok {
		return c, nil
	}
	c := newConverterForQuality(u.quality)
	if err := c.Initialize(inHz, outHz, channels); err != nil {
		return nil, err
	}
	u.cache[key] = c
	return c, nil
}

// Prewarm creates and caches the converter for the given rate pair so a
// later Convert on the audio thread finds it in the cache instead of
// allocating one.
func (u *Universal) Prewarm(inHz, outHz, channels uint32) error {
	if inHz == outHz {
		return nil
	}
	effIn, effOut := inHz, outHz
	if !IsStandardRate(inHz) {
		effIn = NearestStandardRate(inHz)
	}
	if !IsStandardRate(outHz) {
		effOut = NearestStandardRate(outHz)
	}
	_, err := u.converterFor(effIn, effOut, channels)
	return err
}

// Convert performs conversion from inHz to outHz, using an identity copy
// when the rates match and routing unknown input rates to the nearest
// standard rate first.
func (u *Universal) Convert(inHz, outHz, channels uint32, in []float32, inFrames uint32, out []float32, outCap uint32) (uint32, error) {
	if inFrames == 0 {
		return 0, nil
	}
	if inHz == outHz {
		ch := int(channels)
		n := inFrames
		if n > outCap {
			n = outCap
		}
		copy(out[:int(n)*ch], in[:int(n)*ch])
		return n, nil
	}
	effIn, effOut := inHz, outHz
	if !IsStandardRate(inHz) {
		effIn = NearestStandardRate(inHz)
	}
	if !IsStandardRate(outHz) {
		effOut = NearestStandardRate(outHz)
	}
	c, err := u.converterFor(effIn, effOut, channels)
	if err != nil {
		return 0, fmt.Errorf("src: converterFor(%d,%d,%d): %w", effIn, effOut, channels, err)
	}
	return c.Convert(in, inFrames, out, outCap)
}

// SelectOptimalOutputRate picks the closest output rate to the given
// input rate, in priority order {48000,44100,96000,88200,192000,384000}.
func SelectOptimalOutputRate(inHz uint32) uint32 {
	priority := []uint32{48000, 44100, 96000, 88200, 192000, 384000}
	best := priority[0]
	bestDist := absDiff(inHz, best)
	for _, r := range priority[1:] {
		if d := absDiff(inHz, r); d < bestDist {
			best, bestDist = r, d
		}
	}
	return best
}

// Package decoder implements the decoder contract: format probing,
// streaming open/decode/seek/metadata/close, for WAV, MP3 and FLAC.
//
// The WAV decoder is a from-scratch RIFF reader; MP3 and FLAC wrap
// github.com/hajimehoshi/go-mp3 and github.com/mewkiz/flac behind the
// same streaming interface.
package decoder

import "github.com/rustyguts/musicplayer/internal/mptypes"

// Decoder is the contract every format implementation satisfies.
type Decoder interface {
	// Probe returns a confidence 0..100 that header (at least the first
	// 16 bytes of the file) belongs to this format. Pure, no I/O.
	Probe(header []byte) int
	// Extensions returns lowercase extensions without a leading dot.
	Extensions() []string
	// Open opens path for streaming decode.
	Open(path string) error
	StreamInfo() mptypes.AudioStreamInfo
	// DecodeBlock decodes up to len(out)/channels/bytesPerSample frames
	// into out (native Int16/Int24/Int32 per StreamInfo().Format),
	// returning frames actually decoded; 0 means end of stream.
	DecodeBlock(out []byte) (framesDecoded int, err error)
	// Seek requests position_ms and returns the actual position reached,
	// monotone within ±1 block and never before the requested position.
	Seek(positionMs uint64) (actualPositionMs uint64, err error)
	Metadata() []mptypes.MetadataTag
	// Close is idempotent.
	Close() error
}

// Factory constructs a fresh, unopened Decoder instance.
type Factory func() Decoder

// registry of built-in decoder factories, probed in this order.
var builtins = []Factory{
	func() Decoder { return NewWAVDecoder() },
	func() Decoder { return NewFLACDecoder() },
	func() Decoder { return NewMP3Decoder() },
}

// Register adds a decoder factory (used by the plugin host to register
// plugin-supplied decoders alongside the three built-ins).
func Register(f Factory) {
	builtins = append(builtins, f)
}

// probeHeaderBytes is the number of header bytes Open reads before
// dispatching; every supported format's magic fits in it.
const probeHeaderBytes = 16

// OpenFile reads path's header, asks every registered decoder to Probe
// it, and opens path with whichever decoder returns the highest
// confidence (ties broken by registration order). Returns FileNotFound
// if path does not exist, FileError if it cannot be read, InvalidFormat
// if no decoder claims it.
func OpenFile(path string) (Decoder, error) {
	header, err := readHeader(path)
	if err != nil {
		return nil, err
	}
	var best Factory
	bestScore := -1
	for _, f := range builtins {
		d := f()
		if score := d.Probe(header); score > bestScore {
			bestScore = score
			best = f
		}
	}
	if best == nil || bestScore <= 0 {
		return nil, mptypes.InvalidFormat.Err()
	}
	d := best()
	if err := d.Open(path); err != nil {
		return nil, err
	}
	return d, nil
}

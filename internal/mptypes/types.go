// Package mptypes holds the data model shared by every component of the
// audio engine: the closed error-kind enumeration, sample formats, and
// the stream/buffer/track records that flow between decoder, SRC, DSP,
// playback and visualization.
package mptypes

import "fmt"

// Result is the closed error-kind enumeration used by every component.
// Success is the zero value so a freshly declared Result reads as "ok".
type Result int

const (
	Success Result = iota
	Error
	InvalidParameter
	NotImplemented
	NotSupported
	OutOfMemory
	FileNotFound
	AccessDenied
	Timeout
	NotInitialized
	AlreadyInitialized
	InvalidState
	FileError
	InvalidFormat
)

func (r Result) String() string {
	switch r {
	case Success:
		return "Success"
	case Error:
		return "Error"
	case InvalidParameter:
		return "InvalidParameter"
	case NotImplemented:
		return "NotImplemented"
	case NotSupported:
		return "NotSupported"
	case OutOfMemory:
		return "OutOfMemory"
	case FileNotFound:
		return "FileNotFound"
	case AccessDenied:
		return "AccessDenied"
	case Timeout:
		return "Timeout"
	case NotInitialized:
		return "NotInitialized"
	case AlreadyInitialized:
		return "AlreadyInitialized"
	case InvalidState:
		return "InvalidState"
	case FileError:
		return "FileError"
	case InvalidFormat:
		return "InvalidFormat"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// Err adapts a Result to the error interface so it can be returned from
// idiomatic Go functions alongside a value; Success maps to nil.
func (r Result) Err() error {
	if r == Success {
		return nil
	}
	return resultError{r}
}

type resultError struct{ kind Result }

func (e resultError) Error() string { return e.kind.String() }

// Kind extracts the Result carried by an error produced by Result.Err,
// falling back to Error for any other error value.
func Kind(err error) Result {
	if err == nil {
		return Success
	}
	if re, ok := err.(resultError); ok {
		return re.kind
	}
	return Error
}

// SampleFormat is the closed set of sample encodings a decoder or buffer
// may carry. Float32 is the internal processing format used everywhere
// downstream of a decoder.
type SampleFormat int

const (
	FormatUnknown SampleFormat = iota
	Int16
	Int24
	Int32
	Float32
	Float64
)

func (f SampleFormat) String() string {
	switch f {
	case Int16:
		return "Int16"
	case Int24:
		return "Int24"
	case Int32:
		return "Int32"
	case Float32:
		return "Float32"
	case Float64:
		return "Float64"
	default:
		return "Unknown"
	}
}

// BytesPerSample returns the on-disk/on-wire width of one sample in this
// format, or 0 for Unknown.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case Int16:
		return 2
	case Int24:
		return 3
	case Int32, Float32:
		return 4
	case Float64:
		return 8
	default:
		return 0
	}
}

// ConvertToFloat32 converts one sample of the given integer format to
// the engine's internal Float32 representation by dividing by the full
// signed range (2^(bits-1)).
func ConvertToFloat32(raw int32, format SampleFormat) float32 {
	switch format {
	case Int16:
		return float32(int16(raw)) / 32768.0
	case Int24:
		return float32(raw) / 8388608.0
	case Int32:
		return float32(raw) / 2147483648.0
	default:
		return float32(raw)
	}
}

// AudioStreamInfo describes a decoded stream's shape.
type AudioStreamInfo struct {
	SampleRate    uint32
	Channels      uint32
	Format        SampleFormat
	TotalSamples  uint64 // 0 = unknown
	DurationMs    uint64
	BitrateKbps   uint32
}

// AudioBuffer is a block of interleaved Float32 audio passed between
// pipeline stages.
type AudioBuffer struct {
	Data            []float32
	SampleRate      uint32
	Channels        uint32
	Format          SampleFormat
	Frames          uint32
	Capacity        uint32
	TimestampUs     uint64
	PositionSamples uint64
	EndOfStream     bool
	Discontinuity   bool
}

// TrackInfo carries the encoder-delay/padding trim amounts alongside the
// file path: 0 when the decoder does not expose a value, the true value
// when it does.
type TrackInfo struct {
	FilePath              string
	EncoderDelaySamples   uint64
	EncoderPaddingSamples uint64
	TotalSamples          uint64
}

// EffectiveEndSample is the exclusive end of the decodable samples once
// trailing encoder padding is excluded (one past the last decodable
// sample index; 0 when the padding covers the whole track).
func (t TrackInfo) EffectiveEndSample() uint64 {
	if t.EncoderPaddingSamples >= t.TotalSamples {
		return 0
	}
	return t.TotalSamples - t.EncoderPaddingSamples
}

// MetadataTag is one (key, value) pair returned by Decoder.Metadata.
// Keys are the lowercase strings below.
type MetadataTag struct {
	Key   string
	Value string
}

// Standard metadata keys.
const (
	MetaTitle       = "title"
	MetaArtist      = "artist"
	MetaAlbum       = "album"
	MetaAlbumArtist = "album_artist"
	MetaGenre       = "genre"
	MetaDate        = "date"
	MetaTrackNumber = "track_number"
	MetaDiscNumber  = "disc_number"
	MetaComment     = "comment"
	MetaComposer    = "composer"
)

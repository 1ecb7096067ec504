package decoder

import (
	"bytes"
	"io"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// FLACDecoder wraps github.com/mewkiz/flac, a pure-Go FLAC decoder.
type FLACDecoder struct {
	path       string
	stream     *flac.Stream
	info       mptypes.AudioStreamInfo
	tags       []mptypes.MetadataTag
	pending    []int32 // leftover interleaved samples from a partially-consumed frame
	framesDone uint64
}

func NewFLACDecoder() *FLACDecoder { return &FLACDecoder{} }

func (d *FLACDecoder) Probe(header []byte) int {
	if len(header) >= 4 && bytes.Equal(header[0:4], []byte("fLaC")) {
		return 100
	}
	return 0
}

func (d *FLACDecoder) Extensions() []string { return []string{"flac"} }

func (d *FLACDecoder) Open(path string) error {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return mptypes.InvalidFormat.Err()
	}
	d.path = path
	d.stream = stream
	si := stream.Info
	var format mptypes.SampleFormat
	switch si.BitsPerSample {
	case 16:
		format = mptypes.Int16
	case 24:
		format = mptypes.Int24
	case 32:
		format = mptypes.Int32
	default:
		stream.Close()
		return mptypes.NotSupported.Err()
	}
	durationMs := uint64(0)
	if si.SampleRate > 0 {
		durationMs = si.NSamples * 1000 / uint64(si.SampleRate)
	}
	d.info = mptypes.AudioStreamInfo{
		SampleRate:   si.SampleRate,
		Channels:     uint32(si.NChannels),
		Format:       format,
		TotalSamples: si.NSamples,
		DurationMs:   durationMs,
	}
	d.tags = extractVorbisComments(stream)
	return nil
}

func extractVorbisComments(stream *flac.Stream) []mptypes.MetadataTag {
	var tags []mptypes.MetadataTag
	for _, block := range stream.Blocks {
		vc, ok := block.Body.(*meta.VorbisComment)
		if !ok {
			continue
		}
		for _, tag := range vc.Tags {
			if len(tag) != 2 {
				continue
			}
			if key, ok := vorbisKey(tag[0]); ok {
				tags = append(tags, mptypes.MetadataTag{Key: key, Value: tag[1]})
			}
		}
	}
	return tags
}

func vorbisKey(name string) (string, bool) {
	switch name {
	case "TITLE":
		return mptypes.MetaTitle, true
	case "ARTIST":
		return mptypes.MetaArtist, true
	case "ALBUM":
		return mptypes.MetaAlbum, true
	case "ALBUMARTIST":
		return mptypes.MetaAlbumArtist, true
	case "GENRE":
		return mptypes.MetaGenre, true
	case "DATE":
		return mptypes.MetaDate, true
	case "TRACKNUMBER":
		return mptypes.MetaTrackNumber, true
	case "DISCNUMBER":
		return mptypes.MetaDiscNumber, true
	case "COMMENT":
		return mptypes.MetaComment, true
	case "COMPOSER":
		return mptypes.MetaComposer, true
	default:
		return "", false
	}
}

// bytesPerSample returns the on-wire width implied by d.info.Format.
func (d *FLACDecoder) bytesPerSample() int { return d.info.Format.BytesPerSample() }

func (d *FLACDecoder) DecodeBlock(out []byte) (int, error) {
	if d.stream == nil {
		return 0, mptypes.InvalidParameter.Err()
	}
	ch := int(d.info.Channels)
	bps := d.bytesPerSample()
	if ch == 0 || bps == 0 {
		return 0, mptypes.Error.Err()
	}
	capFrames := len(out) / (ch * bps)
	if capFrames == 0 {
		return 0, nil
	}

	produced := 0
	// Drain any samples left over from a previous FLAC frame first.
	produced += d.drainPending(out, capFrames)

	for produced < capFrames {
		frame, err := d.stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return produced, mptypes.FileError.Err()
		}
		interleaved := interleaveFrame(frame, ch)
		d.pending = interleaved
		produced += d.drainPending(out[produced*ch*bps:], capFrames-produced)
	}
	d.framesDone += uint64(produced)
	return produced, nil
}

// drainPending writes as many whole frames as fit from d.pending into
// out, encoding each int32 sample at d.bytesPerSample() width, removing
// consumed samples from d.pending.
func (d *FLACDecoder) drainPending(out []byte, maxFrames int) int {
	ch := int(d.info.Channels)
	bps := d.bytesPerSample()
	available := len(d.pending) / ch
	n := available
	if n > maxFrames {
		n = maxFrames
	}
	for i := 0; i < n*ch; i++ {
		writeSample(out[i*bps:(i+1)*bps], d.pending[i], bps)
	}
	d.pending = d.pending[n*ch:]
	return n
}

func writeSample(dst []byte, v int32, bps int) {
	switch bps {
	case 2:
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
	case 3:
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
	case 4:
		dst[0] = byte(v)
		dst[1] = byte(v >> 8)
		dst[2] = byte(v >> 16)
		dst[3] = byte(v >> 24)
	}
}

// interleaveFrame converts a decoded FLAC frame's per-channel subframes
// into interleaved int32 samples.
func interleaveFrame(frame *frame.Frame, channels int) []int32 {
	if len(frame.Subframes) == 0 {
		return nil
	}
	n := len(frame.Subframes[0].Samples)
	out := make([]int32, n*channels)
	for c := 0; c < channels && c < len(frame.Subframes); c++ {
		samples := frame.Subframes[c].Samples
		for i := 0; i < n && i < len(samples); i++ {
			out[i*channels+c] = samples[i]
		}
	}
	return out
}

func (d *FLACDecoder) StreamInfo() mptypes.AudioStreamInfo { return d.info }

// Seek re-parses from the start of the stream and decodes forward to the
// requested position: mewkiz/flac's Stream does not expose a public
// seek-table API in the version this repo targets, so seeking advances
// past the requested position (never before it) via linear scan, at the
// cost of O(n) seek time on long files.
func (d *FLACDecoder) Seek(positionMs uint64) (uint64, error) {
	if d.info.SampleRate == 0 {
		return 0, mptypes.InvalidParameter.Err()
	}
	targetSample := positionMs * uint64(d.info.SampleRate) / 1000

	stream, err := flac.ParseFile(d.path)
	if err != nil {
		return 0, mptypes.Error.Err()
	}
	if d.stream != nil {
		d.stream.Close()
	}
	d.stream = stream
	d.pending = nil

	var decoded uint64
	for decoded < targetSample {
		frame, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, mptypes.FileError.Err()
		}
		if len(frame.Subframes) == 0 {
			continue
		}
		decoded += uint64(len(frame.Subframes[0].Samples))
	}
	d.framesDone = decoded
	actualMs := decoded * 1000 / uint64(d.info.SampleRate)
	return actualMs, nil
}

func (d *FLACDecoder) Metadata() []mptypes.MetadataTag { return d.tags }

func (d *FLACDecoder) Close() error {
	if d.stream == nil {
		return nil
	}
	err := d.stream.Close()
	d.stream = nil
	return err
}

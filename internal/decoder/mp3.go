package decoder

import (
	"io"
	"os"

	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// MP3Decoder wraps github.com/hajimehoshi/go-mp3, a pure-Go streaming
// MPEG-1/2 Layer III decoder: frame-by-frame decode, never whole-file
// buffered. go-mp3 always produces 16-bit stereo interleaved PCM
// regardless of the source channel count.
type MP3Decoder struct {
	file          *os.File
	dec           *gomp3.Decoder
	info          mptypes.AudioStreamInfo
	tags          []mptypes.MetadataTag
	bytesPerFrame int
}

func NewMP3Decoder() *MP3Decoder { return &MP3Decoder{} }

// Probe recognizes an MP3 frame sync (0xFF 0xEx/0xFx) or a leading ID3v2
// tag.
func (d *MP3Decoder) Probe(header []byte) int {
	if len(header) >= 3 && header[0] == 'I' && header[1] == 'D' && header[2] == '3' {
		return 90
	}
	if len(header) >= 2 && header[0] == 0xFF && (header[1]&0xE0) == 0xE0 {
		return 80
	}
	return 0
}

func (d *MP3Decoder) Extensions() []string { return []string{"mp3"} }

func (d *MP3Decoder) Open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return mptypes.FileNotFound.Err()
	}
	dec, err := gomp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return mptypes.InvalidFormat.Err()
	}
	d.file = f
	d.dec = dec
	d.bytesPerFrame = 2 * 2 // 16-bit * 2 channels

	totalSamples := uint64(0)
	if length := dec.Length(); length > 0 {
		totalSamples = uint64(length) / uint64(d.bytesPerFrame)
	}
	sr := uint32(dec.SampleRate())
	durationMs := uint64(0)
	if sr > 0 {
		durationMs = totalSamples * 1000 / uint64(sr)
	}
	d.info = mptypes.AudioStreamInfo{
		SampleRate:   sr,
		Channels:     2,
		Format:       mptypes.Int16,
		TotalSamples: totalSamples,
		DurationMs:   durationMs,
	}
	d.tags = readID3v2(path)
	return nil
}

func (d *MP3Decoder) StreamInfo() mptypes.AudioStreamInfo { return d.info }

func (d *MP3Decoder) DecodeBlock(out []byte) (int, error) {
	if d.dec == nil {
		return 0, mptypes.InvalidParameter.Err()
	}
	n, err := io.ReadFull(d.dec, out)
	if err != nil && n == 0 {
		return 0, nil // EOS
	}
	return n / d.bytesPerFrame, nil
}

func (d *MP3Decoder) Seek(positionMs uint64) (uint64, error) {
	if d.dec == nil || d.info.SampleRate == 0 {
		return 0, mptypes.InvalidParameter.Err()
	}
	targetSample := positionMs * uint64(d.info.SampleRate) / 1000
	byteOffset := int64(targetSample) * int64(d.bytesPerFrame)
	actual, err := d.dec.Seek(byteOffset, io.SeekStart)
	if err != nil {
		return 0, mptypes.Error.Err()
	}
	actualSample := uint64(actual) / uint64(d.bytesPerFrame)
	return actualSample * 1000 / uint64(d.info.SampleRate), nil
}

func (d *MP3Decoder) Metadata() []mptypes.MetadataTag { return d.tags }

func (d *MP3Decoder) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	d.dec = nil
	return err
}

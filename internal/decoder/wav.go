package decoder

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// WAVDecoder reads RIFF/WAVE PCM files (16/24/32-bit).
type WAVDecoder struct {
	file       *os.File
	info       mptypes.AudioStreamInfo
	dataStart  int64
	dataSize   int64
	bytesPer   int
	tags       []mptypes.MetadataTag
}

func NewWAVDecoder() *WAVDecoder { return &WAVDecoder{} }

func (d *WAVDecoder) Probe(header []byte) int {
	if len(header) < 12 {
		return 0
	}
	if bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")) {
		return 100
	}
	return 0
}

func (d *WAVDecoder) Extensions() []string { return []string{"wav", "wave"} }

func (d *WAVDecoder) Open(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return mptypes.FileNotFound.Err()
	}

	var riffHdr [12]byte
	if _, err := io.ReadFull(f, riffHdr[:]); err != nil {
		f.Close()
		return mptypes.Error.Err()
	}
	if !bytes.Equal(riffHdr[0:4], []byte("RIFF")) || !bytes.Equal(riffHdr[8:12], []byte("WAVE")) {
		f.Close()
		return mptypes.Error.Err()
	}

	var channels, bitsPerSample uint16
	var sampleRate uint32
	var audioFormat uint16
	var dataSize uint32
	foundFmt, foundData := false, false

	for !foundData {
		var chunkID [4]byte
		var chunkSize uint32
		if _, err := io.ReadFull(f, chunkID[:]); err != nil {
			f.Close()
			return mptypes.InvalidFormat.Err()
		}
		if err := binary.Read(f, binary.LittleEndian, &chunkSize); err != nil {
			f.Close()
			return mptypes.InvalidFormat.Err()
		}
		switch string(chunkID[:]) {
		case "fmt ":
			fmtBody := make([]byte, chunkSize)
			if _, err := io.ReadFull(f, fmtBody); err != nil {
				f.Close()
				return mptypes.InvalidFormat.Err()
			}
			r := bytes.NewReader(fmtBody)
			binary.Read(r, binary.LittleEndian, &audioFormat)
			binary.Read(r, binary.LittleEndian, &channels)
			binary.Read(r, binary.LittleEndian, &sampleRate)
			var byteRate uint32
			var blockAlign uint16
			binary.Read(r, binary.LittleEndian, &byteRate)
			binary.Read(r, binary.LittleEndian, &blockAlign)
			binary.Read(r, binary.LittleEndian, &bitsPerSample)
			foundFmt = true
		case "data":
			dataSize = chunkSize
			foundData = true
		default:
			// Skip unknown chunk (LIST/INFO/etc.), padded to even size.
			skip := int64(chunkSize)
			if chunkSize%2 == 1 {
				skip++
			}
			if _, err := f.Seek(skip, io.SeekCurrent); err != nil {
				f.Close()
				return mptypes.InvalidFormat.Err()
			}
		}
	}
	if !foundFmt || audioFormat != 1 {
		f.Close()
		return mptypes.NotSupported.Err()
	}

	var format mptypes.SampleFormat
	switch bitsPerSample {
	case 16:
		format = mptypes.Int16
	case 24:
		format = mptypes.Int24
	case 32:
		format = mptypes.Int32
	default:
		f.Close()
		return mptypes.NotSupported.Err()
	}

	pos, _ := f.Seek(0, io.SeekCurrent)
	bytesPerSample := int(bitsPerSample) / 8
	bytesPerFrame := bytesPerSample * int(channels)
	totalSamples := uint64(0)
	if bytesPerFrame > 0 {
		totalSamples = uint64(dataSize) / uint64(bytesPerFrame)
	}
	durationMs := uint64(0)
	if sampleRate > 0 {
		durationMs = totalSamples * 1000 / uint64(sampleRate)
	}

	d.file = f
	d.dataStart = pos
	d.dataSize = int64(dataSize)
	d.bytesPer = bytesPerFrame
	d.info = mptypes.AudioStreamInfo{
		SampleRate:   sampleRate,
		Channels:     uint32(channels),
		Format:       format,
		TotalSamples: totalSamples,
		DurationMs:   durationMs,
		BitrateKbps:  sampleRate * uint32(channels) * uint32(bitsPerSample) / 1000,
	}
	return nil
}

func (d *WAVDecoder) StreamInfo() mptypes.AudioStreamInfo { return d.info }

func (d *WAVDecoder) DecodeBlock(out []byte) (int, error) {
	if d.file == nil {
		return 0, mptypes.InvalidParameter.Err()
	}
	cur, _ := d.file.Seek(0, io.SeekCurrent)
	remaining := d.dataStart + d.dataSize - cur
	if remaining <= 0 {
		return 0, nil
	}
	toRead := int64(len(out))
	if toRead > remaining {
		toRead = remaining
	}
	n, err := io.ReadFull(d.file, out[:toRead])
	if err != nil && err != io.ErrUnexpectedEOF {
		if n == 0 {
			return 0, nil
		}
	}
	if d.bytesPer == 0 {
		return 0, mptypes.Error.Err()
	}
	return n / d.bytesPer, nil
}

func (d *WAVDecoder) Seek(positionMs uint64) (uint64, error) {
	if d.file == nil || d.info.SampleRate == 0 {
		return 0, mptypes.InvalidParameter.Err()
	}
	targetSample := positionMs * uint64(d.info.SampleRate) / 1000
	if targetSample > d.info.TotalSamples {
		targetSample = d.info.TotalSamples
	}
	offset := d.dataStart + int64(targetSample)*int64(d.bytesPer)
	if _, err := d.file.Seek(offset, io.SeekStart); err != nil {
		return 0, mptypes.Error.Err()
	}
	actualMs := targetSample * 1000 / uint64(d.info.SampleRate)
	return actualMs, nil
}

func (d *WAVDecoder) Metadata() []mptypes.MetadataTag { return d.tags }

func (d *WAVDecoder) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

package decoder

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// writeTestWAV builds a minimal 16-bit PCM mono WAV file containing
// frameCount frames, every sample set to 1000, and returns its path.
func writeTestWAV(t *testing.T, frameCount int) string {
	t.Helper()
	const sampleRate = 44100
	const channels = 1
	const bitsPerSample = 16
	dataSize := frameCount * channels * (bitsPerSample / 8)

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(channels))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	byteRate := sampleRate * channels * bitsPerSample / 8
	binary.Write(&buf, binary.LittleEndian, uint32(byteRate))
	blockAlign := channels * bitsPerSample / 8
	binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&buf, binary.LittleEndian, uint16(bitsPerSample))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for i := 0; i < frameCount; i++ {
		binary.Write(&buf, binary.LittleEndian, int16(1000))
	}

	path := filepath.Join(t.TempDir(), "fixture.wav")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestWAVProbeAndOpen(t *testing.T) {
	path := writeTestWAV(t, 1000)
	d := NewWAVDecoder()
	header, err := readHeader(path)
	if err != nil {
		t.Fatalf("readHeader: %v", err)
	}
	if score := d.Probe(header); score != 100 {
		t.Fatalf("Probe score = %d, want 100", score)
	}
	if err := d.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	info := d.StreamInfo()
	if info.SampleRate != 44100 || info.Channels != 1 || info.Format != mptypes.Int16 {
		t.Fatalf("unexpected stream info: %+v", info)
	}
	if info.TotalSamples != 1000 {
		t.Fatalf("TotalSamples = %d, want 1000", info.TotalSamples)
	}
}

func TestWAVDecodeBlockToEOS(t *testing.T) {
	path := writeTestWAV(t, 256)
	d := NewWAVDecoder()
	if err := d.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	out := make([]byte, 64*2) // 64 frames of 16-bit mono
	total := 0
	for {
		n, err := d.DecodeBlock(out)
		if err != nil {
			t.Fatalf("DecodeBlock: %v", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	if total != 256 {
		t.Fatalf("decoded %d frames, want 256", total)
	}
}

func TestWAVSeekClampsToTotalSamples(t *testing.T) {
	path := writeTestWAV(t, 44100) // exactly 1000ms
	d := NewWAVDecoder()
	if err := d.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer d.Close()

	actual, err := d.Seek(5000) // past end
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if actual != 1000 {
		t.Fatalf("Seek past end returned %dms, want clamp to 1000ms", actual)
	}

	actual, err = d.Seek(500)
	if err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if actual != 500 {
		t.Fatalf("Seek(500) = %d, want 500", actual)
	}
	out := make([]byte, 2)
	n, err := d.DecodeBlock(out)
	if err != nil || n != 1 {
		t.Fatalf("DecodeBlock after seek: n=%d err=%v", n, err)
	}
}

func TestWAVCloseIsIdempotent(t *testing.T) {
	path := writeTestWAV(t, 10)
	d := NewWAVDecoder()
	if err := d.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := d.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenFileDispatchesToWAV(t *testing.T) {
	path := writeTestWAV(t, 100)
	d, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer d.Close()
	if _, ok := d.(*WAVDecoder); !ok {
		t.Fatalf("OpenFile picked %T, want *WAVDecoder", d)
	}
}

func TestOpenFileMissingReturnsFileNotFound(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "does-not-exist.wav"))
	if mptypes.Kind(err) != mptypes.FileNotFound {
		t.Fatalf("Kind(err) = %v, want FileNotFound", mptypes.Kind(err))
	}
}

func TestOpenFileUnrecognizedReturnsInvalidFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage.bin")
	if err := os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}, 0o644); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	_, err := OpenFile(path)
	if mptypes.Kind(err) != mptypes.InvalidFormat {
		t.Fatalf("Kind(err) = %v, want InvalidFormat", mptypes.Kind(err))
	}
}

func TestFLACProbeMagic(t *testing.T) {
	d := NewFLACDecoder()
	if score := d.Probe([]byte("fLaC\x00\x00\x00\x00")); score != 100 {
		t.Fatalf("Probe score = %d, want 100", score)
	}
	if score := d.Probe([]byte("RIFFxxxx")); score != 0 {
		t.Fatalf("Probe score = %d, want 0 for non-FLAC header", score)
	}
}

func TestMP3ProbeID3AndFrameSync(t *testing.T) {
	d := NewMP3Decoder()
	if score := d.Probe([]byte("ID3\x03\x00\x00\x00\x00\x00\x00")); score != 90 {
		t.Fatalf("ID3 probe score = %d, want 90", score)
	}
	if score := d.Probe([]byte{0xFF, 0xFB, 0x90, 0x00}); score != 80 {
		t.Fatalf("frame-sync probe score = %d, want 80", score)
	}
	if score := d.Probe([]byte("RIFFxxxx")); score != 0 {
		t.Fatalf("Probe score = %d, want 0 for non-MP3 header", score)
	}
}

func TestID3TextDecodingStripsNulAndBOM(t *testing.T) {
	body := append([]byte{0x00}, []byte("Test Title\x00")...)
	if got := decodeID3Text(body); got != "Test Title" {
		t.Fatalf("decodeID3Text(iso8859) = %q, want %q", got, "Test Title")
	}

	utf16 := []byte{0x01, 0xFF, 0xFE, 'A', 0x00, 'B', 0x00, 'C', 0x00}
	if got := decodeID3Text(utf16); got != "ABC" {
		t.Fatalf("decodeID3Text(utf16) = %q, want %q", got, "ABC")
	}
}

func TestTrackNumberOnlySplitsOnSlash(t *testing.T) {
	n, ok := trackNumberOnly("7/12")
	if !ok || n != 7 {
		t.Fatalf("trackNumberOnly(7/12) = (%d, %v), want (7, true)", n, ok)
	}
	if _, ok := trackNumberOnly("not-a-number"); ok {
		t.Fatalf("trackNumberOnly(not-a-number) should fail")
	}
}

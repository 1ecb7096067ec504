package decoder

import (
	"encoding/binary"
	"os"
	"strconv"
	"strings"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// id3FrameKeys maps ID3v2 text-frame IDs to the lowercase metadata
// keys. Tag parsing runs once, from Open(); Metadata() returns the
// stored tags, and the streaming DecodeBlock path never parses tags.
var id3FrameKeys = map[string]string{
	"TIT2": mptypes.MetaTitle,
	"TPE1": mptypes.MetaArtist,
	"TALB": mptypes.MetaAlbum,
	"TPE2": mptypes.MetaAlbumArtist,
	"TCON": mptypes.MetaGenre,
	"TYER": mptypes.MetaDate,
	"TDRC": mptypes.MetaDate,
	"TRCK": mptypes.MetaTrackNumber,
	"TPOS": mptypes.MetaDiscNumber,
	"COMM": mptypes.MetaComment,
	"TCOM": mptypes.MetaComposer,
}

// readID3v2 reads a leading ID3v2.3/2.4 tag from path, if present, and
// returns whichever recognized text frames it finds. Any parse failure
// yields an empty tag list rather than an error: metadata is best-effort.
func readID3v2(path string) []mptypes.MetadataTag {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var hdr [10]byte
	if _, err := f.Read(hdr[:]); err != nil {
		return nil
	}
	if string(hdr[0:3]) != "ID3" {
		return nil
	}
	majorVersion := hdr[3]
	size := syncsafeToInt(hdr[6:10])
	body := make([]byte, size)
	if _, err := f.Read(body); err != nil {
		return nil
	}

	var tags []mptypes.MetadataTag
	pos := 0
	for pos+10 <= len(body) {
		id := string(body[pos : pos+4])
		if id == "\x00\x00\x00\x00" {
			break
		}
		var frameSize int
		if majorVersion >= 4 {
			frameSize = syncsafeToInt(body[pos+4 : pos+8])
		} else {
			frameSize = int(binary.BigEndian.Uint32(body[pos+4 : pos+8]))
		}
		frameStart := pos + 10
		frameEnd := frameStart + frameSize
		if frameSize <= 0 || frameEnd > len(body) {
			break
		}
		if key, ok := id3FrameKeys[id]; ok {
			val := decodeID3Text(body[frameStart:frameEnd])
			if key == mptypes.MetaTrackNumber || key == mptypes.MetaDiscNumber {
				// TRCK/TPOS frames often carry "N/M"; keep only N.
				if n, ok := trackNumberOnly(val); ok {
					val = strconv.Itoa(n)
				}
			}
			if val != "" {
				tags = append(tags, mptypes.MetadataTag{Key: key, Value: val})
			}
		}
		pos = frameEnd
	}
	return tags
}

func syncsafeToInt(b []byte) int {
	return int(b[0])<<21 | int(b[1])<<14 | int(b[2])<<7 | int(b[3])
}

// decodeID3Text strips the leading text-encoding byte and trailing NUL
// padding from a text frame body. Only the ISO-8859-1/UTF-8 encodings
// (0x00/0x03) are decoded as-is; UTF-16 frames (0x01/0x02) are decoded
// as a best-effort byte strip since the engine only needs display text.
func decodeID3Text(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	encoding := body[0]
	text := body[1:]
	if encoding == 1 || encoding == 2 {
		text = stripUTF16BOMAndNulls(text)
	}
	s := strings.TrimRight(string(text), "\x00")
	s = strings.TrimSpace(s)
	return s
}

func stripUTF16BOMAndNulls(b []byte) []byte {
	if len(b) >= 2 && (b[0] == 0xFF || b[0] == 0xFE) {
		b = b[2:]
	}
	out := make([]byte, 0, len(b)/2)
	for i := 0; i+1 < len(b); i += 2 {
		lo, hi := b[i], b[i+1]
		if hi == 0 && lo < 0x80 {
			out = append(out, lo)
		}
	}
	return out
}

// trackNumberOnly extracts the leading integer from an ID3 "N/M" track
// or disc number frame, used when a caller needs just the number.
func trackNumberOnly(s string) (int, bool) {
	i := strings.IndexByte(s, '/')
	if i >= 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}

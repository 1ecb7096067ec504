package decoder

import (
	"errors"
	"io"
	"os"

	"github.com/rustyguts/musicplayer/internal/mptypes"
)

// readHeader reads up to probeHeaderBytes from path, mapping a missing
// file to FileNotFound.
func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, mptypes.FileNotFound.Err()
		}
		return nil, mptypes.FileError.Err()
	}
	defer f.Close()
	buf := make([]byte, probeHeaderBytes)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, mptypes.FileError.Err()
	}
	return buf[:n], nil
}

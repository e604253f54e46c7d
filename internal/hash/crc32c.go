package hash

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/crc32"
)

// TrailerSize is the length of the checksum appended by Seal.
const TrailerSize = 4

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// CRC32C computes the CRC32-Castagnoli checksum of data.
func CRC32C(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

// Seal appends the little-endian CRC32C of buf to buf.
func Seal(buf []byte) []byte {
	return binary.LittleEndian.AppendUint32(buf, CRC32C(buf))
}

// ChecksumError reports a trailer that does not match the content.
type ChecksumError struct {
	Got, Want uint32
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch (got %08x, want %08x)", e.Got, e.Want)
}

// Open verifies a buffer produced by Seal and returns the content without
// the trailer.
func Open(sealed []byte) ([]byte, error) {
	if len(sealed) < TrailerSize {
		return nil, fmt.Errorf("sealed buffer too short (%d bytes)", len(sealed))
	}
	content, trailer := sealed[:len(sealed)-TrailerSize], sealed[len(sealed)-TrailerSize:]
	if got, want := CRC32C(content), binary.LittleEndian.Uint32(trailer); got != want {
		return nil, &ChecksumError{Got: got, Want: want}
	}
	return content, nil
}

// Package crc computes the CRC32 checksums used to verify firmware images.
package crc

import (
	"hash"
	"hash/crc32"
	"io"
)

// Sum returns the CRC32 (IEEE) checksum of the provided data.
func Sum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// New returns a streaming CRC32 (IEEE) hash.
func New() hash.Hash32 {
	return crc32.NewIEEE()
}

// SumReader computes the checksum of everything read from r and returns it
// along with the number of bytes consumed.
func SumReader(r io.Reader) (uint32, int64, error) {
	// prepare hash
	h := New()

	// consume reader
	n, err := io.Copy(h, r)
	if err != nil {
		return 0, n, err
	}

	return h.Sum32(), n, nil
}

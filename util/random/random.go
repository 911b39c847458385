// Package random draws values from the operating system's cryptographic
// source.
package random

import (
	"crypto/rand"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Uint64 returns a cryptographically random uint64 value.
func Uint64() (uint64, error) {
	return Uint64From(rand.Reader)
}

// Uint64From reads a little-endian uint64 from r. A short read is an
// error.
func Uint64From(r io.Reader) (uint64, error) {
	var buf [8]byte
	_, err := io.ReadFull(r, buf[:])
	if err != nil {
		return 0, errors.Wrap(err, "reading random bytes")
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

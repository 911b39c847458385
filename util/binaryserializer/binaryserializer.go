// Package binaryserializer provides the little-endian primitives used by
// the unit and wire codecs. Reader and Writer keep the first error they hit
// so codecs can chain calls and check once.
package binaryserializer

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// ErrTooLarge is returned when a length prefix exceeds the caller's bound.
var ErrTooLarge = errors.New("length prefix exceeds maximum")

// Writer writes little-endian values to an io.Writer.
type Writer struct {
	w       io.Writer
	scratch [8]byte
	err     error
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first error encountered.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) write(b []byte) {
	if w.err != nil {
		return
	}
	_, err := w.w.Write(b)
	if err != nil {
		w.err = errors.WithStack(err)
	}
}

// Uint8 writes a byte.
func (w *Writer) Uint8(v uint8) {
	w.scratch[0] = v
	w.write(w.scratch[:1])
}

// Bool writes a bool as one byte.
func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
		return
	}
	w.Uint8(0)
}

// Uint32 writes a uint32.
func (w *Writer) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(w.scratch[:4], v)
	w.write(w.scratch[:4])
}

// Uint64 writes a uint64.
func (w *Writer) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(w.scratch[:], v)
	w.write(w.scratch[:])
}

// Int64 writes an int64.
func (w *Writer) Int64(v int64) {
	w.Uint64(uint64(v))
}

// Fixed writes b without a length prefix.
func (w *Writer) Fixed(b []byte) {
	w.write(b)
}

// VarBytes writes b with a uint32 length prefix.
func (w *Writer) VarBytes(b []byte) {
	w.Uint32(uint32(len(b)))
	w.write(b)
}

// Reader reads little-endian values from an io.Reader.
type Reader struct {
	r       io.Reader
	scratch [8]byte
	err     error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Err returns the first error encountered.
func (r *Reader) Err() error {
	return r.err
}

// Fail records err unless an earlier error is already recorded.
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) read(b []byte) bool {
	if r.err != nil {
		return false
	}
	_, err := io.ReadFull(r.r, b)
	if err != nil {
		r.err = errors.WithStack(err)
		return false
	}
	return true
}

// Uint8 reads a byte.
func (r *Reader) Uint8() uint8 {
	if !r.read(r.scratch[:1]) {
		return 0
	}
	return r.scratch[0]
}

// Bool reads a one-byte bool.
func (r *Reader) Bool() bool {
	return r.Uint8() != 0
}

// Uint32 reads a uint32.
func (r *Reader) Uint32() uint32 {
	if !r.read(r.scratch[:4]) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.scratch[:4])
}

// Uint64 reads a uint64.
func (r *Reader) Uint64() uint64 {
	if !r.read(r.scratch[:]) {
		return 0
	}
	return binary.LittleEndian.Uint64(r.scratch[:])
}

// Int64 reads an int64.
func (r *Reader) Int64() int64 {
	return int64(r.Uint64())
}

// Fixed fills b completely.
func (r *Reader) Fixed(b []byte) {
	r.read(b)
}

// Count reads a uint32 element count and fails if it exceeds max.
func (r *Reader) Count(max uint32) int {
	count := r.Uint32()
	if count > max {
		r.Fail(errors.Wrapf(ErrTooLarge, "count %d, max %d", count, max))
		return 0
	}
	return int(count)
}

// VarBytes reads a uint32 length-prefixed byte slice of at most max bytes.
func (r *Reader) VarBytes(max uint32) []byte {
	length := r.Count(max)
	if r.err != nil {
		return nil
	}
	b := make([]byte, length)
	r.read(b)
	return b
}

package binaryserializer

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestReaderStopsAtFirstError(t *testing.T) {
	var buffer bytes.Buffer
	w := NewWriter(&buffer)
	w.Uint32(7)
	w.Uint64(1 << 40)
	w.Bool(true)
	if w.Err() != nil {
		t.Fatalf("unexpected write error: %s", w.Err())
	}

	r := NewReader(bytes.NewReader(buffer.Bytes()[:6]))
	if got := r.Uint32(); got != 7 {
		t.Fatalf("got %d, want 7", got)
	}
	if got := r.Uint64(); got != 0 {
		t.Fatalf("short read returned %d", got)
	}
	if !errors.Is(r.Err(), io.ErrUnexpectedEOF) {
		t.Fatalf("expected ErrUnexpectedEOF, got %v", r.Err())
	}
	if r.Bool() {
		t.Fatalf("reads after an error must return zero values")
	}
}

func TestVarBytesBound(t *testing.T) {
	var buffer bytes.Buffer
	w := NewWriter(&buffer)
	w.VarBytes([]byte("abcdef"))

	r := NewReader(bytes.NewReader(buffer.Bytes()))
	if got := r.VarBytes(4); got != nil || !errors.Is(r.Err(), ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %q, %v", got, r.Err())
	}

	r = NewReader(bytes.NewReader(buffer.Bytes()))
	if got := r.VarBytes(6); string(got) != "abcdef" || r.Err() != nil {
		t.Fatalf("got %q, %v", got, r.Err())
	}
}

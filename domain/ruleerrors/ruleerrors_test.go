package ruleerrors

import (
	"testing"

	"github.com/pkg/errors"
)

func TestCodeUnwrapsWrappedErrors(t *testing.T) {
	err := errors.Wrap(Errorf(RejectDoubleSpend, "coin %d", 3), "block 9")
	code, ok := Code(err)
	if !ok || code != RejectDoubleSpend {
		t.Fatalf("got %s, %t", code, ok)
	}
	if _, ok := Code(errors.New("plain")); ok {
		t.Fatalf("a plain error has no code")
	}
	if RejectCode(200).String() != "Unknown RejectCode (200)" {
		t.Fatalf("unexpected string %q", RejectCode(200).String())
	}
}

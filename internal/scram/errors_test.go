package scram

import (
	"errors"
	"testing"
)

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := wrapErr(KindEncoding, "decoding failed", cause)

	var scramErr *Error
	if !errors.As(err, &scramErr) {
		t.Fatal("expected errors.As to find *Error")
	}
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the wrapped cause")
	}
	if scramErr.Kind != KindEncoding {
		t.Errorf("Kind = %v, want %v", scramErr.Kind, KindEncoding)
	}
}

func TestErrorWithoutCause(t *testing.T) {
	err := newErr(KindProtocol, "bad message")
	if err.Error() == "" {
		t.Error("expected a non-empty error string")
	}
}

func TestKindString(t *testing.T) {
	kinds := []Kind{KindConfiguration, KindEntropy, KindEncoding, KindProtocol, KindVerification, KindBuffer}
	for _, k := range kinds {
		if k.String() == "unknown" {
			t.Errorf("Kind %d should have a named String()", k)
		}
	}
	if Kind(99).String() != "unknown" {
		t.Error("an unrecognized Kind should stringify to \"unknown\"")
	}
}

package apierrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNewAndKindOf(t *testing.T) {
	err := New(KindNotFound, "pod not found")
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected KindNotFound, got %v", KindOf(err))
	}
	if !Is(err, KindNotFound) {
		t.Fatal("expected Is to report true for matching kind")
	}
	if Is(err, KindConflict) {
		t.Fatal("expected Is to report false for mismatched kind")
	}
}

func TestKindOfUnwrapsThroughStandardWrapping(t *testing.T) {
	inner := New(KindExhausted, "no ports available")
	wrapped := fmt.Errorf("allocate port: %w", inner)

	if KindOf(wrapped) != KindExhausted {
		t.Fatalf("expected KindOf to unwrap through fmt.Errorf, got %v", KindOf(wrapped))
	}
}

func TestKindOfReturnsEmptyForPlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != "" {
		t.Fatalf("expected empty Kind for a plain error, got %q", got)
	}
	if got := KindOf(nil); got != "" {
		t.Fatalf("expected empty Kind for nil, got %q", got)
	}
}

func TestWrapPreservesCauseAndMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := Wrap(KindTransient, cause, "dial host")

	if !errors.Is(err, cause) {
		t.Fatal("expected Wrap's Unwrap chain to reach the cause")
	}
	if got := err.Error(); got == "" {
		t.Fatal("expected non-empty Error() string")
	}
}

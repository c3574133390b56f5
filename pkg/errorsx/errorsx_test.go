package errorsx

import (
	"context"
	"fmt"
	"testing"
)

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestWrapAndReason(t *testing.T) {
	err := Wrap(assertErr{}, ReasonTTSGenerate)
	if Reason(err) != ReasonTTSGenerate {
		t.Fatalf("expected reason %s, got %s", ReasonTTSGenerate, Reason(err))
	}
	if !HasReason(err, ReasonTTSGenerate) {
		t.Fatalf("expected HasReason true")
	}
}

func TestWrapPreservesExistingReason(t *testing.T) {
	first := Wrap(assertErr{}, ReasonTranscribe)
	second := Wrap(first, ReasonLLMStream)
	if Reason(second) != ReasonTranscribe {
		t.Fatalf("expected reason preserved, got %s", Reason(second))
	}
}

func TestIsCancelled(t *testing.T) {
	if IsCancelled(assertErr{}) {
		t.Fatalf("plain error must not classify as cancelled")
	}
	wrapped := Wrap(fmt.Errorf("stream: %w", context.Canceled), ReasonLLMStream)
	if !IsCancelled(wrapped) {
		t.Fatalf("context.Canceled must classify as cancelled through wrapping")
	}
}

package stt

import (
	"context"

	"github.com/auriskit/auris/pkg/media"
)

// Transcriber defines the contract for any STT vendor implementation. This
// engine hands over closed utterance segments, so the contract is batch
// shaped: one segment in, one transcript out.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts a recorded segment to text. An empty string with a
	// nil error is a valid result (silence-only segment).
	Transcribe(ctx context.Context, segment media.Segment) (string, error)
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	Model      string
	Language   string
	SampleRate int
}

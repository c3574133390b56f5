package tts

import "context"

// Request is one synthesis call for a single text chunk.
type Request struct {
	Text string
	// WantViseme asks the vendor for a lip-sync timing artifact alongside
	// the audio; the artifact is opaque to this engine.
	WantViseme bool
}

// Result carries the synthesized audio and the optional lip-sync artifact
// location.
type Result struct {
	Audio     []byte
	MIME      string
	VisemeURL string
}

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize generates audio for one chunk of text.
	Synthesize(ctx context.Context, req Request) (Result, error)
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	Voice      string
	Model      string
	SampleRate int
}

package mock

import (
	"context"
	"time"

	"github.com/auriskit/auris/pkg/adapters/tts"
)

type TTSConfig struct {
	// Latency simulates vendor round-trip time per chunk.
	Latency time.Duration
	Err     error
}

type Synthesizer struct {
	cfg TTSConfig
}

func NewSynthesizer(cfg TTSConfig) *Synthesizer {
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	if s.cfg.Latency > 0 {
		select {
		case <-time.After(s.cfg.Latency):
		case <-ctx.Done():
			return tts.Result{}, ctx.Err()
		}
	}
	if s.cfg.Err != nil {
		return tts.Result{}, s.cfg.Err
	}
	return tts.Result{Audio: []byte(req.Text), MIME: "audio/pcm"}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

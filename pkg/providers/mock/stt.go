package mock

import (
	"context"

	"github.com/auriskit/auris/pkg/adapters/stt"
	"github.com/auriskit/auris/pkg/media"
)

type STTConfig struct {
	Transcript string
	Err        error
}

type Transcriber struct {
	cfg STTConfig
}

func NewTranscriber(cfg STTConfig) *Transcriber {
	if cfg.Transcript == "" && cfg.Err == nil {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(_ context.Context, _ media.Segment) (string, error) {
	if t.cfg.Err != nil {
		return "", t.cfg.Err
	}
	return t.cfg.Transcript, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)

package deepgram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	listenrest "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listen "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/auriskit/auris/pkg/adapters/stt"
	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/media"
)

type Config struct {
	APIKey   string
	Model    string
	Language string
}

// Transcriber sends closed utterance segments to Deepgram's prerecorded
// endpoint. Segments are short (capped by the recorder) so a batch round
// trip per utterance keeps the pipeline simple and the connection stateless.
type Transcriber struct {
	cfg    Config
	api    *listenrest.Client
	logger *slog.Logger
}

func New(cfg Config) (*Transcriber, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram: api key required")
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	client := listen.NewREST(cfg.APIKey, &interfaces.ClientOptions{})
	return &Transcriber{
		cfg:    cfg,
		api:    listenrest.New(client),
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}, nil
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, segment media.Segment) (string, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SmartFormat: true,
	}

	res, err := t.api.FromStream(ctx, bytes.NewReader(segment.WAV()), options)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonTranscribe)
	}
	if res == nil || len(res.Results.Channels) == 0 ||
		len(res.Results.Channels[0].Alternatives) == 0 {
		t.logger.Debug("empty transcription result",
			slog.Duration("segment", segment.Duration()))
		return "", nil
	}
	transcript := res.Results.Channels[0].Alternatives[0].Transcript

	t.logger.Debug("segment transcribed",
		slog.Duration("segment", segment.Duration()),
		slog.Int("chars", len(transcript)))
	return transcript, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)

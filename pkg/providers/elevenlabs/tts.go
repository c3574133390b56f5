package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/auriskit/auris/pkg/adapters/tts"
	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/resilience"
)

const defaultBaseURL = "https://api.elevenlabs.io"

type Config struct {
	APIKey       string
	VoiceID      string
	ModelID      string
	OutputFormat string
	BaseURL      string
}

// Synthesizer calls the ElevenLabs HTTP synthesis endpoint once per chunk.
// Chunks are a sentence or two, so a request per chunk keeps each call
// independently retryable and lets the pipeline run them concurrently.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) (*Synthesizer, error) {
	if cfg.APIKey == "" || cfg.VoiceID == "" {
		return nil, fmt.Errorf("elevenlabs: api key and voice id required")
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "eleven_turbo_v2_5"
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}, nil
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	body, err := json.Marshal(synthesisRequest{
		Text:    req.Text,
		ModelID: s.cfg.ModelID,
		VoiceSettings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.8,
		},
	})
	if err != nil {
		return tts.Result{}, err
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s",
		s.cfg.BaseURL, s.cfg.VoiceID, s.cfg.OutputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return tts.Result{}, err
	}
	httpReq.Header.Set("xi-api-key", s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return tts.Result{}, errorsx.Wrap(err, errorsx.ReasonTTSConnect)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		s.logger.Warn("rate limit exceeded",
			slog.String("status", resp.Status))
		return tts.Result{}, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tts.Result{}, errorsx.Wrap(
			fmt.Errorf("elevenlabs: status %d: %s", resp.StatusCode, msg),
			errorsx.ReasonTTSGenerate)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return tts.Result{}, errorsx.Wrap(err, errorsx.ReasonTTSGenerate)
	}

	s.logger.Debug("chunk synthesized",
		slog.Int("text_chars", len(req.Text)),
		slog.Int("audio_bytes", len(audio)),
		slog.Duration("latency", time.Since(start)))
	return tts.Result{Audio: audio, MIME: "audio/mpeg"}, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)

package auris

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/auriskit/auris/pkg/audio"
	"github.com/auriskit/auris/pkg/configutil"
	"github.com/auriskit/auris/pkg/conversation"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/metrics"
	"github.com/auriskit/auris/pkg/playback"
	"github.com/auriskit/auris/pkg/redact"
	"github.com/auriskit/auris/pkg/runner"
	"github.com/auriskit/auris/pkg/speech"
	"github.com/auriskit/auris/pkg/transports/ws"
	"github.com/auriskit/auris/pkg/turn"
)

// Engine assembles the conversation service, its capture source, and its
// playback sink from config, and runs them under a lifecycle runner.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	obs      metrics.Observer
	service  *conversation.Service
	seq      *playback.Queue
	overlay  *ws.Transport
	player   *playback.LocalPlayer
	run      *runner.LifecycleRunner
	metricsF *os.File
}

// NewEngine builds a ready-to-run engine. The registry decides which vendor
// constructors are available; pass DefaultRegistry() for the built-ins.
func NewEngine(cfg Config, registry *ProviderRegistry) (*Engine, error) {
	logger := logging.Init(cfg.LogLevel, cfg.LogFormat)
	redact.SetEnabled(cfg.Privacy.RedactPII)

	e := &Engine{cfg: cfg, logger: logger}

	if cfg.Observability.MetricsPath != "" {
		f, err := os.OpenFile(cfg.Observability.MetricsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open metrics file: %w", err)
		}
		e.metricsF = f
		e.obs = metrics.NewAsyncObserver(metrics.NewJSONLObserver(f), 512)
	} else {
		e.obs = metrics.NewMemoryObserver()
	}

	transcriber, err := registry.BuildSTT(cfg.Vendors.STT)
	if err != nil {
		return nil, err
	}
	adapter, err := registry.BuildLLM(cfg.Vendors.LLM)
	if err != nil {
		return nil, err
	}

	// Capture source and playback sink come from the same transport: the
	// local devices, or the browser overlay on the other end of a websocket.
	var source audio.Source
	var play playback.PlayFunc
	switch cfg.Transport.Provider {
	case "ws":
		var wsCfg ws.Config
		if err := decodeTransportSettings(cfg.Transport.Settings, &wsCfg); err != nil {
			return nil, err
		}
		wsCfg.SampleRate = cfg.Audio.SampleRate
		e.overlay = ws.New(wsCfg, ws.Hooks{
			OnConnect:    func() { _ = e.service.Start(context.Background()) },
			OnDisconnect: func() { e.service.Stop() },
			OnInterrupt:  func() { e.service.Interrupt() },
			OnText:       func(text string) { _ = e.service.Speak(text) },
		})
		source = e.overlay
		play = e.overlay.Play
	default:
		source = audio.NewMicSource(cfg.Audio.SampleRate)
		if cfg.Speech.Enabled {
			player, err := playback.NewLocalPlayer(cfg.Audio.PlaybackRate)
			if err != nil {
				return nil, err
			}
			e.player = player
			play = player.Play
		}
	}

	recorder := audio.NewRecorder(source, transcriber, audio.RecorderConfig{
		VADThreshold:   cfg.Audio.VADThreshold,
		SilenceTimeout: time.Duration(cfg.Audio.SilenceMS) * time.Millisecond,
		MaxSegment:     time.Duration(cfg.Audio.MaxSegmentSec) * time.Second,
	}, logger, e.obs)

	fsm := turn.NewFSM(time.Duration(cfg.Turn.InterruptedHoldMS) * time.Millisecond)

	var pipeline *speech.Pipeline
	e.seq = playback.NewQueue(play, logger)
	if cfg.Speech.Enabled {
		synthesizer, err := registry.BuildTTS(cfg.Vendors.TTS)
		if err != nil {
			return nil, err
		}
		pipeline = speech.New(synthesizer, e.seq, speech.Config{
			Concurrency:    cfg.Speech.Concurrency,
			MaxQueuedAudio: cfg.Speech.MaxQueuedAudio,
			MinChunkLen:    cfg.Chunking.MinChunkLen,
			WantViseme:     cfg.Speech.WantViseme,
		}, logger, e.obs)
	}

	e.service = conversation.NewService(recorder, adapter, pipeline, e.seq, fsm, conversation.Config{
		SystemPrompt:     cfg.BasePrompt,
		SpeechEnabled:    cfg.Speech.Enabled,
		MinChunkLen:      cfg.Chunking.MinChunkLen,
		HistoryLimit:     cfg.Context.MaxHistory,
		BargeInThreshold: cfg.Turn.BargeInThreshold,
		MinBargeInTicks:  cfg.Turn.MinBargeInTicks,
	}, logger, e.obs)

	if e.overlay != nil {
		e.service.Subscribe(turn.ListenerFunc(e.overlay.SendState))
		e.service.SetEvents(conversation.Events{
			OnUserTranscript: e.overlay.SendTranscript,
			OnAssistantChunk: e.overlay.SendAssistantChunk,
			OnVolume:         e.overlay.SendVolume,
			OnError:          e.overlay.SendError,
		})
	}

	e.run = runner.NewLifecycleRunner(e, runner.Hooks{}, 10*time.Second)
	return e, nil
}

// Service exposes the conversation service for embedding surfaces.
func (e *Engine) Service() *conversation.Service { return e.service }

// Observer exposes the metrics sink, mainly for tests and the demo.
func (e *Engine) Observer() metrics.Observer { return e.obs }

// Run starts the engine and blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.overlay != nil {
		if err := e.overlay.Serve(ctx); err != nil {
			return err
		}
		e.logger.Info("overlay transport serving")
		// With an overlay the conversation starts when the page connects;
		// with local devices it starts now.
	} else {
		if err := e.service.Start(ctx); err != nil {
			return err
		}
	}
	return e.run.Run(ctx)
}

// Stop triggers shutdown and drain.
func (e *Engine) Stop() error { return e.run.Stop() }

// Drain finishes queued playback before tearing everything down. Satisfies
// runner.Drainer.
func (e *Engine) Drain() error {
	deadline := time.Now().Add(5 * time.Second)
	for e.seq.Active() && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	e.service.Stop()
	_ = e.seq.Close()
	if e.overlay != nil {
		_ = e.overlay.Shutdown()
	}
	if e.player != nil {
		_ = e.player.Close()
	}
	if async, ok := e.obs.(*metrics.AsyncObserver); ok {
		async.Close()
	}
	if e.metricsF != nil {
		_ = e.metricsF.Close()
	}
	return nil
}

func decodeTransportSettings(settings map[string]any, out *ws.Config) error {
	return configutil.DecodeSettings(settings, out)
}

package conversation

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/auriskit/auris/pkg/aggregators"
	"github.com/auriskit/auris/pkg/audio"
	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/llm"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/media"
	"github.com/auriskit/auris/pkg/metrics"
	"github.com/auriskit/auris/pkg/playback"
	"github.com/auriskit/auris/pkg/redact"
	"github.com/auriskit/auris/pkg/resilience"
	"github.com/auriskit/auris/pkg/speech"
	"github.com/auriskit/auris/pkg/turn"
)

// Config holds conversation-level tunables.
type Config struct {
	// SystemPrompt is prepended to every generation call.
	SystemPrompt string
	// SpeechEnabled toggles the TTS pipeline. When false the turn state
	// machine advances on text milestones instead of audio ones.
	SpeechEnabled bool
	// MinChunkLen is the sentence splitter's minimum chunk length.
	MinChunkLen int
	// HistoryLimit caps retained conversation messages.
	HistoryLimit int
	// BargeInThreshold is the normalized (0..1) volume above which user
	// speech during playback counts toward a barge-in.
	BargeInThreshold float64
	// MinBargeInTicks is how many consecutive loud windows trigger barge-in.
	MinBargeInTicks int
}

func (c Config) withDefaults() Config {
	if c.MinChunkLen <= 0 {
		c.MinChunkLen = aggregators.DefaultMinChunkLen
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.BargeInThreshold <= 0 {
		c.BargeInThreshold = 0.03
	}
	return c
}

// Events deliver conversation milestones to the embedding surface (overlay
// transport, demo CLI). All callbacks run on engine goroutines.
type Events struct {
	OnUserTranscript func(text string)
	OnAssistantChunk func(chunk media.TextChunk)
	OnAssistantDone  func(full string, cancelled bool)
	OnRecordingStart func()
	OnRecordingStop  func(segment media.Segment)
	OnVolume         func(level float64)
	OnError          func(err error)
}

// Service orchestrates one voice conversation: it owns the recorder, the
// turn state machine, the response splitter, and the speech pipeline, and
// enforces that exactly one generation session is live at a time.
type Service struct {
	mu       sync.Mutex
	cfg      Config
	fsm      *turn.FSM
	recorder *audio.Recorder
	adapter  llm.Adapter
	pipeline *speech.Pipeline
	seq      playback.Sequencer
	barge    *turn.InterruptController
	obs      metrics.Observer
	logger   *slog.Logger
	events   Events

	baseCtx    context.Context
	baseCancel context.CancelFunc
	running    bool

	session    string
	turnCancel context.CancelFunc
	history    []llm.Message
}

func NewService(recorder *audio.Recorder, adapter llm.Adapter, pipeline *speech.Pipeline, seq playback.Sequencer, fsm *turn.FSM, cfg Config, logger *slog.Logger, obs metrics.Observer) *Service {
	s := &Service{
		cfg:      cfg.withDefaults(),
		fsm:      fsm,
		recorder: recorder,
		adapter:  adapter,
		pipeline: pipeline,
		seq:      seq,
		obs:      obs,
		logger:   logging.NewComponentLogger(logger, "conversation"),
	}
	s.barge = turn.NewInterruptController(fsm, s.cfg.BargeInThreshold, s.cfg.MinBargeInTicks, s.Interrupt)
	return s
}

// Subscribe registers a turn state change listener.
func (s *Service) Subscribe(listener turn.StateListener) {
	s.fsm.AddListener(listener)
}

// SetEvents installs event callbacks. Call before Start.
func (s *Service) SetEvents(events Events) {
	s.mu.Lock()
	s.events = events
	s.mu.Unlock()
}

// State returns the current turn state.
func (s *Service) State() turn.State { return s.fsm.State() }

// Active reports whether a conversation is running.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start opens the microphone and moves IDLE to LISTENING. Calling Start on a
// running service is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	baseCtx, cancel := context.WithCancel(ctx)
	s.baseCtx = baseCtx
	s.baseCancel = cancel
	s.running = true
	events := s.events
	s.mu.Unlock()

	err := s.recorder.Start(baseCtx, audio.Callbacks{
		OnTranscription:  s.onTranscription,
		OnRecordingStart: events.OnRecordingStart,
		OnRecordingStop:  events.OnRecordingStop,
		OnVolume: func(level float64) {
			s.barge.OnVolume(level)
			if events.OnVolume != nil {
				events.OnVolume(level)
			}
		},
		OnError: func(err error) {
			s.logger.Warn("recorder error",
				slog.String("reason_code", string(errorsx.Reason(err))),
				slog.String("error", err.Error()))
			if events.OnError != nil {
				events.OnError(err)
			}
		},
	})
	if err != nil {
		s.mu.Lock()
		s.running = false
		s.baseCancel = nil
		s.mu.Unlock()
		cancel()
		return err
	}

	if tErr := s.fsm.Transition(turn.StateListening, "conversation started"); tErr != nil {
		s.logger.Warn("start transition rejected", slog.String("error", tErr.Error()))
	}
	s.logger.Info("conversation started")
	return nil
}

// Stop ends the conversation: cancels any live generation, stops playback,
// closes the microphone, and returns to IDLE. Safe to call repeatedly.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.turnCancel
	s.turnCancel = nil
	s.session = ""
	baseCancel := s.baseCancel
	s.baseCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if s.pipeline != nil {
		s.pipeline.Cancel()
	}
	if s.seq != nil {
		s.seq.Stop()
	}
	s.recorder.Stop()
	if baseCancel != nil {
		baseCancel()
	}
	if err := s.fsm.Transition(turn.StateIdle, "conversation stopped"); err != nil {
		s.logger.Warn("stop transition rejected", slog.String("error", err.Error()))
	}
	s.logger.Info("conversation stopped")
}

// Interrupt cancels the assistant mid-speech. Playback halts immediately,
// in-flight synthesis is invalidated, and the state machine passes through
// the transient INTERRUPTED hold before listening again. While thinking it
// cancels generation and returns straight to LISTENING; otherwise a no-op.
func (s *Service) Interrupt() {
	state := s.fsm.State()
	if state != turn.StateSpeaking && state != turn.StateThinking {
		return
	}
	s.mu.Lock()
	cancel := s.turnCancel
	s.turnCancel = nil
	session := s.session
	s.session = ""
	s.mu.Unlock()

	if s.pipeline != nil {
		s.pipeline.Cancel()
	}
	if s.seq != nil {
		s.seq.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if state == turn.StateThinking {
		// Nothing is playing yet; skip the transient hold.
		_ = s.fsm.Transition(turn.StateListening, "interrupted while thinking")
		return
	}
	if err := s.fsm.Transition(turn.StateInterrupted, "barge-in"); err != nil {
		return
	}
	metrics.Record(s.obs, metrics.EventBargeIn, map[string]string{"session_id": session})
	s.logger.Info("assistant interrupted", slog.String("session_id", session))
}

// Speak voices an arbitrary line through the chunking pipeline without an
// LLM call. Only valid while listening.
func (s *Service) Speak(text string) error {
	if s.fsm.State() != turn.StateListening {
		return &turn.InvalidTransitionError{From: s.fsm.State(), To: turn.StateThinking}
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if err := s.fsm.Transition(turn.StateThinking, "direct speak"); err != nil {
		return err
	}
	go s.runTurn("", func(ctx context.Context) (<-chan string, <-chan llm.Result, error) {
		out := make(chan string, 1)
		out <- text
		close(out)
		return out, nil, nil
	})
	return nil
}

// onTranscription receives a finished utterance transcript. Empty or
// whitespace-only transcripts keep the turn in LISTENING.
func (s *Service) onTranscription(text string, segment media.Segment) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		s.logger.Debug("empty transcription ignored",
			slog.Duration("segment", segment.Duration()))
		return
	}
	if s.fsm.State() != turn.StateListening {
		s.logger.Debug("transcription outside listening dropped",
			slog.String("state", s.fsm.State().String()))
		return
	}
	if err := s.fsm.Transition(turn.StateThinking, "user utterance"); err != nil {
		return
	}
	s.logger.Info("user utterance",
		slog.String("text", redact.Clip(redact.Text(trimmed), 120)),
		slog.Duration("segment", segment.Duration()))
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	if events.OnUserTranscript != nil {
		events.OnUserTranscript(trimmed)
	}
	go s.runTurn(trimmed, nil)
}

// streamFunc abstracts where the response text comes from: the LLM adapter
// for a normal turn, a canned channel for Speak. The result channel may be
// nil when the source cannot fail mid-stream.
type streamFunc func(ctx context.Context) (<-chan string, <-chan llm.Result, error)

func (s *Service) runTurn(userText string, stream streamFunc) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	session := uuid.NewString()
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.session = session
	s.turnCancel = cancel
	events := s.events
	if userText != "" {
		s.history = append(s.history, llm.Message{Role: "user", Content: userText})
		s.trimHistoryLocked()
	}
	input := llm.Context{System: s.cfg.SystemPrompt, Messages: append([]llm.Message(nil), s.history...)}
	s.mu.Unlock()

	if stream == nil {
		stream = func(ctx context.Context) (<-chan string, <-chan llm.Result, error) {
			return s.adapter.Stream(ctx, input)
		}
	}

	fragments, results, err := stream(ctx)
	if err != nil {
		s.failTurn(session, err)
		return
	}

	splitter := aggregators.NewSplitter(s.cfg.MinChunkLen)
	if s.cfg.SpeechEnabled && s.pipeline != nil {
		s.pipeline.Begin(ctx, session, speech.Hooks{
			OnFirstAudio: func() {
				_ = s.fsm.Transition(turn.StateSpeaking, "first audio")
			},
			OnDrained: func() {
				if s.currentSession() == session {
					s.clearTurn(session)
					_ = s.fsm.Transition(turn.StateListening, "response complete")
				}
			},
			OnChunkError: func(err error) {
				if events.OnError != nil {
					events.OnError(err)
				}
			},
		})
	}

	for fragment := range fragments {
		for _, chunk := range splitter.Push(fragment) {
			s.emitChunk(session, chunk, events)
		}
	}

	// The terminal result distinguishes a finished stream from one that died
	// mid-generation; a truncated response must never pass for a complete one.
	var streamErr error
	if results != nil {
		if res := <-results; !res.Cancelled {
			streamErr = res.Err
		}
	}

	cancelled := ctx.Err() != nil || s.currentSession() != session
	if streamErr != nil && !cancelled && !errorsx.IsCancelled(streamErr) {
		s.failTurn(session, streamErr)
		return
	}
	if !cancelled {
		if tail := splitter.Flush(); tail != nil {
			s.emitChunk(session, *tail, events)
		}
	}

	full := strings.TrimSpace(splitter.Full())
	s.finishTurn(session, full, cancelled, splitter.Count(), events)
}

func (s *Service) emitChunk(session string, chunk media.TextChunk, events Events) {
	if s.currentSession() != session {
		return
	}
	if events.OnAssistantChunk != nil {
		events.OnAssistantChunk(chunk)
	}
	if s.cfg.SpeechEnabled && s.pipeline != nil {
		s.pipeline.Submit(chunk)
		return
	}
	// Without TTS the first text chunk stands in for first audio.
	if chunk.Index == 0 {
		_ = s.fsm.Transition(turn.StateSpeaking, "first text chunk")
	}
}

func (s *Service) finishTurn(session, full string, cancelled bool, chunkCount int, events Events) {
	if cancelled {
		s.logger.Info("generation cancelled",
			slog.String("session_id", session),
			slog.Int("chunks", chunkCount))
		if events.OnAssistantDone != nil {
			events.OnAssistantDone(full, true)
		}
		// Whatever was voiced before the interrupt stays in history.
		if full != "" {
			s.appendAssistant(full)
		}
		return
	}

	if full == "" {
		s.logger.Debug("empty generation", slog.String("session_id", session))
		s.clearTurn(session)
		_ = s.fsm.Transition(turn.StateListening, "empty response")
		if events.OnAssistantDone != nil {
			events.OnAssistantDone("", false)
		}
		return
	}

	s.appendAssistant(full)
	if s.cfg.SpeechEnabled && s.pipeline != nil {
		// LISTENING comes from the pipeline's drained hook once the last
		// chunk finishes playing.
		s.pipeline.Complete()
	} else {
		s.clearTurn(session)
		_ = s.fsm.Transition(turn.StateListening, "stream complete")
	}
	s.logger.Info("generation complete",
		slog.String("session_id", session),
		slog.Int("chunks", chunkCount),
		slog.String("text", redact.Clip(redact.Text(full), 120)))
	if events.OnAssistantDone != nil {
		events.OnAssistantDone(full, false)
	}
}

func (s *Service) failTurn(session string, err error) {
	s.mu.Lock()
	events := s.events
	s.mu.Unlock()
	if errorsx.IsCancelled(err) {
		s.clearTurn(session)
		return
	}
	reason := errorsx.ReasonLLMGenerate
	if resilience.IsRateLimit(err) {
		reason = errorsx.ReasonLLMRateLimit
		metrics.Record(s.obs, metrics.EventRateLimit, map[string]string{"session_id": session})
	}
	wrapped := errorsx.Wrap(err, reason)
	s.logger.Error("generation failed",
		slog.String("session_id", session),
		slog.String("reason_code", string(errorsx.Reason(wrapped))),
		slog.String("error", err.Error()))
	// Synthesis may already be under way when the stream dies; drop it along
	// with anything queued so the failed turn goes quiet immediately.
	if s.pipeline != nil {
		s.pipeline.Cancel()
	}
	if s.seq != nil {
		s.seq.Stop()
	}
	s.clearTurn(session)
	_ = s.fsm.Transition(turn.StateListening, "generation failed")
	if events.OnError != nil {
		events.OnError(wrapped)
	}
}

func (s *Service) currentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Service) clearTurn(session string) {
	s.mu.Lock()
	if s.session == session {
		s.session = ""
		if s.turnCancel != nil {
			s.turnCancel()
			s.turnCancel = nil
		}
	}
	s.mu.Unlock()
}

func (s *Service) appendAssistant(text string) {
	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: "assistant", Content: text})
	s.trimHistoryLocked()
	s.mu.Unlock()
}

func (s *Service) trimHistoryLocked() {
	if len(s.history) > s.cfg.HistoryLimit {
		s.history = s.history[len(s.history)-s.cfg.HistoryLimit:]
	}
}

// History returns a copy of the retained conversation messages.
func (s *Service) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

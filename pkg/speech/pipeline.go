package speech

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/auriskit/auris/pkg/adapters/tts"
	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/media"
	"github.com/auriskit/auris/pkg/metrics"
	"github.com/auriskit/auris/pkg/playback"
	"github.com/auriskit/auris/pkg/redact"
	"github.com/auriskit/auris/pkg/resilience"
)

// Defaults preserved from the source system; override through Config.
const (
	DefaultConcurrency    = 3
	DefaultMaxQueuedAudio = 3
	DefaultMinChunkLen    = 3
)

type Config struct {
	// Concurrency bounds simultaneous synthesis calls.
	Concurrency int
	// MaxQueuedAudio bounds playback queue depth; generation pauses while
	// the queue is full and is woken by playback completion.
	MaxQueuedAudio int
	// MinChunkLen: shorter chunks are never dispatched to synthesis.
	MinChunkLen int
	// WantViseme requests lip-sync artifacts from the vendor.
	WantViseme bool
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxQueuedAudio <= 0 {
		c.MaxQueuedAudio = DefaultMaxQueuedAudio
	}
	if c.MinChunkLen <= 0 {
		c.MinChunkLen = DefaultMinChunkLen
	}
	return c
}

// Hooks are fired by the pipeline at turn-level milestones.
type Hooks struct {
	// OnFirstAudio fires when the session's first chunk begins playing.
	OnFirstAudio func()
	// OnDrained fires once all submitted chunks finished playing and no
	// more are pending; valid only after Complete.
	OnDrained func()
	// OnChunkError reports a single-chunk synthesis failure; the turn
	// continues with the remaining chunks.
	OnChunkError func(err error)
}

// Pipeline turns ordered text chunks into ordered audio. Synthesis runs
// under a concurrency bound and completes out of order; the pipeline buffers
// ahead-of-order results and submits to the sequencer strictly by index.
// Every async completion re-checks the session id so superseded work is
// dropped silently.
type Pipeline struct {
	mu    sync.Mutex
	enqMu sync.Mutex // serializes ordered hand-off to the sequencer

	cfg     Config
	synth   tts.Synthesizer
	seq     playback.Sequencer
	retry   resilience.RetryPolicy
	breaker *resilience.CircuitBreaker
	obs     metrics.Observer
	logger  *slog.Logger

	session      string
	ctx          context.Context
	hooks        Hooks
	backlog      []media.TextChunk
	nextGen      int
	nextPlay     int
	inflight     int
	queued       int
	pending      map[int]media.AudioChunk
	skipped      map[int]bool
	complete     bool
	firstAudio   bool
	drainedFired bool
}

func New(synth tts.Synthesizer, seq playback.Sequencer, cfg Config, logger *slog.Logger, obs metrics.Observer) *Pipeline {
	p := &Pipeline{
		cfg:     cfg.withDefaults(),
		synth:   synth,
		seq:     seq,
		retry:   resilience.NewRetryPolicy(2, 200*time.Millisecond),
		breaker: resilience.NewCircuitBreaker("tts", 3, 30*time.Second, obs),
		obs:     obs,
		logger:  logging.NewComponentLogger(logger, "speech_pipeline"),
	}
	seq.SetCallbacks(playback.Callbacks{
		OnChunkStart: p.onChunkStart,
		OnChunkEnd:   p.onChunkEnd,
	})
	return p
}

// Begin claims the pipeline for a new generation session, discarding all
// state of the previous one. Late completions carrying the old session id
// become no-ops.
func (p *Pipeline) Begin(ctx context.Context, sessionID string, hooks Hooks) {
	p.mu.Lock()
	p.session = sessionID
	p.ctx = ctx
	p.hooks = hooks
	p.backlog = nil
	p.nextGen = 0
	p.nextPlay = 0
	p.inflight = 0
	p.queued = 0
	p.pending = make(map[int]media.AudioChunk)
	p.skipped = make(map[int]bool)
	p.complete = false
	p.firstAudio = false
	p.drainedFired = false
	p.mu.Unlock()
	p.seq.Resume()
}

// Cancel invalidates the current session. The caller is responsible for
// cancelling the session context and stopping playback.
func (p *Pipeline) Cancel() {
	p.mu.Lock()
	p.session = ""
	p.backlog = nil
	p.pending = make(map[int]media.AudioChunk)
	p.skipped = make(map[int]bool)
	p.mu.Unlock()
}

// Submit enqueues one text chunk. Chunks must arrive in index order; the
// splitter guarantees this within a session.
func (p *Pipeline) Submit(chunk media.TextChunk) {
	p.mu.Lock()
	if p.session == "" || chunk.Index != len(p.backlog) {
		p.mu.Unlock()
		return
	}
	p.backlog = append(p.backlog, chunk)
	p.mu.Unlock()
	metrics.Record(p.obs, metrics.EventChunkEmitted, p.tags(chunk.Index))
	p.pump()
}

// Complete marks that no further chunks will be submitted this session
// (the text stream ended and the remainder was flushed).
func (p *Pipeline) Complete() {
	p.mu.Lock()
	p.complete = true
	p.mu.Unlock()
	p.pump()
	p.checkDrained()
}

// QueueDepth reports the playback queue depth for back-pressure inspection.
func (p *Pipeline) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queued
}

// pump starts as many generations as the concurrency bound and playback
// queue depth allow. Woken by submissions and playback completions instead
// of polling.
func (p *Pipeline) pump() {
	p.mu.Lock()
	session := p.session
	ctx := p.ctx
	var started []media.TextChunk
	for p.session != "" &&
		p.inflight < p.cfg.Concurrency &&
		p.queued < p.cfg.MaxQueuedAudio &&
		p.nextGen < len(p.backlog) {
		chunk := p.backlog[p.nextGen]
		idx := p.nextGen
		p.nextGen++
		if len(strings.TrimSpace(chunk.Text)) < p.cfg.MinChunkLen {
			p.skipped[idx] = true
			continue
		}
		p.inflight++
		started = append(started, chunk)
	}
	p.mu.Unlock()

	for _, chunk := range started {
		go p.generate(ctx, session, chunk)
	}
	p.tryEnqueue()
}

func (p *Pipeline) generate(ctx context.Context, session string, chunk media.TextChunk) {
	var result tts.Result
	var err error
	if !p.breaker.Allow() {
		metrics.Record(p.obs, metrics.EventBreakerDenied, p.tags(chunk.Index))
		err = errors.New("synthesis suspended: circuit open")
	} else {
		start := time.Now()
		err = p.retry.Do(ctx, func() error {
			var synthErr error
			result, synthErr = p.synth.Synthesize(ctx, tts.Request{
				Text:       chunk.Text,
				WantViseme: p.cfg.WantViseme,
			})
			return synthErr
		})
		if err == nil {
			p.breaker.OnSuccess()
			metrics.RecordValue(p.obs, metrics.EventChunkGenerated,
				float64(time.Since(start).Milliseconds()), p.tags(chunk.Index))
		} else {
			p.breaker.OnError(err)
			if resilience.IsRateLimit(err) {
				metrics.Record(p.obs, metrics.EventRateLimit, p.tags(chunk.Index))
			}
		}
	}

	p.mu.Lock()
	if p.session != session {
		p.mu.Unlock()
		p.logger.Debug("stale synthesis result dropped",
			slog.String("session_id", session),
			slog.Int("chunk_index", chunk.Index))
		metrics.Record(p.obs, metrics.EventChunkDropped, p.tags(chunk.Index))
		return
	}
	p.inflight--
	if err != nil {
		if errorsx.IsCancelled(err) {
			p.mu.Unlock()
			return
		}
		p.skipped[chunk.Index] = true
		hook := p.hooks.OnChunkError
		p.mu.Unlock()
		wrapped := errorsx.Wrap(err, errorsx.ReasonTTSGenerate)
		p.logger.Error("chunk synthesis failed, skipping",
			slog.Int("chunk_index", chunk.Index),
			slog.String("text", redact.Clip(redact.Text(chunk.Text), 80)),
			slog.String("reason_code", string(errorsx.Reason(wrapped))),
			slog.String("error", err.Error()))
		if hook != nil {
			hook(wrapped)
		}
	} else {
		p.pending[chunk.Index] = media.AudioChunk{
			SessionID: session,
			Index:     chunk.Index,
			Text:      chunk.Text,
			Audio:     result.Audio,
			MIME:      result.MIME,
			VisemeURL: result.VisemeURL,
		}
		p.mu.Unlock()
	}
	p.tryEnqueue()
	p.pump()
}

// tryEnqueue hands completed chunks to the sequencer in strict index order.
// enqMu keeps concurrent completions from interleaving their hand-offs.
func (p *Pipeline) tryEnqueue() {
	p.enqMu.Lock()
	for {
		p.mu.Lock()
		if p.session == "" {
			p.mu.Unlock()
			break
		}
		if p.skipped[p.nextPlay] {
			delete(p.skipped, p.nextPlay)
			p.nextPlay++
			p.mu.Unlock()
			continue
		}
		chunk, ok := p.pending[p.nextPlay]
		if !ok || p.queued >= p.cfg.MaxQueuedAudio {
			p.mu.Unlock()
			break
		}
		delete(p.pending, p.nextPlay)
		p.nextPlay++
		p.queued++
		depth := p.queued
		p.mu.Unlock()

		p.seq.Enqueue(chunk)
		metrics.RecordValue(p.obs, metrics.EventQueueDepth, float64(depth), p.tags(chunk.Index))
	}
	p.enqMu.Unlock()
	p.checkDrained()
}

func (p *Pipeline) onChunkStart(sessionID string, index int) {
	p.mu.Lock()
	fire := sessionID == p.session && !p.firstAudio
	if fire {
		p.firstAudio = true
	}
	hook := p.hooks.OnFirstAudio
	p.mu.Unlock()
	if fire {
		metrics.Record(p.obs, metrics.EventFirstAudio, p.tags(index))
		if hook != nil {
			hook()
		}
	}
}

func (p *Pipeline) onChunkEnd(sessionID string, index int) {
	p.mu.Lock()
	if sessionID != p.session {
		p.mu.Unlock()
		return
	}
	p.queued--
	p.mu.Unlock()
	metrics.Record(p.obs, metrics.EventChunkPlayed, p.tags(index))
	p.pump()
	p.checkDrained()
}

func (p *Pipeline) checkDrained() {
	p.mu.Lock()
	drained := p.session != "" && p.complete && !p.drainedFired &&
		p.nextGen == len(p.backlog) &&
		p.nextPlay >= len(p.backlog) &&
		p.inflight == 0 && len(p.pending) == 0 && p.queued == 0
	var hook func()
	if drained {
		p.drainedFired = true
		hook = p.hooks.OnDrained
	}
	p.mu.Unlock()
	if drained && hook != nil {
		hook()
	}
}

func (p *Pipeline) tags(index int) map[string]string {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	return map[string]string{
		"session_id":  session,
		"chunk_index": strconv.Itoa(index),
		"provider":    p.synth.Name(),
	}
}

package playback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/media"
)

// Callbacks signal per-chunk playback progress back to the pipeline.
type Callbacks struct {
	OnChunkStart func(sessionID string, index int)
	OnChunkEnd   func(sessionID string, index int)
}

// Sequencer plays queued audio strictly in enqueue order, signals start/end
// per chunk, and supports immediate stop. At most one generation session
// holds playback rights at a time; Stop drops everything queued.
type Sequencer interface {
	Enqueue(chunk media.AudioChunk)
	QueueLen() int
	Active() bool
	Stop()
	Resume()
	SetCallbacks(cb Callbacks)
	Close() error
}

// PlayFunc renders one chunk's audio and blocks until it finishes or ctx is
// cancelled.
type PlayFunc func(ctx context.Context, chunk media.AudioChunk) error

// Queue is a Sequencer backed by a single playback goroutine and an
// injectable PlayFunc (portaudio locally, a websocket push for the overlay,
// instant no-ops in tests).
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   []media.AudioChunk
	playing bool
	stopped bool
	closed  bool
	cancel  context.CancelFunc
	cb      Callbacks
	play    PlayFunc
	logger  *slog.Logger
}

func NewQueue(play PlayFunc, logger *slog.Logger) *Queue {
	if play == nil {
		play = func(context.Context, media.AudioChunk) error { return nil }
	}
	q := &Queue{
		play:   play,
		logger: logging.NewComponentLogger(logger, "playback"),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.loop()
	return q
}

func (q *Queue) SetCallbacks(cb Callbacks) {
	q.mu.Lock()
	q.cb = cb
	q.mu.Unlock()
}

func (q *Queue) Enqueue(chunk media.AudioChunk) {
	q.mu.Lock()
	if q.closed || q.stopped {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, chunk)
	q.cond.Broadcast()
	q.mu.Unlock()
}

// QueueLen reports playback depth: queued chunks plus the one playing.
func (q *Queue) QueueLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if q.playing {
		n++
	}
	return n
}

func (q *Queue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.playing || len(q.items) > 0
}

// Stop drops all queued chunks and interrupts the chunk being played.
// Playback stays disabled until Resume.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.items = nil
	q.stopped = true
	cancel := q.cancel
	q.cond.Broadcast()
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (q *Queue) Resume() {
	q.mu.Lock()
	q.stopped = false
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *Queue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	cancel := q.cancel
	q.cond.Broadcast()
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

func (q *Queue) loop() {
	for {
		q.mu.Lock()
		for !q.closed && (q.stopped || len(q.items) == 0) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		chunk := q.items[0]
		q.items = q.items[1:]
		q.playing = true
		ctx, cancel := context.WithCancel(context.Background())
		q.cancel = cancel
		cb := q.cb
		q.mu.Unlock()

		if cb.OnChunkStart != nil {
			cb.OnChunkStart(chunk.SessionID, chunk.Index)
		}
		if err := q.play(ctx, chunk); err != nil && !errorsx.IsCancelled(err) {
			q.logger.Error("chunk playback failed",
				slog.String("session_id", chunk.SessionID),
				slog.Int("chunk_index", chunk.Index),
				slog.String("reason_code", string(errorsx.ReasonPlayback)),
				slog.String("error", err.Error()))
		}
		cancel()

		q.mu.Lock()
		q.playing = false
		q.cancel = nil
		q.mu.Unlock()

		if cb.OnChunkEnd != nil {
			cb.OnChunkEnd(chunk.SessionID, chunk.Index)
		}
	}
}

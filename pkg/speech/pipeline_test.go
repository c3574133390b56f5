package speech

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/auriskit/auris/pkg/adapters/tts"
	"github.com/auriskit/auris/pkg/media"
	"github.com/auriskit/auris/pkg/metrics"
	"github.com/auriskit/auris/pkg/playback"
)

// scriptedSynth resolves each synthesis call when its release channel is
// closed, so tests control completion order precisely.
type scriptedSynth struct {
	mu       sync.Mutex
	release  map[string]chan struct{}
	fail     map[string]error
	calls    []string
	delay    time.Duration
	unlocked bool
}

func newScriptedSynth() *scriptedSynth {
	return &scriptedSynth{
		release: make(map[string]chan struct{}),
		fail:    make(map[string]error),
	}
}

func (s *scriptedSynth) Name() string { return "scripted" }

func (s *scriptedSynth) gate(text string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.release[text]
	if !ok {
		ch = make(chan struct{})
		s.release[text] = ch
	}
	return ch
}

func (s *scriptedSynth) done(text string) {
	close(s.gate(text))
}

func (s *scriptedSynth) Synthesize(ctx context.Context, req tts.Request) (tts.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req.Text)
	failErr := s.fail[req.Text]
	unlocked := s.unlocked
	delay := s.delay
	s.mu.Unlock()

	if !unlocked {
		select {
		case <-s.gate(req.Text):
		case <-ctx.Done():
			return tts.Result{}, ctx.Err()
		}
	} else if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return tts.Result{}, ctx.Err()
		}
	}
	if failErr != nil {
		return tts.Result{}, failErr
	}
	return tts.Result{Audio: []byte(req.Text), MIME: "audio/mpeg"}, nil
}

func (s *scriptedSynth) callTexts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// recordingSequencer captures enqueue order without playing anything until
// told to. finish() simulates a playback completion.
type recordingSequencer struct {
	mu      sync.Mutex
	cb      playback.Callbacks
	chunks  []media.AudioChunk
	played  int
	stopped bool
}

func (r *recordingSequencer) Enqueue(chunk media.AudioChunk) {
	r.mu.Lock()
	r.chunks = append(r.chunks, chunk)
	r.mu.Unlock()
}

func (r *recordingSequencer) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks) - r.played
}

func (r *recordingSequencer) Active() bool { return r.QueueLen() > 0 }

func (r *recordingSequencer) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *recordingSequencer) Resume() {
	r.mu.Lock()
	r.stopped = false
	r.mu.Unlock()
}

func (r *recordingSequencer) SetCallbacks(cb playback.Callbacks) {
	r.mu.Lock()
	r.cb = cb
	r.mu.Unlock()
}

func (r *recordingSequencer) Close() error { return nil }

// finish plays out the oldest unplayed chunk and fires its callbacks.
func (r *recordingSequencer) finish() bool {
	r.mu.Lock()
	if r.played >= len(r.chunks) {
		r.mu.Unlock()
		return false
	}
	chunk := r.chunks[r.played]
	r.played++
	cb := r.cb
	r.mu.Unlock()
	if cb.OnChunkStart != nil {
		cb.OnChunkStart(chunk.SessionID, chunk.Index)
	}
	if cb.OnChunkEnd != nil {
		cb.OnChunkEnd(chunk.SessionID, chunk.Index)
	}
	return true
}

func (r *recordingSequencer) indices() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.chunks))
	for i, c := range r.chunks {
		out[i] = c.Index
	}
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestOutOfOrderCompletionEnqueuesInOrder(t *testing.T) {
	synth := newScriptedSynth()
	seq := &recordingSequencer{}
	p := New(synth, seq, Config{}, nil, metrics.NoopObserver{})

	p.Begin(context.Background(), "s1", Hooks{})
	texts := []string{"First sentence here.", "Second sentence here.", "Third sentence here."}
	for i, text := range texts {
		p.Submit(media.TextChunk{Index: i, Text: text})
	}
	p.Complete()

	waitFor(t, func() bool { return len(synth.callTexts()) == 3 })

	// Resolve in reverse order.
	synth.done(texts[2])
	synth.done(texts[1])
	time.Sleep(20 * time.Millisecond)
	if got := seq.indices(); len(got) != 0 {
		t.Fatalf("enqueued %v before chunk 0 completed", got)
	}
	synth.done(texts[0])

	waitFor(t, func() bool { return len(seq.indices()) == 3 })
	got := seq.indices()
	for i, idx := range got {
		if idx != i {
			t.Fatalf("enqueue order = %v, want ascending from 0", got)
		}
	}
}

func TestQueueDepthBoundHoldsGeneration(t *testing.T) {
	synth := newScriptedSynth()
	synth.unlocked = true
	seq := &recordingSequencer{}
	p := New(synth, seq, Config{Concurrency: 3, MaxQueuedAudio: 3}, nil, metrics.NoopObserver{})

	p.Begin(context.Background(), "s1", Hooks{})
	for i := 0; i < 5; i++ {
		p.Submit(media.TextChunk{Index: i, Text: fmt.Sprintf("Chunk number %d ready.", i)})
	}
	p.Complete()

	// Only MaxQueuedAudio chunks may reach the sequencer while nothing plays.
	waitFor(t, func() bool { return len(seq.indices()) == 3 })
	time.Sleep(30 * time.Millisecond)
	if n := len(seq.indices()); n != 3 {
		t.Fatalf("queued %d chunks while playback stalled, want 3", n)
	}
	if d := p.QueueDepth(); d != 3 {
		t.Fatalf("QueueDepth() = %d, want 3", d)
	}

	// Each playback completion admits exactly the next chunk.
	seq.finish()
	waitFor(t, func() bool { return len(seq.indices()) == 4 })
	seq.finish()
	waitFor(t, func() bool { return len(seq.indices()) == 5 })

	got := seq.indices()
	for i, idx := range got {
		if idx != i {
			t.Fatalf("enqueue order = %v, want ascending from 0", got)
		}
	}
}

func TestDrainedFiresAfterLastPlayback(t *testing.T) {
	synth := newScriptedSynth()
	synth.unlocked = true
	seq := &recordingSequencer{}
	p := New(synth, seq, Config{}, nil, metrics.NoopObserver{})

	var mu sync.Mutex
	drained := 0
	firstAudio := 0
	p.Begin(context.Background(), "s1", Hooks{
		OnDrained:    func() { mu.Lock(); drained++; mu.Unlock() },
		OnFirstAudio: func() { mu.Lock(); firstAudio++; mu.Unlock() },
	})
	p.Submit(media.TextChunk{Index: 0, Text: "Only one sentence here."})
	p.Complete()

	waitFor(t, func() bool { return len(seq.indices()) == 1 })
	mu.Lock()
	if drained != 0 {
		mu.Unlock()
		t.Fatal("drained fired before playback finished")
	}
	mu.Unlock()

	seq.finish()
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return drained == 1
	})
	mu.Lock()
	if firstAudio != 1 {
		t.Fatalf("first-audio hook fired %d times, want 1", firstAudio)
	}
	mu.Unlock()
}

func TestStaleSessionResultDropped(t *testing.T) {
	synth := newScriptedSynth()
	seq := &recordingSequencer{}
	p := New(synth, seq, Config{}, nil, metrics.NoopObserver{})

	ctx1, cancel1 := context.WithCancel(context.Background())
	p.Begin(ctx1, "old", Hooks{})
	p.Submit(media.TextChunk{Index: 0, Text: "Reply for the old turn."})
	waitFor(t, func() bool { return len(synth.callTexts()) == 1 })

	// Supersede the session while synthesis is still in flight, then let
	// the stale call complete.
	p.Cancel()
	cancel1()
	p.Begin(context.Background(), "new", Hooks{})
	synth.done("Reply for the old turn.")

	p.Submit(media.TextChunk{Index: 0, Text: "Reply for the new turn."})
	synth.done("Reply for the new turn.")
	p.Complete()

	waitFor(t, func() bool { return len(seq.indices()) == 1 })
	time.Sleep(20 * time.Millisecond)
	chunks := seq.chunks
	if len(chunks) != 1 || chunks[0].SessionID != "new" {
		t.Fatalf("sequencer received %+v, want exactly the new session's chunk", chunks)
	}
}

func TestChunkFailureSkipsAndContinues(t *testing.T) {
	synth := newScriptedSynth()
	synth.unlocked = true
	synth.fail["This chunk will fail."] = errors.New("vendor exploded")
	seq := &recordingSequencer{}
	p := New(synth, seq, Config{}, nil, metrics.NoopObserver{})

	var mu sync.Mutex
	var chunkErrs []error
	p.Begin(context.Background(), "s1", Hooks{
		OnChunkError: func(err error) { mu.Lock(); chunkErrs = append(chunkErrs, err); mu.Unlock() },
	})
	p.Submit(media.TextChunk{Index: 0, Text: "First chunk plays fine."})
	p.Submit(media.TextChunk{Index: 1, Text: "This chunk will fail."})
	p.Submit(media.TextChunk{Index: 2, Text: "Third chunk plays fine."})
	p.Complete()

	waitFor(t, func() bool { return len(seq.indices()) == 2 })
	got := seq.indices()
	if got[0] != 0 || got[1] != 2 {
		t.Fatalf("enqueued indices %v, want [0 2]", got)
	}
	mu.Lock()
	if len(chunkErrs) == 0 {
		mu.Unlock()
		t.Fatal("chunk error hook never fired")
	}
	mu.Unlock()

	seq.finish()
	seq.finish()
}

func TestSubMinimumChunkNeverSynthesized(t *testing.T) {
	synth := newScriptedSynth()
	synth.unlocked = true
	seq := &recordingSequencer{}
	p := New(synth, seq, Config{MinChunkLen: 3}, nil, metrics.NoopObserver{})

	p.Begin(context.Background(), "s1", Hooks{})
	p.Submit(media.TextChunk{Index: 0, Text: "A real sentence to speak."})
	p.Submit(media.TextChunk{Index: 1, Text: "ok"})
	p.Submit(media.TextChunk{Index: 2, Text: "Another real sentence to speak."})
	p.Complete()

	waitFor(t, func() bool { return len(seq.indices()) == 2 })
	for _, text := range synth.callTexts() {
		if text == "ok" {
			t.Fatal("sub-minimum chunk reached the synthesizer")
		}
	}
	if got := seq.indices(); got[0] != 0 || got[1] != 2 {
		t.Fatalf("enqueued indices %v, want [0 2]", got)
	}
}

func TestCompleteWithNoChunksDrainsImmediately(t *testing.T) {
	synth := newScriptedSynth()
	seq := &recordingSequencer{}
	p := New(synth, seq, Config{}, nil, metrics.NoopObserver{})

	done := make(chan struct{})
	p.Begin(context.Background(), "s1", Hooks{OnDrained: func() { close(done) }})
	p.Complete()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("drained hook never fired for empty session")
	}
}

package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auriskit/auris/pkg/audio"
	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/media"
	"github.com/auriskit/auris/pkg/metrics"
	"github.com/auriskit/auris/pkg/playback"
	"github.com/auriskit/auris/pkg/providers/mock"
	"github.com/auriskit/auris/pkg/speech"
	"github.com/auriskit/auris/pkg/turn"
)

type fakeSource struct {
	mu     sync.Mutex
	ch     chan []int16
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan []int16, 64)}
}

func (f *fakeSource) Start(context.Context) error { return nil }
func (f *fakeSource) Samples() <-chan []int16     { return f.ch }
func (f *fakeSource) SampleRate() int             { return 16000 }

func (f *fakeSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
	return nil
}

func (f *fakeSource) speakThenSilence() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	loud := make([]int16, 1600)
	for i := range loud {
		loud[i] = 8000
	}
	for i := 0; i < 3; i++ {
		f.ch <- loud
	}
	for i := 0; i < 15; i++ {
		f.ch <- make([]int16, 1600)
	}
}

// stateLog records every FSM transition.
type stateLog struct {
	mu      sync.Mutex
	changes []turn.StateChange
}

func (l *stateLog) OnStateChange(ev turn.StateChange) {
	l.mu.Lock()
	l.changes = append(l.changes, ev)
	l.mu.Unlock()
}

func (l *stateLog) states() []turn.State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]turn.State, len(l.changes))
	for i, c := range l.changes {
		out[i] = c.ToState
	}
	return out
}

type harness struct {
	svc    *Service
	src    *fakeSource
	seq    *playback.Queue
	played *playedLog
	log    *stateLog
}

type playedLog struct {
	mu     sync.Mutex
	chunks []media.AudioChunk
	block  chan struct{}
}

func (p *playedLog) play(ctx context.Context, chunk media.AudioChunk) error {
	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	p.mu.Lock()
	p.chunks = append(p.chunks, chunk)
	p.mu.Unlock()
	return nil
}

func (p *playedLog) texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.chunks))
	for i, c := range p.chunks {
		out[i] = c.Text
	}
	return out
}

func newHarness(t *testing.T, transcript string, streamChunks []string, cfg Config) *harness {
	t.Helper()
	src := newFakeSource()
	rec := audio.NewRecorder(src, mock.NewTranscriber(mock.STTConfig{Transcript: transcript}),
		audio.RecorderConfig{VADThreshold: 1000}, nil, metrics.NoopObserver{})

	played := &playedLog{}
	seq := playback.NewQueue(played.play, nil)
	pipe := speech.New(mock.NewSynthesizer(mock.TTSConfig{}), seq, speech.Config{}, nil, metrics.NoopObserver{})

	fsm := turn.NewFSM(50 * time.Millisecond)
	log := &stateLog{}
	fsm.AddListener(log)

	adapter := mock.NewLLMAdapter(mock.LLMConfig{StreamChunks: streamChunks})
	cfg.SpeechEnabled = true
	svc := NewService(rec, adapter, pipe, seq, fsm, cfg, nil, metrics.NoopObserver{})
	t.Cleanup(func() {
		svc.Stop()
		seq.Close()
	})
	return &harness{svc: svc, src: src, seq: seq, played: played, log: log}
}

func await(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestFullTurnPlaysChunksInOrder(t *testing.T) {
	h := newHarness(t, "What's the weather?",
		[]string{"It's sun", "ny today. ", "Bring an umbr", "ella anyway!"}, Config{})

	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if h.svc.State() != turn.StateListening {
		t.Fatalf("state after Start = %v, want LISTENING", h.svc.State())
	}

	h.src.speakThenSilence()

	await(t, func() bool { return h.svc.State() == turn.StateListening && len(h.played.texts()) == 2 })
	got := h.played.texts()
	if got[0] != "It's sunny today." || got[1] != "Bring an umbrella anyway!" {
		t.Fatalf("played chunks %q", got)
	}

	// LISTENING -> THINKING -> SPEAKING -> LISTENING.
	states := h.log.states()
	want := []turn.State{turn.StateListening, turn.StateThinking, turn.StateSpeaking, turn.StateListening}
	if len(states) != len(want) {
		t.Fatalf("state sequence %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state sequence %v, want %v", states, want)
		}
	}

	// Both sides of the exchange are retained.
	hist := h.svc.History()
	if len(hist) != 2 || hist[0].Role != "user" || hist[1].Role != "assistant" {
		t.Fatalf("history %+v", hist)
	}
}

func TestEmptyTranscriptionStaysListening(t *testing.T) {
	// A whitespace-only transcript must not leave LISTENING.
	src := newFakeSource()
	rec := audio.NewRecorder(src, mock.NewTranscriber(mock.STTConfig{Transcript: " "}),
		audio.RecorderConfig{VADThreshold: 1000}, nil, metrics.NoopObserver{})
	seq := playback.NewQueue(nil, nil)
	pipe := speech.New(mock.NewSynthesizer(mock.TTSConfig{}), seq, speech.Config{}, nil, metrics.NoopObserver{})
	fsm := turn.NewFSM(0)
	log := &stateLog{}
	fsm.AddListener(log)
	svc := NewService(rec, mock.NewLLMAdapter(mock.LLMConfig{}), pipe, seq, fsm, Config{SpeechEnabled: true}, nil, metrics.NoopObserver{})
	defer seq.Close()
	defer svc.Stop()

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	src.speakThenSilence()
	time.Sleep(100 * time.Millisecond)
	if svc.State() != turn.StateListening {
		t.Fatalf("state = %v, want LISTENING", svc.State())
	}
	if got := log.states(); len(got) != 1 {
		t.Fatalf("transitions %v, want only IDLE->LISTENING", got)
	}
}

func TestInterruptWhileSpeaking(t *testing.T) {
	h := newHarness(t, "Tell me a story.",
		[]string{"Once upon a time there was a fox. ", "The fox ran far away. ", "The end of the story. "}, Config{})
	h.played.block = make(chan struct{})

	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	h.src.speakThenSilence()

	await(t, func() bool { return h.svc.State() == turn.StateSpeaking })
	h.svc.Interrupt()

	if st := h.svc.State(); st != turn.StateInterrupted && st != turn.StateListening {
		t.Fatalf("state after interrupt = %v", st)
	}
	// Transient hold auto-advances to LISTENING.
	await(t, func() bool { return h.svc.State() == turn.StateListening })

	// Nothing finishes playing after the cut.
	n := len(h.played.texts())
	time.Sleep(50 * time.Millisecond)
	if len(h.played.texts()) != n {
		t.Fatal("playback continued after interrupt")
	}

	// A second interrupt outside SPEAKING is a no-op.
	h.svc.Interrupt()
	if h.svc.State() != turn.StateListening {
		t.Fatalf("state = %v after redundant interrupt", h.svc.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, "hello", []string{"Hi there, friend!"}, Config{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	h.svc.Stop()
	h.svc.Stop()
	if h.svc.State() != turn.StateIdle {
		t.Fatalf("state = %v after Stop, want IDLE", h.svc.State())
	}
	if h.svc.Active() {
		t.Fatal("service still active after Stop")
	}
}

func TestSpeakVoicesTextDirectly(t *testing.T) {
	h := newHarness(t, "unused", nil, Config{})
	if err := h.svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := h.svc.Speak("Connected and ready. Ask me anything!"); err != nil {
		t.Fatalf("Speak() error: %v", err)
	}
	await(t, func() bool { return len(h.played.texts()) == 2 })
	got := h.played.texts()
	if got[0] != "Connected and ready." || got[1] != "Ask me anything!" {
		t.Fatalf("played %q", got)
	}
	await(t, func() bool { return h.svc.State() == turn.StateListening })
}

func TestTruncatedGenerationFailsTurn(t *testing.T) {
	// The model stream dies after one fragment, before signalling
	// completion. The turn must end as a failure reaching OnError, not as a
	// finished response committed to history.
	src := newFakeSource()
	rec := audio.NewRecorder(src, mock.NewTranscriber(mock.STTConfig{Transcript: "tell me more"}),
		audio.RecorderConfig{VADThreshold: 1000}, nil, metrics.NoopObserver{})
	played := &playedLog{}
	seq := playback.NewQueue(played.play, nil)
	pipe := speech.New(mock.NewSynthesizer(mock.TTSConfig{}), seq, speech.Config{}, nil, metrics.NoopObserver{})
	fsm := turn.NewFSM(0)
	adapter := mock.NewLLMAdapter(mock.LLMConfig{
		StreamChunks: []string{"It's sun"},
		StreamErr:    errors.New("connection reset by peer"),
	})
	svc := NewService(rec, adapter, pipe, seq, fsm, Config{SpeechEnabled: true}, nil, metrics.NoopObserver{})
	defer seq.Close()
	defer svc.Stop()

	errs := make(chan error, 4)
	svc.SetEvents(Events{OnError: func(err error) { errs <- err }})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	src.speakThenSilence()

	select {
	case err := <-errs:
		if errorsx.IsCancelled(err) {
			t.Fatalf("failure reported as cancellation: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream failure never reported")
	}
	await(t, func() bool { return svc.State() == turn.StateListening })

	// The truncated text is not committed as an assistant turn.
	for _, msg := range svc.History() {
		if msg.Role == "assistant" {
			t.Fatalf("truncated response stored in history: %+v", msg)
		}
	}
}

func TestTextOnlyModeAdvancesOnChunks(t *testing.T) {
	src := newFakeSource()
	rec := audio.NewRecorder(src, mock.NewTranscriber(mock.STTConfig{Transcript: "hi"}),
		audio.RecorderConfig{VADThreshold: 1000}, nil, metrics.NoopObserver{})
	fsm := turn.NewFSM(0)
	log := &stateLog{}
	fsm.AddListener(log)
	svc := NewService(rec, mock.NewLLMAdapter(mock.LLMConfig{StreamChunks: []string{"Hello there. ", "How can I help?"}}),
		nil, nil, fsm, Config{SpeechEnabled: false}, nil, metrics.NoopObserver{})
	defer svc.Stop()

	var mu sync.Mutex
	var chunks []string
	svc.SetEvents(Events{OnAssistantChunk: func(c media.TextChunk) {
		mu.Lock()
		chunks = append(chunks, c.Text)
		mu.Unlock()
	}})

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	src.speakThenSilence()

	await(t, func() bool { return svc.State() == turn.StateListening && func() bool { mu.Lock(); defer mu.Unlock(); return len(chunks) == 2 }() })
	states := log.states()
	want := []turn.State{turn.StateListening, turn.StateThinking, turn.StateSpeaking, turn.StateListening}
	if len(states) != len(want) {
		t.Fatalf("state sequence %v, want %v", states, want)
	}
}

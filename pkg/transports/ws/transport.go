package ws

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/media"
	"github.com/auriskit/auris/pkg/turn"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	SampleRate     int      `mapstructure:"sample_rate"`
	AllowAnyOrigin bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// AckTimeout bounds how long playback waits for the overlay's played ack.
	AckTimeout time.Duration `mapstructure:"ack_timeout"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 30 * time.Second
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Hooks connect overlay lifecycle events to the conversation service.
type Hooks struct {
	OnConnect    func()
	OnDisconnect func()
	OnInterrupt  func()
	// OnText handles typed input from the overlay's text box.
	OnText func(text string)
}

// inboundEvent is one JSON message from the overlay page.
type inboundEvent struct {
	Event   string `json:"event"`
	Payload string `json:"payload,omitempty"`
	Text    string `json:"text,omitempty"`
	Session string `json:"session,omitempty"`
	Index   int    `json:"index,omitempty"`
}

// outboundEvent is one JSON message to the overlay page.
type outboundEvent struct {
	Event   string `json:"event"`
	State   string `json:"state,omitempty"`
	From    string `json:"from,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Text    string `json:"text,omitempty"`
	Session string `json:"session,omitempty"`
	Index   int    `json:"index,omitempty"`
	Payload string `json:"payload,omitempty"`
	MIME    string `json:"mime,omitempty"`
	Viseme  string `json:"viseme,omitempty"`
	Level   float64 `json:"level,omitempty"`
}

// Transport serves the browser overlay over a websocket. It is both the
// engine's capture source (media events carry base64 PCM from the page's
// microphone) and its playback sink (audio events carry synthesized chunks,
// acknowledged by played events). One overlay session is live at a time; a
// new connection displaces the old one.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	hooks    Hooks
	logger   *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
	acks    map[string]chan struct{}

	samples   chan []int16 // guarded by mu
	srcClosed bool         // guarded by mu
	draining  atomic.Bool
}

const sampleWindowBuffer = 64

func New(cfg Config, hooks Hooks) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg:     cfg,
		hooks:   hooks,
		logger:  logging.NewComponentLogger(slog.Default(), "ws_transport"),
		acks:    make(map[string]chan struct{}),
		samples: make(chan []int16, sampleWindowBuffer),
	}
	t.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     t.checkOrigin,
	}
	return t
}

func (t *Transport) Name() string { return "ws_overlay" }

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range t.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Serve starts the HTTP server and blocks the listener goroutine until ctx
// is cancelled.
func (t *Transport) Serve(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("overlay server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops accepting overlays and closes the live connection.
func (t *Transport) Shutdown() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	return nil
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	t.mu.Lock()
	old := t.conn
	t.conn = conn
	t.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	t.logger.Info("overlay connected", slog.String("remote", r.RemoteAddr))

	defer func() {
		t.mu.Lock()
		if t.conn == conn {
			t.conn = nil
		}
		t.mu.Unlock()
		conn.Close()
		if t.hooks.OnDisconnect != nil {
			t.hooks.OnDisconnect()
		}
		t.logger.Info("overlay disconnected", slog.String("remote", r.RemoteAddr))
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var evt inboundEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if t.hooks.OnConnect != nil {
				t.hooks.OnConnect()
			}
		case "media":
			payload, err := base64.StdEncoding.DecodeString(evt.Payload)
			if err != nil {
				continue
			}
			t.pushSamples(payload)
		case "interrupt":
			if t.hooks.OnInterrupt != nil {
				t.hooks.OnInterrupt()
			}
		case "text":
			if t.hooks.OnText != nil && evt.Text != "" {
				t.hooks.OnText(evt.Text)
			}
		case "played":
			t.resolveAck(evt.Session, evt.Index)
		case "stop":
			return
		}
	}
}

func (t *Transport) pushSamples(payload []byte) {
	t.mu.Lock()
	closed, ch := t.srcClosed, t.samples
	t.mu.Unlock()
	if closed {
		return
	}
	window := media.AcquirePCM(len(payload) / 2)
	for i := range window {
		window[i] = int16(binary.LittleEndian.Uint16(payload[2*i : 2*i+2]))
	}
	select {
	case ch <- window:
	default:
		// Capture must never block the read loop; drop the window instead.
		media.ReleasePCM(window)
	}
}

// --- audio.Source ---

// Start re-arms the sample channel after a Close. The engine stops the
// service when the overlay disconnects, which closes this source; a
// reconnecting page then starts the service again and must get live capture,
// not a channel that was closed by the previous session.
func (t *Transport) Start(context.Context) error {
	t.mu.Lock()
	if t.srcClosed {
		t.samples = make(chan []int16, sampleWindowBuffer)
		t.srcClosed = false
	}
	t.mu.Unlock()
	return nil
}

func (t *Transport) Samples() <-chan []int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.samples
}

func (t *Transport) SampleRate() int { return t.cfg.SampleRate }

func (t *Transport) Close() error {
	t.mu.Lock()
	if !t.srcClosed {
		t.srcClosed = true
		close(t.samples)
	}
	t.mu.Unlock()
	return nil
}

// --- playback sink ---

// Play pushes one synthesized chunk to the overlay and blocks until the page
// acknowledges playback, ctx is cancelled, or the ack times out. Satisfies
// playback.PlayFunc.
func (t *Transport) Play(ctx context.Context, chunk media.AudioChunk) error {
	ack := make(chan struct{})
	key := ackKey(chunk.SessionID, chunk.Index)
	t.mu.Lock()
	t.acks[key] = ack
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.acks, key)
		t.mu.Unlock()
	}()

	err := t.send(outboundEvent{
		Event:   "audio",
		Session: chunk.SessionID,
		Index:   chunk.Index,
		Text:    chunk.Text,
		Payload: base64.StdEncoding.EncodeToString(chunk.Audio),
		MIME:    chunk.MIME,
		Viseme:  chunk.VisemeURL,
	})
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonTransportSend)
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		_ = t.send(outboundEvent{Event: "cancel", Session: chunk.SessionID, Index: chunk.Index})
		return ctx.Err()
	case <-time.After(t.cfg.AckTimeout):
		return errorsx.Wrap(fmt.Errorf("played ack timeout for chunk %d", chunk.Index), errorsx.ReasonPlayback)
	}
}

func (t *Transport) resolveAck(session string, index int) {
	t.mu.Lock()
	ack, ok := t.acks[ackKey(session, index)]
	t.mu.Unlock()
	if ok {
		select {
		case <-ack:
		default:
			close(ack)
		}
	}
}

func ackKey(session string, index int) string {
	return fmt.Sprintf("%s/%d", session, index)
}

// --- outbound notifications ---

// SendState mirrors each turn transition to the overlay UI.
func (t *Transport) SendState(change turn.StateChange) {
	_ = t.send(outboundEvent{
		Event:  "state",
		State:  change.ToState.String(),
		From:   change.FromState.String(),
		Reason: change.Reason,
	})
}

func (t *Transport) SendTranscript(text string) {
	_ = t.send(outboundEvent{Event: "transcript", Text: text})
}

func (t *Transport) SendAssistantChunk(chunk media.TextChunk) {
	_ = t.send(outboundEvent{Event: "assistant_chunk", Index: chunk.Index, Text: chunk.Text})
}

func (t *Transport) SendVolume(level float64) {
	_ = t.send(outboundEvent{Event: "volume", Level: level})
}

func (t *Transport) SendError(err error) {
	_ = t.send(outboundEvent{
		Event:  "error",
		Reason: string(errorsx.Reason(err)),
		Text:   err.Error(),
	})
}

func (t *Transport) send(evt outboundEvent) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return errors.New("no overlay connected")
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return conn.WriteJSON(evt)
}

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/auriskit/auris/pkg/media"
)

const captureFrames = 1024

// MicSource captures mono PCM windows from the default input device.
type MicSource struct {
	mu         sync.Mutex
	sampleRate int
	stream     *portaudio.Stream
	buf        []int16
	out        chan []int16
	cancel     context.CancelFunc
	closed     bool
	done       chan struct{}
}

func NewMicSource(sampleRate int) *MicSource {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &MicSource{
		sampleRate: sampleRate,
		buf:        make([]int16, captureFrames),
		out:        make(chan []int16, 8),
		done:       make(chan struct{}),
	}
}

func (m *MicSource) SampleRate() int { return m.sampleRate }

func (m *MicSource) Samples() <-chan []int16 { return m.out }

func (m *MicSource) Start(ctx context.Context) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), captureFrames, &m.buf)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.stream = stream
	m.cancel = cancel
	m.mu.Unlock()

	go m.loop(runCtx)
	return nil
}

func (m *MicSource) loop(ctx context.Context) {
	defer close(m.out)
	defer close(m.done)
	for ctx.Err() == nil {
		if err := m.stream.Read(); err != nil {
			return
		}
		window := media.AcquirePCM(len(m.buf))
		copy(window, m.buf)
		select {
		case m.out <- window:
		case <-ctx.Done():
			media.ReleasePCM(window)
			return
		}
	}
}

func (m *MicSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cancel := m.cancel
	stream := m.stream
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if stream != nil {
		_ = stream.Stop()
		err = stream.Close()
		<-m.done
	}
	portaudio.Terminate()
	return err
}

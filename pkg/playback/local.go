package playback

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
	mp3 "github.com/hajimehoshi/go-mp3"

	"github.com/auriskit/auris/pkg/media"
)

const playFrames = 1024

// LocalPlayer renders audio chunks on the default output device. It decodes
// MP3 chunks with go-mp3 and plays raw 16-bit PCM chunks directly.
type LocalPlayer struct {
	mu         sync.Mutex
	sampleRate int
	stream     *portaudio.Stream
	buf        []int16
}

// NewLocalPlayer initializes portaudio and opens the default output stream.
func NewLocalPlayer(sampleRate int) (*LocalPlayer, error) {
	if sampleRate <= 0 {
		sampleRate = 44100
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	p := &LocalPlayer{
		sampleRate: sampleRate,
		buf:        make([]int16, playFrames),
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), playFrames, &p.buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	p.stream = stream
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	return p, nil
}

// Play renders one chunk, blocking until done or ctx is cancelled.
func (p *LocalPlayer) Play(ctx context.Context, chunk media.AudioChunk) error {
	pcm, err := decodeChunk(chunk)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for off := 0; off < len(pcm); off += playFrames {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		end := off + playFrames
		if end > len(pcm) {
			end = len(pcm)
		}
		n := copy(p.buf, pcm[off:end])
		for i := n; i < playFrames; i++ {
			p.buf[i] = 0
		}
		if err := p.stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

func (p *LocalPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.stream != nil {
		_ = p.stream.Stop()
		err = p.stream.Close()
		p.stream = nil
	}
	portaudio.Terminate()
	return err
}

func decodeChunk(chunk media.AudioChunk) ([]int16, error) {
	if strings.Contains(chunk.MIME, "mpeg") || strings.Contains(chunk.MIME, "mp3") {
		return decodeMP3(chunk.Audio)
	}
	return bytesToPCM(chunk.Audio), nil
}

func decodeMP3(data []byte) ([]int16, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 read: %w", err)
	}
	// go-mp3 emits 16-bit stereo; fold to mono.
	stereo := bytesToPCM(raw)
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		l := int32(stereo[2*i])
		r := int32(stereo[2*i+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono, nil
}

func bytesToPCM(data []byte) []int16 {
	out := make([]int16, len(data)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[2*i : 2*i+2]))
	}
	return out
}

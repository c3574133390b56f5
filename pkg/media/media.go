package media

import (
	"sync"
	"time"
)

// Segment is one recorded user utterance: raw PCM between the first speech
// sample and the silence timeout that closed it. Consumed exactly once by
// transcription, then discarded.
type Segment struct {
	PCM        []int16
	SampleRate int
	Start      time.Time
	End        time.Time
}

// Duration is the audio length of the segment, derived from sample count.
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(s.PCM)) * time.Second / time.Duration(s.SampleRate)
}

// TextChunk is a sentence-bounded slice of a streamed response. Index is
// zero-based and strictly increasing within one generation session; the text
// is immutable once the chunk is created.
type TextChunk struct {
	Index int
	Text  string
}

// AudioChunk is the synthesized audio for one TextChunk. SessionID lets
// late async completions from a superseded session be detected and dropped.
type AudioChunk struct {
	SessionID string
	Index     int
	Text      string
	Audio     []byte
	MIME      string
	VisemeURL string
}

var pcmPool = sync.Pool{
	New: func() any {
		return make([]int16, 0, 4096)
	},
}

// AcquirePCM returns a pooled int16 buffer with at least the given length.
func AcquirePCM(size int) []int16 {
	b := pcmPool.Get().([]int16)
	if cap(b) < size {
		return make([]int16, size)
	}
	return b[:size]
}

// ReleasePCM returns a buffer to the pool.
func ReleasePCM(b []int16) {
	pcmPool.Put(b[:0])
}

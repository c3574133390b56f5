package aggregators

import (
	"strings"
	"sync"

	"github.com/auriskit/auris/pkg/media"
)

// DefaultMinChunkLen is the minimum trimmed length a chunk must reach before
// it is emitted; shorter candidates are merged forward instead of dropped.
const DefaultMinChunkLen = 3

// NextSentenceBoundary returns the index one past the first sentence boundary
// in s, if any. A boundary is sentence punctuation followed by whitespace, or
// a bare newline. The cut is inclusive of the punctuation or newline; text
// with no boundary yet (for example a decimal number mid-stream) is left to
// accumulate.
func NextSentenceBoundary(s string) (int, bool) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' {
			return i + 1, true
		}
		if c == '.' || c == '!' || c == '?' {
			if i+1 < len(s) {
				next := s[i+1]
				if next == ' ' || next == '\t' || next == '\n' {
					return i + 1, true
				}
			}
		}
	}
	return 0, false
}

// Splitter accumulates streamed response fragments and cuts them into
// sentence-bounded, index-ordered chunks. One Splitter serves exactly one
// generation session; chunks are never reordered and indices never repeat.
type Splitter struct {
	mu      sync.Mutex
	minLen  int
	buf     string
	scanPos int
	next    int
	full    strings.Builder
	flushed bool
}

func NewSplitter(minLen int) *Splitter {
	if minLen <= 0 {
		minLen = DefaultMinChunkLen
	}
	return &Splitter{minLen: minLen}
}

// Push appends one streamed fragment and returns any chunks completed by it.
// A candidate whose trimmed length is below the minimum stays in the buffer;
// the scan resumes past its boundary so it merges into the next sentence.
func (s *Splitter) Push(fragment string) []media.TextChunk {
	if fragment == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf += fragment
	s.full.WriteString(fragment)

	var out []media.TextChunk
	for {
		cut, ok := NextSentenceBoundary(s.buf[s.scanPos:])
		if !ok {
			break
		}
		end := s.scanPos + cut
		candidate := strings.TrimSpace(s.buf[:end])
		if len(candidate) < s.minLen {
			s.scanPos = end
			continue
		}
		out = append(out, media.TextChunk{Index: s.next, Text: candidate})
		s.next++
		s.buf = s.buf[end:]
		s.scanPos = 0
	}
	return out
}

// Flush emits the trailing remainder as a final chunk once the stream ends.
// The remainder is emitted even below the minimum length so that splitting
// loses no text; the speech pipeline applies its own minimum before
// generation. Flush is effective once per session.
func (s *Splitter) Flush() *media.TextChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flushed {
		return nil
	}
	s.flushed = true
	remainder := strings.TrimSpace(s.buf)
	s.buf = ""
	s.scanPos = 0
	if remainder == "" {
		return nil
	}
	chunk := &media.TextChunk{Index: s.next, Text: remainder}
	s.next++
	return chunk
}

// Full returns the entire accumulated response text.
func (s *Splitter) Full() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full.String()
}

// Count returns how many chunks have been emitted so far.
func (s *Splitter) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

package vad

import "time"

// TrackerEvent is the segmentation decision for one sample window.
type TrackerEvent int

const (
	// EventNone: no boundary crossed.
	EventNone TrackerEvent = iota
	// EventSpeechStart: first speech window after silence; open a segment.
	EventSpeechStart
	// EventSegmentEnd: contiguous silence exceeded the timeout while a
	// segment was open; close and submit it.
	EventSegmentEnd
)

// Tracker accumulates speech/silence runs in audio time (derived from sample
// counts, not wall clocks) so segmentation is deterministic and testable.
type Tracker struct {
	silenceTimeout time.Duration
	sampleRate     int

	open       bool
	silenceRun time.Duration
}

func NewTracker(silenceTimeout time.Duration, sampleRate int) *Tracker {
	if silenceTimeout <= 0 {
		silenceTimeout = 1500 * time.Millisecond
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Tracker{silenceTimeout: silenceTimeout, sampleRate: sampleRate}
}

// Observe consumes one window's classification and length, returning the
// segmentation event it triggers.
func (t *Tracker) Observe(speech bool, windowLen int) TrackerEvent {
	window := time.Duration(windowLen) * time.Second / time.Duration(t.sampleRate)
	if speech {
		t.silenceRun = 0
		if !t.open {
			t.open = true
			return EventSpeechStart
		}
		return EventNone
	}
	if !t.open {
		return EventNone
	}
	t.silenceRun += window
	if t.silenceRun >= t.silenceTimeout {
		t.open = false
		t.silenceRun = 0
		return EventSegmentEnd
	}
	return EventNone
}

// Open reports whether a segment is currently being recorded.
func (t *Tracker) Open() bool { return t.open }

// Reset clears any open segment state.
func (t *Tracker) Reset() {
	t.open = false
	t.silenceRun = 0
}

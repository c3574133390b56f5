package metrics

import "time"

// Event names recorded by the conversation engine.
const (
	EventSegmentClosed  = "segment_closed"
	EventTranscription  = "transcription"
	EventChunkEmitted   = "chunk_emitted"
	EventChunkGenerated = "chunk_generated"
	EventChunkPlayed    = "chunk_played"
	EventChunkDropped   = "chunk_dropped"
	EventFirstAudio     = "tts_first_audio"
	EventQueueDepth     = "queue_depth"
	EventBargeIn        = "barge_in"
	EventRateLimit      = "rate_limit"
	EventBreakerOpen    = "breaker_open"
	EventBreakerClose   = "breaker_close"
	EventBreakerDenied  = "breaker_denied"
)

type MetricsEvent struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

type Observer interface {
	RecordEvent(ev MetricsEvent)
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(MetricsEvent) {}

// Record is a convenience for tag-only events against a possibly-nil observer.
func Record(obs Observer, name string, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Tags: tags})
}

// RecordValue records a gauge-style event against a possibly-nil observer.
func RecordValue(obs Observer, name string, value float64, tags map[string]string) {
	if obs == nil {
		return
	}
	obs.RecordEvent(MetricsEvent{Name: name, Time: time.Now(), Value: value, Tags: tags})
}

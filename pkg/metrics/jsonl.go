package metrics

import (
	"context"
	"io"
	"log/slog"
)

// JSONLObserver writes one JSON line per event, suitable for offline latency
// analysis of a conversation session.
type JSONLObserver struct {
	logger *slog.Logger
}

func NewJSONLObserver(w io.Writer) *JSONLObserver {
	if w == nil {
		w = io.Discard
	}
	return &JSONLObserver{logger: slog.New(slog.NewJSONHandler(w, nil))}
}

func (o *JSONLObserver) RecordEvent(ev MetricsEvent) {
	// The event name becomes the log message so a session trace greps by
	// event (tts_first_audio, barge_in, queue_depth) without jq.
	attrs := []slog.Attr{
		slog.Time("time", ev.Time),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.logger.LogAttrs(context.TODO(), slog.LevelInfo, ev.Name, attrs...)
}

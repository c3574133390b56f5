package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/auriskit/auris/pkg/adapters/stt"
	"github.com/auriskit/auris/pkg/errorsx"
	"github.com/auriskit/auris/pkg/logging"
	"github.com/auriskit/auris/pkg/media"
	"github.com/auriskit/auris/pkg/metrics"
	"github.com/auriskit/auris/pkg/resilience"
	"github.com/auriskit/auris/pkg/vad"
)

// Callbacks deliver recorder events to the conversation layer. All callbacks
// are invoked from recorder goroutines.
type Callbacks struct {
	// OnRecordingStart fires when speech opens a new utterance segment.
	OnRecordingStart func()
	// OnRecordingStop fires when the silence timeout closes the segment.
	OnRecordingStop func(segment media.Segment)
	// OnTranscription delivers the transcript of a closed segment. Empty
	// transcripts are delivered too; the caller decides what they mean.
	OnTranscription func(text string, segment media.Segment)
	// OnVolume streams normalized volume (0..1) per capture window.
	OnVolume func(level float64)
	// OnError reports capture or transcription failures. The recorder keeps
	// running after transcription failures.
	OnError func(err error)
}

// RecorderConfig holds segmentation tunables.
type RecorderConfig struct {
	// VADThreshold is the RMS level separating speech from silence.
	VADThreshold float64
	// SilenceTimeout closes an open segment after this much contiguous
	// silence, measured in audio time.
	SilenceTimeout time.Duration
	// MaxSegment caps a single utterance; longer segments are force-closed.
	MaxSegment time.Duration
}

// Recorder monitors a capture source, segments speech with the VAD tracker,
// and transcribes each closed segment asynchronously so capture never stalls
// behind the network.
type Recorder struct {
	mu      sync.Mutex
	source  Source
	trans   stt.Transcriber
	det     vad.Detector
	tracker *vad.Tracker
	cfg     RecorderConfig
	retry   resilience.RetryPolicy
	obs     metrics.Observer
	logger  *slog.Logger

	cb      Callbacks
	cancel  context.CancelFunc
	running bool
	done    chan struct{}

	segment      []int16
	segmentStart time.Time
}

func NewRecorder(source Source, trans stt.Transcriber, cfg RecorderConfig, logger *slog.Logger, obs metrics.Observer) *Recorder {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = 1500 * time.Millisecond
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = 30 * time.Second
	}
	return &Recorder{
		source:  source,
		trans:   trans,
		det:     vad.NewDetector(cfg.VADThreshold),
		tracker: vad.NewTracker(cfg.SilenceTimeout, source.SampleRate()),
		cfg:     cfg,
		retry:   resilience.NewRetryPolicy(2, 300*time.Millisecond),
		obs:     obs,
		logger:  logging.NewComponentLogger(logger, "recorder"),
	}
}

// Start opens the capture source and begins monitoring. Returns an error with
// reason mic_unavailable when the device cannot be opened.
func (r *Recorder) Start(ctx context.Context, cb Callbacks) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cb = cb
	r.cancel = cancel
	r.running = true
	r.done = make(chan struct{})
	r.mu.Unlock()

	if err := r.source.Start(runCtx); err != nil {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
		cancel()
		return errorsx.Wrap(err, errorsx.ReasonMicUnavailable)
	}

	go r.monitor(runCtx)
	return nil
}

// Stop halts monitoring and discards any partially recorded segment.
// Safe to call repeatedly.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.cancel = nil
	done := r.done
	r.mu.Unlock()

	cancel()
	_ = r.source.Close()
	<-done
	r.tracker.Reset()
	r.segment = nil
}

// Running reports whether the recorder is monitoring the source.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Recorder) monitor(ctx context.Context) {
	defer close(r.done)
	rate := r.source.SampleRate()
	maxSamples := int(r.cfg.MaxSegment.Seconds() * float64(rate))

	for window := range r.source.Samples() {
		rms := vad.RMS(window)
		if r.cb.OnVolume != nil {
			r.cb.OnVolume(vad.Normalize(rms))
		}
		speech := r.det.IsSpeechLevel(rms)

		switch r.tracker.Observe(speech, len(window)) {
		case vad.EventSpeechStart:
			r.segment = r.segment[:0]
			r.segmentStart = time.Now()
			if r.cb.OnRecordingStart != nil {
				r.cb.OnRecordingStart()
			}
		case vad.EventSegmentEnd:
			r.closeSegment(ctx, rate)
		}

		if r.tracker.Open() {
			r.segment = append(r.segment, window...)
			if maxSamples > 0 && len(r.segment) >= maxSamples {
				r.tracker.Reset()
				r.closeSegment(ctx, rate)
			}
		}
		media.ReleasePCM(window)
	}
}

func (r *Recorder) closeSegment(ctx context.Context, rate int) {
	if len(r.segment) == 0 {
		return
	}
	pcm := make([]int16, len(r.segment))
	copy(pcm, r.segment)
	r.segment = r.segment[:0]
	seg := media.Segment{
		PCM:        pcm,
		SampleRate: rate,
		Start:      r.segmentStart,
		End:        time.Now(),
	}
	metrics.RecordValue(r.obs, metrics.EventSegmentClosed,
		seg.Duration().Seconds(), map[string]string{"provider": r.trans.Name()})
	if r.cb.OnRecordingStop != nil {
		r.cb.OnRecordingStop(seg)
	}
	go r.transcribe(ctx, seg)
}

func (r *Recorder) transcribe(ctx context.Context, seg media.Segment) {
	var text string
	err := r.retry.Do(ctx, func() error {
		var tErr error
		text, tErr = r.trans.Transcribe(ctx, seg)
		return tErr
	})
	if err != nil {
		if errorsx.IsCancelled(err) {
			return
		}
		wrapped := errorsx.Wrap(err, errorsx.ReasonTranscribe)
		r.logger.Error("segment transcription failed",
			slog.Duration("segment", seg.Duration()),
			slog.String("reason_code", string(errorsx.Reason(wrapped))),
			slog.String("error", err.Error()))
		if r.cb.OnError != nil {
			r.cb.OnError(wrapped)
		}
		return
	}
	metrics.Record(r.obs, metrics.EventTranscription,
		map[string]string{"provider": r.trans.Name()})
	if r.cb.OnTranscription != nil {
		r.cb.OnTranscription(text, seg)
	}
}

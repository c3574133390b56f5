package audio

import "context"

// Source produces fixed-size windows of 16-bit mono PCM from a capture
// device. The channel closes when the source stops.
type Source interface {
	// Start begins capture; Samples becomes live after it returns.
	Start(ctx context.Context) error
	// Samples yields capture windows. Each slice is owned by the receiver.
	Samples() <-chan []int16
	// SampleRate reports the capture rate in Hz.
	SampleRate() int
	// Close stops capture and closes the sample channel.
	Close() error
}

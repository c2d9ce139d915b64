package audioio

import (
	"io"
	"time"
)

// Buffer is a decoded, ready-to-play block of interleaved float32 samples.
type Buffer struct {
	Samples    []float32
	SampleRate int
	Channels   int
}

// Frames returns the number of sample frames (samples per channel).
func (b Buffer) Frames() int {
	if b.Channels <= 0 {
		return 0
	}
	return len(b.Samples) / b.Channels
}

// Duration returns how long the buffer plays for.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 || b.Channels <= 0 {
		return 0
	}
	return time.Duration(int64(b.Frames()) * int64(time.Second) / int64(b.SampleRate))
}

// Voice is one buffer placed on an Output.
type Voice interface {
	// Stop halts the buffer immediately, whether it is waiting or playing.
	// The buffer's end callback is not invoked after Stop. Safe to call
	// multiple times and after the buffer has ended.
	Stop()
}

// Output plays buffers at explicit times on a monotonic output clock.
type Output interface {
	// Now returns the current position of the output clock.
	Now() time.Duration

	// Play schedules buf to start at the given clock time. Times in the past
	// start immediately. onEnded, if not nil, is called once from another
	// goroutine when the buffer finishes playing naturally. It is never
	// called from within Play.
	Play(buf Buffer, at time.Duration, onEnded func()) (Voice, error)

	// Name returns the backend name (e.g., "oto", "mock").
	Name() string

	// Close stops every voice and releases the device.
	io.Closer
}

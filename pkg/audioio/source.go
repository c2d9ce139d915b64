package audioio

import (
	"context"
	"errors"
	"io"
)

// ErrPermission is returned by Source.Start when the input device is denied
// or unavailable.
var ErrPermission = errors.New("audioio: microphone permission denied or device unavailable")

// ErrClosed is returned when a closed device is used.
var ErrClosed = errors.New("audioio: device closed")

// Frame is one block of mono float32 samples in [-1, 1].
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start acquires the device and begins capture.
	// After calling Start, frames are available via Stream.
	Start(ctx context.Context) error

	// Stop halts capture and releases the device.
	// It is safe to call Stop multiple times.
	Stop() error

	// Stream returns the channel for the current capture run.
	// The channel is closed when the source is stopped.
	Stream() <-chan Frame

	// Config returns the current audio configuration.
	Config() Config

	// Name returns the backend name (e.g., "exec", "mock").
	Name() string

	// Close releases all resources.
	// After Close, the source cannot be restarted.
	io.Closer
}

// SourceStats contains statistics about the audio source.
type SourceStats struct {
	// FramesRead is the total number of frames delivered.
	FramesRead int64 `json:"frames_read"`

	// SamplesRead is the total number of samples delivered.
	SamplesRead int64 `json:"samples_read"`

	// Overruns is the number of frames dropped because the reader fell behind.
	Overruns int64 `json:"overruns"`

	// Running indicates if the source is currently capturing.
	Running bool `json:"running"`

	// Backend is the name of the audio backend.
	Backend string `json:"backend"`
}

// SourceWithStats extends Source with statistics.
type SourceWithStats interface {
	Source
	Stats() SourceStats
}

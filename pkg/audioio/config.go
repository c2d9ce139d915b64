// Package audioio provides audio capture and playback devices.
//
// This package supports multiple backends:
//   - Exec - capture from a command such as arecord or ffmpeg
//   - Oto - playback through github.com/ebitengine/oto/v3 (package otoout)
//   - Mock - CI/Testing without hardware
//
// Capture produces mono float32 frames. Playback schedules whole buffers
// against the output device's own clock so callers can place audio
// back-to-back without gaps.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendExec captures audio from an external command's stdout.
	BackendExec Backend = "exec"
	// BackendOto plays audio through oto. Registered by package otoout.
	BackendOto Backend = "oto"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Standard rates for the voice path.
const (
	CaptureRate  = 16000
	PlaybackRate = 24000
)

// Config holds audio device configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// FrameDuration is the capture block size.
	// Default: 20ms (320 samples at 16kHz)
	FrameDuration time.Duration `yaml:"frame_duration" json:"frame_duration"`

	// Command is the capture command for the exec backend. It must write
	// raw float32 little-endian samples to stdout.
	Command []string `yaml:"command" json:"command"`

	// StartTimeout bounds how long the exec backend waits for the first
	// frame before reporting the device as unavailable.
	StartTimeout time.Duration `yaml:"start_timeout" json:"start_timeout"`
}

// DefaultInputConfig returns the capture configuration for the voice path.
func DefaultInputConfig() Config {
	return Config{
		Backend:       BackendMock,
		SampleRate:    CaptureRate,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
		StartTimeout:  2 * time.Second,
	}
}

// DefaultOutputConfig returns the playback configuration for the voice path.
func DefaultOutputConfig() Config {
	return Config{
		Backend:       BackendMock,
		SampleRate:    PlaybackRate,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("frame_duration must be positive, got %v", c.FrameDuration)
	}
	if c.Backend == BackendExec && len(c.Command) == 0 {
		return fmt.Errorf("exec backend requires a command")
	}
	return nil
}

// FrameSize returns the number of samples per channel in one frame.
func (c *Config) FrameSize() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

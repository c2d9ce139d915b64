package session

import (
	"errors"
	"fmt"
	"time"
)

// Status is the controller's externally visible state.
type Status int

const (
	Idle Status = iota
	Starting
	Listening
	Speaking
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Listening:
		return "listening"
	case Speaking:
		return "speaking"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText renders the status name, so Snapshot encodes readably.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id,omitempty"`
	Since     time.Time `json:"since"`

	// Err is the failure behind the last Error or failed start.
	Err error `json:"-"`
}

// Stage names the step of Start that failed.
type Stage string

const (
	StageOutput     Stage = "output"
	StageMicrophone Stage = "microphone"
	StageConnect    Stage = "connect"
)

var (
	ErrClosed         = errors.New("session: controller closed")
	ErrNotIdle        = errors.New("session: already active")
	ErrStartCancelled = errors.New("session: start cancelled")
	ErrRemoteClosed   = errors.New("session: closed by remote")
)

// StartError reports a start that could not complete. Any resource acquired
// before the failure has been released.
type StartError struct {
	Stage Stage
	Err   error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("session: start failed at %s: %v", e.Stage, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// SessionError reports that an open session failed or was closed remotely.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session: remote session ended: %v", e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

// Stats counts traffic across every session of one controller.
type Stats struct {
	AudioSent        uint64 `json:"audio_sent"`
	AudioDropped     uint64 `json:"audio_dropped"`
	AudioReceived    uint64 `json:"audio_received"`
	AudioRejected    uint64 `json:"audio_rejected"`
	ToolCalls        uint64 `json:"tool_calls"`
	ResponsesSent    uint64 `json:"responses_sent"`
	ResponsesDropped uint64 `json:"responses_dropped"`
	Sessions         uint64 `json:"sessions"`
}

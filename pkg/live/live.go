package live

import (
	"context"
	"errors"
	"fmt"

	"github.com/teslashibe/go-stockroom/pkg/tools"
)

// Common errors returned by sessions.
var (
	ErrClosed        = errors.New("live: session closed")
	ErrMissingAPIKey = errors.New("live: missing API key")
	ErrNoAudio       = errors.New("live: response contained no audio")
)

// OutputMIMEType is the format of assistant audio: PCM16 mono at 24 kHz.
const OutputMIMEType = "audio/pcm;rate=24000"

// AudioChunk is one piece of assistant speech as raw PCM16 little-endian.
type AudioChunk struct {
	Data     []byte
	MIMEType string
}

// Event is one inbound message. Exactly one of the fields is set, except
// that a server message carrying several parts is split into several events
// in wire order.
type Event struct {
	ToolCalls    []tools.Request
	Audio        *AudioChunk
	Interrupted  bool
	TurnComplete bool
	Err          error
	Closed       bool
}

func (e Event) String() string {
	switch {
	case len(e.ToolCalls) > 0:
		return fmt.Sprintf("tool_calls(%d)", len(e.ToolCalls))
	case e.Audio != nil:
		return fmt.Sprintf("audio(%d bytes)", len(e.Audio.Data))
	case e.Interrupted:
		return "interrupted"
	case e.TurnComplete:
		return "turn_complete"
	case e.Err != nil:
		return "error: " + e.Err.Error()
	case e.Closed:
		return "closed"
	default:
		return "empty"
	}
}

// SessionConfig is sent once when the session opens.
type SessionConfig struct {
	Model        string
	Voice        string
	Instructions string
	Tools        []tools.Spec
}

// Session is one open bidirectional connection.
//
// Sends are fire-and-forget and safe for concurrent use. Events delivers
// inbound messages in order; after a remote error or close it yields an Err
// event (if any), then a Closed event, then the channel is closed. A local
// Close also ends the channel but is not guaranteed to emit Closed.
type Session interface {
	ID() string

	// SendAudio streams one chunk of microphone audio.
	SendAudio(pcm []byte, mimeType string) error

	// SendToolResponse answers a tool call by its id.
	SendToolResponse(resp tools.Response) error

	Events() <-chan Event

	// Close ends the session. It is idempotent.
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}

// Synthesizer renders text to speech in one non-streaming call. The result
// is PCM16 mono at 24 kHz.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context, cfg SessionConfig) (Session, error)

func (f ConnectorFunc) Connect(ctx context.Context, cfg SessionConfig) (Session, error) {
	return f(ctx, cfg)
}

// SynthesizerFunc adapts a function to Synthesizer.
type SynthesizerFunc func(ctx context.Context, text string) ([]byte, error)

func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return f(ctx, text)
}

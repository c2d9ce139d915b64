// Package livetest provides in-process fakes of the live session contract.
package livetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

// SentAudio records one SendAudio call.
type SentAudio struct {
	PCM      []byte
	MIMEType string
}

// Session is a scriptable live.Session. Tests push inbound events with the
// Push helpers and inspect what the engine sent.
type Session struct {
	id     string
	stream *live.Stream

	// produce serializes Push against Close so the channel is never closed
	// under a sender.
	produce sync.Mutex

	mu        sync.Mutex
	audio     []SentAudio
	responses []tools.Response
	closed    bool
	closes    int
	sendErr   error
}

// NewSession creates an open session with the given id.
func NewSession(id string) *Session {
	return &Session{id: id, stream: live.NewStream(64)}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Events() <-chan live.Event { return s.stream.Events() }

func (s *Session) SendAudio(pcm []byte, mimeType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.audio = append(s.audio, SentAudio{PCM: append([]byte(nil), pcm...), MIMEType: mimeType})
	return nil
}

func (s *Session) SendToolResponse(resp tools.Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrClosed
	}
	if s.sendErr != nil {
		return s.sendErr
	}
	s.responses = append(s.responses, resp)
	return nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	already := s.closed
	s.closed = true
	s.mu.Unlock()
	if already {
		return nil
	}

	s.stream.Abort()
	s.produce.Lock()
	defer s.produce.Unlock()
	s.stream.Finish(nil)
	return nil
}

// FailSends makes every later send return err.
func (s *Session) FailSends(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendErr = err
}

// Push delivers ev to the engine. It reports false once the session closed.
func (s *Session) Push(ev live.Event) bool {
	s.produce.Lock()
	defer s.produce.Unlock()
	if s.stream.Aborted() || s.Closed() {
		return false
	}
	return s.stream.Emit(ev)
}

// PushAudio delivers one assistant audio chunk.
func (s *Session) PushAudio(pcm []byte) bool {
	return s.Push(live.Event{Audio: &live.AudioChunk{Data: pcm, MIMEType: live.OutputMIMEType}})
}

// PushToolCalls delivers a batch of tool calls.
func (s *Session) PushToolCalls(calls ...tools.Request) bool {
	return s.Push(live.Event{ToolCalls: calls})
}

// PushInterrupted signals that the user talked over the assistant.
func (s *Session) PushInterrupted() bool {
	return s.Push(live.Event{Interrupted: true})
}

// End finishes the stream from the remote side, with err reported first
// when non-nil.
func (s *Session) End(err error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.produce.Lock()
	defer s.produce.Unlock()
	s.stream.Finish(err)
}

// Audio returns every chunk sent so far.
func (s *Session) Audio() []SentAudio {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SentAudio(nil), s.audio...)
}

// Responses returns every tool response sent so far.
func (s *Session) Responses() []tools.Response {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]tools.Response(nil), s.responses...)
}

// Closed reports whether Close or End ran.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Closes counts Close calls.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Connector hands out fake sessions and records every config it was given.
type Connector struct {
	mu       sync.Mutex
	err      error
	hold     chan struct{}
	sessions []*Session
	configs  []live.SessionConfig
	opened   chan *Session
}

// NewConnector creates a connector whose Connect succeeds immediately.
func NewConnector() *Connector {
	return &Connector{opened: make(chan *Session, 16)}
}

// FailWith makes later Connect calls return err.
func (c *Connector) FailWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

// Hold makes Connect block until Release or the context is done.
func (c *Connector) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hold = make(chan struct{})
}

// Release unblocks held Connect calls.
func (c *Connector) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hold != nil {
		close(c.hold)
		c.hold = nil
	}
}

func (c *Connector) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	c.mu.Lock()
	c.configs = append(c.configs, cfg)
	hold := c.hold
	err := c.err
	c.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	s := NewSession(fmt.Sprintf("fake-%d", len(c.sessions)+1))
	c.sessions = append(c.sessions, s)
	c.mu.Unlock()

	select {
	case c.opened <- s:
	default:
	}
	return s, nil
}

// Configs returns the config of every Connect call.
func (c *Connector) Configs() []live.SessionConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]live.SessionConfig(nil), c.configs...)
}

// Sessions returns every session opened so far.
func (c *Connector) Sessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Session(nil), c.sessions...)
}

// WaitSession returns the next opened session, or nil after timeout.
func (c *Connector) WaitSession(timeout time.Duration) *Session {
	select {
	case s := <-c.opened:
		return s
	case <-time.After(timeout):
		return nil
	}
}

// Synthesizer returns fixed PCM for every request.
type Synthesizer struct {
	mu    sync.Mutex
	pcm   []byte
	err   error
	texts []string
}

// NewSynthesizer creates a synthesizer returning pcm.
func NewSynthesizer(pcm []byte) *Synthesizer {
	return &Synthesizer{pcm: pcm}
}

// FailWith makes later calls return err.
func (s *Synthesizer) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts = append(s.texts, text)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.err != nil {
		return nil, s.err
	}
	return append([]byte(nil), s.pcm...), nil
}

// Texts returns every text synthesized so far.
func (s *Synthesizer) Texts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...)
}

// Eventually polls cond every few milliseconds until it holds or timeout
// passes.
func Eventually(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(2 * time.Millisecond)
	}
}

var (
	_ live.Session     = (*Session)(nil)
	_ live.Connector   = (*Connector)(nil)
	_ live.Synthesizer = (*Synthesizer)(nil)
)

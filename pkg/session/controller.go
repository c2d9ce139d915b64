// Package session runs the voice session state machine: it owns the
// microphone, the playback scheduler and the remote session for one user,
// and exposes Start, Stop, Toggle and the current Status.
//
// Every state change happens on a single loop goroutine. Device callbacks,
// inbound session events and finished tool calls are posted to that loop as
// events, so controller state needs no locking beyond the published
// Snapshot.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/capture"
	"github.com/teslashibe/go-stockroom/pkg/dispatch"
	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/metrics"
	"github.com/teslashibe/go-stockroom/pkg/playback"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

// Default settings.
const (
	DefaultGreetingSlack = time.Second
	eventBuffer          = 256
	subscriberBuffer     = 8
)

// Status messages.
const (
	msgReady     = "Ready."
	msgStarting  = "Starting session..."
	msgListening = "Listening..."
	msgSpeaking  = "Speaking..."
	msgStopped   = "Session stopped."
	msgMicLost   = "The microphone stopped. Start a new session to continue."
)

// Config wires a controller to its collaborators.
type Config struct {
	// Connector opens the remote session. Required.
	Connector live.Connector

	// Synthesizer renders the greeting. Nil skips the greeting.
	Synthesizer live.Synthesizer

	// Capture acquires the microphone on each start. Required.
	Capture *capture.Pipeline

	// OpenOutput returns a fresh output device on each start. Required.
	OpenOutput func() (audioio.Output, error)

	// Dispatcher answers tool calls. Required.
	Dispatcher *dispatch.Dispatcher

	// Session is sent when the session opens. Tools defaults to the
	// dispatcher's registry.
	Session live.SessionConfig

	// Greeting is spoken before the microphone opens.
	Greeting string

	// GreetingSlack bounds the wait for the greeting beyond its duration.
	GreetingSlack time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Controller is one voice session engine. At most one remote session is open
// per controller at any time.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	events    chan event
	quit      chan struct{}
	loopDone  chan struct{}
	closeOnce sync.Once

	// Owned by the loop goroutine.
	run    *run
	gen    uint64
	status Status

	snapMu sync.RWMutex
	snap   Snapshot

	subMu  sync.Mutex
	subs   map[uint64]chan Snapshot
	subSeq uint64

	stats counters
}

type counters struct {
	audioSent        atomic.Uint64
	audioDropped     atomic.Uint64
	audioReceived    atomic.Uint64
	audioRejected    atomic.Uint64
	toolCalls        atomic.Uint64
	responsesSent    atomic.Uint64
	responsesDropped atomic.Uint64
	sessions         atomic.Uint64
}

// run is one pass from Start to teardown.
type run struct {
	gen    uint64
	ctx    context.Context
	cancel context.CancelFunc

	// reply answers the pending Start call; nil once answered.
	reply chan error

	// worker is closed when the start worker returns.
	worker chan struct{}

	// res is nil until the start worker hands its resources over.
	res *resources
}

func (r *run) answer(err error) {
	if r.reply != nil {
		r.reply <- err
		r.reply = nil
	}
}

// resources are everything a running session holds.
type resources struct {
	scheduler *playback.Scheduler
	capture   *capture.Handle
	sess      live.Session
	sender    *sender
}

// release frees every acquired resource. Each step tolerates a resource
// that was never acquired.
func (r *resources) release(logger *slog.Logger) {
	if r == nil {
		return
	}
	if r.sender != nil {
		r.sender.disarm()
	}
	r.capture.Stop()
	if r.scheduler != nil {
		if err := r.scheduler.Shutdown(); err != nil {
			logger.Warn("close audio output", "error", err)
		}
	}
	if r.sess != nil {
		if err := r.sess.Close(); err != nil {
			logger.Debug("close live session", "error", err)
		}
	}
}

// New validates cfg and starts the controller loop.
func New(cfg Config) (*Controller, error) {
	switch {
	case cfg.Connector == nil:
		return nil, errors.New("session: connector is required")
	case cfg.Capture == nil:
		return nil, errors.New("session: capture pipeline is required")
	case cfg.OpenOutput == nil:
		return nil, errors.New("session: output opener is required")
	case cfg.Dispatcher == nil:
		return nil, errors.New("session: dispatcher is required")
	}
	if cfg.Session.Tools == nil {
		cfg.Session.Tools = cfg.Dispatcher.Registry().Specs()
	}
	if cfg.GreetingSlack <= 0 {
		cfg.GreetingSlack = DefaultGreetingSlack
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		events:   make(chan event, eventBuffer),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		subs:     make(map[uint64]chan Snapshot),
		snap:     Snapshot{Status: Idle, Message: msgReady, Since: time.Now()},
	}
	go c.loop()
	return c, nil
}

// Start opens a session: greeting, microphone, then the remote session.
// It returns once the session is listening, or with a *StartError after
// releasing whatever was acquired. If ctx ends first, the start is
// cancelled. The session itself outlives ctx.
func (c *Controller) Start(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.post(startReq{ctx: ctx, reply: reply}) {
		return ErrClosed
	}
	return c.awaitStart(ctx, reply)
}

func (c *Controller) awaitStart(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-c.loopDone:
		return ErrClosed
	case <-ctx.Done():
	}

	ack := make(chan (<-chan struct{}), 1)
	if c.post(abortStart{reply: reply, ack: ack}) {
		select {
		case wait := <-ack:
			if wait != nil {
				<-wait
			}
		case <-c.loopDone:
		}
	}
	select {
	case err := <-reply:
		if errors.Is(err, ErrStartCancelled) {
			return ctx.Err()
		}
		return err
	default:
		return ctx.Err()
	}
}

// Stop tears the session down and returns to Idle. Calling it while Idle
// is a no-op. A start in progress is cancelled and its Start call returns
// ErrStartCancelled.
func (c *Controller) Stop() error {
	ack := make(chan (<-chan struct{}), 1)
	if !c.post(stopReq{ack: ack}) {
		return ErrClosed
	}
	select {
	case wait := <-ack:
		if wait != nil {
			<-wait
		}
	case <-c.loopDone:
	}
	return nil
}

// Toggle stops a running session, or starts one when Idle.
func (c *Controller) Toggle(ctx context.Context) error {
	ack := make(chan toggleAck, 1)
	if !c.post(toggleReq{ctx: ctx, ack: ack}) {
		return ErrClosed
	}
	var a toggleAck
	select {
	case a = <-ack:
	case <-c.loopDone:
		return ErrClosed
	}
	if a.start != nil {
		return c.awaitStart(ctx, a.start)
	}
	if a.wait != nil {
		<-a.wait
	}
	return nil
}

// Status returns the current status.
func (c *Controller) Status() Status {
	return c.Snapshot().Status
}

// StatusMessage returns the human-readable status line.
func (c *Controller) StatusMessage() string {
	return c.Snapshot().Message
}

// Snapshot returns the current status with its message.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// Subscribe returns a channel of status snapshots, starting with the
// current one. Slow readers miss intermediate snapshots but always see the
// latest. Call cancel to unsubscribe.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)

	c.subMu.Lock()
	c.subSeq++
	id := c.subSeq
	c.subs[id] = ch
	ch <- c.Snapshot()
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[id]; ok {
				delete(c.subs, id)
				close(ch)
			}
		})
	}
}

// Stats returns traffic counters.
func (c *Controller) Stats() Stats {
	return Stats{
		AudioSent:        c.stats.audioSent.Load(),
		AudioDropped:     c.stats.audioDropped.Load(),
		AudioReceived:    c.stats.audioReceived.Load(),
		AudioRejected:    c.stats.audioRejected.Load(),
		ToolCalls:        c.stats.toolCalls.Load(),
		ResponsesSent:    c.stats.responsesSent.Load(),
		ResponsesDropped: c.stats.responsesDropped.Load(),
		Sessions:         c.stats.sessions.Load(),
	}
}

// Close stops any session and ends the loop. Subscriptions are closed.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		_ = c.Stop()
		close(c.quit)
		<-c.loopDone

		c.subMu.Lock()
		for id, ch := range c.subs {
			delete(c.subs, id)
			close(ch)
		}
		c.subMu.Unlock()
	})
	return nil
}

// Events handled by the loop.
type (
	event any

	startReq struct {
		ctx   context.Context
		reply chan error
	}
	stopReq struct {
		ack chan (<-chan struct{})
	}
	toggleReq struct {
		ctx context.Context
		ack chan toggleAck
	}
	abortStart struct {
		reply chan error
		ack   chan (<-chan struct{})
	}
	phaseEvent struct {
		gen    uint64
		status Status
	}
	startDone struct {
		gen      uint64
		res      *resources
		err      error
		accepted chan bool
	}
	inbound struct {
		gen uint64
		ev  live.Event
	}
	drainedEvent struct {
		gen uint64
	}
	toolResult struct {
		gen  uint64
		resp tools.Response
	}
	captureEnded struct {
		gen uint64
		err error
	}
)

type toggleAck struct {
	start chan error
	wait  <-chan struct{}
}

// post queues ev for the loop. It reports false once the controller closed.
func (c *Controller) post(ev event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.quit:
		return false
	}
}

func (c *Controller) loop() {
	defer close(c.loopDone)
	for {
		select {
		case ev := <-c.events:
			c.handle(ev)
		case <-c.quit:
			return
		}
	}
}

func (c *Controller) handle(ev event) {
	switch ev := ev.(type) {
	case startReq:
		c.handleStart(ev.ctx, ev.reply)
	case stopReq:
		ev.ack <- c.handleStop()
	case toggleReq:
		if c.run == nil {
			reply := make(chan error, 1)
			c.handleStart(ev.ctx, reply)
			ev.ack <- toggleAck{start: reply}
		} else {
			ev.ack <- toggleAck{wait: c.handleStop()}
		}
	case abortStart:
		if c.run != nil && c.run.reply == ev.reply {
			ev.ack <- c.handleStop()
		} else {
			ev.ack <- nil
		}
	case phaseEvent:
		if c.current(ev.gen) && c.status == Starting {
			c.setStatus(ev.status, msgListening, nil)
		}
	case startDone:
		c.handleStartDone(ev)
	case inbound:
		c.handleInbound(ev.gen, ev.ev)
	case drainedEvent:
		if c.live(ev.gen) && c.status == Speaking && c.run.res.scheduler.Active() == 0 {
			c.setStatus(Listening, msgListening, nil)
		}
	case toolResult:
		c.handleToolResult(ev)
	case captureEnded:
		if c.live(ev.gen) {
			c.fail(&SessionError{Err: ev.err})
		}
	default:
		c.logger.Error("unknown controller event", "type", fmt.Sprintf("%T", ev))
	}
}

// current reports whether gen is the run in progress.
func (c *Controller) current(gen uint64) bool {
	return c.run != nil && c.run.gen == gen
}

// live reports whether gen is the run in progress and its session is open.
func (c *Controller) live(gen uint64) bool {
	return c.current(gen) && c.run.res != nil
}

func (c *Controller) handleStart(ctx context.Context, reply chan error) {
	if c.run != nil {
		reply <- ErrNotIdle
		return
	}
	c.gen++
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{
		gen:    c.gen,
		ctx:    runCtx,
		cancel: cancel,
		reply:  reply,
		worker: make(chan struct{}),
	}
	c.run = r
	c.setStatus(Starting, msgStarting, nil)
	go c.startWorker(runCtx, r.gen, r.worker)
}

// handleStop tears down the current run. The returned channel closes once
// the start worker, if one was still running, has released its resources.
func (c *Controller) handleStop() <-chan struct{} {
	r := c.run
	if r == nil {
		return nil
	}
	c.run = nil
	r.cancel()
	r.answer(ErrStartCancelled)
	r.res.release(c.logger)
	c.setStatus(Idle, msgStopped, nil)
	return r.worker
}

func (c *Controller) handleStartDone(ev startDone) {
	if !c.current(ev.gen) {
		if ev.accepted != nil {
			ev.accepted <- false
		}
		return
	}
	r := c.run

	if ev.err != nil {
		c.run = nil
		r.cancel()
		var se *StartError
		if errors.As(ev.err, &se) {
			c.metrics.SessionFailed(string(se.Stage))
		}
		c.logger.Warn("session start failed", "error", ev.err)
		c.setStatus(Idle, startMessage(ev.err), ev.err)
		r.answer(ev.err)
		return
	}

	r.res = ev.res
	ev.accepted <- true
	c.stats.sessions.Add(1)
	c.metrics.SessionStarted()
	go c.pump(r.gen, ev.res.sess)
	go c.watchCapture(r.gen, ev.res.capture)

	c.setStatus(Listening, msgListening, nil)
	c.logger.Info("session started", "session_id", ev.res.sess.ID())
	r.answer(nil)
}

// pump forwards inbound session events to the loop.
func (c *Controller) pump(gen uint64, sess live.Session) {
	for ev := range sess.Events() {
		if !c.post(inbound{gen: gen, ev: ev}) {
			return
		}
	}
}

// watchCapture reports a microphone that went away mid-session.
func (c *Controller) watchCapture(gen uint64, h *capture.Handle) {
	<-h.Done()
	if err := h.Err(); err != nil {
		c.post(captureEnded{gen: gen, err: err})
	}
}

func (c *Controller) handleInbound(gen uint64, ev live.Event) {
	if !c.live(gen) {
		if ev.Audio != nil {
			c.stats.audioRejected.Add(1)
		}
		return
	}
	r := c.run

	switch {
	case len(ev.ToolCalls) > 0:
		// Dispatch outlives the run so pending calls still complete after
		// stop; their responses are dropped by handleToolResult.
		ctx := context.WithoutCancel(r.ctx)
		for _, req := range ev.ToolCalls {
			c.stats.toolCalls.Add(1)
			c.logger.Debug("tool call received", "call_id", req.ID, "tool", req.Name)
			c.cfg.Dispatcher.Go(ctx, req, func(resp tools.Response) {
				c.post(toolResult{gen: gen, resp: resp})
			})
		}

	case ev.Audio != nil:
		c.playAudio(r, ev.Audio)

	case ev.Interrupted:
		n := r.res.scheduler.Interrupt()
		c.metrics.PlaybackInterrupted(n)
		c.logger.Debug("playback interrupted", "stopped", n)
		if c.status == Speaking {
			c.setStatus(Listening, msgListening, nil)
		}

	case ev.TurnComplete:
		c.logger.Debug("turn complete")

	case ev.Err != nil:
		c.fail(&SessionError{Err: ev.Err})

	case ev.Closed:
		c.fail(&SessionError{Err: ErrRemoteClosed})
	}
}

func (c *Controller) playAudio(r *run, chunk *live.AudioChunk) {
	c.stats.audioReceived.Add(1)
	c.metrics.AudioReceived(len(chunk.Data))

	buf, err := decodeChunk(chunk)
	if err != nil {
		c.stats.audioRejected.Add(1)
		c.logger.Warn("dropping malformed audio chunk", "chunk_bytes", len(chunk.Data), "error", err)
		return
	}
	if _, err := r.res.scheduler.Enqueue(buf); err != nil {
		c.stats.audioRejected.Add(1)
		c.logger.Warn("schedule audio chunk", "error", err)
		return
	}
	if c.status == Listening {
		c.setStatus(Speaking, msgSpeaking, nil)
	}
}

func (c *Controller) handleToolResult(ev toolResult) {
	if !c.live(ev.gen) {
		c.stats.responsesDropped.Add(1)
		c.logger.Debug("dropping tool response for closed session", "call_id", ev.resp.ID, "tool", ev.resp.Name)
		return
	}
	if err := c.run.res.sess.SendToolResponse(ev.resp); err != nil {
		c.stats.responsesDropped.Add(1)
		c.logger.Warn("send tool response", "call_id", ev.resp.ID, "error", err)
		return
	}
	c.stats.responsesSent.Add(1)
}

// fail routes a session failure through Error and tears down to Idle.
func (c *Controller) fail(err *SessionError) {
	msg := "Session error: " + err.Err.Error()
	stage := "remote"
	switch {
	case errors.Is(err, ErrRemoteClosed):
		msg = "The voice service closed the session."
	case errors.Is(err, capture.ErrDeviceLost):
		msg = msgMicLost
		stage = string(StageMicrophone)
	}
	c.logger.Warn("live session ended", "error", err.Err)
	c.metrics.SessionFailed(stage)
	c.setStatus(Error, msg, err)

	r := c.run
	c.run = nil
	r.cancel()
	r.res.release(c.logger)
	c.setStatus(Idle, msg, err)
}

func (c *Controller) setStatus(s Status, msg string, err error) {
	prev := c.status
	c.status = s

	snap := Snapshot{Status: s, Message: msg, Since: time.Now(), Err: err}
	if c.run != nil && c.run.res != nil && c.run.res.sess != nil {
		snap.SessionID = c.run.res.sess.ID()
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()

	if prev != s {
		c.metrics.StatusChanged(s.String())
		c.logger.Info("status changed", "from", prev.String(), "to", s.String(), "message", msg)
	}
	c.broadcast(snap)
}

// broadcast delivers snap to every subscriber, replacing the oldest queued
// snapshot when a subscriber is full.
func (c *Controller) broadcast(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func startMessage(err error) string {
	var se *StartError
	if errors.As(err, &se) {
		switch se.Stage {
		case StageMicrophone:
			return "Microphone permission denied or no input device. Allow microphone access and try again."
		case StageOutput:
			return "Could not open the audio output: " + se.Err.Error()
		case StageConnect:
			return "Could not connect to the voice service: " + se.Err.Error()
		}
	}
	return "Could not start the session: " + err.Error()
}

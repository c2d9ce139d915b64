package session

import (
	"context"
	"strings"
	"time"

	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/codec"
	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/playback"
)

// startWorker acquires the run's resources off the loop and hands them over
// with startDone. On failure or cancellation it releases what it acquired
// before returning.
func (c *Controller) startWorker(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)

	res := &resources{}
	fail := func(stage Stage, err error) {
		res.release(c.logger)
		c.post(startDone{gen: gen, err: &StartError{Stage: stage, Err: err}})
	}

	out, err := c.cfg.OpenOutput()
	if err != nil {
		fail(StageOutput, err)
		return
	}
	res.scheduler = playback.New(out, c.logger.With("component", "playback"))

	c.greet(ctx, res.scheduler)
	if ctx.Err() != nil {
		res.release(c.logger)
		return
	}

	c.post(phaseEvent{gen: gen, status: Listening})
	res.scheduler.OnDrained(func() { c.post(drainedEvent{gen: gen}) })

	res.sender = &sender{
		sent:    &c.stats.audioSent,
		dropped: &c.stats.audioDropped,
		metrics: c.metrics,
		logger:  c.logger,
	}
	h, err := c.cfg.Capture.Start(ctx, res.sender.audio)
	if err != nil {
		fail(StageMicrophone, err)
		return
	}
	res.capture = h

	sess, err := c.cfg.Connector.Connect(ctx, c.cfg.Session)
	if err != nil {
		fail(StageConnect, err)
		return
	}
	res.sess = sess
	res.sender.arm(sess)

	accepted := make(chan bool, 1)
	if !c.post(startDone{gen: gen, res: res, accepted: accepted}) {
		res.release(c.logger)
		return
	}
	select {
	case ok := <-accepted:
		if ok {
			return
		}
	case <-c.quit:
	}
	res.release(c.logger)
}

// greet plays the greeting and waits for it to drain, bounded by its
// duration plus GreetingSlack. Failures are logged and start goes on.
func (c *Controller) greet(ctx context.Context, sched *playback.Scheduler) {
	if c.cfg.Synthesizer == nil || strings.TrimSpace(c.cfg.Greeting) == "" {
		return
	}

	pcm, err := c.cfg.Synthesizer.Synthesize(ctx, c.cfg.Greeting)
	if err != nil {
		if ctx.Err() == nil {
			c.logger.Warn("greeting synthesis failed", "error", err)
		}
		return
	}
	buf, err := codec.DecodeAudio(pcm, audioio.PlaybackRate, 1)
	if err != nil {
		c.logger.Warn("greeting audio malformed", "chunk_bytes", len(pcm), "error", err)
		return
	}
	if len(buf.Samples) == 0 {
		return
	}

	drained := make(chan struct{}, 1)
	sched.OnDrained(func() {
		select {
		case drained <- struct{}{}:
		default:
		}
	})
	if _, err := sched.Enqueue(buf); err != nil {
		c.logger.Warn("greeting playback failed", "error", err)
		return
	}

	timer := time.NewTimer(buf.Duration() + c.cfg.GreetingSlack)
	defer timer.Stop()
	select {
	case <-drained:
	case <-timer.C:
		c.logger.Warn("greeting still playing, continuing", "duration", buf.Duration())
	case <-ctx.Done():
	}
}

// decodeChunk turns inbound assistant audio into a playable buffer.
func decodeChunk(chunk *live.AudioChunk) (audioio.Buffer, error) {
	return codec.DecodeAudio(chunk.Data, audioio.PlaybackRate, 1)
}

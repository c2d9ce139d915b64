// Package otoout is an audioio.Output backed by github.com/ebitengine/oto/v3.
//
// oto allows one context per process, so the context is created on first use
// and shared. Each Output owns its own oto player and software mixer; closing
// an Output releases its player only. Importing this package registers the
// "oto" backend with audioio.NewOutput.
package otoout

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/codec"
)

func init() {
	audioio.RegisterOutput(audioio.BackendOto, func(cfg audioio.Config, logger *slog.Logger) (audioio.Output, error) {
		return New(cfg, logger)
	})
}

var (
	ctxOnce sync.Once
	ctxRate int
	otoCtx  *oto.Context
	ctxErr  error
)

func sharedContext(sampleRate int, buffer time.Duration) (*oto.Context, error) {
	ctxOnce.Do(func() {
		c, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   buffer,
		})
		if err != nil {
			ctxErr = fmt.Errorf("otoout: create context: %w", err)
			return
		}
		select {
		case <-ready:
			otoCtx, ctxRate = c, sampleRate
		case <-time.After(5 * time.Second):
			ctxErr = fmt.Errorf("otoout: audio context initialization timeout")
		}
	})
	if ctxErr != nil {
		return nil, ctxErr
	}
	if ctxRate != sampleRate {
		return nil, fmt.Errorf("otoout: context already open at %d Hz, requested %d Hz", ctxRate, sampleRate)
	}
	return otoCtx, nil
}

// Output mixes scheduled buffers into one mono oto player. Its clock is the
// number of frames the player has pulled.
type Output struct {
	logger *slog.Logger
	rate   int
	player *oto.Player

	mu     sync.Mutex
	pos    int64 // frames pulled so far
	voices map[*voice]struct{}
	closed bool
}

type voice struct {
	out     *Output
	start   int64
	samples []float32
	onEnded func()
	done    bool
}

// New opens a player on the shared oto context.
func New(cfg audioio.Config, logger *slog.Logger) (*Output, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audioio.PlaybackRate
	}
	buffer := cfg.FrameDuration
	if buffer <= 0 {
		buffer = 50 * time.Millisecond
	}

	c, err := sharedContext(cfg.SampleRate, buffer)
	if err != nil {
		return nil, err
	}

	o := newMixer(cfg.SampleRate, logger)
	o.player = c.NewPlayer(o)
	o.player.Play()

	logger.Info("oto output opened", "sample_rate", cfg.SampleRate, "buffer_ms", buffer.Milliseconds())
	return o, nil
}

func newMixer(rate int, logger *slog.Logger) *Output {
	return &Output{
		logger: logger,
		rate:   rate,
		voices: make(map[*voice]struct{}),
	}
}

// Now returns the mixer clock.
func (o *Output) Now() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.framesToDuration(o.pos)
}

func (o *Output) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames * int64(time.Second) / int64(o.rate))
}

func (o *Output) durationToFrames(d time.Duration) int64 {
	return int64(d) * int64(o.rate) / int64(time.Second)
}

// Play places buf on the mixer at the given clock time. Buffers at another
// rate or channel count are converted first.
func (o *Output) Play(buf audioio.Buffer, at time.Duration, onEnded func()) (audioio.Voice, error) {
	samples := audioio.Resample(audioio.Downmix(buf.Samples, buf.Channels), buf.SampleRate, o.rate)

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil, audioio.ErrClosed
	}

	start := o.durationToFrames(at)
	if start < o.pos {
		start = o.pos
	}
	v := &voice{out: o, start: start, samples: samples, onEnded: onEnded}
	o.voices[v] = struct{}{}
	return v, nil
}

// Read implements io.Reader for the oto player.
func (o *Output) Read(p []byte) (int, error) {
	frames := len(p) / codec.SampleWidth
	mix := make([]float32, frames)

	o.mu.Lock()
	from := o.pos
	to := from + int64(frames)
	var ended []*voice
	for v := range o.voices {
		end := v.start + int64(len(v.samples))
		if end <= from {
			ended = append(ended, v)
			continue
		}
		if v.start >= to {
			continue
		}
		lo := max(v.start, from)
		hi := min(end, to)
		for f := lo; f < hi; f++ {
			mix[f-from] += v.samples[f-v.start]
		}
		if end <= to {
			ended = append(ended, v)
		}
	}
	for _, v := range ended {
		v.done = true
		delete(o.voices, v)
	}
	o.pos = to
	o.mu.Unlock()

	n := copy(p, codec.FloatToPCM16(mix))

	for _, v := range ended {
		if v.onEnded != nil {
			go v.onEnded()
		}
	}
	return n, nil
}

// Stop removes the voice from the mixer without invoking its callback.
func (v *voice) Stop() {
	o := v.out
	o.mu.Lock()
	defer o.mu.Unlock()
	if v.done {
		return
	}
	v.done = true
	delete(o.voices, v)
}

// Name returns "oto".
func (o *Output) Name() string {
	return "oto"
}

// Close drops every voice and closes the player. Safe to call more than once.
func (o *Output) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	for v := range o.voices {
		v.done = true
		delete(o.voices, v)
	}
	o.mu.Unlock()

	if o.player != nil {
		if err := o.player.Close(); err != nil {
			return fmt.Errorf("otoout: close player: %w", err)
		}
	}
	o.logger.Debug("oto output closed")
	return nil
}

var _ audioio.Output = (*Output)(nil)

// Package capture streams microphone audio as 16 kHz PCM16 chunks.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/codec"
)

// MIMEType tags every outbound chunk.
const MIMEType = "audio/pcm;rate=16000"

// ErrDeviceLost reports that the input device ended its stream while the
// handle was still running.
var ErrDeviceLost = errors.New("capture: input device stopped")

// Chunk is one captured frame as PCM16 little-endian bytes.
type Chunk struct {
	PCM      []byte
	MIMEType string
	Seq      uint64
}

// Encoded returns the chunk in transport text form.
func (c Chunk) Encoded() string {
	return codec.Encode(c.PCM)
}

// Sink receives chunks in capture order on the capture goroutine. It must
// not block for long; there is no buffering in between.
type Sink func(Chunk)

// SourceOpener returns a fresh, unstarted input device.
type SourceOpener func() (audioio.Source, error)

// PermissionError reports that the microphone was denied or unavailable.
type PermissionError struct {
	Err error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("capture: microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// Pipeline opens an input device per Start and converts its frames.
type Pipeline struct {
	open   SourceOpener
	logger *slog.Logger
}

// New creates a pipeline that acquires devices from open.
func New(open SourceOpener, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{open: open, logger: logger}
}

// Handle is one running capture. Stop releases the device.
type Handle struct {
	src      audioio.Source
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	once     sync.Once
	chunks   atomic.Uint64
	stopping atomic.Bool
	lost     atomic.Bool
	logger   *slog.Logger
}

// Start acquires the microphone and begins delivering chunks to sink until
// the handle is stopped or ctx ends.
func (p *Pipeline) Start(ctx context.Context, sink Sink) (*Handle, error) {
	if sink == nil {
		return nil, fmt.Errorf("capture: nil sink")
	}

	src, err := p.open()
	if err != nil {
		return nil, &PermissionError{Err: err}
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := src.Start(runCtx); err != nil {
		cancel()
		_ = src.Close()
		return nil, &PermissionError{Err: err}
	}

	h := &Handle{
		src:    src,
		ctx:    runCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		logger: p.logger,
	}
	go h.run(src.Stream(), sink)

	p.logger.Info("capture started", "backend", src.Name(), "mime", MIMEType)
	return h, nil
}

func (h *Handle) run(frames <-chan audioio.Frame, sink Sink) {
	defer close(h.done)
	defer func() {
		if !h.stopping.Load() && h.ctx.Err() == nil {
			h.lost.Store(true)
			h.logger.Warn("capture: input stream ended", "backend", h.src.Name(), "chunks", h.chunks.Load())
		}
	}()

	for f := range frames {
		samples := f.Samples
		if f.SampleRate != 0 && f.SampleRate != audioio.CaptureRate {
			samples = audioio.Resample(samples, f.SampleRate, audioio.CaptureRate)
		}
		seq := h.chunks.Add(1)
		sink(Chunk{PCM: codec.FloatToPCM16(samples), MIMEType: MIMEType, Seq: seq})
	}
}

// Stop halts delivery and releases the microphone. It is idempotent and safe
// on a nil handle.
func (h *Handle) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		h.stopping.Store(true)
		_ = h.src.Stop()
		h.cancel()
		<-h.done
		if err := h.src.Close(); err != nil {
			h.logger.Warn("capture: close device", "error", err)
		}
		h.logger.Info("capture stopped", "chunks", h.chunks.Load())
	})
}

// Chunks returns how many chunks have been delivered.
func (h *Handle) Chunks() uint64 {
	if h == nil {
		return 0
	}
	return h.chunks.Load()
}

// Done is closed once chunk delivery has ended, whether by Stop, by the
// start context or by the device.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err returns ErrDeviceLost if the device ended the stream on its own. It
// is nil while running and after an orderly stop.
func (h *Handle) Err() error {
	if h.lost.Load() {
		return ErrDeviceLost
	}
	return nil
}

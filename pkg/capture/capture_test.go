package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-stockroom/internal/log"
	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/codec"
)

type collector struct {
	mu     sync.Mutex
	chunks []Chunk
	got    chan struct{}
}

func newCollector() *collector {
	return &collector{got: make(chan struct{}, 100)}
}

func (c *collector) sink(ch Chunk) {
	c.mu.Lock()
	c.chunks = append(c.chunks, ch)
	c.mu.Unlock()
	c.got <- struct{}{}
}

func (c *collector) wait(t *testing.T, n int) []Chunk {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-c.got:
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d chunks", i, n)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Chunk(nil), c.chunks...)
}

func TestStartDeliversInOrder(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultInputConfig(), log.Discard(), audioio.WithManualFrames())
	p := New(func() (audioio.Source, error) { return src, nil }, log.Discard())
	c := newCollector()

	h, err := p.Start(context.Background(), c.sink)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	src.Emit([]float32{0.5, -0.5})
	src.Emit([]float32{1})
	src.Emit([]float32{0})

	chunks := c.wait(t, 3)
	for i, ch := range chunks {
		if ch.Seq != uint64(i+1) {
			t.Errorf("chunk %d has seq %d", i, ch.Seq)
		}
		if ch.MIMEType != "audio/pcm;rate=16000" {
			t.Errorf("unexpected mime %q", ch.MIMEType)
		}
	}

	want := codec.FloatToPCM16([]float32{0.5, -0.5})
	if string(chunks[0].PCM) != string(want) {
		t.Errorf("chunk 0 PCM = %v, want %v", chunks[0].PCM, want)
	}
	if len(chunks[1].PCM) != 2 {
		t.Errorf("chunk 1 should be one sample, got %d bytes", len(chunks[1].PCM))
	}
	if chunks[0].Encoded() != codec.Encode(want) {
		t.Error("Encoded does not match codec.Encode")
	}
}

func TestStartPermissionDenied(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultInputConfig(), log.Discard(), audioio.WithDenied())
	p := New(func() (audioio.Source, error) { return src, nil }, log.Discard())

	h, err := p.Start(context.Background(), func(Chunk) {})
	var pe *PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
	if !errors.Is(err, audioio.ErrPermission) {
		t.Errorf("expected wrapped ErrPermission, got %v", err)
	}
	if h != nil {
		t.Error("expected nil handle")
	}

	// Stopping a nil handle is a no-op
	h.Stop()
}

func TestStartOpenFailure(t *testing.T) {
	p := New(func() (audioio.Source, error) { return nil, errors.New("no device") }, log.Discard())

	_, err := p.Start(context.Background(), func(Chunk) {})
	var pe *PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PermissionError, got %v", err)
	}
}

func TestStopReleasesDevice(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultInputConfig(), log.Discard(), audioio.WithManualFrames())
	p := New(func() (audioio.Source, error) { return src, nil }, log.Discard())
	c := newCollector()

	h, err := p.Start(context.Background(), c.sink)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.Emit([]float32{0.1})
	c.wait(t, 1)

	h.Stop()
	h.Stop()

	if src.Running() {
		t.Error("device still held after Stop")
	}
	if src.Emit([]float32{0.2}) {
		t.Error("frame accepted after Stop")
	}
	if h.Chunks() != 1 {
		t.Errorf("expected 1 chunk, got %d", h.Chunks())
	}
}

func TestResamplesForeignRate(t *testing.T) {
	cfg := audioio.DefaultInputConfig()
	cfg.SampleRate = 32000
	src := audioio.NewMockSource(cfg, log.Discard(), audioio.WithManualFrames())
	p := New(func() (audioio.Source, error) { return src, nil }, log.Discard())
	c := newCollector()

	h, err := p.Start(context.Background(), c.sink)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	src.Emit(make([]float32, 640))
	chunks := c.wait(t, 1)
	if len(chunks[0].PCM) != 320*2 {
		t.Errorf("expected 320 samples at 16 kHz, got %d bytes", len(chunks[0].PCM))
	}
}

func TestNilSink(t *testing.T) {
	p := New(func() (audioio.Source, error) { return nil, nil }, nil)
	if _, err := p.Start(context.Background(), nil); err == nil {
		t.Error("expected error for nil sink")
	}
}

func TestDeviceEndReported(t *testing.T) {
	src := audioio.NewMockSource(audioio.DefaultInputConfig(), log.Discard(), audioio.WithManualFrames())
	p := New(func() (audioio.Source, error) { return src, nil }, log.Discard())

	h, err := p.Start(context.Background(), func(Chunk) {})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer h.Stop()

	if h.Err() != nil {
		t.Fatalf("running handle reports %v", h.Err())
	}

	// The device closing its stream, not Stop, ends delivery.
	_ = src.Stop()

	select {
	case <-h.Done():
	case <-time.After(time.Second):
		t.Fatal("delivery did not end after device stopped")
	}
	if !errors.Is(h.Err(), ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost, got %v", h.Err())
	}
}

func TestStopIsNotDeviceLoss(t *testing.T) {
	var src *audioio.MockSource
	p := New(func() (audioio.Source, error) {
		src = audioio.NewMockSource(audioio.DefaultInputConfig(), log.Discard(), audioio.WithManualFrames())
		return src, nil
	}, log.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	h, err := p.Start(ctx, func(Chunk) {})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.Stop()
	<-h.Done()
	if h.Err() != nil {
		t.Errorf("Stop reported %v", h.Err())
	}

	h2, err := p.Start(ctx, func(Chunk) {})
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	defer h2.Stop()
	cancel()
	_ = src.Stop()
	<-h2.Done()
	if h2.Err() != nil {
		t.Errorf("cancelled start context reported %v", h2.Err())
	}
}

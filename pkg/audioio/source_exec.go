package audioio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ExecSource captures audio by running a command that writes raw float32
// little-endian samples to stdout, e.g.
//
//	arecord -q -t raw -f FLOAT_LE -r 16000 -c 1
//	ffmpeg -f avfoundation -i :0 -ac 1 -ar 16000 -f f32le -
//
// A command that cannot be launched, or that exits before producing its
// first frame, is reported as ErrPermission.
type ExecSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	streamCh chan Frame
	done     chan struct{}

	// Stats
	framesRead  atomic.Int64
	samplesRead atomic.Int64
	overruns    atomic.Int64
}

// NewExecSource creates a new exec-backed audio source.
func NewExecSource(cfg Config, logger *slog.Logger) *ExecSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 2 * time.Second
	}
	return &ExecSource{cfg: cfg, logger: logger}
}

// Start launches the capture command and waits for its first frame.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}
	if len(s.cfg.Command) == 0 {
		return fmt.Errorf("%w: no capture command configured", ErrPermission)
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, s.cfg.Command[0], s.cfg.Command[1:]...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("%w: %s: %v", ErrPermission, s.cfg.Command[0], err)
	}

	frameBytes := s.cfg.FrameSize() * s.cfg.Channels * 4
	first := make(chan error, 1)
	buf := make([]byte, frameBytes)
	go func() {
		_, err := io.ReadFull(stdout, buf)
		first <- err
	}()

	var firstErr error
	select {
	case firstErr = <-first:
	case <-time.After(s.cfg.StartTimeout):
		firstErr = errors.New("no audio within start timeout")
	case <-ctx.Done():
		firstErr = ctx.Err()
	}
	if firstErr != nil {
		cancel()
		_ = cmd.Wait()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = firstErr.Error()
		}
		return fmt.Errorf("%w: %s: %s", ErrPermission, s.cfg.Command[0], msg)
	}

	s.running = true
	s.cmd = cmd
	s.cancel = cancel
	s.streamCh = make(chan Frame, 10)
	s.done = make(chan struct{})

	go s.captureLoop(stdout, buf, s.streamCh, s.done)

	s.logger.Info("exec audio source started",
		"command", s.cfg.Command[0],
		"sample_rate", s.cfg.SampleRate,
		"frame_bytes", frameBytes,
	)

	return nil
}

func (s *ExecSource) captureLoop(stdout io.Reader, first []byte, ch chan Frame, done chan struct{}) {
	defer close(done)
	defer close(ch)

	buf := first
	for {
		samples := Downmix(Float32LEToSamples(buf), s.cfg.Channels)
		select {
		case ch <- Frame{Samples: samples, SampleRate: s.cfg.SampleRate}:
			s.framesRead.Add(1)
			s.samplesRead.Add(int64(len(samples)))
		default:
			s.overruns.Add(1)
			s.logger.Debug("exec source: buffer full, dropping frame")
		}

		buf = make([]byte, len(first))
		if _, err := io.ReadFull(stdout, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				s.logger.Debug("exec source: read ended", "error", err)
			}
			return
		}
	}
}

// Stop kills the capture command and waits for the reader to finish.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cmd, cancel, done := s.cmd, s.cancel, s.done
	s.cmd, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	<-done
	_ = cmd.Wait()

	s.logger.Info("exec audio source stopped")
	return nil
}

// Stream returns the frame channel for the current run.
func (s *ExecSource) Stream() <-chan Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Config returns the audio configuration.
func (s *ExecSource) Config() Config {
	return s.cfg
}

// Name returns "exec".
func (s *ExecSource) Name() string {
	return "exec"
}

// Close stops capture. The source cannot be restarted.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.Stop()
}

// Stats returns source statistics.
func (s *ExecSource) Stats() SourceStats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	return SourceStats{
		FramesRead:  s.framesRead.Load(),
		SamplesRead: s.samplesRead.Load(),
		Overruns:    s.overruns.Load(),
		Running:     running,
		Backend:     "exec",
	}
}

// Ensure ExecSource implements SourceWithStats.
var _ SourceWithStats = (*ExecSource)(nil)

// Package playback schedules decoded audio buffers back-to-back on an
// output clock and supports instant interruption.
package playback

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-stockroom/pkg/audioio"
)

// ErrShutdown is returned by Enqueue after Shutdown.
var ErrShutdown = errors.New("playback: scheduler shut down")

// Scheduled describes one enqueued buffer.
type Scheduled struct {
	ID       uint64
	Start    time.Duration
	Duration time.Duration
}

// Scheduler places each buffer at max(nextFree, now) so consecutive buffers
// neither overlap nor leave gaps.
type Scheduler struct {
	out    audioio.Output
	logger *slog.Logger

	mu        sync.Mutex
	nextFree  time.Duration
	seq       uint64
	active    map[uint64]audioio.Voice
	onDrained func()
	closed    bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a scheduler that owns out. Shutdown closes it.
func New(out audioio.Output, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		out:    out,
		logger: logger,
		active: make(map[uint64]audioio.Voice),
	}
}

// OnDrained sets the callback invoked when the last active buffer finishes
// naturally. It runs on the output's callback goroutine.
func (s *Scheduler) OnDrained(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrained = fn
}

// Enqueue schedules buf directly after everything already queued, or now if
// the queue has run dry.
func (s *Scheduler) Enqueue(buf audioio.Buffer) (Scheduled, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Scheduled{}, ErrShutdown
	}

	start := max(s.nextFree, s.out.Now())
	dur := buf.Duration()

	s.seq++
	id := s.seq
	// Play never invokes the callback synchronously, so mu may be held.
	v, err := s.out.Play(buf, start, func() { s.ended(id) })
	if err != nil {
		return Scheduled{}, err
	}

	s.active[id] = v
	s.nextFree = start + dur

	s.logger.Debug("playback scheduled", "id", id, "start", start, "duration", dur, "active", len(s.active))
	return Scheduled{ID: id, Start: start, Duration: dur}, nil
}

func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	if _, ok := s.active[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.active, id)
	var fn func()
	if len(s.active) == 0 {
		fn = s.onDrained
	}
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Interrupt stops every scheduled buffer, empties the active set and resets
// the queue so the next Enqueue starts now. It returns the number of buffers
// stopped. Buffers enqueued after Interrupt takes the lock are unaffected.
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	voices := s.active
	s.active = make(map[uint64]audioio.Voice)
	s.nextFree = 0
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
	if len(voices) > 0 {
		s.logger.Debug("playback interrupted", "stopped", len(voices))
	}
	return len(voices)
}

// Shutdown interrupts playback and closes the output. Idempotent.
func (s *Scheduler) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.onDrained = nil
		s.mu.Unlock()
		s.Interrupt()
		s.shutdownErr = s.out.Close()
	})
	return s.shutdownErr
}

// Active returns the number of buffers scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextFree returns the clock time at which the queue runs dry.
func (s *Scheduler) NextFree() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextFree
}

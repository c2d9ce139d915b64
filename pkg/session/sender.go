package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/teslashibe/go-stockroom/pkg/capture"
	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/metrics"
)

// sender forwards captured audio to whichever session is armed. It runs on
// the capture goroutine and never touches the controller loop, so stopping
// capture from the loop cannot deadlock against a pending chunk.
type sender struct {
	mu   sync.RWMutex
	sess live.Session

	sent    *atomic.Uint64
	dropped *atomic.Uint64
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func (s *sender) arm(sess live.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
}

func (s *sender) disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = nil
}

// audio is the capture sink.
func (s *sender) audio(c capture.Chunk) {
	s.mu.RLock()
	sess := s.sess
	s.mu.RUnlock()

	if sess == nil {
		s.dropped.Add(1)
		s.metrics.AudioDropped()
		return
	}
	if err := sess.SendAudio(c.PCM, c.MIMEType); err != nil {
		s.dropped.Add(1)
		s.metrics.AudioDropped()
		s.logger.Debug("audio send failed", "seq", c.Seq, "error", err)
		return
	}
	s.sent.Add(1)
	s.metrics.AudioSent(len(c.PCM))
}

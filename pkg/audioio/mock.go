package audioio

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource is a mock audio source for testing.
// It generates synthetic audio (silence or sine wave), or delivers frames
// pushed with Emit when created WithManualFrames.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Frame
	stopCh   chan struct{}

	// Stats
	framesRead   atomic.Int64
	samplesRead  atomic.Int64
	overruns     atomic.Int64
	acquisitions atomic.Int64

	denied bool
	manual bool

	// Synthetic audio generation
	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64 // 0.0 to 1.0
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithDenied makes Start fail with ErrPermission.
func WithDenied() MockSourceOption {
	return func(m *MockSource) {
		m.denied = true
	}
}

// WithManualFrames disables the internal ticker; frames only arrive via Emit.
func WithManualFrames() MockSourceOption {
	return func(m *MockSource) {
		m.manual = true
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = CaptureRate
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	if cfg.FrameDuration == 0 {
		cfg.FrameDuration = 20 * time.Millisecond
	}

	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		amplitude: 0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.denied {
		return ErrPermission
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.streamCh = make(chan Frame, 10)
	m.acquisitions.Add(1)

	if !m.manual {
		go m.generateLoop(ctx, m.streamCh, m.stopCh)
	}

	m.logger.Debug("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
		"manual", m.manual,
	)

	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, ch chan Frame, stopCh chan struct{}) {
	ticker := time.NewTicker(m.cfg.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.stopRun(ch)
			return
		case <-stopCh:
			return
		case <-ticker.C:
			m.deliver(ch, m.generateFrame())
		}
	}
}

// deliver hands f to the run that owns ch. Frames for a stopped run are
// discarded. A full channel counts as an overrun.
func (m *MockSource) deliver(ch chan Frame, f Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.streamCh != ch {
		return false
	}
	select {
	case ch <- f:
		m.framesRead.Add(1)
		m.samplesRead.Add(int64(len(f.Samples)))
		return true
	default:
		m.overruns.Add(1)
		m.logger.Debug("mock source: buffer full, dropping frame")
		return false
	}
}

func (m *MockSource) generateFrame() Frame {
	size := m.cfg.FrameSize()
	samples := make([]float32, size*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < size; i++ {
			s := float32(m.amplitude * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = s
			}

			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return Frame{Samples: samples, SampleRate: m.cfg.SampleRate}
}

// Emit pushes one frame to the current run. It reports whether the frame
// was accepted.
func (m *MockSource) Emit(samples []float32) bool {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()

	return m.deliver(ch, Frame{Samples: samples, SampleRate: m.cfg.SampleRate})
}

// Stop halts audio generation.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	ch := m.streamCh
	m.mu.Unlock()

	m.stopRun(ch)
	return nil
}

func (m *MockSource) stopRun(ch chan Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.streamCh != ch {
		return
	}

	m.running = false
	close(m.stopCh)
	close(m.streamCh)

	m.logger.Debug("mock audio source stopped")
}

// Stream returns the frame channel for the current run.
func (m *MockSource) Stream() <-chan Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCh
}

// Config returns the audio configuration.
func (m *MockSource) Config() Config {
	return m.cfg
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close releases resources.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	return m.Stop()
}

// Running reports whether the device is currently held.
func (m *MockSource) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Acquisitions returns how many times Start acquired the device.
func (m *MockSource) Acquisitions() int64 {
	return m.acquisitions.Load()
}

// Stats returns source statistics.
func (m *MockSource) Stats() SourceStats {
	return SourceStats{
		FramesRead:  m.framesRead.Load(),
		SamplesRead: m.samplesRead.Load(),
		Overruns:    m.overruns.Load(),
		Running:     m.Running(),
		Backend:     "mock",
	}
}

// Ensure MockSource implements SourceWithStats.
var _ SourceWithStats = (*MockSource)(nil)

// Played records one Play call on a MockOutput.
type Played struct {
	// At is the requested start time.
	At time.Duration
	// Start is when the buffer actually began (At, or the clock if At had passed).
	Start    time.Duration
	Duration time.Duration
	Samples  int
}

// MockOutput is an Output for tests. By default its clock only moves when
// Advance is called, and buffers end during Advance. WithRealtimeClock makes
// it follow the wall clock and end buffers from timers.
type MockOutput struct {
	mu       sync.Mutex
	realtime bool
	epoch    time.Time
	now      time.Duration
	voices   map[*mockVoice]struct{}
	played   []Played
	stops    int
	closed   bool
}

// MockOutputOption configures a MockOutput.
type MockOutputOption func(*MockOutput)

// WithRealtimeClock drives the mock from the wall clock.
func WithRealtimeClock() MockOutputOption {
	return func(m *MockOutput) {
		m.realtime = true
	}
}

// WithClock sets the initial manual clock position.
func WithClock(now time.Duration) MockOutputOption {
	return func(m *MockOutput) {
		m.now = now
	}
}

// NewMockOutput creates a new mock output.
func NewMockOutput(opts ...MockOutputOption) *MockOutput {
	m := &MockOutput{
		epoch:  time.Now(),
		voices: make(map[*mockVoice]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type mockVoice struct {
	out     *MockOutput
	end     time.Duration
	onEnded func()
	timer   *time.Timer
	done    bool
}

// Now returns the output clock.
func (m *MockOutput) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowLocked()
}

func (m *MockOutput) nowLocked() time.Duration {
	if m.realtime {
		return time.Since(m.epoch)
	}
	return m.now
}

// Play records buf and arranges for onEnded at its end time.
func (m *MockOutput) Play(buf Buffer, at time.Duration, onEnded func()) (Voice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}

	now := m.nowLocked()
	start := at
	if start < now {
		start = now
	}
	dur := buf.Duration()

	v := &mockVoice{out: m, end: start + dur, onEnded: onEnded}
	m.voices[v] = struct{}{}
	m.played = append(m.played, Played{At: at, Start: start, Duration: dur, Samples: len(buf.Samples)})

	if m.realtime {
		v.timer = time.AfterFunc(v.end-now, v.finish)
	}

	return v, nil
}

// Advance moves the manual clock forward and ends every buffer whose end
// time has been reached, in end-time order.
func (m *MockOutput) Advance(d time.Duration) {
	m.mu.Lock()
	m.now += d
	var ended []*mockVoice
	for v := range m.voices {
		if v.end <= m.now {
			ended = append(ended, v)
		}
	}
	sort.Slice(ended, func(i, j int) bool { return ended[i].end < ended[j].end })
	for _, v := range ended {
		v.done = true
		delete(m.voices, v)
	}
	m.mu.Unlock()

	for _, v := range ended {
		if v.onEnded != nil {
			v.onEnded()
		}
	}
}

func (v *mockVoice) finish() {
	m := v.out
	m.mu.Lock()
	if v.done {
		m.mu.Unlock()
		return
	}
	v.done = true
	delete(m.voices, v)
	m.mu.Unlock()

	if v.onEnded != nil {
		v.onEnded()
	}
}

// Stop halts the voice without invoking its callback.
func (v *mockVoice) Stop() {
	m := v.out
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked(v)
}

func (m *MockOutput) stopLocked(v *mockVoice) {
	if v.done {
		return
	}
	v.done = true
	delete(m.voices, v)
	m.stops++
	if v.timer != nil {
		v.timer.Stop()
	}
}

// Played returns every Play call so far.
func (m *MockOutput) Played() []Played {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Played(nil), m.played...)
}

// Active returns the number of voices that have neither ended nor stopped.
func (m *MockOutput) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Stops returns how many voices were stopped early.
func (m *MockOutput) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Closed reports whether Close has been called.
func (m *MockOutput) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Name returns "mock".
func (m *MockOutput) Name() string {
	return "mock"
}

// Close stops all voices. Safe to call more than once.
func (m *MockOutput) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for v := range m.voices {
		m.stopLocked(v)
	}
	return nil
}

// Ensure MockOutput implements Output.
var _ Output = (*MockOutput)(nil)

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-stockroom/internal/log"
	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/capture"
	"github.com/teslashibe/go-stockroom/pkg/codec"
	"github.com/teslashibe/go-stockroom/pkg/dispatch"
	"github.com/teslashibe/go-stockroom/pkg/inventory"
	"github.com/teslashibe/go-stockroom/pkg/live/livetest"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

const wait = 2 * time.Second

// harness wires a controller to fakes and records every device it opened.
type harness struct {
	t     *testing.T
	ctrl  *Controller
	conn  *livetest.Connector
	synth *livetest.Synthesizer

	mu      sync.Mutex
	denied  bool
	sources []*audioio.MockSource
	outputs []*audioio.MockOutput
}

type option func(*harness, *Config)

func withGreeting(pcm []byte) option {
	return func(h *harness, cfg *Config) {
		h.synth = livetest.NewSynthesizer(pcm)
		cfg.Synthesizer = h.synth
		cfg.Greeting = "Hello from the stockroom."
	}
}

func withStore(store inventory.Store) option {
	return func(h *harness, cfg *Config) {
		d, err := dispatch.New(dispatch.Config{Store: store, UserID: "u1", Logger: log.Discard()})
		if err != nil {
			h.t.Fatal(err)
		}
		cfg.Dispatcher = d
	}
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	h := &harness{t: t, conn: livetest.NewConnector()}

	d, err := dispatch.New(dispatch.Config{
		Store:  inventory.NewService(inventory.NewMemoryRepository()),
		UserID: "u1",
		Logger: log.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}

	cfg := Config{
		Connector:  h.conn,
		Dispatcher: d,
		Capture:    capture.New(h.openSource, log.Discard()),
		OpenOutput: h.openOutput,
		Logger:     log.Discard(),
	}
	cfg.Session.Model = "gemini-test"
	cfg.Session.Voice = "Puck"
	for _, opt := range opts {
		opt(h, &cfg)
	}

	h.ctrl, err = New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.ctrl.Close() })
	return h
}

func (h *harness) openSource() (audioio.Source, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	opts := []audioio.MockSourceOption{audioio.WithManualFrames()}
	if h.denied {
		opts = append(opts, audioio.WithDenied())
	}
	src := audioio.NewMockSource(audioio.DefaultInputConfig(), log.Discard(), opts...)
	h.sources = append(h.sources, src)
	return src, nil
}

func (h *harness) openOutput() (audioio.Output, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := audioio.NewMockOutput()
	h.outputs = append(h.outputs, out)
	return out, nil
}

func (h *harness) source(i int) *audioio.MockSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.sources) {
		h.t.Fatalf("source %d not opened (have %d)", i, len(h.sources))
	}
	return h.sources[i]
}

func (h *harness) output(i int) *audioio.MockOutput {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i >= len(h.outputs) {
		h.t.Fatalf("output %d not opened (have %d)", i, len(h.outputs))
	}
	return h.outputs[i]
}

func (h *harness) sourceCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sources)
}

func (h *harness) start() *livetest.Session {
	h.t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		h.t.Fatalf("Start failed: %v", err)
	}
	sessions := h.conn.Sessions()
	return sessions[len(sessions)-1]
}

func (h *harness) waitStatus(want Status) {
	h.t.Helper()
	if !livetest.Eventually(func() bool { return h.ctrl.Status() == want }, wait) {
		h.t.Fatalf("status = %s, want %s (%q)", h.ctrl.Status(), want, h.ctrl.StatusMessage())
	}
}

// pcm returns d of silent 24 kHz PCM16.
func pcm(d time.Duration) []byte {
	return make([]byte, int(int64(d)*audioio.PlaybackRate/int64(time.Second))*codec.SampleWidth)
}

func TestStopWithoutStart(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if h.ctrl.Status() != Idle {
		t.Errorf("expected Idle, got %s", h.ctrl.Status())
	}
	if h.ctrl.StatusMessage() != msgReady {
		t.Errorf("expected ready message, got %q", h.ctrl.StatusMessage())
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	if h.ctrl.Status() != Listening {
		t.Fatalf("expected Listening after Start, got %s", h.ctrl.Status())
	}
	if got := h.ctrl.Snapshot().SessionID; got != sess.ID() {
		t.Errorf("snapshot session id = %q, want %q", got, sess.ID())
	}

	cfgs := h.conn.Configs()
	if len(cfgs) != 1 {
		t.Fatalf("expected one connect, got %d", len(cfgs))
	}
	if cfgs[0].Model != "gemini-test" || len(cfgs[0].Tools) != 4 {
		t.Errorf("unexpected session config %+v", cfgs[0])
	}
	if !h.source(0).Running() {
		t.Error("microphone should be held while listening")
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if h.ctrl.Status() != Idle {
		t.Errorf("expected Idle after Stop, got %s", h.ctrl.Status())
	}
	if h.source(0).Running() {
		t.Error("microphone should be released after Stop")
	}
	if !h.output(0).Closed() {
		t.Error("output should be closed after Stop")
	}
	if !sess.Closed() {
		t.Error("session should be closed after Stop")
	}

	// Stop is idempotent.
	if err := h.ctrl.Stop(); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}
	if h.ctrl.Stats().Sessions != 1 {
		t.Errorf("expected 1 session, got %d", h.ctrl.Stats().Sessions)
	}
}

func TestStartWhileActive(t *testing.T) {
	h := newHarness(t)
	h.start()

	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrNotIdle) {
		t.Fatalf("expected ErrNotIdle, got %v", err)
	}
	if len(h.conn.Sessions()) != 1 {
		t.Errorf("second Start must not open a session")
	}
}

func TestRestartAcquiresFreshDevices(t *testing.T) {
	h := newHarness(t)
	h.start()
	h.ctrl.Stop()
	h.start()

	if h.sourceCount() != 2 {
		t.Fatalf("expected a fresh microphone per start, got %d", h.sourceCount())
	}
	if h.source(0).Running() || !h.source(1).Running() {
		t.Error("only the second microphone should be held")
	}
	if !h.output(0).Closed() || h.output(1).Closed() {
		t.Error("only the second output should be open")
	}
}

func TestPermissionDenied(t *testing.T) {
	h := newHarness(t)
	h.denied = true

	err := h.ctrl.Start(context.Background())

	var se *StartError
	if !errors.As(err, &se) || se.Stage != StageMicrophone {
		t.Fatalf("expected microphone StartError, got %v", err)
	}
	var pe *capture.PermissionError
	if !errors.As(err, &pe) {
		t.Errorf("expected wrapped PermissionError, got %v", err)
	}
	if !errors.Is(err, audioio.ErrPermission) {
		t.Errorf("expected audioio.ErrPermission in chain, got %v", err)
	}

	if h.ctrl.Status() != Idle {
		t.Errorf("expected Idle after denial, got %s", h.ctrl.Status())
	}
	if !strings.Contains(h.ctrl.StatusMessage(), "Microphone") {
		t.Errorf("expected microphone message, got %q", h.ctrl.StatusMessage())
	}
	if !errors.As(h.ctrl.Snapshot().Err, &se) {
		t.Errorf("snapshot should carry the StartError, got %v", h.ctrl.Snapshot().Err)
	}
	if !h.output(0).Closed() {
		t.Error("output acquired before the microphone should be released")
	}
	if len(h.conn.Configs()) != 0 {
		t.Error("no session should be opened without a microphone")
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Errorf("Stop after failed start: %v", err)
	}
	if h.ctrl.Status() != Idle {
		t.Errorf("expected Idle, got %s", h.ctrl.Status())
	}
}

func TestConnectFailure(t *testing.T) {
	h := newHarness(t)
	h.conn.FailWith(errors.New("handshake refused"))

	err := h.ctrl.Start(context.Background())

	var se *StartError
	if !errors.As(err, &se) || se.Stage != StageConnect {
		t.Fatalf("expected connect StartError, got %v", err)
	}
	if h.ctrl.Status() != Idle {
		t.Errorf("expected Idle, got %s", h.ctrl.Status())
	}
	if !strings.Contains(h.ctrl.StatusMessage(), "handshake refused") {
		t.Errorf("message should carry the cause, got %q", h.ctrl.StatusMessage())
	}
	if h.source(0).Running() {
		t.Error("microphone should be released after connect failure")
	}
	if !h.output(0).Closed() {
		t.Error("output should be released after connect failure")
	}
}

func TestCaptureForwardsPCM(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	if !h.source(0).Emit([]float32{0.5, -0.5}) {
		t.Fatal("Emit rejected")
	}
	if !livetest.Eventually(func() bool { return len(sess.Audio()) == 1 }, wait) {
		t.Fatalf("expected one chunk sent, got %d", len(sess.Audio()))
	}

	got := sess.Audio()[0]
	if got.MIMEType != capture.MIMEType {
		t.Errorf("mime = %q, want %q", got.MIMEType, capture.MIMEType)
	}
	want := []byte{0x00, 0x40, 0x00, 0xC0}
	if string(got.PCM) != string(want) {
		t.Errorf("pcm = %v, want %v", got.PCM, want)
	}
	if !livetest.Eventually(func() bool { return h.ctrl.Stats().AudioSent == 1 }, wait) {
		t.Errorf("expected 1 chunk counted, got %d", h.ctrl.Stats().AudioSent)
	}
}

func TestAudioSchedulesGaplessAndDrains(t *testing.T) {
	h := newHarness(t)
	sess := h.start()
	out := h.output(0)

	sess.PushAudio(pcm(100 * time.Millisecond))
	sess.PushAudio(pcm(50 * time.Millisecond))

	h.waitStatus(Speaking)
	if !livetest.Eventually(func() bool { return len(out.Played()) == 2 }, wait) {
		t.Fatalf("expected 2 buffers played, got %d", len(out.Played()))
	}

	played := out.Played()
	if played[1].At != played[0].At+played[0].Duration {
		t.Errorf("second buffer at %v, want %v", played[1].At, played[0].At+played[0].Duration)
	}

	out.Advance(100 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	if h.ctrl.Status() != Speaking {
		t.Errorf("should keep speaking while audio remains, got %s", h.ctrl.Status())
	}

	out.Advance(50 * time.Millisecond)
	h.waitStatus(Listening)
}

func TestInterruptStopsPlayback(t *testing.T) {
	h := newHarness(t)
	sess := h.start()
	out := h.output(0)

	sess.PushAudio(pcm(200 * time.Millisecond))
	sess.PushAudio(pcm(200 * time.Millisecond))
	h.waitStatus(Speaking)
	if !livetest.Eventually(func() bool { return out.Active() == 2 }, wait) {
		t.Fatalf("expected 2 active voices, got %d", out.Active())
	}

	out.Advance(50 * time.Millisecond)
	sess.PushInterrupted()
	h.waitStatus(Listening)

	if out.Active() != 0 {
		t.Errorf("expected no active voices after interrupt, got %d", out.Active())
	}
	if out.Stops() != 2 {
		t.Errorf("expected 2 stopped voices, got %d", out.Stops())
	}

	sess.PushAudio(pcm(100 * time.Millisecond))
	if !livetest.Eventually(func() bool { return len(out.Played()) == 3 }, wait) {
		t.Fatal("expected a third buffer after interrupt")
	}
	if got := out.Played()[2].At; got != 50*time.Millisecond {
		t.Errorf("post-interrupt buffer at %v, want the interruption time 50ms", got)
	}
	h.waitStatus(Speaking)
}

func TestMalformedAudioDropped(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	sess.PushAudio([]byte{1, 2, 3})
	if !livetest.Eventually(func() bool { return h.ctrl.Stats().AudioRejected == 1 }, wait) {
		t.Fatalf("expected the odd-length chunk to be rejected, stats %+v", h.ctrl.Stats())
	}
	if h.ctrl.Status() != Listening {
		t.Errorf("malformed audio must not change status, got %s", h.ctrl.Status())
	}

	sess.PushAudio(pcm(20 * time.Millisecond))
	h.waitStatus(Speaking)
}

func TestToolCallsAnswered(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	sess.PushToolCalls(
		tools.Request{ID: "a", Name: "add_item", Args: map[string]any{"name": "bolt", "quantity": 5.0, "price_per_item": 2.0}},
		tools.Request{ID: "b", Name: "dance"},
	)
	if !livetest.Eventually(func() bool { return len(sess.Responses()) == 2 }, wait) {
		t.Fatalf("expected 2 responses, got %d", len(sess.Responses()))
	}

	byID := map[string]tools.Response{}
	for _, r := range sess.Responses() {
		byID[r.ID] = r
	}
	if got := byID["a"]; got.Name != "add_item" || got.Result != "Added 5 bolt at $2.00 each." {
		t.Errorf("response a = %+v", got)
	}
	if got := byID["b"]; got.Result != "Unknown function: dance" {
		t.Errorf("response b = %+v", got)
	}

	sess.PushToolCalls(tools.Request{ID: "c", Name: "get_item_details", Args: map[string]any{"name": "BOLT"}})
	if !livetest.Eventually(func() bool { return len(sess.Responses()) == 3 }, wait) {
		t.Fatal("expected a third response")
	}
	if got := sess.Responses()[2]; got.ID != "c" || got.Result != "bolt: 5 in stock at $2.00 each." {
		t.Errorf("response c = %+v", got)
	}
	if !livetest.Eventually(func() bool {
		st := h.ctrl.Stats()
		return st.ResponsesSent == 3 && st.ToolCalls == 3
	}, wait) {
		t.Errorf("unexpected stats %+v", h.ctrl.Stats())
	}
}

// gatedStore blocks every call until the gate opens.
type gatedStore struct {
	inventory.Store
	entered chan struct{}
	gate    chan struct{}
}

func (g *gatedStore) GetInventorySummary(ctx context.Context, userID string) (string, error) {
	g.entered <- struct{}{}
	<-g.gate
	return g.Store.GetInventorySummary(ctx, userID)
}

func TestToolResponseDroppedAfterStop(t *testing.T) {
	store := &gatedStore{
		Store:   inventory.NewService(inventory.NewMemoryRepository()),
		entered: make(chan struct{}, 1),
		gate:    make(chan struct{}),
	}
	h := newHarness(t, withStore(store))
	sess := h.start()

	sess.PushToolCalls(tools.Request{ID: "slow", Name: "get_inventory_summary"})
	select {
	case <-store.entered:
	case <-time.After(wait):
		t.Fatal("tool call never reached the store")
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop with a pending call: %v", err)
	}
	close(store.gate)

	if !livetest.Eventually(func() bool { return h.ctrl.Stats().ResponsesDropped == 1 }, wait) {
		t.Fatalf("expected the late response to be dropped, stats %+v", h.ctrl.Stats())
	}
	if len(sess.Responses()) != 0 {
		t.Errorf("no response may be sent after stop, got %v", sess.Responses())
	}
}

func TestRemoteErrorTearsDown(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	snaps, cancel := h.ctrl.Subscribe()
	defer cancel()

	sess.End(errors.New("network reset"))
	h.waitStatus(Idle)

	var sawError bool
	for done := false; !done; {
		select {
		case s := <-snaps:
			if s.Status == Error {
				sawError = true
			}
			if s.Status == Idle {
				done = true
			}
		case <-time.After(wait):
			t.Fatal("no Idle snapshot")
		}
	}
	if !sawError {
		t.Error("expected an Error status before Idle")
	}

	snap := h.ctrl.Snapshot()
	var serr *SessionError
	if !errors.As(snap.Err, &serr) {
		t.Errorf("expected SessionError, got %v", snap.Err)
	}
	if !strings.Contains(snap.Message, "network reset") {
		t.Errorf("message should carry the cause, got %q", snap.Message)
	}
	if h.source(0).Running() {
		t.Error("microphone should be released after remote error")
	}
	if !h.output(0).Closed() {
		t.Error("output should be released after remote error")
	}

	// A new session can start afterwards.
	h.start()
	if h.ctrl.Status() != Listening {
		t.Errorf("expected Listening after restart, got %s", h.ctrl.Status())
	}
}

func TestRemoteClose(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	sess.End(nil)
	h.waitStatus(Idle)

	if !errors.Is(h.ctrl.Snapshot().Err, ErrRemoteClosed) {
		t.Errorf("expected ErrRemoteClosed, got %v", h.ctrl.Snapshot().Err)
	}
	if h.ctrl.StatusMessage() != "The voice service closed the session." {
		t.Errorf("unexpected message %q", h.ctrl.StatusMessage())
	}
}

func TestMicrophoneLossTearsDown(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	// The device ends its stream without the controller stopping it.
	_ = h.source(0).Stop()
	h.waitStatus(Idle)

	if !errors.Is(h.ctrl.Snapshot().Err, capture.ErrDeviceLost) {
		t.Errorf("expected ErrDeviceLost, got %v", h.ctrl.Snapshot().Err)
	}
	if !strings.Contains(h.ctrl.StatusMessage(), "microphone stopped") {
		t.Errorf("unexpected message %q", h.ctrl.StatusMessage())
	}
	if !sess.Closed() {
		t.Error("live session should be closed after microphone loss")
	}

	// A new start acquires a fresh device.
	h.start()
	if h.sourceCount() != 2 {
		t.Errorf("expected a second device, got %d", h.sourceCount())
	}
}

func TestToggle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.ctrl.Toggle(ctx); err != nil {
		t.Fatalf("Toggle start: %v", err)
	}
	if h.ctrl.Status() != Listening {
		t.Fatalf("expected Listening, got %s", h.ctrl.Status())
	}
	if err := h.ctrl.Toggle(ctx); err != nil {
		t.Fatalf("Toggle stop: %v", err)
	}
	if h.ctrl.Status() != Idle {
		t.Fatalf("expected Idle, got %s", h.ctrl.Status())
	}
}

func TestStopDuringConnectCancelsStart(t *testing.T) {
	h := newHarness(t)
	h.conn.Hold()
	defer h.conn.Release()

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Start(context.Background()) }()

	if !livetest.Eventually(func() bool { return len(h.conn.Configs()) == 1 }, wait) {
		t.Fatal("Connect never called")
	}

	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrStartCancelled) {
			t.Fatalf("expected ErrStartCancelled, got %v", err)
		}
	case <-time.After(wait):
		t.Fatal("Start did not return after Stop")
	}

	if h.ctrl.Status() != Idle {
		t.Errorf("expected Idle, got %s", h.ctrl.Status())
	}
	if h.source(0).Running() {
		t.Error("microphone acquired during start should be released")
	}
	if !h.output(0).Closed() {
		t.Error("output acquired during start should be released")
	}
	if len(h.conn.Sessions()) != 0 {
		t.Error("no session should have been opened")
	}
}

func TestGreetingPlaysBeforeMicrophone(t *testing.T) {
	h := newHarness(t, withGreeting(pcm(100*time.Millisecond)))

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Start(context.Background()) }()

	h.waitStatus(Starting)
	if !livetest.Eventually(func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.outputs) == 1 && len(h.outputs[0].Played()) == 1
	}, wait) {
		t.Fatal("greeting was not played")
	}
	if h.sourceCount() != 0 {
		t.Error("microphone must not open while the greeting plays")
	}

	h.output(0).Advance(100 * time.Millisecond)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	case <-time.After(wait):
		t.Fatal("Start did not finish after the greeting drained")
	}
	if h.ctrl.Status() != Listening {
		t.Errorf("expected Listening, got %s", h.ctrl.Status())
	}
	if texts := h.synth.Texts(); len(texts) != 1 || texts[0] != "Hello from the stockroom." {
		t.Errorf("unexpected synthesized texts %v", texts)
	}
}

func TestGreetingFailureContinues(t *testing.T) {
	h := newHarness(t, withGreeting(nil))
	h.synth.FailWith(errors.New("quota exceeded"))

	h.start()
	if h.ctrl.Status() != Listening {
		t.Errorf("expected Listening despite greeting failure, got %s", h.ctrl.Status())
	}
	if n := len(h.output(0).Played()); n != 0 {
		t.Errorf("nothing should play without a greeting, got %d", n)
	}
}

func TestStopDuringGreeting(t *testing.T) {
	h := newHarness(t, withGreeting(pcm(time.Second)))

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Start(context.Background()) }()

	if !livetest.Eventually(func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.outputs) == 1 && len(h.outputs[0].Played()) == 1
	}, wait) {
		t.Fatal("greeting was not played")
	}
	if h.ctrl.Status() != Starting {
		t.Fatalf("expected Starting during greeting, got %s", h.ctrl.Status())
	}

	h.ctrl.Stop()
	if err := <-errCh; !errors.Is(err, ErrStartCancelled) {
		t.Fatalf("expected ErrStartCancelled, got %v", err)
	}
	if h.sourceCount() != 0 {
		t.Error("microphone must not be acquired after a cancelled greeting")
	}
	if !h.output(0).Closed() {
		t.Error("greeting output should be released")
	}
	if h.output(0).Active() != 0 {
		t.Error("greeting playback should be stopped")
	}
}

func TestStartContextCancelled(t *testing.T) {
	h := newHarness(t)
	h.conn.Hold()
	defer h.conn.Release()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Start(ctx) }()

	if !livetest.Eventually(func() bool { return len(h.conn.Configs()) == 1 }, wait) {
		t.Fatal("Connect never called")
	}
	cancel()

	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	h.waitStatus(Idle)
	if h.source(0).Running() {
		t.Error("microphone should be released")
	}
}

func TestSubscribeSeesTransitions(t *testing.T) {
	h := newHarness(t)

	snaps, cancel := h.ctrl.Subscribe()
	first := <-snaps
	if first.Status != Idle {
		t.Fatalf("first snapshot %s, want idle", first.Status)
	}

	h.start()
	var seen []Status
	for len(seen) == 0 || seen[len(seen)-1] != Listening {
		select {
		case s := <-snaps:
			seen = append(seen, s.Status)
		case <-time.After(wait):
			t.Fatalf("missing transitions, saw %v", seen)
		}
	}
	if seen[0] != Starting {
		t.Errorf("expected Starting first, saw %v", seen)
	}

	cancel()
	cancel()
	for range snaps {
	}
}

func TestCloseRejectsStart(t *testing.T) {
	h := newHarness(t)
	sess := h.start()

	if err := h.ctrl.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if !sess.Closed() {
		t.Error("Close should end the session")
	}
	if h.ctrl.Status() != Idle {
		t.Errorf("expected Idle after Close, got %s", h.ctrl.Status())
	}
	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := h.ctrl.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestControllersDoNotShareDevices(t *testing.T) {
	a := newHarness(t)
	b := newHarness(t)

	a.start()
	b.start()
	a.ctrl.Stop()

	if a.source(0).Running() {
		t.Error("a's microphone should be released")
	}
	if !b.source(0).Running() || b.output(0).Closed() {
		t.Error("stopping a must not touch b's devices")
	}
	if b.ctrl.Status() != Listening {
		t.Errorf("b should still be listening, got %s", b.ctrl.Status())
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error for empty config")
	}
}

func TestStatusString(t *testing.T) {
	want := map[Status]string{
		Idle: "idle", Starting: "starting", Listening: "listening", Speaking: "speaking", Error: "error",
	}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), name)
		}
	}
	if Status(42).String() != "status(42)" {
		t.Errorf("unexpected fallback %q", Status(42).String())
	}
}

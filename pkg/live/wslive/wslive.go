// Package wslive speaks the Gemini Live BidiGenerateContent protocol directly
// over a WebSocket.
package wslive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/teslashibe/go-stockroom/pkg/codec"
	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

const (
	// Gemini API endpoint, authenticated with ?key=.
	geminiLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// Vertex AI endpoint, authenticated with a bearer token. %s is the location.
	vertexLiveURL = "wss://%s-aiplatform.googleapis.com/ws/google.cloud.aiplatform.v1beta1.LlmBidiService/BidiGenerateContent"

	cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 5 * time.Second
	defaultLocation         = "us-central1"
)

// Config selects the endpoint and credentials.
type Config struct {
	APIKey string

	// TokenSource switches to the Vertex AI endpoint. Use ADCTokenSource for
	// application default credentials.
	TokenSource oauth2.TokenSource
	Project     string
	Location    string

	// URL overrides the endpoint, e.g. for tests.
	URL string

	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

// ADCTokenSource returns application default credentials scoped for Vertex AI.
func ADCTokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	ts, err := google.DefaultTokenSource(ctx, cloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("wslive: default credentials: %w", err)
	}
	return ts, nil
}

// Connector dials a new WebSocket per session.
type Connector struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns a connector.
func New(cfg Config) (*Connector, error) {
	if cfg.TokenSource == nil && cfg.APIKey == "" && cfg.URL == "" {
		return nil, live.ErrMissingAPIKey
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.Location == "" {
		cfg.Location = defaultLocation
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{cfg: cfg, logger: logger}, nil
}

func (c *Connector) endpoint() string {
	if c.cfg.URL != "" {
		if c.cfg.APIKey == "" {
			return c.cfg.URL
		}
		return c.cfg.URL + "?key=" + url.QueryEscape(c.cfg.APIKey)
	}
	if c.cfg.TokenSource != nil {
		return fmt.Sprintf(vertexLiveURL, c.cfg.Location)
	}
	return geminiLiveURL + "?key=" + url.QueryEscape(c.cfg.APIKey)
}

// modelPath qualifies model the way the endpoint expects.
func (c *Connector) modelPath(model string) string {
	if strings.Contains(model, "/") {
		return model
	}
	if c.cfg.TokenSource != nil {
		return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", c.cfg.Project, c.cfg.Location, model)
	}
	return "models/" + model
}

// Connect dials, sends the setup message and waits for setupComplete.
func (c *Connector) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	header := make(http.Header)
	if c.cfg.TokenSource != nil {
		tok, err := c.cfg.TokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("wslive: token: %w", err)
		}
		tok.SetAuthHeader(&http.Request{Header: header})
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, c.endpoint(), header)
	if err != nil {
		return nil, fmt.Errorf("wslive: failed to connect: %w", err)
	}

	s := &session{
		id:     uuid.NewString(),
		ws:     ws,
		stream: live.NewStream(32),
	}
	s.logger = c.logger.With("session_id", s.id)

	if err := s.sendJSON(SetupMessage(c.modelPath(cfg.Model), cfg)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("wslive: failed to configure session: %w", err)
	}
	if err := s.awaitSetup(ctx, c.cfg.HandshakeTimeout); err != nil {
		ws.Close()
		return nil, err
	}

	go s.readLoop()
	s.logger.Info("live session opened", "model", cfg.Model, "voice", cfg.Voice, "tools", len(cfg.Tools))
	return s, nil
}

// SetupMessage builds the first client message of a session.
func SetupMessage(model string, cfg live.SessionConfig) map[string]any {
	setup := map[string]any{
		"model": model,
		"generation_config": map[string]any{
			"response_modalities": []string{"AUDIO"},
			"speech_config": map[string]any{
				"voice_config": map[string]any{
					"prebuilt_voice_config": map[string]any{
						"voice_name": cfg.Voice,
					},
				},
			},
		},
	}
	if cfg.Instructions != "" {
		setup["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": cfg.Instructions}},
		}
	}
	if len(cfg.Tools) > 0 {
		setup["tools"] = []map[string]any{{"function_declarations": FunctionDeclarations(cfg.Tools)}}
	}
	return map[string]any{"setup": setup}
}

// FunctionDeclarations renders specs in the protocol's schema dialect,
// which spells types in upper case.
func FunctionDeclarations(specs []tools.Spec) []map[string]any {
	decls := make([]map[string]any, 0, len(specs))
	for _, spec := range specs {
		props := make(map[string]any, len(spec.Params))
		required := make([]string, 0, len(spec.Params))
		for _, p := range spec.Params {
			props[p.Name] = map[string]any{
				"type":        strings.ToUpper(string(p.Kind)),
				"description": p.Description,
			}
			required = append(required, p.Name)
		}
		params := map[string]any{"type": "OBJECT", "properties": props}
		if len(required) > 0 {
			params["required"] = required
		}
		decls = append(decls, map[string]any{
			"name":        spec.Name,
			"description": spec.Description,
			"parameters":  params,
		})
	}
	return decls
}

// Inbound message shapes. Field names follow the server's JSON encoding.
type serverMessage struct {
	SetupComplete        *struct{}             `json:"setupComplete"`
	ServerContent        *serverContent        `json:"serverContent"`
	ToolCall             *toolCall             `json:"toolCall"`
	ToolCallCancellation *toolCallCancellation `json:"toolCallCancellation"`
	GoAway               *goAway               `json:"goAway"`
}

type serverContent struct {
	ModelTurn *struct {
		Parts []part `json:"parts"`
	} `json:"modelTurn"`
	TurnComplete bool `json:"turnComplete"`
	Interrupted  bool `json:"interrupted"`
}

type part struct {
	Text       string `json:"text"`
	InlineData *struct {
		MIMEType string `json:"mimeType"`
		Data     string `json:"data"`
	} `json:"inlineData"`
}

type toolCall struct {
	FunctionCalls []struct {
		ID   string         `json:"id"`
		Name string         `json:"name"`
		Args map[string]any `json:"args"`
	} `json:"functionCalls"`
}

type toolCallCancellation struct {
	IDs []string `json:"ids"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// ParseMessage decodes one server frame into engine events. Audio parts with
// malformed base64 are dropped and reported in skipped.
func ParseMessage(data []byte) (events []live.Event, skipped []error, err error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, nil, fmt.Errorf("wslive: parse message: %w", err)
	}

	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		reqs := make([]tools.Request, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			reqs = append(reqs, tools.Request{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		events = append(events, live.Event{ToolCalls: reqs})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, live.Event{Interrupted: true})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MIMEType, "audio/pcm") {
					continue
				}
				pcm, err := codec.Decode(p.InlineData.Data)
				if err != nil {
					skipped = append(skipped, err)
					continue
				}
				if len(pcm) == 0 {
					continue
				}
				events = append(events, live.Event{Audio: &live.AudioChunk{Data: pcm, MIMEType: p.InlineData.MIMEType}})
			}
		}
		if sc.TurnComplete {
			events = append(events, live.Event{TurnComplete: true})
		}
	}
	return events, skipped, nil
}

// AudioMessage builds a realtime_input message.
func AudioMessage(pcm []byte, mimeType string) map[string]any {
	return map[string]any{
		"realtime_input": map[string]any{
			"media_chunks": []map[string]any{
				{
					"data":      codec.Encode(pcm),
					"mime_type": mimeType,
				},
			},
		},
	}
}

// ToolResponseMessage builds a tool_response message.
func ToolResponseMessage(resp tools.Response) map[string]any {
	return map[string]any{
		"tool_response": map[string]any{
			"function_responses": []map[string]any{
				{
					"id":       resp.ID,
					"name":     resp.Name,
					"response": map[string]any{"result": resp.Result},
				},
			},
		},
	}
}

type session struct {
	id     string
	ws     *websocket.Conn
	wsMu   sync.Mutex
	stream *live.Stream
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (s *session) ID() string { return s.id }

func (s *session) Events() <-chan live.Event { return s.stream.Events() }

func (s *session) SendAudio(pcm []byte, mimeType string) error {
	return s.sendJSON(AudioMessage(pcm, mimeType))
}

func (s *session) SendToolResponse(resp tools.Response) error {
	return s.sendJSON(ToolResponseMessage(resp))
}

func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.stream.Abort()

	s.wsMu.Lock()
	_ = s.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.wsMu.Unlock()
	return s.ws.Close()
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// awaitSetup reads until the server acknowledges the setup message.
func (s *session) awaitSetup(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = s.ws.SetReadDeadline(deadline)
	defer s.ws.SetReadDeadline(time.Time{})

	stop := context.AfterFunc(ctx, func() { _ = s.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("wslive: awaiting setup: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// readLoop is the only producer of the event stream.
func (s *session) readLoop() {
	for {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			if s.stream.Aborted() || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.logger.Debug("live session ended", "reason", err)
				s.stream.Finish(nil)
				return
			}
			s.logger.Warn("live session read failed", "error", err)
			s.stream.Finish(fmt.Errorf("wslive: read: %w", err))
			return
		}

		events, skipped, err := ParseMessage(data)
		if err != nil {
			s.logger.Debug("dropping unparseable message", "error", err)
			continue
		}
		s.logControl(data)
		for _, e := range skipped {
			s.logger.Warn("dropping malformed audio part", "error", e)
		}
		for _, ev := range events {
			if !s.stream.Emit(ev) {
				s.stream.Finish(nil)
				return
			}
		}
	}
}

// logControl reports server messages that carry no engine event.
func (s *session) logControl(data []byte) {
	var msg serverMessage
	if json.Unmarshal(data, &msg) != nil {
		return
	}
	if msg.ToolCallCancellation != nil {
		s.logger.Debug("tool calls cancelled", "ids", msg.ToolCallCancellation.IDs)
	}
	if msg.GoAway != nil {
		s.logger.Info("server requested disconnect", "time_left", msg.GoAway.TimeLeft)
	}
}

// sendJSON writes one message. Writes are serialized.
func (s *session) sendJSON(v any) error {
	if s.isClosed() {
		return live.ErrClosed
	}
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	_ = s.ws.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return s.ws.WriteJSON(v)
}

var _ live.Connector = (*Connector)(nil)

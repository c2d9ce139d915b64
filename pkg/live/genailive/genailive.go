// Package genailive implements live sessions and one-shot speech synthesis
// on top of the google.golang.org/genai SDK.
package genailive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"google.golang.org/genai"

	"github.com/teslashibe/go-stockroom/internal/httpc"
	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultTTSModel = "gemini-2.5-flash-preview-tts"
	DefaultVoice    = "Puck"
	DefaultLocation = "us-central1"
)

// Config selects the backend and credentials.
type Config struct {
	// APIKey authenticates against the Gemini API. Ignored with Vertex.
	APIKey string

	// Vertex uses Vertex AI with application default credentials.
	Vertex   bool
	Project  string
	Location string

	// TTSModel and Voice are used by Synthesize.
	TTSModel string
	Voice    string

	// BaseURL overrides the service endpoint. A ws:// or wss:// scheme is
	// kept for live sessions.
	BaseURL string

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client connects live sessions and synthesizes the greeting.
type Client struct {
	genai  *genai.Client
	cfg    Config
	logger *slog.Logger
}

// New creates a client. It does not contact the service.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cc := &genai.ClientConfig{
		HTTPClient:  cfg.HTTPClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: cfg.BaseURL},
	}
	if cc.HTTPClient == nil {
		cc.HTTPClient = httpc.Client
	}
	if cfg.Vertex {
		if cfg.Location == "" {
			cfg.Location = DefaultLocation
		}
		cc.Backend = genai.BackendVertexAI
		cc.Project = cfg.Project
		cc.Location = cfg.Location
	} else {
		if cfg.APIKey == "" {
			return nil, live.ErrMissingAPIKey
		}
		cc.Backend = genai.BackendGeminiAPI
		cc.APIKey = cfg.APIKey
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = DefaultTTSModel
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}

	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("genailive: create client: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{genai: gc, cfg: cfg, logger: logger}, nil
}

// Connect opens a live session with audio responses and the given tools.
func (c *Client) Connect(ctx context.Context, cfg live.SessionConfig) (live.Session, error) {
	voice := cfg.Voice
	if voice == "" {
		voice = c.cfg.Voice
	}

	gs, err := c.genai.Live.Connect(ctx, cfg.Model, ConnectConfig(cfg.Instructions, voice, cfg.Tools))
	if err != nil {
		return nil, fmt.Errorf("genailive: connect: %w", err)
	}

	s := &session{
		id:     uuid.NewString(),
		gs:     gs,
		stream: live.NewStream(32),
		logger: c.logger,
	}
	s.logger = c.logger.With("session_id", s.id)
	go s.receiveLoop()

	s.logger.Info("live session opened", "model", cfg.Model, "voice", voice, "tools", len(cfg.Tools))
	return s, nil
}

// Synthesize renders text with the TTS model and returns PCM16 mono at
// 24 kHz.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := c.genai.Models.GenerateContent(ctx, c.cfg.TTSModel, genai.Text(text), &genai.GenerateContentConfig{
		ResponseModalities: []string{string(genai.ModalityAudio)},
		SpeechConfig:       speechConfig(c.cfg.Voice),
	})
	if err != nil {
		return nil, fmt.Errorf("genailive: synthesize: %w", err)
	}
	return AudioFromResponse(resp)
}

// AudioFromResponse concatenates the inline audio parts of resp.
func AudioFromResponse(resp *genai.GenerateContentResponse) ([]byte, error) {
	if resp == nil {
		return nil, live.ErrNoAudio
	}
	var pcm []byte
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil {
				pcm = append(pcm, part.InlineData.Data...)
			}
		}
	}
	if len(pcm) == 0 {
		return nil, live.ErrNoAudio
	}
	return pcm, nil
}

// ConnectConfig builds the SDK session config.
func ConnectConfig(instructions, voice string, specs []tools.Spec) *genai.LiveConnectConfig {
	cfg := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig:       speechConfig(voice),
	}
	if instructions != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: instructions}}}
	}
	if len(specs) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: FunctionDeclarations(specs)}}
	}
	return cfg
}

// FunctionDeclarations converts tool specs to SDK declarations.
func FunctionDeclarations(specs []tools.Spec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		params := &genai.Schema{
			Type:       genai.TypeObject,
			Properties: make(map[string]*genai.Schema, len(spec.Params)),
		}
		for _, p := range spec.Params {
			params.Properties[p.Name] = &genai.Schema{
				Type:        schemaType(p.Kind),
				Description: p.Description,
			}
			params.Required = append(params.Required, p.Name)
		}
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  params,
		})
	}
	return decls
}

func schemaType(k tools.Kind) genai.Type {
	if k == tools.KindNumber {
		return genai.TypeNumber
	}
	return genai.TypeString
}

func speechConfig(voice string) *genai.SpeechConfig {
	return &genai.SpeechConfig{
		VoiceConfig: &genai.VoiceConfig{
			PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: voice},
		},
	}
}

// Events splits one server message into engine events in wire order.
func Events(msg *genai.LiveServerMessage) []live.Event {
	if msg == nil {
		return nil
	}
	var out []live.Event
	if tc := msg.ToolCall; tc != nil && len(tc.FunctionCalls) > 0 {
		reqs := make([]tools.Request, 0, len(tc.FunctionCalls))
		for _, fc := range tc.FunctionCalls {
			if fc == nil {
				continue
			}
			reqs = append(reqs, tools.Request{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
		out = append(out, live.Event{ToolCalls: reqs})
	}
	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			out = append(out, live.Event{Interrupted: true})
		}
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part == nil || part.InlineData == nil || len(part.InlineData.Data) == 0 {
					continue
				}
				out = append(out, live.Event{Audio: &live.AudioChunk{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				}})
			}
		}
		if sc.TurnComplete {
			out = append(out, live.Event{TurnComplete: true})
		}
	}
	return out
}

// ToolResponse converts a tool result to the SDK form.
func ToolResponse(resp tools.Response) genai.LiveToolResponseInput {
	return genai.LiveToolResponseInput{
		FunctionResponses: []*genai.FunctionResponse{{
			ID:       resp.ID,
			Name:     resp.Name,
			Response: map[string]any{"result": resp.Result},
		}},
	}
}

type session struct {
	id     string
	gs     *genai.Session
	stream *live.Stream
	logger *slog.Logger

	mu     sync.Mutex
	closed bool

	// writeMu serializes writes to the SDK session, which does not lock.
	writeMu sync.Mutex
}

func (s *session) ID() string { return s.id }

func (s *session) Events() <-chan live.Event { return s.stream.Events() }

func (s *session) SendAudio(pcm []byte, mimeType string) error {
	if s.isClosed() {
		return live.ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.gs.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: mimeType},
	})
}

func (s *session) SendToolResponse(resp tools.Response) error {
	if s.isClosed() {
		return live.ErrClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.gs.SendToolResponse(ToolResponse(resp))
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
	return s.gs.Close()
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) receiveLoop() {
	for {
		msg, err := s.gs.Receive()
		if err != nil {
			if s.stream.Aborted() || IsNormalClose(err) {
				s.logger.Debug("live session ended", "reason", err)
				s.stream.Finish(nil)
				return
			}
			s.logger.Warn("live session receive failed", "error", err)
			s.stream.Finish(fmt.Errorf("genailive: receive: %w", err))
			return
		}

		if msg.GoAway != nil {
			s.logger.Info("server requested disconnect")
		}
		if msg.ToolCallCancellation != nil {
			s.logger.Debug("tool calls cancelled", "ids", msg.ToolCallCancellation.IDs)
		}

		for _, ev := range Events(msg) {
			if !s.stream.Emit(ev) {
				s.stream.Finish(nil)
				return
			}
		}
	}
}

// IsNormalClose reports whether err signals an orderly remote close.
func IsNormalClose(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == websocket.CloseNormalClosure
}

var (
	_ live.Connector   = (*Client)(nil)
	_ live.Synthesizer = (*Client)(nil)
)

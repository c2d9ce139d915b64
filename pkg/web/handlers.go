package web

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-stockroom/pkg/hub"
	"github.com/teslashibe/go-stockroom/pkg/session"
)

// StatusResponse is the body of every status and session endpoint.
type StatusResponse struct {
	Status    string        `json:"status"`
	Message   string        `json:"message"`
	SessionID string        `json:"session_id,omitempty"`
	Since     time.Time     `json:"since"`
	Error     string        `json:"error,omitempty"`
	Stats     session.Stats `json:"stats"`
}

func newStatusResponse(snap session.Snapshot, stats session.Stats) StatusResponse {
	r := StatusResponse{
		Status:    snap.Status.String(),
		Message:   snap.Message,
		SessionID: snap.SessionID,
		Since:     snap.Since,
		Stats:     stats,
	}
	if snap.Err != nil {
		r.Error = snap.Err.Error()
	}
	return r
}

// ToolInfo describes one declared tool.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.current())
}

func (s *Server) handleListTools(c *fiber.Ctx) error {
	specs := s.tools.Specs()
	out := make([]ToolInfo, len(specs))
	for i, spec := range specs {
		out[i] = ToolInfo{Name: spec.Name, Description: spec.Description, Parameters: spec.Schema()}
	}
	return c.JSON(out)
}

func (s *Server) handleStart(c *fiber.Ctx) error {
	if err := s.ctrl.Start(c.UserContext()); err != nil {
		return s.sessionError(c, err)
	}
	return c.JSON(s.current())
}

func (s *Server) handleStop(c *fiber.Ctx) error {
	if err := s.ctrl.Stop(); err != nil {
		return s.sessionError(c, err)
	}
	return c.JSON(s.current())
}

func (s *Server) handleToggle(c *fiber.Ctx) error {
	if err := s.ctrl.Toggle(c.UserContext()); err != nil {
		return s.sessionError(c, err)
	}
	return c.JSON(s.current())
}

func (s *Server) current() StatusResponse {
	return newStatusResponse(s.ctrl.Snapshot(), s.ctrl.Stats())
}

// sessionError maps controller errors to HTTP statuses. The body always
// carries the current status so clients can render the message.
func (s *Server) sessionError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var se *session.StartError
	switch {
	case errors.Is(err, session.ErrNotIdle), errors.Is(err, session.ErrStartCancelled):
		code = fiber.StatusConflict
	case errors.Is(err, session.ErrClosed):
		code = fiber.StatusServiceUnavailable
	case errors.As(err, &se):
		code = fiber.StatusBadGateway
		if se.Stage == session.StageMicrophone {
			code = fiber.StatusFailedDependency
		}
	}

	body := s.current()
	body.Error = err.Error()
	s.logger.Debug("session request failed", "path", c.Path(), "code", code, "error", err)
	return c.Status(code).JSON(body)
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

// handleStatusWS sends the current status, then every change.
func (s *Server) handleStatusWS(conn *websocket.Conn) {
	client := hub.NewClient(s.status, conn)
	if data, err := json.Marshal(s.current()); err == nil {
		client.Send(data)
	}
	client.Serve()
}

// Package dispatch turns tool calls into inventory operations and always
// answers with exactly one response per call.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/teslashibe/go-stockroom/pkg/inventory"
	"github.com/teslashibe/go-stockroom/pkg/metrics"
	"github.com/teslashibe/go-stockroom/pkg/tools"
)

// Outcome labels for metrics.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeUnknown = "unknown"
)

// Config configures a Dispatcher.
type Config struct {
	// Registry declares the callable tools. Default: tools.Default().
	Registry *tools.Registry

	// Store executes the calls. Required.
	Store inventory.Store

	// UserID scopes every call.
	UserID string

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Dispatcher executes tool calls against a Store.
type Dispatcher struct {
	registry *tools.Registry
	store    inventory.Store
	userID   string
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if cfg.Registry == nil {
		cfg.Registry = tools.Default()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		store:    cfg.Store,
		userID:   cfg.UserID,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}, nil
}

// Registry returns the tool registry calls are checked against.
func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

// Dispatch executes req and returns its response. It never fails: unknown
// tools, bad arguments, store errors and panics all become result text.
func (d *Dispatcher) Dispatch(ctx context.Context, req tools.Request) (resp tools.Response) {
	start := time.Now()
	resp = tools.Response{ID: req.ID, Name: req.Name}
	outcome := OutcomeOK

	defer func() {
		if r := recover(); r != nil {
			resp.Result = fmt.Sprintf("Error executing function: panic: %v", r)
			outcome = OutcomeError
		}
		d.metrics.ToolCall(req.Name, outcome, time.Since(start))
		d.logger.Info("tool call",
			"call_id", req.ID,
			"tool", req.Name,
			"outcome", outcome,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	if _, ok := d.registry.Lookup(req.Name); !ok {
		outcome = OutcomeUnknown
		resp.Result = "Unknown function: " + req.Name
		return resp
	}

	text, err := d.execute(ctx, req)
	if err != nil {
		outcome = OutcomeError
		d.logger.Warn("tool call failed", "call_id", req.ID, "tool", req.Name, "error", err)
		resp.Result = "Error executing function: " + err.Error()
		return resp
	}
	resp.Result = text
	return resp
}

func (d *Dispatcher) execute(ctx context.Context, req tools.Request) (string, error) {
	call, err := d.registry.Parse(req.Name, req.Args)
	if err != nil {
		return "", err
	}

	switch c := call.(type) {
	case tools.AddItem:
		return d.store.AddItem(ctx, d.userID, c.Name, c.Quantity, c.PricePerItem)
	case tools.RemoveItem:
		return d.store.RemoveItem(ctx, d.userID, c.Name, c.Quantity)
	case tools.GetItemDetails:
		return d.store.GetItemDetails(ctx, d.userID, c.Name)
	case tools.GetInventorySummary:
		return d.store.GetInventorySummary(ctx, d.userID)
	default:
		return "", fmt.Errorf("no handler for %s", call.ToolName())
	}
}

// Go dispatches req on its own goroutine and passes the response to reply.
// Calls started together complete independently and in any order.
func (d *Dispatcher) Go(ctx context.Context, req tools.Request, reply func(tools.Response)) {
	go func() {
		resp := d.Dispatch(ctx, req)
		if reply != nil {
			reply(resp)
		}
	}()
}

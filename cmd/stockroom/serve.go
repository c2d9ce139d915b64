package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-stockroom/internal/log"
	"github.com/teslashibe/go-stockroom/pkg/dispatch"
	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/metrics"
	"github.com/teslashibe/go-stockroom/pkg/session"
	"github.com/teslashibe/go-stockroom/pkg/web"
)

func newServeCmd(a *app) *cobra.Command {
	var autostart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the voice session controller and its control surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return a.serve(ctx, autostart)
		},
	}
	cmd.Flags().BoolVar(&autostart, "start", true, "start a session immediately")
	return cmd
}

func (a *app) serve(ctx context.Context, autostart bool) error {
	cfg := a.cfg
	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	logger := log.L()

	store, closer, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer closer.Close()

	m := metrics.New(nil)

	disp, err := dispatch.New(dispatch.Config{
		Store:   store,
		UserID:  cfg.UserID,
		Logger:  logger.With("component", "dispatch"),
		Metrics: m,
	})
	if err != nil {
		return err
	}

	conn, synth, err := speechBackends(ctx, cfg.Gemini, logger)
	if err != nil {
		return err
	}

	ctrl, err := session.New(session.Config{
		Connector:   conn,
		Synthesizer: synth,
		Capture:     newCapture(cfg.Audio, logger),
		OpenOutput:  outputOpener(cfg.Audio, logger),
		Dispatcher:  disp,
		Session: live.SessionConfig{
			Model:        cfg.Gemini.Model,
			Voice:        cfg.Gemini.Voice,
			Instructions: cfg.Instructions,
		},
		Greeting: cfg.Greeting,
		Logger:   logger.With("component", "session"),
		Metrics:  m,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Web.Enabled {
		srv, err := web.New(web.Config{
			Addr:       cfg.Web.Addr,
			Controller: ctrl,
			Tools:      disp.Registry(),
			Metrics:    m.Handler(),
			Logger:     logger.With("component", "web"),
		})
		if err != nil {
			return err
		}
		g.Go(func() error { return srv.Run(gctx) })
	}

	g.Go(func() error {
		snaps, cancel := ctrl.Subscribe()
		defer cancel()
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap, ok := <-snaps:
				if !ok {
					return nil
				}
				logger.Info(snap.Message, "status", snap.Status.String(), "session_id", snap.SessionID)
			}
		}
	})

	if autostart {
		g.Go(func() error {
			err := ctrl.Start(gctx)
			if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, session.ErrStartCancelled) {
				return nil
			}
			// The status message already tells the user; keep serving so the
			// control surface can retry.
			logger.Warn("initial session start failed", "error", err)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return ctrl.Stop()
	})

	err = g.Wait()
	st := ctrl.Stats()
	logger.Info("stockroom stopped",
		"sessions", st.Sessions,
		"audio_sent", st.AudioSent,
		"audio_received", st.AudioReceived,
		"tool_calls", st.ToolCalls,
	)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

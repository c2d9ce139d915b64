package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/teslashibe/go-stockroom/internal/config"
	"github.com/teslashibe/go-stockroom/internal/httpc"
	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/capture"
	"github.com/teslashibe/go-stockroom/pkg/inventory"
	"github.com/teslashibe/go-stockroom/pkg/live"
	"github.com/teslashibe/go-stockroom/pkg/live/genailive"
	"github.com/teslashibe/go-stockroom/pkg/live/wslive"
)

func openStore(ctx context.Context, cfg config.StoreConfig) (*inventory.Service, io.Closer, error) {
	repo, err := inventory.Open(ctx, cfg.Driver, cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	return inventory.NewService(repo), repo, nil
}

// speechBackends returns the session connector for the configured transport
// and the greeting synthesizer, which always uses the SDK.
func speechBackends(ctx context.Context, cfg config.GeminiConfig, logger *slog.Logger) (live.Connector, live.Synthesizer, error) {
	client, err := genailive.New(ctx, genailive.Config{
		APIKey:     cfg.APIKey,
		Vertex:     cfg.UseADC,
		Project:    cfg.Project,
		Location:   cfg.Location,
		TTSModel:   cfg.TTSModel,
		Voice:      cfg.Voice,
		HTTPClient: httpc.Client,
		Logger:     logger.With("component", "genailive"),
	})
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Transport {
	case config.TransportSDK:
		return client, client, nil
	case config.TransportWebSocket:
		conn, err := websocketConnector(ctx, cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		return conn, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

func websocketConnector(ctx context.Context, cfg config.GeminiConfig, logger *slog.Logger) (*wslive.Connector, error) {
	wc := wslive.Config{
		APIKey:   cfg.APIKey,
		Project:  cfg.Project,
		Location: cfg.Location,
		Logger:   logger.With("component", "wslive"),
	}
	if cfg.UseADC {
		ts, err := wslive.ADCTokenSource(ctx)
		if err != nil {
			return nil, err
		}
		wc.TokenSource = ts
	}
	return wslive.New(wc)
}

func inputConfig(cfg config.AudioConfig) audioio.Config {
	in := audioio.DefaultInputConfig()
	in.Backend = audioio.Backend(cfg.Input)
	in.Command = cfg.InputCommand
	in.FrameDuration = cfg.FrameDuration
	return in
}

func outputConfig(cfg config.AudioConfig) audioio.Config {
	out := audioio.DefaultOutputConfig()
	out.Backend = audioio.Backend(cfg.Output)
	return out
}

// newCapture opens a fresh input device on every session start.
func newCapture(cfg config.AudioConfig, logger *slog.Logger) *capture.Pipeline {
	in := inputConfig(cfg)
	devLogger := logger.With("component", "audioio")
	return capture.New(func() (audioio.Source, error) {
		return audioio.NewSource(in, devLogger)
	}, logger.With("component", "capture"))
}

func outputOpener(cfg config.AudioConfig, logger *slog.Logger) func() (audioio.Output, error) {
	out := outputConfig(cfg)
	devLogger := logger.With("component", "audioio")
	return func() (audioio.Output, error) {
		return audioio.NewOutput(out, devLogger)
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-stockroom/internal/log"
	"github.com/teslashibe/go-stockroom/pkg/audioio"
	"github.com/teslashibe/go-stockroom/pkg/codec"
	"github.com/teslashibe/go-stockroom/pkg/playback"
)

func newGreetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "greet [text]",
		Short: "Synthesize and play the greeting once to check the speaker",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := a.cfg.Greeting
			if len(args) == 1 {
				text = args[0]
			}
			return a.greet(cmd.Context(), text)
		},
	}
}

func (a *app) greet(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("greeting is empty")
	}
	if err := a.cfg.RequireCredentials(); err != nil {
		return err
	}
	logger := log.L()

	_, synth, err := speechBackends(ctx, a.cfg.Gemini, logger)
	if err != nil {
		return err
	}
	pcm, err := synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	buf, err := codec.DecodeAudio(pcm, audioio.PlaybackRate, 1)
	if err != nil {
		return err
	}

	out, err := outputOpener(a.cfg.Audio, logger)()
	if err != nil {
		return fmt.Errorf("open audio output: %w", err)
	}
	sched := playback.New(out, logger.With("component", "playback"))
	defer sched.Shutdown()

	drained := make(chan struct{})
	sched.OnDrained(func() { close(drained) })
	if _, err := sched.Enqueue(buf); err != nil {
		return err
	}
	logger.Info("playing greeting", "duration", buf.Duration())

	select {
	case <-drained:
		return nil
	case <-time.After(buf.Duration() + 2*time.Second):
		return errors.New("greeting playback did not finish")
	case <-ctx.Done():
		return ctx.Err()
	}
}

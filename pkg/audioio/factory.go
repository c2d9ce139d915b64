package audioio

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// OutputFactory opens an output device for one backend.
type OutputFactory func(cfg Config, logger *slog.Logger) (Output, error)

var (
	outputsMu sync.RWMutex
	outputs   = map[Backend]OutputFactory{
		BackendMock: func(cfg Config, logger *slog.Logger) (Output, error) {
			return NewMockOutput(WithRealtimeClock()), nil
		},
	}
)

// RegisterOutput makes an output backend available to NewOutput.
// Backends in sub-packages register themselves from init.
func RegisterOutput(backend Backend, factory OutputFactory) {
	outputsMu.Lock()
	defer outputsMu.Unlock()
	if factory == nil {
		panic("audioio: RegisterOutput factory is nil")
	}
	outputs[backend] = factory
}

// NewSource creates a new audio source with the given configuration.
// Every call returns a fresh device handle.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("creating audio source",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_ms", cfg.FrameDuration.Milliseconds(),
	)

	switch cfg.Backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendExec:
		return NewExecSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unsupported source backend: %s", cfg.Backend)
	}
}

// NewOutput opens a new output device with the given configuration.
// Every call returns a fresh device handle.
func NewOutput(cfg Config, logger *slog.Logger) (Output, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	outputsMu.RLock()
	factory, ok := outputs[cfg.Backend]
	outputsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported output backend: %s (available: %v)", cfg.Backend, AvailableOutputs())
	}

	logger.Debug("creating audio output",
		"backend", cfg.Backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	return factory(cfg, logger)
}

// AvailableOutputs returns the registered output backends.
func AvailableOutputs() []Backend {
	outputsMu.RLock()
	defer outputsMu.RUnlock()

	backends := make([]Backend, 0, len(outputs))
	for b := range outputs {
		backends = append(backends, b)
	}
	sort.Slice(backends, func(i, j int) bool { return backends[i] < backends[j] })
	return backends
}

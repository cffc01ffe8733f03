package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Josue-Herrera/Jaxie/internal/audio"
	"github.com/Josue-Herrera/Jaxie/internal/capture"
	"github.com/Josue-Herrera/Jaxie/internal/config"
	"github.com/Josue-Herrera/Jaxie/internal/inference"
	"github.com/rs/zerolog"
)

// ErrAlreadyCapturing is returned by Start while a capture is running.
var ErrAlreadyCapturing = errors.New("capture already running")

type Config struct {
	Backend audio.Backend
	Engine  inference.Engine // Optional - level meter when nil
	Config  *config.Config
	Logger  zerolog.Logger
}

type App struct {
	backend audio.Backend
	engine  inference.Engine
	cfg     *config.Config
	log     zerolog.Logger

	mu        sync.Mutex
	capturing bool
	session   *capture.Session
	meter     *LevelMeter
	streamer  *inference.Streamer
	tokensWG  sync.WaitGroup
}

func New(cfg Config) *App {
	return &App{
		backend: cfg.Backend,
		engine:  cfg.Engine,
		cfg:     cfg.Config,
		log:     cfg.Logger,
		session: capture.New(capture.Options{
			Backend: cfg.Backend,
			Logger:  cfg.Logger,
			Backoff: cfg.Config.Backoff(),
		}),
	}
}

// Start initializes and starts the capture session with the configured
// consumer: a Streamer when an engine is present, a LevelMeter otherwise.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.capturing {
		return ErrAlreadyCapturing
	}

	var consumer capture.PeriodFunc
	if a.engine != nil {
		a.streamer = inference.NewStreamer(a.engine, inference.StreamerOptions{Logger: a.log})
		consumer = a.streamer.OnPeriod
		a.tokensWG.Add(1)
		go a.collectTokens(a.streamer)
	} else {
		a.meter = NewLevelMeter(a.log, a.reportEvery())
		consumer = a.meter.OnPeriod
	}

	a.log.Info().Str("backend", a.backend.Name()).Msg("Starting capture")

	if err := a.session.Init(a.cfg.Capture(), consumer); err != nil {
		a.closeStreamerLocked()
		return fmt.Errorf("failed to initialize capture: %w", err)
	}
	if err := a.session.Start(); err != nil {
		a.session.Shutdown()
		a.closeStreamerLocked()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	a.capturing = true
	return nil
}

// reportEvery converts the stats interval into a period count for the meter.
func (a *App) reportEvery() int {
	interval := a.cfg.StatsInterval()
	period := a.cfg.Capture().PeriodDuration()
	if interval <= 0 || period <= 0 {
		return 0
	}
	return max(1, int(interval/period))
}

// Stop shuts the session down. Safe to call when not capturing.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.stopLocked()
}

func (a *App) stopLocked() {
	if !a.capturing {
		return
	}

	a.log.Info().Msg("Stopping capture")
	stats := a.session.Stats()
	a.session.Shutdown()
	a.closeStreamerLocked()
	a.capturing = false

	a.log.Info().Object("stats", stats).Msg("Capture finished")
}

func (a *App) closeStreamerLocked() {
	if a.streamer == nil {
		return
	}
	a.streamer.Close()
	a.tokensWG.Wait()
	a.log.Debug().Interface("inference", a.streamer.Stats()).Msg("Streamer closed")
	a.streamer = nil
}

func (a *App) collectTokens(s *inference.Streamer) {
	defer a.tokensWG.Done()
	for toks := range s.Tokens() {
		a.log.Info().Ints32("tokens", toks).Msg("Tokens")
	}
}

// Run starts capture and blocks until ctx is cancelled, logging stats on
// the configured interval.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		return err
	}
	defer a.Stop()

	var tick <-chan time.Time
	if interval := a.cfg.StatsInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			a.log.Info().Object("stats", a.Stats()).Msg("Capture stats")
		}
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.Stop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.capturing
}

func (a *App) Stats() capture.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session.Stats()
}

// Level returns the most recent meter reading. It is zero when an engine
// consumes the audio.
func (a *App) Level() Level {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.meter == nil {
		return Level{}
	}
	return a.meter.Level()
}

func (a *App) ListDevices() ([]audio.AudioDevice, error) {
	lister, ok := a.backend.(audio.DeviceLister)
	if !ok {
		return nil, fmt.Errorf("backend %s cannot list devices", a.backend.Name())
	}
	return lister.Devices()
}

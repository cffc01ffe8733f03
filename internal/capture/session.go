// Package capture drives an audio.Backend through its lifecycle and hands
// fixed-size periods of captured audio to a client callback.
//
// Two goroutines touch the hot path: the backend's producer thread, which
// only writes into a ring buffer, and the session's consumer goroutine,
// which drains one period at a time and invokes the callback. The control
// methods (Init, Start, Stop, Shutdown, Move, TakeFrom, Close) must be called
// from one goroutine at a time.
package capture

import (
	"fmt"
	"time"

	"github.com/Josue-Herrera/Jaxie/internal/audio"
	"github.com/Josue-Herrera/Jaxie/internal/ringbuf"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// OversampleFactor sizes the ring as this many device buffers, giving the
	// consumer slack before drop-oldest kicks in.
	OversampleFactor = 8
	// MaxRingSamples caps the ring allocation (256 MiB of float32).
	MaxRingSamples = 1 << 26
	// DefaultBackoff is how long the consumer sleeps when a period is not ready.
	DefaultBackoff = time.Millisecond
)

// PeriodFunc receives one period of interleaved samples on the consumer
// goroutine. block holds frames*channels samples and is only valid for the
// duration of the call.
type PeriodFunc func(block []float32, frames, channels int)

// Options configures New.
type Options struct {
	Backend audio.Backend
	Logger  zerolog.Logger
	Backoff time.Duration // zero = DefaultBackoff
}

// Session owns one ring buffer, at most one device handle and at most one
// consumer goroutine. The zero value is not usable; call New.
type Session struct {
	backend audio.Backend
	log     zerolog.Logger
	backoff time.Duration

	state State
	rt    *runtime
}

// New returns an Uninitialized session bound to a backend.
func New(opts Options) *Session {
	backoff := opts.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	return &Session{
		backend: opts.Backend,
		log:     opts.Logger,
		backoff: backoff,
	}
}

// Init allocates the ring and scratch block and opens the device. A session
// that is already initialized is shut down first. On failure the session is
// left Uninitialized with nothing held.
func (s *Session) Init(cfg audio.Config, fn PeriodFunc) error {
	if s.state != StateUninitialized {
		s.Shutdown()
	}

	if fn == nil {
		return fmt.Errorf("%w: period callback is required", ErrInvalidArgument)
	}
	if s.backend == nil {
		return fmt.Errorf("%w: no audio backend", ErrInvalidArgument)
	}
	if err := cfg.Validate(s.backend.Limits()); err != nil {
		return fmt.Errorf("invalid capture config: %w: %w", ErrInvalidArgument, err)
	}

	frames, err := ringFrames(cfg)
	if err != nil {
		return err
	}
	ring, err := ringbuf.New(frames, cfg.Channels)
	if err != nil {
		return fmt.Errorf("failed to allocate ring buffer: %w: %w", ErrAllocation, err)
	}

	id := uuid.New()
	log := s.log.With().Str("session", id.String()).Logger()
	rt := &runtime{
		id:       id,
		cfg:      cfg,
		fn:       fn,
		ring:     ring,
		scratch:  make([]float32, cfg.PeriodSamples()),
		backoff:  s.backoff,
		log:      log,
		panicLog: log.Sample(&zerolog.BurstSampler{Burst: 5, Period: time.Minute}),
	}

	device, err := s.backend.Open(cfg, rt.produce)
	if err != nil {
		return fmt.Errorf("failed to open %s device: %w: %w", s.backend.Name(), ErrDevice, err)
	}
	rt.device = device

	s.rt = rt
	s.state = StateInitialized

	log.Info().
		Str("backend", s.backend.Name()).
		Int("rate", cfg.SampleRateHz).
		Int("channels", cfg.Channels).
		Int("period_frames", cfg.PeriodFrames).
		Int("period_count", cfg.PeriodCount).
		Int("ring_frames", frames).
		Msg("Capture session initialized")
	return nil
}

// ringFrames returns PeriodFrames*PeriodCount*OversampleFactor, rejecting
// sizes that overflow or exceed MaxRingSamples.
func ringFrames(cfg audio.Config) (int, error) {
	limit := MaxRingSamples / cfg.Channels
	if cfg.PeriodFrames > limit/cfg.PeriodCount/OversampleFactor {
		return 0, fmt.Errorf("%w: ring of %d periods of %d frames x %d channels exceeds %d samples",
			ErrAllocation, cfg.PeriodCount*OversampleFactor, cfg.PeriodFrames, cfg.Channels, MaxRingSamples)
	}
	return cfg.PeriodFrames * cfg.PeriodCount * OversampleFactor, nil
}

// Start launches the consumer goroutine and arms the device. Starting a
// started session is a no-op. If the device fails to arm the session stays
// Initialized.
func (s *Session) Start() error {
	switch s.state {
	case StateStarted:
		return nil
	case StateUninitialized:
		return ErrNotInitialized
	}

	rt := s.rt
	rt.launch()
	if err := rt.device.Start(); err != nil {
		rt.halt()
		rt.ring.Reset()
		return fmt.Errorf("failed to start capture: %w: %w", ErrDevice, err)
	}

	s.state = StateStarted
	rt.log.Info().Msg("Capture started")
	return nil
}

// Stop halts the consumer, pauses the device and discards buffered audio.
// It is a no-op unless the session is Started and never fails.
func (s *Session) Stop() {
	if s.state != StateStarted {
		return
	}

	rt := s.rt
	rt.halt()
	if err := rt.device.Stop(); err != nil {
		rt.log.Warn().Err(err).Msg("Error stopping capture device")
	}
	// producer and consumer are both quiescent now
	rt.ring.Reset()

	s.state = StateInitialized
	rt.log.Info().Object("stats", s.Stats()).Msg("Capture stopped")
}

// Shutdown stops the session if needed and releases the device, ring and
// callback. It always succeeds and is idempotent.
func (s *Session) Shutdown() {
	if s.state == StateUninitialized {
		return
	}
	s.Stop()

	rt := s.rt
	if err := rt.device.Close(); err != nil {
		rt.log.Warn().Err(err).Msg("Error closing capture device")
	}
	rt.log.Debug().Msg("Capture session shut down")

	s.rt = nil
	s.state = StateUninitialized
}

// Close shuts the session down. It always returns nil.
func (s *Session) Close() error {
	s.Shutdown()
	return nil
}

// Move transfers the live session (consumer goroutine, buffers, device) to
// a new Session and leaves s Uninitialized. The device is not touched.
func (s *Session) Move() *Session {
	dst := &Session{
		backend: s.backend,
		log:     s.log,
		backoff: s.backoff,
		state:   s.state,
		rt:      s.rt,
	}
	s.rt = nil
	s.state = StateUninitialized
	return dst
}

// TakeFrom shuts s down and then moves other into it. other is left
// Uninitialized. Taking from itself or from nil does nothing.
func (s *Session) TakeFrom(other *Session) {
	if other == nil || other == s {
		return
	}
	s.Shutdown()

	s.backend = other.backend
	s.log = other.log
	s.backoff = other.backoff
	s.state = other.state
	s.rt = other.rt

	other.rt = nil
	other.state = StateUninitialized
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// IsStarted reports whether audio is flowing.
func (s *Session) IsStarted() bool { return s.state == StateStarted }

// Config returns the active capture config, or the zero Config when
// Uninitialized.
func (s *Session) Config() audio.Config {
	if s.rt == nil {
		return audio.Config{}
	}
	return s.rt.cfg
}

// ID identifies the current initialization. It is uuid.Nil when
// Uninitialized and changes on every successful Init.
func (s *Session) ID() uuid.UUID {
	if s.rt == nil {
		return uuid.Nil
	}
	return s.rt.id
}

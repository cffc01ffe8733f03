package inference

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// StreamerOptions configures NewStreamer.
type StreamerOptions struct {
	Logger zerolog.Logger
	Buffer int // token batches held before dropping; default 32
}

// Streamer feeds capture periods to an Engine and publishes emitted tokens.
// OnPeriod has the shape of a capture period callback and runs on the
// consumer goroutine; it never blocks on a slow token reader.
type Streamer struct {
	engine Engine
	log    zerolog.Logger
	errLog zerolog.Logger
	tokens chan []int32

	resetPending atomic.Bool
	closed       atomic.Bool

	steps   atomic.Uint64
	failed  atomic.Uint64
	emitted atomic.Uint64
	dropped atomic.Uint64
}

// StreamerStats counts Streamer activity.
type StreamerStats struct {
	Steps          uint64
	StepErrors     uint64
	TokensEmitted  uint64
	BatchesDropped uint64
}

// NewStreamer wraps a loaded engine.
func NewStreamer(engine Engine, opts StreamerOptions) *Streamer {
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = 32
	}
	return &Streamer{
		engine: engine,
		log:    opts.Logger,
		errLog: opts.Logger.Sample(&zerolog.BurstSampler{Burst: 3, Period: 10 * time.Second}),
		tokens: make(chan []int32, buffer),
	}
}

// OnPeriod runs one engine step over block.
func (s *Streamer) OnPeriod(block []float32, frames, channels int) {
	if s.closed.Load() {
		return
	}
	if s.resetPending.CompareAndSwap(true, false) {
		s.engine.Reset()
		s.log.Debug().Msg("Model state reset")
	}

	s.steps.Add(1)
	toks, err := s.engine.Step(block[:frames*channels])
	if err != nil {
		s.failed.Add(1)
		s.errLog.Warn().Err(err).Msg("Inference step failed")
		return
	}
	if len(toks) == 0 {
		return
	}

	out := make([]int32, len(toks))
	copy(out, toks)
	select {
	case s.tokens <- out:
		s.emitted.Add(uint64(len(out)))
	default:
		// Drop if channel full
		s.dropped.Add(1)
	}
}

// Tokens delivers batches of emitted token ids. It is closed by Close.
func (s *Streamer) Tokens() <-chan []int32 {
	return s.tokens
}

// Reset asks for the engine state to be cleared before the next step.
func (s *Streamer) Reset() {
	s.resetPending.Store(true)
}

// Stats returns the current counters.
func (s *Streamer) Stats() StreamerStats {
	return StreamerStats{
		Steps:          s.steps.Load(),
		StepErrors:     s.failed.Load(),
		TokensEmitted:  s.emitted.Load(),
		BatchesDropped: s.dropped.Load(),
	}
}

// Close closes the token channel. The capture session feeding OnPeriod
// must be stopped first. The engine is left to its owner.
func (s *Streamer) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.tokens)
	}
	return nil
}

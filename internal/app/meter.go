package app

import (
	"math"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// silenceDBFS is reported for an all-zero signal.
const silenceDBFS = -120.0

// Level is a loudness reading over one period.
type Level struct {
	RMS  float32
	Peak float32
}

// DBFS returns the RMS level in decibels relative to full scale.
func (l Level) DBFS() float64 {
	if l.RMS <= 0 {
		return silenceDBFS
	}
	return max(silenceDBFS, 20*math.Log10(float64(l.RMS)))
}

// LevelMeter is a capture callback that measures loudness. OnPeriod runs on
// the consumer goroutine; Level may be read from anywhere.
type LevelMeter struct {
	log   zerolog.Logger
	every int

	// consumer-local accumulation
	periods int
	sumSq   float64
	samples int
	peak    float32

	rms      atomic.Uint32
	lastPeak atomic.Uint32
}

// NewLevelMeter logs a summary every `every` periods; 0 disables logging.
func NewLevelMeter(log zerolog.Logger, every int) *LevelMeter {
	return &LevelMeter{log: log, every: every}
}

func (m *LevelMeter) OnPeriod(block []float32, frames, channels int) {
	n := frames * channels
	var sumSq float64
	var peak float32
	for _, v := range block[:n] {
		sumSq += float64(v) * float64(v)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}

	var rms float32
	if n > 0 {
		rms = float32(math.Sqrt(sumSq / float64(n)))
	}
	m.rms.Store(math.Float32bits(rms))
	m.lastPeak.Store(math.Float32bits(peak))

	if m.every <= 0 {
		return
	}
	m.periods++
	m.sumSq += sumSq
	m.samples += n
	m.peak = max(m.peak, peak)
	if m.periods < m.every {
		return
	}

	window := Level{Peak: m.peak}
	if m.samples > 0 {
		window.RMS = float32(math.Sqrt(m.sumSq / float64(m.samples)))
	}
	m.log.Info().
		Float32("rms", window.RMS).
		Float32("peak", window.Peak).
		Float64("dbfs", window.DBFS()).
		Int("periods", m.periods).
		Msg("Input level")

	m.periods, m.sumSq, m.samples, m.peak = 0, 0, 0, 0
}

// Level returns the reading for the most recent period.
func (m *LevelMeter) Level() Level {
	return Level{
		RMS:  math.Float32frombits(m.rms.Load()),
		Peak: math.Float32frombits(m.lastPeak.Load()),
	}
}

package audio

import (
	"fmt"
	"strings"
	"time"
)

// Config describes the fixed capture format. All fields must be positive.
type Config struct {
	SampleRateHz int
	Channels     int
	PeriodFrames int // frames per delivered block
	PeriodCount  int // device buffering depth in periods
}

// DefaultConfig is 16 kHz mono with 10 ms periods.
func DefaultConfig() Config {
	return Config{
		SampleRateHz: 16000,
		Channels:     1,
		PeriodFrames: 160,
		PeriodCount:  3,
	}
}

// PeriodSamples returns the sample count of one delivered block.
func (c Config) PeriodSamples() int {
	return c.PeriodFrames * c.Channels
}

// PeriodDuration returns the wall-clock length of one period.
func (c Config) PeriodDuration() time.Duration {
	if c.SampleRateHz <= 0 {
		return 0
	}
	return time.Duration(c.PeriodFrames) * time.Second / time.Duration(c.SampleRateHz)
}

// Limits are the ranges a backend supports. Zero means unbounded.
type Limits struct {
	MinSampleRateHz int
	MaxSampleRateHz int
	MaxChannels     int
	MaxPeriodFrames int
}

// ValidationError represents a single invalid field
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:", len(e))
	for _, err := range e {
		sb.WriteString("\n  ")
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Validate checks c against the backend limits. It returns nil or a
// ValidationErrors listing every failing field.
func (c Config) Validate(limits Limits) error {
	var errs ValidationErrors

	positive := func(field string, v int) bool {
		if v <= 0 {
			errs = append(errs, ValidationError{Field: field, Value: v, Message: "must be positive"})
			return false
		}
		return true
	}

	if positive("sample_rate_hz", c.SampleRateHz) {
		if limits.MinSampleRateHz > 0 && c.SampleRateHz < limits.MinSampleRateHz {
			errs = append(errs, ValidationError{Field: "sample_rate_hz", Value: c.SampleRateHz,
				Message: fmt.Sprintf("below backend minimum %d", limits.MinSampleRateHz)})
		}
		if limits.MaxSampleRateHz > 0 && c.SampleRateHz > limits.MaxSampleRateHz {
			errs = append(errs, ValidationError{Field: "sample_rate_hz", Value: c.SampleRateHz,
				Message: fmt.Sprintf("above backend maximum %d", limits.MaxSampleRateHz)})
		}
	}
	if positive("channels", c.Channels) && limits.MaxChannels > 0 && c.Channels > limits.MaxChannels {
		errs = append(errs, ValidationError{Field: "channels", Value: c.Channels,
			Message: fmt.Sprintf("above backend maximum %d", limits.MaxChannels)})
	}
	if positive("period_frames", c.PeriodFrames) && limits.MaxPeriodFrames > 0 && c.PeriodFrames > limits.MaxPeriodFrames {
		errs = append(errs, ValidationError{Field: "period_frames", Value: c.PeriodFrames,
			Message: fmt.Sprintf("above backend maximum %d", limits.MaxPeriodFrames)})
	}
	positive("period_count", c.PeriodCount)

	if len(errs) == 0 {
		return nil
	}
	return errs
}

package capture

import (
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stats is a point-in-time snapshot of a session's counters.
type Stats struct {
	ID               uuid.UUID
	State            State
	PeriodsDelivered uint64
	DroppedFrames    uint64 // discarded by drop-oldest
	Overruns         uint64 // consumer reads lost to a concurrent discard
	CallbackPanics   uint64
	BufferedFrames   int
	CapacityFrames   int
}

// Stats returns the current counters. Counters accumulate across Stop/Start
// and reset on Init.
func (s *Session) Stats() Stats {
	st := Stats{ID: s.ID(), State: s.state}
	rt := s.rt
	if rt == nil {
		return st
	}
	st.PeriodsDelivered = rt.periods.Load()
	st.DroppedFrames = rt.ring.Dropped()
	st.Overruns = rt.ring.Overruns()
	st.CallbackPanics = rt.panics.Load()
	st.BufferedFrames = rt.ring.Len()
	st.CapacityFrames = rt.ring.Cap()
	return st
}

// MarshalZerologObject implements zerolog.LogObjectMarshaler.
func (st Stats) MarshalZerologObject(e *zerolog.Event) {
	e.Str("state", st.State.String()).
		Uint64("periods", st.PeriodsDelivered).
		Uint64("dropped_frames", st.DroppedFrames).
		Uint64("overruns", st.Overruns).
		Uint64("callback_panics", st.CallbackPanics).
		Int("buffered_frames", st.BufferedFrames).
		Int("capacity_frames", st.CapacityFrames)
}

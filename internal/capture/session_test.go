package capture

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Josue-Herrera/Jaxie/internal/audio"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Mock implementations for testing
type fakeBackend struct {
	mu       sync.Mutex
	limits   audio.Limits
	openErr  error
	startErr error
	devices  []*fakeDevice
}

func (b *fakeBackend) Name() string         { return "fake" }
func (b *fakeBackend) Limits() audio.Limits { return b.limits }

func (b *fakeBackend) Open(cfg audio.Config, produce audio.ProducerFunc) (audio.Device, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	d := &fakeDevice{produce: produce, channels: cfg.Channels, startErr: b.startErr}
	b.devices = append(b.devices, d)
	return d, nil
}

func (b *fakeBackend) opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.devices)
}

func (b *fakeBackend) last() *fakeDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.devices[len(b.devices)-1]
}

type fakeDevice struct {
	produce  audio.ProducerFunc
	channels int
	startErr error

	starts atomic.Int32
	stops  atomic.Int32
	closes atomic.Int32
}

func (d *fakeDevice) Start() error {
	if d.startErr != nil {
		return d.startErr
	}
	d.starts.Add(1)
	return nil
}

func (d *fakeDevice) Stop() error {
	d.stops.Add(1)
	return nil
}

func (d *fakeDevice) Close() error {
	d.closes.Add(1)
	return errors.New("close failure is swallowed")
}

// push plays the role of the backend's realtime thread.
func (d *fakeDevice) push(samples []float32) {
	d.produce(samples, len(samples)/d.channels)
}

// recorder is a PeriodFunc that keeps a copy of every block.
type recorder struct {
	mu     sync.Mutex
	blocks [][]float32
}

func (r *recorder) fn(block []float32, frames, channels int) {
	cp := make([]float32, frames*channels)
	copy(cp, block)
	r.mu.Lock()
	r.blocks = append(r.blocks, cp)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blocks)
}

func ramp(start, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(start + i)
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func testConfig() audio.Config {
	return audio.Config{SampleRateHz: 16000, Channels: 1, PeriodFrames: 160, PeriodCount: 3}
}

func newTestSession(b *fakeBackend) *Session {
	return New(Options{Backend: b, Logger: zerolog.Nop()})
}

func TestInitRequiresCallback(t *testing.T) {
	configs := []audio.Config{
		testConfig(),
		{SampleRateHz: 48000, Channels: 2, PeriodFrames: 480, PeriodCount: 2},
		{},
	}
	for _, cfg := range configs {
		b := &fakeBackend{}
		s := newTestSession(b)
		if err := s.Init(cfg, nil); !errors.Is(err, ErrInvalidArgument) {
			t.Fatalf("config %+v: expected ErrInvalidArgument, got %v", cfg, err)
		}
		if s.State() != StateUninitialized {
			t.Errorf("config %+v: expected Uninitialized, got %s", cfg, s.State())
		}
		if b.opened() != 0 {
			t.Errorf("config %+v: device must not be opened", cfg)
		}
	}
}

func TestInitValidation(t *testing.T) {
	limits := audio.Limits{MinSampleRateHz: 8000, MaxSampleRateHz: 48000, MaxChannels: 2}
	noop := func([]float32, int, int) {}

	tests := []struct {
		name    string
		cfg     audio.Config
		wantErr error
	}{
		{"valid", testConfig(), nil},
		{"zero rate", audio.Config{Channels: 1, PeriodFrames: 160, PeriodCount: 3}, ErrInvalidArgument},
		{"negative channels", audio.Config{SampleRateHz: 16000, Channels: -1, PeriodFrames: 160, PeriodCount: 3}, ErrInvalidArgument},
		{"zero period frames", audio.Config{SampleRateHz: 16000, Channels: 1, PeriodCount: 3}, ErrInvalidArgument},
		{"zero period count", audio.Config{SampleRateHz: 16000, Channels: 1, PeriodFrames: 160}, ErrInvalidArgument},
		{"rate beyond backend", audio.Config{SampleRateHz: 96000, Channels: 1, PeriodFrames: 160, PeriodCount: 3}, ErrInvalidArgument},
		{"too many channels", audio.Config{SampleRateHz: 16000, Channels: 6, PeriodFrames: 160, PeriodCount: 3}, ErrInvalidArgument},
		{"ring too large", audio.Config{SampleRateHz: 16000, Channels: 2, PeriodFrames: 1 << 22, PeriodCount: 4}, ErrAllocation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(&fakeBackend{limits: limits})
			err := s.Init(tt.cfg, noop)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				if s.State() != StateInitialized {
					t.Fatalf("expected Initialized, got %s", s.State())
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if s.State() != StateUninitialized {
				t.Fatalf("expected Uninitialized after failure, got %s", s.State())
			}
		})
	}
}

func TestInitValidationErrorsAreInspectable(t *testing.T) {
	s := newTestSession(&fakeBackend{})
	err := s.Init(audio.Config{}, func([]float32, int, int) {})

	var verrs audio.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected audio.ValidationErrors in chain, got %v", err)
	}
	if len(verrs) != 4 {
		t.Fatalf("expected 4 field errors, got %d", len(verrs))
	}
}

func TestInitDeviceOpenFailure(t *testing.T) {
	openErr := errors.New("no such device")
	s := newTestSession(&fakeBackend{openErr: openErr})

	err := s.Init(testConfig(), func([]float32, int, int) {})
	if !errors.Is(err, ErrDevice) || !errors.Is(err, openErr) {
		t.Fatalf("expected ErrDevice wrapping the cause, got %v", err)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("expected Uninitialized, got %s", s.State())
	}
	if s.ID() != uuid.Nil {
		t.Fatal("expected nil ID after failed Init")
	}
}

func TestInitWithoutBackend(t *testing.T) {
	s := New(Options{Logger: zerolog.Nop()})
	if err := s.Init(testConfig(), func([]float32, int, int) {}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestStartWithoutInit(t *testing.T) {
	s := newTestSession(&fakeBackend{})
	if err := s.Start(); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("expected Uninitialized, got %s", s.State())
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)

	s.Stop()
	if s.State() != StateUninitialized {
		t.Fatalf("expected Uninitialized, got %s", s.State())
	}

	if err := s.Init(testConfig(), func([]float32, int, int) {}); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	s.Stop()
	s.Stop()
	if s.State() != StateInitialized {
		t.Fatalf("expected Initialized, got %s", s.State())
	}
	if b.last().stops.Load() != 0 {
		t.Fatal("expected device Stop not to be called")
	}
}

func TestStartTwiceIsIdempotent(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	if err := s.Init(testConfig(), func([]float32, int, int) {}); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	defer s.Shutdown()

	first := s.Start()
	second := s.Start()
	if first != nil || second != nil {
		t.Fatalf("expected nil from both starts, got %v and %v", first, second)
	}
	if !s.IsStarted() {
		t.Fatal("expected Started")
	}
	if n := s.rt.loops.Load(); n != 1 {
		t.Fatalf("expected exactly 1 consumer goroutine, got %d", n)
	}
	if n := b.last().starts.Load(); n != 1 {
		t.Fatalf("expected device armed once, got %d", n)
	}
}

func TestStartFailureLeavesInitialized(t *testing.T) {
	armErr := errors.New("device busy")
	b := &fakeBackend{startErr: armErr}
	s := newTestSession(b)

	var calls atomic.Int32
	if err := s.Init(testConfig(), func([]float32, int, int) { calls.Add(1) }); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}

	err := s.Start()
	if !errors.Is(err, ErrDevice) || !errors.Is(err, armErr) {
		t.Fatalf("expected ErrDevice wrapping the cause, got %v", err)
	}
	if s.State() != StateInitialized {
		t.Fatalf("expected Initialized after failed start, got %s", s.State())
	}
	if n := s.rt.loops.Load(); n != 0 {
		t.Fatalf("expected consumer to be joined, %d still running", n)
	}

	s.Stop()
	if s.State() != StateInitialized {
		t.Fatalf("expected Initialized after Stop, got %s", s.State())
	}
	s.Shutdown()
	if s.State() != StateUninitialized {
		t.Fatalf("expected Uninitialized after Shutdown, got %s", s.State())
	}
	if n := b.last().closes.Load(); n != 1 {
		t.Fatalf("expected device closed once, got %d", n)
	}
	if calls.Load() != 0 {
		t.Fatal("callback must not run when capture never started")
	}
}

func TestBurstDrainedInPeriods(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	rec := &recorder{}
	if err := s.Init(testConfig(), rec.fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	defer s.Shutdown()

	b.last().push(ramp(0, 480))

	waitFor(t, "3 periods", func() bool { return rec.count() >= 3 })
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.blocks) != 3 {
		t.Fatalf("expected exactly 3 callbacks, got %d", len(rec.blocks))
	}
	for i, block := range rec.blocks {
		if len(block) != 160 {
			t.Fatalf("block %d: expected 160 samples, got %d", i, len(block))
		}
		for j, v := range block {
			if want := float32(i*160 + j); v != want {
				t.Fatalf("block %d sample %d: expected %f, got %f", i, j, want, v)
			}
		}
	}
}

func TestStopAndRestartDeliversFreshAudio(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	rec := &recorder{}
	if err := s.Init(testConfig(), rec.fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	defer s.Shutdown()

	if err := s.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	dev := b.last()
	dev.push(ramp(0, 160))
	waitFor(t, "first period", func() bool { return rec.count() == 1 })

	s.Stop()
	if s.State() != StateInitialized {
		t.Fatalf("expected Initialized, got %s", s.State())
	}
	if dev.stops.Load() != 1 {
		t.Fatalf("expected device stopped once, got %d", dev.stops.Load())
	}

	// a partial period left over from before Stop is discarded
	dev.push(ramp(1000, 100))
	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("restart: unexpected error: %v", err)
	}
	s.Stop()
	if err := s.Start(); err != nil {
		t.Fatalf("restart: unexpected error: %v", err)
	}
	dev.push(ramp(5000, 160))
	waitFor(t, "second period", func() bool { return rec.count() == 2 })

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.blocks[1][0] != 5000 {
		t.Fatalf("expected restarted capture to start at fresh audio, got %f", rec.blocks[1][0])
	}
}

func TestShutdownThenReinit(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	fn := func([]float32, int, int) {}

	if err := s.Init(testConfig(), fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	firstID := s.ID()
	first := b.last()

	s.Shutdown()
	s.Shutdown()
	if s.State() != StateUninitialized {
		t.Fatalf("expected Uninitialized, got %s", s.State())
	}
	if first.closes.Load() != 1 {
		t.Fatalf("expected first device closed once, got %d", first.closes.Load())
	}
	if s.Config() != (audio.Config{}) {
		t.Fatal("expected zero Config after Shutdown")
	}

	if err := s.Init(testConfig(), fn); err != nil {
		t.Fatalf("re-Init: unexpected error: %v", err)
	}
	defer s.Close()
	if b.opened() != 2 {
		t.Fatalf("expected a second device handle, got %d", b.opened())
	}
	if s.ID() == firstID || s.ID() == uuid.Nil {
		t.Fatal("expected a fresh session ID after re-Init")
	}
}

func TestInitOnLiveSessionTearsDownFirst(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	fn := func([]float32, int, int) {}

	if err := s.Init(testConfig(), fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	first := b.last()

	cfg := audio.Config{SampleRateHz: 48000, Channels: 2, PeriodFrames: 480, PeriodCount: 2}
	if err := s.Init(cfg, fn); err != nil {
		t.Fatalf("re-Init: unexpected error: %v", err)
	}
	defer s.Shutdown()

	if first.stops.Load() != 1 || first.closes.Load() != 1 {
		t.Fatalf("expected previous device stopped and closed, got stops=%d closes=%d",
			first.stops.Load(), first.closes.Load())
	}
	if s.State() != StateInitialized {
		t.Fatalf("expected Initialized, got %s", s.State())
	}
	if s.Config() != cfg {
		t.Fatalf("expected new config %+v, got %+v", cfg, s.Config())
	}
}

func TestFailedReinitLeavesUninitialized(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	fn := func([]float32, int, int) {}

	if err := s.Init(testConfig(), fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	first := b.last()

	if err := s.Init(testConfig(), nil); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if s.State() != StateUninitialized {
		t.Fatalf("expected Uninitialized, got %s", s.State())
	}
	if first.closes.Load() != 1 {
		t.Fatal("expected previous device closed")
	}
}

func TestMoveStartedSession(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	rec := &recorder{}
	if err := s.Init(testConfig(), rec.fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	id := s.ID()
	dev := b.last()

	moved := s.Move()
	defer moved.Shutdown()

	if s.State() != StateUninitialized {
		t.Fatalf("moved-from: expected Uninitialized, got %s", s.State())
	}
	if !moved.IsStarted() || moved.ID() != id {
		t.Fatalf("moved-to: expected Started session %s, got %s (%s)", id, moved.State(), moved.ID())
	}

	s.Stop()
	s.Shutdown()
	if dev.stops.Load() != 0 || dev.closes.Load() != 0 {
		t.Fatal("moved-from session must not touch the device")
	}

	dev.push(ramp(0, 320))
	waitFor(t, "callbacks on moved session", func() bool { return moved.Stats().PeriodsDelivered == 2 })

	if rec.count() != 2 {
		t.Fatalf("expected 2 recorded periods, got %d", rec.count())
	}
}

func TestTakeFrom(t *testing.T) {
	b := &fakeBackend{}
	fn := func([]float32, int, int) {}

	dst := newTestSession(b)
	if err := dst.Init(testConfig(), fn); err != nil {
		t.Fatalf("Init dst: unexpected error: %v", err)
	}
	old := b.last()

	src := newTestSession(b)
	if err := src.Init(testConfig(), fn); err != nil {
		t.Fatalf("Init src: unexpected error: %v", err)
	}
	if err := src.Start(); err != nil {
		t.Fatalf("Start src: unexpected error: %v", err)
	}
	live := b.last()

	dst.TakeFrom(src)
	defer dst.Shutdown()

	if old.closes.Load() != 1 {
		t.Fatal("expected destination's previous device to be closed")
	}
	if src.State() != StateUninitialized {
		t.Fatalf("source: expected Uninitialized, got %s", src.State())
	}
	if !dst.IsStarted() {
		t.Fatalf("destination: expected Started, got %s", dst.State())
	}

	dst.TakeFrom(dst)
	dst.TakeFrom(nil)
	if !dst.IsStarted() || live.closes.Load() != 0 {
		t.Fatal("self or nil TakeFrom must not change the session")
	}
}

func TestCallbackPanicIsRecovered(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)

	var calls atomic.Int32
	fn := func([]float32, int, int) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
	}
	if err := s.Init(testConfig(), fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	defer s.Shutdown()

	b.last().push(ramp(0, 320))
	waitFor(t, "both periods", func() bool { return calls.Load() == 2 })
	waitFor(t, "stats", func() bool { return s.Stats().PeriodsDelivered == 1 })

	st := s.Stats()
	if st.CallbackPanics != 1 {
		t.Fatalf("expected 1 recovered panic, got %d", st.CallbackPanics)
	}
	if !s.IsStarted() {
		t.Fatal("expected capture to keep running after a callback panic")
	}
}

func TestOverflowDropsOldestAndIsCounted(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	if err := s.Init(testConfig(), func([]float32, int, int) {}); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	defer s.Shutdown()

	capacity := s.Stats().CapacityFrames
	if want := 160 * 3 * OversampleFactor; capacity != want {
		t.Fatalf("expected capacity %d, got %d", want, capacity)
	}

	// no consumer running: everything beyond capacity is dropped
	b.last().push(ramp(0, capacity+160))

	st := s.Stats()
	if st.DroppedFrames != 160 {
		t.Fatalf("expected 160 dropped frames, got %d", st.DroppedFrames)
	}
	if st.BufferedFrames != capacity {
		t.Fatalf("expected full ring (%d), got %d", capacity, st.BufferedFrames)
	}
}

func TestProducerToleratesBadInput(t *testing.T) {
	b := &fakeBackend{}
	s := newTestSession(b)
	cfg := audio.Config{SampleRateHz: 16000, Channels: 2, PeriodFrames: 160, PeriodCount: 3}
	if err := s.Init(cfg, func([]float32, int, int) {}); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	defer s.Shutdown()

	produce := b.last().produce
	produce(nil, 0)
	produce(nil, 10)
	produce([]float32{}, 10)
	if n := s.Stats().BufferedFrames; n != 0 {
		t.Fatalf("expected empty buffers to be ignored, got %d frames", n)
	}

	// frame count larger than the slice is clamped to whole frames
	produce(make([]float32, 7), 100)
	if n := s.Stats().BufferedFrames; n != 3 {
		t.Fatalf("expected 3 whole frames, got %d", n)
	}
}

func TestSyntheticBackendEndToEnd(t *testing.T) {
	s := New(Options{
		Backend: audio.NewSynthetic(audio.SyntheticOptions{FrequencyHz: 200, Amplitude: 0.5}),
		Logger:  zerolog.Nop(),
	})
	rec := &recorder{}
	cfg := audio.Config{SampleRateHz: 16000, Channels: 1, PeriodFrames: 160, PeriodCount: 2}
	if err := s.Init(cfg, rec.fn); err != nil {
		t.Fatalf("Init: unexpected error: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}

	waitFor(t, "synthetic periods", func() bool { return rec.count() >= 5 })
	s.Shutdown()

	after := rec.count()
	time.Sleep(30 * time.Millisecond)
	if rec.count() != after {
		t.Fatal("expected no callbacks after Shutdown")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateUninitialized: "uninitialized",
		StateInitialized:   "initialized",
		StateStarted:       "started",
		State(42):          "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(state), got, want)
		}
	}
}

func TestStopWaitsForInFlightCallback(t *testing.T) {
	const hold = 100 * time.Millisecond

	tests := []struct {
		name string
		stop func(*Session)
		want State
	}{
		{"stop", (*Session).Stop, StateInitialized},
		{"shutdown", (*Session).Shutdown, StateUninitialized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			s := newTestSession(b)

			var inFlight, calls atomic.Int32
			entered := make(chan struct{})
			var once sync.Once
			fn := func([]float32, int, int) {
				inFlight.Add(1)
				calls.Add(1)
				once.Do(func() { close(entered) })
				time.Sleep(hold)
				inFlight.Add(-1)
			}

			if err := s.Init(testConfig(), fn); err != nil {
				t.Fatalf("Init: unexpected error: %v", err)
			}
			defer s.Shutdown()
			if err := s.Start(); err != nil {
				t.Fatalf("Start: unexpected error: %v", err)
			}

			dev := b.last()
			dev.push(ramp(0, 160))
			select {
			case <-entered:
			case <-time.After(2 * time.Second):
				t.Fatal("callback was never invoked")
			}

			// overflow the ring while the consumer is busy
			capacity := s.Stats().CapacityFrames
			dev.push(ramp(160, capacity+320))

			begin := time.Now()
			tt.stop(s)
			elapsed := time.Since(begin)

			if n := inFlight.Load(); n != 0 {
				t.Fatalf("%s returned with %d callbacks still running", tt.name, n)
			}
			if elapsed > hold+time.Second {
				t.Fatalf("%s took %v, expected at most one callback plus backoff", tt.name, elapsed)
			}
			if s.State() != tt.want {
				t.Fatalf("expected state %s, got %s", tt.want, s.State())
			}
			if dev.stops.Load() != 1 {
				t.Fatalf("expected the device to be stopped once, got %d", dev.stops.Load())
			}

			n := calls.Load()
			time.Sleep(20 * time.Millisecond)
			if calls.Load() != n {
				t.Fatalf("callback invoked after %s returned", tt.name)
			}
		})
	}
}

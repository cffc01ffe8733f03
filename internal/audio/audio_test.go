package audio

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"
	"unsafe"

	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	limits := Limits{MinSampleRateHz: 8000, MaxSampleRateHz: 48000, MaxChannels: 2, MaxPeriodFrames: 4096}

	tests := []struct {
		name       string
		cfg        Config
		wantFields []string
	}{
		{
			name: "default is valid",
			cfg:  DefaultConfig(),
		},
		{
			name:       "zero sample rate",
			cfg:        Config{SampleRateHz: 0, Channels: 1, PeriodFrames: 160, PeriodCount: 3},
			wantFields: []string{"sample_rate_hz"},
		},
		{
			name:       "all fields zero",
			cfg:        Config{},
			wantFields: []string{"sample_rate_hz", "channels", "period_frames", "period_count"},
		},
		{
			name:       "negative period count",
			cfg:        Config{SampleRateHz: 16000, Channels: 1, PeriodFrames: 160, PeriodCount: -1},
			wantFields: []string{"period_count"},
		},
		{
			name:       "rate above backend maximum",
			cfg:        Config{SampleRateHz: 96000, Channels: 1, PeriodFrames: 160, PeriodCount: 3},
			wantFields: []string{"sample_rate_hz"},
		},
		{
			name:       "too many channels and frames",
			cfg:        Config{SampleRateHz: 16000, Channels: 8, PeriodFrames: 8192, PeriodCount: 3},
			wantFields: []string{"channels", "period_frames"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate(limits)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("expected valid config, got %v", err)
				}
				return
			}

			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T (%v)", err, err)
			}
			if len(verrs) != len(tt.wantFields) {
				t.Fatalf("expected %d errors, got %d: %v", len(tt.wantFields), len(verrs), verrs)
			}
			for i, field := range tt.wantFields {
				if verrs[i].Field != field {
					t.Errorf("error %d: expected field %s, got %s", i, field, verrs[i].Field)
				}
			}
		})
	}
}

func TestConfigValidateUnboundedLimits(t *testing.T) {
	cfg := Config{SampleRateHz: 1, Channels: 64, PeriodFrames: 1 << 20, PeriodCount: 1}
	if err := cfg.Validate(Limits{}); err != nil {
		t.Fatalf("expected no error with unbounded limits, got %v", err)
	}
}

func TestPeriodDuration(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.PeriodDuration(); got != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", got)
	}
	if got := cfg.PeriodSamples(); got != 160 {
		t.Errorf("expected 160 samples, got %d", got)
	}
	if got := (Config{}).PeriodDuration(); got != 0 {
		t.Errorf("expected 0 for zero rate, got %v", got)
	}
}

func TestNewBackend(t *testing.T) {
	for _, name := range []string{DefaultBackend(), "miniaudio", "synthetic", "null", " Synthetic "} {
		b, err := NewBackend(name, BackendOptions{Logger: zerolog.Nop()})
		if err != nil {
			t.Fatalf("NewBackend(%q): unexpected error: %v", name, err)
		}
		if b == nil {
			t.Fatalf("NewBackend(%q): nil backend", name)
		}
	}

	if _, err := NewBackend("alsa-direct", BackendOptions{}); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("expected ErrUnknownBackend, got %v", err)
	}
}

func TestBackendsSorted(t *testing.T) {
	want := []string{"miniaudio", "null", "synthetic"}
	if DefaultBackend() == "portaudio" {
		want = []string{"miniaudio", "null", "portaudio", "synthetic"}
	}
	got := Backends()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestNullDeviceNeverStarts(t *testing.T) {
	dev, err := NewNull().Open(DefaultConfig(), func([]float32, int) {})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}
	if err := dev.Start(); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
	if err := dev.Stop(); err != nil {
		t.Errorf("Stop: unexpected error: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Errorf("Close: unexpected error: %v", err)
	}
}

func TestSyntheticDeliversPeriods(t *testing.T) {
	cfg := Config{SampleRateHz: 8000, Channels: 2, PeriodFrames: 80, PeriodCount: 2}

	var (
		mu      sync.Mutex
		periods int
		badSize bool
		peak    float32
	)
	dev, err := NewSynthetic(SyntheticOptions{FrequencyHz: 500, Amplitude: 0.5}).Open(cfg, func(samples []float32, frames int) {
		mu.Lock()
		defer mu.Unlock()
		periods++
		if frames != cfg.PeriodFrames || len(samples) != cfg.PeriodSamples() {
			badSize = true
		}
		for i := 0; i < len(samples); i += cfg.Channels {
			if samples[i] != samples[i+1] {
				badSize = true
			}
			if a := float32(math.Abs(float64(samples[i]))); a > peak {
				peak = a
			}
		}
	})
	if err != nil {
		t.Fatalf("Open: unexpected error: %v", err)
	}

	if err := dev.Start(); err != nil {
		t.Fatalf("Start: unexpected error: %v", err)
	}
	// a second Start is a no-op
	if err := dev.Start(); err != nil {
		t.Fatalf("second Start: unexpected error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := periods
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected at least 3 periods, got %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := dev.Stop(); err != nil {
		t.Fatalf("Stop: unexpected error: %v", err)
	}

	mu.Lock()
	after := periods
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()

	if periods != after {
		t.Errorf("expected no callbacks after Stop, got %d more", periods-after)
	}
	if badSize {
		t.Error("expected every period to carry PeriodFrames identical-channel frames")
	}
	if peak <= 0 || peak > 0.5001 {
		t.Errorf("expected peak within (0, 0.5], got %f", peak)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}
	if err := dev.Start(); err == nil {
		t.Fatal("expected Start after Close to fail")
	}
}

func TestBytesAsFloat32(t *testing.T) {
	src := []float32{1.5, -2.25, 0}
	b := unsafeBytes(src)
	got := bytesAsFloat32(b)
	if len(got) != len(src) {
		t.Fatalf("expected %d samples, got %d", len(src), len(got))
	}
	for i := range src {
		if got[i] != src[i] {
			t.Errorf("sample %d: expected %f, got %f", i, src[i], got[i])
		}
	}
	if bytesAsFloat32(nil) != nil {
		t.Error("expected nil for empty input")
	}
}

func unsafeBytes(f []float32) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(&f[0])), len(f)*4)
}

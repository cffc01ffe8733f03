//go:build !noportaudio

package audio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

var portAudioLimits = Limits{
	MinSampleRateHz: 8000,
	MaxSampleRateHz: 192000,
	MaxChannels:     32,
	MaxPeriodFrames: 1 << 16,
}

func init() {
	constructors["portaudio"] = func(o BackendOptions) Backend { return NewPortAudio(o) }
}

type portAudioBackend struct {
	deviceID string
	log      zerolog.Logger
}

// NewPortAudio creates a PortAudio-based capture backend
func NewPortAudio(opts BackendOptions) Backend {
	return &portAudioBackend{
		deviceID: opts.DeviceID,
		log:      opts.Logger,
	}
}

func (p *portAudioBackend) Name() string   { return "portaudio" }
func (p *portAudioBackend) Limits() Limits { return portAudioLimits }

// Open initializes PortAudio (reference counted by the library) and opens a
// callback stream delivering interleaved float32 periods.
func (p *portAudioBackend) Open(cfg Config, produce ProducerFunc) (Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := findInputDevice(p.deviceID)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}

	channels := cfg.Channels
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRateHz),
		FramesPerBuffer: cfg.PeriodFrames,
	}

	stream, err := portaudio.OpenStream(params, func(in []float32) {
		produce(in, len(in)/channels)
	})
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	p.log.Debug().
		Str("device", device.Name).
		Int("rate", cfg.SampleRateHz).
		Int("channels", channels).
		Int("period_frames", cfg.PeriodFrames).
		Msg("PortAudio stream opened")

	return &portAudioStream{stream: stream}, nil
}

// Devices lists input-capable devices.
func (p *portAudioBackend) Devices() ([]AudioDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:       d.Name,
				Name:     d.Name,
				Channels: d.MaxInputChannels,
				Default:  defaultDevice != nil && d.Name == defaultDevice.Name,
			})
		}
	}

	return result, nil
}

func findInputDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w: %w", ErrNoDevice, err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("device not found: %s: %w", deviceID, ErrNoDevice)
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error {
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("failed to start audio stream: %w", err)
	}
	return nil
}

// Stop waits for the pending callback to return.
func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	err := s.stream.Close()
	portaudio.Terminate()
	return err
}

package audio

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

var miniaudioLimits = Limits{
	MinSampleRateHz: 8000,
	MaxSampleRateHz: 384000,
	MaxChannels:     254,
}

type miniaudioBackend struct {
	deviceID string
	log      zerolog.Logger
}

// NewMiniaudio creates a capture backend on top of miniaudio.
func NewMiniaudio(opts BackendOptions) Backend {
	return &miniaudioBackend{
		deviceID: opts.DeviceID,
		log:      opts.Logger,
	}
}

func (m *miniaudioBackend) Name() string   { return "miniaudio" }
func (m *miniaudioBackend) Limits() Limits { return miniaudioLimits }

func (m *miniaudioBackend) initContext() (*malgo.AllocatedContext, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		m.log.Debug().Str("backend", "miniaudio").Msg(strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return ctx, nil
}

func (m *miniaudioBackend) Open(cfg Config, produce ProducerFunc) (Device, error) {
	ctx, err := m.initContext()
	if err != nil {
		return nil, err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRateHz)
	deviceConfig.PeriodSizeInFrames = uint32(cfg.PeriodFrames)
	deviceConfig.Periods = uint32(cfg.PeriodCount)

	if m.deviceID != "" {
		info, err := findMalgoDevice(ctx, m.deviceID)
		if err != nil {
			freeContext(ctx)
			return nil, err
		}
		deviceConfig.Capture.DeviceID = info.ID.Pointer()
	}

	channels := cfg.Channels
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			samples := bytesAsFloat32(input)
			frames := int(frameCount)
			if need := frames * channels; need < len(samples) {
				samples = samples[:need]
			}
			produce(samples, len(samples)/channels)
		},
	}

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, callbacks)
	if err != nil {
		freeContext(ctx)
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}

	m.log.Debug().
		Int("rate", cfg.SampleRateHz).
		Int("channels", channels).
		Int("period_frames", cfg.PeriodFrames).
		Int("period_count", cfg.PeriodCount).
		Msg("miniaudio device opened")

	return &miniaudioDevice{ctx: ctx, device: device}, nil
}

func (m *miniaudioBackend) Devices() ([]AudioDevice, error) {
	ctx, err := m.initContext()
	if err != nil {
		return nil, err
	}
	defer freeContext(ctx)

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(infos))
	for _, info := range infos {
		result = append(result, AudioDevice{
			ID:      info.ID.String(),
			Name:    info.Name(),
			Default: info.IsDefault != 0,
		})
	}
	return result, nil
}

// findMalgoDevice matches deviceID against the device id string or name.
func findMalgoDevice(ctx *malgo.AllocatedContext, deviceID string) (malgo.DeviceInfo, error) {
	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceInfo{}, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, info := range infos {
		if info.ID.String() == deviceID || info.Name() == deviceID {
			return info, nil
		}
	}
	return malgo.DeviceInfo{}, fmt.Errorf("device not found: %s: %w", deviceID, ErrNoDevice)
}

func freeContext(ctx *malgo.AllocatedContext) {
	_ = ctx.Uninit()
	ctx.Free()
}

// bytesAsFloat32 reinterprets a little-endian f32 buffer without copying.
func bytesAsFloat32(b []byte) []float32 {
	if len(b) < 4 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), len(b)/4)
}

type miniaudioDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device
}

func (d *miniaudioDevice) Start() error {
	if err := d.device.Start(); err != nil {
		return fmt.Errorf("failed to start capture device: %w", err)
	}
	return nil
}

// Stop is synchronous: miniaudio returns once the data callback has exited.
func (d *miniaudioDevice) Stop() error {
	return d.device.Stop()
}

func (d *miniaudioDevice) Close() error {
	d.device.Uninit()
	freeContext(d.ctx)
	return nil
}

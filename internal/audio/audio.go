package audio

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrNoDevice is returned when no usable input device exists.
	ErrNoDevice = errors.New("audio: no capture device available")
	// ErrUnknownBackend is returned by NewBackend for an unregistered name.
	ErrUnknownBackend = errors.New("audio: unknown backend")
)

// ProducerFunc receives freshly captured interleaved samples on a thread
// owned by the backend. Implementations must not block, allocate, or panic,
// and must not retain samples after returning.
type ProducerFunc func(samples []float32, frames int)

// Backend opens capture devices.
type Backend interface {
	Name() string
	Limits() Limits
	Open(cfg Config, produce ProducerFunc) (Device, error)
}

// Device is an opened capture handle. Stop must not return while produce
// may still be invoked. Close releases the handle; it is never reused.
type Device interface {
	Start() error
	Stop() error
	Close() error
}

// DeviceLister is implemented by backends that can enumerate inputs.
type DeviceLister interface {
	Devices() ([]AudioDevice, error)
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID       string
	Name     string
	Channels int
	Default  bool
}

// BackendOptions configures NewBackend.
type BackendOptions struct {
	DeviceID  string // empty = system default
	Logger    zerolog.Logger
	Synthetic SyntheticOptions
}

// constructors holds the backends compiled into this build. portaudio
// registers itself unless built with -tags noportaudio.
var constructors = map[string]func(BackendOptions) Backend{
	"miniaudio": func(o BackendOptions) Backend { return NewMiniaudio(o) },
	"synthetic": func(o BackendOptions) Backend { return NewSynthetic(o.Synthetic) },
	"null":      func(BackendOptions) Backend { return NewNull() },
}

// NewBackend returns the backend registered under name.
func NewBackend(name string, opts BackendOptions) (Backend, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %s)", ErrUnknownBackend, name, strings.Join(Backends(), ", "))
	}
	return ctor(opts), nil
}

// DefaultBackend returns portaudio when it is compiled in, miniaudio otherwise.
func DefaultBackend() string {
	if _, ok := constructors["portaudio"]; ok {
		return "portaudio"
	}
	return "miniaudio"
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

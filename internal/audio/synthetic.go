package audio

import (
	"errors"
	"math"
	"sync"
	"time"
)

// SyntheticOptions shapes the tone produced by the synthetic backend.
type SyntheticOptions struct {
	FrequencyHz float64
	Amplitude   float32
}

func (o SyntheticOptions) withDefaults() SyntheticOptions {
	if o.FrequencyHz <= 0 {
		o.FrequencyHz = 440
	}
	if o.Amplitude <= 0 || o.Amplitude > 1 {
		o.Amplitude = 0.25
	}
	return o
}

type syntheticBackend struct {
	opts SyntheticOptions
}

// NewSynthetic returns a backend that delivers a sine tone on a timer, one
// period per tick. It needs no audio hardware.
func NewSynthetic(opts SyntheticOptions) Backend {
	return &syntheticBackend{opts: opts.withDefaults()}
}

func (s *syntheticBackend) Name() string   { return "synthetic" }
func (s *syntheticBackend) Limits() Limits { return Limits{} }

func (s *syntheticBackend) Open(cfg Config, produce ProducerFunc) (Device, error) {
	return &syntheticDevice{
		cfg:     cfg,
		opts:    s.opts,
		produce: produce,
		buf:     make([]float32, cfg.PeriodSamples()),
	}, nil
}

func (s *syntheticBackend) Devices() ([]AudioDevice, error) {
	return []AudioDevice{{ID: "synthetic", Name: "Synthetic sine", Channels: 2, Default: true}}, nil
}

type syntheticDevice struct {
	cfg     Config
	opts    SyntheticOptions
	produce ProducerFunc
	buf     []float32

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	closed  bool
	samples uint64 // frames generated so far; owned by the run goroutine
}

var errDeviceClosed = errors.New("audio: device closed")

func (d *syntheticDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return errDeviceClosed
	}
	if d.stop != nil {
		return nil
	}
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.run(d.stop, d.done)
	return nil
}

func (d *syntheticDevice) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(d.cfg.PeriodDuration())
	defer ticker.Stop()

	step := 2 * math.Pi * d.opts.FrequencyHz / float64(d.cfg.SampleRateHz)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for f := 0; f < d.cfg.PeriodFrames; f++ {
				v := d.opts.Amplitude * float32(math.Sin(step*float64(d.samples)))
				d.samples++
				for c := 0; c < d.cfg.Channels; c++ {
					d.buf[f*d.cfg.Channels+c] = v
				}
			}
			d.produce(d.buf, d.cfg.PeriodFrames)
		}
	}
}

// Stop returns after the generator goroutine has exited.
func (d *syntheticDevice) Stop() error {
	d.mu.Lock()
	stop, done := d.stop, d.done
	d.stop, d.done = nil, nil
	d.mu.Unlock()

	if stop == nil {
		return nil
	}
	close(stop)
	<-done
	return nil
}

func (d *syntheticDevice) Close() error {
	err := d.Stop()
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return err
}

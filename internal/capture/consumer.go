package capture

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Josue-Herrera/Jaxie/internal/audio"
	"github.com/Josue-Herrera/Jaxie/internal/ringbuf"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// runtime is everything a live session owns. It is referenced by the
// producer closure and the consumer goroutine, so it survives Move.
type runtime struct {
	id      uuid.UUID
	cfg     audio.Config
	fn      PeriodFunc
	ring    *ringbuf.RingBuffer
	scratch []float32
	device  audio.Device
	backoff time.Duration

	log      zerolog.Logger
	panicLog zerolog.Logger

	stop  atomic.Bool
	wg    sync.WaitGroup
	loops atomic.Int32

	periods atomic.Uint64
	panics  atomic.Uint64
}

// produce runs on the backend thread: ring writes only.
func (rt *runtime) produce(samples []float32, frames int) {
	if frames <= 0 || len(samples) == 0 {
		return
	}
	ch := rt.cfg.Channels
	n := frames * ch
	if n > len(samples) {
		n = len(samples) - len(samples)%ch
	}
	rt.ring.Write(samples[:n])
}

func (rt *runtime) launch() {
	rt.stop.Store(false)
	rt.loops.Add(1)
	rt.wg.Add(1)
	go rt.consume()
}

// halt signals the consumer and waits for it to exit.
func (rt *runtime) halt() {
	rt.stop.Store(true)
	rt.wg.Wait()
}

func (rt *runtime) consume() {
	defer func() {
		rt.loops.Add(-1)
		rt.wg.Done()
	}()

	for !rt.stop.Load() {
		if !rt.ring.ReadFull(rt.scratch) {
			time.Sleep(rt.backoff)
			continue
		}
		rt.deliver()
	}
}

// deliver invokes the callback, recovering a panic so capture keeps going.
func (rt *runtime) deliver() {
	defer func() {
		if r := recover(); r != nil {
			rt.panics.Add(1)
			rt.panicLog.Error().Interface("panic", r).Msg("Period callback panicked")
		}
	}()
	rt.fn(rt.scratch, rt.cfg.PeriodFrames, rt.cfg.Channels)
	rt.periods.Add(1)
}

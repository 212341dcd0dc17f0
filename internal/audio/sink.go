package audio

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jscyril/streamplayer/internal/ring"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Sink accepts decoded audio for playback
type Sink interface {
	Write(buf *AudioBuffer) error
	// Flush pushes out held audio and waits for the device to play it
	Flush() error
	// Clear drops queued audio
	Clear()
	Close() error
}

// SinkOpener opens a sink for decoded audio of the given spec.
// durationHint is the largest frame count a single Write will carry.
type SinkOpener func(spec SignalSpec, durationHint int) (Sink, error)

// OutputOptions tunes an Output
type OutputOptions struct {
	RingDuration time.Duration
	WriteTimeout time.Duration
	Logger       logrus.FieldLogger
}

// Output feeds a Backend through a ring buffer, resampling to the device
// rate when needed.
type Output struct {
	backend   Backend
	spec      SignalSpec
	channels  int
	ring      *ring.Buffer
	resampler *Resampler
	timeout   time.Duration
	scratch   []float32
	log       logrus.FieldLogger

	underruns atomic.Int64
	closed    bool
}

// NewSinkOpener returns an opener that builds Outputs on backend
func NewSinkOpener(backend Backend, opts OutputOptions) SinkOpener {
	return func(spec SignalSpec, durationHint int) (Sink, error) {
		return OpenOutput(backend, spec, durationHint, opts)
	}
}

// OpenOutput starts playback of spec-shaped audio on backend
func OpenOutput(backend Backend, spec SignalSpec, durationHint int, opts OutputOptions) (*Output, error) {
	if spec.Rate <= 0 || spec.Channels <= 0 {
		return nil, fmt.Errorf("%w: invalid signal spec %+v", playerrors.ErrDevice, spec)
	}
	if opts.RingDuration <= 0 {
		opts.RingDuration = 200 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	rate := backend.SampleRate()
	channels := backend.Channels()
	if rate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("%w: backend %s reports %d Hz x %d", playerrors.ErrDevice, backend.Name(), rate, channels)
	}

	size := int(opts.RingDuration.Milliseconds()) * rate / 1000 * channels
	o := &Output{
		backend:  backend,
		spec:     spec,
		channels: channels,
		ring:     ring.New(size),
		timeout:  opts.WriteTimeout,
		scratch:  make([]float32, 0, max(durationHint, 1)*channels),
		log: opts.Logger.WithFields(logrus.Fields{
			"backend": backend.Name(),
			"rate":    rate,
		}),
	}
	if spec.Rate != rate {
		o.resampler = NewResampler(spec.Rate, rate)
	}

	if err := backend.Start(o.fill); err != nil {
		o.ring.Close()
		return nil, err
	}
	o.log.WithField("source_rate", spec.Rate).Debug("output opened")
	return o, nil
}

// Underruns returns how many device callbacks found the ring short
func (o *Output) Underruns() int64 {
	return o.underruns.Load()
}

// fill runs on the device's real-time path and never blocks
func (o *Output) fill(out []float32) {
	n := o.ring.Read(out)
	if n < len(out) {
		clear(out[n:])
		o.underruns.Add(1)
	}
}

func (o *Output) Write(buf *AudioBuffer) error {
	if o.closed {
		return fmt.Errorf("%w: output closed", playerrors.ErrDevice)
	}
	if buf.Spec.Rate != o.spec.Rate {
		return fmt.Errorf("%w: signal rate changed from %d to %d", playerrors.ErrDevice, o.spec.Rate, buf.Spec.Rate)
	}

	frames := buf.Frames
	if o.resampler != nil {
		frames = o.resampler.Resample(frames)
	}
	return o.push(frames)
}

func (o *Output) push(frames [][2]float64) error {
	if len(frames) == 0 {
		return nil
	}
	o.scratch = interleave(o.scratch[:0], frames, o.channels)
	if err := o.ring.Write(o.scratch, o.timeout); err != nil {
		if errors.Is(err, ring.ErrTimeout) {
			return fmt.Errorf("%w: device stopped consuming audio", playerrors.ErrDevice)
		}
		return fmt.Errorf("%w: %v", playerrors.ErrDevice, err)
	}
	return nil
}

func (o *Output) Flush() error {
	if o.closed {
		return nil
	}
	if o.resampler != nil {
		if err := o.push(o.resampler.Flush()); err != nil {
			return err
		}
	}

	deadline := time.Now().Add(o.drainLimit())
	for o.ring.Len() > 0 {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: flush timed out with %d samples queued", playerrors.ErrDevice, o.ring.Len())
		}
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// drainLimit bounds Flush: one full ring plus the write timeout
func (o *Output) drainLimit() time.Duration {
	rate := o.backend.SampleRate() * o.channels
	full := time.Duration(o.ring.Cap()) * time.Second / time.Duration(rate)
	return full + o.timeout + 100*time.Millisecond
}

func (o *Output) Clear() {
	o.ring.Reset()
	if o.resampler != nil {
		o.resampler.Reset()
	}
}

func (o *Output) Close() error {
	if o.closed {
		return nil
	}
	o.closed = true
	o.ring.Close()
	o.backend.Stop()
	o.log.WithField("underruns", o.underruns.Load()).Debug("output closed")
	return nil
}

// interleave lays stereo frames out for a device with the given channel count
func interleave(dst []float32, frames [][2]float64, channels int) []float32 {
	for _, f := range frames {
		switch channels {
		case 1:
			dst = append(dst, float32((f[0]+f[1])/2))
		default:
			dst = append(dst, float32(f[0]), float32(f[1]))
			for c := 2; c < channels; c++ {
				dst = append(dst, 0)
			}
		}
	}
	return dst
}

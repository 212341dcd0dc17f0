package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/effects"
	"github.com/faiface/beep/speaker"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
)

// speaker.Init opens the platform device and may only run once per process
var (
	speakerOnce sync.Once
	speakerErr  error
)

// SpeakerBackend plays through the system audio device via beep's speaker.
// The device always runs stereo at the configured rate.
type SpeakerBackend struct {
	rate   beep.SampleRate
	buffer time.Duration
	volume float64

	mu      sync.Mutex
	scratch []float32
	playing bool
}

// NewSpeakerBackend creates a speaker backend. volume is within 0.0 - 1.0.
func NewSpeakerBackend(rate int, buffer time.Duration, volume float64) *SpeakerBackend {
	if buffer <= 0 {
		buffer = time.Second / 10
	}
	return &SpeakerBackend{
		rate:   beep.SampleRate(rate),
		buffer: buffer,
		volume: volume,
	}
}

func (b *SpeakerBackend) Name() string { return "speaker" }
func (b *SpeakerBackend) SampleRate() int { return int(b.rate) }
func (b *SpeakerBackend) Channels() int { return 2 }

func (b *SpeakerBackend) Start(fill func(out []float32)) error {
	speakerOnce.Do(func() {
		speakerErr = speaker.Init(b.rate, b.rate.N(b.buffer))
	})
	if speakerErr != nil {
		return fmt.Errorf("%w: speaker init: %v", playerrors.ErrDevice, speakerErr)
	}

	stream := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		b.mu.Lock()
		defer b.mu.Unlock()

		need := len(samples) * 2
		if cap(b.scratch) < need {
			b.scratch = make([]float32, need)
		}
		buf := b.scratch[:need]
		fill(buf)
		for i := range samples {
			samples[i][0] = float64(buf[2*i])
			samples[i][1] = float64(buf[2*i+1])
		}
		return len(samples), true
	})

	b.mu.Lock()
	b.playing = true
	b.mu.Unlock()

	speaker.Clear()
	speaker.Play(&effects.Volume{
		Streamer: stream,
		Base:     2,
		// Convert 0-1 range to decibel-like scale
		Volume: b.volume*2 - 1,
		Silent: b.volume == 0,
	})
	return nil
}

func (b *SpeakerBackend) Stop() {
	b.mu.Lock()
	playing := b.playing
	b.playing = false
	b.mu.Unlock()

	if playing {
		speaker.Clear()
	}
}

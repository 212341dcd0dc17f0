package audio

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jscyril/streamplayer/internal/config"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
)

// Backend is an output device. Start registers fill as the real-time
// callback; fill must not block.
type Backend interface {
	Name() string
	SampleRate() int
	Channels() int
	Start(fill func(out []float32)) error
	Stop()
}

// SelectBackend picks the device named by cfg. "auto" uses the speaker
// on platforms beep can drive and the null device elsewhere.
func SelectBackend(cfg config.AudioConfig) (Backend, error) {
	name := cfg.Backend
	if name == "" || name == "auto" {
		name = "null"
		switch runtime.GOOS {
		case "linux", "darwin", "windows", "freebsd":
			name = "speaker"
		}
	}

	switch name {
	case "speaker":
		return NewSpeakerBackend(cfg.SampleRate, cfg.SpeakerBuffer.Duration, cfg.Volume), nil
	case "null":
		return NewNullBackend(cfg.SampleRate, 2, 10*time.Millisecond), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", playerrors.ErrDevice, name)
	}
}

// NullBackend consumes audio in real time without a device. It keeps
// playback paced on headless hosts and in tests.
type NullBackend struct {
	rate     int
	channels int
	period   time.Duration

	mu       sync.Mutex
	quit     chan struct{}
	wg       sync.WaitGroup
	consumed atomic.Int64
}

// NewNullBackend creates a device that pulls one period of audio per tick
func NewNullBackend(rate, channels int, period time.Duration) *NullBackend {
	if period <= 0 {
		period = 10 * time.Millisecond
	}
	return &NullBackend{rate: rate, channels: channels, period: period}
}

func (b *NullBackend) Name() string { return "null" }
func (b *NullBackend) SampleRate() int { return b.rate }
func (b *NullBackend) Channels() int { return b.channels }

// Consumed returns the number of samples pulled so far
func (b *NullBackend) Consumed() int64 { return b.consumed.Load() }

func (b *NullBackend) Start(fill func(out []float32)) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.quit != nil {
		return fmt.Errorf("%w: null backend already started", playerrors.ErrDevice)
	}

	frames := int(int64(b.rate) * int64(b.period) / int64(time.Second))
	buf := make([]float32, max(frames, 1)*b.channels)
	quit := make(chan struct{})
	b.quit = quit

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(b.period)
		defer ticker.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ticker.C:
				fill(buf)
				b.consumed.Add(int64(len(buf)))
			}
		}
	}()
	return nil
}

func (b *NullBackend) Stop() {
	b.mu.Lock()
	quit := b.quit
	b.quit = nil
	b.mu.Unlock()

	if quit != nil {
		close(quit)
		b.wg.Wait()
	}
}

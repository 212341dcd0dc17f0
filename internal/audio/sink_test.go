package audio

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jscyril/streamplayer/internal/config"
	"github.com/jscyril/streamplayer/internal/logging"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
)

// manualBackend lets a test drive the device callback by hand
type manualBackend struct {
	mu       sync.Mutex
	rate     int
	channels int
	fill     func([]float32)
	startErr error
	stopped  bool
}

func (b *manualBackend) Name() string { return "manual" }

func (b *manualBackend) SampleRate() int { return b.rate }

func (b *manualBackend) Channels() int { return b.channels }

func (b *manualBackend) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
}

func (b *manualBackend) Start(fill func([]float32)) error {
	if b.startErr != nil {
		return b.startErr
	}
	b.mu.Lock()
	b.fill = fill
	b.mu.Unlock()
	return nil
}

func (b *manualBackend) pull(n int) []float32 {
	out := make([]float32, n)
	b.mu.Lock()
	fill := b.fill
	b.mu.Unlock()
	fill(out)
	return out
}

func testOptions() OutputOptions {
	return OutputOptions{
		RingDuration: 200 * time.Millisecond,
		WriteTimeout: 50 * time.Millisecond,
		Logger:       logging.Discard(),
	}
}

func frames(n int, v float64) [][2]float64 {
	out := make([][2]float64, n)
	for i := range out {
		out[i] = [2]float64{v, -v}
	}
	return out
}

func TestOpenOutput_RingSize(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2}
	o, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 400, testOptions())
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer o.Close()

	// 200 ms x 8000 Hz x 2 channels
	if o.ring.Cap() != 3200 {
		t.Errorf("expected ring of 3200 samples, got %d", o.ring.Cap())
	}
	if o.resampler != nil {
		t.Error("matching rates need no resampler")
	}
}

func TestOpenOutput_InvalidSpec(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2}
	if _, err := OpenOutput(b, SignalSpec{}, 0, testOptions()); !errors.Is(err, playerrors.ErrDevice) {
		t.Errorf("expected ErrDevice, got %v", err)
	}
}

func TestOpenOutput_BackendFailure(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2, startErr: playerrors.ErrDevice}
	if _, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 0, testOptions()); !errors.Is(err, playerrors.ErrDevice) {
		t.Errorf("expected ErrDevice, got %v", err)
	}
}

func TestOutput_WriteAndFill(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2}
	o, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 100, testOptions())
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer o.Close()

	if err := o.Write(&AudioBuffer{Spec: SignalSpec{Rate: 8000, Channels: 2}, Frames: frames(100, 0.5)}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := b.pull(300)
	if out[0] != 0.5 || out[1] != -0.5 {
		t.Errorf("expected interleaved (0.5, -0.5), got (%v, %v)", out[0], out[1])
	}
	for i := 200; i < 300; i++ {
		if out[i] != 0 {
			t.Fatalf("expected silence after the queued audio, got %v at %d", out[i], i)
		}
	}
	if o.Underruns() != 1 {
		t.Errorf("expected 1 underrun, got %d", o.Underruns())
	}
}

func TestOutput_Resamples(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2}
	o, err := OpenOutput(b, SignalSpec{Rate: 4000, Channels: 2}, 100, testOptions())
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer o.Close()

	if err := o.Write(&AudioBuffer{Spec: SignalSpec{Rate: 4000, Channels: 2}, Frames: frames(100, 0.25)}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	// one frame is held back for interpolation
	if got := o.ring.Len(); got != 198*2 {
		t.Errorf("expected 396 samples queued, got %d", got)
	}
}

func TestOutput_MonoDevice(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 1}
	o, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 10, testOptions())
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer o.Close()

	buf := &AudioBuffer{Spec: SignalSpec{Rate: 8000, Channels: 2}, Frames: [][2]float64{{0.5, 0.25}}}
	if err := o.Write(buf); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := b.pull(1)[0]; got != 0.375 {
		t.Errorf("expected downmixed 0.375, got %v", got)
	}
}

func TestOutput_ClearDropsQueuedAudio(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2}
	o, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 100, testOptions())
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer o.Close()

	_ = o.Write(&AudioBuffer{Spec: SignalSpec{Rate: 8000, Channels: 2}, Frames: frames(100, 0.5)})
	o.Clear()
	if o.ring.Len() != 0 {
		t.Errorf("expected empty ring after Clear, got %d", o.ring.Len())
	}
}

func TestOutput_WriteTimesOutWhenDeviceStalls(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2}
	o, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 2000, testOptions())
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer o.Close()

	// 2000 frames do not fit a 1600 frame ring that nobody drains
	err = o.Write(&AudioBuffer{Spec: SignalSpec{Rate: 8000, Channels: 2}, Frames: frames(2000, 0.1)})
	if !errors.Is(err, playerrors.ErrDevice) {
		t.Errorf("expected ErrDevice, got %v", err)
	}
}

func TestOutput_WriteAfterClose(t *testing.T) {
	b := &manualBackend{rate: 8000, channels: 2}
	o, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 10, testOptions())
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	o.Close()

	err = o.Write(&AudioBuffer{Spec: SignalSpec{Rate: 8000, Channels: 2}, Frames: frames(10, 0.1)})
	if !errors.Is(err, playerrors.ErrDevice) {
		t.Errorf("expected ErrDevice, got %v", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.stopped {
		t.Error("backend should be stopped on Close")
	}
}

func TestOutput_FlushWithNullBackend(t *testing.T) {
	b := NewNullBackend(8000, 2, 5*time.Millisecond)
	opts := testOptions()
	opts.WriteTimeout = time.Second
	o, err := OpenOutput(b, SignalSpec{Rate: 8000, Channels: 2}, 400, opts)
	if err != nil {
		t.Fatalf("OpenOutput failed: %v", err)
	}
	defer o.Close()

	for i := 0; i < 4; i++ {
		if err := o.Write(&AudioBuffer{Spec: SignalSpec{Rate: 8000, Channels: 2}, Frames: frames(400, 0.1)}); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
	if err := o.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if o.ring.Len() != 0 {
		t.Errorf("expected drained ring after Flush, got %d", o.ring.Len())
	}
	if b.Consumed() == 0 {
		t.Error("expected the null device to consume the audio")
	}
}

func TestSelectBackend(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		want    string
		wantErr bool
	}{
		{"null", "null", "null", false},
		{"unknown", "alsa", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := SelectBackend(configWithBackend(tt.backend))
			if (err != nil) != tt.wantErr {
				t.Fatalf("SelectBackend error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && b.Name() != tt.want {
				t.Errorf("expected %s backend, got %s", tt.want, b.Name())
			}
		})
	}
}

func configWithBackend(name string) config.AudioConfig {
	cfg := config.GetDefaultConfig().Audio
	cfg.Backend = name
	return cfg
}

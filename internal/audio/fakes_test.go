package audio

import (
	"io"
	"sync"

	playerrors "github.com/jscyril/streamplayer/pkg/errors"
)

const (
	fakeRate   = 1000
	fakeFrames = 50 // 50 ms per packet
)

// fakeDemuxer produces silent packets of a fixed-length track
type fakeDemuxer struct {
	mu       sync.Mutex
	tracks   []Track
	packets  int
	next     int
	failAt   int // packet index that fails, -1 for none
	failErr  error
	seeks    []float64
	closed   bool
	trackFor func(i int) int
}

func newFakeDemuxer(seconds float64) *fakeDemuxer {
	frames := uint64(seconds * fakeRate)
	return &fakeDemuxer{
		tracks: []Track{{
			ID:         1,
			Codec:      CodecWAV,
			TimeBase:   TimeBase{Numer: 1, Denom: fakeRate},
			NumFrames:  frames,
			SampleRate: fakeRate,
			Channels:   2,
		}},
		packets: int(frames) / fakeFrames,
		failAt:  -1,
	}
}

func (d *fakeDemuxer) Tracks() []Track {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tracks
}

func (d *fakeDemuxer) NextPacket() (*Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.next == d.failAt {
		return nil, d.failErr
	}
	if d.next >= d.packets {
		return nil, io.EOF
	}
	id := d.tracks[len(d.tracks)-1].ID
	if d.trackFor != nil {
		id = d.trackFor(d.next)
	}
	p := &Packet{TrackID: id, TS: uint64(d.next * fakeFrames), Data: make([][2]float64, fakeFrames)}
	d.next++
	return p, nil
}

func (d *fakeDemuxer) Seek(mode SeekMode, seconds float64) (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seeks = append(d.seeks, seconds)
	d.next = min(int(seconds*fakeRate)/fakeFrames, d.packets)
	return float64(d.next*fakeFrames) / fakeRate, nil
}

func (d *fakeDemuxer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *fakeDemuxer) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDemuxer) seekTargets() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]float64(nil), d.seeks...)
}

// fakeDecoder passes frames through, failing on chosen timestamps
type fakeDecoder struct {
	badTS map[uint64]bool
}

func (d *fakeDecoder) Decode(p *Packet) (*AudioBuffer, error) {
	if d.badTS[p.TS] {
		return nil, playerrors.ErrDecode
	}
	return &AudioBuffer{Spec: SignalSpec{Rate: fakeRate, Channels: 2}, Frames: p.Data}, nil
}

func (d *fakeDecoder) SuggestedCapacity() int { return fakeFrames }

// fakeSink records what the engine did with it
type fakeSink struct {
	mu      sync.Mutex
	writes  int
	clears  int
	flushes int
	closed  bool
}

func (s *fakeSink) Write(buf *AudioBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return playerrors.ErrDevice
	}
	s.writes++
	return nil
}

func (s *fakeSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *fakeSink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clears++
}

func (s *fakeSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSink) counts() (writes, clears, flushes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writes, s.clears, s.flushes
}

package audio

import (
	"io"
	"math"

	"github.com/samber/lo"
)

// CodecType names the codec of a track. CodecNull marks a track that
// carries no decodable audio.
type CodecType string

const (
	CodecNull CodecType = ""
	CodecMP3  CodecType = "mp3"
	CodecWAV  CodecType = "pcm"
	CodecFLAC CodecType = "flac"
)

// TimeBase converts between timestamps and seconds: one tick is Numer/Denom seconds
type TimeBase struct {
	Numer uint32
	Denom uint32
}

// CalcTime converts a timestamp to seconds
func (tb TimeBase) CalcTime(ts uint64) float64 {
	if tb.Denom == 0 {
		return 0
	}
	return float64(ts) * float64(tb.Numer) / float64(tb.Denom)
}

// CalcTimestamp converts seconds to the nearest lower timestamp
func (tb TimeBase) CalcTimestamp(seconds float64) uint64 {
	if tb.Numer == 0 || seconds <= 0 {
		return 0
	}
	return uint64(math.Floor(seconds * float64(tb.Denom) / float64(tb.Numer)))
}

// Track describes one elementary stream in a container
type Track struct {
	ID         int
	Codec      CodecType
	TimeBase   TimeBase
	StartTS    uint64
	NumFrames  uint64 // 0 when unknown
	SampleRate int
	Channels   int

	Title  string
	Artist string
	Album  string
}

// Duration returns the track length in seconds, or 0 when unknown
func (t Track) Duration() float64 {
	if t.NumFrames == 0 {
		return 0
	}
	return t.TimeBase.CalcTime(t.StartTS + t.NumFrames)
}

// Packet is one demuxed unit of a track
type Packet struct {
	TrackID int
	TS      uint64
	Data    [][2]float64
}

// SignalSpec is the sample rate and channel layout of decoded audio
type SignalSpec struct {
	Rate     int
	Channels int
}

// AudioBuffer holds decoded stereo frames. Mono sources fill both slots.
type AudioBuffer struct {
	Spec   SignalSpec
	Frames [][2]float64
}

// SeekMode selects how precisely a demuxer repositions
type SeekMode int

const (
	SeekAccurate SeekMode = iota
	SeekCoarse
)

// Hint helps format detection
type Hint struct {
	Extension string
}

// Demuxer splits a container into packets
type Demuxer interface {
	Tracks() []Track
	// NextPacket returns io.EOF at the end of the stream
	NextPacket() (*Packet, error)
	// Seek moves to seconds and returns the position actually reached
	Seek(mode SeekMode, seconds float64) (float64, error)
	Close() error
}

// Decoder turns packets of one track into audio
type Decoder interface {
	Decode(p *Packet) (*AudioBuffer, error)
	// SuggestedCapacity is the largest frame count Decode returns
	SuggestedCapacity() int
}

// Prober opens a container
type Prober func(hint Hint, r io.ReadSeeker) (Demuxer, error)

// DecoderFactory builds a decoder for a track
type DecoderFactory func(t Track) (Decoder, error)

// FirstSupportedTrack returns the first track with a real codec
func FirstSupportedTrack(tracks []Track) (Track, bool) {
	return lo.Find(tracks, func(t Track) bool {
		return t.Codec != CodecNull
	})
}

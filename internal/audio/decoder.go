package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/flac"
	"github.com/faiface/beep/wav"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
	"github.com/samber/lo"
)

// PacketDuration is the audio length of one demuxed packet
const PacketDuration = 50 * time.Millisecond

// SupportedFormats returns list of supported audio formats
func SupportedFormats() []string {
	return []string{".mp3", ".wav", ".flac"}
}

// IsSupported checks if a stream URL names a supported format
func IsSupported(rawURL string) bool {
	return lo.Contains(SupportedFormats(), HintFromURL(rawURL).Extension)
}

// HintFromURL derives a probe hint from the URL path's extension, ignoring
// the query string and fragment
func HintFromURL(rawURL string) Hint {
	return Hint{Extension: strings.ToLower(path.Ext(urlPath(rawURL)))}
}

func urlPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Path
}

// Probe detects the container from its leading bytes, falling back to the
// hint, and opens it with the matching beep decoder. Only the container
// header is read; MP3 length comes from the byte length and first frame.
func Probe(hint Hint, r io.ReadSeeker) (Demuxer, error) {
	head := make([]byte, 12)
	n, err := io.ReadFull(r, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return nil, err
	}
	head = head[:n]
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	codec := sniff(head, hint)
	if codec == CodecNull {
		return nil, fmt.Errorf("%w: %q", playerrors.ErrFormat, hint.Extension)
	}

	var tags Tags
	if bytes.HasPrefix(head, []byte("ID3")) || bytes.HasPrefix(head, []byte("fLaC")) {
		tags = ReadTags(r)
	}

	src := &stickyReader{r: r}
	if codec == CodecMP3 {
		return probeMP3(src, tags)
	}

	var (
		stream beep.StreamSeekCloser
		format beep.Format
	)
	switch codec {
	case CodecWAV:
		stream, format, err = wav.Decode(src)
	case CodecFLAC:
		stream, format, err = flac.Decode(src)
	}
	if src.err != nil {
		return nil, src.err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", playerrors.ErrFormat, err)
	}
	return newBeepDemuxer(src, stream, format, codec, tags)
}

func newBeepDemuxer(src *stickyReader, stream beep.StreamSeekCloser, format beep.Format, codec CodecType, tags Tags) (*beepDemuxer, error) {
	rate := int(format.SampleRate)
	if rate <= 0 {
		stream.Close()
		return nil, fmt.Errorf("%w: sample rate %d", playerrors.ErrFormat, rate)
	}

	track := Track{
		ID:         0,
		Codec:      codec,
		TimeBase:   TimeBase{Numer: 1, Denom: uint32(rate)},
		SampleRate: rate,
		Channels:   format.NumChannels,
	}
	if l := stream.Len(); l > 0 {
		track.NumFrames = uint64(l)
	}
	track.Title, track.Artist, track.Album = tags.Title, tags.Artist, tags.Album

	return &beepDemuxer{
		src:    src,
		stream: stream,
		format: format,
		track:  track,
		frames: format.SampleRate.N(PacketDuration),
	}, nil
}

// sniff maps magic bytes to a codec. The hint decides only when the
// header is inconclusive.
func sniff(head []byte, hint Hint) CodecType {
	switch {
	case len(head) >= 12 && string(head[0:4]) == "RIFF" && string(head[8:12]) == "WAVE":
		return CodecWAV
	case bytes.HasPrefix(head, []byte("fLaC")):
		return CodecFLAC
	case bytes.HasPrefix(head, []byte("ID3")):
		return CodecMP3
	case len(head) >= 2 && head[0] == 0xFF && head[1]&0xE0 == 0xE0:
		return CodecMP3
	}

	switch hint.Extension {
	case ".mp3":
		return CodecMP3
	case ".wav":
		return CodecWAV
	case ".flac":
		return CodecFLAC
	}
	return CodecNull
}

// NewDecoder returns the decoder for a probed track
func NewDecoder(t Track) (Decoder, error) {
	switch t.Codec {
	case CodecMP3, CodecWAV, CodecFLAC:
	default:
		return nil, fmt.Errorf("%w: codec %q", playerrors.ErrFormat, t.Codec)
	}
	return &pcmDecoder{
		spec:     SignalSpec{Rate: t.SampleRate, Channels: t.Channels},
		capacity: beep.SampleRate(t.SampleRate).N(PacketDuration),
	}, nil
}

// beepDemuxer exposes a beep stream as a single-track demuxer. A nil
// stream has ended.
type beepDemuxer struct {
	src    *stickyReader
	stream beep.StreamSeekCloser
	format beep.Format
	track  Track
	frames int

	// timestamp of the stream's first frame
	base uint64
}

func (d *beepDemuxer) Tracks() []Track {
	return []Track{d.track}
}

func (d *beepDemuxer) NextPacket() (*Packet, error) {
	if d.stream == nil {
		return nil, io.EOF
	}
	ts := d.base + uint64(d.stream.Position())
	buf := make([][2]float64, d.frames)
	n, _ := d.stream.Stream(buf)
	if n > 0 {
		return &Packet{TrackID: d.track.ID, TS: ts, Data: buf[:n]}, nil
	}
	if err := d.err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (d *beepDemuxer) Seek(mode SeekMode, seconds float64) (float64, error) {
	rate := d.format.SampleRate
	target := rate.N(time.Duration(seconds * float64(time.Second)))
	if l := d.stream.Len(); l > 0 {
		target = lo.Clamp(target, 0, l)
	} else {
		target = max(target, 0)
	}
	if mode == SeekCoarse {
		target -= target % d.frames
	}

	if err := d.stream.Seek(target); err != nil {
		if d.src.err != nil {
			return 0, d.src.err
		}
		return 0, playerrors.NewPlayerError("seek", "", err)
	}
	return float64(d.stream.Position()) / float64(rate), nil
}

func (d *beepDemuxer) Close() error {
	if d.stream == nil {
		return nil
	}
	return d.stream.Close()
}

// err reports why the stream stopped early, preferring the transport's error
func (d *beepDemuxer) err() error {
	if d.src.err != nil {
		return d.src.err
	}
	if err := d.stream.Err(); err != nil {
		return playerrors.NewPlayerError("demux", "", err)
	}
	return nil
}

// pcmDecoder validates and copies beep's already decoded frames
type pcmDecoder struct {
	spec     SignalSpec
	capacity int
}

func (d *pcmDecoder) Decode(p *Packet) (*AudioBuffer, error) {
	frames := make([][2]float64, len(p.Data))
	for i, f := range p.Data {
		if !finite(f[0]) || !finite(f[1]) {
			return nil, fmt.Errorf("%w: invalid sample at frame %d of packet %d", playerrors.ErrDecode, i, p.TS)
		}
		frames[i] = f
	}
	return &AudioBuffer{Spec: d.spec, Frames: frames}, nil
}

func (d *pcmDecoder) SuggestedCapacity() int {
	return d.capacity
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// stickyReader remembers the first transport failure. beep decoders
// report a failed read as an early end of stream, which would otherwise be
// indistinguishable from a clean finish.
type stickyReader struct {
	r   io.ReadSeeker
	err error
}

func (s *stickyReader) Read(p []byte) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	n, err := s.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	return n, err
}

func (s *stickyReader) Seek(offset int64, whence int) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	pos, err := s.r.Seek(offset, whence)
	if err != nil {
		s.err = err
	}
	return pos, err
}

// Close is a no-op; the engine owns the underlying source
func (s *stickyReader) Close() error {
	return nil
}

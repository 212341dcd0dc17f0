package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/faiface/beep/mp3"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
)

// mp3ScanLimit bounds how far past a position a frame header is searched for
const mp3ScanLimit = 8192

var (
	mpeg1Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

	mpegRates = map[int][3]int{
		1:  {44100, 48000, 32000},
		2:  {22050, 24000, 16000},
		25: {11025, 12000, 8000},
	}
)

// mpegFrame is what a Layer III frame header says about the stream
type mpegFrame struct {
	version int // 1, 2, or 25 for MPEG 2.5
	bitrate int // bits per second
	rate    int
	padding int
	mono    bool
}

func parseFrameHeader(b []byte) (mpegFrame, bool) {
	var f mpegFrame
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return f, false
	}
	switch (b[1] >> 3) & 3 {
	case 0:
		f.version = 25
	case 2:
		f.version = 2
	case 3:
		f.version = 1
	default:
		return f, false
	}
	if (b[1]>>1)&3 != 1 {
		return f, false
	}

	bi, si := b[2]>>4, (b[2]>>2)&3
	if bi == 0 || bi == 15 || si == 3 {
		return f, false
	}
	if f.version == 1 {
		f.bitrate = mpeg1Bitrates[bi] * 1000
	} else {
		f.bitrate = mpeg2Bitrates[bi] * 1000
	}
	f.rate = mpegRates[f.version][si]
	f.padding = int(b[2]>>1) & 1
	f.mono = b[3]>>6 == 3
	return f, true
}

// samples is the number of PCM frames one MPEG frame decodes to
func (f mpegFrame) samples() int {
	if f.version == 1 {
		return 1152
	}
	return 576
}

func (f mpegFrame) size() int {
	return f.samples()/8*f.bitrate/f.rate + f.padding
}

func (f mpegFrame) sideInfo() int {
	switch {
	case f.version == 1 && f.mono:
		return 17
	case f.version == 1:
		return 32
	case f.mono:
		return 9
	}
	return 17
}

// vbrFrames reads the frame count of a Xing, Info or VBRI header carried
// by the frame at the start of b
func (f mpegFrame) vbrFrames(b []byte) uint64 {
	if x := 4 + f.sideInfo(); len(b) >= x+12 {
		tag := string(b[x : x+4])
		flags := binary.BigEndian.Uint32(b[x+4:])
		if (tag == "Xing" || tag == "Info") && flags&1 != 0 {
			return uint64(binary.BigEndian.Uint32(b[x+8:]))
		}
	}
	if x := 4 + 32; len(b) >= x+18 && string(b[x:x+4]) == "VBRI" {
		return uint64(binary.BigEndian.Uint32(b[x+14:]))
	}
	return 0
}

// findFrame returns the offset of the first header in b that is followed
// by a matching one. A header whose successor lies beyond b is accepted.
func findFrame(b []byte) (int, mpegFrame, bool) {
	for i := 0; i+4 <= len(b); i++ {
		f, ok := parseFrameHeader(b[i:])
		if !ok {
			continue
		}
		next := i + f.size()
		if next+4 > len(b) {
			return i, f, true
		}
		if g, ok := parseFrameHeader(b[next:]); ok && g.version == f.version && g.rate == f.rate {
			return i, f, true
		}
	}
	return 0, mpegFrame{}, false
}

// mp3Layout locates the audio in an MP3 stream without reading past its
// first frame
type mp3Layout struct {
	start  int64 // offset of the first frame
	length int64 // 0 when unknown
	first  mpegFrame
	frames uint64 // MPEG frames per the VBR header, 0 when absent
}

func readMP3Layout(r io.ReadSeeker) (mp3Layout, error) {
	var l mp3Layout
	if n, err := r.Seek(0, io.SeekEnd); err == nil {
		l.length = n
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return l, err
	}

	head := make([]byte, 10)
	if _, err := io.ReadFull(r, head); err != nil {
		return l, shortRead(err)
	}
	if string(head[:3]) == "ID3" {
		size := int64(head[6]&0x7F)<<21 | int64(head[7]&0x7F)<<14 | int64(head[8]&0x7F)<<7 | int64(head[9]&0x7F)
		l.start = 10 + size
		if head[5]&0x10 != 0 {
			l.start += 10
		}
	}

	off, f, window, err := syncAt(r, l.start)
	if err != nil {
		return l, err
	}
	l.start += int64(off)
	l.first = f
	l.frames = f.vbrFrames(window[off:])
	return l, nil
}

// syncAt reads a window at pos and finds the first frame in it
func syncAt(r io.ReadSeeker, pos int64) (int, mpegFrame, []byte, error) {
	if _, err := r.Seek(pos, io.SeekStart); err != nil {
		return 0, mpegFrame{}, nil, err
	}
	window := make([]byte, mp3ScanLimit)
	n, err := io.ReadFull(r, window)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return 0, mpegFrame{}, nil, err
	}
	window = window[:n]
	off, f, ok := findFrame(window)
	if !ok {
		return 0, mpegFrame{}, window, fmt.Errorf("%w: no mp3 frame within %d bytes of %d", playerrors.ErrFormat, mp3ScanLimit, pos)
	}
	return off, f, window, nil
}

func shortRead(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: stream too short", playerrors.ErrFormat)
	}
	return err
}

// pcmFrames estimates the decoded length from the VBR header, or from the
// byte length at the first frame's bitrate
func (l mp3Layout) pcmFrames() uint64 {
	if l.frames > 0 {
		return l.frames * uint64(l.first.samples())
	}
	if l.length > l.start && l.first.bitrate > 0 {
		seconds := float64(l.length-l.start) * 8 / float64(l.first.bitrate)
		return uint64(seconds * float64(l.first.rate))
	}
	return 0
}

// offset maps a PCM frame to an estimated byte position
func (l mp3Layout) offset(frame uint64) int64 {
	if total := l.pcmFrames(); l.frames > 0 && l.length > l.start && total > 0 {
		return l.start + int64(float64(frame)/float64(total)*float64(l.length-l.start))
	}
	seconds := float64(frame) / float64(l.first.rate)
	return l.start + int64(seconds*float64(l.first.bitrate)/8)
}

// forwardReader hides Seek from go-mp3, which otherwise reads every frame
// of a seekable input before returning the decoder
type forwardReader struct {
	r io.Reader
}

func (f forwardReader) Read(p []byte) (int, error) {
	return f.r.Read(p)
}

func (forwardReader) Close() error {
	return nil
}

// mp3Demuxer decodes forward only. Seeking reopens the decoder at the byte
// offset the layout estimates for the target.
type mp3Demuxer struct {
	*beepDemuxer
	layout mp3Layout
}

func probeMP3(src *stickyReader, tags Tags) (Demuxer, error) {
	layout, err := readMP3Layout(src)
	if src.err != nil {
		return nil, src.err
	}
	if err != nil {
		return nil, err
	}
	if _, err := src.Seek(layout.start, io.SeekStart); err != nil {
		return nil, err
	}

	stream, format, err := mp3.Decode(forwardReader{r: src})
	if src.err != nil {
		return nil, src.err
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", playerrors.ErrFormat, err)
	}
	d, err := newBeepDemuxer(src, stream, format, CodecMP3, tags)
	if err != nil {
		return nil, err
	}
	d.track.NumFrames = layout.pcmFrames()
	return &mp3Demuxer{beepDemuxer: d, layout: layout}, nil
}

func (d *mp3Demuxer) Seek(mode SeekMode, seconds float64) (float64, error) {
	target := d.track.TimeBase.CalcTimestamp(seconds)
	if d.track.NumFrames > 0 {
		target = min(target, d.track.NumFrames)
	}
	if mode == SeekCoarse {
		target -= target % uint64(d.layout.first.samples())
	}

	if err := d.reopen(d.layout.offset(target)); err != nil {
		return 0, err
	}
	d.base = target
	return d.track.TimeBase.CalcTime(target), nil
}

// reopen restarts decoding at the first frame at or after off. A target
// past the last frame leaves the demuxer at the end of the stream.
func (d *mp3Demuxer) reopen(off int64) error {
	if d.stream != nil {
		d.stream.Close()
		d.stream = nil
	}
	if d.layout.length > 0 && off >= d.layout.length {
		return nil
	}

	skip, _, _, err := syncAt(d.src, off)
	if d.src.err != nil {
		return d.src.err
	}
	if errors.Is(err, playerrors.ErrFormat) {
		return nil
	}
	if err != nil {
		return playerrors.NewPlayerError("seek", "", err)
	}
	if _, err := d.src.Seek(off+int64(skip), io.SeekStart); err != nil {
		return err
	}

	stream, _, err := mp3.Decode(forwardReader{r: d.src})
	if d.src.err != nil {
		return d.src.err
	}
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return playerrors.NewPlayerError("seek", "", err)
	}
	d.stream = stream
	return nil
}

// Package source implements a seekable byte stream over an HTTP resource,
// fetched lazily in fixed-size ranged chunks and cached for the stream's lifetime.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jscyril/streamplayer/api"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ChunkSize is the size of every ranged request and cache entry
const ChunkSize = 65536

// ChunkedSource reads a remote resource through a chunk cache.
// It is owned by a single goroutine and does no locking.
type ChunkedSource struct {
	ctx       context.Context
	url       string
	client    *http.Client
	userAgent string
	events    chan<- api.PlayerStatus
	log       logrus.FieldLogger

	chunks map[int64][]byte
	pos    int64

	length        int64
	lengthKnown   bool
	lengthChecked bool

	// index of a short chunk that ended the stream while the length was unknown
	lastChunk int64

	fetches int
	closed  bool
}

// Option configures a ChunkedSource
type Option func(*ChunkedSource)

// WithClient sets the HTTP client used for every request
func WithClient(c *http.Client) Option {
	return func(s *ChunkedSource) {
		if c != nil {
			s.client = c
		}
	}
}

// WithEvents sets the channel that receives ChunkAdded statuses.
// Sends never block; an event is dropped when the channel is full.
func WithEvents(ch chan<- api.PlayerStatus) Option {
	return func(s *ChunkedSource) { s.events = ch }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *ChunkedSource) {
		if l != nil {
			s.log = l
		}
	}
}

// WithUserAgent overrides the User-Agent header
func WithUserAgent(ua string) Option {
	return func(s *ChunkedSource) {
		if ua != "" {
			s.userAgent = ua
		}
	}
}

// New creates a source for url. No request is made until the first Read,
// Seek or ByteLength call. ctx bounds every request the source issues.
func New(ctx context.Context, url string, opts ...Option) *ChunkedSource {
	s := &ChunkedSource{
		ctx:       ctx,
		url:       url,
		client:    DefaultClient,
		userAgent: DefaultUserAgent,
		log:       logrus.StandardLogger(),
		chunks:    make(map[int64][]byte),
		lastChunk: -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithField("url", url)
	return s
}

// URL returns the resource location
func (s *ChunkedSource) URL() string {
	return s.url
}

// Fetches returns how many ranged GET requests have been issued
func (s *ChunkedSource) Fetches() int {
	return s.fetches
}

// Cached reports whether chunk index k is in the cache
func (s *ChunkedSource) Cached(k int64) bool {
	_, ok := s.chunks[k]
	return ok
}

// ByteLength returns the total resource size, if the server reports it.
// The first call issues a HEAD request; the answer is cached.
func (s *ChunkedSource) ByteLength() (int64, bool) {
	if s.lengthKnown || s.lengthChecked {
		return s.length, s.lengthKnown
	}
	s.lengthChecked = true

	req, err := s.newRequest(http.MethodHead)
	if err != nil {
		return 0, false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.log.WithError(err).Debug("length probe failed")
		return 0, false
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n >= 0 {
			s.setLength(n)
		}
	}
	return s.length, s.lengthKnown
}

func (s *ChunkedSource) setLength(n int64) {
	s.length = n
	s.lengthKnown = true
	s.log.WithField("length", n).Debug("stream length known")
}

// Read fills p from the cache, fetching missing chunks as it goes
func (s *ChunkedSource) Read(p []byte) (int, error) {
	if s.closed {
		return 0, playerrors.ErrClosed
	}
	s.ByteLength()

	n := 0
	for n < len(p) {
		if s.atEnd(s.pos) {
			break
		}
		k := s.pos / ChunkSize
		chunk, err := s.chunk(k)
		if err != nil {
			if n > 0 {
				return n, nil
			}
			return 0, err
		}
		off := int(s.pos - k*ChunkSize)
		if off >= len(chunk) {
			break
		}
		c := copy(p[n:], chunk[off:])
		n += c
		s.pos += int64(c)
	}

	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// Seek repositions the read cursor. An uncached target inside the stream is
// fetched before Seek returns.
func (s *ChunkedSource) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, playerrors.ErrClosed
	}

	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = s.pos + offset
	case io.SeekEnd:
		length, ok := s.ByteLength()
		if !ok {
			return s.pos, fmt.Errorf("%w: seek from end with unknown length", playerrors.ErrNetwork)
		}
		target = length + offset
	default:
		return s.pos, fmt.Errorf("invalid whence %d", whence)
	}
	if target < 0 {
		return s.pos, fmt.Errorf("negative position %d", target)
	}

	s.ByteLength()
	if !s.atEnd(target) {
		if _, err := s.chunk(target / ChunkSize); err != nil {
			return s.pos, err
		}
	}
	s.pos = target
	return s.pos, nil
}

// Close drops the cache; later reads fail
func (s *ChunkedSource) Close() error {
	s.closed = true
	s.chunks = nil
	return nil
}

// atEnd reports whether pos is at or past the known end of the stream
func (s *ChunkedSource) atEnd(pos int64) bool {
	if s.lengthKnown {
		return pos >= s.length
	}
	if s.lastChunk >= 0 {
		return pos >= s.lastChunk*ChunkSize+int64(len(s.chunks[s.lastChunk]))
	}
	return false
}

func (s *ChunkedSource) chunk(k int64) ([]byte, error) {
	if c, ok := s.chunks[k]; ok {
		return c, nil
	}
	c, err := s.fetch(k)
	if err != nil {
		return nil, playerrors.NewPlayerError("fetch", s.url, err)
	}
	s.chunks[k] = c
	s.chunkAdded(k)
	return c, nil
}

func (s *ChunkedSource) fetch(k int64) ([]byte, error) {
	start := k * ChunkSize

	req, err := s.newRequest(http.MethodGet)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+ChunkSize-1))

	s.fetches++
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", playerrors.ErrNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusPartialContent:
		if !s.lengthKnown {
			if total, ok := parseContentRangeTotal(resp.Header.Get("Content-Range")); ok {
				s.setLength(total)
			}
		}
	case resp.StatusCode == http.StatusOK && start == 0:
		if !s.lengthKnown && resp.ContentLength >= 0 {
			s.setLength(resp.ContentLength)
		}
	case resp.StatusCode == http.StatusOK:
		return nil, fmt.Errorf("%w: %w", playerrors.ErrNetwork, playerrors.ErrUnsupportedRange)
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && !s.lengthKnown:
		// previous chunk ended exactly on a chunk boundary
		s.lastChunk = k
		return []byte{}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected status %d", playerrors.ErrNetwork, resp.StatusCode)
	}

	want := int64(ChunkSize)
	if s.lengthKnown {
		want = min(want, s.length-start)
		if want <= 0 {
			return nil, fmt.Errorf("%w: chunk %d is past the end", playerrors.ErrNetwork, k)
		}
	}

	buf := make([]byte, want)
	n, err := io.ReadFull(resp.Body, buf)
	switch {
	case err == nil:
	case !s.lengthKnown && (err == io.EOF || err == io.ErrUnexpectedEOF):
		buf = buf[:n]
		s.lastChunk = k
	default:
		return nil, fmt.Errorf("%w: short body for chunk %d (%d of %d bytes): %v",
			playerrors.ErrNetwork, k, n, want, err)
	}

	s.log.WithFields(logrus.Fields{"chunk": k, "bytes": len(buf)}).Debug("chunk cached")
	return buf, nil
}

func (s *ChunkedSource) chunkAdded(k int64) {
	if s.events == nil || !s.lengthKnown || s.length == 0 {
		return
	}
	l := float32(s.length)
	st := api.ChunkAdded(float32(k*ChunkSize)/l, min(float32(k*ChunkSize+ChunkSize)/l, 1))
	select {
	case s.events <- st:
	default:
	}
}

func (s *ChunkedSource) newRequest(method string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(s.ctx, method, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", playerrors.ErrNetwork, err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	return req, nil
}

// parseContentRangeTotal extracts the total from "bytes 0-65535/1234567"
func parseContentRangeTotal(h string) (int64, bool) {
	i := strings.LastIndexByte(h, '/')
	if i < 0 || !strings.HasPrefix(h, "bytes ") {
		return 0, false
	}
	total, err := strconv.ParseInt(h[i+1:], 10, 64)
	if err != nil || total < 0 {
		return 0, false
	}
	return total, true
}

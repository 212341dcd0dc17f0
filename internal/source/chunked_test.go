package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/jscyril/streamplayer/api"
	"github.com/jscyril/streamplayer/internal/testutil"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
)

func newTestSource(t *testing.T, srv *testutil.Server, opts ...Option) *ChunkedSource {
	t.Helper()
	s := New(context.Background(), srv.Resource("track.mp3"), opts...)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChunkedSource_ReadAcrossBoundary(t *testing.T) {
	data := testutil.Bytes(3*ChunkSize + 100)
	srv := testutil.NewServer(t, data)
	s := newTestSource(t, srv)

	buf := make([]byte, 70000)
	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(buf, data[:70000]) {
		t.Error("read bytes do not match the resource")
	}
	if s.Fetches() != 2 {
		t.Errorf("expected 2 fetches, got %d", s.Fetches())
	}
	if srv.Heads() != 1 {
		t.Errorf("expected 1 HEAD request, got %d", srv.Heads())
	}

	want := []string{"bytes=0-65535", "bytes=65536-131071"}
	got := srv.Ranges()
	if len(got) != len(want) {
		t.Fatalf("expected ranges %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("range %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestChunkedSource_CacheHit(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Bytes(2*ChunkSize))
	s := newTestSource(t, srv)

	buf := make([]byte, 1000)
	for i := 0; i < 3; i++ {
		if _, err := s.Seek(500, io.SeekStart); err != nil {
			t.Fatalf("Seek failed: %v", err)
		}
		if _, err := io.ReadFull(s, buf); err != nil {
			t.Fatalf("ReadFull failed: %v", err)
		}
	}

	if s.Fetches() != 1 {
		t.Errorf("expected exactly 1 fetch for a cached chunk, got %d", s.Fetches())
	}
	if srv.Gets() != 1 {
		t.Errorf("expected 1 GET at the server, got %d", srv.Gets())
	}
}

func TestChunkedSource_Seek(t *testing.T) {
	data := testutil.Bytes(3*ChunkSize + 100)

	tests := []struct {
		name        string
		offset      int64
		whence      int
		wantPos     int64
		wantFetches int
	}{
		{"start into chunk 2", 2*ChunkSize + 10, io.SeekStart, 2*ChunkSize + 10, 1},
		{"from end", -100, io.SeekEnd, 3 * ChunkSize, 1},
		{"exactly at end", 0, io.SeekEnd, int64(len(data)), 0},
		{"current", 42, io.SeekCurrent, 42, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := testutil.NewServer(t, data)
			s := newTestSource(t, srv)

			pos, err := s.Seek(tt.offset, tt.whence)
			if err != nil {
				t.Fatalf("Seek failed: %v", err)
			}
			if pos != tt.wantPos {
				t.Errorf("expected position %d, got %d", tt.wantPos, pos)
			}
			if s.Fetches() != tt.wantFetches {
				t.Errorf("expected %d fetches, got %d", tt.wantFetches, s.Fetches())
			}
			if tt.wantFetches > 0 && !s.Cached(pos/ChunkSize) {
				t.Errorf("chunk %d should be cached after seek", pos/ChunkSize)
			}
		})
	}
}

func TestChunkedSource_SeekThenRead(t *testing.T) {
	data := testutil.Bytes(3*ChunkSize + 100)
	srv := testutil.NewServer(t, data)
	s := newTestSource(t, srv)

	if _, err := s.Seek(2*ChunkSize+10, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	buf := make([]byte, 16)
	if _, err := io.ReadFull(s, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(buf, data[2*ChunkSize+10:2*ChunkSize+26]) {
		t.Error("bytes after seek do not match the resource")
	}
	if s.Fetches() != 1 {
		t.Errorf("expected the seek fetch to be reused, got %d fetches", s.Fetches())
	}
}

func TestChunkedSource_SeekNegative(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Bytes(100))
	s := newTestSource(t, srv)

	if _, err := s.Seek(-1, io.SeekStart); err == nil {
		t.Error("expected error for negative position")
	}
}

func TestChunkedSource_ReadAtEOF(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Bytes(100))
	s := newTestSource(t, srv)

	if _, err := s.Seek(0, io.SeekEnd); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	n, err := s.Read(make([]byte, 10))
	if n != 0 || err != io.EOF {
		t.Errorf("expected (0, io.EOF), got (%d, %v)", n, err)
	}
}

func TestChunkedSource_ChunkEvents(t *testing.T) {
	data := testutil.Bytes(3*ChunkSize + 100)
	srv := testutil.NewServer(t, data)
	events := make(chan api.PlayerStatus, 16)
	s := newTestSource(t, srv, WithEvents(events))

	got, err := io.ReadAll(s)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("resource bytes do not match")
	}

	// Reading again from the cache must not re-announce anything
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if _, err := io.ReadAll(s); err != nil {
		t.Fatalf("second ReadAll failed: %v", err)
	}
	close(events)

	l := float32(len(data))
	var k int64
	for ev := range events {
		if ev.Kind != api.StatusChunkAdded {
			t.Fatalf("unexpected status %v", ev.Kind)
		}
		wantStart := float32(k*ChunkSize) / l
		wantEnd := min(float32(k*ChunkSize+ChunkSize)/l, 1)
		if ev.End > 1 {
			t.Errorf("chunk %d: end %v past the stream", k, ev.End)
		}
		if ev.Start != wantStart || ev.End != wantEnd {
			t.Errorf("chunk %d: expected (%v, %v), got (%v, %v)", k, wantStart, wantEnd, ev.Start, ev.End)
		}
		k++
	}
	if k != 4 {
		t.Errorf("expected 4 chunk events, got %d", k)
	}
}

func TestChunkedSource_EventsDroppedWhenFull(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Bytes(3*ChunkSize))
	events := make(chan api.PlayerStatus, 1)
	s := newTestSource(t, srv, WithEvents(events))

	if _, err := io.ReadAll(s); err != nil {
		t.Fatalf("ReadAll should not block on a full event channel: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(events))
	}
}

func TestChunkedSource_FetchFailure(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Bytes(ChunkSize))
	srv.FailGets(true)
	s := newTestSource(t, srv)

	_, err := s.Read(make([]byte, 10))
	if !errors.Is(err, playerrors.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}

	// No retry inside a single read
	if s.Fetches() != 1 {
		t.Errorf("expected 1 fetch, got %d", s.Fetches())
	}
}

func TestChunkedSource_RangeIgnored(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Bytes(2*ChunkSize))
	srv.IgnoreRanges()
	s := newTestSource(t, srv)

	if _, err := s.Read(make([]byte, 10)); err != nil {
		t.Fatalf("full response is acceptable for the first chunk: %v", err)
	}

	_, err := s.Seek(ChunkSize, io.SeekStart)
	if !errors.Is(err, playerrors.ErrUnsupportedRange) {
		t.Errorf("expected ErrUnsupportedRange, got %v", err)
	}
	if !errors.Is(err, playerrors.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}
}

func TestChunkedSource_UnknownLength(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"short final chunk", ChunkSize + 500},
		{"ends on chunk boundary", 2 * ChunkSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := testutil.Bytes(tt.size)
			srv := testutil.NewServer(t, data)
			srv.HideLength()
			events := make(chan api.PlayerStatus, 8)
			s := newTestSource(t, srv, WithEvents(events))

			got, err := io.ReadAll(s)
			if err != nil {
				t.Fatalf("ReadAll failed: %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("expected %d bytes, got %d", len(data), len(got))
			}
			if _, ok := s.ByteLength(); ok {
				t.Error("length should stay unknown")
			}
			if len(events) != 0 {
				t.Errorf("no chunk events without a length, got %d", len(events))
			}
		})
	}
}

func TestChunkedSource_Closed(t *testing.T) {
	srv := testutil.NewServer(t, testutil.Bytes(10))
	s := newTestSource(t, srv)
	s.Close()

	if _, err := s.Read(make([]byte, 1)); !errors.Is(err, playerrors.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if srv.Gets() != 0 {
		t.Errorf("closed source should not fetch, got %d GETs", srv.Gets())
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	tests := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"bytes 0-65535/1234567", 1234567, true},
		{"bytes 0-99/100", 100, true},
		{"bytes 0-65535/*", 0, false},
		{"", 0, false},
		{"items 0-1/2", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			got, ok := parseContentRangeTotal(tt.header)
			if ok != tt.ok || got != tt.want {
				t.Errorf("parseContentRangeTotal(%q) = (%d, %v), want (%d, %v)", tt.header, got, ok, tt.want, tt.ok)
			}
		})
	}
}

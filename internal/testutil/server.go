package testutil

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Server serves one in-memory resource over HTTP with byte-range support
// and records what it was asked for.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	data     []byte
	gets     int
	heads    int
	ranges   []string
	failGets bool
	noRange  bool
	noLength bool
}

// NewServer starts a server for data and closes it when the test ends
func NewServer(t testing.TB, data []byte) *Server {
	t.Helper()
	s := &Server{data: data}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.Close)
	return s
}

// Resource returns the URL of the served file with the given name
func (s *Server) Resource(name string) string {
	return s.URL + "/" + name
}

// FailGets makes every later GET answer 500
func (s *Server) FailGets(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGets = fail
}

// IgnoreRanges makes the server answer every GET with the full body and 200
func (s *Server) IgnoreRanges() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noRange = true
}

// HideLength stops the server from reporting the resource size
func (s *Server) HideLength() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noLength = true
}

// Gets returns the number of GET requests served
func (s *Server) Gets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

// Heads returns the number of HEAD requests served
func (s *Server) Heads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heads
}

// Ranges returns the Range headers of every GET, in order
func (s *Server) Ranges() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.ranges))
	copy(out, s.ranges)
	return out
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	switch r.Method {
	case http.MethodGet:
		s.gets++
		s.ranges = append(s.ranges, r.Header.Get("Range"))
	case http.MethodHead:
		s.heads++
	}
	fail, noRange, noLength := s.failGets, s.noRange, s.noLength
	s.mu.Unlock()

	if fail && r.Method == http.MethodGet {
		http.Error(w, "upstream unavailable", http.StatusInternalServerError)
		return
	}

	if noLength {
		s.serveUnsized(w, r)
		return
	}
	if noRange {
		r.Header.Del("Range")
	}
	http.ServeContent(w, r, "", time.Time{}, bytes.NewReader(s.data))
}

// serveUnsized answers ranges without Content-Length or a Content-Range total
func (s *Server) serveUnsized(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}
	var start, end int
	if _, err := fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end); err != nil {
		w.WriteHeader(http.StatusOK)
		flushWrite(w, s.data)
		return
	}
	if start >= len(s.data) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		return
	}
	end = min(end+1, len(s.data))
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/*", start, end-1))
	w.WriteHeader(http.StatusPartialContent)
	flushWrite(w, s.data[start:end])
}

// flushWrite sends the headers before the body so the response goes out
// chunked, without a Content-Length
func flushWrite(w http.ResponseWriter, b []byte) {
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	w.Write(b)
}

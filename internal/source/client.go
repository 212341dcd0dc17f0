package source

import (
	"net/http"
	"time"
)

// DefaultUserAgent is sent with every request unless overridden
const DefaultUserAgent = "streamplayer/1.0"

// NewClient returns an HTTP client tuned for ranged chunk requests.
// A zero timeout leaves requests bounded only by their context.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: newTransport(),
	}
}

// DefaultClient is shared by sources created without an explicit client
var DefaultClient = NewClient(30 * time.Second)

// newTransport keeps a small warm pool per host; every chunk hits the same origin.
func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 16
	t.MaxIdleConnsPerHost = 8
	t.IdleConnTimeout = 30 * time.Second
	t.ResponseHeaderTimeout = 15 * time.Second
	t.ExpectContinueTimeout = time.Second
	t.DisableCompression = true
	return t
}

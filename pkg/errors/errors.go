package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for the playback failure taxonomy
var (
	ErrNetwork          = errors.New("network error")
	ErrUnsupportedRange = errors.New("server does not support range requests")
	ErrFormat           = errors.New("unsupported audio format")
	ErrNoTrack          = errors.New("no supported audio track")
	ErrDecode           = errors.New("decode error")
	ErrDevice           = errors.New("audio device error")
	ErrClosed           = errors.New("player is closed")
	ErrQueueFull        = errors.New("action queue is full")
)

// PlayerError wraps errors with additional context
type PlayerError struct {
	Op  string // Operation that failed
	URL string // Stream URL if applicable
	Err error  // Underlying error
}

func (e *PlayerError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PlayerError) Unwrap() error {
	return e.Err
}

// NewPlayerError creates a new PlayerError
func NewPlayerError(op, url string, err error) *PlayerError {
	return &PlayerError{Op: op, URL: url, Err: err}
}

// IsFatal reports whether err ends the current stream session.
// Single-frame decode errors are the only recoverable kind.
func IsFatal(err error) bool {
	return err != nil && !errors.Is(err, ErrDecode)
}

// Package testutil holds fixtures shared by the package tests: generated WAV
// streams and an HTTP server that honours byte ranges.
package testutil

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV encodes seconds of a 16-bit sine tone and returns the file bytes
func WAV(t testing.TB, sampleRate, channels int, seconds, freq float64) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create fixture: %v", err)
	}

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)

	frames := int(seconds * float64(sampleRate))
	block := sampleRate // one second per write
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
	}

	for written := 0; written < frames; written += block {
		n := min(block, frames-written)
		data := make([]int, n*channels)
		for i := 0; i < n; i++ {
			v := int(math.Sin(2*math.Pi*freq*float64(written+i)/float64(sampleRate)) * 8000)
			for c := 0; c < channels; c++ {
				data[i*channels+c] = v
			}
		}
		buf.Data = data
		if err := enc.Write(buf); err != nil {
			f.Close()
			t.Fatalf("encode fixture: %v", err)
		}
	}

	if err := enc.Close(); err != nil {
		f.Close()
		t.Fatalf("finalize fixture: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close fixture: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return b
}

// Bytes returns n bytes where byte i is i mod 251, so offsets are checkable
func Bytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

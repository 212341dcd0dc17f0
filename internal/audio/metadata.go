package audio

import (
	"io"
	"path"
	"strings"

	"github.com/dhowden/tag"
)

// Tags is the subset of container tags shown alongside a stream
type Tags struct {
	Title  string
	Artist string
	Album  string
}

// ReadTags reads ID3, MP4 or FLAC tags from the start of r and rewinds it.
// Streams without tags yield empty Tags.
func ReadTags(r io.ReadSeeker) Tags {
	defer r.Seek(0, io.SeekStart)

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Tags{}
	}
	metadata, err := tag.ReadFrom(r)
	if err != nil {
		return Tags{}
	}
	return Tags{
		Title:  strings.TrimSpace(metadata.Title()),
		Artist: strings.TrimSpace(metadata.Artist()),
		Album:  strings.TrimSpace(metadata.Album()),
	}
}

// titleFromURL names an untagged stream after the file in its URL
func titleFromURL(rawURL string) string {
	p := urlPath(rawURL)
	if p == "" {
		return ""
	}
	base := path.Base(p)
	if base == "/" || base == "." {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

// getOrDefault returns the value if non-empty, otherwise returns the default
func getOrDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

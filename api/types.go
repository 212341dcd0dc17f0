package api

import (
	"fmt"

	"github.com/samber/mo"
)

// PlayState describes the transport state of the current stream
type PlayState int

const (
	Playing PlayState = iota
	Paused
	Finished
)

func (p PlayState) String() string {
	switch p {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("playing(%d)", int(p))
	}
}

// ActionKind identifies a command sent to the playback engine
type ActionKind int

const (
	ActionOpen ActionKind = iota
	ActionPause
	ActionResume
	ActionSeek
	ActionClose
)

func (k ActionKind) String() string {
	switch k {
	case ActionOpen:
		return "open"
	case ActionPause:
		return "pause"
	case ActionResume:
		return "resume"
	case ActionSeek:
		return "seek"
	case ActionClose:
		return "close"
	default:
		return fmt.Sprintf("action(%d)", int(k))
	}
}

// PlayerAction is a command produced by the facade and consumed by the engine
type PlayerAction struct {
	Kind    ActionKind
	URL     string  // ActionOpen
	Seconds float64 // ActionSeek, absolute position
	Seq     uint64  // ActionSeek, echoed by the TimeStats that confirms it
}

// Open returns an action that opens url
func Open(url string) PlayerAction { return PlayerAction{Kind: ActionOpen, URL: url} }

// Pause returns a pause action
func Pause() PlayerAction { return PlayerAction{Kind: ActionPause} }

// Resume returns a resume action
func Resume() PlayerAction { return PlayerAction{Kind: ActionResume} }

// Seek returns an action seeking to an absolute position in seconds
func Seek(seconds float64) PlayerAction { return PlayerAction{Kind: ActionSeek, Seconds: seconds} }

// SeekSeq returns a seek action whose confirmation carries seq
func SeekSeq(seconds float64, seq uint64) PlayerAction {
	return PlayerAction{Kind: ActionSeek, Seconds: seconds, Seq: seq}
}

// Close returns an action that stops the engine loop
func Close() PlayerAction { return PlayerAction{Kind: ActionClose} }

// StatusKind identifies an event emitted by the engine
type StatusKind int

const (
	StatusPlayingChanged StatusKind = iota
	StatusTimeStats
	StatusChunkAdded
	StatusError
	StatusClearError
	StatusTrackInfo
)

func (k StatusKind) String() string {
	switch k {
	case StatusPlayingChanged:
		return "playing_changed"
	case StatusTimeStats:
		return "time_stats"
	case StatusChunkAdded:
		return "chunk_added"
	case StatusError:
		return "error"
	case StatusClearError:
		return "clear_error"
	case StatusTrackInfo:
		return "track_info"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// AllStatusKinds lists every status kind in declaration order
func AllStatusKinds() []StatusKind {
	return []StatusKind{
		StatusPlayingChanged,
		StatusTimeStats,
		StatusChunkAdded,
		StatusError,
		StatusClearError,
		StatusTrackInfo,
	}
}

// PlayerStatus is an event produced by the engine. Only the fields that
// belong to Kind are meaningful.
type PlayerStatus struct {
	Kind     StatusKind
	Playing  PlayState // StatusPlayingChanged
	Position float64   // StatusTimeStats, seconds
	Duration float64   // StatusTimeStats, seconds; 0 when unknown
	Seeked   bool      // StatusTimeStats reporting where a seek landed
	Seq      uint64    // StatusTimeStats with Seeked, the seek action's Seq
	Start    float32   // StatusChunkAdded, fraction of the stream
	End      float32   // StatusChunkAdded, fraction of the stream
	Message  string    // StatusError
	Info     TrackInfo // StatusTrackInfo
}

// PlayingChanged returns a StatusPlayingChanged event
func PlayingChanged(p PlayState) PlayerStatus {
	return PlayerStatus{Kind: StatusPlayingChanged, Playing: p}
}

// TimeStats returns a StatusTimeStats event
func TimeStats(position, duration float64) PlayerStatus {
	return PlayerStatus{Kind: StatusTimeStats, Position: position, Duration: duration}
}

// SeekStats returns the StatusTimeStats event that confirms the seek
// action numbered seq
func SeekStats(position, duration float64, seq uint64) PlayerStatus {
	return PlayerStatus{Kind: StatusTimeStats, Position: position, Duration: duration, Seeked: true, Seq: seq}
}

// ChunkAdded returns a StatusChunkAdded event
func ChunkAdded(start, end float32) PlayerStatus {
	return PlayerStatus{Kind: StatusChunkAdded, Start: start, End: end}
}

// Error returns a StatusError event
func Error(message string) PlayerStatus {
	return PlayerStatus{Kind: StatusError, Message: message}
}

// ClearError returns a StatusClearError event
func ClearError() PlayerStatus {
	return PlayerStatus{Kind: StatusClearError}
}

// TrackInfoChanged returns a StatusTrackInfo event
func TrackInfoChanged(info TrackInfo) PlayerStatus {
	return PlayerStatus{Kind: StatusTrackInfo, Info: info}
}

// ChunkSpan is a buffered region of the stream, normalized to 0.0 - 1.0
type ChunkSpan struct {
	Start float32 `json:"start"`
	End   float32 `json:"end"`
}

// TrackInfo describes the selected track of the open stream
type TrackInfo struct {
	URL        string `json:"url"`
	Codec      string `json:"codec"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
}

// PlayerState is the snapshot mirrored by the facade
type PlayerState struct {
	Playing  PlayState
	Position float64
	Duration float64
	Error    mo.Option[string]
	Chunks   []ChunkSpan
	Track    TrackInfo
}

// NewPlayerState returns the state a freshly constructed player reports
func NewPlayerState() PlayerState {
	return PlayerState{
		Playing: Playing,
		Error:   mo.None[string](),
		Chunks:  []ChunkSpan{},
	}
}

// Apply folds one status event into the snapshot
func (s *PlayerState) Apply(st PlayerStatus) {
	switch st.Kind {
	case StatusPlayingChanged:
		s.Playing = st.Playing
		if st.Playing == Finished {
			s.Error = mo.None[string]()
		}
	case StatusTimeStats:
		s.Position = st.Position
		s.Duration = st.Duration
	case StatusChunkAdded:
		s.Chunks = append(s.Chunks, ChunkSpan{Start: st.Start, End: st.End})
	case StatusError:
		s.Error = mo.Some(st.Message)
	case StatusClearError:
		s.Error = mo.None[string]()
		s.Chunks = []ChunkSpan{}
	case StatusTrackInfo:
		s.Track = st.Info
	}
}

// Clone returns a deep copy safe to hand to callers
func (s PlayerState) Clone() PlayerState {
	c := s
	c.Chunks = make([]ChunkSpan, len(s.Chunks))
	copy(c.Chunks, s.Chunks)
	return c
}

// Player is the non-blocking transport surface of a stream player
type Player interface {
	Open(url string) error
	Play() error
	Pause() error
	Close() error
	Seek(seconds float64) error
	SeekRelative(delta float64) error
	CurrentPosition() float64
	Duration() float64
	IsPlaying() PlayState
	IsInErrorState() bool
	Error() mo.Option[string]
	BufferChunks() []ChunkSpan
}

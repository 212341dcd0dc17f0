package audio

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/jscyril/streamplayer/api"
	"github.com/jscyril/streamplayer/internal/source"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// finishTolerance is how close to the end, in seconds, a failed read may
// occur and still count as the end of the stream
const finishTolerance = 1.0

type engineState int

const (
	stateIdle engineState = iota
	stateOpening
	statePlaying
	statePaused
	stateErroring
	stateFinished
	stateClosed
)

func (s engineState) String() string {
	return [...]string{"idle", "opening", "playing", "paused", "erroring", "finished", "closed"}[s]
}

// session is everything tied to one opened URL
type session struct {
	url      string
	source   io.ReadSeekCloser
	demuxer  Demuxer
	decoder  Decoder
	track    Track
	duration float64
	position float64
	sink     Sink

	sinkFailed bool
}

// Engine runs the decode loop. It consumes actions, pulls packets from the
// open stream, writes audio to the sink and reports statuses. All of its
// state belongs to the goroutine running Run.
type Engine struct {
	actions <-chan api.PlayerAction
	status  chan<- api.PlayerStatus

	client      *http.Client
	userAgent   string
	probe       Prober
	newDecoder  DecoderFactory
	openSink    SinkOpener
	idleSleep   time.Duration
	packetSleep time.Duration
	log         logrus.FieldLogger

	state   engineState
	pending *api.PlayerAction
	sess    *session
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithProber replaces the container prober
func WithProber(p Prober) EngineOption {
	return func(e *Engine) { e.probe = p }
}

// WithDecoderFactory replaces the decoder factory
func WithDecoderFactory(f DecoderFactory) EngineOption {
	return func(e *Engine) { e.newDecoder = f }
}

// WithSinkOpener sets how the audio output is opened
func WithSinkOpener(o SinkOpener) EngineOption {
	return func(e *Engine) { e.openSink = o }
}

// WithHTTPClient sets the client used for chunk requests
func WithHTTPClient(c *http.Client) EngineOption {
	return func(e *Engine) { e.client = c }
}

// WithUserAgent sets the User-Agent of chunk requests
func WithUserAgent(ua string) EngineOption {
	return func(e *Engine) { e.userAgent = ua }
}

// WithPacing sets the sleep while nothing plays and the sleep after each packet
func WithPacing(idle, packet time.Duration) EngineOption {
	return func(e *Engine) {
		e.idleSleep = idle
		e.packetSleep = packet
	}
}

// WithEngineLogger sets the logger
func WithEngineLogger(l logrus.FieldLogger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// NewEngine creates an engine reading actions and writing statuses
func NewEngine(actions <-chan api.PlayerAction, status chan<- api.PlayerStatus, opts ...EngineOption) *Engine {
	e := &Engine{
		actions:     actions,
		status:      status,
		client:      source.DefaultClient,
		userAgent:   source.DefaultUserAgent,
		probe:       Probe,
		newDecoder:  NewDecoder,
		idleSleep:   200 * time.Millisecond,
		packetSleep: 20 * time.Millisecond,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.openSink == nil {
		e.openSink = NewSinkOpener(NewNullBackend(44100, 2, 10*time.Millisecond), OutputOptions{Logger: e.log})
	}
	return e
}

// Run processes actions and plays audio until a Close action arrives, the
// action channel is closed, or ctx is cancelled
func (e *Engine) Run(ctx context.Context) error {
	defer e.teardown()

	for {
		if ctx.Err() != nil {
			return nil
		}

		if a, ok := e.nextAction(); ok {
			if a.Kind == api.ActionClose {
				e.log.Debug("close requested")
				return nil
			}
			e.handle(ctx, a)
		}

		decoded := false
		if e.state == statePlaying {
			decoded = e.step(ctx)
		}

		if e.pending != nil {
			continue
		}
		if decoded {
			e.pace(ctx, e.packetSleep)
		} else {
			e.pace(ctx, e.idleSleep)
		}
	}
}

// nextAction takes the action kept from the last sleep, or polls the queue
func (e *Engine) nextAction() (api.PlayerAction, bool) {
	if e.pending != nil {
		a := *e.pending
		e.pending = nil
		return a, true
	}
	select {
	case a, ok := <-e.actions:
		if !ok {
			return api.Close(), true
		}
		return a, true
	default:
		return api.PlayerAction{}, false
	}
}

// pace sleeps for d, waking early for an action, which is kept as pending
func (e *Engine) pace(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	case a, ok := <-e.actions:
		if !ok {
			a = api.Close()
		}
		e.pending = &a
	}
}

func (e *Engine) handle(ctx context.Context, a api.PlayerAction) {
	e.log.WithFields(logrus.Fields{"action": a.Kind, "state": e.state}).Debug("action")

	switch a.Kind {
	case api.ActionOpen:
		e.open(ctx, a.URL)

	case api.ActionPause:
		if e.state == statePlaying || e.state == statePaused {
			e.state = statePaused
			e.emit(ctx, api.PlayingChanged(api.Paused))
		}

	case api.ActionResume:
		if e.state == statePlaying || e.state == statePaused {
			e.state = statePlaying
			e.emit(ctx, api.PlayingChanged(api.Playing))
		}

	case api.ActionSeek:
		e.seek(ctx, a.Seconds, a.Seq)
	}
}

// open replaces the current stream with url
func (e *Engine) open(ctx context.Context, url string) {
	e.closeSession()
	e.emit(ctx, api.ClearError())
	e.state = stateOpening

	log := e.log.WithField("url", url)
	src := source.New(ctx, url,
		source.WithClient(e.client),
		source.WithUserAgent(e.userAgent),
		source.WithEvents(e.status),
		source.WithLogger(e.log),
	)

	demuxer, err := e.probe(HintFromURL(url), src)
	if err != nil {
		src.Close()
		e.fail(ctx, playerrors.NewPlayerError("open", url, err))
		return
	}

	track, ok := FirstSupportedTrack(demuxer.Tracks())
	if !ok {
		demuxer.Close()
		src.Close()
		e.fail(ctx, playerrors.NewPlayerError("open", url, playerrors.ErrNoTrack))
		return
	}

	decoder, err := e.newDecoder(track)
	if err != nil {
		demuxer.Close()
		src.Close()
		e.fail(ctx, playerrors.NewPlayerError("open", url, err))
		return
	}

	e.sess = &session{
		url:      url,
		source:   src,
		demuxer:  demuxer,
		decoder:  decoder,
		track:    track,
		duration: track.Duration(),
	}
	e.state = statePlaying

	log.WithFields(logrus.Fields{
		"codec":    track.Codec,
		"rate":     track.SampleRate,
		"channels": track.Channels,
		"duration": e.sess.duration,
	}).Info("stream opened")

	e.emit(ctx, api.TrackInfoChanged(api.TrackInfo{
		URL:        url,
		Codec:      string(track.Codec),
		SampleRate: track.SampleRate,
		Channels:   track.Channels,
		Title:      getOrDefault(track.Title, titleFromURL(url)),
		Artist:     track.Artist,
		Album:      track.Album,
	}))
	e.emit(ctx, api.PlayingChanged(api.Playing))
	e.emit(ctx, api.TimeStats(0, e.sess.duration))
}

// seek repositions the open stream and confirms with a TimeStats tagged
// with seq. It does nothing while no stream is readable.
func (e *Engine) seek(ctx context.Context, seconds float64, seq uint64) {
	switch e.state {
	case statePlaying, statePaused, stateFinished:
	default:
		e.log.WithField("state", e.state).Debug("seek ignored")
		return
	}

	target := max(seconds, 0)
	if e.sess.duration > 0 {
		target = lo.Clamp(seconds, 0, e.sess.duration)
	}

	actual, err := e.sess.demuxer.Seek(SeekAccurate, target)
	if err != nil {
		e.fail(ctx, playerrors.NewPlayerError("seek", e.sess.url, err))
		return
	}
	if e.sess.sink != nil {
		e.sess.sink.Clear()
	}
	e.sess.position = actual
	e.emit(ctx, api.SeekStats(actual, e.sess.duration, seq))

	if e.state == stateFinished {
		e.state = statePlaying
		e.emit(ctx, api.PlayingChanged(api.Playing))
	}
}

// step decodes one packet and hands it to the sink. It reports whether the
// loop made progress.
func (e *Engine) step(ctx context.Context) bool {
	s := e.sess
	pkt, err := s.demuxer.NextPacket()
	if err != nil {
		e.readFailure(ctx, err)
		return false
	}
	if pkt.TrackID != s.track.ID {
		return true
	}

	buf, err := s.decoder.Decode(pkt)
	if err != nil {
		if playerrors.IsFatal(err) {
			e.readFailure(ctx, err)
			return false
		}
		e.log.WithError(err).Warn("skipping undecodable packet")
		e.emit(ctx, api.Error(err.Error()))
		return true
	}

	s.position = s.track.TimeBase.CalcTime(pkt.TS)

	if s.sink == nil {
		sink, err := e.openSink(buf.Spec, s.decoder.SuggestedCapacity())
		if err != nil {
			e.sinkFailure(ctx, err)
			return true
		}
		s.sink = sink
		s.sinkFailed = false
	}

	e.progress(api.TimeStats(s.position, s.duration))

	if err := s.sink.Write(buf); err != nil {
		s.sink.Close()
		s.sink = nil
		e.sinkFailure(ctx, err)
	}
	return true
}

// readFailure classifies a fatal read. Reaching the end, or failing within
// finishTolerance of the reported duration, finishes the stream. While the
// duration is unknown it is 0, so every failed read finishes.
func (e *Engine) readFailure(ctx context.Context, err error) {
	s := e.sess
	if errors.Is(err, io.EOF) {
		e.finish(ctx)
		return
	}
	if s.position-s.duration >= -finishTolerance {
		e.log.WithError(err).Debug("read failed at the end of the stream")
		e.finish(ctx)
		return
	}
	e.fail(ctx, playerrors.NewPlayerError("read", s.url, err))
}

func (e *Engine) finish(ctx context.Context) {
	if s := e.sess; s.sink != nil {
		if err := s.sink.Flush(); err != nil {
			e.log.WithError(err).Debug("flush at end of stream")
		}
	}
	e.state = stateFinished
	e.log.WithField("url", e.sess.url).Info("stream finished")
	e.emit(ctx, api.PlayingChanged(api.Finished))
}

// fail reports err and waits in the erroring state for the next Open
func (e *Engine) fail(ctx context.Context, err error) {
	e.log.WithError(err).Warn("playback failed")
	e.state = stateErroring
	e.emit(ctx, api.Error(err.Error()))
}

// sinkFailure reports a device problem once; the sink is retried on the
// next packet
func (e *Engine) sinkFailure(ctx context.Context, err error) {
	if e.sess.sinkFailed {
		return
	}
	e.sess.sinkFailed = true
	e.log.WithError(err).Warn("audio output failed")
	e.emit(ctx, api.Error(playerrors.NewPlayerError("output", e.sess.url, err).Error()))
}

// emit delivers a status, waiting for queue space unless ctx ends first
func (e *Engine) emit(ctx context.Context, st api.PlayerStatus) {
	select {
	case e.status <- st:
	case <-ctx.Done():
	}
}

// progress delivers a periodic status that may be dropped when the queue is full
func (e *Engine) progress(st api.PlayerStatus) {
	select {
	case e.status <- st:
	default:
	}
}

// closeSession drops the stream without playing out queued audio
func (e *Engine) closeSession() {
	s := e.sess
	if s == nil {
		return
	}
	e.sess = nil
	if s.sink != nil {
		s.sink.Close()
	}
	s.demuxer.Close()
	s.source.Close()
}

// teardown releases everything on exit
func (e *Engine) teardown() {
	if s := e.sess; s != nil && s.sink != nil && e.state == statePlaying {
		if err := s.sink.Flush(); err != nil {
			e.log.WithError(err).Debug("flush on shutdown")
		}
	}
	e.closeSession()
	e.state = stateClosed
	e.log.Debug("engine stopped")
}

// Package player is the public face of the stream player. A Player runs the
// playback engine on its own goroutine and mirrors the statuses it reports
// into a snapshot that every accessor reads without blocking.
package player

import (
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jscyril/streamplayer/api"
	"github.com/jscyril/streamplayer/internal/audio"
	"github.com/jscyril/streamplayer/internal/config"
	"github.com/jscyril/streamplayer/internal/logging"
	"github.com/jscyril/streamplayer/internal/source"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
	"github.com/jscyril/streamplayer/pkg/events"
	"github.com/samber/mo"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

var _ api.Player = (*Player)(nil)

// Player controls one stream at a time. Mutating calls queue an action for
// the engine and return at once.
type Player struct {
	actions chan api.PlayerAction
	status  chan api.PlayerStatus
	bus     *events.Bus
	log     logrus.FieldLogger

	mu    sync.RWMutex
	state api.PlayerState

	seeks atomic.Uint64

	pollInterval time.Duration
	cancel       context.CancelFunc
	group        *errgroup.Group
	done         chan struct{}
	logCloser    io.Closer

	shutdownOnce sync.Once
	shutdownErr  error
}

type options struct {
	loadCfg  func() (*config.Config, error)
	log      logrus.FieldLogger
	client   *http.Client
	backend  audio.Backend
	openSink audio.SinkOpener
	probe    audio.Prober
}

// Option configures a Player
type Option func(*options)

// WithConfig replaces the default configuration
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		o.loadCfg = func() (*config.Config, error) { return cfg, nil }
	}
}

// WithConfigFile reads the configuration from path on fs, writing the
// defaults there when the file is missing. STREAMPLAYER_* variables, from
// the process or from any envFiles that exist, override it.
func WithConfigFile(fs afero.Fs, path string, envFiles ...string) Option {
	return func(o *options) {
		o.loadCfg = func() (*config.Config, error) {
			cfg, err := config.LoadOrCreate(fs, path)
			if err != nil {
				return nil, err
			}
			if err := config.LoadEnv(cfg, envFiles...); err != nil {
				return nil, err
			}
			return cfg, nil
		}
	}
}

// WithUserConfig loads the user's config file, from $STREAMPLAYER_CONFIG or
// the XDG config directory, and a .env file in the working directory
func WithUserConfig() Option {
	return WithConfigFile(afero.NewOsFs(), config.GetConfigPath(), ".env")
}

// WithLogger sets the logger instead of building one from the config
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *options) { o.log = l }
}

// WithHTTPClient sets the client used for chunk requests
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.client = c }
}

// WithBackend plays through b instead of the configured device
func WithBackend(b audio.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithSinkOpener bypasses device selection entirely
func WithSinkOpener(s audio.SinkOpener) Option {
	return func(o *options) { o.openSink = s }
}

// WithProber replaces container detection
func WithProber(p audio.Prober) Option {
	return func(o *options) { o.probe = p }
}

// New builds a player and starts its engine and status goroutines
func New(opts ...Option) (*Player, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	cfg := config.GetDefaultConfig()
	if o.loadCfg != nil {
		c, err := o.loadCfg()
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var logCloser io.Closer
	if o.log == nil {
		l, closer, err := logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
		o.log = l
		logCloser = closer
	}

	if o.openSink == nil {
		if o.backend == nil {
			b, err := audio.SelectBackend(cfg.Audio)
			if err != nil {
				if logCloser != nil {
					logCloser.Close()
				}
				return nil, err
			}
			o.backend = b
		}
		o.log.WithField("backend", o.backend.Name()).Debug("audio backend selected")
		o.openSink = audio.NewSinkOpener(o.backend, audio.OutputOptions{
			RingDuration: cfg.Audio.RingDuration.Duration,
			WriteTimeout: cfg.Audio.WriteTimeout.Duration,
			Logger:       o.log,
		})
	}
	if o.client == nil {
		o.client = source.NewClient(cfg.HTTP.Timeout.Duration)
	}

	p := &Player{
		actions:      make(chan api.PlayerAction, cfg.Player.ActionQueue),
		status:       make(chan api.PlayerStatus, cfg.Player.StatusQueue),
		bus:          events.NewBus(),
		log:          o.log,
		state:        api.NewPlayerState(),
		pollInterval: cfg.Player.PollInterval.Duration,
		done:         make(chan struct{}),
		logCloser:    logCloser,
	}

	engineOpts := []audio.EngineOption{
		audio.WithSinkOpener(o.openSink),
		audio.WithHTTPClient(o.client),
		audio.WithUserAgent(cfg.HTTP.UserAgent),
		audio.WithPacing(cfg.Engine.IdleSleep.Duration, cfg.Engine.PacketSleep.Duration),
		audio.WithEngineLogger(o.log),
	}
	if o.probe != nil {
		engineOpts = append(engineOpts, audio.WithProber(o.probe))
	}
	engine := audio.NewEngine(p.actions, p.status, engineOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.group = &errgroup.Group{}
	p.group.Go(func() error {
		defer close(p.done)
		return engine.Run(ctx)
	})
	p.group.Go(p.poll)

	return p, nil
}

// poll mirrors statuses into the snapshot until the engine has exited and
// its last statuses are drained
func (p *Player) poll() error {
	defer p.bus.Close()

	t := time.NewTicker(p.pollInterval)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			p.drain()
		case <-p.done:
			p.drain()
			return nil
		}
	}
}

func (p *Player) drain() {
	var batch []api.PlayerStatus
loop:
	for {
		select {
		case st := <-p.status:
			batch = append(batch, st)
		default:
			break loop
		}
	}
	if len(batch) == 0 {
		return
	}

	p.mu.Lock()
	for _, st := range batch {
		p.state.Apply(st)
	}
	p.mu.Unlock()

	for _, st := range batch {
		if st.Kind == api.StatusError {
			p.log.WithField("error", st.Message).Debug("engine reported an error")
		}
		p.bus.Publish(st)
	}
}

// send queues an action without waiting
func (p *Player) send(a api.PlayerAction) error {
	select {
	case <-p.done:
		return playerrors.ErrClosed
	default:
	}
	select {
	case p.actions <- a:
		return nil
	default:
		return playerrors.ErrQueueFull
	}
}

// Open starts streaming url, replacing whatever was playing
func (p *Player) Open(url string) error {
	return p.send(api.Open(url))
}

// Play resumes a paused stream
func (p *Player) Play() error {
	return p.send(api.Resume())
}

// Pause pauses the stream
func (p *Player) Pause() error {
	return p.send(api.Pause())
}

// Close stops the engine. The player accepts no actions afterwards.
func (p *Player) Close() error {
	return p.send(api.Close())
}

// Seek moves to an absolute position in seconds
func (p *Player) Seek(seconds float64) error {
	return p.send(api.SeekSeq(seconds, p.seeks.Add(1)))
}

// SeekRelative moves by delta seconds from the last reported position
func (p *Player) SeekRelative(delta float64) error {
	return p.Seek(max(p.CurrentPosition()+delta, 0))
}

// CurrentPosition is the last reported playback position in seconds. It
// lags the engine by up to one poll interval.
func (p *Player) CurrentPosition() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Position
}

// Duration is 0 while unknown
func (p *Player) Duration() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Duration
}

// IsPlaying reports whether the stream is playing, paused or finished.
// A player that has opened nothing reports Playing.
func (p *Player) IsPlaying() api.PlayState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Playing
}

// IsInErrorState is true from a reported error until the next Open
// clears it
func (p *Player) IsInErrorState() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Error.IsPresent()
}

// Error returns the last reported error until it is cleared
func (p *Player) Error() mo.Option[string] {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Error
}

// BufferChunks lists the downloaded regions as fractions of the stream
func (p *Player) BufferChunks() []api.ChunkSpan {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]api.ChunkSpan, len(p.state.Chunks))
	copy(out, p.state.Chunks)
	return out
}

// TrackInfo describes the open stream
func (p *Player) TrackInfo() api.TrackInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Track
}

// State returns a copy of the whole snapshot
func (p *Player) State() api.PlayerState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state.Clone()
}

// Done is closed once the engine has stopped
func (p *Player) Done() <-chan struct{} {
	return p.done
}

// Shutdown stops the engine, cancelling any request in flight, and waits
// for both goroutines. It is safe to call more than once.
func (p *Player) Shutdown() error {
	p.shutdownOnce.Do(func() {
		p.cancel()
		p.shutdownErr = p.group.Wait()
		if p.logCloser == nil {
			return
		}
		if err := p.logCloser.Close(); err != nil && p.shutdownErr == nil {
			p.shutdownErr = err
		}
	})
	return p.shutdownErr
}

package player

import (
	"context"
	"errors"

	"github.com/jscyril/streamplayer/api"
	playerrors "github.com/jscyril/streamplayer/pkg/errors"
)

// AsyncPlayer wraps a Player so each operation waits until the engine
// reports its effect, or ctx ends. Accessors are those of the Player.
type AsyncPlayer struct {
	*Player
}

// NewAsync builds a Player and wraps it
func NewAsync(opts ...Option) (*AsyncPlayer, error) {
	p, err := New(opts...)
	if err != nil {
		return nil, err
	}
	return &AsyncPlayer{Player: p}, nil
}

// Open waits for the new stream's first time report. An open that fails
// returns the reported error.
func (a *AsyncPlayer) Open(ctx context.Context, url string) error {
	cleared := false
	return a.await(ctx, api.Open(url), func(st api.PlayerStatus) (bool, error) {
		switch st.Kind {
		case api.StatusClearError:
			cleared = true
		case api.StatusTimeStats:
			return cleared, nil
		case api.StatusError:
			if cleared {
				return true, playerrors.NewPlayerError("open", url, errors.New(st.Message))
			}
		}
		return false, nil
	}, api.StatusClearError, api.StatusTimeStats, api.StatusError)
}

// Play waits until playback resumes
func (a *AsyncPlayer) Play(ctx context.Context) error {
	return a.await(ctx, api.Resume(), func(st api.PlayerStatus) (bool, error) {
		return st.Playing == api.Playing, nil
	}, api.StatusPlayingChanged)
}

// Pause waits until playback pauses
func (a *AsyncPlayer) Pause(ctx context.Context) error {
	return a.await(ctx, api.Pause(), func(st api.PlayerStatus) (bool, error) {
		return st.Playing == api.Paused, nil
	}, api.StatusPlayingChanged)
}

// Seek waits for the time report that confirms this seek. It returns
// ctx's error if no stream is open, since the engine ignores the seek.
func (a *AsyncPlayer) Seek(ctx context.Context, seconds float64) error {
	seq := a.seeks.Add(1)
	return a.await(ctx, api.SeekSeq(seconds, seq), func(st api.PlayerStatus) (bool, error) {
		switch st.Kind {
		case api.StatusTimeStats:
			return st.Seeked && st.Seq == seq, nil
		case api.StatusError:
			return true, errors.New(st.Message)
		}
		return false, nil
	}, api.StatusTimeStats, api.StatusError)
}

// SeekRelative seeks by delta from the last reported position
func (a *AsyncPlayer) SeekRelative(ctx context.Context, delta float64) error {
	return a.Seek(ctx, max(a.CurrentPosition()+delta, 0))
}

// Close waits for the engine to stop
func (a *AsyncPlayer) Close(ctx context.Context) error {
	if err := a.Player.Close(); err != nil {
		return err
	}
	select {
	case <-a.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// await subscribes before queueing the action so the confirming status
// cannot be missed, then feeds statuses to match until it reports done
func (a *AsyncPlayer) await(ctx context.Context, action api.PlayerAction, match func(api.PlayerStatus) (bool, error), kinds ...api.StatusKind) error {
	ch := a.bus.Subscribe(kinds...)
	defer a.bus.Unsubscribe(ch)

	if err := a.send(action); err != nil {
		return err
	}

	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return playerrors.ErrClosed
			}
			if done, err := match(st); done {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

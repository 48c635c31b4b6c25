package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"quill/internal/config"
	"quill/internal/events"
	"quill/internal/logging"
	"quill/internal/player"
	"quill/internal/store"
)

// State of the playback machine.
type State string

const (
	StateStopped   State = "stopped"
	StateBuffering State = "buffering"
	StatePlaying   State = "playing"
	StatePaused    State = "paused"
	StateError     State = "error"
)

// ErrNotRunning is returned by commands issued before Start or after Stop.
var ErrNotRunning = errors.New("playback coordinator not running")

// ErrEpisodeNotFound reports a play request for an unknown episode.
var ErrEpisodeNotFound = errors.New("episode not found")

// Snapshot is a point-in-time view of the coordinator for presentation.
type Snapshot struct {
	State     State
	EpisodeID int64
	Position  time.Duration
	Duration  time.Duration
	Volume    int
	Muted     bool
	Rate      float64
}

// Coordinator drives the playback engine and keeps episode state
// persisted.
type Coordinator struct {
	store   *store.Store
	adapter player.Adapter
	bus     *events.Bus
	logger  *slog.Logger

	commands        chan command
	checkpointEvery time.Duration
	initialVolume   int

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type command struct {
	run   func(ps *playState) error
	reply chan error
}

// playState is owned by the coordinator goroutine.
type playState struct {
	ctx       context.Context
	state     State
	sessionID string
	episode   *store.Episode
	position  time.Duration
	duration  time.Duration
	volume    int
	muted     bool
	rate      float64

	checkpointed time.Duration

	// lastEpisodeID remembers the episode a stop left behind so a
	// finish issued from Stopped still has a target.
	lastEpisodeID int64
}

// NewCoordinator constructs a playback coordinator.
func NewCoordinator(cfg *config.Config, st *store.Store, adapter player.Adapter, bus *events.Bus, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	interval := time.Duration(cfg.Playback.CheckpointInterval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Coordinator{
		store:           st,
		adapter:         adapter,
		bus:             bus,
		logger:          logging.NewComponentLogger(logger, "playback"),
		commands:        make(chan command),
		checkpointEvery: interval,
		initialVolume:   cfg.Playback.InitialVolume,
	}
}

// Start launches the coordinator goroutine.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("playback coordinator already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	c.cancel = cancel
	c.running = true
	c.wg.Add(1)
	go c.run(runCtx)
	return nil
}

// Stop checkpoints the active episode, stops the engine, and shuts the
// coordinator down.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	cancel := c.cancel
	c.running = false
	c.cancel = nil
	c.mu.Unlock()

	cancel()
	c.wg.Wait()
}

func (c *Coordinator) run(ctx context.Context) {
	defer c.wg.Done()

	ps := &playState{
		ctx:    ctx,
		state:  StateStopped,
		volume: c.initialVolume,
		rate:   1.0,
	}

	ticker := time.NewTicker(c.checkpointEvery)
	defer ticker.Stop()

	engineEvents := c.adapter.Events()

	for {
		select {
		case cmd := <-c.commands:
			cmd.reply <- cmd.run(ps)
		case evt, ok := <-engineEvents:
			if !ok {
				engineEvents = nil
				continue
			}
			c.handleEngineEvent(ps, evt)
		case <-ticker.C:
			c.checkpointPosition(ps)
		case <-ctx.Done():
			c.shutdown(ps)
			return
		}
	}
}

// shutdown persists the active episode before the process goes away.
// The run context is already cancelled here, so the final checkpoint
// gets its own short-lived context.
func (c *Coordinator) shutdown(ps *playState) {
	if ps.episode == nil || ps.state == StateStopped || ps.state == StateError {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ps.ctx = ctx
	c.persistStopped(ps)
}

// dispatch sends a command to the coordinator goroutine and waits for its
// reply.
func (c *Coordinator) dispatch(ctx context.Context, run func(ps *playState) error) error {
	c.mu.Lock()
	running := c.running
	runCtx := c.runCtx
	c.mu.Unlock()
	if !running || runCtx == nil {
		return ErrNotRunning
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cmd := command{run: run, reply: make(chan error, 1)}
	select {
	case c.commands <- cmd:
	case <-runCtx.Done():
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Play starts or resumes an episode. Playing the paused current episode
// resumes it; anything else checkpoints the outgoing episode and opens a
// fresh engine session. Play is the only command accepted in the Error
// state.
func (c *Coordinator) Play(ctx context.Context, episodeID int64) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if ps.episode != nil && ps.episode.ID == episodeID && ps.state == StatePaused {
			if err := c.adapter.Play(ps.ctx); err != nil {
				return err
			}
			c.setState(ps, StatePlaying)
			return nil
		}

		episode, err := c.store.EpisodeByID(ps.ctx, episodeID)
		if err != nil {
			return err
		}
		if episode == nil {
			return fmt.Errorf("%w: %d", ErrEpisodeNotFound, episodeID)
		}

		// The outgoing episode is checkpointed before the new session
		// starts.
		if ps.episode != nil && ps.state != StateStopped && ps.state != StateError {
			c.persistStopped(ps)
		}

		start := episode.Position
		// The row read above predates the checkpoint; when replaying
		// the episode that was just active, the in-memory position is
		// the current one.
		if ps.episode != nil && ps.episode.ID == episode.ID {
			start = ps.position
		}
		if episode.Status == store.EpisodeFinished {
			start = 0
		}
		if err := c.adapter.Open(ps.ctx, episode.MediaURL, start); err != nil {
			code := player.ErrCodeOpenFailed
			if persistErr := c.store.SetEpisodeError(ps.ctx, episode.ID, code); persistErr != nil {
				c.logger.Warn("persist episode error failed", logging.EpisodeID(episode.ID), logging.Error(persistErr))
			}
			ps.episode = episode
			ps.position = start
			c.setState(ps, StateError)
			return err
		}
		if err := c.adapter.SetVolume(ps.ctx, ps.volume); err != nil {
			c.logger.Warn("apply volume failed", logging.Error(err))
		}

		if err := c.store.MarkEpisodeStarted(ps.ctx, episode.ID, start); err != nil {
			c.logger.Warn("persist episode started failed", logging.EpisodeID(episode.ID), logging.Error(err))
		}

		ps.sessionID = uuid.NewString()
		c.logger.Info("playback session opened",
			logging.String(logging.FieldSessionID, ps.sessionID),
			logging.EpisodeID(episode.ID),
		)
		ps.episode = episode
		ps.lastEpisodeID = 0
		ps.position = start
		ps.checkpointed = start
		ps.duration = episode.Duration
		c.setState(ps, StateBuffering)
		return nil
	})
}

// Pause suspends playback and checkpoints immediately.
func (c *Coordinator) Pause(ctx context.Context) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := rejectInError(ps); err != nil {
			return err
		}
		if ps.state != StatePlaying {
			return fmt.Errorf("cannot pause while %s", ps.state)
		}
		if err := c.adapter.Pause(ps.ctx); err != nil {
			return err
		}
		c.writePosition(ps)
		c.setState(ps, StatePaused)
		return nil
	})
}

// Resume continues a paused episode.
func (c *Coordinator) Resume(ctx context.Context) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := rejectInError(ps); err != nil {
			return err
		}
		if ps.state != StatePaused {
			return fmt.Errorf("cannot resume while %s", ps.state)
		}
		if err := c.adapter.Play(ps.ctx); err != nil {
			return err
		}
		c.setState(ps, StatePlaying)
		return nil
	})
}

// TogglePause pauses when playing and resumes when paused.
func (c *Coordinator) TogglePause(ctx context.Context) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := rejectInError(ps); err != nil {
			return err
		}
		switch ps.state {
		case StatePlaying:
			if err := c.adapter.Pause(ps.ctx); err != nil {
				return err
			}
			c.writePosition(ps)
			c.setState(ps, StatePaused)
			return nil
		case StatePaused:
			if err := c.adapter.Play(ps.ctx); err != nil {
				return err
			}
			c.setState(ps, StatePlaying)
			return nil
		default:
			return fmt.Errorf("cannot toggle pause while %s", ps.state)
		}
	})
}

// StopPlayback halts the session, persisting position and leaving the
// episode resumable.
func (c *Coordinator) StopPlayback(ctx context.Context) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := rejectInError(ps); err != nil {
			return err
		}
		switch ps.state {
		case StatePlaying, StatePaused, StateBuffering:
		default:
			return fmt.Errorf("cannot stop while %s", ps.state)
		}
		if err := c.adapter.Stop(ps.ctx); err != nil {
			c.logger.Warn("engine stop failed", logging.Error(err))
		}
		c.persistStopped(ps)
		ps.lastEpisodeID = ps.episode.ID
		ps.episode = nil
		ps.position = 0
		ps.duration = 0
		c.setState(ps, StateStopped)
		return nil
	})
}

// Finish marks the active episode finished and stops. From Stopped it
// finishes the episode the preceding stop left behind.
func (c *Coordinator) Finish(ctx context.Context) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := rejectInError(ps); err != nil {
			return err
		}
		if ps.episode == nil {
			if ps.state == StateStopped && ps.lastEpisodeID != 0 {
				if err := c.store.MarkEpisodeFinished(ps.ctx, ps.lastEpisodeID); err != nil {
					return err
				}
				ps.lastEpisodeID = 0
				return nil
			}
			return errors.New("no active episode")
		}
		if ps.state != StateStopped {
			if err := c.adapter.Stop(ps.ctx); err != nil {
				c.logger.Warn("engine stop failed", logging.Error(err))
			}
		}
		if err := c.store.MarkEpisodeFinished(ps.ctx, ps.episode.ID); err != nil {
			return err
		}
		ps.episode = nil
		ps.position = 0
		ps.duration = 0
		c.setState(ps, StateStopped)
		return nil
	})
}

// SeekAbsolute jumps to a position in the active episode.
func (c *Coordinator) SeekAbsolute(ctx context.Context, position time.Duration) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := requireActive(ps); err != nil {
			return err
		}
		if position < 0 {
			position = 0
		}
		if err := c.adapter.SeekAbsolute(ps.ctx, position); err != nil {
			return err
		}
		ps.position = position
		return nil
	})
}

// SeekRelative jumps forward or backward in the active episode.
func (c *Coordinator) SeekRelative(ctx context.Context, delta time.Duration) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := requireActive(ps); err != nil {
			return err
		}
		return c.adapter.SeekRelative(ps.ctx, delta)
	})
}

// SetRate changes the playback speed for the active session.
func (c *Coordinator) SetRate(ctx context.Context, rate float64) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := requireActive(ps); err != nil {
			return err
		}
		if rate <= 0 {
			return fmt.Errorf("rate must be positive, got %v", rate)
		}
		if err := c.adapter.SetRate(ps.ctx, rate); err != nil {
			return err
		}
		ps.rate = rate
		c.bus.Publish(events.RateChanged{Rate: rate})
		return nil
	})
}

// SetVolume sets the volume percentage, clamped to 0..100.
func (c *Coordinator) SetVolume(ctx context.Context, percent int) error {
	return c.setVolume(ctx, func(ps *playState) int {
		return player.ClampVolume(percent)
	})
}

// AdjustVolume shifts the volume by a signed delta, clamping at the ends.
func (c *Coordinator) AdjustVolume(ctx context.Context, delta int) error {
	return c.setVolume(ctx, func(ps *playState) int {
		return player.ClampVolume(ps.volume + delta)
	})
}

func (c *Coordinator) setVolume(ctx context.Context, next func(ps *playState) int) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := requireActive(ps); err != nil {
			return err
		}
		volume := next(ps)
		if err := c.adapter.SetVolume(ps.ctx, volume); err != nil {
			return err
		}
		ps.volume = volume
		c.bus.Publish(events.VolumeChanged{Volume: ps.volume, Muted: ps.muted})
		return nil
	})
}

// SetMuted sets the mute flag without touching the volume level.
func (c *Coordinator) SetMuted(ctx context.Context, muted bool) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := requireActive(ps); err != nil {
			return err
		}
		return c.applyMute(ps, muted)
	})
}

// ToggleMute flips the mute flag.
func (c *Coordinator) ToggleMute(ctx context.Context) error {
	return c.dispatch(ctx, func(ps *playState) error {
		if err := requireActive(ps); err != nil {
			return err
		}
		return c.applyMute(ps, !ps.muted)
	})
}

func (c *Coordinator) applyMute(ps *playState, muted bool) error {
	if err := c.adapter.SetMuted(ps.ctx, muted); err != nil {
		return err
	}
	ps.muted = muted
	c.bus.Publish(events.VolumeChanged{Volume: ps.volume, Muted: ps.muted})
	return nil
}

// Current returns a snapshot of the coordinator state.
func (c *Coordinator) Current(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := c.dispatch(ctx, func(ps *playState) error {
		snap = Snapshot{
			State:    ps.state,
			Position: ps.position,
			Duration: ps.duration,
			Volume:   ps.volume,
			Muted:    ps.muted,
			Rate:     ps.rate,
		}
		if ps.episode != nil {
			snap.EpisodeID = ps.episode.ID
		}
		return nil
	})
	return snap, err
}

// rejectInError enforces the rule that only Play leaves the Error state.
func rejectInError(ps *playState) error {
	if ps.state == StateError {
		return errors.New("playback is in error state; only play is accepted")
	}
	return nil
}

// requireActive rejects session commands while Stopped or Error.
func requireActive(ps *playState) error {
	if err := rejectInError(ps); err != nil {
		return err
	}
	if ps.state == StateStopped {
		return errors.New("no active playback")
	}
	return nil
}

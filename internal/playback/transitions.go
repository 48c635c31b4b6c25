package playback

import (
	"quill/internal/events"
	"quill/internal/logging"
	"quill/internal/player"
	"quill/internal/store"
)

// handleEngineEvent applies a backend notification to the state machine.
// Runs on the coordinator goroutine.
func (c *Coordinator) handleEngineEvent(ps *playState, evt player.Event) {
	switch evt.Kind {
	case player.EventStarted:
		if ps.state == StateBuffering {
			c.setState(ps, StatePlaying)
		}
	case player.EventBuffering:
		switch {
		case evt.Flag && ps.state == StatePlaying:
			c.setState(ps, StateBuffering)
		case !evt.Flag && ps.state == StateBuffering:
			c.setState(ps, StatePlaying)
		}
	case player.EventPosition:
		if ps.episode == nil {
			return
		}
		ps.position = evt.Position
		c.publishState(ps)
	case player.EventDuration:
		ps.duration = evt.Position
	case player.EventEndOfStream:
		c.handleEndOfStream(ps)
	case player.EventFailed:
		c.handleFailure(ps, evt.Code)
	}
}

func (c *Coordinator) handleEndOfStream(ps *playState) {
	if ps.episode == nil || (ps.state != StatePlaying && ps.state != StateBuffering) {
		return
	}
	if err := c.store.MarkEpisodeFinished(ps.ctx, ps.episode.ID); err != nil {
		c.logger.Warn("persist episode finished failed",
			logging.EpisodeID(ps.episode.ID), logging.Error(err))
	}
	c.logger.Info("episode finished", logging.EpisodeID(ps.episode.ID))
	ps.episode = nil
	ps.position = 0
	ps.duration = 0
	c.setState(ps, StateStopped)
}

func (c *Coordinator) handleFailure(ps *playState, code string) {
	if code == "" {
		code = player.ErrCodeStream
	}
	if ps.episode != nil {
		if err := c.store.SetEpisodeError(ps.ctx, ps.episode.ID, code); err != nil {
			c.logger.Warn("persist episode error failed",
				logging.EpisodeID(ps.episode.ID), logging.Error(err))
		}
		c.logger.Warn("playback failed",
			logging.EpisodeID(ps.episode.ID),
			logging.String(logging.FieldErrorCode, code),
		)
	}
	c.setState(ps, StateError)
}

// setState records the transition and publishes it.
func (c *Coordinator) setState(ps *playState, state State) {
	ps.state = state
	c.publishState(ps)
}

func (c *Coordinator) publishState(ps *playState) {
	evt := events.PlaybackStateChanged{
		State:    string(ps.state),
		Position: ps.position,
		Duration: ps.duration,
	}
	if ps.episode != nil {
		evt.EpisodeID = ps.episode.ID
	}
	c.bus.Publish(evt)
}

// persistStopped writes the outgoing episode's position and, unless it
// already finished, keeps it resumable as started.
func (c *Coordinator) persistStopped(ps *playState) {
	if ps.episode == nil {
		return
	}
	if ps.episode.Status == store.EpisodeFinished {
		return
	}
	if err := c.store.MarkEpisodeStarted(ps.ctx, ps.episode.ID, ps.position); err != nil {
		c.logger.Warn("checkpoint episode failed",
			logging.EpisodeID(ps.episode.ID), logging.Error(err))
		return
	}
	ps.checkpointed = ps.position
}

// writePosition is the immediate write-through used on status
// transitions.
func (c *Coordinator) writePosition(ps *playState) {
	if ps.episode == nil {
		return
	}
	if err := c.store.UpdateEpisodePosition(ps.ctx, ps.episode.ID, ps.position); err != nil {
		c.logger.Warn("checkpoint position failed",
			logging.EpisodeID(ps.episode.ID), logging.Error(err))
		return
	}
	ps.checkpointed = ps.position
}

// checkpointPosition runs on the debounce ticker; it writes only while
// actively playing and only when the position moved since the last write.
// A failed write is logged and skipped, never retried.
func (c *Coordinator) checkpointPosition(ps *playState) {
	if ps.episode == nil || ps.state != StatePlaying {
		return
	}
	if ps.position == ps.checkpointed {
		return
	}
	c.writePosition(ps)
}

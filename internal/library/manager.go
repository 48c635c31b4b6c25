package library

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/events"
	"quill/internal/fetch"
	"quill/internal/logging"
	"quill/internal/store"
)

// Fetcher is the slice of the feed fetcher the manager depends on; tests
// substitute a fake.
type Fetcher interface {
	Fetch(ctx context.Context, source string) (*fetch.Result, error)
}

// ErrNotRunning is returned by commands issued before Start or after Stop.
var ErrNotRunning = errors.New("library manager not running")

// ErrFeedNotFound reports a command against a feed that is not in the
// library.
var ErrFeedNotFound = errors.New("feed not found")

// ErrGroupNotFound reports a command against a group that does not exist.
var ErrGroupNotFound = errors.New("group not found")

// ErrEpisodeNotFound reports a command against an unknown episode.
var ErrEpisodeNotFound = errors.New("episode not found")

// Manager coordinates library mutations and feed updates.
type Manager struct {
	cfg     *config.Config
	store   *store.Store
	fetcher Fetcher
	bus     *events.Bus
	logger  *slog.Logger

	commands chan command
	done     chan updateResult
	sem      chan struct{}
	timeout  time.Duration

	mu      sync.Mutex
	running bool
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type command struct {
	run   func(ls *loopState) error
	reply chan error
}

// loopState is owned by the manager goroutine; command closures and
// result handling are the only code that touches it.
type loopState struct {
	ctx      context.Context
	updating map[int64]struct{}
	inflight int
}

type updateResult struct {
	feedID      int64
	newEpisodes int
	code        string
	err         error
	aborted     bool
}

// NewManager constructs a library manager.
func NewManager(cfg *config.Config, st *store.Store, fetcher Fetcher, bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	concurrency := cfg.Fetch.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		cfg:      cfg,
		store:    st,
		fetcher:  fetcher,
		bus:      bus,
		logger:   logging.NewComponentLogger(logger, "library"),
		commands: make(chan command),
		done:     make(chan updateResult),
		sem:      make(chan struct{}, concurrency),
		timeout:  time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
	}
}

// Start launches the manager goroutine.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.New("library manager already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.runCtx = runCtx
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	go m.run(runCtx)
	return nil
}

// Stop shuts the manager down. Fetches already dispatched are drained to
// completion so their results still reach the store.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	ls := &loopState{ctx: ctx, updating: make(map[int64]struct{})}

	for {
		select {
		case cmd := <-m.commands:
			cmd.reply <- cmd.run(ls)
		case res := <-m.done:
			m.finishUpdate(ls, res)
		case <-ctx.Done():
			m.drain(ls)
			return
		}
	}
}

// drain waits for in-flight updates after shutdown begins. Commands that
// raced with Stop are refused rather than left hanging.
func (m *Manager) drain(ls *loopState) {
	for ls.inflight > 0 {
		select {
		case res := <-m.done:
			m.finishUpdate(ls, res)
		case cmd := <-m.commands:
			cmd.reply <- ErrNotRunning
		}
	}
}

func (m *Manager) finishUpdate(ls *loopState, res updateResult) {
	ls.inflight--
	delete(ls.updating, res.feedID)

	switch {
	case res.aborted:
		m.logger.Debug("feed update aborted by shutdown", logging.FeedID(res.feedID))
	case res.err != nil:
		m.logger.Warn("feed update failed",
			logging.FeedID(res.feedID),
			logging.String(logging.FieldErrorCode, res.code),
			logging.Error(res.err),
		)
		m.bus.Publish(events.FeedUpdateFailed{FeedID: res.feedID, Code: res.code})
	default:
		m.logger.Info("feed updated",
			logging.FeedID(res.feedID),
			logging.Int("new_episodes", res.newEpisodes),
		)
		m.bus.Publish(events.FeedUpdateFinished{FeedID: res.feedID, NewEpisodes: res.newEpisodes})
	}
}

// dispatch sends a command to the manager goroutine and waits for its
// reply.
func (m *Manager) dispatch(ctx context.Context, run func(ls *loopState) error) error {
	m.mu.Lock()
	running := m.running
	runCtx := m.runCtx
	m.mu.Unlock()
	if !running || runCtx == nil {
		return ErrNotRunning
	}

	ctx = ensureContext(ctx)
	cmd := command{run: run, reply: make(chan error, 1)}
	select {
	case m.commands <- cmd:
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

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"quill/internal/config"
	"quill/internal/logging"
)

// Test hooks, overridden to substitute a scripted engine.
var (
	commandContext = exec.CommandContext
	dialSocket     = func(path string) (net.Conn, error) {
		return net.DialTimeout("unix", path, time.Second)
	}
)

const (
	commandTimeout  = 5 * time.Second
	socketDialRetry = 50 * time.Millisecond
)

// MPV drives an mpv subprocess over its JSON IPC socket.
type MPV struct {
	binary     string
	extraArgs  []string
	socketPath string
	startupTO  time.Duration
	logger     *slog.Logger

	events chan Event

	mu      sync.Mutex
	cmd     *exec.Cmd
	conn    net.Conn
	ipc     *ipcConn
	loaded  bool
	closed  bool
	cancel  context.CancelFunc
	readWG  sync.WaitGroup
	waitErr chan error
}

// NewMPV builds the adapter. The engine process is not launched until the
// first Open.
func NewMPV(cfg *config.Config, logger *slog.Logger) *MPV {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &MPV{
		binary:     cfg.Player.Binary,
		extraArgs:  append([]string(nil), cfg.Player.ExtraArgs...),
		socketPath: cfg.PlayerSocketPath(),
		startupTO:  time.Duration(cfg.Player.StartupTimeout) * time.Second,
		logger:     logging.NewComponentLogger(logger, "player"),
		events:     make(chan Event, 64),
	}
}

// Events returns the engine notification stream. The channel closes when
// the adapter is closed.
func (m *MPV) Events() <-chan Event {
	return m.events
}

// Open loads url into the engine, starting paused=false at the given
// offset. Any prior session is replaced; the engine process is spawned on
// first use and reused afterwards.
func (m *MPV) Open(ctx context.Context, url string, start time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("player closed")
	}
	if err := m.ensureStartedLocked(ctx); err != nil {
		return fmt.Errorf("%s: %w", ErrCodeOpenFailed, err)
	}

	args := []any{"loadfile", url, "replace"}
	if start > 0 {
		args = append(args, "start="+strconv.FormatFloat(start.Seconds(), 'f', 3, 64))
	}
	if err := m.ipc.command(ctx, args...); err != nil {
		return fmt.Errorf("%s: %w", ErrCodeOpenFailed, err)
	}
	if err := m.ipc.setProperty(ctx, "pause", false); err != nil {
		return fmt.Errorf("%s: %w", ErrCodeOpenFailed, err)
	}
	m.loaded = true
	return nil
}

// Play resumes a paused stream.
func (m *MPV) Play(ctx context.Context) error {
	return m.setProperty(ctx, "pause", false)
}

// Pause suspends decoding without dropping the stream.
func (m *MPV) Pause(ctx context.Context) error {
	return m.setProperty(ctx, "pause", true)
}

// SeekAbsolute jumps to a position from the start of the stream.
func (m *MPV) SeekAbsolute(ctx context.Context, position time.Duration) error {
	if position < 0 {
		position = 0
	}
	return m.runCommand(ctx, "seek", position.Seconds(), "absolute")
}

// SeekRelative jumps forward or backward from the current position.
func (m *MPV) SeekRelative(ctx context.Context, delta time.Duration) error {
	return m.runCommand(ctx, "seek", delta.Seconds(), "relative")
}

// SetRate changes the playback speed. The rate must be positive.
func (m *MPV) SetRate(ctx context.Context, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", rate)
	}
	return m.setProperty(ctx, "speed", rate)
}

// SetVolume sets the output volume as a percentage, clamped to 0..100.
func (m *MPV) SetVolume(ctx context.Context, percent int) error {
	return m.setProperty(ctx, "volume", ClampVolume(percent))
}

// SetMuted toggles the mute flag without touching the volume.
func (m *MPV) SetMuted(ctx context.Context, muted bool) error {
	return m.setProperty(ctx, "mute", muted)
}

// Stop drops the current stream and returns the engine to idle.
func (m *MPV) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ipc == nil {
		return nil
	}
	m.loaded = false
	return m.ipc.command(ctx, "stop")
}

// Close shuts the engine process down and closes the event stream.
func (m *MPV) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ipc := m.ipc
	conn := m.conn
	cmd := m.cmd
	cancel := m.cancel
	waitErr := m.waitErr
	m.mu.Unlock()

	if ipc != nil {
		ctx, cancelCmd := context.WithTimeout(context.Background(), time.Second)
		_ = ipc.command(ctx, "quit")
		cancelCmd()
	}
	if conn != nil {
		_ = conn.Close()
	}
	if cmd != nil && waitErr != nil {
		select {
		case <-waitErr:
		case <-time.After(2 * time.Second):
			if cancel != nil {
				cancel()
			}
			<-waitErr
		}
	}
	m.readWG.Wait()
	close(m.events)
	_ = os.Remove(m.socketPath)
	return nil
}

func (m *MPV) setProperty(ctx context.Context, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ipc == nil {
		return errors.New("player not started")
	}
	return m.ipc.setProperty(ctx, name, value)
}

func (m *MPV) runCommand(ctx context.Context, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ipc == nil {
		return errors.New("player not started")
	}
	return m.ipc.command(ctx, args...)
}

// ensureStartedLocked launches the engine and connects the IPC socket on
// first use. Callers hold the mutex.
func (m *MPV) ensureStartedLocked(ctx context.Context) error {
	if m.ipc != nil {
		return nil
	}

	_ = os.Remove(m.socketPath)

	args := []string{
		"--idle=yes",
		"--no-video",
		"--no-terminal",
		"--input-ipc-server=" + m.socketPath,
	}
	args = append(args, m.extraArgs...)

	procCtx, cancel := context.WithCancel(context.Background())
	cmd := commandContext(procCtx, m.binary, args...)
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", m.binary, err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- cmd.Wait() }()

	conn, err := m.dialWithRetry(ctx)
	if err != nil {
		cancel()
		<-waitErr
		return err
	}

	m.cmd = cmd
	m.cancel = cancel
	m.waitErr = waitErr
	m.conn = conn
	m.ipc = newIPCConn(conn)

	m.readWG.Add(1)
	go func() {
		defer m.readWG.Done()
		m.ipc.readLoop(m.handleEngineEvent)
	}()

	if err := m.observeProperties(ctx); err != nil {
		return err
	}
	m.logger.Info("engine started", logging.String("binary", m.binary))
	return nil
}

func (m *MPV) dialWithRetry(ctx context.Context) (net.Conn, error) {
	deadline := time.Now().Add(m.startupTO)
	for {
		conn, err := dialSocket(m.socketPath)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("connect %s: %w", m.socketPath, err)
		}
		select {
		case <-time.After(socketDialRetry):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Property observer ids; mpv echoes them back on every property-change.
const (
	obsTimePos = iota + 1
	obsDuration
	obsPausedForCache
	obsEOFReached
)

func (m *MPV) observeProperties(ctx context.Context) error {
	observed := []struct {
		id   int
		name string
	}{
		{obsTimePos, "time-pos"},
		{obsDuration, "duration"},
		{obsPausedForCache, "paused-for-cache"},
		{obsEOFReached, "eof-reached"},
	}
	for _, obs := range observed {
		if err := m.ipc.command(ctx, "observe_property", obs.id, obs.name); err != nil {
			return fmt.Errorf("observe %s: %w", obs.name, err)
		}
	}
	return nil
}

// handleEngineEvent translates raw mpv events into adapter events. Runs on
// the read loop goroutine.
func (m *MPV) handleEngineEvent(msg ipcMessage) {
	switch msg.Event {
	case "file-loaded":
		m.emit(Event{Kind: EventStarted})
	case "property-change":
		m.handlePropertyChange(msg)
	case "end-file":
		m.handleEndFile(msg)
	}
}

func (m *MPV) handlePropertyChange(msg ipcMessage) {
	switch msg.ID {
	case obsTimePos:
		if seconds, ok := msg.float(); ok {
			m.emit(Event{Kind: EventPosition, Position: secondsToDuration(seconds)})
		}
	case obsDuration:
		if seconds, ok := msg.float(); ok && seconds > 0 {
			m.emit(Event{Kind: EventDuration, Position: secondsToDuration(seconds)})
		}
	case obsPausedForCache:
		if flag, ok := msg.bool(); ok {
			m.emit(Event{Kind: EventBuffering, Flag: flag})
		}
	case obsEOFReached:
		if flag, ok := msg.bool(); ok && flag {
			m.emit(Event{Kind: EventEndOfStream})
		}
	}
}

func (m *MPV) handleEndFile(msg ipcMessage) {
	switch msg.Reason {
	case "eof":
		m.emit(Event{Kind: EventEndOfStream})
	case "error":
		m.emit(Event{Kind: EventFailed, Code: ErrCodeStream})
	}
}

func (m *MPV) emit(evt Event) {
	select {
	case m.events <- evt:
	default:
		m.logger.Debug("engine event dropped", logging.String("kind", string(evt.Kind)))
	}
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds < 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}

var _ Adapter = (*MPV)(nil)

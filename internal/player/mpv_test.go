package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os/exec"
	"sync"
	"testing"
	"time"

	"quill/internal/logging"
	"quill/internal/testsupport"
)

// fakeEngine pretends to be the mpv IPC server: it accepts one socket
// connection, acknowledges every command, and lets tests inject events.
type fakeEngine struct {
	t        *testing.T
	listener net.Listener

	mu       sync.Mutex
	conn     net.Conn
	commands [][]any
	ready    chan struct{}
}

func startFakeEngine(t *testing.T, socketPath string) *fakeEngine {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("listen %s: %v", socketPath, err)
	}
	engine := &fakeEngine{t: t, listener: listener, ready: make(chan struct{})}
	go engine.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return engine
}

func (e *fakeEngine) serve() {
	conn, err := e.listener.Accept()
	if err != nil {
		return
	}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	close(e.ready)

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var req struct {
			Command   []any `json:"command"`
			RequestID int   `json:"request_id"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		e.mu.Lock()
		e.commands = append(e.commands, req.Command)
		e.mu.Unlock()
		reply := fmt.Sprintf("{\"request_id\":%d,\"error\":\"success\"}\n", req.RequestID)
		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func (e *fakeEngine) inject(t *testing.T, line string) {
	t.Helper()
	select {
	case <-e.ready:
	case <-time.After(5 * time.Second):
		t.Fatal("engine never connected")
	}
	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		t.Fatalf("inject event: %v", err)
	}
}

func (e *fakeEngine) commandNames() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.commands))
	for _, cmd := range e.commands {
		if len(cmd) > 0 {
			if name, ok := cmd[0].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

func newTestMPV(t *testing.T) (*MPV, *fakeEngine) {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}

	engine := startFakeEngine(t, cfg.PlayerSocketPath())

	origCommand := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		// The socket is already served by the fake; the process just
		// needs to exist and exit cleanly.
		return exec.CommandContext(ctx, "true")
	}
	t.Cleanup(func() { commandContext = origCommand })

	mpv := NewMPV(cfg, logging.NewNop())
	// Close is exercised explicitly in the shutdown test; everywhere
	// else the cleanup handles it.
	t.Cleanup(func() { _ = mpv.Close() })
	return mpv, engine
}

func waitEvent(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				t.Fatal("event channel closed")
			}
			if evt.Kind == kind {
				return evt
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", kind)
		}
	}
}

func TestOpenLoadsAndObserves(t *testing.T) {
	mpv, engine := newTestMPV(t)
	ctx := context.Background()

	if err := mpv.Open(ctx, "https://example.com/ep.mp3", 90*time.Second); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	names := engine.commandNames()
	observes, loads := 0, 0
	for _, name := range names {
		switch name {
		case "observe_property":
			observes++
		case "loadfile":
			loads++
		}
	}
	if observes != 4 {
		t.Fatalf("expected 4 observed properties, got %d (%v)", observes, names)
	}
	if loads != 1 {
		t.Fatalf("expected 1 loadfile, got %d (%v)", loads, names)
	}
}

func TestEngineEventsAreTranslated(t *testing.T) {
	mpv, engine := newTestMPV(t)
	ctx := context.Background()

	if err := mpv.Open(ctx, "https://example.com/ep.mp3", 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	engine.inject(t, `{"event":"file-loaded"}`)
	waitEvent(t, mpv.Events(), EventStarted)

	engine.inject(t, `{"event":"property-change","id":2,"name":"duration","data":1830.5}`)
	if evt := waitEvent(t, mpv.Events(), EventDuration); evt.Position < 1830*time.Second {
		t.Fatalf("unexpected duration: %s", evt.Position)
	}

	engine.inject(t, `{"event":"property-change","id":1,"name":"time-pos","data":12.25}`)
	if evt := waitEvent(t, mpv.Events(), EventPosition); evt.Position != 12250*time.Millisecond {
		t.Fatalf("unexpected position: %s", evt.Position)
	}

	engine.inject(t, `{"event":"property-change","id":3,"name":"paused-for-cache","data":true}`)
	if evt := waitEvent(t, mpv.Events(), EventBuffering); !evt.Flag {
		t.Fatal("expected buffering start")
	}

	engine.inject(t, `{"event":"end-file","reason":"error"}`)
	if evt := waitEvent(t, mpv.Events(), EventFailed); evt.Code != ErrCodeStream {
		t.Fatalf("unexpected failure code: %q", evt.Code)
	}

	engine.inject(t, `{"event":"end-file","reason":"eof"}`)
	waitEvent(t, mpv.Events(), EventEndOfStream)
}

func TestControlCommands(t *testing.T) {
	mpv, engine := newTestMPV(t)
	ctx := context.Background()

	if err := mpv.Open(ctx, "https://example.com/ep.mp3", 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := mpv.Pause(ctx); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	if err := mpv.Play(ctx); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	if err := mpv.SeekAbsolute(ctx, 2*time.Minute); err != nil {
		t.Fatalf("SeekAbsolute failed: %v", err)
	}
	if err := mpv.SeekRelative(ctx, -30*time.Second); err != nil {
		t.Fatalf("SeekRelative failed: %v", err)
	}
	if err := mpv.SetVolume(ctx, 150); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	if err := mpv.SetMuted(ctx, true); err != nil {
		t.Fatalf("SetMuted failed: %v", err)
	}
	if err := mpv.SetRate(ctx, 1.5); err != nil {
		t.Fatalf("SetRate failed: %v", err)
	}
	if err := mpv.SetRate(ctx, 0); err == nil {
		t.Fatal("expected rejection of non-positive rate")
	}
	if err := mpv.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	// The clamped volume must be what went over the wire.
	engine.mu.Lock()
	defer engine.mu.Unlock()
	foundVolume := false
	for _, cmd := range engine.commands {
		if len(cmd) == 3 && cmd[0] == "set_property" && cmd[1] == "volume" {
			foundVolume = true
			if volume, ok := cmd[2].(float64); !ok || volume != 100 {
				t.Fatalf("expected clamped volume 100, got %v", cmd[2])
			}
		}
	}
	if !foundVolume {
		t.Fatal("volume command never sent")
	}
}

func TestCloseShutsDownCleanly(t *testing.T) {
	mpv, _ := newTestMPV(t)
	ctx := context.Background()

	if err := mpv.Open(ctx, "https://example.com/ep.mp3", 0); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := mpv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	// Event channel closes with the adapter.
	for range mpv.Events() {
	}

	if err := mpv.Open(ctx, "https://example.com/other.mp3", 0); err == nil {
		t.Fatal("expected Open after Close to fail")
	}
}

func TestClampVolume(t *testing.T) {
	cases := []struct{ in, want int }{
		{-5, 0}, {0, 0}, {55, 55}, {100, 100}, {130, 100},
	}
	for _, tc := range cases {
		if got := ClampVolume(tc.in); got != tc.want {
			t.Fatalf("ClampVolume(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

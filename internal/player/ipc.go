package player

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
)

// ipcMessage is the wire shape of everything mpv sends: command replies
// carry RequestID and Error, asynchronous events carry Event and, for
// property changes, ID/Name/Data.
type ipcMessage struct {
	Event     string          `json:"event,omitempty"`
	ID        int             `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	RequestID int             `json:"request_id,omitempty"`
	Error     string          `json:"error,omitempty"`
}

func (m ipcMessage) float() (float64, bool) {
	var value float64
	if err := json.Unmarshal(m.Data, &value); err != nil {
		return 0, false
	}
	return value, true
}

func (m ipcMessage) bool() (bool, bool) {
	var value bool
	if err := json.Unmarshal(m.Data, &value); err != nil {
		return false, false
	}
	return value, true
}

type ipcRequest struct {
	Command   []any `json:"command"`
	RequestID int   `json:"request_id"`
}

// ipcConn speaks mpv's line-delimited JSON protocol and correlates
// replies with requests by request_id.
type ipcConn struct {
	conn net.Conn

	writeMu sync.Mutex
	writer  *bufio.Writer

	mu      sync.Mutex
	nextID  int
	pending map[int]chan ipcMessage
	closed  bool
}

func newIPCConn(conn net.Conn) *ipcConn {
	return &ipcConn{
		conn:    conn,
		writer:  bufio.NewWriter(conn),
		nextID:  1,
		pending: make(map[int]chan ipcMessage),
	}
}

// command sends a command and waits for its reply.
func (c *ipcConn) command(ctx context.Context, args ...any) error {
	reply, id, err := c.send(args)
	if err != nil {
		return err
	}
	defer c.forget(id)

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, commandTimeout)
		defer cancel()
	}

	select {
	case msg, ok := <-reply:
		if !ok {
			return fmt.Errorf("engine connection lost")
		}
		if msg.Error != "" && msg.Error != "success" {
			return fmt.Errorf("engine rejected %v: %s", args[0], msg.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *ipcConn) setProperty(ctx context.Context, name string, value any) error {
	return c.command(ctx, "set_property", name, value)
}

func (c *ipcConn) send(args []any) (chan ipcMessage, int, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, 0, fmt.Errorf("engine connection lost")
	}
	id := c.nextID
	c.nextID++
	reply := make(chan ipcMessage, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	payload, err := json.Marshal(ipcRequest{Command: args, RequestID: id})
	if err != nil {
		c.forget(id)
		return nil, 0, fmt.Errorf("encode command: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.writer.Write(append(payload, '\n')); err != nil {
		c.forget(id)
		return nil, 0, fmt.Errorf("write command: %w", err)
	}
	if err := c.writer.Flush(); err != nil {
		c.forget(id)
		return nil, 0, fmt.Errorf("flush command: %w", err)
	}
	return reply, id, nil
}

func (c *ipcConn) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// readLoop decodes messages until the connection drops, dispatching
// replies to waiters and events to onEvent.
func (c *ipcConn) readLoop(onEvent func(ipcMessage)) {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Event != "" {
			if onEvent != nil {
				onEvent(msg)
			}
			continue
		}
		c.mu.Lock()
		reply, ok := c.pending[msg.RequestID]
		if ok {
			delete(c.pending, msg.RequestID)
		}
		c.mu.Unlock()
		if ok {
			reply <- msg
		}
	}

	// Connection gone: fail every waiter.
	c.mu.Lock()
	c.closed = true
	for id, reply := range c.pending {
		delete(c.pending, id)
		close(reply)
	}
	c.mu.Unlock()
}

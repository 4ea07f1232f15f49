package socketclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/socketutil"
)

// ErrClosed is returned by calls on a closed or dropped connection.
var ErrClosed = errors.New("connection closed")

const (
	eventQueueSize = 256
	writeTimeout   = 10 * time.Second
)

// Client is one connection to the core.
type Client struct {
	conn net.Conn
	log  *logger.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *ipc.Message

	events chan *ipc.Message

	done      chan struct{}
	err       error
	closeOnce sync.Once
}

// Dial connects to the endpoint at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	conn, err := socketutil.Dial(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", path, err)
	}
	return newClient(conn), nil
}

func newClient(conn net.Conn) *Client {
	c := &Client{
		conn:    conn,
		log:     logger.Global().WithPrefix("ipc-client"),
		pending: make(map[string]chan *ipc.Message),
		events:  make(chan *ipc.Message, eventQueueSize),
		done:    make(chan struct{}),
	}
	go c.readPump()
	return c
}

// Events delivers events pushed by the core. It is closed when the
// connection ends. Events are dropped while the channel is full.
func (c *Client) Events() <-chan *ipc.Message {
	return c.events
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is open or after a
// clean close.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Close ends the connection. Pending calls fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	<-c.done
	return err
}

// Call sends a request and waits for its response. Transport failures are
// returned as errors; a failed response is returned as is, with Error set.
func (c *Client) Call(ctx context.Context, method string, params any) (*ipc.Message, error) {
	req, err := ipc.NewRequest(method, params)
	if err != nil {
		return nil, err
	}
	frame, err := req.Encode()
	if err != nil {
		return nil, err
	}

	ch := make(chan *ipc.Message, 1)
	c.pendingMu.Lock()
	select {
	case <-c.done:
		c.pendingMu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[req.ID] = ch
	c.pendingMu.Unlock()
	defer c.forget(req.ID)

	if err := c.write(frame); err != nil {
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrClosed
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CallResult is Call that decodes the result into out, which may be nil.
// A failed response is returned as its *ipc.Error.
func (c *Client) CallResult(ctx context.Context, method string, params, out any) error {
	resp, err := c.Call(ctx, method, params)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return resp.Error
	}
	if out == nil {
		return nil
	}
	return resp.DecodeResult(out)
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("send request: %w", err)
	}
	return nil
}

func (c *Client) forget(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

func (c *Client) readPump() {
	var readErr error
	defer func() {
		c.pendingMu.Lock()
		if readErr != nil && !errors.Is(readErr, io.EOF) && !errors.Is(readErr, net.ErrClosed) {
			c.err = readErr
		}
		close(c.done)
		for id, ch := range c.pending {
			close(ch)
			delete(c.pending, id)
		}
		c.pendingMu.Unlock()
		close(c.events)
		c.closeOnce.Do(func() { c.conn.Close() })
	}()

	reader := bufio.NewReader(c.conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			readErr = err
			return
		}
		msg, perr := ipc.Decode(line)
		if perr != nil {
			c.log.Warn("bad frame from core: %s", perr.Message)
			continue
		}
		c.route(msg)
	}
}

func (c *Client) route(msg *ipc.Message) {
	switch msg.Type {
	case ipc.TypeResponse:
		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		c.pendingMu.Unlock()
		if !ok {
			c.log.Warn("response %s matches no request", msg.ID)
			return
		}
		ch <- msg
	case ipc.TypeEvent:
		select {
		case c.events <- msg:
		default:
			c.log.Warn("dropped event %s: queue full", msg.MethodName())
		}
	default:
		c.log.Debug("ignoring %s frame %s", msg.Type, msg.ID)
	}
}

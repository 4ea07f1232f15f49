package socketserver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/logger"
)

const (
	sendQueueSize = 256
	writeTimeout  = 10 * time.Second
	readBufSize   = 64 << 10
)

var errFrameTooLarge = errors.New("frame too large")

// Client is one UI connection. Requests are answered strictly in the order
// they arrive.
type Client struct {
	ID string

	conn     net.Conn
	server   *Server
	maxFrame int
	log      *logger.Logger

	// send carries encoded frames to the write pump. Only the read pump
	// closes it, under mu, so sendEvent never races the close.
	send       chan []byte
	mu         sync.Mutex
	closed     bool
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newClient(id string, conn net.Conn, s *Server) *Client {
	return &Client{
		ID:         id,
		conn:       conn,
		server:     s,
		maxFrame:   s.cfg.MaxFrameBytes,
		log:        s.log,
		send:       make(chan []byte, sendQueueSize),
		writerDone: make(chan struct{}),
	}
}

// Start begins reading from and writing to the client connection
func (c *Client) Start() {
	c.server.hub.RegisterClient(c)
	go c.readPump()
	go c.writePump()
}

// Close drops the connection without waiting for queued frames.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

// drain makes the read pump stop after the request it is handling. Queued
// frames are still written.
func (c *Client) drain() {
	c.conn.SetReadDeadline(time.Now())
}

// readPump reads frames and answers them one at a time. When it returns,
// the write pump flushes what is queued and closes the connection.
func (c *Client) readPump() {
	defer func() {
		c.server.hub.UnregisterClient(c)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		<-c.writerDone
		c.server.untrackClient(c)
		c.log.Info("client %s disconnected", c.ID)
	}()

	// Requests are not cancelled by a disconnect or by shutdown; their
	// responses are simply not delivered.
	ctx := context.Background()
	reader := bufio.NewReaderSize(c.conn, readBufSize)

	for {
		line, err := c.readFrame(reader)
		switch {
		case err == nil:
			c.dispatch(ctx, line)
		case errors.Is(err, errFrameTooLarge):
			c.log.Warn("client %s sent a frame over %d bytes", c.ID, c.maxFrame)
			c.respond(ipc.NewErrorResponse(ipc.UnknownID,
				ipc.Errorf(ipc.CodeInvalidRequest, "Frame exceeds %d bytes", c.maxFrame)))
		case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed), errors.Is(err, os.ErrDeadlineExceeded):
			return
		default:
			c.log.Error("error reading from client %s: %v", c.ID, err)
			return
		}
	}
}

// readFrame returns the next newline-terminated frame without the newline.
// An oversized frame is consumed and reported as errFrameTooLarge.
func (c *Client) readFrame(r *bufio.Reader) ([]byte, error) {
	var frame []byte
	oversize := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !oversize {
			if len(frame)+len(chunk) > c.maxFrame+1 {
				oversize = true
				frame = nil
			} else {
				frame = append(frame, chunk...)
			}
		}
		switch {
		case err == nil:
			if oversize {
				return nil, errFrameTooLarge
			}
			return frame[:len(frame)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

func (c *Client) dispatch(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	msg, perr := ipc.Decode(line)
	if perr != nil {
		id := ipc.UnknownID
		if msg != nil && msg.ID != "" {
			id = msg.ID
		}
		c.log.Warn("bad frame from client %s: %s", c.ID, perr.Message)
		c.respond(ipc.NewErrorResponse(id, perr))
		return
	}
	if msg.Type != ipc.TypeRequest {
		c.log.Debug("ignoring %s frame %s from client %s", msg.Type, msg.ID, c.ID)
		return
	}

	c.respond(c.server.handler.Handle(ctx, msg))
}

// respond queues a response, waiting for room. It gives up only when the
// write pump is gone.
func (c *Client) respond(msg *ipc.Message) {
	frame, err := msg.Encode()
	if err != nil {
		c.log.Error("failed to encode response %s: %v", msg.ID, err)
		frame, _ = ipc.NewErrorResponse(msg.ID, ipc.Internal("Failed to encode response")).Encode()
	}
	select {
	case c.send <- frame:
	case <-c.writerDone:
	}
}

// sendEvent queues an event unless the queue is full or the client is gone.
func (c *Client) sendEvent(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// writePump writes queued frames until the queue is closed or a write fails.
func (c *Client) writePump() {
	defer func() {
		c.Close()
		close(c.writerDone)
	}()

	for frame := range c.send {
		if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			c.log.Error("failed to set write deadline for client %s: %v", c.ID, err)
			return
		}
		if _, err := c.conn.Write(frame); err != nil {
			if !errors.Is(err, net.ErrClosed) {
				c.log.Error("failed to write to client %s: %v", c.ID, err)
			}
			return
		}
	}
}

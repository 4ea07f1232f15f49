package mastodon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/remote"
)

const (
	// Time allowed to write a control frame to the server.
	writeWait = 10 * time.Second

	// Time allowed to read the next message or pong from the server.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Statuses can carry long content and many attachments.
	maxFrameSize = 1 << 20

	streamBuffer = 64
)

// ErrStreamUnsupported is returned by Stream for timelines without a
// streaming channel.
var ErrStreamUnsupported = fmt.Errorf("streaming not supported: %w", errors.ErrUnsupported)

// streamQuery returns the streaming API parameters for t.
func streamQuery(t remote.Timeline) (url.Values, bool) {
	q := url.Values{}
	switch t := t.(type) {
	case remote.Home:
		q.Set("stream", "user")
	case remote.Local:
		q.Set("stream", "public:local")
	case remote.Federated:
		q.Set("stream", "public")
	case remote.Hashtag:
		q.Set("stream", "hashtag")
		q.Set("tag", t.Tag)
	case remote.List:
		q.Set("stream", "list")
		q.Set("list", t.ListID)
	case remote.Direct:
		q.Set("stream", "direct")
	case remote.Notifications:
		q.Set("stream", "user:notification")
	case remote.Bookmarks, remote.Favourites, remote.Trending, remote.UserPosts, remote.Search:
		return nil, false
	default:
		panic(fmt.Sprintf("mastodon: unhandled timeline %T", t))
	}
	return q, true
}

func (c *Client) streamURL(q url.Values) string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/v1/streaming?" + q.Encode()
}

type streamFrame struct {
	Stream  []string `json:"stream"`
	Event   string   `json:"event"`
	Payload string   `json:"payload"`
}

// Stream opens the streaming API channel for t.
func (c *Client) Stream(ctx context.Context, t remote.Timeline) (<-chan remote.StreamMessage, <-chan error, error) {
	q, ok := streamQuery(t)
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", t.DisplayName(), ErrStreamUnsupported)
	}

	header := http.Header{}
	if tok := c.token.Reveal(); tok != "" {
		header.Set("Authorization", "Bearer "+tok)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.streamURL(q), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			defer resp.Body.Close()
			return nil, nil, decodeError(resp)
		}
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: open stream: %v", remote.ErrNetwork, err)
	}

	msgs := make(chan remote.StreamMessage, streamBuffer)
	errs := make(chan error, 1)
	s := &wsStream{conn: conn, msgs: msgs, log: c.log}
	go s.run(ctx, errs)
	return msgs, errs, nil
}

type wsStream struct {
	conn *websocket.Conn
	msgs chan remote.StreamMessage
	log  *logger.Logger
}

func (s *wsStream) run(ctx context.Context, errs chan<- error) {
	defer close(errs)
	defer close(s.msgs)

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepAlive(ctx, done)
	}()

	err := s.readLoop(ctx)
	close(done)
	_ = s.conn.Close()
	wg.Wait()

	if ctx.Err() != nil {
		err = nil
	}
	errs <- err
}

// keepAlive pings the server and closes the connection when ctx ends, which
// unblocks readLoop.
func (s *wsStream) keepAlive(ctx context.Context, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			_ = s.conn.Close()
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *wsStream) readLoop(ctx context.Context) error {
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return fmt.Errorf("%w: stream closed by server", remote.ErrNetwork)
			}
			return fmt.Errorf("%w: %v", remote.ErrNetwork, err)
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := decodeFrame(data)
		if err != nil {
			s.log.Warn("dropping stream frame: %v", err)
			continue
		}
		select {
		case s.msgs <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// decodeFrame parses one streaming API frame. Status and notification
// payloads are JSON documents encoded as strings; delete carries the bare id.
func decodeFrame(data []byte) (remote.StreamMessage, error) {
	var f streamFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return remote.StreamMessage{}, fmt.Errorf("decode frame: %w", err)
	}

	msg := remote.StreamMessage{Event: f.Event}
	switch f.Event {
	case "update", "status.update":
		var p remote.Post
		if err := json.Unmarshal([]byte(f.Payload), &p); err != nil {
			return remote.StreamMessage{}, fmt.Errorf("decode %s payload: %w", f.Event, err)
		}
		preparePost(&p)
		msg.Post = &p
		msg.Kind = remote.StreamUpdate
		if f.Event == "status.update" {
			msg.Kind = remote.StreamStatusUpdate
		}
	case "delete":
		msg.Kind = remote.StreamDelete
		msg.PostID = f.Payload
	case "notification":
		var raw apiNotification
		if err := json.Unmarshal([]byte(f.Payload), &raw); err != nil {
			return remote.StreamMessage{}, fmt.Errorf("decode notification payload: %w", err)
		}
		n, ok := convertNotification(&raw)
		if !ok {
			return remote.StreamMessage{}, fmt.Errorf("notification %s has no account", raw.ID)
		}
		msg.Kind = remote.StreamNotification
		msg.Notification = &n
	default:
		msg.Kind = remote.StreamOther
	}
	return msg, nil
}

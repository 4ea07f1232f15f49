//go:build !windows

package socketserver

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blindodon/mastodon-core/internal/config"
	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/socketutil"
)

// echoHandler answers every request with its method name. The method
// "slow" blocks until release is closed.
type echoHandler struct {
	entered chan string
	release chan struct{}
}

func newEchoHandler() *echoHandler {
	return &echoHandler{entered: make(chan string, 8), release: make(chan struct{})}
}

func (h *echoHandler) Handle(ctx context.Context, msg *ipc.Message) *ipc.Message {
	if msg.MethodName() == "slow" {
		h.entered <- msg.ID
		<-h.release
	}
	resp, _ := ipc.NewResult(msg.ID, map[string]string{"method": msg.MethodName()})
	return resp
}

func socketPath(t *testing.T) string {
	t.Helper()
	// Unix socket paths are limited to about 100 bytes.
	dir, err := os.MkdirTemp("", "ipc")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "core.sock")
}

func startServer(t *testing.T, h Handler, tweak func(*config.Config)) *Server {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Socket.Path = socketPath(t)
	if tweak != nil {
		tweak(cfg)
	}
	srv, err := NewServer(cfg, h)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)
	return srv
}

type testConn struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, srv *Server) *testConn {
	t.Helper()
	conn, err := socketutil.Dial(context.Background(), srv.Path())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testConn{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *testConn) write(frame string) {
	c.t.Helper()
	_, err := c.conn.Write([]byte(frame))
	require.NoError(c.t, err)
}

func (c *testConn) request(method string) string {
	c.t.Helper()
	msg, err := ipc.NewRequest(method, nil)
	require.NoError(c.t, err)
	frame, err := msg.Encode()
	require.NoError(c.t, err)
	c.write(string(frame))
	return msg.ID
}

func (c *testConn) read() *ipc.Message {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := c.r.ReadBytes('\n')
	require.NoError(c.t, err)

	var raw map[string]json.RawMessage
	require.NoError(c.t, json.Unmarshal(line, &raw))
	want, absent := []string{"id", "type", "method", "params"}, []string{"result", "error"}
	if string(raw["type"]) == `"response"` {
		want, absent = []string{"id", "type", "result", "error"}, []string{"method", "params"}
	}
	for _, key := range want {
		assert.Contains(c.t, raw, key)
	}
	for _, key := range absent {
		assert.NotContains(c.t, raw, key)
	}
	msg, perr := ipc.Decode(line)
	require.Nil(c.t, perr)
	return msg
}

func (c *testConn) call(method string) *ipc.Message {
	c.t.Helper()
	id := c.request(method)
	resp := c.read()
	require.Equal(c.t, id, resp.ID)
	return resp
}

func methodOf(t *testing.T, resp *ipc.Message) string {
	t.Helper()
	var out map[string]string
	require.NoError(t, resp.DecodeResult(&out))
	return out["method"]
}

func TestConcurrentConnections(t *testing.T) {
	srv := startServer(t, newEchoHandler(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		c := dial(t, srv)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.Equal(t, "ping", methodOf(t, c.call("ping")))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 4, srv.ClientCount())
}

func TestBadFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		id    string
		code  int
	}{
		{"not json", "this is not json\n", ipc.UnknownID, ipc.CodeParseError},
		{"truncated", `{"id":"r1","type":` + "\n", ipc.UnknownID, ipc.CodeParseError},
		{"missing method", `{"id":"r2","type":"request"}` + "\n", "r2", ipc.CodeInvalidRequest},
		{"unknown type", `{"id":"r3","type":"shout","method":"ping"}` + "\n", "r3", ipc.CodeInvalidRequest},
		{"missing id", `{"type":"request","method":"ping"}` + "\n", ipc.UnknownID, ipc.CodeInvalidRequest},
	}
	srv := startServer(t, newEchoHandler(), nil)
	c := dial(t, srv)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.write(tt.frame)
			resp := c.read()
			assert.Equal(t, ipc.TypeResponse, resp.Type)
			assert.Equal(t, tt.id, resp.ID)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Nil(t, resp.Result)

			assert.Equal(t, "ping", methodOf(t, c.call("ping")), "connection survives")
		})
	}
}

func TestMalformedFrameIsolation(t *testing.T) {
	srv := startServer(t, newEchoHandler(), nil)
	first := dial(t, srv)
	second := dial(t, srv)

	first.write("{{{\n")
	second.call("ping")
	resp := first.read()
	assert.Equal(t, ipc.UnknownID, resp.ID)
	assert.Equal(t, "ping", methodOf(t, second.call("ping")))
}

func TestOversizedFrame(t *testing.T) {
	srv := startServer(t, newEchoHandler(), func(cfg *config.Config) {
		cfg.Socket.MaxFrameBytes = 1024
	})
	c := dial(t, srv)

	c.write(`{"id":"big","type":"request","method":"ping","params":"` + strings.Repeat("x", 200<<10) + "\"}\n")
	resp := c.read()
	assert.Equal(t, ipc.UnknownID, resp.ID)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ipc.CodeInvalidRequest, resp.Error.Code)

	assert.Equal(t, "ping", methodOf(t, c.call("ping")))
}

func TestPipelinedRequestsAnsweredInOrder(t *testing.T) {
	srv := startServer(t, newEchoHandler(), nil)
	c := dial(t, srv)

	var frames []byte
	var ids []string
	for _, m := range []string{"a", "b", "c", "d"} {
		msg, err := ipc.NewRequest(m, nil)
		require.NoError(t, err)
		frame, err := msg.Encode()
		require.NoError(t, err)
		frames = append(frames, frame...)
		ids = append(ids, msg.ID)
	}
	c.write(string(frames) + "\n\n")

	for _, id := range ids {
		assert.Equal(t, id, c.read().ID)
	}
}

func TestFramesFromClientThatAreNotRequests(t *testing.T) {
	srv := startServer(t, newEchoHandler(), nil)
	c := dial(t, srv)

	ev, err := ipc.NewEvent("event.something", nil)
	require.NoError(t, err)
	frame, err := ev.Encode()
	require.NoError(t, err)
	c.write(string(frame))

	assert.Equal(t, "ping", methodOf(t, c.call("ping")), "events are not answered")
}

func TestBroadcast(t *testing.T) {
	srv := startServer(t, newEchoHandler(), nil)
	first := dial(t, srv)
	second := dial(t, srv)
	first.call("ping")
	second.call("ping")

	ev, err := ipc.NewEvent(ipc.EventNewPost, map[string]string{"timeline": "Home"})
	require.NoError(t, err)
	srv.Broadcast(ev)

	for _, c := range []*testConn{first, second} {
		got := c.read()
		assert.Equal(t, ipc.TypeEvent, got.Type)
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, ipc.EventNewPost, got.MethodName())
		assert.JSONEq(t, `{"timeline":"Home"}`, string(got.Params))
	}
}

func TestConnectionLimit(t *testing.T) {
	srv := startServer(t, newEchoHandler(), func(cfg *config.Config) {
		cfg.Socket.MaxConnections = 1
	})
	first := dial(t, srv)
	first.call("ping")

	second := dial(t, srv)
	require.NoError(t, second.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := second.r.ReadByte()
	assert.Error(t, err, "connection over the limit is closed")

	first.conn.Close()
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, 5*time.Second, 10*time.Millisecond)
	third := dial(t, srv)
	third.call("ping")
}

func TestStopAnswersInFlightRequest(t *testing.T) {
	h := newEchoHandler()
	srv := startServer(t, h, nil)
	c := dial(t, srv)
	id := c.request("slow")
	<-h.entered

	stopped := make(chan struct{})
	go func() {
		srv.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("stop returned before the request finished")
	case <-time.After(100 * time.Millisecond):
	}
	close(h.release)

	resp := c.read()
	assert.Equal(t, id, resp.ID)
	assert.Equal(t, "slow", methodOf(t, resp))

	<-stopped
	_, err := c.r.ReadByte()
	assert.Error(t, err)
	assert.NoFileExists(t, srv.Path())
	assert.Equal(t, 0, srv.ClientCount())
}

func TestStopOnContextCancel(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Socket.Path = socketPath(t)
	srv, err := NewServer(cfg, newEchoHandler())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx))
	assert.True(t, socketutil.Alive(srv.Path()))

	cancel()
	assert.Eventually(t, func() bool { return !socketutil.Alive(srv.Path()) }, 5*time.Second, 10*time.Millisecond)
	srv.Stop()
}

func TestSecondServerRefused(t *testing.T) {
	srv := startServer(t, newEchoHandler(), nil)

	cfg := config.DefaultConfig()
	cfg.Socket.Path = srv.Path()
	other, err := NewServer(cfg, newEchoHandler())
	require.NoError(t, err)
	err = other.Start(context.Background())
	assert.ErrorIs(t, err, socketutil.ErrInUse)

	dial(t, srv).call("ping")
}

func TestSocketPermissions(t *testing.T) {
	srv := startServer(t, newEchoHandler(), nil)
	fi, err := os.Stat(srv.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestInvalidPermissions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Socket.Permissions = "rw-"
	_, err := NewServer(cfg, newEchoHandler())
	assert.Error(t, err)
}

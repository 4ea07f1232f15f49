package socketclient

import (
	"bufio"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/remote"
)

// fakeCore serves the far end of a pipe. Handlers run in arrival order.
type fakeCore struct {
	conn net.Conn
	r    *bufio.Reader
}

func newPair(t *testing.T) (*Client, *fakeCore) {
	t.Helper()
	a, b := net.Pipe()
	c := newClient(a)
	t.Cleanup(func() { c.Close() })
	return c, &fakeCore{conn: b, r: bufio.NewReader(b)}
}

func (f *fakeCore) next(t *testing.T) *ipc.Message {
	t.Helper()
	line, err := f.r.ReadBytes('\n')
	require.NoError(t, err)
	msg, perr := ipc.Decode(line)
	require.Nil(t, perr)
	return msg
}

func (f *fakeCore) send(t *testing.T, msg *ipc.Message) {
	t.Helper()
	frame, err := msg.Encode()
	require.NoError(t, err)
	_, err = f.conn.Write(frame)
	require.NoError(t, err)
}

func (f *fakeCore) reply(t *testing.T, req *ipc.Message, result any) {
	t.Helper()
	resp, err := ipc.NewResult(req.ID, result)
	require.NoError(t, err)
	f.send(t, resp)
}

func TestCallMatchesResponsesById(t *testing.T) {
	c, core := newPair(t)
	ctx := context.Background()

	type outcome struct {
		method string
		got    string
	}
	results := make(chan outcome, 2)
	for _, m := range []string{"first", "second"} {
		go func() {
			var out map[string]string
			err := c.CallResult(ctx, m, nil, &out)
			assert.NoError(t, err)
			results <- outcome{m, out["echo"]}
		}()
	}

	a := core.next(t)
	b := core.next(t)
	// Answer in reverse order.
	core.reply(t, b, map[string]string{"echo": b.MethodName()})
	core.reply(t, a, map[string]string{"echo": a.MethodName()})

	for i := 0; i < 2; i++ {
		r := <-results
		assert.Equal(t, r.method, r.got)
	}
}

func TestCallReturnsRemoteError(t *testing.T) {
	c, core := newPair(t)

	done := make(chan error, 1)
	go func() { done <- c.CallResult(context.Background(), ipc.MethodTimelineGet, nil, nil) }()

	req := core.next(t)
	core.send(t, ipc.NewErrorResponse(req.ID, ipc.NotAuthenticated()))

	err := <-done
	var e *ipc.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, ipc.CodeNotAuthenticated, e.Code)
}

func TestEventsAndUnmatchedResponses(t *testing.T) {
	c, core := newPair(t)

	stray, err := ipc.NewResult("nobody", nil)
	require.NoError(t, err)
	core.send(t, stray)
	ev, err := ipc.NewEvent(ipc.EventStreamConnected, map[string]string{"timeline": "Home"})
	require.NoError(t, err)
	core.send(t, ev)

	select {
	case got := <-c.Events():
		assert.Equal(t, ev.ID, got.ID)
		assert.Equal(t, ipc.EventStreamConnected, got.MethodName())
	case <-time.After(5 * time.Second):
		t.Fatal("no event")
	}
}

func TestPendingCallsFailWhenCoreGoesAway(t *testing.T) {
	c, core := newPair(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), ipc.MethodPing, nil)
		done <- err
	}()
	core.next(t)
	core.conn.Close()

	assert.ErrorIs(t, <-done, ErrClosed)
	<-c.Done()
	_, ok := <-c.Events()
	assert.False(t, ok, "events channel closed")

	_, err := c.Call(context.Background(), ipc.MethodPing, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCallHonoursContext(t *testing.T) {
	c, core := newPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	go core.next(t)
	_, err := c.Call(ctx, ipc.MethodPing, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTypedCalls(t *testing.T) {
	c, core := newPair(t)
	ctx := context.Background()

	go func() {
		req := core.next(t)
		core.reply(t, req, map[string]any{"pong": true, "timestamp": "2026-01-02T03:04:05Z"})

		req = core.next(t)
		assert.Equal(t, ipc.MethodTimelineStreamStart, req.MethodName())
		assert.JSONEq(t, `{"timeline_type":{"hashtag":{"tag":"go"}}}`, string(req.Params))
		core.reply(t, req, map[string]any{"success": true, "timeline": "#go"})

		req = core.next(t)
		assert.Equal(t, ipc.MethodAuthGetAccounts, req.MethodName())
		core.reply(t, req, map[string]any{"authenticated": false, "current_account_id": nil, "accounts": []any{}})
	}()

	ts, err := c.Ping(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), ts.UTC())

	label, err := c.StartStream(ctx, remote.Hashtag{Tag: "go"})
	require.NoError(t, err)
	assert.Equal(t, "#go", label)

	accounts, err := c.Accounts(ctx)
	require.NoError(t, err)
	assert.False(t, accounts.Authenticated)
	assert.Nil(t, accounts.CurrentAccountID)
	assert.Empty(t, accounts.Accounts)
}

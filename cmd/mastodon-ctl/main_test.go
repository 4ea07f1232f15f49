//go:build !windows

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blindodon/mastodon-core/internal/config"
	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/socketserver"
)

func serve(t *testing.T, h socketserver.HandlerFunc) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := config.DefaultConfig()
	cfg.Socket.Path = filepath.Join(dir, "core.sock")
	srv, err := socketserver.NewServer(cfg, h)
	require.NoError(t, err)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(srv.Stop)
	return cfg.Socket.Path
}

func TestPing(t *testing.T) {
	path := serve(t, func(ctx context.Context, msg *ipc.Message) *ipc.Message {
		resp, _ := ipc.NewResult(msg.ID, map[string]any{"pong": true, "timestamp": "2026-03-04T05:06:07Z"})
		return resp
	})

	var out bytes.Buffer
	code, err := run([]string{"--socket", path, "ping"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	assert.Equal(t, "pong 2026-03-04T05:06:07Z\n", out.String())
}

func TestCall(t *testing.T) {
	path := serve(t, func(ctx context.Context, msg *ipc.Message) *ipc.Message {
		if msg.MethodName() != ipc.MethodSettingsGet {
			return ipc.NewErrorResponse(msg.ID, ipc.MethodNotFound(msg.MethodName()))
		}
		resp, _ := ipc.NewResult(msg.ID, map[string]any{"echo": json.RawMessage(msg.Params)})
		return resp
	})

	var out bytes.Buffer
	code, err := run([]string{"-s", path, "call", "settings.get", `{"key":"theme"}`}, &out)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	var resp ipc.Message
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.JSONEq(t, `{"echo":{"key":"theme"}}`, string(resp.Result))

	out.Reset()
	code, err = run([]string{"-s", path, "call", "nope"}, &out)
	require.NoError(t, err)
	assert.Equal(t, 1, code, "error responses exit non-zero")
	assert.Contains(t, out.String(), "Method not found")

	code, err = run([]string{"-s", path, "call", "settings.get", "{oops"}, &out)
	assert.Error(t, err)
	assert.Equal(t, 2, code)
}

func TestUsageErrors(t *testing.T) {
	var out bytes.Buffer
	code, err := run(nil, &out)
	assert.NoError(t, err)
	assert.Equal(t, 2, code)

	code, err = run([]string{"--socket", filepath.Join(t.TempDir(), "none.sock"), "ping"}, &out)
	assert.Error(t, err)
	assert.Equal(t, 1, code)
}

func TestParseTimeline(t *testing.T) {
	tl, err := parseTimeline("local")
	require.NoError(t, err)
	assert.Equal(t, remote.Local{}, tl)

	tl, err = parseTimeline(`{"hashtag":{"tag":"go"}}`)
	require.NoError(t, err)
	assert.Equal(t, remote.Hashtag{Tag: "go"}, tl)

	_, err = parseTimeline("nowhere")
	assert.Error(t, err)
}

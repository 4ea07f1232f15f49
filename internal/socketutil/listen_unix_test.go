//go:build !windows

package socketutil

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenSetsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ipc.sock")
	ln, err := Listen(path, 0o600)
	require.NoError(t, err)
	defer ln.Close()

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
	assert.True(t, Alive(path))
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	// Keep the file but stop answering.
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	require.NoError(t, ln.Close())
	require.FileExists(t, path)
	assert.False(t, Alive(path))

	ln, err = Listen(path, 0o600)
	require.NoError(t, err)
	defer ln.Close()
	assert.True(t, Alive(path))
}

func TestListenRefusesLiveSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	ln, err := Listen(path, 0o600)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()

	_, err = Listen(path, 0o600)
	assert.ErrorIs(t, err, ErrInUse)
}

func TestListenRefusesRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))

	_, err := Listen(path, 0o600)
	assert.ErrorContains(t, err, "not a socket")
	assert.FileExists(t, path)
}

func TestDialAndCleanup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ipc.sock")
	ln, err := Listen(path, 0o600)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)

	go func() {
		c, err := ln.Accept()
		if err == nil {
			c.Write([]byte("hi\n"))
			c.Close()
		}
	}()
	conn, err := Dial(context.Background(), path)
	require.NoError(t, err)
	buf := make([]byte, 3)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(buf))
	conn.Close()

	require.NoError(t, ln.Close())
	require.NoError(t, Cleanup(path))
	assert.NoFileExists(t, path)
	assert.NoError(t, Cleanup(path), "removing twice is fine")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "x.sock"), ExpandPath("~/x.sock"))
	assert.Equal(t, "/tmp/x.sock", ExpandPath("/tmp/x.sock"))
}

// Package socketutil binds and dials the local IPC endpoint: a Unix domain
// socket, or a named pipe on Windows.
package socketutil

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// ErrInUse means another process is serving the endpoint.
var ErrInUse = errors.New("endpoint is in use by a running server")

const aliveTimeout = time.Second

// ExpandPath resolves a leading ~ to the home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

// Alive reports whether a server answers on path.
func Alive(path string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), aliveTimeout)
	defer cancel()
	conn, err := Dial(ctx, path)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

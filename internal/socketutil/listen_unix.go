//go:build !windows

package socketutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// Listen binds a Unix socket at path with the given file mode. A socket file
// left behind by a dead server is replaced; a live one yields ErrInUse.
func Listen(path string, mode os.FileMode) (net.Listener, error) {
	path, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if Alive(path) {
			return nil, fmt.Errorf("%s: %w", path, ErrInUse)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, mode); err != nil {
		ln.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}
	return ln, nil
}

// Dial connects to the Unix socket at path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "unix", ExpandPath(path))
}

// Cleanup removes the socket file once the listener is closed.
func Cleanup(path string) error {
	path, err := filepath.Abs(ExpandPath(path))
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

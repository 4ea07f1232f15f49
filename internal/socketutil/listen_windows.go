//go:build windows

package socketutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/Microsoft/go-winio"
)

const pipeBufferSize = 64 << 10

// Listen creates the named pipe at path. Pipes vanish with their server, so
// there is nothing stale to clean up; mode is ignored and the pipe is
// restricted to the current user.
func Listen(path string, _ os.FileMode) (net.Listener, error) {
	ln, err := winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: "D:P(A;;GA;;;OW)",
		InputBufferSize:    pipeBufferSize,
		OutputBufferSize:   pipeBufferSize,
	})
	if err != nil {
		if errors.Is(err, os.ErrExist) || Alive(path) {
			return nil, fmt.Errorf("%s: %w", path, ErrInUse)
		}
		return nil, err
	}
	return ln, nil
}

// Dial connects to the named pipe at path.
func Dial(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}

// Cleanup is a no-op for named pipes.
func Cleanup(string) error {
	return nil
}

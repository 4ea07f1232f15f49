// Command mastodon-ctl sends IPC requests to a running mastodon-core, for
// scripting and debugging without the desktop UI.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/blindodon/mastodon-core/internal/config"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/socketclient"
)

const usage = `Usage: mastodon-ctl [flags] <command> [args]

Commands:
  ping                        check that the core answers
  call <method> [json]        send one request and print the response
  accounts                    list saved accounts
  watch [timeline...]         stream timelines (default "home") and print events
  shutdown                    stop the core

Flags:
`

func main() {
	code, err := run(os.Args[1:], os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

func run(args []string, out io.Writer) (int, error) {
	fs := pflag.NewFlagSet("mastodon-ctl", pflag.ContinueOnError)
	socket := fs.StringP("socket", "s", config.DefaultSocketPath(), "IPC endpoint of the core")
	timeout := fs.DurationP("timeout", "t", 30*time.Second, "time to wait for a response")
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0, nil
		}
		return 2, err
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return 2, nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, *timeout)
	c, err := socketclient.Dial(dialCtx, *socket)
	cancel()
	if err != nil {
		return 1, err
	}
	defer c.Close()

	p := &printer{out: out, pretty: isTerminal(out)}
	cmd, rest := fs.Arg(0), fs.Args()[1:]
	if cmd == "watch" {
		return watch(ctx, c, p, rest)
	}

	callCtx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	switch cmd {
	case "ping":
		ts, err := c.Ping(callCtx)
		if err != nil {
			return 1, err
		}
		fmt.Fprintf(out, "pong %s\n", ts.Format(time.RFC3339))
		return 0, nil
	case "accounts":
		accounts, err := c.Accounts(callCtx)
		if err != nil {
			return 1, err
		}
		return 0, p.print(accounts)
	case "shutdown":
		if err := c.Shutdown(callCtx); err != nil {
			return 1, err
		}
		fmt.Fprintln(out, "shutting down")
		return 0, nil
	case "call":
		return call(callCtx, c, p, rest)
	default:
		return 2, fmt.Errorf("unknown command %q", cmd)
	}
}

func call(ctx context.Context, c *socketclient.Client, p *printer, args []string) (int, error) {
	if len(args) == 0 || len(args) > 2 {
		return 2, errors.New("call needs a method and optional JSON params")
	}
	var params any
	if len(args) == 2 {
		raw := json.RawMessage(args[1])
		if !json.Valid(raw) {
			return 2, fmt.Errorf("params are not valid JSON")
		}
		params = raw
	}

	resp, err := c.Call(ctx, args[0], params)
	if err != nil {
		return 1, err
	}
	if err := p.print(resp); err != nil {
		return 1, err
	}
	if resp.Error != nil {
		return 1, nil
	}
	return 0, nil
}

func watch(ctx context.Context, c *socketclient.Client, p *printer, names []string) (int, error) {
	if len(names) == 0 {
		names = []string{"home"}
	}
	for _, name := range names {
		t, err := parseTimeline(name)
		if err != nil {
			return 2, err
		}
		label, err := c.StartStream(ctx, t)
		if err != nil {
			return 1, fmt.Errorf("start %s: %w", name, err)
		}
		fmt.Fprintf(os.Stderr, "streaming %s\n", label)
	}

	for {
		select {
		case <-ctx.Done():
			return 0, nil
		case ev, ok := <-c.Events():
			if !ok {
				if err := c.Err(); err != nil {
					return 1, err
				}
				return 0, nil
			}
			if err := p.print(ev); err != nil {
				return 1, err
			}
		}
	}
}

// parseTimeline accepts a bare name ("home", "local") or the JSON form used
// on the wire ({"hashtag":{"tag":"go"}}).
func parseTimeline(s string) (remote.Timeline, error) {
	if json.Valid([]byte(s)) {
		return remote.UnmarshalTimeline([]byte(s))
	}
	quoted, _ := json.Marshal(s)
	return remote.UnmarshalTimeline(quoted)
}

type printer struct {
	out    io.Writer
	pretty bool
}

func (p *printer) print(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if p.pretty {
		var buf bytes.Buffer
		if err := json.Indent(&buf, data, "", "  "); err == nil {
			data = buf.Bytes()
		}
	}
	_, err = fmt.Fprintf(p.out, "%s\n", data)
	return err
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

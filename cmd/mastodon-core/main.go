// Command mastodon-core is the backend process of the desktop client. It
// serves the IPC protocol on a local socket until it is told to shut down.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/blindodon/mastodon-core/internal/config"
	"github.com/blindodon/mastodon-core/internal/lockfile"
	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/pprof"
	"github.com/blindodon/mastodon-core/internal/remote/mastodon"
	"github.com/blindodon/mastodon-core/internal/securemem"
	"github.com/blindodon/mastodon-core/internal/store"
)

var version = "dev"

type options struct {
	configPath       string
	socketPath       string
	databasePath     string
	logLevel         string
	logConsole       bool
	promptPassphrase bool
	showVersion      bool
	profiling        pprof.Config
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (*options, *pflag.FlagSet, error) {
	o := &options{}
	fs := pflag.NewFlagSet("mastodon-core", pflag.ContinueOnError)
	fs.StringVarP(&o.configPath, "config", "c", config.GetConfigPath(), "configuration file")
	fs.StringVar(&o.socketPath, "socket", "", "IPC endpoint (overrides socket.path)")
	fs.StringVar(&o.databasePath, "db", "", "account database (overrides storage.database_path)")
	fs.StringVar(&o.logLevel, "log-level", "", "debug, info, warn, error or none")
	fs.BoolVar(&o.logConsole, "log-console", false, "mirror the log to stderr")
	fs.BoolVar(&o.promptPassphrase, "prompt-passphrase", false, "read the token passphrase from the terminal")
	fs.BoolVar(&o.showVersion, "version", false, "print the version and exit")
	fs.StringVar(&o.profiling.HTTPAddr, "pprof-addr", "", "serve profiles and status on this loopback address")
	fs.StringVar(&o.profiling.CPUProfile, "cpu-profile", "", "write a CPU profile to this file")
	fs.StringVar(&o.profiling.HeapProfile, "heap-profile", "", "write a heap profile to this file on exit")
	if err := fs.Parse(args); err != nil {
		return nil, fs, err
	}
	return o, fs, nil
}

// apply lets explicit flags win over the file and the environment.
func (o *options) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if o.socketPath != "" {
		cfg.Socket.Path = o.socketPath
	}
	if o.databasePath != "" {
		cfg.Storage.DatabasePath = o.databasePath
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if fs.Changed("log-console") {
		cfg.LogConsole = o.logConsole
	}
}

func run(args []string) (err error) {
	opts, fs, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if opts.showVersion {
		fmt.Println("mastodon-core", version)
		return nil
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	opts.apply(cfg, fs)
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(logger.Options{
		Level:   logger.ParseLevel(cfg.LogLevel),
		Dir:     cfg.LogDir,
		Name:    "mastodon-core",
		Console: cfg.LogConsole,
		Stderr:  os.Stderr,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		if err != nil {
			logger.Error("fatal: %v", err)
		}
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()
	defer securemem.Purge()
	logger.Info("mastodon-core %s starting", version)

	passphrase := cfg.Storage.TokenPassphrase
	if passphrase == "" && opts.promptPassphrase {
		if passphrase, err = promptForPassword("Token passphrase: "); err != nil {
			return fmt.Errorf("failed to read passphrase: %w", err)
		}
	}

	lock := lockfile.ForDatabase(cfg.Storage.DatabasePath)
	if err := lock.TryAcquire(); err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(cfg.Storage.DatabasePath, store.WithPassphrase(passphrase))
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	auth := mastodon.NewAuthenticator(mastodon.Options{
		AppName:     cfg.Remote.AppName,
		Website:     cfg.Remote.Website,
		Scopes:      cfg.Remote.Scopes,
		RedirectURI: cfg.Remote.RedirectURI,
		Timeout:     time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
	})
	return serve(ctx, cfg, st, auth, opts)
}

func promptForPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	fmt.Fprint(os.Stderr, prompt)

	if term.IsTerminal(fd) {
		bytes, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytes)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

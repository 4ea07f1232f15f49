// Package pprof exposes runtime profiles and a status snapshot of the core
// on a loopback HTTP listener, and writes CPU and heap profiles to files.
package pprof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	netpprof "net/http/pprof"
	"os"
	"path/filepath"
	"runtime/pprof"
	"strings"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/blindodon/mastodon-core/internal/logger"
)

// Config holds the profiling configuration. Every field is optional.
type Config struct {
	// HTTPAddr must be a loopback address, e.g. "localhost:6060".
	HTTPAddr string

	CPUProfile  string // written from Start to Stop
	HeapProfile string // written at Stop
}

// StatusFunc reports the live state served at /debug/status.
type StatusFunc func() any

// Handler manages profiling
type Handler struct {
	config Config
	status StatusFunc
	log    *logger.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cpuFile  *os.File
	stopped  bool
}

// NewHandler creates a handler. status may be nil.
func NewHandler(config Config, status StatusFunc) *Handler {
	return &Handler{
		config: config,
		status: status,
		log:    logger.Global().WithPrefix("pprof"),
	}
}

// Enabled reports whether the configuration asks for anything.
func (c Config) Enabled() bool {
	return c.HTTPAddr != "" || c.CPUProfile != "" || c.HeapProfile != ""
}

// Start begins CPU profiling and serves HTTP, as configured.
func (h *Handler) Start() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.config.CPUProfile != "" {
		f, err := create(h.config.CPUProfile)
		if err != nil {
			return err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			return fmt.Errorf("failed to start CPU profiling: %w", err)
		}
		h.cpuFile = f
	}

	if h.config.HTTPAddr != "" {
		if err := checkLoopback(h.config.HTTPAddr); err != nil {
			h.stopCPU()
			return err
		}
		ln, err := net.Listen("tcp", h.config.HTTPAddr)
		if err != nil {
			h.stopCPU()
			return fmt.Errorf("failed to bind pprof HTTP server: %w", err)
		}
		h.listener = ln
		h.server = &http.Server{
			Handler:           h.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				h.log.Error("pprof server error: %v", err)
			}
		}()
		h.log.Info("pprof listening on http://%s/debug/pprof/", ln.Addr())
	}
	return nil
}

func (h *Handler) routes() http.Handler {
	r := httprouter.New()
	r.GET("/debug/pprof/*name", servePprof)
	r.GET("/debug/status", h.serveStatus)
	r.GET("/healthz", func(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
		w.Write([]byte("ok\n"))
	})
	return r
}

func servePprof(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	switch name := strings.TrimPrefix(ps.ByName("name"), "/"); name {
	case "":
		netpprof.Index(w, r)
	case "cmdline":
		netpprof.Cmdline(w, r)
	case "profile":
		netpprof.Profile(w, r)
	case "symbol":
		netpprof.Symbol(w, r)
	case "trace":
		netpprof.Trace(w, r)
	default:
		netpprof.Handler(name).ServeHTTP(w, r)
	}
}

func (h *Handler) serveStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var status any = struct{}{}
	if h.status != nil {
		status = h.status()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.log.Warn("failed to write status: %v", err)
	}
}

// Addr returns the bound HTTP address, or nil when HTTP is off.
func (h *Handler) Addr() net.Addr {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop ends CPU profiling, writes the heap profile and shuts the HTTP
// server down.
func (h *Handler) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return nil
	}
	h.stopped = true

	var errs []error
	if err := h.stopCPU(); err != nil {
		errs = append(errs, err)
	}

	if h.config.HeapProfile != "" {
		if err := writeHeap(h.config.HeapProfile); err != nil {
			errs = append(errs, err)
		}
	}

	if h.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown pprof server: %w", err))
		}
		h.server = nil
		h.listener = nil
	}
	return errors.Join(errs...)
}

func (h *Handler) stopCPU() error {
	if h.cpuFile == nil {
		return nil
	}
	pprof.StopCPUProfile()
	err := h.cpuFile.Close()
	h.cpuFile = nil
	if err != nil {
		return fmt.Errorf("failed to close CPU profile: %w", err)
	}
	return nil
}

func writeHeap(path string) error {
	f, err := create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := pprof.WriteHeapProfile(f); err != nil {
		return fmt.Errorf("failed to write heap profile: %w", err)
	}
	return nil
}

func create(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile file: %w", err)
	}
	return f, nil
}

// checkLoopback refuses addresses reachable from other machines. The
// profiles and the status page are for local debugging only.
func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid pprof address %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("pprof address %q is not a loopback address", addr)
}

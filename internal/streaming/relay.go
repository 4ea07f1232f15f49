// Package streaming relays live timeline updates from the remote service to
// the connected UIs as IPC events.
package streaming

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blindodon/mastodon-core/internal/ipc"
	"github.com/blindodon/mastodon-core/internal/logger"
	"github.com/blindodon/mastodon-core/internal/remote"
	"github.com/blindodon/mastodon-core/internal/session"
)

var (
	// ErrClosed is returned by Start after Close.
	ErrClosed = errors.New("relay closed")
	// ErrSessionChanged is returned by Start when the session was replaced
	// while the stream was opening. The stream is dropped; the caller may retry.
	ErrSessionChanged = errors.New("session changed while opening the stream")
)

// stopTimeout bounds how long Stop waits for a stream to wind down.
const stopTimeout = 5 * time.Second

// Sessions hands out leases on the current remote client.
type Sessions interface {
	Acquire() (*session.Lease, bool)
	Holds(l *session.Lease) bool
}

// Publisher delivers events to every connected UI.
type Publisher interface {
	Broadcast(msg *ipc.Message)
}

type stream struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Relay runs at most one stream per timeline label. Each stream holds a
// session lease until it ends.
type Relay struct {
	sessions Sessions
	pub      Publisher
	log      *logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	streams map[string]*stream
	closed  bool
	wg      sync.WaitGroup
}

// New creates a relay whose streams end at the latest when ctx is done.
func New(ctx context.Context, sessions Sessions, pub Publisher) *Relay {
	ctx, cancel := context.WithCancel(ctx)
	return &Relay{
		sessions: sessions,
		pub:      pub,
		log:      logger.Global().WithPrefix("stream"),
		ctx:      ctx,
		cancel:   cancel,
		streams:  make(map[string]*stream),
	}
}

// Label names the subscription for t in events.
func Label(t remote.Timeline) string {
	return t.DisplayName()
}

// Start subscribes to t with the current session. Starting a timeline that
// is already streaming is a no-op. Errors opening the stream are returned;
// later failures end the stream with a disconnect event.
func (r *Relay) Start(t remote.Timeline) (string, error) {
	label := Label(t)

	r.mu.Lock()
	closed := r.closed
	_, running := r.streams[label]
	r.mu.Unlock()
	if closed {
		return "", ErrClosed
	}
	if running {
		return label, nil
	}

	lease, ok := r.sessions.Acquire()
	if !ok {
		return "", session.ErrNotAuthenticated
	}

	ctx, cancel := context.WithCancel(r.ctx)
	msgs, errs, err := lease.Client.Stream(ctx, t)
	if err != nil {
		cancel()
		lease.Release()
		return "", err
	}

	st := &stream{cancel: cancel, done: make(chan struct{})}
	// SessionChanged runs after the swap and StopAll takes r.mu, so a stream
	// stored past this check is stopped by any later change.
	r.mu.Lock()
	_, dup := r.streams[label]
	var drop error
	switch {
	case r.closed:
		drop = ErrClosed
	case !r.sessions.Holds(lease):
		drop = ErrSessionChanged
	}
	if dup || drop != nil {
		r.mu.Unlock()
		cancel()
		lease.Release()
		if drop != nil {
			r.log.Debug("dropping %s: %v", label, drop)
			return "", drop
		}
		return label, nil
	}
	r.streams[label] = st
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(label, st, lease, msgs, errs)
	return label, nil
}

func (r *Relay) run(label string, st *stream, lease *session.Lease, msgs <-chan remote.StreamMessage, errs <-chan error) {
	defer r.wg.Done()
	defer close(st.done)
	defer lease.Release()

	logger.StreamConnected(label)
	r.emit(ipc.EventStreamConnected, map[string]any{"timeline": label})

	for msg := range msgs {
		logger.StreamMessage(label, msg.Kind.String())
		r.forward(label, msg)
	}
	err := <-errs

	r.mu.Lock()
	if r.streams[label] == st {
		delete(r.streams, label)
	}
	r.mu.Unlock()

	logger.StreamDisconnected(label, err)
	params := map[string]any{"timeline": label, "reason": nil}
	if err != nil {
		params["reason"] = err.Error()
		r.emit(ipc.EventError, map[string]any{"timeline": label, "message": err.Error()})
	}
	r.emit(ipc.EventStreamDisconnected, params)
}

func (r *Relay) forward(label string, msg remote.StreamMessage) {
	switch msg.Kind {
	case remote.StreamUpdate:
		r.emit(ipc.EventNewPost, map[string]any{"timeline": label, "post": msg.Post})
	case remote.StreamStatusUpdate:
		r.emit(ipc.EventPostUpdated, map[string]any{"timeline": label, "post": msg.Post})
	case remote.StreamDelete:
		r.emit(ipc.EventPostDeleted, map[string]any{"timeline": label, "post_id": msg.PostID})
	case remote.StreamNotification:
		r.emit(ipc.EventNewNotification, map[string]any{"timeline": label, "notification": msg.Notification})
	default:
		r.log.Debug("%s: ignoring %s", label, msg.Event)
	}
}

func (r *Relay) emit(name string, params map[string]any) {
	ev, err := ipc.NewEvent(name, params)
	if err != nil {
		r.log.Error("failed to build %s: %v", name, err)
		return
	}
	r.pub.Broadcast(ev)
}

// Stop ends the stream of t and reports whether one was running.
func (r *Relay) Stop(t remote.Timeline) bool {
	label := Label(t)
	r.mu.Lock()
	st, ok := r.streams[label]
	if ok {
		delete(r.streams, label)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.halt(label, st)
	return true
}

// StopAll ends every stream and waits for them to finish.
func (r *Relay) StopAll() {
	r.mu.Lock()
	all := r.streams
	r.streams = make(map[string]*stream)
	r.mu.Unlock()

	for label, st := range all {
		r.halt(label, st)
	}
}

func (r *Relay) halt(label string, st *stream) {
	st.cancel()
	select {
	case <-st.done:
	case <-time.After(stopTimeout):
		r.log.Warn("stream %s did not stop within %s", label, stopTimeout)
	}
}

// Active lists the labels of running streams.
func (r *Relay) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	labels := make([]string, 0, len(r.streams))
	for label := range r.streams {
		labels = append(labels, label)
	}
	return labels
}

// SessionChanged stops every stream, since each holds the client of the
// session that just ended. Register it with session.Manager.OnChange.
func (r *Relay) SessionChanged(_ session.Snapshot) {
	if labels := r.Active(); len(labels) > 0 {
		r.log.Info("session changed, stopping %d streams", len(labels))
	}
	r.StopAll()
}

// Close stops all streams and refuses new ones. It returns once every
// stream goroutine has exited and released its lease.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.cancel()
	r.StopAll()
	r.wg.Wait()
}

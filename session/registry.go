package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/projectqai/sonar/config"
	"github.com/projectqai/sonar/dispatch"
)

var ErrUnknownDevice = errors.New("unknown device")

// Registry starts one Session per configured device and stops them together.
type Registry struct {
	opts   Options
	logger *slog.Logger

	l        sync.RWMutex
	sessions []*Session
	watchers map[int]func(StateChange)
	unwatch  map[int][]func()
	nextID   int
}

func NewRegistry(opts Options) *Registry {
	opts = opts.withDefaults()
	return &Registry{
		opts:     opts,
		logger:   opts.Logger,
		watchers: make(map[int]func(StateChange)),
		unwatch:  make(map[int][]func()),
	}
}

// Start creates and starts a session for every device. Indexes continue
// after any sessions started earlier.
func (r *Registry) Start(ctx context.Context, devices []config.Device) map[int]*Session {
	r.l.Lock()
	started := make(map[int]*Session, len(devices))
	for _, dev := range devices {
		index := len(r.sessions)
		s := New(index, dev, r.opts)
		for id, fn := range r.watchers {
			r.unwatch[id] = append(r.unwatch[id], s.Watch(fn))
		}
		r.sessions = append(r.sessions, s)
		started[index] = s
	}
	r.l.Unlock()

	for index, s := range started {
		r.logger.Debug("starting session", "index", index, "serial", s.Config().SerialNumber)
		s.Start(ctx)
	}
	return started
}

func (r *Registry) Session(index int) (*Session, bool) {
	r.l.RLock()
	defer r.l.RUnlock()

	if index < 0 || index >= len(r.sessions) {
		return nil, false
	}
	return r.sessions[index], true
}

// Sessions returns all sessions in index order.
func (r *Registry) Sessions() []*Session {
	r.l.RLock()
	defer r.l.RUnlock()

	out := make([]*Session, len(r.sessions))
	copy(out, r.sessions)
	return out
}

func (r *Registry) Subscribe(index int, sub dispatch.Subscriber) (dispatch.Handle, error) {
	s, ok := r.Session(index)
	if !ok {
		return dispatch.Handle{}, fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	return s.Subscribe(sub), nil
}

func (r *Registry) Unsubscribe(index int, h dispatch.Handle) error {
	s, ok := r.Session(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownDevice, index)
	}
	s.Unsubscribe(h)
	return nil
}

// Watch registers fn on every current and future session.
func (r *Registry) Watch(fn func(StateChange)) func() {
	r.l.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	for _, s := range r.sessions {
		r.unwatch[id] = append(r.unwatch[id], s.Watch(fn))
	}
	r.l.Unlock()

	return func() {
		r.l.Lock()
		cancels := r.unwatch[id]
		delete(r.unwatch, id)
		delete(r.watchers, id)
		r.l.Unlock()

		for _, cancel := range cancels {
			cancel()
		}
	}
}

// ShutdownAll stops every session and waits for them concurrently. A session
// still running after ShutdownTimeout is marked terminated and abandoned.
func (r *Registry) ShutdownAll() {
	sessions := r.Sessions()
	for _, s := range sessions {
		s.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ShutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			select {
			case <-s.Done():
			case <-ctx.Done():
				r.logger.Warn("session did not stop in time, abandoning it",
					"device", s.Label(), "timeout", r.opts.ShutdownTimeout.String())
				s.forceTerminate()
			}
		}(s)
	}

	start := time.Now()
	wg.Wait()
	r.logger.Debug("all sessions stopped", "sessions", len(sessions), "took", time.Since(start).String())
}

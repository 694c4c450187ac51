// Package session supervises the connection to each configured sensor.
//
// A Session owns one device for the life of the process. It resolves the
// device's serial number to a port path, opens the port, installs a fresh
// dispatcher and reads lines until the connection is lost, then starts over:
//
//	Searching -> Connecting -> Connected -> Closing -> Searching
//	                                              \-> Terminated (on Stop)
//
// Subscriptions live on the dispatcher of one connection. Subscribing while
// the device is not connected is allowed; the subscription is installed on
// the next connection. After a disconnect, subscribers must subscribe again,
// typically from a Watch callback on StateConnected.
package session

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/projectqai/sonar/config"
	"github.com/projectqai/sonar/dispatch"
	"github.com/projectqai/sonar/metrics"
	"github.com/projectqai/sonar/serial"
)

// Resolver maps a hardware serial number to the current port path.
type Resolver interface {
	Resolve(identity string) (string, error)
}

// Dialer opens a line connection on a port path.
type Dialer interface {
	Dial(path string, baudRate int) (serial.Conn, error)
}

type Options struct {
	Resolver Resolver
	Dialer   Dialer
	// Hotplug, if set, ends a Searching wait early when ports change.
	Hotplug         *serial.Hotplug
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = config.DefaultPollInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = config.DefaultShutdownTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Session struct {
	index  int
	device config.Device
	opts   Options
	logger *slog.Logger

	mu         sync.Mutex
	state      State
	path       string
	conn       serial.Conn
	dispatcher *dispatch.Dispatcher
	pending    map[dispatch.Handle]dispatch.Subscriber
	watchers   map[int]func(StateChange)
	nextWatch  int
	started    bool
	cancel     context.CancelFunc

	done     chan struct{}
	doneOnce sync.Once

	// owned by the run goroutine
	missing     bool
	enumFailing bool
	connects    int
}

func New(index int, device config.Device, opts Options) *Session {
	opts = opts.withDefaults()
	return &Session{
		index:    index,
		device:   device,
		opts:     opts,
		logger:   opts.Logger.With("device", device.Label(index), "serial", device.SerialNumber),
		pending:  make(map[dispatch.Handle]dispatch.Subscriber),
		watchers: make(map[int]func(StateChange)),
		done:     make(chan struct{}),
	}
}

func (s *Session) Index() int {
	return s.index
}

func (s *Session) Config() config.Device {
	return s.device
}

func (s *Session) Label() string {
	return s.device.Label(s.index)
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Path is the port path of the current connection, or "".
func (s *Session) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// Dispatcher returns the dispatcher of the current connection, or nil.
func (s *Session) Dispatcher() *dispatch.Dispatcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Subscribe adds sub to the current connection, or holds it until the next
// connection is established.
func (s *Session) Subscribe(sub dispatch.Subscriber) dispatch.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dispatcher != nil {
		return s.dispatcher.Subscribe(sub)
	}

	h := dispatch.NewHandle()
	if s.state == StateTerminated || sub == nil {
		return h
	}
	for existing, p := range s.pending {
		if sameSubscriber(p, sub) {
			return existing
		}
	}
	s.pending[h] = sub
	return h
}

func (s *Session) Unsubscribe(h dispatch.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, h)
	if s.dispatcher != nil {
		s.dispatcher.Unsubscribe(h)
	}
}

// Watch calls fn on every state transition, on the session's goroutine.
// The returned function removes the watcher.
func (s *Session) Watch(fn func(StateChange)) func() {
	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

// Start runs the session until ctx is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop requests termination. It does not wait; use Done.
func (s *Session) Stop() {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	s.mu.Unlock()

	if started {
		cancel()
		return
	}
	s.setState(StateTerminated, nil)
	s.doneOnce.Do(func() { close(s.done) })
}

// forceTerminate marks the session terminated without waiting for its
// goroutine, which may be stuck closing a hung port.
func (s *Session) forceTerminate() {
	s.mu.Lock()
	d := s.dispatcher
	s.dispatcher = nil
	clear(s.pending)
	s.mu.Unlock()

	if d != nil {
		d.Clear()
	}
	metrics.Connected(s.Label(), false)
	s.setState(StateTerminated, nil)
}

func (s *Session) deviceInfo(path string) dispatch.Device {
	return dispatch.Device{
		Index:    s.index,
		Name:     s.Label(),
		Identity: s.device.SerialNumber,
		Path:     path,
	}
}

func (s *Session) setState(to State, cause error) {
	s.mu.Lock()
	from := s.state
	if from == StateTerminated || from == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	change := StateChange{Device: s.deviceInfo(s.path), From: from, To: to, Err: cause}
	watchers := make([]func(StateChange), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	s.logger.Debug("state changed", "from", from.String(), "to", to.String())
	for _, fn := range watchers {
		s.notify(fn, change)
	}
}

func (s *Session) notify(fn func(StateChange), change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state watcher panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn(change)
}

func (s *Session) run(ctx context.Context) {
	defer s.doneOnce.Do(func() { close(s.done) })
	defer s.setState(StateTerminated, nil)

	var wake <-chan struct{}
	if s.opts.Hotplug != nil {
		ch, release := s.opts.Hotplug.Subscribe()
		defer release()
		wake = ch
	}

	for {
		path, ok := s.search(ctx, wake)
		if !ok {
			return
		}

		conn, err := s.connect(path)
		if err != nil {
			s.logger.Warn("failed to open device, retrying", "path", path, "error", err)
			s.setState(StateSearching, err)
			// the port is present, so a hotplug signal is no reason to retry sooner
			if !s.wait(ctx, nil) {
				return
			}
			continue
		}
		if ctx.Err() != nil {
			_ = conn.Close()
			return
		}

		s.serve(ctx, path, conn)
		if ctx.Err() != nil {
			return
		}
	}
}

// search polls the resolver until the device shows up. It logs a missing
// device once per absence, not once per poll.
func (s *Session) search(ctx context.Context, wake <-chan struct{}) (string, bool) {
	s.setState(StateSearching, nil)

	for {
		if ctx.Err() != nil {
			return "", false
		}

		path, err := s.opts.Resolver.Resolve(s.device.SerialNumber)
		switch {
		case err == nil:
			if s.missing {
				s.logger.Info("device reappeared", "path", path)
			}
			s.missing = false
			s.enumFailing = false
			return path, true

		case errors.Is(err, serial.ErrNotFound):
			s.enumFailing = false
			if !s.missing {
				s.missing = true
				s.logger.Warn("device not found, waiting for it to be plugged in")
			}

		default:
			if !s.enumFailing {
				s.enumFailing = true
				s.logger.Error("failed to enumerate serial ports", "error", err)
			}
		}

		if !s.wait(ctx, wake) {
			return "", false
		}
	}
}

func (s *Session) wait(ctx context.Context, wake <-chan struct{}) bool {
	t := time.NewTimer(s.opts.PollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	case <-wake:
		return true
	}
}

func (s *Session) connect(path string) (serial.Conn, error) {
	s.setState(StateConnecting, nil)
	return s.opts.Dialer.Dial(path, s.device.BaudRate)
}

// serve installs a fresh dispatcher for conn and reads until the
// connection is lost or ctx is cancelled, then tears both down.
func (s *Session) serve(ctx context.Context, path string, conn serial.Conn) {
	d := s.install(path, conn)

	s.connects++
	metrics.Connected(s.Label(), true)
	if s.connects > 1 {
		s.logger.Info("device reconnected", "path", path, "baud", s.device.BaudRate)
	} else {
		s.logger.Info("device connected", "path", path, "baud", s.device.BaudRate)
	}
	s.setState(StateConnected, nil)

	errc := make(chan error, 1)
	go func() {
		errc <- conn.ReadLines(d.Dispatch)
	}()

	var cause error
	readerDone := false
	select {
	case cause = <-errc:
		readerDone = true
		if cause == nil {
			cause = serial.ErrConnectionLost
		}
		s.logger.Warn("device disconnected", "path", path, "error", cause)
	case <-ctx.Done():
		s.logger.Info("closing device", "path", path)
	}

	s.setState(StateClosing, cause)

	s.mu.Lock()
	s.dispatcher = nil
	s.mu.Unlock()
	d.Clear()

	if err := conn.Close(); err != nil && !serial.IsDisconnect(err) {
		s.logger.Debug("error closing port", "path", path, "error", err)
	}
	if !readerDone {
		<-errc
	}

	s.mu.Lock()
	s.conn = nil
	s.path = ""
	s.mu.Unlock()
	metrics.Connected(s.Label(), false)
}

// install creates the dispatcher of a new connection and moves the pending
// subscriptions onto it under their original handles.
func (s *Session) install(path string, conn serial.Conn) *dispatch.Dispatcher {
	d := dispatch.New(s.deviceInfo(path), s.logger)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.path = path
	s.conn = conn
	s.dispatcher = d
	pending := s.pending
	s.pending = make(map[dispatch.Handle]dispatch.Subscriber)
	for h, sub := range pending {
		d.Attach(h, sub)
	}
	return d
}

func sameSubscriber(a, b dispatch.Subscriber) (same bool) {
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

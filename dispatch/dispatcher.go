// Package dispatch fans received lines out to subscribers of one device
// connection.
//
// A Dispatcher belongs to exactly one open connection. Its owner creates a
// new one on every (re)connect and calls Clear when the connection is torn
// down, so subscriptions never leak from a dead connection into a new one.
package dispatch

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/projectqai/sonar/metrics"
)

// Device identifies the sensor a line came from.
type Device struct {
	Index    int
	Name     string
	Identity string
	Path     string
}

// Subscriber receives every line of a device. HandleLine runs on the
// device's reader goroutine and must not block for long.
type Subscriber interface {
	HandleLine(line string, dev Device)
}

// LineFunc adapts a function to a Subscriber. Function values cannot be
// compared, so each Subscribe of a LineFunc gets its own handle.
type LineFunc func(line string, dev Device)

func (f LineFunc) HandleLine(line string, dev Device) { f(line, dev) }

// Handle identifies one subscription. The zero Handle is never issued.
type Handle uuid.UUID

func NewHandle() Handle {
	return Handle(uuid.New())
}

func (h Handle) String() string {
	return uuid.UUID(h).String()
}

type Dispatcher struct {
	device Device
	logger *slog.Logger

	l       sync.RWMutex
	subs    map[Handle]Subscriber
	byValue map[Subscriber]Handle
	cleared bool
}

func New(device Device, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		device:  device,
		logger:  logger,
		subs:    make(map[Handle]Subscriber),
		byValue: make(map[Subscriber]Handle),
	}
}

func (d *Dispatcher) Device() Device {
	return d.device
}

// Subscribe adds s and returns its handle. Subscribing a hashable value
// that is already present returns the existing handle.
func (d *Dispatcher) Subscribe(s Subscriber) Handle {
	return d.Attach(NewHandle(), s)
}

// Attach adds s under a handle chosen by the caller. If s is already
// subscribed its existing handle is returned instead.
func (d *Dispatcher) Attach(h Handle, s Subscriber) Handle {
	if s == nil {
		return h
	}

	d.l.Lock()
	defer d.l.Unlock()

	if existing, ok := d.lookup(s); ok {
		return existing
	}

	if old, ok := d.subs[h]; ok {
		d.forget(old)
	}
	d.subs[h] = s
	d.remember(s, h)
	return h
}

// Unsubscribe removes the subscription; unknown handles are ignored.
func (d *Dispatcher) Unsubscribe(h Handle) {
	d.l.Lock()
	defer d.l.Unlock()

	s, ok := d.subs[h]
	if !ok {
		return
	}
	delete(d.subs, h)
	d.forget(s)
}

// lookup finds the handle of an already subscribed value. A comparable type
// can still hold a func, map or slice behind an interface field, and hashing
// such a value panics; those subscribers are kept by handle only.
func (d *Dispatcher) lookup(s Subscriber) (h Handle, ok bool) {
	defer func() {
		if recover() != nil {
			h, ok = Handle{}, false
		}
	}()
	h, ok = d.byValue[s]
	return h, ok
}

func (d *Dispatcher) remember(s Subscriber, h Handle) {
	defer func() { _ = recover() }()
	d.byValue[s] = h
}

func (d *Dispatcher) forget(s Subscriber) {
	defer func() { _ = recover() }()
	delete(d.byValue, s)
}

// Clear drops every subscriber. The dispatcher delivers nothing afterwards.
func (d *Dispatcher) Clear() {
	d.l.Lock()
	defer d.l.Unlock()

	clear(d.subs)
	clear(d.byValue)
	d.cleared = true
}

func (d *Dispatcher) Len() int {
	d.l.RLock()
	defer d.l.RUnlock()
	return len(d.subs)
}

// Dispatch delivers line to a snapshot of the current subscribers. A
// subscriber that panics is logged and skipped; the others still get the line.
func (d *Dispatcher) Dispatch(line string) {
	d.l.RLock()
	if d.cleared {
		d.l.RUnlock()
		return
	}
	snapshot := make([]Subscriber, 0, len(d.subs))
	for _, s := range d.subs {
		snapshot = append(snapshot, s)
	}
	d.l.RUnlock()

	metrics.LineReceived(d.device.Name)

	for _, s := range snapshot {
		if err := d.deliver(s, line); err != nil {
			metrics.CallbackFailed(d.device.Name)
			d.logger.Error("subscriber failed", "device", d.device.Name, "line", line, "error", err)
		}
	}
}

func (d *Dispatcher) deliver(s Subscriber, line string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			d.logger.Debug("subscriber panic stack", "stack", string(debug.Stack()))
		}
	}()
	s.HandleLine(line, d.device)
	return nil
}

package serial

import (
	"context"
	"log/slog"
	"sync"
)

// Hotplug fans out "the set of attached ports may have changed" signals.
// Each listener channel holds at most one pending signal; bursts coalesce.
type Hotplug struct {
	mu        sync.Mutex
	listeners map[chan struct{}]struct{}
}

func NewHotplug() *Hotplug {
	return &Hotplug{
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Subscribe returns a signal channel and a function that releases it.
func (h *Hotplug) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			h.mu.Unlock()
		})
	}
}

// Notify signals every listener without blocking.
func (h *Hotplug) Notify() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Run watches the platform device directory and calls Notify on changes
// until ctx is cancelled. On platforms without a watcher it only waits.
func (h *Hotplug) Run(ctx context.Context, logger *slog.Logger) {
	watchDevices(ctx, logger, h.Notify)
}

package serial

import (
	"testing"
)

func TestHotplug_NotifyCoalesces(t *testing.T) {
	h := NewHotplug()
	a, releaseA := h.Subscribe()
	b, releaseB := h.Subscribe()
	defer releaseA()

	h.Notify()
	h.Notify()
	h.Notify()

	for name, ch := range map[string]<-chan struct{}{"a": a, "b": b} {
		select {
		case <-ch:
		default:
			t.Errorf("%s: expected a signal", name)
		}
		select {
		case <-ch:
			t.Errorf("%s: bursts should coalesce into one signal", name)
		default:
		}
	}

	releaseB()
	releaseB()
	h.Notify()
	select {
	case <-b:
		t.Error("released listener should not be signalled")
	default:
	}
	select {
	case <-a:
	default:
		t.Error("remaining listener should still be signalled")
	}
}

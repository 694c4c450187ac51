package dispatch

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recorder is a comparable subscriber that keeps every line it saw.
type recorder struct {
	mu    sync.Mutex
	lines []string
	devs  []Device
}

func (r *recorder) HandleLine(line string, dev Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	r.devs = append(r.devs, dev)
}

func (r *recorder) got() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}

var testDevice = Device{Index: 1, Name: "Step2", Identity: "D2CC78A7249375CD4E42", Path: "/dev/ttyACM1"}

func TestDispatch_EveryLineOnceInOrder(t *testing.T) {
	d := New(testDevice, quietLogger())

	recorders := make([]*recorder, 5)
	for i := range recorders {
		recorders[i] = &recorder{}
		d.Subscribe(recorders[i])
	}
	d.Subscribe(LineFunc(func(line string, _ Device) {
		panic("subscriber bug on " + line)
	}))

	var want []string
	for i := 0; i < 100; i++ {
		line := strconv.Itoa(i)
		want = append(want, line)
		d.Dispatch(line)
	}

	for i, r := range recorders {
		got := r.got()
		if len(got) != len(want) {
			t.Fatalf("recorder %d: expected %d lines, got %d", i, len(want), len(got))
		}
		for j := range want {
			if got[j] != want[j] {
				t.Fatalf("recorder %d: line %d out of order: %s", i, j, got[j])
			}
		}
		if r.devs[0] != testDevice {
			t.Errorf("recorder %d: expected device context %+v, got %+v", i, testDevice, r.devs[0])
		}
	}
}

func TestSubscribe_SetSemantics(t *testing.T) {
	d := New(testDevice, quietLogger())
	r := &recorder{}

	h1 := d.Subscribe(r)
	h2 := d.Subscribe(r)
	if h1 != h2 {
		t.Error("subscribing the same subscriber twice should return the same handle")
	}
	if d.Len() != 1 {
		t.Errorf("expected 1 subscriber, got %d", d.Len())
	}

	d.Dispatch("100")
	if got := r.got(); len(got) != 1 {
		t.Errorf("expected one delivery, got %v", got)
	}

	fn := LineFunc(func(string, Device) {})
	if d.Subscribe(fn) == d.Subscribe(fn) {
		t.Error("function subscribers get a fresh handle each time")
	}
	if d.Len() != 3 {
		t.Errorf("expected 3 subscribers, got %d", d.Len())
	}
}

// boxed is comparable by type, but hashing it panics when next holds a func.
type boxed struct {
	next any
}

func (b boxed) HandleLine(line string, dev Device) {
	if fn, ok := b.next.(func(string)); ok {
		fn(line)
	}
}

func TestSubscribe_UnhashableValue(t *testing.T) {
	d := New(testDevice, quietLogger())

	var mu sync.Mutex
	var got []string
	sub := boxed{next: func(line string) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, line)
	}}

	h1 := d.Subscribe(sub)
	h2 := d.Subscribe(sub)
	if h1 == h2 {
		t.Error("unhashable subscribers get a fresh handle each time")
	}
	h3 := NewHandle()
	if d.Attach(h3, sub) != h3 {
		t.Error("expected the caller handle for an unhashable subscriber")
	}
	if d.Len() != 3 {
		t.Fatalf("expected 3 subscriptions, got %d", d.Len())
	}

	d.Dispatch("300")
	mu.Lock()
	if len(got) != 3 {
		t.Errorf("expected one delivery per subscription, got %v", got)
	}
	mu.Unlock()

	d.Unsubscribe(h1)
	d.Unsubscribe(h2)
	d.Unsubscribe(h3)
	if d.Len() != 0 {
		t.Errorf("expected all subscriptions removed, got %d", d.Len())
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	d := New(testDevice, quietLogger())
	r := &recorder{}
	h := d.Subscribe(r)

	d.Unsubscribe(h)
	d.Unsubscribe(h)
	d.Unsubscribe(NewHandle())
	d.Unsubscribe(Handle{})

	d.Dispatch("100")
	if len(r.got()) != 0 {
		t.Error("unsubscribed recorder should not receive lines")
	}

	// resubscribing after removal is a new subscription
	if d.Subscribe(r) == h {
		t.Error("expected a new handle after unsubscribe")
	}
}

func TestClear(t *testing.T) {
	d := New(testDevice, quietLogger())
	r := &recorder{}
	d.Subscribe(r)
	d.Subscribe(LineFunc(func(string, Device) {}))

	d.Clear()
	d.Clear()

	if d.Len() != 0 {
		t.Errorf("expected no subscribers, got %d", d.Len())
	}
	d.Dispatch("200")
	if len(r.got()) != 0 {
		t.Error("cleared dispatcher should not deliver")
	}
}

func TestAttach_CallerHandle(t *testing.T) {
	d := New(testDevice, quietLogger())
	r := &recorder{}
	h := NewHandle()

	if got := d.Attach(h, r); got != h {
		t.Errorf("expected caller handle %s, got %s", h, got)
	}
	if got := d.Attach(NewHandle(), r); got != h {
		t.Error("attaching a present subscriber should return its handle")
	}

	d.Unsubscribe(h)
	if d.Len() != 0 {
		t.Errorf("expected removal by caller handle, got %d", d.Len())
	}
	if got := d.Attach(h, nil); got != h || d.Len() != 0 {
		t.Error("nil subscriber should be ignored")
	}
}

func TestDispatch_SnapshotIsolation(t *testing.T) {
	d := New(testDevice, quietLogger())
	victim := &recorder{}
	late := &recorder{}
	victimHandle := d.Subscribe(victim)

	d.Subscribe(LineFunc(func(line string, _ Device) {
		if line == "1" {
			d.Unsubscribe(victimHandle)
			d.Subscribe(late)
		}
	}))

	d.Dispatch("1")
	d.Dispatch("2")

	if got := victim.got(); len(got) != 1 || got[0] != "1" {
		t.Errorf("victim should receive exactly the in-flight line, got %v", got)
	}
	if got := late.got(); len(got) != 1 || got[0] != "2" {
		t.Errorf("late subscriber should only see lines after it joined, got %v", got)
	}
}

func TestDispatch_ConcurrentMutation(t *testing.T) {
	d := New(testDevice, quietLogger())
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			d.Dispatch(fmt.Sprint(i))
		}
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				h := d.Subscribe(LineFunc(func(string, Device) {}))
				d.Unsubscribe(h)
			}
		}()
	}

	wg.Wait()
	d.Clear()
	if d.Len() != 0 {
		t.Errorf("expected empty dispatcher, got %d", d.Len())
	}
}

func TestHandle_String(t *testing.T) {
	h := NewHandle()
	if len(h.String()) != 36 {
		t.Errorf("unexpected handle format %q", h.String())
	}
	if h == (Handle{}) {
		t.Error("issued handle should not be zero")
	}
}

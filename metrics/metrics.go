package metrics

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maypok86/otter"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DistanceTTL is how long a device's last distance keeps being reported
// after its last valid sample.
const DistanceTTL = 30 * time.Second

type deviceStats struct {
	lines     atomic.Int64
	failures  atomic.Int64
	malformed atomic.Int64
	connects  atomic.Int64
	connected atomic.Bool
}

// Stats is a point in time copy of one device's counters.
type Stats struct {
	Lines     int64
	Failures  int64
	Malformed int64
	Connects  int64
	Connected bool
}

var (
	mu      sync.RWMutex
	devices = make(map[string]*deviceStats)

	lastDistance, _ = otter.MustBuilder[string, float64](1024).WithTTL(DistanceTTL).Build()

	meter metric.Meter

	linesCounter      metric.Int64ObservableCounter
	failuresCounter   metric.Int64ObservableCounter
	malformedCounter  metric.Int64ObservableCounter
	connectsCounter   metric.Int64ObservableCounter
	connectedGauge    metric.Int64ObservableGauge
	distanceGauge     metric.Float64ObservableGauge
	goroutinesGauge   metric.Int64ObservableGauge
	memHeapAllocGauge metric.Int64ObservableGauge
	gcNumGauge        metric.Int64ObservableGauge
)

func stats(device string) *deviceStats {
	mu.RLock()
	s, ok := devices[device]
	mu.RUnlock()
	if ok {
		return s
	}

	mu.Lock()
	defer mu.Unlock()
	if s, ok = devices[device]; ok {
		return s
	}
	s = &deviceStats{}
	devices[device] = s
	return s
}

func LineReceived(device string) {
	stats(device).lines.Add(1)
}

func CallbackFailed(device string) {
	stats(device).failures.Add(1)
}

func SampleMalformed(device string) {
	stats(device).malformed.Add(1)
}

// Connected records an opened (true) or closed (false) connection.
func Connected(device string, open bool) {
	s := stats(device)
	if open {
		s.connects.Add(1)
	}
	s.connected.Store(open)
}

func ObserveDistance(device string, cm float64) {
	lastDistance.Set(device, cm)
}

// LastDistance returns the most recent distance if it has not expired.
func LastDistance(device string) (float64, bool) {
	return lastDistance.Get(device)
}

func Get(device string) Stats {
	s := stats(device)
	return Stats{
		Lines:     s.lines.Load(),
		Failures:  s.failures.Load(),
		Malformed: s.malformed.Load(),
		Connects:  s.connects.Load(),
		Connected: s.connected.Load(),
	}
}

// Init creates the instruments on the global meter provider. Recording
// functions work without it; values are only exported once Init ran.
func Init() error {
	meter = otel.Meter("sonar.metrics")

	var err error
	linesCounter, err = meter.Int64ObservableCounter(
		"sonar.lines.received",
		metric.WithDescription("Lines received from a sensor"),
		metric.WithUnit("{lines}"),
	)
	if err != nil {
		return err
	}

	failuresCounter, err = meter.Int64ObservableCounter(
		"sonar.callbacks.failed",
		metric.WithDescription("Subscriber callbacks that panicked"),
		metric.WithUnit("{calls}"),
	)
	if err != nil {
		return err
	}

	malformedCounter, err = meter.Int64ObservableCounter(
		"sonar.samples.malformed",
		metric.WithDescription("Lines that did not convert to a distance"),
		metric.WithUnit("{lines}"),
	)
	if err != nil {
		return err
	}

	connectsCounter, err = meter.Int64ObservableCounter(
		"sonar.connections.opened",
		metric.WithDescription("Connections opened to a sensor"),
		metric.WithUnit("{connections}"),
	)
	if err != nil {
		return err
	}

	connectedGauge, err = meter.Int64ObservableGauge(
		"sonar.sensor.connected",
		metric.WithDescription("1 while the sensor has an open connection"),
	)
	if err != nil {
		return err
	}

	distanceGauge, err = meter.Float64ObservableGauge(
		"sonar.sensor.distance",
		metric.WithDescription("Last measured distance"),
		metric.WithUnit("cm"),
	)
	if err != nil {
		return err
	}

	goroutinesGauge, err = meter.Int64ObservableGauge(
		"go.goroutines",
		metric.WithDescription("Number of goroutines"),
		metric.WithUnit("{goroutines}"),
	)
	if err != nil {
		return err
	}

	memHeapAllocGauge, err = meter.Int64ObservableGauge(
		"go.memory.heap.allocated",
		metric.WithDescription("Bytes of allocated heap objects"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	gcNumGauge, err = meter.Int64ObservableGauge(
		"go.gc.count",
		metric.WithDescription("Number of completed GC cycles"),
		metric.WithUnit("{cycles}"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			mu.RLock()
			for name, s := range devices {
				attrs := metric.WithAttributes(attribute.String("device", name))
				o.ObserveInt64(linesCounter, s.lines.Load(), attrs)
				o.ObserveInt64(failuresCounter, s.failures.Load(), attrs)
				o.ObserveInt64(malformedCounter, s.malformed.Load(), attrs)
				o.ObserveInt64(connectsCounter, s.connects.Load(), attrs)

				var up int64
				if s.connected.Load() {
					up = 1
				}
				o.ObserveInt64(connectedGauge, up, attrs)
			}
			mu.RUnlock()

			lastDistance.Range(func(name string, cm float64) bool {
				o.ObserveFloat64(distanceGauge, cm, metric.WithAttributes(attribute.String("device", name)))
				return true
			})

			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			o.ObserveInt64(goroutinesGauge, int64(runtime.NumGoroutine()))
			o.ObserveInt64(memHeapAllocGauge, int64(m.HeapAlloc))
			o.ObserveInt64(gcNumGauge, int64(m.NumGC))

			return nil
		},
		linesCounter,
		failuresCounter,
		malformedCounter,
		connectsCounter,
		connectedGauge,
		distanceGauge,
		goroutinesGauge,
		memHeapAllocGauge,
		gcNumGauge,
	)

	return err
}

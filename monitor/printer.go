package monitor

import (
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/fatih/color"

	"github.com/projectqai/sonar/dispatch"
	"github.com/projectqai/sonar/distance"
	"github.com/projectqai/sonar/metrics"
)

// Printer converts sample lines to distances and writes one line per sample.
// A single Printer is shared by all devices. With a nil writer it only
// records readings in metrics.
type Printer struct {
	out    io.Writer
	raw    bool
	logger *slog.Logger

	mu     sync.Mutex
	label  *color.Color
	value  *color.Color
	device *color.Color
}

func NewPrinter(out io.Writer, raw bool, logger *slog.Logger) *Printer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Printer{
		out:    out,
		raw:    raw,
		logger: logger,
		label:  color.New(color.Bold),
		value:  color.New(color.FgCyan),
		device: color.New(color.FgGreen),
	}
}

func (p *Printer) HandleLine(line string, dev dispatch.Device) {
	r, err := distance.ParseSample(line)
	if err != nil {
		metrics.SampleMalformed(dev.Name)
		p.logger.Warn("ignoring malformed sample", "device", dev.Name, "line", line)
		return
	}
	metrics.ObserveDistance(dev.Name, r.Distance)
	if p.out == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.raw {
		_, _ = p.label.Fprint(p.out, "Voltage: ")
		_, _ = p.value.Fprintf(p.out, "%.4f", r.Voltage)
		fmt.Fprint(p.out, " V  ")
	}
	_, _ = p.label.Fprint(p.out, "Distance: ")
	_, _ = p.value.Fprintf(p.out, "%.4f", r.Distance)
	fmt.Fprint(p.out, " cm by ")
	_, _ = p.device.Fprint(p.out, deviceName(dev))
	fmt.Fprintln(p.out)
}

func deviceName(dev dispatch.Device) string {
	index := fmt.Sprintf("#%d", dev.Index)
	if dev.Name == "" || dev.Name == index {
		return index
	}
	return fmt.Sprintf("%s (%s)", dev.Name, index)
}

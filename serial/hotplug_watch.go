//go:build linux || darwin

package serial

import (
	"context"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// watchDevices uses inotify/kqueue on /dev to notice serial nodes being
// created or removed.
func watchDevices(ctx context.Context, logger *slog.Logger, notify func()) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error("failed to create fsnotify watcher, relying on polling", "error", err)
		<-ctx.Done()
		return
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add("/dev"); err != nil {
		logger.Error("failed to watch /dev, relying on polling", "error", err)
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isSerialNode(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			logger.Debug("serial device node changed", "name", event.Name, "op", event.Op.String())
			notify()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Error("fsnotify error", "error", err)
		}
	}
}

func isSerialNode(name string) bool {
	if runtime.GOOS == "darwin" {
		return strings.HasPrefix(name, "cu.") || strings.HasPrefix(name, "tty.")
	}
	return strings.HasPrefix(name, "tty")
}

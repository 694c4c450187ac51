//go:build !linux && !darwin

package serial

import (
	"context"
	"log/slog"
)

// watchDevices has no event source here; sessions fall back to their poll
// interval.
func watchDevices(ctx context.Context, logger *slog.Logger, _ func()) {
	logger.Debug("no hotplug watcher on this platform, relying on polling")
	<-ctx.Done()
}

//go:build !mdns

package gateway

import (
	"context"
	"log/slog"
	"time"
)

// Announce is a no-op without the mdns build tag.
func Announce(_ context.Context, _ string, _ int, _, _ string, logger *slog.Logger) error {
	logger.Debug("mdns support not compiled in; build with -tags mdns")
	return nil
}

// Discover finds nothing without the mdns build tag.
func Discover(_ context.Context, _ time.Duration) ([]string, error) {
	return nil, nil
}

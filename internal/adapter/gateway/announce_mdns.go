//go:build mdns

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_nousim._tcp"
	mdnsDomain      = "local."
)

// Announce advertises the gateway on the local network until ctx is cancelled.
func Announce(ctx context.Context, instance string, port int, path, version string, logger *slog.Logger) error {
	txt := []string{"version=" + version, "path=" + path}
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	logger.Info("mdns advertising", "instance", instance, "port", port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}

// Discover browses for gateways for up to timeout and returns their ws:// URLs.
func Discover(ctx context.Context, timeout time.Duration) ([]string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan []string, 1)
	go func() {
		var urls []string
		for e := range entries {
			if u := entryURL(e); u != "" {
				urls = append(urls, u)
			}
		}
		found <- urls
	}()

	if err := resolver.Browse(scanCtx, mdnsServiceType, mdnsDomain, entries); err != nil {
		cancel()
		<-found
		return nil, fmt.Errorf("mdns browse: %w", err)
	}
	<-scanCtx.Done()
	return <-found, nil
}

func entryURL(e *zeroconf.ServiceEntry) string {
	path := "/ws"
	for _, t := range e.Text {
		if v, ok := strings.CutPrefix(t, "path="); ok {
			path = v
		}
	}
	switch {
	case len(e.AddrIPv4) > 0:
		return fmt.Sprintf("ws://%s:%d%s", e.AddrIPv4[0], e.Port, path)
	case len(e.AddrIPv6) > 0:
		return fmt.Sprintf("ws://[%s]:%d%s", e.AddrIPv6[0], e.Port, path)
	}
	return ""
}

// Package discovery announces relays on the local network over mDNS and
// lets participants find one without knowing its address.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	// DefaultService is the zeroconf service type of a relay.
	DefaultService = "_livedoc._tcp"

	domain      = "local."
	pathTXT     = "path="
	defaultPath = "/ws"
)

// ErrNoRelay is returned when no relay answered before the context ended.
var ErrNoRelay = errors.New("no relay found")

// Announce registers the relay listening on port and keeps it announced
// until ctx is done.
func Announce(ctx context.Context, instance, service string, port int) error {
	server, err := zeroconf.Register(instance, service, domain, port, []string{pathTXT + defaultPath}, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}
	defer server.Shutdown()

	log.Printf("announced relay instance=%s service=%s port=%d", instance, service, port)

	<-ctx.Done()

	return nil
}

// Lookup browses for a relay and returns the websocket URL of the first
// one that answers.
func Lookup(ctx context.Context, service string) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return "", fmt.Errorf("browse %s: %w", service, err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ErrNoRelay
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNoRelay
			}

			if u, ok := EntryURL(entry); ok {
				log.Printf("found relay instance=%s url=%s", entry.Instance, u)

				return u, nil
			}
		}
	}
}

// EntryURL builds the websocket URL of a discovered relay. IPv4 addresses
// are preferred.
func EntryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port <= 0 {
		return "", false
	}

	var ip net.IP

	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}

	path := defaultPath

	for _, txt := range entry.Text {
		if p, ok := strings.CutPrefix(txt, pathTXT); ok && p != "" {
			path = p
		}
	}

	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port)),
		Path:   path,
	}

	return u.String(), true
}

// Package discovery advertises the hub on the LAN over mDNS and lets
// devices find it without a configured URL.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/enbility/zeroconf/v3"
	"github.com/rs/zerolog"
)

// TXT record keys published with the service
const (
	txtPath    = "path"
	txtVersion = "version"
)

// ErrNotFound is returned when no hub answered before the context expired
var ErrNotFound = errors.New("no hub found on the network")

// HubInfo describes the advertised hub
type HubInfo struct {
	Instance string
	Service  string
	Domain   string
	Port     int
	WSPath   string
	Version  string
}

// Advertiser publishes the hub service until Shutdown is called
type Advertiser struct {
	info   HubInfo
	logger zerolog.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// NewAdvertiser creates an advertiser for info. Nothing is sent until Start.
func NewAdvertiser(info HubInfo, logger zerolog.Logger) *Advertiser {
	return &Advertiser{info: info, logger: logger}
}

// Start registers the service. Calling it again re-registers.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}

	// nil interfaces means all of them
	server, err := zeroconf.Register(
		a.info.Instance,
		a.info.Service,
		a.info.Domain,
		a.info.Port,
		EncodeTXT(a.info),
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server

	a.logger.Info().
		Str("instance", a.info.Instance).
		Str("service", a.info.Service).
		Int("port", a.info.Port).
		Msg("Advertising hub over mDNS")
	return nil
}

// Shutdown withdraws the service. Safe to call more than once.
func (a *Advertiser) Shutdown() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
		a.logger.Info().Msg("mDNS advertisement stopped")
	}
}

// EncodeTXT builds the TXT records for info
func EncodeTXT(info HubInfo) []string {
	txt := []string{txtPath + "=" + info.WSPath}
	if info.Version != "" {
		txt = append(txt, txtVersion+"="+info.Version)
	}
	return txt
}

// DecodeTXT reads the records written by EncodeTXT. Unknown keys are ignored.
func DecodeTXT(records []string) (path, version string) {
	for _, r := range records {
		key, value, ok := strings.Cut(r, "=")
		if !ok {
			continue
		}
		switch key {
		case txtPath:
			path = value
		case txtVersion:
			version = value
		}
	}
	if path == "" {
		path = "/ws"
	}
	return path, version
}

// EntryURL converts a browse result into a WebSocket URL. IPv4 addresses
// are preferred.
func EntryURL(entry *zeroconf.ServiceEntry) (string, error) {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	case entry.HostName != "":
		host = strings.TrimSuffix(entry.HostName, ".")
	default:
		return "", fmt.Errorf("entry %q has no address", entry.Instance)
	}
	if entry.Port <= 0 {
		return "", fmt.Errorf("entry %q has no port", entry.Instance)
	}

	path, _ := DecodeTXT(entry.Text)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(host, strconv.Itoa(entry.Port)) + path, nil
}

// Resolve browses for service and returns the URL of the first hub that
// answers. Bound the wait with ctx.
func Resolve(ctx context.Context, service, domain string) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	removed := make(chan *zeroconf.ServiceEntry)

	browseErr := make(chan error, 1)
	go func() {
		browseErr <- zeroconf.Browse(ctx, service, domain, entries, removed)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			url, err := EntryURL(entry)
			if err != nil {
				continue
			}
			return url, nil
		case <-removed:
		case err := <-browseErr:
			if err != nil {
				return "", fmt.Errorf("mDNS browse failed: %w", err)
			}
			browseErr = nil
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

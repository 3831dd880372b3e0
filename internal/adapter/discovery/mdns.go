// Package discovery advertises hub services on the local network over
// mDNS/DNS-SD and browses for peers.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"sirsi-hub/internal/domain"
)

const (
	ServiceType = "_sirsi._tcp"
	mdnsDomain  = "local."
	scanTimeout = 5 * time.Second
)

// Service is a hub service seen on the network.
type Service struct {
	Instance string            `json:"instance"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MDNSAnnouncer registers one DNS-SD record per active port allocation.
type MDNSAnnouncer struct {
	logger *slog.Logger

	mu      sync.Mutex
	servers map[string]*zeroconf.Server
}

// NewMDNSAnnouncer creates an announcer.
func NewMDNSAnnouncer(logger *slog.Logger) *MDNSAnnouncer {
	return &MDNSAnnouncer{logger: logger, servers: make(map[string]*zeroconf.Server)}
}

// Announce registers a so peers can find it. Announcing the same
// allocation twice is a no-op.
func (m *MDNSAnnouncer) Announce(_ context.Context, a domain.PortAllocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.servers[a.ID]; ok {
		return nil
	}
	server, err := zeroconf.Register(a.ServiceName, ServiceType, mdnsDomain, a.Port, txtRecords(a), nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}
	m.servers[a.ID] = server
	m.logger.Info("mdns advertising", "service", a.ServiceName, "port", a.Port)
	return nil
}

// Withdraw stops advertising a.
func (m *MDNSAnnouncer) Withdraw(a domain.PortAllocation) {
	m.mu.Lock()
	server, ok := m.servers[a.ID]
	delete(m.servers, a.ID)
	m.mu.Unlock()
	if ok {
		server.Shutdown()
		m.logger.Info("mdns withdrawn", "service", a.ServiceName)
	}
}

// Close withdraws every record.
func (m *MDNSAnnouncer) Close() {
	m.mu.Lock()
	servers := m.servers
	m.servers = make(map[string]*zeroconf.Server)
	m.mu.Unlock()
	for _, s := range servers {
		s.Shutdown()
	}
}

// Scan browses for hub services until ctx ends or the scan window closes.
func Scan(ctx context.Context, logger *slog.Logger) ([]Service, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	var found []Service
	var wg sync.WaitGroup

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for entry := range entries {
			s := entryToService(entry)
			found = append(found, s)
			logger.Debug("mdns discovered service", "instance", s.Instance, "address", s.Address)
		}
	}()

	if err := resolver.Browse(scanCtx, ServiceType, mdnsDomain, entries); err != nil {
		cancel()
		wg.Wait()
		return nil, fmt.Errorf("mdns browse: %w", err)
	}

	<-scanCtx.Done()
	wg.Wait()
	return found, nil
}

func txtRecords(a domain.PortAllocation) []string {
	txt := []string{"id=" + a.ID, "type=" + string(a.ServiceType)}
	for _, k := range slices.Sorted(maps.Keys(a.Metadata)) {
		txt = append(txt, k+"="+a.Metadata[k])
	}
	return txt
}

func entryToService(entry *zeroconf.ServiceEntry) Service {
	var host string
	switch {
	case len(entry.AddrIPv4) > 0:
		host = entry.AddrIPv4[0].String()
	case len(entry.AddrIPv6) > 0:
		host = entry.AddrIPv6[0].String()
	}
	s := Service{
		Instance: entry.ServiceRecord.Instance,
		Port:     entry.Port,
		Metadata: parseTXTRecords(entry.Text),
	}
	if host != "" {
		s.Address = net.JoinHostPort(host, strconv.Itoa(entry.Port))
	}
	return s
}

func parseTXTRecords(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, t := range txt {
		if k, v, ok := strings.Cut(t, "="); ok {
			m[k] = v
		}
	}
	return m
}

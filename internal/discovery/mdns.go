// ABOUTME: mDNS discovery of chunk servers on the local network
// ABOUTME: Browses for _chunkplay._tcp and reports base URLs for the transport
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
	"go.uber.org/zap"
)

// ServiceType is the mDNS service chunk servers advertise
const ServiceType = "_chunkplay._tcp"

// ErrNoServer is returned when a lookup finds nothing before its timeout
var ErrNoServer = errors.New("no chunk server found")

// Config holds discovery configuration
type Config struct {
	// Timeout bounds a single browse (default: 3s)
	Timeout time.Duration

	// Domain is the mDNS domain (default: local)
	Domain string

	Logger *zap.Logger
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int

	// Path is the base path from the TXT record, if any
	Path string

	// Scheme is http unless the TXT record says otherwise
	Scheme string
}

// URL returns the server's base URL
func (s *ServerInfo) URL() string {
	scheme := s.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + net.JoinHostPort(s.Host, strconv.Itoa(s.Port)) + s.Path
}

// Manager handles mDNS browsing
type Manager struct {
	config Config
	logger *zap.Logger
	query  func(*mdns.QueryParam) error
}

// NewManager creates a discovery manager
func NewManager(config Config) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = 3 * time.Second
	}
	if config.Domain == "" {
		config.Domain = "local"
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		config: config,
		logger: logger,
		query:  mdns.Query,
	}
}

// Browse collects every server that answers within the timeout
func (m *Manager) Browse(ctx context.Context) ([]*ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 10)
	collected := make(chan []*ServerInfo, 1)

	go func() {
		var servers []*ServerInfo
		seen := make(map[string]bool)
		for entry := range entries {
			server := toServerInfo(entry)
			if server == nil || seen[server.URL()] {
				continue
			}
			seen[server.URL()] = true
			m.logger.Info("discovered server",
				zap.String("name", server.Name),
				zap.String("url", server.URL()))
			servers = append(servers, server)
		}
		collected <- servers
	}()

	timeout := m.config.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	params := &mdns.QueryParam{
		Service:             ServiceType,
		Domain:              m.config.Domain,
		Timeout:             timeout,
		Entries:             entries,
		WantUnicastResponse: false,
		DisableIPv6:         true,
	}

	err := m.query(params)
	close(entries)
	servers := <-collected

	if err != nil {
		return servers, fmt.Errorf("failed to query mdns: %w", err)
	}
	if ctx.Err() != nil {
		return servers, ctx.Err()
	}
	return servers, nil
}

// Find returns the first server that answers, or ErrNoServer
func (m *Manager) Find(ctx context.Context) (*ServerInfo, error) {
	servers, err := m.Browse(ctx)
	if len(servers) > 0 {
		return servers[0], nil
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrNoServer
}

// toServerInfo converts an mDNS answer, preferring its IPv4 address
func toServerInfo(entry *mdns.ServiceEntry) *ServerInfo {
	if entry == nil || entry.Port == 0 {
		return nil
	}

	server := &ServerInfo{
		Name: entry.Name,
		Port: entry.Port,
	}
	switch {
	case entry.AddrV4 != nil:
		server.Host = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		server.Host = entry.AddrV6.String()
	case entry.Host != "":
		server.Host = strings.TrimSuffix(entry.Host, ".")
	default:
		return nil
	}

	for _, field := range entry.InfoFields {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			continue
		}
		switch key {
		case "path":
			if value != "" && !strings.HasPrefix(value, "/") {
				value = "/" + value
			}
			server.Path = strings.TrimSuffix(value, "/")
		case "scheme":
			server.Scheme = value
		}
	}

	return server
}

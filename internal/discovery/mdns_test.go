// ABOUTME: Tests for mDNS discovery
// ABOUTME: Drives Browse with a fake query function
package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func fakeQuery(entries ...*mdns.ServiceEntry) func(*mdns.QueryParam) error {
	return func(p *mdns.QueryParam) error {
		for _, e := range entries {
			p.Entries <- e
		}
		return nil
	}
}

func TestNewManagerDefaults(t *testing.T) {
	mgr := NewManager(Config{})

	if mgr.config.Timeout != 3*time.Second {
		t.Errorf("expected default timeout 3s, got %v", mgr.config.Timeout)
	}
	if mgr.config.Domain != "local" {
		t.Errorf("expected default domain local, got %q", mgr.config.Domain)
	}
	if mgr.query == nil {
		t.Error("query should not be nil")
	}
}

func TestBrowseQueryParams(t *testing.T) {
	mgr := NewManager(Config{Timeout: 2 * time.Second})

	var got *mdns.QueryParam
	mgr.query = func(p *mdns.QueryParam) error {
		got = p
		return nil
	}

	if _, err := mgr.Browse(context.Background()); err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if got.Service != ServiceType {
		t.Errorf("service = %q, want %q", got.Service, ServiceType)
	}
	if got.Timeout != 2*time.Second {
		t.Errorf("timeout = %v, want 2s", got.Timeout)
	}
}

func TestBrowseContextDeadlineShortensTimeout(t *testing.T) {
	mgr := NewManager(Config{Timeout: time.Minute})

	var got time.Duration
	mgr.query = func(p *mdns.QueryParam) error {
		got = p.Timeout
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := mgr.Browse(ctx); err != nil {
		t.Fatalf("Browse failed: %v", err)
	}
	if got <= 0 || got > 5*time.Second {
		t.Errorf("timeout = %v, want at most 5s", got)
	}
}

func TestBrowseCollectsAndDedups(t *testing.T) {
	mgr := NewManager(Config{})
	mgr.query = fakeQuery(
		&mdns.ServiceEntry{Name: "a", AddrV4: net.ParseIP("192.168.1.10"), Port: 8080, InfoFields: []string{"path=/api/"}},
		&mdns.ServiceEntry{Name: "a-again", AddrV4: net.ParseIP("192.168.1.10"), Port: 8080, InfoFields: []string{"path=api"}},
		&mdns.ServiceEntry{Name: "b", Host: "studio.local.", Port: 9443, InfoFields: []string{"scheme=https"}},
		&mdns.ServiceEntry{Name: "no-port", AddrV4: net.ParseIP("192.168.1.11")},
		&mdns.ServiceEntry{Name: "no-addr", Port: 1},
	)

	servers, err := mgr.Browse(context.Background())
	if err != nil {
		t.Fatalf("Browse failed: %v", err)
	}

	want := []string{"http://192.168.1.10:8080/api", "https://studio.local:9443"}
	if len(servers) != len(want) {
		t.Fatalf("got %d servers, want %d", len(servers), len(want))
	}
	for i, s := range servers {
		if s.URL() != want[i] {
			t.Errorf("server %d URL = %q, want %q", i, s.URL(), want[i])
		}
	}
}

func TestFindNoServer(t *testing.T) {
	mgr := NewManager(Config{})
	mgr.query = fakeQuery()

	_, err := mgr.Find(context.Background())
	if !errors.Is(err, ErrNoServer) {
		t.Errorf("expected ErrNoServer, got %v", err)
	}
}

func TestFindQueryError(t *testing.T) {
	mgr := NewManager(Config{})
	boom := errors.New("no multicast")
	mgr.query = func(*mdns.QueryParam) error { return boom }

	_, err := mgr.Find(context.Background())
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped query error, got %v", err)
	}
}

func TestFindReturnsFirst(t *testing.T) {
	mgr := NewManager(Config{})
	mgr.query = fakeQuery(
		&mdns.ServiceEntry{Name: "first", AddrV4: net.ParseIP("10.0.0.1"), Port: 80},
		&mdns.ServiceEntry{Name: "second", AddrV4: net.ParseIP("10.0.0.2"), Port: 80},
	)

	server, err := mgr.Find(context.Background())
	if err != nil {
		t.Fatalf("Find failed: %v", err)
	}
	if server.Name != "first" {
		t.Errorf("got %q, want first", server.Name)
	}
}

func TestServerInfoURLIPv6(t *testing.T) {
	s := &ServerInfo{Host: "fe80::1", Port: 8080}
	if got := s.URL(); got != "http://[fe80::1]:8080" {
		t.Errorf("URL = %q", got)
	}
}

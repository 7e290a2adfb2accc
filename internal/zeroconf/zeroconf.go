// Package zeroconf advertises the contacts API as an mDNS/DNS-SD service so
// dialer front-ends on the LAN can find it.
package zeroconf

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const (
	serviceType = "_http._tcp"
	domain      = "local."
)

// Service manages mDNS service registration.
type Service struct {
	name string // instance name, e.g. "SIM Contacts"
	port int
	txt  []string
}

// New creates a Service that will advertise port under name.
func New(name string, port int, txt []string) *Service {
	return &Service{name: name, port: port, txt: txt}
}

// TXT returns the records identifying this daemon.
func TXT(version, hostname string) []string {
	return []string{
		"service=simcontacts",
		"version=" + version,
		"host=" + hostname,
		"path=/api",
	}
}

// Start registers the service on all interfaces and blocks until ctx is
// cancelled, then unregisters it.
func (s *Service) Start(ctx context.Context) error {
	server, err := zeroconf.Register(s.name, serviceType, domain, s.port, s.txt, nil)
	if err != nil {
		return fmt.Errorf("zeroconf register: %w", err)
	}
	slog.Info("zeroconf: registered mDNS service",
		"name", s.name,
		"port", s.port,
		"txt", s.txt,
	)

	<-ctx.Done()

	server.Shutdown()
	slog.Info("zeroconf: mDNS service unregistered")
	return nil
}

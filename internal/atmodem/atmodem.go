// Package atmodem reads SIM phonebooks from serial modems using 3GPP TS
// 27.007 AT commands. It is the backend for hosts without oFono.
package atmodem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"golang.org/x/time/rate"

	"github.com/micro-nova/simcontacts/internal/modem"
)

// Config selects the ports to watch and how to talk to them.
type Config struct {
	Ports        []string
	BaudRate     int
	PollInterval time.Duration
	Rate         float64 // commands per second
	Timeout      time.Duration
}

const (
	defaultBaudRate     = 115200
	defaultPollInterval = 5 * time.Second
	defaultRate         = 20
	defaultTimeout      = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.BaudRate <= 0 {
		c.BaudRate = defaultBaudRate
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.Rate <= 0 {
		c.Rate = defaultRate
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

var listPorts = serial.GetPortsList

// Manager is a modem.Manager that polls for configured serial ports.
type Manager struct {
	cfg     Config
	devices map[string]*device
}

// New creates a Manager. It fails when no port is configured.
func New(cfg Config) (*Manager, error) {
	if len(cfg.Ports) == 0 {
		return nil, errors.New("atmodem: no ports configured")
	}
	return &Manager{cfg: cfg.withDefaults(), devices: make(map[string]*device)}, nil
}

// Run polls port presence and SIM readiness until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, ev modem.Events) error {
	slog.Info("atmodem: watching ports", "ports", strings.Join(m.cfg.Ports, ","), "interval", m.cfg.PollInterval)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		m.poll(ctx, ev)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (m *Manager) poll(ctx context.Context, ev modem.Events) {
	present, err := listPorts()
	if err != nil {
		slog.Warn("atmodem: list ports failed", "err", err)
		return
	}
	for _, path := range m.cfg.Ports {
		d, tracked := m.devices[path]
		here := slices.Contains(present, path)
		switch {
		case here && !tracked:
			d = newDevice(path, m.cfg)
			m.devices[path] = d
			slog.Info("atmodem: modem appeared", "port", path)
			ev.ModemAdded(d)
		case !here && tracked:
			delete(m.devices, path)
			slog.Info("atmodem: modem disappeared", "port", path)
			ev.ModemRemoved(d.Handle())
			continue
		case !here:
			continue
		}
		if ctx.Err() != nil {
			return
		}
		valid, ok := d.probe(ctx)
		if !ok || d.valid.Swap(valid) == valid {
			continue
		}
		slog.Info("atmodem: phonebook readiness changed", "port", path, "valid", valid)
		ev.PhonebookValidityChanged(d.Handle(), valid)
	}
}

// device is one serial modem. mu serialises probes and imports so that only
// one session is open on the port at a time.
type device struct {
	path    string
	cfg     Config
	limiter *rate.Limiter
	mu      sync.Mutex
	valid   atomic.Bool
}

func newDevice(path string, cfg Config) *device {
	return &device{
		path:    path,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), 1),
	}
}

func (d *device) Handle() modem.Handle       { return modem.Handle(d.path) }
func (d *device) PhonebookValid() bool       { return d.valid.Load() }
func (d *device) Phonebook() modem.Phonebook { return d }

// Import reads the whole SIM phonebook as vCard text.
func (d *device) Import(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := openSession(d.path, d.cfg.BaudRate, d.limiter, d.cfg.Timeout)
	if err != nil {
		return "", err
	}
	defer s.close()

	text, err := readPhonebook(ctx, s)
	if err != nil {
		return "", fmt.Errorf("atmodem: import %s: %w", d.path, err)
	}
	return text, nil
}

// probe reports whether the SIM is unlocked and its phonebook selectable.
// ok is false when the port is busy with an import or the probe was
// interrupted, in which case the previous readiness stands.
func (d *device) probe(ctx context.Context) (valid, ok bool) {
	if !d.mu.TryLock() {
		return false, false
	}
	defer d.mu.Unlock()

	s, err := openSession(d.path, d.cfg.BaudRate, d.limiter, d.cfg.Timeout)
	if err != nil {
		slog.Debug("atmodem: probe open failed", "port", d.path, "err", err)
		return false, true
	}
	defer s.close()

	valid, err = simReady(ctx, s)
	if ctx.Err() != nil {
		return false, false
	}
	if err != nil {
		slog.Debug("atmodem: probe failed", "port", d.path, "err", err)
		return false, true
	}
	return valid, true
}

func simReady(ctx context.Context, s *session) (bool, error) {
	if _, err := s.command(ctx, "ATE0"); err != nil {
		return false, err
	}
	lines, err := s.command(ctx, "AT+CPIN?")
	var cme *CMEError
	if errors.As(err, &cme) && cme.Code == cmeSIMNotInserted {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !slices.ContainsFunc(lines, func(l string) bool { return strings.TrimSpace(l) == "+CPIN: READY" }) {
		return false, nil
	}
	if _, err := s.command(ctx, `AT+CPBS="SM"`); err != nil {
		if errors.Is(err, ErrCommand) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

var (
	_ modem.Manager = (*Manager)(nil)
	_ modem.Modem   = (*device)(nil)
)

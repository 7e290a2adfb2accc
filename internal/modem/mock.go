package modem

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// ErrMockImport is returned by a MockModem configured to fail.
var ErrMockImport = errors.New("mock: phonebook import failed")

// MockModem is a simulated modem with a fixed phonebook payload.
type MockModem struct {
	handle Handle

	mu      sync.Mutex
	valid   bool
	vcard   string
	fail    bool
	delay   time.Duration
	imports int
}

// NewMockModem creates a mock modem. valid is the initial phonebook readiness.
func NewMockModem(h Handle, vcard string, valid bool) *MockModem {
	return &MockModem{handle: h, vcard: vcard, valid: valid}
}

func (m *MockModem) Handle() Handle { return m.handle }

func (m *MockModem) PhonebookValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

func (m *MockModem) Phonebook() Phonebook { return m }

// SetDelay sets how long Import takes before answering.
func (m *MockModem) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// SetFail makes subsequent imports fail.
func (m *MockModem) SetFail(fail bool) {
	m.mu.Lock()
	m.fail = fail
	m.mu.Unlock()
}

// SetVCard replaces the phonebook payload.
func (m *MockModem) SetVCard(vcard string) {
	m.mu.Lock()
	m.vcard = vcard
	m.mu.Unlock()
}

// Imports returns how many imports were started.
func (m *MockModem) Imports() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.imports
}

// Import waits for the configured delay and returns the payload.
func (m *MockModem) Import(ctx context.Context) (string, error) {
	m.mu.Lock()
	m.imports++
	delay, vcard, fail := m.delay, m.vcard, m.fail
	m.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return "", err
	}
	if fail {
		return "", ErrMockImport
	}
	return vcard, nil
}

func (m *MockModem) setValid(valid bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.valid == valid {
		return false
	}
	m.valid = valid
	return true
}

// Mock is an in-memory Manager for tests and --backend=mock.
type Mock struct {
	mu     sync.Mutex
	order  []Handle
	modems map[Handle]*MockModem
	ev     Events
}

// NewMock creates a mock manager preloaded with modems.
func NewMock(modems ...*MockModem) *Mock {
	m := &Mock{modems: make(map[Handle]*MockModem)}
	for _, mm := range modems {
		m.order = append(m.order, mm.handle)
		m.modems[mm.handle] = mm
	}
	return m
}

// DemoModems builds n valid mock modems, each holding a few contacts.
func DemoModems(n int) []*MockModem {
	out := make([]*MockModem, 0, n)
	for i := 1; i <= n; i++ {
		var b strings.Builder
		for j := 1; j <= 3; j++ {
			name := fmt.Sprintf("SIM%d Contact %d", i, j)
			fmt.Fprintf(&b, "BEGIN:VCARD\r\nVERSION:3.0\r\nFN:%s\r\nN:%s;;;;\r\nTEL;TYPE=CELL:+1555%02d%04d\r\nEND:VCARD\r\n",
				name, name, i, j)
		}
		mm := NewMockModem(Handle(fmt.Sprintf("/mock_%d", i-1)), b.String(), true)
		mm.SetDelay(200 * time.Millisecond)
		out = append(out, mm)
	}
	return out
}

// Run reports the preloaded modems and forwards later changes until ctx is done.
func (m *Mock) Run(ctx context.Context, ev Events) error {
	m.mu.Lock()
	m.ev = ev
	initial := make([]*MockModem, 0, len(m.order))
	for _, h := range m.order {
		initial = append(initial, m.modems[h])
	}
	m.mu.Unlock()

	for _, mm := range initial {
		ev.ModemAdded(mm)
		if mm.PhonebookValid() {
			ev.PhonebookValidityChanged(mm.handle, true)
		}
	}

	<-ctx.Done()

	m.mu.Lock()
	m.ev = nil
	m.mu.Unlock()
	return nil
}

// Add plugs in a modem.
func (m *Mock) Add(mm *MockModem) {
	m.mu.Lock()
	if _, ok := m.modems[mm.handle]; !ok {
		m.order = append(m.order, mm.handle)
	}
	m.modems[mm.handle] = mm
	ev := m.ev
	m.mu.Unlock()

	if ev != nil {
		ev.ModemAdded(mm)
		if mm.PhonebookValid() {
			ev.PhonebookValidityChanged(mm.handle, true)
		}
	}
}

// Remove unplugs a modem.
func (m *Mock) Remove(h Handle) {
	m.mu.Lock()
	if _, ok := m.modems[h]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.modems, h)
	for i, oh := range m.order {
		if oh == h {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	ev := m.ev
	m.mu.Unlock()

	if ev != nil {
		ev.ModemRemoved(h)
	}
}

// SetValid changes a modem's phonebook readiness and reports the edge.
func (m *Mock) SetValid(h Handle, valid bool) {
	m.mu.Lock()
	mm, ok := m.modems[h]
	ev := m.ev
	m.mu.Unlock()
	if !ok || !mm.setValid(valid) {
		return
	}
	if ev != nil {
		ev.PhonebookValidityChanged(h, valid)
	}
}

// Modem returns a preloaded modem by handle.
func (m *Mock) Modem(h Handle) (*MockModem, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mm, ok := m.modems[h]
	return mm, ok
}

var _ Manager = (*Mock)(nil)

package snapshot

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/micro-nova/simcontacts/internal/models"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("snapshot: publisher closed")

// Notifier receives every successfully published snapshot.
type Notifier interface {
	Publish(snap models.Snapshot)
}

// Publisher turns completed campaign results into the published Snapshot.
// Readers never block and never observe a half-applied publish.
type Publisher struct {
	mu      sync.Mutex // serializes Publish and Close
	store   Store
	notify  Notifier
	now     func() time.Time
	closed  bool
	current atomic.Pointer[models.Snapshot]
}

// NewPublisher creates a Publisher whose initial snapshot is empty.
// notify may be nil.
func NewPublisher(store Store, notify Notifier) *Publisher {
	p := &Publisher{
		store:  store,
		notify: notify,
		now:    time.Now,
	}
	p.current.Store(&models.Snapshot{VCardFile: FileURL(store.Path())})
	return p
}

// FileURL converts a filesystem path to a file:// URL.
func FileURL(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// Publish concatenates the vCard texts in order, rewrites the store and swaps
// the snapshot. The notifier fires exactly once on success. On a write error
// the previous snapshot stays in place and nothing is notified.
func (p *Publisher) Publish(collected []models.ImportResult) error {
	var b strings.Builder
	for _, r := range collected {
		b.WriteString(r.VCard)
	}
	text := b.String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}

	if err := p.store.Write([]byte(text)); err != nil {
		return fmt.Errorf("snapshot: write %s: %w", p.store.Path(), err)
	}

	prev := p.current.Load()
	next := &models.Snapshot{
		Contacts:    text,
		VCardFile:   FileURL(p.store.Path()),
		HasContacts: text != "",
		Version:     prev.Version + 1,
		PublishedAt: p.now(),
	}
	p.current.Store(next)

	slog.Info("snapshot: published",
		"version", next.Version,
		"modems", len(collected),
		"bytes", len(text),
		"changed", prev.Contacts != text,
	)
	if p.notify != nil {
		p.notify.Publish(*next)
	}
	return nil
}

// Snapshot returns the current snapshot.
func (p *Publisher) Snapshot() models.Snapshot { return *p.current.Load() }

// Contacts returns the current aggregate vCard text.
func (p *Publisher) Contacts() string { return p.current.Load().Contacts }

// VCardFile returns the file:// URL of the materialized aggregate.
func (p *Publisher) VCardFile() string { return p.current.Load().VCardFile }

// HasContacts reports whether the aggregate is non-empty.
func (p *Publisher) HasContacts() bool { return p.current.Load().HasContacts }

// Close removes the transient file. Later publishes fail with ErrClosed.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.store.Remove()
}

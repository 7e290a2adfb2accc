// Package controller implements the SIM contacts state machine: the modem
// registry and the import campaign that serializes phonebook reads across
// every ready modem and hands the result to the snapshot publisher.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/micro-nova/simcontacts/internal/models"
	"github.com/micro-nova/simcontacts/internal/modem"
)

// ErrClosed is returned by Run after Close.
var ErrClosed = errors.New("controller: closed")

// Publisher receives the results of every completed campaign.
type Publisher interface {
	Publish(collected []models.ImportResult) error
}

// Controller owns the registry and the active campaign.
// mu is the import guard: every registry event, import completion and
// campaign transition runs under it.
type Controller struct {
	mu       sync.Mutex
	reg      *registry
	pub      Publisher
	active   *campaign
	inflight *importOp
	nextID   uint64
	closed   bool

	ctx    context.Context // parent of every import; cancelled by Close
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an idle controller publishing to pub.
func New(pub Publisher) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		reg:    newRegistry(),
		pub:    pub,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run feeds the controller from mgr until ctx is cancelled or Close is called.
func (c *Controller) Run(ctx context.Context, mgr modem.Manager) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	ctx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case <-c.ctx.Done():
			stop()
		case <-ctx.Done():
		}
	}()
	return mgr.Run(ctx, c)
}

// ModemAdded registers a modem. Its phonebook counts as unusable until the
// manager reports it valid.
func (c *Controller) ModemAdded(m modem.Modem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if !c.reg.add(m) {
		slog.Debug("controller: duplicate modem ignored", "modem", m.Handle())
		return
	}
	slog.Info("controller: modem added", "modem", m.Handle())
}

// ModemRemoved forgets a modem. An import in flight for it is aborted and
// anything it contributed to the active campaign is dropped. When idle, a
// modem that was contributing triggers a fresh campaign.
func (c *Controller) ModemRemoved(h modem.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	st, ok := c.reg.remove(h)
	if !ok {
		return
	}
	slog.Info("controller: modem removed", "modem", h)

	camp := c.active
	if camp == nil {
		if st.PhonebookValid || st.ImportState == models.ImportSucceeded {
			c.restartLocked("modem removed")
		}
		return
	}
	camp.dequeue(h)
	camp.uncollect(h)
	if camp.current == h {
		c.abortLocked(camp, h)
	}
	c.stepLocked()
}

// PhonebookValidityChanged records readiness. Becoming valid starts a new
// campaign. Becoming invalid while being imported fails that modem for the
// current campaign.
func (c *Controller) PhonebookValidityChanged(h modem.Handle, valid bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if !c.reg.setValid(h, valid) {
		return
	}
	slog.Info("controller: phonebook validity changed", "modem", h, "valid", valid)

	if valid {
		c.restartLocked("phonebook valid")
		return
	}
	if camp := c.active; camp != nil && camp.current == h {
		c.abortLocked(camp, h)
		c.reg.setState(h, models.ImportFailed)
		c.stepLocked()
	}
}

// Refresh starts a new campaign regardless of registry edges.
func (c *Controller) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.restartLocked("refresh")
}

// KnownHandles returns the registered modems in discovery order.
func (c *Controller) KnownHandles() []modem.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.knownHandles()
}

// Modems returns the status of every registered modem in discovery order.
func (c *Controller) Modems() []models.ModemStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reg.statuses()
}

// Campaign describes the active campaign.
func (c *Controller) Campaign() models.CampaignInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.campaignInfoLocked()
}

// Close cancels any campaign in flight and waits for its import to return.
// Events delivered after Close are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.active != nil {
		c.cancelLocked(c.active)
	}
	c.cancel()
	c.mu.Unlock()

	c.wg.Wait()
	slog.Debug("controller: closed")
}

var _ modem.Events = (*Controller)(nil)

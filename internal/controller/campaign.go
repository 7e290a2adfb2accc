package controller

import (
	"context"
	"log/slog"

	"github.com/micro-nova/simcontacts/internal/models"
	"github.com/micro-nova/simcontacts/internal/modem"
)

// campaign is one attempt to rebuild the aggregate from the ready modems.
type campaign struct {
	id        uint64
	queue     []modem.Handle
	collected []models.ImportResult
	current   modem.Handle // "" when no import of this campaign is outstanding
	cancelled bool
}

func (c *campaign) dequeue(h modem.Handle) bool {
	for i, qh := range c.queue {
		if qh == h {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

func (c *campaign) uncollect(h modem.Handle) bool {
	for i, r := range c.collected {
		if r.Handle == h {
			c.collected = append(c.collected[:i], c.collected[i+1:]...)
			return true
		}
	}
	return false
}

// importOp is the single transport-level import outstanding at any time.
// It stays set until its goroutine reports back, even after cancellation, so
// that a new import is never issued while the old one is still draining.
type importOp struct {
	campaign uint64 // campaign the result belongs to
	handle   modem.Handle
	cancel   context.CancelFunc
	aborted  bool // ctx cancelled; the result is discarded
}

// restartLocked supersedes the active campaign, if any, with a fresh one whose
// queue is every ready modem in registry order. An import in flight for a
// modem that is still queued is carried over instead of being issued twice.
func (c *Controller) restartLocked(reason string) {
	c.nextID++
	camp := &campaign{
		id:    c.nextID,
		queue: c.reg.validHandles(),
	}
	if prev := c.active; prev != nil {
		if op := c.inflight; op != nil && op.campaign == prev.id && !op.aborted && camp.dequeue(op.handle) {
			op.campaign = camp.id
			camp.current = op.handle
			slog.Debug("controller: in-flight import carried over",
				"from", prev.id, "to", camp.id, "modem", op.handle)
		}
		c.cancelLocked(prev)
	}
	c.active = camp
	slog.Info("controller: campaign started",
		"campaign", camp.id, "reason", reason, "queued", len(camp.queue), "carried", camp.current)
	c.stepLocked()
}

// cancelLocked marks camp cancelled and asks the transport to drop the
// import it owns, if any. The import's eventual result is discarded.
func (c *Controller) cancelLocked(camp *campaign) {
	camp.cancelled = true
	if op := c.inflight; op != nil && op.campaign == camp.id {
		op.aborted = true
		op.cancel()
	}
	slog.Debug("controller: campaign cancelled", "campaign", camp.id)
	if c.active == camp {
		c.active = nil
	}
}

// abortLocked cancels the in-flight import for h without cancelling the
// campaign. The campaign resumes once the transport has let go.
func (c *Controller) abortLocked(camp *campaign, h modem.Handle) {
	op := c.inflight
	if op == nil || op.campaign != camp.id || op.handle != h {
		return
	}
	op.aborted = true
	op.cancel()
	camp.current = ""
	slog.Debug("controller: import aborted", "campaign", camp.id, "modem", h)
}

// stepLocked issues the next queued import, or completes the campaign when
// nothing is queued or outstanding. It is a no-op while any import, including
// a cancelled one still draining, is outstanding.
func (c *Controller) stepLocked() {
	camp := c.active
	if camp == nil || camp.cancelled || c.inflight != nil || c.closed {
		return
	}
	for len(camp.queue) > 0 {
		h := camp.queue[0]
		camp.queue = camp.queue[1:]

		e, ok := c.reg.get(h)
		if !ok {
			continue
		}
		if !e.status.PhonebookValid {
			// Never attempted, so its import state is left as is.
			slog.Debug("controller: skipping modem with invalid phonebook", "campaign", camp.id, "modem", h)
			continue
		}
		c.reg.setState(h, models.ImportPending)
		camp.current = h
		c.issueLocked(camp.id, h, e.modem.Phonebook())
		return
	}
	c.completeLocked(camp)
}

func (c *Controller) issueLocked(id uint64, h modem.Handle, pb modem.Phonebook) {
	ctx, cancel := context.WithCancel(c.ctx)
	op := &importOp{campaign: id, handle: h, cancel: cancel}
	c.inflight = op
	slog.Debug("controller: import issued", "campaign", id, "modem", h)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		text, err := pb.Import(ctx)
		cancel()
		c.importDone(op, text, err)
	}()
}

// importDone is the completion callback of op. The result is applied only if
// op still belongs to the active, uncancelled campaign.
func (c *Controller) importDone(op *importOp, text string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight != op {
		slog.Warn("controller: unexpected import result", "campaign", op.campaign, "modem", op.handle)
		return
	}
	c.inflight = nil

	camp := c.active
	if c.closed || op.aborted || camp == nil || camp.id != op.campaign || camp.cancelled {
		slog.Debug("controller: discarding superseded import result",
			"campaign", op.campaign, "modem", op.handle, "err", err)
		c.stepLocked()
		return
	}

	h := op.handle
	camp.current = ""
	if err != nil {
		c.reg.setState(h, models.ImportFailed)
		slog.Warn("controller: phonebook import failed", "campaign", camp.id, "modem", h, "err", err)
	} else {
		camp.collected = append(camp.collected, models.ImportResult{Handle: h, VCard: text})
		c.reg.setState(h, models.ImportSucceeded)
		slog.Debug("controller: phonebook imported", "campaign", camp.id, "modem", h, "bytes", len(text))
	}
	c.stepLocked()
}

// completeLocked hands the collected results, in registry order, to the
// publisher and returns the controller to idle. A failed publish keeps the
// previous snapshot; the next registry edge retries.
func (c *Controller) completeLocked(camp *campaign) {
	c.active = nil
	collected := c.reg.sortByOrder(camp.collected)
	slog.Info("controller: campaign complete", "campaign", camp.id, "collected", len(collected))
	if err := c.pub.Publish(collected); err != nil {
		slog.Error("controller: publish failed", "campaign", camp.id, "err", err)
	}
}

func (c *Controller) campaignInfoLocked() models.CampaignInfo {
	camp := c.active
	if camp == nil {
		return models.CampaignInfo{ID: c.nextID, Phase: models.PhaseIdle}
	}
	info := models.CampaignInfo{
		ID:        camp.id,
		Phase:     models.PhaseQueuing,
		Current:   camp.current,
		Queued:    len(camp.queue),
		Collected: len(camp.collected),
	}
	if camp.current != "" {
		info.Phase = models.PhaseImporting
	}
	return info
}

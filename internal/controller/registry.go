package controller

import (
	"cmp"
	"slices"

	"github.com/micro-nova/simcontacts/internal/models"
	"github.com/micro-nova/simcontacts/internal/modem"
)

type registryEntry struct {
	modem  modem.Modem
	status models.ModemStatus
}

// registry tracks known modems in discovery order. It never fails and has no
// locking of its own: every call happens under Controller.mu.
type registry struct {
	order   []modem.Handle
	entries map[modem.Handle]*registryEntry
}

func newRegistry() *registry {
	return &registry{entries: make(map[modem.Handle]*registryEntry)}
}

// add inserts m with an unconfirmed phonebook. It returns false for a handle
// that is already known.
func (r *registry) add(m modem.Modem) bool {
	h := m.Handle()
	if _, ok := r.entries[h]; ok {
		return false
	}
	r.order = append(r.order, h)
	r.entries[h] = &registryEntry{
		modem:  m,
		status: models.ModemStatus{Handle: h, ImportState: models.ImportNotStarted},
	}
	return true
}

// remove drops h and returns its last status.
func (r *registry) remove(h modem.Handle) (models.ModemStatus, bool) {
	e, ok := r.entries[h]
	if !ok {
		return models.ModemStatus{}, false
	}
	delete(r.entries, h)
	for i, oh := range r.order {
		if oh == h {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return e.status, true
}

// setValid records phonebook readiness and reports whether it changed.
func (r *registry) setValid(h modem.Handle, valid bool) bool {
	e, ok := r.entries[h]
	if !ok || e.status.PhonebookValid == valid {
		return false
	}
	e.status.PhonebookValid = valid
	return true
}

func (r *registry) setState(h modem.Handle, s models.ImportState) {
	if e, ok := r.entries[h]; ok {
		e.status.ImportState = s
	}
}

func (r *registry) get(h modem.Handle) (*registryEntry, bool) {
	e, ok := r.entries[h]
	return e, ok
}

// knownHandles returns every handle in insertion order.
func (r *registry) knownHandles() []modem.Handle {
	return append([]modem.Handle(nil), r.order...)
}

// validHandles returns the handles whose phonebook is ready, in insertion order.
func (r *registry) validHandles() []modem.Handle {
	var out []modem.Handle
	for _, h := range r.order {
		if r.entries[h].status.PhonebookValid {
			out = append(out, h)
		}
	}
	return out
}

func (r *registry) statuses() []models.ModemStatus {
	out := make([]models.ModemStatus, 0, len(r.order))
	for _, h := range r.order {
		out = append(out, r.entries[h].status)
	}
	return out
}

// sortByOrder returns rs ordered by discovery order of their handles.
func (r *registry) sortByOrder(rs []models.ImportResult) []models.ImportResult {
	pos := make(map[modem.Handle]int, len(r.order))
	for i, h := range r.order {
		pos[h] = i
	}
	out := append([]models.ImportResult(nil), rs...)
	slices.SortStableFunc(out, func(a, b models.ImportResult) int {
		return cmp.Compare(pos[a.Handle], pos[b.Handle])
	})
	return out
}

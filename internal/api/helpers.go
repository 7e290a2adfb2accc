// Package api implements the HTTP API serving aggregated SIM contacts.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/micro-nova/simcontacts/internal/models"
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	ctrl     Controller
	contacts Contacts
	events   EventBus
	info     models.Info
}

// Controller is the interface the handlers use to inspect and nudge the
// import state machine.
type Controller interface {
	Modems() []models.ModemStatus
	Campaign() models.CampaignInfo
	Refresh()
}

// Contacts exposes the currently published snapshot.
type Contacts interface {
	Snapshot() models.Snapshot
}

// EventBus is the interface for subscribing to snapshot publications.
type EventBus interface {
	Subscribe(id string) <-chan models.Snapshot
	Unsubscribe(id string)
	SubscriberCount() int
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an AppError as a JSON response.
func writeError(w http.ResponseWriter, err error) {
	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		appErr = models.ErrInternal(err.Error())
	}
	writeJSON(w, appErr.Status, appErr)
}

package api

import "net/http"

func (h *Handlers) getModems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Modems())
}

func (h *Handlers) getCampaign(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Campaign())
}

// refresh re-reads every ready phonebook. The import runs in the background,
// so the response only acknowledges the request.
func (h *Handlers) refresh(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Refresh()
	writeJSON(w, http.StatusAccepted, h.ctrl.Campaign())
}

func (h *Handlers) getInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}

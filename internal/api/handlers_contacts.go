package api

import (
	"net/http"
	"strconv"
)

const vcardContentType = "text/vcard; charset=utf-8"

func (h *Handlers) getContacts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.contacts.Snapshot())
}

// getContactsFile serves the aggregate as a downloadable vCard file. The
// body is the published snapshot text, which is exactly what the file holds.
func (h *Handlers) getContactsFile(w http.ResponseWriter, r *http.Request) {
	snap := h.contacts.Snapshot()
	if !snap.HasContacts {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", vcardContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="sim-contacts.vcf"`)
	w.Header().Set("ETag", strconv.Quote(strconv.FormatUint(snap.Version, 10)))
	if !snap.PublishedAt.IsZero() {
		w.Header().Set("Last-Modified", snap.PublishedAt.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(snap.Contacts))
	}
}

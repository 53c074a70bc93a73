package api

import "net/http"

func (h *handler) getStats(w http.ResponseWriter, _ *http.Request) {
	if h.stats == nil {
		jsonError(w, http.StatusNotFound, "no ingest running")
		return
	}

	jsonResponse(w, http.StatusOK, h.stats())
}

package main

import (
	"net/http"
	"time"

	"laundry/internal/backend"
)

type liveStatsResponse struct {
	Stats     *backend.OrderStats `json:"stats"`
	FetchedAt time.Time           `json:"fetched_at"`
	Stale     bool                `json:"stale"`
	LastError string              `json:"last_error,omitempty"`
}

// GET /v1/orders/stats/live
//
// Served from the poller; never calls the backend.
func (app *application) liveOrderStatsHandler(w http.ResponseWriter, r *http.Request) {
	snap, ok := app.stats.Latest()
	if !ok {
		w.Header().Set("Retry-After", "1")
		writeJSONError(w, http.StatusServiceUnavailable, "order stats are not available yet")
		return
	}

	noStore(w)
	res := liveStatsResponse{
		Stats:     snap.Stats,
		FetchedAt: snap.FetchedAt,
		Stale:     snap.LastError != "" || time.Since(snap.FetchedAt) > 3*app.config.pollInterval,
		LastError: snap.LastError,
	}
	if err := app.jsonResponse(w, http.StatusOK, res); err != nil {
		app.internalServerError(w, r, err)
	}
}

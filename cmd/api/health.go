package main

import (
	"net/http"
)

// GET /v1/health
func (app *application) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"status":      "ok",
		"env":         app.config.env,
		"version":     version,
		"draft_store": app.config.drafts.store,
	}
	if snap, ok := app.stats.Latest(); ok {
		data["stats_fetched_at"] = snap.FetchedAt
		if snap.LastError != "" {
			data["stats_error"] = snap.LastError
		}
	}

	if err := app.jsonResponse(w, http.StatusOK, data); err != nil {
		app.internalServerError(w, r, err)
	}
}

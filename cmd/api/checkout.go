package main

import (
	"errors"
	"expvar"
	"net/http"

	"laundry/internal/backend"
	"laundry/internal/checkout"
	"laundry/internal/drafts"
	"laundry/internal/payments"
	"laundry/internal/validate"
)

var (
	checkoutsStarted   = expvar.NewMap("checkouts_started")
	paymentOutcomes    = expvar.NewMap("payment_outcomes")
	errStaleAttemptKey = errors.New("this checkout page is out of date, reload it and try again")
)

type draftResponse struct {
	Draft      *drafts.OrderDraft `json:"draft"`
	AttemptKey string             `json:"attempt_key"`
	Phase      drafts.Phase       `json:"phase"`
	LastStatus string             `json:"last_status,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

func newDraftResponse(slot *drafts.Slot) draftResponse {
	return draftResponse{
		Draft:      slot.Draft,
		AttemptKey: slot.AttemptKey,
		Phase:      slot.Phase,
		LastStatus: slot.LastStatus,
		Reason:     slot.Reason,
	}
}

// GET /v1/checkout/draft
func (app *application) getDraftHandler(w http.ResponseWriter, r *http.Request) {
	slot, err := app.orderFirst.Draft(r.Context(), getSessionFromContext(r))
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	noStore(w)
	if err := app.jsonResponse(w, http.StatusOK, newDraftResponse(slot)); err != nil {
		app.internalServerError(w, r, err)
	}
}

// PUT /v1/checkout/draft
func (app *application) putDraftHandler(w http.ResponseWriter, r *http.Request) {
	var d drafts.OrderDraft
	if err := readJSON(w, r, &d); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	slot, err := app.orderFirst.PutDraft(r.Context(), getSessionFromContext(r), &d)
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	if err := app.jsonResponse(w, http.StatusOK, newDraftResponse(slot)); err != nil {
		app.internalServerError(w, r, err)
	}
}

// DELETE /v1/checkout/draft
func (app *application) deleteDraftHandler(w http.ResponseWriter, r *http.Request) {
	if err := app.orderFirst.DiscardDraft(r.Context(), getSessionFromContext(r)); err != nil {
		app.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type checkoutPayload struct {
	PaymentMethod string `json:"payment_method" validate:"required"`
	// AttemptKey is the key the page was rendered with. When sent it must
	// match the live one, so a stale tab cannot start a second attempt.
	AttemptKey string `json:"attempt_key"`
}

// POST /v1/checkout
// POST /v1/checkout/deferred
//
// A wallet checkout answers with the auto-post page that sends the browser to
// the gateway. Bank and cash answer with JSON.
func (app *application) checkoutHandler(o *checkout.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload checkoutPayload
		if err := readJSON(w, r, &payload); err != nil {
			app.badRequestResponse(w, r, err)
			return
		}
		if err := validate.Struct(payload); err != nil {
			app.handleError(w, r, err)
			return
		}
		method, err := backend.ParseMethod(payload.PaymentMethod)
		if err != nil {
			app.handleError(w, r, validate.Field("payment_method", err.Error()))
			return
		}

		ctx := r.Context()
		sessionID := getSessionFromContext(r)

		if payload.AttemptKey != "" {
			slot, err := o.Draft(ctx, sessionID)
			if err != nil {
				app.handleError(w, r, err)
				return
			}
			if slot.AttemptKey != payload.AttemptKey {
				app.conflictResponse(w, r, errStaleAttemptKey)
				return
			}
		}

		res, err := o.Submit(ctx, sessionID, method)
		if err != nil {
			app.handleError(w, r, err)
			return
		}
		checkoutsStarted.Add(o.Ordering().String()+"_"+string(method), 1)

		if res.Redirect != nil {
			app.renderRedirect(w, r, res.Redirect)
			return
		}

		if err := app.jsonResponse(w, http.StatusCreated, res); err != nil {
			app.internalServerError(w, r, err)
		}
	}
}

func (app *application) renderRedirect(w http.ResponseWriter, r *http.Request, redirect *payments.Redirect) {
	noStore(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := payments.RenderAutoPostForm(w, redirect); err != nil {
		app.logger.Errorw("render gateway form", "path", r.URL.Path, "error", err)
	}
}

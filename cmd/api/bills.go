package main

import (
	"errors"
	"net/http"

	"laundry/internal/checkout"
	"laundry/internal/params"
	"laundry/internal/reconcile"
)

// GET /v1/bills/summary?branch_id=
func (app *application) billSummaryHandler(w http.ResponseWriter, r *http.Request) {
	branchID := params.ParseOptionalID(r.URL.Query().Get("branch_id"))

	summary, err := app.bills.Summary(r.Context(), getSessionFromContext(r), branchID)
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	noStore(w)
	if err := app.jsonResponse(w, http.StatusOK, summary); err != nil {
		app.internalServerError(w, r, err)
	}
}

// POST /v1/bills/pay
//
// An amount above the selected branch's pending total is answered with 409
// until the request is repeated with "confirmed": true.
func (app *application) payBillHandler(w http.ResponseWriter, r *http.Request) {
	var payload checkout.BillPayment
	if err := readJSON(w, r, &payload); err != nil {
		app.badRequestResponse(w, r, err)
		return
	}

	res, err := app.bills.Pay(r.Context(), getSessionFromContext(r), payload)
	if err != nil {
		if errors.Is(err, reconcile.ErrConfirmationRequired) {
			app.confirmationRequiredResponse(w, r, err)
			return
		}
		app.handleError(w, r, err)
		return
	}
	checkoutsStarted.Add("bill_"+string(payload.Method), 1)

	if res.Redirect != nil {
		app.renderRedirect(w, r, res.Redirect)
		return
	}
	if err := app.jsonResponse(w, http.StatusCreated, res); err != nil {
		app.internalServerError(w, r, err)
	}
}

func (app *application) confirmationRequiredResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Infow("bill payment needs confirmation", "path", r.URL.Path, "error", err.Error())

	type envelope struct {
		Success              bool   `json:"success"`
		Message              string `json:"message"`
		Status               int    `json:"status"`
		ConfirmationRequired bool   `json:"confirmation_required"`
	}
	writeJSON(w, http.StatusConflict, &envelope{
		Message:              "amount exceeds the pending total for the selected branch; confirm to pay anyway",
		Status:               http.StatusConflict,
		ConfirmationRequired: true,
	})
}

package main

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"laundry/internal/backend"
	"laundry/internal/checkout"
	"laundry/internal/drafts"
	"laundry/internal/params"
	"laundry/internal/reconcile"

	"github.com/go-chi/chi/v5"
)

const maxReasonLen = 200

// GET /v1/payments/esewa/return
// GET /v1/payments/esewa/failure
//
// The gateway sends the browser back here. Either way the browser ends on the
// receipt or on the failure page via 303, so a refresh never replays the
// return.
func (app *application) esewaReturnHandler(defaultStatus string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := getSessionFromContext(r)

		out, err := app.orderFirst.HandleReturn(r.Context(), sessionID, r.URL.Query(), defaultStatus)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				app.logger.Infow("client left during verification", "session", sessionID)
				return
			}
			app.internalServerError(w, r, err)
			return
		}

		noStore(w)
		if out.Success {
			paymentOutcomes.Add("success", 1)
			http.Redirect(w, r, app.receiptURL(out.TransactionID), http.StatusSeeOther)
			return
		}

		paymentOutcomes.Add("failed", 1)
		http.Redirect(w, r, app.failureURL(out), http.StatusSeeOther)
	}
}

func (app *application) receiptURL(transactionID string) string {
	return app.config.apiURL + "/v1/payments/receipt/" + url.PathEscape(transactionID)
}

func (app *application) failureURL(out *checkout.Outcome) string {
	u := app.config.apiURL + "/v1/payments/failure"
	u = addQuery(u, "reason", out.Reason)
	if out.Status != "" {
		u = addQuery(u, "status", out.Status)
	}
	if out.TransactionID != "" {
		u = addQuery(u, "transaction_uuid", out.TransactionID)
	}
	return u
}

type pageLinks struct {
	Dashboard string `json:"dashboard"`
	Orders    string `json:"orders"`
	Retry     string `json:"retry,omitempty"`
}

func (app *application) links(retry bool) pageLinks {
	l := pageLinks{
		Dashboard: app.config.frontendURL + "/dashboard",
		Orders:    app.config.frontendURL + "/orders",
	}
	if retry {
		l.Retry = app.config.frontendURL + "/checkout"
	}
	return l
}

type receiptResponse struct {
	Line reconcile.Line `json:"line"`
	// JustPaid is true on the first view after the payment was confirmed in
	// this session.
	JustPaid bool      `json:"just_paid"`
	Links    pageLinks `json:"links"`
}

// GET /v1/payments/receipt/{transactionID}
func (app *application) receiptHandler(w http.ResponseWriter, r *http.Request) {
	transactionID := strings.TrimSpace(chi.URLParam(r, "transactionID"))
	if transactionID == "" || len(transactionID) > 100 {
		app.badRequestResponse(w, r, errors.New("invalid transaction id"))
		return
	}

	ctx := r.Context()
	attempt, err := app.backend.ProcessPayment(ctx, transactionID)
	if err != nil {
		var apiErr *backend.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			app.notFoundResponse(w, r, err)
			return
		}
		app.handleError(w, r, err)
		return
	}

	succeeded, err := drafts.PopSucceeded(ctx, app.drafts, getSessionFromContext(r))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	noStore(w)
	res := receiptResponse{
		Line:     reconcile.BuildLines([]backend.PaymentAttempt{*attempt})[0],
		JustPaid: succeeded == transactionID,
		Links:    app.links(false),
	}
	if err := app.jsonResponse(w, http.StatusOK, res); err != nil {
		app.internalServerError(w, r, err)
	}
}

type failureResponse struct {
	Reason         string    `json:"reason"`
	Status         string    `json:"status,omitempty"`
	TransactionID  string    `json:"transaction_uuid,omitempty"`
	DraftAvailable bool      `json:"draft_available"`
	Links          pageLinks `json:"links"`
}

// GET /v1/payments/failure
func (app *application) failureHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	reason := strings.TrimSpace(q.Get("reason"))
	if reason == "" {
		reason = "payment failed"
	}
	if len(reason) > maxReasonLen {
		reason = reason[:maxReasonLen]
	}

	slot, err := drafts.GetOrEmpty(r.Context(), app.drafts, getSessionFromContext(r))
	if err != nil {
		app.internalServerError(w, r, err)
		return
	}

	noStore(w)
	res := failureResponse{
		Reason:         reason,
		Status:         strings.ToUpper(strings.TrimSpace(q.Get("status"))),
		TransactionID:  strings.TrimSpace(q.Get("transaction_uuid")),
		DraftAvailable: slot.Draft != nil,
		Links:          app.links(slot.Draft != nil),
	}
	if err := app.jsonResponse(w, http.StatusOK, res); err != nil {
		app.internalServerError(w, r, err)
	}
}

type historyResponse struct {
	Filter     params.HistoryFilter `json:"filter"`
	Lines      []reconcile.Line     `json:"lines"`
	Totals     reconcile.Totals     `json:"totals"`
	Pagination backend.Pagination   `json:"pagination"`
}

// GET /v1/payments/history?page=&page_size=&search=&payment_type=&status=
func (app *application) paymentHistoryHandler(w http.ResponseWriter, r *http.Request) {
	f := params.ParseHistoryFilter(r.URL.Query())

	page, err := app.backend.PaymentHistory(r.Context(), backend.HistoryQuery{
		Page:        f.Page,
		PageSize:    f.PageSize,
		Search:      f.Search,
		PaymentType: f.PaymentType,
		Status:      f.Status,
	})
	if err != nil {
		app.handleError(w, r, err)
		return
	}

	lines := reconcile.BuildLines(page.Payments)
	if err := app.jsonResponse(w, http.StatusOK, historyResponse{
		Filter:     f,
		Lines:      lines,
		Totals:     reconcile.Summarize(lines),
		Pagination: page.Pagination,
	}); err != nil {
		app.internalServerError(w, r, err)
	}
}

func addQuery(base, key, val string) string {
	u, err := url.Parse(base)
	if err != nil {
		if strings.Contains(base, "?") {
			return base + "&" + url.QueryEscape(key) + "=" + url.QueryEscape(val)
		}
		return base + "?" + url.QueryEscape(key) + "=" + url.QueryEscape(val)
	}
	q := u.Query()
	q.Set(key, val)
	u.RawQuery = q.Encode()
	return u.String()
}

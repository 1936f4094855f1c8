package main

import (
	"context"
	"errors"
	"net/http"

	"laundry/internal/backend"
	"laundry/internal/checkout"
	"laundry/internal/drafts"
	"laundry/internal/payments"
	"laundry/internal/reconcile"
	"laundry/internal/validate"
)

func (app *application) internalServerError(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Errorw("internal error", "method", r.Method, "path", r.URL.Path, "error", err.Error())

	writeJSONError(w, http.StatusInternalServerError, "the server encountered a problem")
}

func (app *application) badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("bad request", "method", r.Method, "path", r.URL.Path, "error", err.Error())

	writeJSONError(w, http.StatusBadRequest, err.Error())
}

func (app *application) notFoundResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("not found error", "method", r.Method, "path", r.URL.Path, "error", err.Error())

	writeJSONError(w, http.StatusNotFound, "not found")
}

func (app *application) conflictResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("conflict response", "method", r.Method, "path", r.URL.Path, "error", err.Error())

	writeJSONError(w, http.StatusConflict, err.Error())
}

func (app *application) unauthorizedBasicErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("unauthorized basic error", "method", r.Method, "path", r.URL.Path, "error", err.Error())

	w.Header().Set("WWW-Authenticate", `Basic realm="restricted", charset="UTF-8"`)

	writeJSONError(w, http.StatusUnauthorized, "unauthorized")
}

func (app *application) rateLimitExceededResponse(w http.ResponseWriter, r *http.Request, retryAfter string) {
	app.logger.Warnw("rate limit exceeded", "method", r.Method, "path", r.URL.Path)

	w.Header().Set("Retry-After", retryAfter)

	writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded, retry after: "+retryAfter)
}

func (app *application) validationErrorResponse(w http.ResponseWriter, r *http.Request, verr *validate.ValidationError) {
	app.logger.Infow("validation failed", "method", r.Method, "path", r.URL.Path, "fields", verr.Fields)

	type envelope struct {
		Success bool              `json:"success"`
		Message string            `json:"message"`
		Status  int               `json:"status"`
		Fields  map[string]string `json:"fields"`
	}
	writeJSON(w, http.StatusUnprocessableEntity, &envelope{
		Message: "validation failed",
		Status:  http.StatusUnprocessableEntity,
		Fields:  verr.Fields,
	})
}

func (app *application) paymentErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	app.logger.Warnw("payment error", "method", r.Method, "path", r.URL.Path, "error", err.Error())

	status := http.StatusBadGateway
	if errors.Is(err, payments.ErrGatewayUnavailable) || errors.Is(err, backend.ErrServiceUnavailable) {
		status = http.StatusServiceUnavailable
	}
	writeJSONError(w, status, payments.Reason(err))
}

// handleError maps errors from the checkout packages onto responses.
func (app *application) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr   *validate.ValidationError
		apiErr *backend.APIError
	)
	switch {
	case errors.As(err, &verr):
		app.validationErrorResponse(w, r, verr)
	case errors.Is(err, drafts.ErrNoDraft), errors.Is(err, drafts.ErrNotFound):
		app.notFoundResponse(w, r, err)
	case errors.Is(err, reconcile.ErrConfirmationRequired):
		app.conflictResponse(w, r, err)
	case errors.Is(err, checkout.ErrUnsupportedMethod):
		app.badRequestResponse(w, r, err)
	case errors.Is(err, context.DeadlineExceeded):
		writeJSONError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.As(err, &apiErr) && apiErr.IsClientError():
		app.logger.Warnw("backend rejected request", "method", r.Method, "path", r.URL.Path, "error", err.Error())
		writeJSONError(w, apiErr.Status, apiErr.Message)
	case isPaymentError(err):
		app.paymentErrorResponse(w, r, err)
	default:
		app.internalServerError(w, r, err)
	}
}

func isPaymentError(err error) bool {
	var netErr *backend.NetworkError
	return errors.Is(err, payments.ErrGatewayUnavailable) ||
		errors.Is(err, payments.ErrVerificationRejected) ||
		errors.Is(err, payments.ErrMalformedGatewayPayload) ||
		errors.Is(err, payments.ErrNetwork) ||
		errors.Is(err, backend.ErrServiceUnavailable) ||
		errors.Is(err, backend.ErrMalformedResponse) ||
		errors.As(err, &netErr)
}

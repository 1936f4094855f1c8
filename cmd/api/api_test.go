package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"laundry/internal/backend"
	"laundry/internal/checkout"
	"laundry/internal/drafts"
	"laundry/internal/payments"
	"laundry/internal/poller"
	"laundry/internal/ratelimiter"
	"laundry/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBackend answers the backend endpoints the handlers reach.
type fakeBackend struct {
	mu    sync.Mutex
	calls map[string]int
	txSeq int
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[r.URL.Path]++

	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/orders/create/":
		writeFake(w, map[string]any{"success": true, "order": map[string]any{
			"id": 41, "total_amount": body["total_amount"], "payment_status": "pending", "status": "pending",
		}})

	case strings.HasSuffix(r.URL.Path, "/update/"):
		writeFake(w, map[string]any{"success": true, "order": map[string]any{"id": 41, "payment_status": "paid"}})

	case r.URL.Path == "/payments/initiate/":
		f.txSeq++
		tx := fmt.Sprintf("tx-%d", f.txSeq)
		resp := map[string]any{"success": true, "transaction_uuid": tx}
		if body["payment_type"] == "esewa" {
			resp["payment_data"] = map[string]any{
				"amount":             body["amount"],
				"tax_amount":         "0",
				"total_amount":       body["amount"],
				"transaction_uuid":   tx,
				"product_code":       "EPAYTEST",
				"signed_field_names": "total_amount,transaction_uuid,product_code",
				"signature":          "sig-" + tx,
			}
		}
		if body["payment_type"] == "bank" {
			resp["bank_details"] = map[string]any{"bank_name": "NIC Asia", "account_name": "Laundry Pvt", "account_number": "0012345"}
		}
		writeFake(w, resp)

	case r.URL.Path == "/payments/verify-esewa/":
		writeFake(w, map[string]any{"success": true, "payment": fakePayment(fmt.Sprint(body["transaction_uuid"]), "1200")})

	case strings.HasPrefix(r.URL.Path, "/payments/process/"):
		tx := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/payments/process/"), "/")
		if tx == "missing" {
			w.WriteHeader(http.StatusNotFound)
			writeFake(w, map[string]any{"error": "payment not found"})
			return
		}
		writeFake(w, map[string]any{"success": true, "payment": fakePayment(tx, "1200")})

	case r.URL.Path == "/payments/history/":
		writeFake(w, map[string]any{
			"success": true,
			"payments": []map[string]any{
				fakePayment("tx-a", "1200"),
				{"transaction_uuid": "tx-b", "payment_type": "esewa", "amount": "500", "status": "complete", "payment_source": "bill_payment", "orders": []any{}},
			},
			"pagination": map[string]any{"current_page": 1, "total_pages": 1, "total_count": 2},
		})

	case r.URL.Path == "/orders/stats/":
		writeFake(w, map[string]any{
			"success": true,
			"stats":   map[string]any{"active_orders": 2, "pending_payments_count": 2, "pending_amount": "1500"},
			"branch_pending_amounts": []map[string]any{
				{"branch_id": 3, "branch_name": "Baneshwor", "pending_amount": "1000"},
				{"branch_id": 4, "branch_name": "Lazimpat", "pending_amount": "500"},
			},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func fakePayment(tx, amount string) map[string]any {
	return map[string]any{
		"transaction_uuid": tx,
		"payment_type":     "esewa",
		"amount":           amount,
		"status":           "complete",
		"payment_source":   "order_placement",
		"orders":           []map[string]any{{"order_id": 41, "amount_applied": amount}},
	}
}

func writeFake(w http.ResponseWriter, v any) { _ = json.NewEncoder(w).Encode(v) }

func (f *fakeBackend) Calls(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

type testServer struct {
	app     *application
	handler http.Handler
	fake    *fakeBackend
	cookie  *http.Cookie
}

func newTestApplication(t *testing.T, cfg config) *testServer {
	t.Helper()

	fake := &fakeBackend{calls: map[string]int{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	logger := zap.NewNop().Sugar()
	client := backend.New(srv.URL, "svc-token")
	manager := payments.NewDefaultManager(client, payments.NewEsewaAdapter(client, "", "https://shop.example/v1/payments/esewa/return", ""))
	verifier := payments.NewVerifier(client, logger).WithRetryPolicy(payments.DefaultVerifyRetries, time.Millisecond)
	store := drafts.NewMemoryStore()
	guard := checkout.NewGuard()
	stats := poller.New(client, time.Minute, logger)

	if cfg.auth.session.secret == "" {
		cfg.auth.session = sessionConfig{secret: "test-secret", exp: time.Hour, iss: "laundry"}
	}
	if cfg.rateLimiter.TimeFrame == 0 {
		cfg.rateLimiter = ratelimiter.Config{RequestsPerTimeFrame: 100, TimeFrame: time.Minute, Enabled: true}
	}
	cfg.auth.basic = basicConfig{user: "admin", pass: "secret"}
	cfg.drafts = draftsConfig{store: "memory", ttl: time.Hour, minTurnaround: drafts.DefaultMinTurnaround}
	cfg.pollInterval = time.Minute

	app := &application{
		config:       cfg,
		logger:       logger,
		backend:      client,
		drafts:       store,
		sessions:     session.NewManager(cfg.auth.session.secret, cfg.auth.session.iss, cfg.auth.session.exp),
		orderFirst:   checkout.New(checkout.OrderFirst, store, client, manager, verifier, guard, logger),
		paymentFirst: checkout.New(checkout.PaymentFirst, store, client, manager, verifier, guard, logger),
		bills:        checkout.NewBills(store, stats, manager, logger),
		stats:        stats,
		rateLimiter:  ratelimiter.NewFixedWindowLimiter(cfg.rateLimiter.RequestsPerTimeFrame, cfg.rateLimiter.TimeFrame),
	}
	return &testServer{app: app, handler: app.mount(), fake: fake}
}

// do sends a request carrying the session cookie from the previous response.
func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if ts.cookie != nil {
		req.AddCookie(ts.cookie)
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)

	for _, c := range rr.Result().Cookies() {
		if c.Name == session.CookieName {
			ts.cookie = c
		}
	}
	return rr
}

func decodeData(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	env := struct {
		Data json.RawMessage `json:"data"`
	}{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	require.NoError(t, json.Unmarshal(env.Data, v))
}

func validDraft() map[string]any {
	return map[string]any{
		"branch": 3,
		"cart_items": []map[string]any{
			{"service_id": 1, "name": "Wash & Iron", "quantity": 4, "unit_price": "250"},
		},
		"pickup":   map[string]any{"date": "2026-03-01", "time": "09:00", "address": "Baneshwor"},
		"delivery": map[string]any{"date": "2026-03-03", "time": "09:00", "address": "Baneshwor"},
		"pricing": map[string]any{
			"subtotal": "1000", "pickup_cost": "100", "delivery_cost": "100", "urgent_cost": "0", "total": "1200",
		},
	}
}

func gatewayData(t *testing.T, tx, status, amount string) string {
	t.Helper()
	data, err := payments.EncodeReturnPayload(payments.ReturnPayload{
		TransactionID:   tx,
		TransactionCode: "000AWEO",
		Status:          status,
		TotalAmount:     decimal.RequireFromString(amount),
	})
	require.NoError(t, err)
	return url.QueryEscape(data)
}

func TestHealthRequiresBasicAuth(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	rr := ts.do(t, http.MethodGet, "/v1/health", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:secret")))
	rr = httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSessionCookie(t *testing.T) {
	ts := newTestApplication(t, config{env: "production"})

	rr := ts.do(t, http.MethodGet, "/v1/checkout/draft", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	require.NotNil(t, ts.cookie)
	assert.True(t, ts.cookie.HttpOnly)
	assert.True(t, ts.cookie.Secure)
	assert.Equal(t, http.SameSiteLaxMode, ts.cookie.SameSite)

	first, err := ts.app.sessions.Parse(ts.cookie.Value)
	require.NoError(t, err)

	ts.do(t, http.MethodGet, "/v1/checkout/draft", nil)
	second, err := ts.app.sessions.Parse(ts.cookie.Value)
	require.NoError(t, err)
	assert.Equal(t, first, second, "a valid cookie keeps its session")

	ts.cookie = &http.Cookie{Name: session.CookieName, Value: "garbage"}
	ts.do(t, http.MethodGet, "/v1/checkout/draft", nil)
	third, err := ts.app.sessions.Parse(ts.cookie.Value)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestPutDraftValidation(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	d := validDraft()
	d["delivery"] = map[string]any{"date": "2026-03-01", "time": "18:00", "address": "Baneshwor"}
	rr := ts.do(t, http.MethodPut, "/v1/checkout/draft", d)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var body struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body.Fields, "delivery.date")
	assert.Zero(t, ts.fake.Calls("/orders/create/"))
}

func TestWalletCheckoutRoundTrip(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	rr := ts.do(t, http.MethodPut, "/v1/checkout/draft", validDraft())
	require.Equal(t, http.StatusOK, rr.Code)
	var draft draftResponse
	decodeData(t, rr, &draft)
	require.NotEmpty(t, draft.AttemptKey)

	rr = ts.do(t, http.MethodPost, "/v1/checkout/", map[string]any{"payment_method": "wallet", "attempt_key": draft.AttemptKey})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.Contains(t, rr.Body.String(), payments.DefaultEsewaFormURL)
	assert.Contains(t, rr.Body.String(), "sig-tx-1")

	rr = ts.do(t, http.MethodGet, "/v1/payments/esewa/return?data="+gatewayData(t, "tx-1", "COMPLETE", "1200"), nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/v1/payments/receipt/tx-1", rr.Header().Get("Location"))

	rr = ts.do(t, http.MethodGet, "/v1/payments/receipt/tx-1", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var receipt receiptResponse
	decodeData(t, rr, &receipt)
	assert.True(t, receipt.JustPaid)
	assert.Equal(t, "allocated", string(receipt.Line.Kind))

	rr = ts.do(t, http.MethodGet, "/v1/payments/receipt/tx-1", nil)
	decodeData(t, rr, &receipt)
	assert.False(t, receipt.JustPaid, "the success flag is consumed on first view")

	rr = ts.do(t, http.MethodGet, "/v1/checkout/draft", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code, "a verified payment consumes the draft")
	assert.Equal(t, 1, ts.fake.Calls("/orders/create/"))
	assert.Equal(t, 1, ts.fake.Calls("/payments/verify-esewa/"))
}

func TestGatewayFailureKeepsDraft(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/v1/checkout/draft", validDraft()).Code)
	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPost, "/v1/checkout/deferred", map[string]any{"payment_method": "wallet"}).Code)

	rr := ts.do(t, http.MethodGet, "/v1/payments/esewa/failure?data="+gatewayData(t, "tx-1", "CANCELED", "1200"), nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/v1/payments/failure", loc.Path)
	assert.Contains(t, loc.Query().Get("reason"), "CANCELED")
	assert.Zero(t, ts.fake.Calls("/payments/verify-esewa/"))

	rr = ts.do(t, http.MethodGet, loc.String(), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var failure failureResponse
	decodeData(t, rr, &failure)
	assert.True(t, failure.DraftAvailable)
	assert.Equal(t, "tx-1", failure.TransactionID)
	assert.NotEmpty(t, failure.Links.Retry)
}

func TestStaleAttemptKeyRejected(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/v1/checkout/draft", validDraft()).Code)
	rr := ts.do(t, http.MethodPost, "/v1/checkout/", map[string]any{"payment_method": "cash", "attempt_key": "1-deadbeefdeadbeef"})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Zero(t, ts.fake.Calls("/orders/create/"))
}

func TestBankCheckoutReturnsDetails(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/v1/checkout/draft", validDraft()).Code)
	rr := ts.do(t, http.MethodPost, "/v1/checkout/", map[string]any{"payment_method": "bank"})
	require.Equal(t, http.StatusCreated, rr.Code)

	var res checkout.Result
	decodeData(t, rr, &res)
	require.NotNil(t, res.BankDetails)
	assert.Equal(t, "NIC Asia", res.BankDetails.BankName)
	require.NotNil(t, res.OrderID)
	assert.EqualValues(t, 41, *res.OrderID)
}

func TestDeferredCheckoutRejectsCash(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	require.Equal(t, http.StatusOK, ts.do(t, http.MethodPut, "/v1/checkout/draft", validDraft()).Code)
	rr := ts.do(t, http.MethodPost, "/v1/checkout/deferred", map[string]any{"payment_method": "cash"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBillPayment(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	rr := ts.do(t, http.MethodGet, "/v1/bills/summary?branch_id=4", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var summary checkout.BillSummary
	decodeData(t, rr, &summary)
	assert.Equal(t, "1500", summary.Pending.Global.String())
	require.NotNil(t, summary.Pending.Branch)
	assert.Equal(t, "500", summary.Pending.Branch.String())
	assert.NotEmpty(t, summary.AttemptKey)

	pay := map[string]any{"amount": "800", "branch_id": 4, "payment_method": "wallet"}
	rr = ts.do(t, http.MethodPost, "/v1/bills/pay", pay)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), `"confirmation_required":true`)
	assert.Zero(t, ts.fake.Calls("/payments/initiate/"))

	rr = ts.do(t, http.MethodPost, "/v1/bills/pay", map[string]any{"amount": "2000", "branch_id": 4, "payment_method": "wallet", "confirmed": true})
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	pay["confirmed"] = true
	rr = ts.do(t, http.MethodPost, "/v1/bills/pay", pay)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "sig-tx-1")
	assert.Equal(t, 1, ts.fake.Calls("/payments/initiate/"))
	assert.Equal(t, 1, ts.fake.Calls("/orders/stats/"), "stats are served from the poller cache")
}

func TestPaymentHistory(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	rr := ts.do(t, http.MethodGet, "/v1/payments/history?page_size=500&payment_type=wallet", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var res historyResponse
	decodeData(t, rr, &res)
	assert.Equal(t, 50, res.Filter.PageSize)
	assert.Equal(t, "esewa", res.Filter.PaymentType)
	require.Len(t, res.Lines, 2)
	assert.Equal(t, "allocated", string(res.Lines[0].Kind))
	assert.Equal(t, "advance", string(res.Lines[1].Kind))
	assert.Equal(t, "1700", res.Totals.Paid.String())
	assert.Equal(t, "500", res.Totals.Credit.String())
}

func TestReceiptNotFound(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	rr := ts.do(t, http.MethodGet, "/v1/payments/receipt/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestLiveStatsBeforeFirstPoll(t *testing.T) {
	ts := newTestApplication(t, config{env: "test"})

	rr := ts.do(t, http.MethodGet, "/v1/orders/stats/live", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Zero(t, ts.fake.Calls("/orders/stats/"))
}

func TestCheckoutRateLimited(t *testing.T) {
	ts := newTestApplication(t, config{
		env:         "test",
		rateLimiter: ratelimiter.Config{RequestsPerTimeFrame: 1, TimeFrame: time.Minute, Enabled: true},
	})

	ts.do(t, http.MethodPost, "/v1/checkout/", map[string]any{"payment_method": "cash"})
	rr := ts.do(t, http.MethodPost, "/v1/checkout/", map[string]any{"payment_method": "cash"})
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

package checkout

import (
	"context"
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
	"laundry/internal/drafts"
	"laundry/internal/payments"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const returnURL = "https://shop.example/v1/payments/esewa/return"

// fakeBackend is the laundry REST backend as far as checkout is concerned.
type fakeBackend struct {
	mu          sync.Mutex
	calls       []string
	bodies      map[string][]map[string]any
	txSeq       int
	orderID     int64
	verifyCode  int
	initiateErr int
}

func newFakeBackend(t *testing.T) (*fakeBackend, *backend.Client) {
	t.Helper()
	f := &fakeBackend{bodies: map[string][]map[string]any{}, orderID: 41}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, backend.New(srv.URL, "svc-token")
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.bodies[r.URL.Path] = append(f.bodies[r.URL.Path], body)

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == "/orders/create/":
		writeFake(w, map[string]any{"success": true, "order": map[string]any{
			"id": f.orderID, "total_amount": body["total_amount"], "payment_status": "pending", "status": "pending",
		}})

	case strings.HasSuffix(r.URL.Path, "/update/"):
		writeFake(w, map[string]any{"success": true, "order": map[string]any{"id": f.orderID, "payment_status": "paid"}})

	case r.URL.Path == "/payments/initiate/":
		if f.initiateErr != 0 {
			w.WriteHeader(f.initiateErr)
			writeFake(w, map[string]any{"error": "initiate failed"})
			f.initiateErr = 0
			return
		}
		f.txSeq++
		tx := fmt.Sprintf("tx-%d", f.txSeq)
		resp := map[string]any{"success": true, "transaction_uuid": tx}
		switch body["payment_type"] {
		case "esewa":
			resp["payment_data"] = map[string]any{
				"amount":             body["amount"],
				"tax_amount":         "0",
				"total_amount":       body["amount"],
				"transaction_uuid":   tx,
				"product_code":       "EPAYTEST",
				"signed_field_names": "total_amount,transaction_uuid,product_code",
				"signature":          "sig-" + tx,
				"success_url":        "https://backend.example/success",
				"failure_url":        "https://backend.example/failure",
			}
		case "bank":
			resp["bank_details"] = map[string]any{"bank_name": "NIC Asia", "account_name": "Laundry Pvt", "account_number": "0012345"}
		}
		writeFake(w, resp)

	case r.URL.Path == "/payments/verify-esewa/":
		if f.verifyCode != 0 {
			w.WriteHeader(f.verifyCode)
			writeFake(w, map[string]any{"error": "verify unavailable"})
			return
		}
		writeFake(w, map[string]any{"success": true, "payment": map[string]any{
			"transaction_uuid": body["transaction_uuid"],
			"payment_type":     "esewa",
			"amount":           body["amount"],
			"status":           "complete",
			"payment_source":   "order_placement",
			"orders":           []map[string]any{{"order_id": f.orderID, "amount_applied": body["amount"]}},
		}})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func writeFake(w http.ResponseWriter, v any) { _ = json.NewEncoder(w).Encode(v) }

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) CallsTo(path string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasSuffix(c, " "+path) {
			n++
		}
	}
	return n
}

func (f *fakeBackend) Body(path string, i int) map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bodies[path][i]
}

type harness struct {
	fake  *fakeBackend
	store *drafts.MemoryStore
	orch  *Orchestrator
}

func newHarness(t *testing.T, ordering Ordering) *harness {
	t.Helper()
	fake, client := newFakeBackend(t)
	logger := zap.NewNop().Sugar()

	manager := payments.NewDefaultManager(client, payments.NewEsewaAdapter(client, "", returnURL, ""))
	verifier := payments.NewVerifier(client, logger).WithRetryPolicy(payments.DefaultVerifyRetries, time.Millisecond)
	store := drafts.NewMemoryStore()

	return &harness{
		fake:  fake,
		store: store,
		orch:  New(ordering, store, client, manager, verifier, NewGuard(), logger),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func sampleDraft() *drafts.OrderDraft {
	return &drafts.OrderDraft{
		Branch: 3,
		CartItems: []drafts.CartItem{
			{ServiceID: 1, Name: "Wash & Iron", Quantity: 4, UnitPrice: dec("250")},
		},
		Pickup:   &drafts.Logistics{Date: "2026-03-01", Time: "09:00", Address: "Baneshwor"},
		Delivery: &drafts.Logistics{Date: "2026-03-03", Time: "09:00", Address: "Baneshwor"},
		Pricing: drafts.Pricing{
			Subtotal:     dec("1000"),
			PickupCost:   dec("100"),
			DeliveryCost: dec("100"),
			UrgentCost:   dec("0"),
			Total:        dec("1200"),
		},
	}
}

func (h *harness) putDraft(t *testing.T) *drafts.Slot {
	t.Helper()
	slot, err := h.orch.PutDraft(context.Background(), "sess", sampleDraft())
	require.NoError(t, err)
	return slot
}

func (h *harness) slot(t *testing.T) *drafts.Slot {
	t.Helper()
	slot, err := h.store.Get(context.Background(), "sess")
	require.NoError(t, err)
	return slot
}

func gatewayReturn(t *testing.T, tx, status, amount string) url.Values {
	t.Helper()
	data, err := payments.EncodeReturnPayload(payments.ReturnPayload{
		TransactionID:   tx,
		TransactionCode: "000AWEO",
		Status:          status,
		TotalAmount:     dec(amount),
	})
	require.NoError(t, err)
	return url.Values{"data": {data}}
}

type fixedStats struct {
	stats *backend.OrderStats
	calls int
}

func (f *fixedStats) OrderStats(ctx context.Context) (*backend.OrderStats, error) {
	f.calls++
	return f.stats, nil
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const maxBodyBytes = 4 << 20

// Client talks to the laundry REST backend. It performs no retries itself;
// retry policy belongs to the callers that know which calls are safe to repeat.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &NetworkError{Op: "read " + path, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &APIError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, method, path, err)
	}
	return nil
}

// errorMessage pulls a human readable reason out of an error body.
func errorMessage(raw []byte) string {
	var env struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(raw, &env) == nil {
		for _, m := range []string{env.Error, env.Message, env.Detail} {
			if m != "" {
				return m
			}
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// InitiatePayment calls POST /payments/initiate/. The returned fields are
// already signed by the backend.
func (c *Client) InitiatePayment(ctx context.Context, in InitiateRequest) (*InitiateResponse, error) {
	var dto initiateDTO
	if err := c.do(ctx, http.MethodPost, "/payments/initiate/", in, &dto); err != nil {
		return nil, err
	}
	if !dto.Success {
		return nil, &APIError{Status: http.StatusOK, Message: dto.Error}
	}
	if strings.TrimSpace(dto.TransactionUUID) == "" {
		return nil, fmt.Errorf("%w: initiate without transaction_uuid", ErrMalformedResponse)
	}

	out := &InitiateResponse{
		TransactionUUID: dto.TransactionUUID,
		EsewaURL:        dto.EsewaURL,
		BankDetails:     dto.BankDetails,
	}
	if len(dto.PaymentData) > 0 {
		out.PaymentData = make(map[string]string, len(dto.PaymentData))
		for k, v := range dto.PaymentData {
			out.PaymentData[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

// VerifyEsewa calls POST /payments/verify-esewa/. A 503 comes back as an
// *APIError matching ErrServiceUnavailable. A nil attempt with a nil error
// means the backend accepted the transaction but sent no receipt.
func (c *Client) VerifyEsewa(ctx context.Context, in VerifyRequest) (*PaymentAttempt, error) {
	var dto verifyDTO
	if err := c.do(ctx, http.MethodPost, "/payments/verify-esewa/", in, &dto); err != nil {
		return nil, err
	}
	if !dto.Success {
		return nil, &APIError{Status: http.StatusUnprocessableEntity, Message: dto.Error}
	}
	if dto.Payment == nil {
		return nil, nil
	}
	return dto.Payment.toAttempt()
}

// ProcessPayment calls POST /payments/process/{uuid}/, an idempotent receipt fetch.
func (c *Client) ProcessPayment(ctx context.Context, transactionUUID string) (*PaymentAttempt, error) {
	var dto verifyDTO
	path := "/payments/process/" + url.PathEscape(transactionUUID) + "/"
	if err := c.do(ctx, http.MethodPost, path, nil, &dto); err != nil {
		return nil, err
	}
	if !dto.Success {
		return nil, &APIError{Status: http.StatusOK, Message: dto.Error}
	}
	if dto.Payment == nil {
		return nil, fmt.Errorf("%w: process without payment", ErrMalformedResponse)
	}
	return dto.Payment.toAttempt()
}

// PaymentHistory calls GET /payments/history/.
func (c *Client) PaymentHistory(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	v := url.Values{}
	if q.Page > 0 {
		v.Set("page", fmt.Sprint(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("page_size", fmt.Sprint(q.PageSize))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.PaymentType != "" {
		v.Set("payment_type", q.PaymentType)
	}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	path := "/payments/history/"
	if enc := v.Encode(); enc != "" {
		path += "?" + enc
	}

	var dto historyDTO
	if err := c.do(ctx, http.MethodGet, path, nil, &dto); err != nil {
		return nil, err
	}
	if !dto.Success {
		return nil, &APIError{Status: http.StatusOK, Message: dto.Error}
	}
	if dto.Pagination == nil {
		return nil, fmt.Errorf("%w: history without pagination", ErrMalformedResponse)
	}

	page := &HistoryPage{Pagination: *dto.Pagination, Payments: make([]PaymentAttempt, 0, len(dto.Payments))}
	for i := range dto.Payments {
		p, err := dto.Payments[i].toAttempt()
		if err != nil {
			return nil, err
		}
		page.Payments = append(page.Payments, *p)
	}
	return page, nil
}

// OrderStats calls GET /orders/stats/.
func (c *Client) OrderStats(ctx context.Context) (*OrderStats, error) {
	var dto orderStatsDTO
	if err := c.do(ctx, http.MethodGet, "/orders/stats/", nil, &dto); err != nil {
		return nil, err
	}
	if !dto.Success {
		return nil, &APIError{Status: http.StatusOK, Message: dto.Error}
	}
	if dto.Stats == nil {
		return nil, fmt.Errorf("%w: stats missing", ErrMalformedResponse)
	}
	return &OrderStats{
		Stats:                *dto.Stats,
		PendingOrders:        dto.PendingOrders,
		BranchPendingAmounts: dto.BranchPendingAmounts,
	}, nil
}

// CreateOrder calls POST /orders/create/.
func (c *Client) CreateOrder(ctx context.Context, in OrderPayload) (*Order, error) {
	return c.orderCall(ctx, http.MethodPost, "/orders/create/", in)
}

// UpdateOrder calls PATCH /orders/{id}/update/.
func (c *Client) UpdateOrder(ctx context.Context, orderID int64, in OrderUpdate) (*Order, error) {
	return c.orderCall(ctx, http.MethodPatch, fmt.Sprintf("/orders/%d/update/", orderID), in)
}

func (c *Client) orderCall(ctx context.Context, method, path string, in any) (*Order, error) {
	var env orderEnvelope
	if err := c.do(ctx, method, path, in, &env); err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, &APIError{Status: http.StatusOK, Message: env.Error}
	}
	dto := env.Order
	if dto == nil {
		dto = env.Data
	}
	if dto == nil {
		return nil, fmt.Errorf("%w: %s without order", ErrMalformedResponse, path)
	}

	id := dto.OrderID
	if id == 0 {
		id = dto.ID
	}
	if id <= 0 {
		return nil, fmt.Errorf("%w: %s returned order without id", ErrMalformedResponse, path)
	}
	return &Order{
		OrderID:       id,
		TotalAmount:   dto.TotalAmount,
		PaymentMethod: dto.PaymentMethod,
		PaymentStatus: dto.PaymentStatus,
		Status:        dto.Status,
		BranchID:      dto.Branch,
	}, nil
}

package params

import (
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPageSize = 15
	MaxPageSize     = 50
)

// Pagination is ?page=&page_size= (?limit= is accepted for page_size).
type Pagination struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`
}

// ParsePagination never fails: bad or missing values fall back to defaults and
// page_size is clamped to MaxPageSize.
func ParsePagination(q url.Values) Pagination {
	p := Pagination{Page: 1, PageSize: DefaultPageSize}

	size := strings.TrimSpace(q.Get("page_size"))
	if size == "" {
		size = strings.TrimSpace(q.Get("limit"))
	}
	if size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			switch {
			case n <= 0:
				p.PageSize = DefaultPageSize
			case n > MaxPageSize:
				p.PageSize = MaxPageSize
			default:
				p.PageSize = n
			}
		}
	}

	if page := strings.TrimSpace(q.Get("page")); page != "" {
		if n, err := strconv.Atoi(page); err == nil && n > 0 {
			p.Page = n
		}
	}
	return p
}

var (
	paymentTypes = map[string]string{"esewa": "esewa", "wallet": "esewa", "bank": "bank", "cash": "cash"}
	statuses     = map[string]bool{"pending": true, "complete": true, "failed": true, "canceled": true}
)

// HistoryFilter is the payment history query after normalisation.
type HistoryFilter struct {
	Pagination
	Search      string `json:"search,omitempty"`
	PaymentType string `json:"payment_type,omitempty"`
	Status      string `json:"status,omitempty"`
}

// ParseHistoryFilter reads the history query. Unknown payment types and
// statuses are dropped rather than forwarded.
func ParseHistoryFilter(q url.Values) HistoryFilter {
	f := HistoryFilter{Pagination: ParsePagination(q)}

	f.Search = strings.TrimSpace(q.Get("search"))
	if len(f.Search) > 100 {
		f.Search = f.Search[:100]
	}
	if t, ok := paymentTypes[strings.ToLower(strings.TrimSpace(q.Get("payment_type")))]; ok {
		f.PaymentType = t
	}
	if s := strings.ToLower(strings.TrimSpace(q.Get("status"))); statuses[s] {
		f.Status = s
	}
	return f
}

// ParseOptionalID returns nil for an empty or non-positive id.
func ParseOptionalID(s string) *int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}

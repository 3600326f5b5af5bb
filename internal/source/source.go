// Package source defines the contract of the external transaction provider
// and an HTTP client for it.
package source

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultPageSize is the page size requested when none is configured.
const DefaultPageSize = 1000

// Request selects one page of the time window [Start, End).
type Request struct {
	Start    time.Time
	End      time.Time
	Page     int // 1-based
	PageSize int
}

// Item is a transaction as delivered by the source.
type Item struct {
	ID        string          `json:"id"`
	UserID    string          `json:"userId"`
	CreatedAt string          `json:"createdAt"` // ISO-8601
	Type      string          `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
}

// RateLimitMeta is the source's view of its own rate limit, when reported.
type RateLimitMeta struct {
	Limit          int `json:"limit"`
	Remaining      int `json:"remaining"`
	ResetInSeconds int `json:"resetInSeconds"`
}

// Meta describes the page and the whole result set.
type Meta struct {
	TotalItems   int            `json:"totalItems"`
	ItemCount    int            `json:"itemCount"`
	ItemsPerPage int            `json:"itemsPerPage"`
	TotalPages   int            `json:"totalPages"`
	CurrentPage  int            `json:"currentPage"`
	RateLimit    *RateLimitMeta `json:"rateLimit,omitempty"`
}

// Page is one page of results.
type Page struct {
	Items []Item `json:"items"`
	Meta  Meta   `json:"meta"`
}

// Source fetches pages of transactions.
// A rate-limit rejection must be reported as an error matching ErrRateLimited.
type Source interface {
	Fetch(ctx context.Context, req Request) (*Page, error)
}

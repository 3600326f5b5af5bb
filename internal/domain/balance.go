package domain

import "github.com/shopspring/decimal"

// KindTotals holds per-kind sums for one user.
type KindTotals struct {
	Earned decimal.Decimal
	Spent  decimal.Decimal
	Payout decimal.Decimal
}

// AggregatedBalance is the derived balance view for one user. Not persisted.
type AggregatedBalance struct {
	UserID  string          `json:"userId"`
	Balance decimal.Decimal `json:"balance"`
	Earned  decimal.Decimal `json:"earned"`
	Spent   decimal.Decimal `json:"spent"`
	Payout  decimal.Decimal `json:"payout"`
	PaidOut decimal.Decimal `json:"paidOut"`
}

// NewAggregatedBalance derives the balance view from kind totals.
// balance = earned - spent - payout; every payout counts as paid out.
func NewAggregatedBalance(userID string, t KindTotals) *AggregatedBalance {
	return &AggregatedBalance{
		UserID:  userID,
		Balance: t.Earned.Sub(t.Spent).Sub(t.Payout),
		Earned:  t.Earned,
		Spent:   t.Spent,
		Payout:  t.Payout,
		PaidOut: t.Payout,
	}
}

// PayoutRequest is the summed payout amount for one user.
type PayoutRequest struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

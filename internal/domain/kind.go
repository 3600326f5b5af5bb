package domain

// Kind is the category of a ledger transaction.
type Kind string

const (
	KindEarned Kind = "earned"
	KindSpent  Kind = "spent"
	KindPayout Kind = "payout"
)

// String returns the string representation of Kind.
func (k Kind) String() string {
	return string(k)
}

// IsValid checks if the kind is one of the known values.
func (k Kind) IsValid() bool {
	return k == KindEarned || k == KindSpent || k == KindPayout
}

package stub

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ledger-sync/internal/source"
)

// DefaultUserIDs are the users the generator spreads transactions over.
var DefaultUserIDs = []string{"074092", "074093", "074094", "074095", "074096"}

// Generate builds count random items between from and to with amounts in [1, 201).
// The same seed yields the same amounts, users and timestamps; ids are random.
func Generate(count int, from, to time.Time, seed int64) []source.Item {
	rng := rand.New(rand.NewSource(seed))
	kinds := []string{"earned", "spent", "payout"}
	span := to.Sub(from)

	items := make([]source.Item, 0, count)
	for i := 0; i < count; i++ {
		at := from.Add(time.Duration(rng.Int63n(int64(span))))
		cents := rng.Int63n(20000) + 100
		items = append(items, source.Item{
			ID:        uuid.NewString(),
			UserID:    DefaultUserIDs[rng.Intn(len(DefaultUserIDs))],
			CreatedAt: at.UTC().Format(time.RFC3339Nano),
			Type:      kinds[rng.Intn(len(kinds))],
			Amount:    decimal.New(cents, -2),
		})
	}
	return items
}

// Item builds a single item, for hand-written fixtures.
func Item(id, userID string, at time.Time, kind string, amount string) source.Item {
	return source.Item{
		ID:        id,
		UserID:    userID,
		CreatedAt: at.UTC().Format(time.RFC3339Nano),
		Type:      kind,
		Amount:    decimal.RequireFromString(amount),
	}
}

// SequentialItems builds n items with ids prefix-0..prefix-(n-1), one second apart from start.
func SequentialItems(prefix string, n int, start time.Time) []source.Item {
	items := make([]source.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, Item(
			fmt.Sprintf("%s-%d", prefix, i),
			DefaultUserIDs[i%len(DefaultUserIDs)],
			start.Add(time.Duration(i)*time.Second),
			"earned",
			"1",
		))
	}
	return items
}

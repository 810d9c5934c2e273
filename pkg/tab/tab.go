package tab

import (
	"slices"
	"time"
)

// Status is the lifecycle state of a Tab.
type Status string

const (
	StatusOpen   Status = "open"
	StatusFull   Status = "full"
	StatusClosed Status = "closed"
)

// DefaultLimit is the Tab limit in minor units used when the service omits one.
const DefaultLimit int64 = 500

// Tab is a user's running balance of unpaid purchases.
type Tab struct {
	ID           string
	Total        int64
	Limit        int64
	Currency     Currency
	Status       Status
	PaymentModel PaymentModel
	Purchases    []Purchase
	CreatedAt    time.Time
	UpdatedAt    time.Time
	PaidAt       *time.Time
}

// IsFull reports whether the Tab must be paid before anything else can be
// added to it.
func (t *Tab) IsFull() bool {
	if t == nil {
		return false
	}
	return t.Status == StatusFull || (t.Status != StatusClosed && t.Total >= t.Limit)
}

// Remaining is how much can still be added before the Tab is full.
func (t *Tab) Remaining() int64 {
	if t == nil {
		return DefaultLimit
	}
	if t.Total >= t.Limit {
		return 0
	}
	return t.Limit - t.Total
}

// Normalize enforces status == full exactly when total >= limit for tabs
// that are not closed, and fills in defaults for missing fields.
func (t *Tab) Normalize() {
	if t == nil {
		return
	}
	if t.Limit <= 0 {
		t.Limit = DefaultLimit
	}
	t.Currency = t.Currency.Normalize()
	if t.Status == StatusClosed {
		return
	}
	if t.Total >= t.Limit {
		t.Status = StatusFull
	} else {
		t.Status = StatusOpen
	}
}

// Clone returns a deep copy of the Tab.
func (t *Tab) Clone() *Tab {
	if t == nil {
		return nil
	}
	c := *t
	c.Purchases = make([]Purchase, len(t.Purchases))
	for i, p := range t.Purchases {
		c.Purchases[i] = p.Clone()
	}
	if t.PaidAt != nil {
		paid := *t.PaidAt
		c.PaidAt = &paid
	}
	return &c
}

// LatestPurchaseOf returns the most recent purchase of the given offering.
func (t *Tab) LatestPurchaseOf(offeringID string) (Purchase, bool) {
	if t == nil {
		return Purchase{}, false
	}
	var (
		latest Purchase
		found  bool
	)
	for _, p := range t.Purchases {
		if p.OfferingID != offeringID {
			continue
		}
		if !found || !p.PurchaseDate.Before(latest.PurchaseDate) {
			latest, found = p, true
		}
	}
	return latest.Clone(), found
}

// SortPurchases orders purchases oldest first.
func (t *Tab) SortPurchases() {
	if t == nil {
		return
	}
	slices.SortStableFunc(t.Purchases, func(a, b Purchase) int {
		return a.PurchaseDate.Compare(b.PurchaseDate)
	})
}

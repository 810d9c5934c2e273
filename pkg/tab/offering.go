package tab

import (
	"slices"
	"strconv"
	"time"
)

// PaymentModel controls when the merchant gets paid for a purchase.
type PaymentModel string

const (
	PaymentModelPayNow           PaymentModel = "pay_now"
	PaymentModelPayLater         PaymentModel = "pay_later"
	PaymentModelPayMerchantLater PaymentModel = "pay_merchant_later"
	PaymentModelPayNowRecurring  PaymentModel = "pay_now_recurring"
)

// SalesModel describes how an offering is fulfilled.
type SalesModel string

const (
	SalesModelSinglePurchase SalesModel = "single_purchase"
	SalesModelTimePass       SalesModel = "time_pass"
	SalesModelContribution   SalesModel = "contribution"
)

// Metadata is the free-form key/value bag attached to offerings and purchases.
type Metadata map[string]string

// MetadataGameCredits is the metadata key carrying the number of games an
// offering unlocks.
const MetadataGameCredits = "numGames"

// Extension is the typed, variant-specific part of an offering.
type Extension interface {
	extension()
}

// GameCredits is attached to single-purchase offerings that unlock a number
// of games.
type GameCredits struct {
	Count int
}

// TimePass is attached to offerings granting access for a bounded duration.
type TimePass struct {
	Valid time.Duration
}

func (GameCredits) extension() {}
func (TimePass) extension()    {}

// Offering is an immutable catalog entry. Two offerings are the same
// offering when their IDs match.
type Offering struct {
	ID             string
	ItemTemplateID string
	Summary        string
	Description    string
	Price          Price
	PaymentModel   PaymentModel
	SalesModel     SalesModel
	Metadata       Metadata
	Extension      Extension
}

// Equal reports whether both offerings share an identifier.
func (o Offering) Equal(other Offering) bool {
	return o.ID == other.ID
}

// IsZero reports whether the offering is unset.
func (o Offering) IsZero() bool {
	return o.ID == ""
}

// GameCredits returns the number of games this offering unlocks, if any.
func (o Offering) GameCredits() (int, bool) {
	if gc, ok := o.Extension.(GameCredits); ok {
		return gc.Count, true
	}
	return 0, false
}

// ValidDuration returns the access window of a time-pass offering.
func (o Offering) ValidDuration() (time.Duration, bool) {
	if tp, ok := o.Extension.(TimePass); ok {
		return tp.Valid, true
	}
	return 0, false
}

// Clone returns a copy that shares no mutable state with o.
func (o Offering) Clone() Offering {
	if o.Metadata != nil {
		md := make(Metadata, len(o.Metadata))
		for k, v := range o.Metadata {
			md[k] = v
		}
		o.Metadata = md
	}
	return o
}

// ExtensionFor derives the typed extension from the wire representation of
// an offering. Metadata that does not map to an extension is left alone.
func ExtensionFor(sales SalesModel, metadata Metadata, validTimedelta string) Extension {
	if sales == SalesModelTimePass && validTimedelta != "" {
		if d, err := ParseTimedelta(validTimedelta); err == nil {
			return TimePass{Valid: d}
		}
	}
	if raw, ok := metadata[MetadataGameCredits]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			return GameCredits{Count: n}
		}
	}
	return nil
}

// SortByPrice returns a copy of offerings ordered by ascending price.
// Amounts are only compared within a currency: offerings are grouped by
// currency in order of first appearance. Ties keep their original order.
func SortByPrice(offerings []Offering) []Offering {
	rank := make(map[Currency]int)
	for _, o := range offerings {
		c := o.Price.Currency.Normalize()
		if _, ok := rank[c]; !ok {
			rank[c] = len(rank)
		}
	}
	sorted := slices.Clone(offerings)
	slices.SortStableFunc(sorted, func(a, b Offering) int {
		if d := rank[a.Price.Currency.Normalize()] - rank[b.Price.Currency.Normalize()]; d != 0 {
			return d
		}
		switch {
		case a.Price.Amount < b.Price.Amount:
			return -1
		case a.Price.Amount > b.Price.Amount:
			return 1
		default:
			return 0
		}
	})
	return sorted
}

// FindOffering looks an offering up by ID.
func FindOffering(offerings []Offering, id string) (Offering, bool) {
	for _, o := range offerings {
		if o.ID == id {
			return o, true
		}
	}
	return Offering{}, false
}

package tab

import "time"

// Purchase is one completed addition to a Tab.
type Purchase struct {
	ID             string
	PurchaseDate   time.Time
	OfferingID     string
	Summary        string
	Price          Price
	SalesModel     SalesModel
	PaymentModel   PaymentModel
	Metadata       Metadata
	ContentKey     string
	ValidFrom      *time.Time
	ValidTo        *time.Time
	ValidTimedelta string
}

// Clone returns a deep copy of the purchase.
func (p Purchase) Clone() Purchase {
	if p.Metadata != nil {
		md := make(Metadata, len(p.Metadata))
		for k, v := range p.Metadata {
			md[k] = v
		}
		p.Metadata = md
	}
	if p.ValidFrom != nil {
		from := *p.ValidFrom
		p.ValidFrom = &from
	}
	if p.ValidTo != nil {
		to := *p.ValidTo
		p.ValidTo = &to
	}
	return p
}

// PurchaseFromOffering snapshots an offering as a purchase made at the given
// time. Time-pass offerings get a validity window starting at that time.
func PurchaseFromOffering(o Offering, at time.Time) Purchase {
	p := Purchase{
		PurchaseDate: at,
		OfferingID:   o.ID,
		Summary:      o.Summary,
		Price:        o.Price,
		SalesModel:   o.SalesModel,
		PaymentModel: o.PaymentModel,
		Metadata:     o.Clone().Metadata,
	}
	if d, ok := o.ValidDuration(); ok {
		from, to := at, at.Add(d)
		p.ValidFrom, p.ValidTo = &from, &to
		p.ValidTimedelta = FormatTimedelta(d)
	}
	return p
}

// PurchaseResult is what the service returns when an offering is purchased.
// ItemAdded is false when the request was a no-op, e.g. the Tab was already
// full or the request was a duplicate.
type PurchaseResult struct {
	Tab       *Tab
	ItemAdded bool
}

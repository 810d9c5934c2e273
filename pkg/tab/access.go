package tab

import "time"

// NoExpiry stands in for the validTo of a grant that never expires, so it
// orders after every real expiry.
var NoExpiry = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// AccessGrant is the result of checking one content key.
type AccessGrant struct {
	ContentKey string
	Granted    bool
	OfferingID string
	PurchaseID string
	ValidFrom  *time.Time
	ValidTo    *time.Time
}

// ActiveAt reports whether the grant permits access at t.
func (g AccessGrant) ActiveAt(t time.Time) bool {
	if !g.Granted {
		return false
	}
	return g.ValidTo == nil || t.Before(*g.ValidTo)
}

// Expiry returns ValidTo, or NoExpiry for an open-ended grant.
func (g AccessGrant) Expiry() time.Time {
	if g.ValidTo == nil {
		return NoExpiry
	}
	return *g.ValidTo
}

// ContentKey links a piece of content to the offerings that unlock it.
type ContentKey struct {
	Key            string
	ItemTemplateID string
	OfferingIDs    []string
}

// PaymentDetails are the short-lived secrets needed to present a payment
// sheet for one Tab.
type PaymentDetails struct {
	TabID          string
	ClientSecret   string
	PublishableKey string
}

// ClientConfig is the site configuration holding the offering catalog.
type ClientConfig struct {
	SiteName    string
	RedirectURI string
	TestMode    bool
	Offerings   []Offering
	ContentKeys []ContentKey
}

// AccessKeys returns the distinct keys the access fan-out should check:
// the content keys when the site defines any, the offering IDs otherwise.
func AccessKeys(offerings []Offering, contentKeys []ContentKey) []string {
	seen := make(map[string]struct{})
	var keys []string
	add := func(k string) {
		if k == "" {
			return
		}
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	if len(contentKeys) > 0 {
		for _, ck := range contentKeys {
			add(ck.Key)
		}
		return keys
	}
	for _, o := range offerings {
		add(o.ID)
	}
	return keys
}

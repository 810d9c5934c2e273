package machine

import (
	"slices"
	"time"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// State is a named state of the purchase machine.
type State string

const (
	StateNoConfig                    State = "noConfig"
	StateFetchingConfig              State = "fetchingConfig"
	StateIdle                        State = "idle"
	StateFetchingTab                 State = "fetchingTab"
	StateShowingOfferings            State = "showingOfferings"
	StateAddingToTab                 State = "addingToTab"
	StateItemAdded                   State = "itemAdded"
	StateFetchingPaymentDetails      State = "fetchingPaymentDetails"
	StatePaymentRequired             State = "paymentRequired"
	StateShowingApplePayPaymentSheet State = "showingApplePayPaymentSheet"
	StateTabPaid                     State = "tabPaid"
	StateError                       State = "error"
)

// AllStates lists every state in declaration order.
var AllStates = []State{
	StateNoConfig,
	StateFetchingConfig,
	StateIdle,
	StateFetchingTab,
	StateShowingOfferings,
	StateAddingToTab,
	StateItemAdded,
	StateFetchingPaymentDetails,
	StatePaymentRequired,
	StateShowingApplePayPaymentSheet,
	StateTabPaid,
	StateError,
}

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	return slices.Contains(AllStates, s)
}

// IsEpisodeActive reports whether a purchase episode is under way, i.e.
// whether a purchase sheet should be shown.
func IsEpisodeActive(s State) bool {
	switch s {
	case StateNoConfig, StateFetchingConfig, StateIdle:
		return false
	default:
		return s.Valid()
	}
}

// awaitingCall reports whether the state is waiting on a collaborator call
// that will post its own completion.
func awaitingCall(s State) bool {
	switch s {
	case StateFetchingConfig, StateFetchingTab, StateAddingToTab, StateFetchingPaymentDetails, StateShowingApplePayPaymentSheet:
		return true
	default:
		return false
	}
}

// Context is the data owned by the machine. Values held by pointer are
// replaced, never mutated in place, so a shallow copy is a safe snapshot
// of the pointers; use Clone to hand data to other goroutines.
type Context struct {
	SiteID string

	Offerings       []tab.Offering
	ContentKeys     []tab.ContentKey
	DefaultOffering *tab.Offering

	SelectedOffering       *tab.Offering
	Tab                    *tab.Tab
	LastOfferingAddedToTab *tab.Offering
	PaymentDetails         *tab.PaymentDetails

	IsCheckingAccess bool
	AccessValidTo    *time.Time

	ErrorMessage string
}

// IsTabFull reports whether the current tab must be paid before anything
// else can be added.
func (c Context) IsTabFull() bool {
	return c.Tab != nil && c.Tab.IsFull()
}

// AccessKeys returns the keys an access check fans out over.
func (c Context) AccessKeys() []string {
	return tab.AccessKeys(c.Offerings, c.ContentKeys)
}

// HasAccessAt reports whether the reconciled access window covers t.
func (c Context) HasAccessAt(t time.Time) bool {
	return c.AccessValidTo != nil && t.Before(*c.AccessValidTo)
}

// Clone returns a deep copy.
func (c Context) Clone() Context {
	out := c
	if c.Offerings != nil {
		out.Offerings = make([]tab.Offering, len(c.Offerings))
		for i, o := range c.Offerings {
			out.Offerings[i] = o.Clone()
		}
	}
	if c.ContentKeys != nil {
		out.ContentKeys = make([]tab.ContentKey, len(c.ContentKeys))
		for i, k := range c.ContentKeys {
			k.OfferingIDs = slices.Clone(k.OfferingIDs)
			out.ContentKeys[i] = k
		}
	}
	out.DefaultOffering = cloneOffering(c.DefaultOffering)
	out.SelectedOffering = cloneOffering(c.SelectedOffering)
	out.LastOfferingAddedToTab = cloneOffering(c.LastOfferingAddedToTab)
	out.Tab = c.Tab.Clone()
	if c.PaymentDetails != nil {
		d := *c.PaymentDetails
		out.PaymentDetails = &d
	}
	if c.AccessValidTo != nil {
		v := *c.AccessValidTo
		out.AccessValidTo = &v
	}
	return out
}

func cloneOffering(o *tab.Offering) *tab.Offering {
	if o == nil {
		return nil
	}
	c := o.Clone()
	return &c
}

// Snapshot is a read-only view of the machine published after every
// applied transition.
type Snapshot struct {
	State   State
	Context Context
	Episode uint64
}

// IsEpisodeActive is the projection of State used to show or hide the
// purchase sheet.
func (s Snapshot) IsEpisodeActive() bool {
	return IsEpisodeActive(s.State)
}

// IsTabFull reports whether the snapshot's tab is full.
func (s Snapshot) IsTabFull() bool {
	return s.Context.IsTabFull()
}

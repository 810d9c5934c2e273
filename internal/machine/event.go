package machine

import (
	"time"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// EventKind names an event for the transition table, logs and metrics.
type EventKind string

const (
	KindFetchConfig              EventKind = "fetchConfig"
	KindFetchConfigDone          EventKind = "fetchConfigDone"
	KindFetchConfigError         EventKind = "fetchConfigError"
	KindStartPurchase            EventKind = "startPurchase"
	KindFetchTabDone             EventKind = "fetchTabDone"
	KindFetchTabError            EventKind = "fetchTabError"
	KindSelectOffering           EventKind = "selectOffering"
	KindAddToTab                 EventKind = "addToTab"
	KindAddToTabDone             EventKind = "addToTabDone"
	KindAddToTabError            EventKind = "addToTabError"
	KindFetchPaymentDetailsDone  EventKind = "fetchPaymentDetailsDone"
	KindFetchPaymentDetailsError EventKind = "fetchPaymentDetailsError"
	KindShowApplePayPaymentSheet EventKind = "showApplePayPaymentSheet"
	KindApplePayDone             EventKind = "applePayDone"
	KindApplePayCanceled         EventKind = "applePayCanceled"
	KindApplePayError            EventKind = "applePayError"
	KindCheckAccess              EventKind = "checkAccess"
	KindCheckAccessDone          EventKind = "checkAccessDone"
	KindCheckAccessError         EventKind = "checkAccessError"
	KindDismiss                  EventKind = "dismiss"
	KindGenericError             EventKind = "genericError"
)

// Event is an input to the machine: a user intent or a collaborator
// completion.
type Event interface {
	Kind() EventKind
}

// FetchConfig loads the offering catalog of a site. An empty SiteID reuses
// the site the machine was configured with.
type FetchConfig struct{ SiteID string }

type FetchConfigDone struct{ Config tab.ClientConfig }

type FetchConfigError struct{ Message string }

// StartPurchase begins a purchase episode with the default offering.
type StartPurchase struct{}

// FetchTabDone carries the active tab; nil means the user has none yet.
type FetchTabDone struct{ Tab *tab.Tab }

type FetchTabError struct{ Message string }

type SelectOffering struct{ Offering tab.Offering }

// AddToTab purchases the selected offering. A zero Offering means "the
// selected one".
type AddToTab struct{ Offering tab.Offering }

type AddToTabDone struct {
	Offering  tab.Offering
	Tab       *tab.Tab
	ItemAdded bool
}

type AddToTabError struct{ Message string }

type FetchPaymentDetailsDone struct{ Details tab.PaymentDetails }

type FetchPaymentDetailsError struct{ Message string }

type ShowApplePayPaymentSheet struct{}

type ApplePayDone struct{}

type ApplePayCanceled struct{}

type ApplePayError struct{ Message string }

// CheckAccess reconciles access grants unless a check is already running.
type CheckAccess struct{}

// CheckAccessDone carries the furthest expiry among granted keys, or nil.
type CheckAccessDone struct{ ValidTo *time.Time }

type CheckAccessError struct{ Message string }

// Dismiss abandons the current episode.
type Dismiss struct{}

type GenericError struct{ Message string }

func (FetchConfig) Kind() EventKind              { return KindFetchConfig }
func (FetchConfigDone) Kind() EventKind          { return KindFetchConfigDone }
func (FetchConfigError) Kind() EventKind         { return KindFetchConfigError }
func (StartPurchase) Kind() EventKind            { return KindStartPurchase }
func (FetchTabDone) Kind() EventKind             { return KindFetchTabDone }
func (FetchTabError) Kind() EventKind            { return KindFetchTabError }
func (SelectOffering) Kind() EventKind           { return KindSelectOffering }
func (AddToTab) Kind() EventKind                 { return KindAddToTab }
func (AddToTabDone) Kind() EventKind             { return KindAddToTabDone }
func (AddToTabError) Kind() EventKind            { return KindAddToTabError }
func (FetchPaymentDetailsDone) Kind() EventKind  { return KindFetchPaymentDetailsDone }
func (FetchPaymentDetailsError) Kind() EventKind { return KindFetchPaymentDetailsError }
func (ShowApplePayPaymentSheet) Kind() EventKind { return KindShowApplePayPaymentSheet }
func (ApplePayDone) Kind() EventKind             { return KindApplePayDone }
func (ApplePayCanceled) Kind() EventKind         { return KindApplePayCanceled }
func (ApplePayError) Kind() EventKind            { return KindApplePayError }
func (CheckAccess) Kind() EventKind              { return KindCheckAccess }
func (CheckAccessDone) Kind() EventKind          { return KindCheckAccessDone }
func (CheckAccessError) Kind() EventKind         { return KindCheckAccessError }
func (Dismiss) Kind() EventKind                  { return KindDismiss }
func (GenericError) Kind() EventKind             { return KindGenericError }

// errorMessage extracts the message of failure events.
func errorMessage(ev Event) (string, bool) {
	switch e := ev.(type) {
	case FetchConfigError:
		return e.Message, true
	case FetchTabError:
		return e.Message, true
	case AddToTabError:
		return e.Message, true
	case FetchPaymentDetailsError:
		return e.Message, true
	case ApplePayError:
		return e.Message, true
	case CheckAccessError:
		return e.Message, true
	case GenericError:
		return e.Message, true
	default:
		return "", false
	}
}

func deref[T Event](p *T) Event {
	if p == nil {
		return nil
	}
	return *p
}

// normalizeEvent returns the value form of an event passed by pointer. A
// nil pointer yields nil.
func normalizeEvent(ev Event) Event {
	switch e := ev.(type) {
	case *FetchConfig:
		return deref(e)
	case *FetchConfigDone:
		return deref(e)
	case *FetchConfigError:
		return deref(e)
	case *StartPurchase:
		return deref(e)
	case *FetchTabDone:
		return deref(e)
	case *FetchTabError:
		return deref(e)
	case *SelectOffering:
		return deref(e)
	case *AddToTab:
		return deref(e)
	case *AddToTabDone:
		return deref(e)
	case *AddToTabError:
		return deref(e)
	case *FetchPaymentDetailsDone:
		return deref(e)
	case *FetchPaymentDetailsError:
		return deref(e)
	case *ShowApplePayPaymentSheet:
		return deref(e)
	case *ApplePayDone:
		return deref(e)
	case *ApplePayCanceled:
		return deref(e)
	case *ApplePayError:
		return deref(e)
	case *CheckAccess:
		return deref(e)
	case *CheckAccessDone:
		return deref(e)
	case *CheckAccessError:
		return deref(e)
	case *Dismiss:
		return deref(e)
	case *GenericError:
		return deref(e)
	default:
		return ev
	}
}

package machine

import (
	"github.com/rcourtman/supertab-client/pkg/tab"
)

// Effect is a side effect requested by a transition. The runner performs
// it off the apply path and feeds the outcome back as exactly one event.
type Effect interface {
	// episodeScoped effects are cancelled when their episode ends and their
	// completions are dropped if they arrive afterwards.
	episodeScoped() bool
	name() string
}

// FetchConfigEffect loads a site's client configuration.
type FetchConfigEffect struct{ SiteID string }

// FetchTabEffect loads the active tab.
type FetchTabEffect struct{}

// PurchaseEffect adds an offering to the tab.
type PurchaseEffect struct{ Offering tab.Offering }

// FetchPaymentDetailsEffect starts a payment for a tab.
type FetchPaymentDetailsEffect struct{ TabID string }

// CollectPaymentEffect presents the payment sheet.
type CollectPaymentEffect struct {
	Amount   int64
	Currency tab.Currency
	Details  tab.PaymentDetails
}

// CheckAccessEffect runs the access reconciliation over Keys.
type CheckAccessEffect struct{ Keys []string }

// NotifyPurchaseAddedEffect invokes the purchase-added callback.
type NotifyPurchaseAddedEffect struct{ Item AddedItem }

// AddedItem is handed to the purchase-added callback.
type AddedItem struct {
	Offering tab.Offering
	Purchase tab.Purchase
}

func (FetchConfigEffect) episodeScoped() bool         { return false }
func (FetchTabEffect) episodeScoped() bool            { return true }
func (PurchaseEffect) episodeScoped() bool            { return true }
func (FetchPaymentDetailsEffect) episodeScoped() bool { return true }
func (CollectPaymentEffect) episodeScoped() bool      { return true }
func (CheckAccessEffect) episodeScoped() bool         { return false }
func (NotifyPurchaseAddedEffect) episodeScoped() bool { return false }

func (FetchConfigEffect) name() string         { return "fetch_config" }
func (FetchTabEffect) name() string            { return "fetch_tab" }
func (PurchaseEffect) name() string            { return "purchase" }
func (FetchPaymentDetailsEffect) name() string { return "start_payment" }
func (CollectPaymentEffect) name() string      { return "collect_payment" }
func (CheckAccessEffect) name() string         { return "check_access" }
func (NotifyPurchaseAddedEffect) name() string { return "notify_purchase_added" }

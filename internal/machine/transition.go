package machine

import (
	"fmt"
	"time"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

// Rejection reasons reported when an event is recognised in the current
// state but its guard fails.
const (
	ReasonNoSiteID         = "no_site_id"
	ReasonNoDefault        = "no_default_offering"
	ReasonUnknownOffering  = "unknown_offering"
	ReasonNoSelection      = "no_selection"
	ReasonOfferingMismatch = "offering_mismatch"
	ReasonNoPaymentDetails = "no_payment_details"
)

// Rejection is returned for a guarded event whose guard failed. The state
// and context are left unchanged.
type Rejection struct {
	Reason  string
	Message string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Result is the outcome of applying one event.
type Result struct {
	State   State
	Context Context
	Effects []Effect

	// Ignored is set when no transition is defined for the event in the
	// source state. State and Context are the inputs, unchanged.
	Ignored bool
	// Rejection is set when the transition exists but its guard failed.
	Rejection *Rejection
	// Note is a diagnostic for logs.
	Note string
}

type transitionKey struct {
	from State
	kind EventKind
}

type handler func(from State, c Context, ev Event) Result

// transitions holds every state-specific (state, event) pair. Pairs not
// listed here fall through to anyState and are otherwise ignored.
var transitions = map[transitionKey]handler{
	{StateNoConfig, KindFetchConfig}: onFetchConfig,
	{StateIdle, KindFetchConfig}:     onFetchConfig,
	{StateError, KindFetchConfig}:    onFetchConfig,

	{StateFetchingConfig, KindFetchConfigDone}:  onFetchConfigDone,
	{StateFetchingConfig, KindFetchConfigError}: toError,

	{StateIdle, KindStartPurchase}: onStartPurchase,

	{StateFetchingTab, KindFetchTabDone}:  onFetchTabDone,
	{StateFetchingTab, KindFetchTabError}: toError,

	{StateShowingOfferings, KindSelectOffering}: onSelectOffering,
	{StateShowingOfferings, KindAddToTab}:       onAddToTab,

	{StateAddingToTab, KindAddToTabDone}:  onAddToTabDone,
	{StateAddingToTab, KindAddToTabError}: toError,

	{StateFetchingPaymentDetails, KindFetchPaymentDetailsDone}:  onFetchPaymentDetailsDone,
	{StateFetchingPaymentDetails, KindFetchPaymentDetailsError}: toError,

	{StatePaymentRequired, KindShowApplePayPaymentSheet}: onShowPaymentSheet,

	{StateShowingApplePayPaymentSheet, KindApplePayDone}:     onApplePayDone,
	{StateShowingApplePayPaymentSheet, KindApplePayCanceled}: onApplePayCanceled,
	{StateShowingApplePayPaymentSheet, KindApplePayError}:    toError,
}

// anyState holds transitions accepted in every state.
var anyState = map[EventKind]handler{
	KindDismiss:          onDismiss,
	KindCheckAccess:      onCheckAccess,
	KindCheckAccessDone:  onCheckAccessDone,
	KindCheckAccessError: onCheckAccessError,
	KindGenericError:     toError,
}

// Accepts reports whether ev has a transition out of s. Guards are not
// evaluated.
func Accepts(s State, kind EventKind) bool {
	if _, ok := transitions[transitionKey{s, kind}]; ok {
		return true
	}
	_, ok := anyState[kind]
	return ok
}

// Transition applies ev to (s, c) and returns the next state, the next
// context and the effects to run. It performs no I/O and does not mutate
// data reachable from c.
func Transition(s State, c Context, ev Event) Result {
	ev = normalizeEvent(ev)
	if ev == nil {
		return ignored(s, c, "nil event")
	}
	if h, ok := transitions[transitionKey{s, ev.Kind()}]; ok {
		return h(s, c, ev)
	}
	if h, ok := anyState[ev.Kind()]; ok {
		return h(s, c, ev)
	}
	return ignored(s, c, fmt.Sprintf("no transition for %s in %s", ev.Kind(), s))
}

func ignored(s State, c Context, note string) Result {
	return Result{State: s, Context: c, Ignored: true, Note: note}
}

func unexpected(s State, c Context, ev Event) Result {
	return ignored(s, c, fmt.Sprintf("unexpected %T for %s", ev, ev.Kind()))
}

func reject(s State, c Context, reason, msg string) Result {
	return Result{State: s, Context: c, Rejection: &Rejection{Reason: reason, Message: msg}}
}

func next(s State, c Context, effects ...Effect) Result {
	return Result{State: s, Context: c, Effects: effects}
}

func onFetchConfig(from State, c Context, ev Event) Result {
	e, ok := ev.(FetchConfig)
	if !ok {
		return unexpected(from, c, ev)
	}
	if e.SiteID != "" {
		c.SiteID = e.SiteID
	}
	if c.SiteID == "" {
		return reject(from, c, ReasonNoSiteID, "no site configured")
	}
	c.ErrorMessage = ""
	return next(StateFetchingConfig, c, FetchConfigEffect{SiteID: c.SiteID})
}

func onFetchConfigDone(from State, c Context, ev Event) Result {
	e, ok := ev.(FetchConfigDone)
	if !ok {
		return unexpected(from, c, ev)
	}
	c = withCatalog(c, e.Config.Offerings, e.Config.ContentKeys)
	if c.DefaultOffering == nil {
		c.ErrorMessage = "site configuration has no offerings"
		return next(StateError, c)
	}
	return checkAccess(StateIdle, c)
}

// withCatalog installs a catalog ordered by ascending price with the
// cheapest entry as default.
func withCatalog(c Context, offerings []tab.Offering, keys []tab.ContentKey) Context {
	sorted := tab.SortByPrice(offerings)
	c.Offerings = sorted
	c.ContentKeys = keys
	c.DefaultOffering = nil
	c.SelectedOffering = nil
	if len(sorted) > 0 {
		d := sorted[0].Clone()
		c.DefaultOffering = &d
	}
	return c
}

func onStartPurchase(from State, c Context, _ Event) Result {
	if c.DefaultOffering == nil {
		return reject(from, c, ReasonNoDefault, "no offerings loaded")
	}
	c.SelectedOffering = cloneOffering(c.DefaultOffering)
	c.ErrorMessage = ""
	return next(StateFetchingTab, c, FetchTabEffect{})
}

func onFetchTabDone(from State, c Context, ev Event) Result {
	e, ok := ev.(FetchTabDone)
	if !ok {
		return unexpected(from, c, ev)
	}
	c = withTab(c, e.Tab)
	if c.IsTabFull() {
		return next(StateFetchingPaymentDetails, c, FetchPaymentDetailsEffect{TabID: c.Tab.ID})
	}
	return next(StateShowingOfferings, c)
}

// withTab stores a normalized copy of t. Payment details only survive
// while they belong to the stored tab.
func withTab(c Context, t *tab.Tab) Context {
	if t == nil {
		c.Tab = nil
		c.PaymentDetails = nil
		return c
	}
	stored := t.Clone()
	stored.Normalize()
	c.Tab = stored
	if c.PaymentDetails != nil && c.PaymentDetails.TabID != stored.ID {
		c.PaymentDetails = nil
	}
	return c
}

func onSelectOffering(from State, c Context, ev Event) Result {
	e, ok := ev.(SelectOffering)
	if !ok {
		return unexpected(from, c, ev)
	}
	o, ok := tab.FindOffering(c.Offerings, e.Offering.ID)
	if !ok {
		return reject(from, c, ReasonUnknownOffering, "offering is not in the catalog")
	}
	o = o.Clone()
	c.SelectedOffering = &o
	return next(from, c)
}

func onAddToTab(from State, c Context, ev Event) Result {
	e, ok := ev.(AddToTab)
	if !ok {
		return unexpected(from, c, ev)
	}
	if c.SelectedOffering == nil {
		return reject(from, c, ReasonNoSelection, "no offering selected")
	}
	if !e.Offering.IsZero() && !e.Offering.Equal(*c.SelectedOffering) {
		return reject(from, c, ReasonOfferingMismatch,
			fmt.Sprintf("offering %s is not the selected offering %s", e.Offering.ID, c.SelectedOffering.ID))
	}
	return next(StateAddingToTab, c, PurchaseEffect{Offering: c.SelectedOffering.Clone()})
}

func onAddToTabDone(from State, c Context, ev Event) Result {
	e, ok := ev.(AddToTabDone)
	if !ok {
		return unexpected(from, c, ev)
	}
	c = withTab(c, e.Tab)
	c.SelectedOffering = nil

	var effects []Effect
	if e.ItemAdded {
		added := e.Offering.Clone()
		c.LastOfferingAddedToTab = &added
		effects = append(effects, NotifyPurchaseAddedEffect{Item: addedItem(added, c.Tab)})
	}

	to := StateItemAdded
	if c.IsTabFull() {
		to = StateFetchingPaymentDetails
		effects = append(effects, FetchPaymentDetailsEffect{TabID: c.Tab.ID})
	}
	if !e.ItemAdded {
		return next(to, c, effects...)
	}
	res := checkAccess(to, c)
	res.Effects = append(effects, res.Effects...)
	return res
}

// addedItem pairs an offering with the tab's record of buying it. When the
// tab carries no such record one is derived from the offering.
func addedItem(o tab.Offering, t *tab.Tab) AddedItem {
	if p, ok := t.LatestPurchaseOf(o.ID); ok {
		return AddedItem{Offering: o, Purchase: p}
	}
	var at time.Time
	if t != nil {
		at = t.UpdatedAt
	}
	return AddedItem{Offering: o, Purchase: tab.PurchaseFromOffering(o, at)}
}

func onFetchPaymentDetailsDone(from State, c Context, ev Event) Result {
	e, ok := ev.(FetchPaymentDetailsDone)
	if !ok {
		return unexpected(from, c, ev)
	}
	d := e.Details
	c.PaymentDetails = &d
	return next(StatePaymentRequired, c)
}

func onShowPaymentSheet(from State, c Context, _ Event) Result {
	if c.PaymentDetails == nil || c.Tab == nil {
		return reject(from, c, ReasonNoPaymentDetails, "no payment details for the current tab")
	}
	return next(StateShowingApplePayPaymentSheet, c, CollectPaymentEffect{
		Amount:   c.Tab.Total,
		Currency: c.Tab.Currency,
		Details:  *c.PaymentDetails,
	})
}

func onApplePayDone(_ State, c Context, _ Event) Result {
	c.Tab = nil
	c.SelectedOffering = nil
	c.PaymentDetails = nil
	return checkAccess(StateTabPaid, c)
}

func onApplePayCanceled(_ State, c Context, _ Event) Result {
	return next(StatePaymentRequired, c)
}

func onDismiss(_ State, c Context, _ Event) Result {
	return next(StateIdle, c)
}

func onCheckAccess(from State, c Context, _ Event) Result {
	return checkAccess(from, c)
}

// checkAccess moves to s and starts an access check unless one is already
// running.
func checkAccess(s State, c Context) Result {
	if c.IsCheckingAccess {
		res := next(s, c)
		res.Note = "access check already in flight"
		return res
	}
	c.IsCheckingAccess = true
	return next(s, c, CheckAccessEffect{Keys: c.AccessKeys()})
}

func onCheckAccessDone(from State, c Context, ev Event) Result {
	e, ok := ev.(CheckAccessDone)
	if !ok {
		return unexpected(from, c, ev)
	}
	c.IsCheckingAccess = false
	if v := e.ValidTo; v != nil {
		validTo := *v
		c.AccessValidTo = &validTo
	} else {
		c.AccessValidTo = nil
	}
	return next(from, c)
}

// onCheckAccessError records the failure. A purchase call that is still
// outstanding keeps its state so its own completion is not lost, and a
// completed purchase stays reported as completed.
func onCheckAccessError(from State, c Context, ev Event) Result {
	e, ok := ev.(CheckAccessError)
	if !ok {
		return unexpected(from, c, ev)
	}
	c.IsCheckingAccess = false
	c.ErrorMessage = e.Message
	if awaitingCall(from) || from == StateItemAdded || from == StateTabPaid {
		return next(from, c)
	}
	return next(StateError, c)
}

func toError(_ State, c Context, ev Event) Result {
	msg, _ := errorMessage(ev)
	if msg == "" {
		msg = "unknown error"
	}
	c.ErrorMessage = msg
	if ev.Kind() == KindFetchConfigError {
		c = withCatalog(c, nil, nil)
	}
	return next(StateError, c)
}

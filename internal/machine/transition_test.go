package machine

import (
	"strings"
	"testing"
	"time"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

func offering(id string, amount int64) tab.Offering {
	return tab.Offering{
		ID:           id,
		Summary:      id,
		Price:        tab.Price{Amount: amount, Currency: tab.CurrencyUSD},
		PaymentModel: tab.PaymentModel("pay_merchant_later"),
		Metadata:     tab.Metadata{"id": id},
	}
}

func testCatalog() tab.ClientConfig {
	return tab.ClientConfig{
		SiteName:  "Test",
		Offerings: []tab.Offering{offering("o200", 200), offering("o50", 50), offering("o100", 100)},
	}
}

func apply(t *testing.T, s State, c Context, ev Event) Result {
	t.Helper()
	res := Transition(s, c, ev)
	if res.Ignored {
		t.Fatalf("%s in %s was ignored: %s", ev.Kind(), s, res.Note)
	}
	if res.Rejection != nil {
		t.Fatalf("%s in %s was rejected: %v", ev.Kind(), s, res.Rejection)
	}
	return res
}

func effectsOf[T Effect](effects []Effect) []T {
	var out []T
	for _, e := range effects {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// idleContext returns the context after a successful config fetch with the
// access check completed.
func idleContext(t *testing.T) Context {
	t.Helper()
	res := apply(t, StateNoConfig, Context{}, FetchConfig{SiteID: "x"})
	res = apply(t, res.State, res.Context, FetchConfigDone{Config: testCatalog()})
	res = apply(t, res.State, res.Context, CheckAccessDone{})
	return res.Context
}

func showingOfferings(t *testing.T, total int64) Context {
	t.Helper()
	res := apply(t, StateIdle, idleContext(t), StartPurchase{})
	res = apply(t, res.State, res.Context, FetchTabDone{Tab: &tab.Tab{ID: "tab-1", Total: total, Limit: 500}})
	if res.State != StateShowingOfferings {
		t.Fatalf("state = %s, want showingOfferings", res.State)
	}
	return res.Context
}

func TestConfigBootstrap(t *testing.T) {
	res := apply(t, StateNoConfig, Context{}, FetchConfig{SiteID: "x"})
	if res.State != StateFetchingConfig {
		t.Fatalf("state = %s, want fetchingConfig", res.State)
	}
	fetches := effectsOf[FetchConfigEffect](res.Effects)
	if len(fetches) != 1 || fetches[0].SiteID != "x" {
		t.Fatalf("effects = %#v, want one fetch for site x", res.Effects)
	}

	res = apply(t, res.State, res.Context, FetchConfigDone{Config: testCatalog()})
	if res.State != StateIdle {
		t.Fatalf("state = %s, want idle", res.State)
	}
	if res.Context.DefaultOffering == nil || res.Context.DefaultOffering.Price.Amount != 50 {
		t.Fatalf("default offering = %#v, want the 50 cent offering", res.Context.DefaultOffering)
	}
	var prices []int64
	for _, o := range res.Context.Offerings {
		prices = append(prices, o.Price.Amount)
	}
	if len(prices) != 3 || prices[0] != 50 || prices[1] != 100 || prices[2] != 200 {
		t.Fatalf("offerings not sorted by price: %v", prices)
	}
	checks := effectsOf[CheckAccessEffect](res.Effects)
	if len(checks) != 1 {
		t.Fatalf("expected an automatic access check, got %#v", res.Effects)
	}
	if got := strings.Join(checks[0].Keys, ","); got != "o50,o100,o200" {
		t.Fatalf("access keys = %s", got)
	}
	if !res.Context.IsCheckingAccess {
		t.Fatal("IsCheckingAccess should be set while the check runs")
	}
}

func TestFetchConfigReusesConfiguredSite(t *testing.T) {
	res := apply(t, StateNoConfig, Context{SiteID: "site"}, FetchConfig{})
	if got := effectsOf[FetchConfigEffect](res.Effects); len(got) != 1 || got[0].SiteID != "site" {
		t.Fatalf("effects = %#v", res.Effects)
	}

	res = Transition(StateNoConfig, Context{}, FetchConfig{})
	if res.Rejection == nil || res.Rejection.Reason != ReasonNoSiteID {
		t.Fatalf("expected no_site_id rejection, got %#v", res)
	}
}

func TestFetchConfigWithoutOfferingsFails(t *testing.T) {
	res := apply(t, StateFetchingConfig, Context{SiteID: "x"}, FetchConfigDone{})
	if res.State != StateError {
		t.Fatalf("state = %s, want error", res.State)
	}
	if res.Context.ErrorMessage == "" {
		t.Fatal("expected an error message")
	}
	if len(res.Effects) != 0 {
		t.Fatalf("unexpected effects %#v", res.Effects)
	}
}

func TestFetchConfigErrorClearsCatalog(t *testing.T) {
	c := idleContext(t)
	res := apply(t, StateIdle, c, FetchConfig{})
	res = apply(t, res.State, res.Context, FetchConfigError{Message: "boom"})
	if res.State != StateError || res.Context.ErrorMessage != "boom" {
		t.Fatalf("got state %s message %q", res.State, res.Context.ErrorMessage)
	}
	if res.Context.DefaultOffering != nil || len(res.Context.Offerings) != 0 {
		t.Fatal("catalog should not survive a failed fetch")
	}

	// A retry from error is allowed.
	res = apply(t, res.State, res.Context, FetchConfig{})
	if res.State != StateFetchingConfig || res.Context.ErrorMessage != "" {
		t.Fatalf("retry: state %s message %q", res.State, res.Context.ErrorMessage)
	}
}

func TestStartPurchaseRequiresDefaultOffering(t *testing.T) {
	res := Transition(StateIdle, Context{}, StartPurchase{})
	if res.Rejection == nil || res.Rejection.Reason != ReasonNoDefault {
		t.Fatalf("expected rejection, got %#v", res)
	}
	if res.State != StateIdle || len(res.Effects) != 0 {
		t.Fatalf("rejection must not transition: %#v", res)
	}
}

func TestStartPurchaseShowsOfferingsForOpenTab(t *testing.T) {
	res := apply(t, StateIdle, idleContext(t), StartPurchase{})
	if res.State != StateFetchingTab {
		t.Fatalf("state = %s, want fetchingTab", res.State)
	}
	if len(effectsOf[FetchTabEffect](res.Effects)) != 1 {
		t.Fatalf("effects = %#v", res.Effects)
	}
	if res.Context.SelectedOffering == nil || res.Context.SelectedOffering.ID != "o50" {
		t.Fatalf("selected = %#v, want default", res.Context.SelectedOffering)
	}

	res = apply(t, res.State, res.Context, FetchTabDone{Tab: &tab.Tab{ID: "t", Total: 450, Limit: 500}})
	if res.State != StateShowingOfferings {
		t.Fatalf("state = %s, want showingOfferings", res.State)
	}
	if res.Context.Tab.Status != tab.StatusOpen {
		t.Fatalf("tab status = %s, want open", res.Context.Tab.Status)
	}
}

func TestStartPurchaseWithoutTab(t *testing.T) {
	res := apply(t, StateIdle, idleContext(t), StartPurchase{})
	res = apply(t, res.State, res.Context, FetchTabDone{})
	if res.State != StateShowingOfferings {
		t.Fatalf("state = %s, want showingOfferings", res.State)
	}
	if res.Context.Tab != nil || res.Context.PaymentDetails != nil {
		t.Fatal("no tab should be stored")
	}
}

func TestFullTabGoesStraightToPayment(t *testing.T) {
	res := apply(t, StateIdle, idleContext(t), StartPurchase{})
	res = apply(t, res.State, res.Context, FetchTabDone{Tab: &tab.Tab{ID: "t", Total: 500, Limit: 500, Status: tab.StatusOpen}})
	if res.State != StateFetchingPaymentDetails {
		t.Fatalf("state = %s, want fetchingPaymentDetails", res.State)
	}
	if res.Context.Tab.Status != tab.StatusFull {
		t.Fatalf("stored tab status = %s, want full", res.Context.Tab.Status)
	}
	fetches := effectsOf[FetchPaymentDetailsEffect](res.Effects)
	if len(fetches) != 1 || fetches[0].TabID != "t" {
		t.Fatalf("effects = %#v", res.Effects)
	}
}

func TestAddToTabFillsTab(t *testing.T) {
	c := showingOfferings(t, 450)
	hundred := offering("o100", 100)

	res := apply(t, StateShowingOfferings, c, SelectOffering{Offering: hundred})
	if res.State != StateShowingOfferings || res.Context.SelectedOffering.ID != "o100" {
		t.Fatalf("select: state %s selected %#v", res.State, res.Context.SelectedOffering)
	}

	res = apply(t, res.State, res.Context, AddToTab{Offering: hundred})
	if res.State != StateAddingToTab {
		t.Fatalf("state = %s, want addingToTab", res.State)
	}
	purchases := effectsOf[PurchaseEffect](res.Effects)
	if len(purchases) != 1 || purchases[0].Offering.ID != "o100" {
		t.Fatalf("effects = %#v", res.Effects)
	}

	full := &tab.Tab{
		ID: "tab-1", Total: 550, Limit: 500,
		Purchases: []tab.Purchase{{ID: "p1", OfferingID: "o100", PurchaseDate: time.Unix(100, 0)}},
	}
	res = apply(t, res.State, res.Context, AddToTabDone{Offering: hundred, Tab: full, ItemAdded: true})
	if res.State != StateFetchingPaymentDetails {
		t.Fatalf("state = %s, want fetchingPaymentDetails", res.State)
	}
	notes := effectsOf[NotifyPurchaseAddedEffect](res.Effects)
	if len(notes) != 1 || notes[0].Item.Offering.ID != "o100" || notes[0].Item.Purchase.ID != "p1" {
		t.Fatalf("notifications = %#v", notes)
	}
	if len(effectsOf[CheckAccessEffect](res.Effects)) != 1 {
		t.Fatalf("expected access check, effects = %#v", res.Effects)
	}
	if len(effectsOf[FetchPaymentDetailsEffect](res.Effects)) != 1 {
		t.Fatalf("expected payment details fetch, effects = %#v", res.Effects)
	}
	if res.Context.LastOfferingAddedToTab == nil || res.Context.LastOfferingAddedToTab.ID != "o100" {
		t.Fatalf("last added = %#v", res.Context.LastOfferingAddedToTab)
	}
	if res.Context.SelectedOffering != nil {
		t.Fatal("selection should be cleared after adding")
	}
}

func TestAddToTabBelowLimit(t *testing.T) {
	c := showingOfferings(t, 0)
	res := apply(t, StateShowingOfferings, c, AddToTab{})
	if got := effectsOf[PurchaseEffect](res.Effects); len(got) != 1 || got[0].Offering.ID != "o50" {
		t.Fatalf("zero offering should buy the selection, effects = %#v", res.Effects)
	}

	res = apply(t, res.State, res.Context, AddToTabDone{
		Offering:  offering("o50", 50),
		Tab:       &tab.Tab{ID: "tab-1", Total: 50, Limit: 500, UpdatedAt: time.Unix(42, 0)},
		ItemAdded: true,
	})
	if res.State != StateItemAdded {
		t.Fatalf("state = %s, want itemAdded", res.State)
	}
	notes := effectsOf[NotifyPurchaseAddedEffect](res.Effects)
	if len(notes) != 1 {
		t.Fatalf("notifications = %#v", notes)
	}
	if !notes[0].Item.Purchase.PurchaseDate.Equal(time.Unix(42, 0)) || notes[0].Item.Purchase.OfferingID != "o50" {
		t.Fatalf("derived purchase = %#v", notes[0].Item.Purchase)
	}
}

func TestAddToTabNotAdded(t *testing.T) {
	c := showingOfferings(t, 450)
	res := apply(t, StateShowingOfferings, c, AddToTab{})
	res = apply(t, res.State, res.Context, AddToTabDone{
		Offering: offering("o50", 50),
		Tab:      &tab.Tab{ID: "tab-1", Total: 500, Limit: 500},
	})
	if res.State != StateFetchingPaymentDetails {
		t.Fatalf("state = %s", res.State)
	}
	if len(effectsOf[NotifyPurchaseAddedEffect](res.Effects)) != 0 {
		t.Fatal("nothing was added, nothing should be announced")
	}
	if res.Context.LastOfferingAddedToTab != nil {
		t.Fatal("last added offering should be unset")
	}
}

func TestAddToTabGuards(t *testing.T) {
	c := showingOfferings(t, 0)

	res := Transition(StateShowingOfferings, c, AddToTab{Offering: offering("o200", 200)})
	if res.Rejection == nil || res.Rejection.Reason != ReasonOfferingMismatch {
		t.Fatalf("expected mismatch rejection, got %#v", res.Rejection)
	}

	c.SelectedOffering = nil
	res = Transition(StateShowingOfferings, c, AddToTab{})
	if res.Rejection == nil || res.Rejection.Reason != ReasonNoSelection {
		t.Fatalf("expected no-selection rejection, got %#v", res.Rejection)
	}

	res = Transition(StateShowingOfferings, c, SelectOffering{Offering: offering("nope", 1)})
	if res.Rejection == nil || res.Rejection.Reason != ReasonUnknownOffering {
		t.Fatalf("expected unknown offering rejection, got %#v", res.Rejection)
	}
}

func paymentRequired(t *testing.T) Context {
	t.Helper()
	res := apply(t, StateIdle, idleContext(t), StartPurchase{})
	res = apply(t, res.State, res.Context, FetchTabDone{Tab: &tab.Tab{ID: "tab-1", Total: 550, Limit: 500}})
	res = apply(t, res.State, res.Context, FetchPaymentDetailsDone{Details: tab.PaymentDetails{
		TabID: "tab-1", ClientSecret: "pi_1_secret_x", PublishableKey: "pk",
	}})
	if res.State != StatePaymentRequired {
		t.Fatalf("state = %s, want paymentRequired", res.State)
	}
	return res.Context
}

func TestPaymentSheetCancelKeepsTab(t *testing.T) {
	res := apply(t, StatePaymentRequired, paymentRequired(t), ShowApplePayPaymentSheet{})
	if res.State != StateShowingApplePayPaymentSheet {
		t.Fatalf("state = %s", res.State)
	}
	collects := effectsOf[CollectPaymentEffect](res.Effects)
	if len(collects) != 1 || collects[0].Amount != 550 || collects[0].Details.TabID != "tab-1" {
		t.Fatalf("effects = %#v", res.Effects)
	}

	before := res.Context
	res = apply(t, res.State, res.Context, ApplePayCanceled{})
	if res.State != StatePaymentRequired {
		t.Fatalf("state = %s, want paymentRequired", res.State)
	}
	if res.Context.Tab != before.Tab || res.Context.PaymentDetails != before.PaymentDetails {
		t.Fatal("tab and payment details must be unchanged")
	}
	if len(res.Effects) != 0 {
		t.Fatalf("unexpected effects %#v", res.Effects)
	}
}

func TestPaymentSucceeded(t *testing.T) {
	res := apply(t, StatePaymentRequired, paymentRequired(t), ShowApplePayPaymentSheet{})
	res = apply(t, res.State, res.Context, ApplePayDone{})
	if res.State != StateTabPaid {
		t.Fatalf("state = %s, want tabPaid", res.State)
	}
	if res.Context.Tab != nil || res.Context.PaymentDetails != nil || res.Context.SelectedOffering != nil {
		t.Fatalf("paid context not cleared: %#v", res.Context)
	}
	if len(effectsOf[CheckAccessEffect](res.Effects)) != 1 {
		t.Fatalf("expected access check, got %#v", res.Effects)
	}

	res = apply(t, res.State, res.Context, Dismiss{})
	if res.State != StateIdle {
		t.Fatalf("state = %s, want idle", res.State)
	}
}

func TestShowPaymentSheetRequiresDetails(t *testing.T) {
	c := paymentRequired(t)
	c.PaymentDetails = nil
	res := Transition(StatePaymentRequired, c, ShowApplePayPaymentSheet{})
	if res.Rejection == nil || res.Rejection.Reason != ReasonNoPaymentDetails {
		t.Fatalf("expected rejection, got %#v", res)
	}
}

func TestErrorEventsReachErrorState(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
	}{
		{StateFetchingConfig, FetchConfigError{Message: "m"}},
		{StateFetchingTab, FetchTabError{Message: "m"}},
		{StateAddingToTab, AddToTabError{Message: "m"}},
		{StateFetchingPaymentDetails, FetchPaymentDetailsError{Message: "m"}},
		{StateShowingApplePayPaymentSheet, ApplePayError{Message: "m"}},
		{StateIdle, GenericError{Message: "m"}},
		{StateTabPaid, GenericError{Message: "m"}},
	}
	for _, tc := range cases {
		res := apply(t, tc.from, Context{}, tc.ev)
		if res.State != StateError || res.Context.ErrorMessage != "m" {
			t.Errorf("%s in %s: state %s message %q", tc.ev.Kind(), tc.from, res.State, res.Context.ErrorMessage)
		}
	}
}

func TestDismissFromEveryState(t *testing.T) {
	c := paymentRequired(t)
	for _, s := range AllStates {
		res := apply(t, s, c, Dismiss{})
		if res.State != StateIdle {
			t.Errorf("dismiss from %s went to %s", s, res.State)
		}
		if len(res.Effects) != 0 {
			t.Errorf("dismiss from %s produced effects", s)
		}
		if res.Context.Tab != c.Tab || res.Context.PaymentDetails != c.PaymentDetails {
			t.Errorf("dismiss from %s mutated context", s)
		}
	}
}

func TestStrayEventsAreIgnored(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
	}{
		{StateIdle, FetchTabDone{}},
		{StateIdle, AddToTabDone{ItemAdded: true}},
		{StateIdle, ApplePayDone{}},
		{StateNoConfig, StartPurchase{}},
		{StateShowingOfferings, StartPurchase{}},
		{StateItemAdded, AddToTab{}},
		{StatePaymentRequired, ApplePayCanceled{}},
		{StateFetchingConfig, FetchConfig{SiteID: "x"}},
		{StateTabPaid, FetchConfigDone{Config: testCatalog()}},
	}
	c := idleContext(t)
	for _, tc := range cases {
		res := Transition(tc.from, c, tc.ev)
		if !res.Ignored {
			t.Errorf("%s in %s should be ignored", tc.ev.Kind(), tc.from)
			continue
		}
		if res.State != tc.from || len(res.Effects) != 0 {
			t.Errorf("%s in %s changed state or produced effects", tc.ev.Kind(), tc.from)
		}
		if Accepts(tc.from, tc.ev.Kind()) {
			t.Errorf("Accepts(%s, %s) = true", tc.from, tc.ev.Kind())
		}
	}
}

func TestCheckAccessIsSingleFlight(t *testing.T) {
	c := idleContext(t)
	res := apply(t, StateIdle, c, CheckAccess{})
	if len(effectsOf[CheckAccessEffect](res.Effects)) != 1 {
		t.Fatalf("first check should start a fan-out, got %#v", res.Effects)
	}
	res = apply(t, res.State, res.Context, CheckAccess{})
	if len(res.Effects) != 0 {
		t.Fatalf("second check must not start another fan-out, got %#v", res.Effects)
	}
	if !res.Context.IsCheckingAccess {
		t.Fatal("flag should still be set")
	}

	validTo := time.Unix(1000, 0)
	res = apply(t, res.State, res.Context, CheckAccessDone{ValidTo: &validTo})
	if res.State != StateIdle || res.Context.IsCheckingAccess {
		t.Fatalf("done: state %s checking %v", res.State, res.Context.IsCheckingAccess)
	}
	if !res.Context.AccessValidTo.Equal(validTo) {
		t.Fatalf("validTo = %v", res.Context.AccessValidTo)
	}
	if !res.Context.HasAccessAt(time.Unix(999, 0)) || res.Context.HasAccessAt(time.Unix(1000, 0)) {
		t.Fatal("HasAccessAt disagrees with validTo")
	}

	res = apply(t, res.State, res.Context, CheckAccess{})
	if len(effectsOf[CheckAccessEffect](res.Effects)) != 1 {
		t.Fatal("a new check may start once the previous one finished")
	}
}

func TestCheckAccessDuringEpisodeKeepsState(t *testing.T) {
	c := showingOfferings(t, 0)
	res := apply(t, StateShowingOfferings, c, CheckAccess{})
	if res.State != StateShowingOfferings {
		t.Fatalf("state = %s", res.State)
	}
	res = apply(t, res.State, res.Context, CheckAccessDone{})
	if res.State != StateShowingOfferings || res.Context.AccessValidTo != nil {
		t.Fatalf("state %s validTo %v", res.State, res.Context.AccessValidTo)
	}
}

func TestCheckAccessError(t *testing.T) {
	for _, s := range []State{StateFetchingTab, StateAddingToTab, StateFetchingPaymentDetails, StateShowingApplePayPaymentSheet} {
		res := apply(t, s, Context{IsCheckingAccess: true}, CheckAccessError{Message: "down"})
		if res.State != s {
			t.Errorf("check failure in %s moved to %s", s, res.State)
		}
		if res.Context.IsCheckingAccess || res.Context.ErrorMessage != "down" {
			t.Errorf("check failure in %s: %#v", s, res.Context)
		}
	}
	res := apply(t, StateIdle, Context{IsCheckingAccess: true}, CheckAccessError{Message: "down"})
	if res.State != StateError {
		t.Fatalf("state = %s, want error", res.State)
	}
}

func TestCheckAccessErrorAfterCompletedPurchase(t *testing.T) {
	for _, s := range []State{StateItemAdded, StateTabPaid} {
		res := apply(t, s, Context{IsCheckingAccess: true}, CheckAccessError{Message: "down"})
		if res.State != s {
			t.Errorf("check failure in %s moved to %s", s, res.State)
		}
		if res.Context.IsCheckingAccess || res.Context.ErrorMessage != "down" {
			t.Errorf("check failure in %s: %#v", s, res.Context)
		}
	}
}

func TestStoredTabIsNormalized(t *testing.T) {
	cases := []struct {
		total, limit int64
		status       tab.Status
		want         tab.Status
	}{
		{100, 500, tab.StatusFull, tab.StatusOpen},
		{500, 500, tab.StatusOpen, tab.StatusFull},
		{600, 500, "", tab.StatusFull},
		{600, 500, tab.StatusClosed, tab.StatusClosed},
	}
	for _, tc := range cases {
		in := &tab.Tab{ID: "t", Total: tc.total, Limit: tc.limit, Status: tc.status}
		res := apply(t, StateFetchingTab, Context{}, FetchTabDone{Tab: in})
		if res.Context.Tab.Status != tc.want {
			t.Errorf("total %d limit %d status %q stored as %q, want %q",
				tc.total, tc.limit, tc.status, res.Context.Tab.Status, tc.want)
		}
		if in.Status != tc.status {
			t.Error("Transition mutated the event's tab")
		}
	}
}

func TestPaymentDetailsFollowTab(t *testing.T) {
	c := paymentRequired(t)
	res := apply(t, StateFetchingTab, c, FetchTabDone{Tab: &tab.Tab{ID: "other", Total: 0, Limit: 500}})
	if res.Context.PaymentDetails != nil {
		t.Fatal("payment details of another tab must be dropped")
	}
	res = apply(t, StateFetchingTab, c, FetchTabDone{Tab: &tab.Tab{ID: "tab-1", Total: 550, Limit: 500}})
	if res.Context.PaymentDetails == nil {
		t.Fatal("payment details of the same tab should be kept")
	}
}

func TestIsEpisodeActive(t *testing.T) {
	for _, s := range AllStates {
		want := s != StateNoConfig && s != StateFetchingConfig && s != StateIdle
		if got := IsEpisodeActive(s); got != want {
			t.Errorf("IsEpisodeActive(%s) = %v, want %v", s, got, want)
		}
	}
	if IsEpisodeActive(State("bogus")) {
		t.Error("unknown states are not episodes")
	}
}

func TestContextCloneIsDeep(t *testing.T) {
	c := paymentRequired(t)
	validTo := time.Unix(5, 0)
	c.AccessValidTo = &validTo
	cp := c.Clone()

	cp.Tab.Total = 1
	cp.Offerings[0].Metadata["id"] = "changed"
	cp.DefaultOffering.Metadata["id"] = "changed"
	cp.PaymentDetails.ClientSecret = "changed"
	*cp.AccessValidTo = time.Unix(6, 0)

	if c.Tab.Total == 1 || c.Offerings[0].Metadata["id"] == "changed" ||
		c.DefaultOffering.Metadata["id"] == "changed" || c.PaymentDetails.ClientSecret == "changed" ||
		!c.AccessValidTo.Equal(validTo) {
		t.Fatal("clone shares state with the original")
	}
}

// foreignEvent claims the kind of a payload-carrying event without being one.
type foreignEvent struct{ kind EventKind }

func (f foreignEvent) Kind() EventKind { return f.kind }

func TestPointerEventsAreAccepted(t *testing.T) {
	c := showingOfferings(t, 0)
	res := apply(t, StateShowingOfferings, c, &AddToTab{Offering: *c.SelectedOffering})
	if res.State != StateAddingToTab {
		t.Fatalf("state = %s, want addingToTab", res.State)
	}

	validTo := time.Unix(100, 0)
	res = apply(t, StateIdle, Context{IsCheckingAccess: true}, &CheckAccessDone{ValidTo: &validTo})
	if res.Context.AccessValidTo == nil || !res.Context.AccessValidTo.Equal(validTo) {
		t.Fatalf("validTo = %v", res.Context.AccessValidTo)
	}

	res = Transition(StateShowingOfferings, c, (*AddToTab)(nil))
	if !res.Ignored || res.State != StateShowingOfferings {
		t.Fatalf("nil pointer event: %#v", res)
	}
}

func TestMismatchedEventPayloadIsIgnored(t *testing.T) {
	c := showingOfferings(t, 0)
	cases := []struct {
		from State
		c    Context
		kind EventKind
	}{
		{StateNoConfig, Context{}, KindFetchConfig},
		{StateFetchingConfig, Context{}, KindFetchConfigDone},
		{StateFetchingTab, c, KindFetchTabDone},
		{StateShowingOfferings, c, KindSelectOffering},
		{StateShowingOfferings, c, KindAddToTab},
		{StateAddingToTab, c, KindAddToTabDone},
		{StateFetchingPaymentDetails, c, KindFetchPaymentDetailsDone},
		{StateIdle, Context{IsCheckingAccess: true}, KindCheckAccessDone},
		{StateIdle, Context{IsCheckingAccess: true}, KindCheckAccessError},
	}
	for _, tc := range cases {
		res := Transition(tc.from, tc.c, foreignEvent{kind: tc.kind})
		if !res.Ignored || res.State != tc.from {
			t.Errorf("%s in %s: ignored=%v state=%s", tc.kind, tc.from, res.Ignored, res.State)
		}
		if !strings.Contains(res.Note, "foreignEvent") {
			t.Errorf("%s in %s: note %q does not name the payload type", tc.kind, tc.from, res.Note)
		}
	}
}

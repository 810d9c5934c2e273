package machine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	apierrors "github.com/rcourtman/supertab-client/internal/errors"
	"github.com/rcourtman/supertab-client/internal/metrics"
	"github.com/rcourtman/supertab-client/internal/mock"
	"github.com/rcourtman/supertab-client/internal/payment"
	"github.com/rcourtman/supertab-client/pkg/tab"
)

const waitFor = 2 * time.Second

func startMachine(t *testing.T, deps Deps, opts Options) *Machine {
	t.Helper()
	m := New(deps, opts)
	go func() { _ = m.Run(context.Background()) }()
	t.Cleanup(m.Close)
	return m
}

func waitForState(t *testing.T, m *Machine, want State) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return m.Status().State == want }, waitFor, 5*time.Millisecond,
		"machine did not reach %s", want)
	return m.Status()
}

func waitForAccessCheck(t *testing.T, m *Machine) Snapshot {
	t.Helper()
	require.Eventually(t, func() bool { return !m.Status().Context.IsCheckingAccess }, waitFor, 5*time.Millisecond)
	return m.Status()
}

func send(t *testing.T, m *Machine, ev Event) {
	t.Helper()
	require.NoError(t, m.Send(ev))
}

// fakeBackend answers every call from canned data. Tab fetches are handed
// to the test through tabCalls so it can control their timing.
type fakeBackend struct {
	config   tab.ClientConfig
	grants   map[string]tab.AccessGrant
	tabCalls chan tabCall

	checkGate  chan struct{}
	checkCalls atomic.Int32
}

type tabCall struct {
	reply chan *tab.Tab
}

func (f *fakeBackend) FetchActiveTab(ctx context.Context) (*tab.Tab, error) {
	call := tabCall{reply: make(chan *tab.Tab)}
	f.tabCalls <- call
	// The answer is awaited regardless of ctx to model a late response.
	return <-call.reply, nil
}

func (f *fakeBackend) FetchClientConfig(context.Context, string) (tab.ClientConfig, error) {
	return f.config, nil
}

func (f *fakeBackend) Purchase(context.Context, string, tab.Metadata) (tab.PurchaseResult, error) {
	return tab.PurchaseResult{}, errors.New("not implemented")
}

func (f *fakeBackend) StartPayment(context.Context, string) (tab.PaymentDetails, error) {
	return tab.PaymentDetails{}, errors.New("not implemented")
}

func (f *fakeBackend) CheckAccess(ctx context.Context, key string) (tab.AccessGrant, error) {
	f.checkCalls.Add(1)
	if f.checkGate != nil {
		select {
		case <-f.checkGate:
		case <-ctx.Done():
			return tab.AccessGrant{}, ctx.Err()
		}
	}
	return f.grants[key], nil
}

func TestMachinePurchaseAndPay(t *testing.T) {
	backend := mock.NewBackend(mock.Options{Limit: 150})
	sheet := &payment.Sheet{}

	var (
		mu    sync.Mutex
		added []AddedItem
	)
	m := startMachine(t, Deps{
		Backend:  backend,
		Payments: backend.PaymentProvider(sheet),
		OnPurchaseAdded: func(item AddedItem) {
			mu.Lock()
			defer mu.Unlock()
			added = append(added, item)
		},
	}, Options{SiteID: mock.SitePayPerGame})

	send(t, m, FetchConfig{})
	snap := waitForState(t, m, StateIdle)
	require.Equal(t, int64(50), snap.Context.DefaultOffering.Price.Amount)
	require.False(t, snap.IsEpisodeActive())
	waitForAccessCheck(t, m)

	// One game fits on the tab.
	send(t, m, StartPurchase{})
	waitForState(t, m, StateShowingOfferings)
	send(t, m, AddToTab{})
	snap = waitForState(t, m, StateItemAdded)
	require.Equal(t, int64(50), snap.Context.Tab.Total)
	require.True(t, snap.IsEpisodeActive())

	send(t, m, Dismiss{})
	waitForState(t, m, StateIdle)

	// Two more games fill it.
	send(t, m, StartPurchase{})
	snap = waitForState(t, m, StateShowingOfferings)
	two, ok := tab.FindOffering(snap.Context.Offerings, "poc.ios.pay-per-game.2-games")
	require.True(t, ok)
	send(t, m, SelectOffering{Offering: two})
	send(t, m, AddToTab{Offering: two})
	snap = waitForState(t, m, StatePaymentRequired)
	require.True(t, snap.IsTabFull())
	require.NotNil(t, snap.Context.PaymentDetails)
	require.Equal(t, snap.Context.Tab.ID, snap.Context.PaymentDetails.TabID)

	send(t, m, ShowApplePayPaymentSheet{})
	waitForState(t, m, StateShowingApplePayPaymentSheet)
	require.Eventually(t, func() bool { _, ok := sheet.Pending(); return ok }, waitFor, 5*time.Millisecond)
	req, _ := sheet.Pending()
	require.Equal(t, int64(150), req.Amount)
	require.NoError(t, sheet.Resolve(true))

	snap = waitForState(t, m, StateTabPaid)
	require.Nil(t, snap.Context.Tab)
	require.Nil(t, snap.Context.PaymentDetails)

	tabNow, err := backend.FetchActiveTab(context.Background())
	require.NoError(t, err)
	require.Nil(t, tabNow, "paid tab should be closed")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(added) == 2
	}, waitFor, 5*time.Millisecond)
	mu.Lock()
	require.Equal(t, "poc.ios.pay-per-game.1-game", added[0].Offering.ID)
	require.Equal(t, "poc.ios.pay-per-game.2-games", added[1].Offering.ID)
	require.NotEmpty(t, added[1].Purchase.ID)
	mu.Unlock()
}

func TestMachinePaymentSheetCanceled(t *testing.T) {
	backend := mock.NewBackend(mock.Options{Limit: 50})
	sheet := &payment.Sheet{}
	m := startMachine(t, Deps{Backend: backend, Payments: backend.PaymentProvider(sheet)},
		Options{SiteID: mock.SitePayPerGame})

	send(t, m, FetchConfig{})
	waitForState(t, m, StateIdle)
	send(t, m, StartPurchase{})
	waitForState(t, m, StateShowingOfferings)
	send(t, m, AddToTab{})
	before := waitForState(t, m, StatePaymentRequired)

	send(t, m, ShowApplePayPaymentSheet{})
	require.Eventually(t, func() bool { _, ok := sheet.Pending(); return ok }, waitFor, 5*time.Millisecond)
	require.NoError(t, sheet.Resolve(false))

	after := waitForState(t, m, StatePaymentRequired)
	require.Equal(t, before.Context.Tab, after.Context.Tab)
	require.Equal(t, before.Context.PaymentDetails, after.Context.PaymentDetails)
}

func TestMachineCollaboratorFailure(t *testing.T) {
	backend := mock.NewBackend(mock.Options{})
	m := startMachine(t, Deps{Backend: backend}, Options{SiteID: mock.SitePayPerGame})

	send(t, m, FetchConfig{})
	waitForState(t, m, StateIdle)
	waitForAccessCheck(t, m)

	backend.FailNext("fetch_tab", apierrors.WrapStatusError("fetch_tab", "mock://tapi/v1/tabs", 500, []byte("down")))
	send(t, m, StartPurchase{})
	snap := waitForState(t, m, StateError)
	require.Contains(t, snap.Context.ErrorMessage, "500")

	send(t, m, Dismiss{})
	waitForState(t, m, StateIdle)
	send(t, m, StartPurchase{})
	waitForState(t, m, StateShowingOfferings)
}

func TestMachineUnknownSite(t *testing.T) {
	m := startMachine(t, Deps{Backend: mock.NewBackend(mock.Options{})}, Options{SiteID: "nope"})
	send(t, m, FetchConfig{})
	snap := waitForState(t, m, StateError)
	require.NotEmpty(t, snap.Context.ErrorMessage)
	require.Nil(t, snap.Context.DefaultOffering)
}

func TestMachineDropsStaleCompletions(t *testing.T) {
	backend := &fakeBackend{tabCalls: make(chan tabCall)}
	cfg := testCatalog()
	m := startMachine(t, Deps{Backend: backend}, Options{Catalog: &cfg})
	waitForAccessCheck(t, m)

	send(t, m, StartPurchase{})
	first := <-backend.tabCalls
	send(t, m, Dismiss{})
	waitForState(t, m, StateIdle)

	send(t, m, StartPurchase{})
	second := <-backend.tabCalls
	require.Equal(t, StateFetchingTab, m.Status().State)

	stale := testutil.ToFloat64(metrics.StaleCompletionsTotal)
	first.reply <- &tab.Tab{ID: "old", Total: 500, Limit: 500}
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.StaleCompletionsTotal) == stale+1
	}, waitFor, 5*time.Millisecond)
	require.Equal(t, StateFetchingTab, m.Status().State, "late result of a dismissed episode must not apply")

	second.reply <- &tab.Tab{ID: "new", Total: 0, Limit: 500}
	snap := waitForState(t, m, StateShowingOfferings)
	require.Equal(t, "new", snap.Context.Tab.ID)
}

func TestMachineSingleAccessFanOut(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{checkGate: gate}
	cfg := testCatalog()
	m := startMachine(t, Deps{Backend: backend}, Options{Catalog: &cfg})

	require.Eventually(t, func() bool { return backend.checkCalls.Load() == 3 }, waitFor, 5*time.Millisecond)
	require.True(t, m.Status().Context.IsCheckingAccess)
	send(t, m, CheckAccess{})
	send(t, m, CheckAccess{})
	close(gate)

	waitForAccessCheck(t, m)
	require.Equal(t, int32(3), backend.checkCalls.Load(), "repeated checks must not start another fan-out")
}

func TestMachineReconcilesAccess(t *testing.T) {
	t1 := time.Now().Add(time.Hour).Truncate(time.Second)
	t2 := t1.Add(time.Hour)
	backend := &fakeBackend{grants: map[string]tab.AccessGrant{
		"o50":  {ContentKey: "o50", Granted: true, ValidTo: &t1},
		"o100": {ContentKey: "o100", Granted: true, ValidTo: &t2},
		"o200": {ContentKey: "o200"},
	}}
	cfg := testCatalog()
	m := startMachine(t, Deps{Backend: backend}, Options{Catalog: &cfg})

	require.Eventually(t, func() bool {
		c := m.Status().Context
		return c.AccessValidTo != nil && !c.IsCheckingAccess
	}, waitFor, 5*time.Millisecond)
	require.True(t, m.Status().Context.AccessValidTo.Equal(t2))
	require.Equal(t, StateIdle, m.Status().State)
}

func TestMachineNotificationPanicIsContained(t *testing.T) {
	backend := mock.NewBackend(mock.Options{})
	var calls atomic.Int32
	m := startMachine(t, Deps{
		Backend: backend,
		OnPurchaseAdded: func(AddedItem) {
			calls.Add(1)
			panic("boom")
		},
	}, Options{SiteID: mock.SitePayForAccess})

	send(t, m, FetchConfig{})
	waitForState(t, m, StateIdle)
	waitForAccessCheck(t, m)
	send(t, m, StartPurchase{})
	waitForState(t, m, StateShowingOfferings)
	send(t, m, AddToTab{})
	waitForState(t, m, StateItemAdded)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, waitFor, 5*time.Millisecond)
	snap := waitForAccessCheck(t, m)
	require.NotNil(t, snap.Context.AccessValidTo, "time pass should grant access")
	require.True(t, snap.Context.HasAccessAt(time.Now()))

	send(t, m, Dismiss{})
	waitForState(t, m, StateIdle)
	require.Equal(t, int32(1), calls.Load())
}

func TestMachineSubscribe(t *testing.T) {
	cfg := testCatalog()
	m := New(Deps{Backend: &fakeBackend{}}, Options{Catalog: &cfg})
	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()
	go func() { _ = m.Run(context.Background()) }()
	t.Cleanup(m.Close)

	select {
	case snap := <-updates:
		require.Equal(t, StateIdle, snap.State)
	case <-time.After(waitFor):
		t.Fatal("no snapshot published")
	}
}

func TestMachineLifecycle(t *testing.T) {
	m := New(Deps{}, Options{})
	require.Equal(t, StateNoConfig, m.Status().State)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		m.mu.RLock()
		defer m.mu.RUnlock()
		return m.cancel != nil
	}, waitFor, 5*time.Millisecond)
	require.ErrorIs(t, m.Run(ctx), ErrAlreadyRunning)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
	}
	require.ErrorIs(t, m.Send(Dismiss{}), ErrStopped)
}

func TestMachineAcceptsPointerEvents(t *testing.T) {
	backend := mock.NewBackend(mock.Options{})
	m := startMachine(t, Deps{Backend: backend}, Options{SiteID: mock.SitePayPerGame})

	require.Error(t, m.Send((*FetchConfig)(nil)))
	send(t, m, &FetchConfig{})
	waitForState(t, m, StateIdle)
	waitForAccessCheck(t, m)

	send(t, m, &StartPurchase{})
	waitForState(t, m, StateShowingOfferings)
	send(t, m, &AddToTab{})
	snap := waitForState(t, m, StateItemAdded)
	require.Equal(t, int64(50), snap.Context.Tab.Total)
}

func TestMachineWithoutBackend(t *testing.T) {
	m := startMachine(t, Deps{}, Options{SiteID: "x"})
	send(t, m, FetchConfig{})
	snap := waitForState(t, m, StateError)
	require.Contains(t, snap.Context.ErrorMessage, "no backend")
}

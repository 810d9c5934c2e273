package access

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rcourtman/supertab-client/pkg/tab"
)

type fakeChecker struct {
	grants map[string]tab.AccessGrant
	errs   map[string]error
	calls  atomic.Int32

	mu        sync.Mutex
	cancelled []string
}

func (f *fakeChecker) CheckAccess(ctx context.Context, key string) (tab.AccessGrant, error) {
	f.calls.Add(1)
	if err, ok := f.errs[key]; ok {
		return tab.AccessGrant{}, err
	}
	if key == "slow" {
		select {
		case <-ctx.Done():
			f.mu.Lock()
			f.cancelled = append(f.cancelled, key)
			f.mu.Unlock()
			return tab.AccessGrant{}, ctx.Err()
		case <-time.After(5 * time.Second):
		}
	}
	return f.grants[key], nil
}

func ptr(t time.Time) *time.Time { return &t }

func TestReconcilePicksFurthestGrantedValidTo(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)

	checker := &fakeChecker{grants: map[string]tab.AccessGrant{
		"A": {ContentKey: "A", Granted: true, ValidTo: ptr(t1)},
		"B": {ContentKey: "B", Granted: true, ValidTo: ptr(t2)},
		"C": {ContentKey: "C", Granted: false, ValidTo: ptr(t3)},
	}}

	got, err := Reconcile(context.Background(), checker, []string{"A", "B", "C"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got == nil || !got.Equal(t2) {
		t.Fatalf("validTo = %v, want %v", got, t2)
	}
	if checker.calls.Load() != 3 {
		t.Fatalf("calls = %d, want one per key", checker.calls.Load())
	}
}

func TestReconcileNothingGranted(t *testing.T) {
	checker := &fakeChecker{grants: map[string]tab.AccessGrant{
		"A": {ContentKey: "A"},
	}}
	got, err := Reconcile(context.Background(), checker, []string{"A", "B"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got != nil {
		t.Fatalf("validTo = %v, want nil", got)
	}
}

func TestReconcileNoKeys(t *testing.T) {
	checker := &fakeChecker{}
	got, err := Reconcile(context.Background(), checker, nil)
	if err != nil || got != nil {
		t.Fatalf("got %v, %v", got, err)
	}
	if checker.calls.Load() != 0 {
		t.Fatal("expected no calls")
	}
}

func TestReconcileFailsFast(t *testing.T) {
	boom := errors.New("boom")
	checker := &fakeChecker{
		grants: map[string]tab.AccessGrant{"A": {Granted: true, ValidTo: ptr(time.Now())}},
		errs:   map[string]error{"B": boom},
	}

	start := time.Now()
	got, err := Reconcile(context.Background(), checker, []string{"A", "B", "slow"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if got != nil {
		t.Fatal("partial results must not be reported")
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("failure did not cancel the remaining checks")
	}
	checker.mu.Lock()
	defer checker.mu.Unlock()
	if len(checker.cancelled) != 1 {
		t.Fatalf("cancelled = %v", checker.cancelled)
	}
}

func TestLatestValidToOpenEndedGrantWins(t *testing.T) {
	t1 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	got := LatestValidTo([]tab.AccessGrant{
		{Granted: true},
		{Granted: true, ValidTo: ptr(t1)},
	})
	if got == nil || !got.Equal(tab.NoExpiry) {
		t.Fatalf("got %v, want no expiry", got)
	}
}

func TestReconcileOnlyOpenEndedGrant(t *testing.T) {
	checker := &fakeChecker{grants: map[string]tab.AccessGrant{
		"a": {ContentKey: "a", Granted: true},
		"b": {ContentKey: "b"},
	}}
	got, err := Reconcile(context.Background(), checker, []string{"a", "b"})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if got == nil || !got.Equal(tab.NoExpiry) {
		t.Fatalf("got %v, want no expiry", got)
	}
	if !time.Now().Before(*got) {
		t.Fatal("open-ended grant must keep access active")
	}
}

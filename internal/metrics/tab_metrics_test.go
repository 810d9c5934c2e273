package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordTransition(t *testing.T) {
	before := testutil.ToFloat64(TransitionsTotal.WithLabelValues("idle", "fetchingTab", "startPurchase"))
	RecordTransition("idle", "fetchingTab", "startPurchase")
	after := testutil.ToFloat64(TransitionsTotal.WithLabelValues("idle", "fetchingTab", "startPurchase"))
	if after != before+1 {
		t.Fatalf("transitions counter = %v, want %v", after, before+1)
	}
}

func TestRecordIgnoredEvent(t *testing.T) {
	before := testutil.ToFloat64(IgnoredEventsTotal.WithLabelValues("idle", "applePayDone"))
	RecordIgnoredEvent("idle", "applePayDone")
	if got := testutil.ToFloat64(IgnoredEventsTotal.WithLabelValues("idle", "applePayDone")); got != before+1 {
		t.Fatalf("ignored counter = %v", got)
	}
}

func TestAccessChecksInFlightGauge(t *testing.T) {
	before := testutil.ToFloat64(AccessChecksInFlight)
	AccessCheckStarted()
	if got := testutil.ToFloat64(AccessChecksInFlight); got != before+1 {
		t.Fatalf("gauge = %v after start", got)
	}
	AccessCheckFinished()
	if got := testutil.ToFloat64(AccessChecksInFlight); got != before {
		t.Fatalf("gauge = %v after finish", got)
	}
}

func TestRecordCollaboratorCall(t *testing.T) {
	// Should not panic
	RecordCollaboratorCall("fetch_tab", OutcomeSuccess, time.Now().Add(-time.Second))
	RecordCollaboratorCall("purchase", OutcomeError, time.Now())
}

func TestRecordEffect(t *testing.T) {
	before := testutil.CollectAndCount(EffectDuration)
	RecordEffect("check_access_test", OutcomeCanceled, time.Now())
	if got := testutil.CollectAndCount(EffectDuration); got != before+1 {
		t.Fatalf("series count = %d, want %d", got, before+1)
	}
}

func TestRecordRejectionAndStale(t *testing.T) {
	// Should not panic
	RecordRejection("no_selection")
	RecordStaleCompletion()
	RecordPurchaseAdded()
}

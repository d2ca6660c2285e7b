package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew(t *testing.T) {
	m := New()
	if m == nil {
		t.Fatal("New() returned nil")
	}

	if m.Registry() == nil {
		t.Error("Registry() returned nil")
	}

	if m.BroadcastsTotal == nil {
		t.Error("BroadcastsTotal is nil")
	}
	if m.DeliveriesTotal == nil {
		t.Error("DeliveriesTotal is nil")
	}
	if m.APIRequestsTotal == nil {
		t.Error("APIRequestsTotal is nil")
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	// Must not panic
	m.RunStarted()
	m.RunFinished("completed", time.Second)
	m.ObserveDelivery("telegram", "sent", time.Millisecond)
	m.IncRecipients(true)
	m.IncRenderErrors()
}

func TestRunLifecycle(t *testing.T) {
	m := New()

	m.RunStarted()
	m.RunStarted()
	if got := testutil.ToFloat64(m.BroadcastsActive); got != 2 {
		t.Errorf("expected 2 active runs, got %f", got)
	}

	m.RunFinished("completed", 3*time.Second)
	m.RunFinished("failed", time.Second)

	if got := testutil.ToFloat64(m.BroadcastsActive); got != 0 {
		t.Errorf("expected 0 active runs, got %f", got)
	}
	if got := testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("completed")); got != 1 {
		t.Errorf("expected 1 completed run, got %f", got)
	}
	if got := testutil.ToFloat64(m.BroadcastsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed run, got %f", got)
	}
}

func TestObserveDelivery(t *testing.T) {
	m := New()

	m.ObserveDelivery("telegram", "sent", 10*time.Millisecond)
	m.ObserveDelivery("telegram", "sent", 20*time.Millisecond)
	m.ObserveDelivery("email", "failed", time.Second)

	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("telegram", "sent")); got != 2 {
		t.Errorf("expected 2 telegram deliveries, got %f", got)
	}
	if got := testutil.ToFloat64(m.DeliveriesTotal.WithLabelValues("email", "failed")); got != 1 {
		t.Errorf("expected 1 failed email, got %f", got)
	}
	if got := testutil.CollectAndCount(m.SendDurationSeconds); got != 2 {
		t.Errorf("expected 2 duration series, got %d", got)
	}
}

func TestIncRecipients(t *testing.T) {
	m := New()

	m.IncRecipients(true)
	m.IncRecipients(false)
	m.IncRecipients(true)
	m.IncRenderErrors()

	if got := testutil.ToFloat64(m.RecipientsTotal.WithLabelValues("sent")); got != 2 {
		t.Errorf("expected 2 sent recipients, got %f", got)
	}
	if got := testutil.ToFloat64(m.RecipientsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed recipient, got %f", got)
	}
	if got := testutil.ToFloat64(m.RenderErrorsTotal); got != 1 {
		t.Errorf("expected 1 render error, got %f", got)
	}
}

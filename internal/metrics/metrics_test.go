package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}
	if m.InvoicesCreatedTotal == nil {
		t.Error("InvoicesCreatedTotal should be initialized")
	}
	if m.VerificationsTotal == nil {
		t.Error("VerificationsTotal should be initialized")
	}
	if m.ForwardAttemptsTotal == nil {
		t.Error("ForwardAttemptsTotal should be initialized")
	}
}

func TestObserveInvoiceLifecycle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveInvoiceCreated("getTransaction")
	m.ObserveInvoiceConsumed("getTransaction")
	m.ObserveInvoiceStoreError("mark_used", "redis")

	created := promtest.ToFloat64(m.InvoicesCreatedTotal.WithLabelValues("getTransaction"))
	if created != 1 {
		t.Errorf("expected 1 invoice created, got %.0f", created)
	}
	consumed := promtest.ToFloat64(m.InvoicesConsumedTotal.WithLabelValues("getTransaction"))
	if consumed != 1 {
		t.Errorf("expected 1 invoice consumed, got %.0f", consumed)
	}
	errs := promtest.ToFloat64(m.InvoiceStoreErrors.WithLabelValues("mark_used", "redis"))
	if errs != 1 {
		t.Errorf("expected 1 store error, got %.0f", errs)
	}
}

func TestObserveVerification(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveVerification(true, "chain", 50*time.Millisecond)
	m.ObserveVerification(false, "facilitator", 10*time.Millisecond)

	valid := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("valid", "chain"))
	if valid != 1 {
		t.Errorf("expected 1 valid verification, got %.0f", valid)
	}
	invalid := promtest.ToFloat64(m.VerificationsTotal.WithLabelValues("invalid", "facilitator"))
	if invalid != 1 {
		t.Errorf("expected 1 invalid verification, got %.0f", invalid)
	}
}

func TestObserveForward(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveForward("provider-a", true, 100*time.Millisecond)
	m.ObserveForward("provider-a", false, 30*time.Millisecond)
	m.ObserveForwardExhausted()

	success := promtest.ToFloat64(m.ForwardAttemptsTotal.WithLabelValues("provider-a", "success"))
	if success != 1 {
		t.Errorf("expected 1 successful forward, got %.0f", success)
	}
	failure := promtest.ToFloat64(m.ForwardAttemptsTotal.WithLabelValues("provider-a", "failure"))
	if failure != 1 {
		t.Errorf("expected 1 failed forward, got %.0f", failure)
	}
	exhausted := promtest.ToFloat64(m.ForwardExhaustedTotal)
	if exhausted != 1 {
		t.Errorf("expected 1 exhausted forward, got %.0f", exhausted)
	}
}

func TestObserveSettlement(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettlement(true)
	m.ObserveSettlement(false)

	settled := promtest.ToFloat64(m.SettlementsTotal.WithLabelValues("true"))
	if settled != 1 {
		t.Errorf("expected 1 settled notification, got %.0f", settled)
	}
	unsettled := promtest.ToFloat64(m.SettlementsTotal.WithLabelValues("false"))
	if unsettled != 1 {
		t.Errorf("expected 1 unsettled notification, got %.0f", unsettled)
	}
}

func TestObserveHTTPRequest(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveHTTPRequest("/rpc", "200", 25*time.Millisecond)

	count := promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/rpc", "200"))
	if count != 1 {
		t.Errorf("expected 1 http request, got %.0f", count)
	}
}

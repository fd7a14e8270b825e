package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.BookingOutcome(OutcomeAuto)
	m.SlotConflict()
	m.Completion(true)
	m.ObserveHTTP("GET", "/health", "200", 0.01)
}

func TestMetrics_HandlerExposesCounters(t *testing.T) {
	m := New()
	m.BookingOutcome(OutcomeAuto)
	m.BookingOutcome(OutcomeUnassigned)
	m.SlotConflict()
	m.Completion(false)
	m.ObserveHTTP("POST", "/api/bookings", "201", 0.02)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)

	for _, want := range []string{
		`clinic_booking_outcomes_total{outcome="auto_assigned"} 1`,
		`clinic_booking_outcomes_total{outcome="unassigned"} 1`,
		`clinic_slot_conflicts_total 1`,
		`clinic_booking_completions_total{rated="false"} 1`,
		`clinic_http_requests_total{method="POST",route="/api/bookings",status_code="201"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected metrics output to contain %q", want)
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicbook/clinic/internal/config"
	"github.com/clinicbook/clinic/internal/domain/booking"
	"github.com/clinicbook/clinic/internal/platform/db"
	"github.com/clinicbook/clinic/internal/platform/metrics"
	"github.com/clinicbook/clinic/internal/platform/mongostore"
)

func testConfig() *config.Config {
	return &config.Config{
		Env:                   "development",
		StoreDriver:           config.DriverPostgres,
		JWTTTL:                time.Hour,
		JWTIssuer:             "clinic-test",
		BcryptCost:            4,
		BookingExplicitStatus: "confirmed",
		BookingAutoStatus:     "pending",
	}
}

func testServer(t *testing.T, ping func(context.Context) error) http.Handler {
	t.Helper()
	cfg := testConfig()
	st := &stores{tx: mongostore.Passthrough{}, close: func() {}}
	a, err := buildApp(cfg, st, metrics.New(), zerolog.Nop())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	return newServer(cfg, a, db.Probe{Driver: "fake", Ping: ping}, zerolog.Nop())
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestPolicyFrom(t *testing.T) {
	cfg := testConfig()
	cfg.BookingExplicitStatus = "pending"
	cfg.BookingAutoStatus = "confirmed"
	p, err := policyFrom(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Explicit != booking.StatusPending || p.Auto != booking.StatusConfirmed {
		t.Errorf("unexpected policy %+v", p)
	}
}

func TestBuildApp_RejectsBadPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.BookingAutoStatus = "completed"
	if _, err := buildApp(cfg, &stores{}, nil, zerolog.Nop()); err == nil {
		t.Fatal("expected error for completed as initial status")
	}
}

func TestSeedStart(t *testing.T) {
	now := time.Date(2025, 3, 10, 15, 4, 5, 0, time.UTC)
	got, err := seedStart("", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("default start = %v", got)
	}
	got, err = seedStart("2025-04-01", now)
	if err != nil || got.Format("2006-01-02") != "2025-04-01" {
		t.Errorf("explicit start = %v, %v", got, err)
	}
	if _, err := seedStart("04/01/2025", now); err == nil {
		t.Error("expected error for bad date")
	}
}

func TestServer_Health(t *testing.T) {
	h := testServer(t, func(context.Context) error { return nil })

	rec := get(h, "/health")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Fatalf("/health: %d %s", rec.Code, rec.Body.String())
	}
	if rec := get(h, "/health/store"); rec.Code != http.StatusOK {
		t.Errorf("/health/store: expected 200, got %d", rec.Code)
	}
}

func TestServer_StoreDown(t *testing.T) {
	h := testServer(t, func(context.Context) error { return errors.New("connection refused") })

	rec := get(h, "/health/store")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "unhealthy") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestServer_Metrics(t *testing.T) {
	h := testServer(t, func(context.Context) error { return nil })
	get(h, "/health")

	rec := get(h, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clinic_http_requests_total") {
		t.Error("expected the request counter to be exported")
	}
}

func TestServer_ProtectedRouteNeedsToken(t *testing.T) {
	h := testServer(t, func(context.Context) error { return nil })

	rec := get(h, "/api/bookings")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"success":false`) {
		t.Errorf("expected envelope error body, got %s", rec.Body.String())
	}
}

package catalog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinicbook/clinic/internal/platform/apperr"
)

type envelopeBody struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    struct {
		Total int `json:"total"`
	} `json:"meta"`
}

func newTestHandler() (*Handler, *Catalog, *echo.Echo) {
	cat, _ := newTestCatalog()
	return NewHandler(cat), cat, echo.New()
}

func TestHandler_Create(t *testing.T) {
	h, _, e := newTestHandler()

	body := `{"title":"Dermatology","description":"Skin clinic"}`
	req := httptest.NewRequest(http.MethodPost, "/api/services", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Create(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var env envelopeBody
	json.Unmarshal(rec.Body.Bytes(), &env)
	var svc Service
	json.Unmarshal(env.Data, &svc)
	if !env.Success || svc.Slug != "dermatology" {
		t.Errorf("unexpected response: %s", rec.Body.String())
	}
}

func TestHandler_Create_MissingFields(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/services", strings.NewReader(`{"title":"X"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Create(c)
	if apperr.Status(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_GetBySlug(t *testing.T) {
	h, cat, e := newTestHandler()
	mustCreate(t, cat, "Cardiology", "")

	req := httptest.NewRequest(http.MethodGet, "/api/services/slug/cardiology", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("slug")
	c.SetParamValues("cardiology")

	if err := h.GetBySlug(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_Get_InvalidID(t *testing.T) {
	h, _, e := newTestHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/services/nope", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues("nope")

	err := h.Get(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
}

func TestHandler_Delete(t *testing.T) {
	h, cat, e := newTestHandler()
	svc := mustCreate(t, cat, "Neurology", "")

	req := httptest.NewRequest(http.MethodDelete, "/api/services/"+svc.ID.String(), nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(svc.ID.String())

	if err := h.Delete(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(svc.ID.String())
	if err := h.Delete(c); apperr.Status(err) != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %v", err)
	}
}

func TestHandler_AdminList_Paginates(t *testing.T) {
	h, cat, e := newTestHandler()
	for _, title := range []string{"Alpha", "Beta", "Gamma"} {
		mustCreate(t, cat, title, "")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/admin/services?limit=2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.AdminList(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var env envelopeBody
	json.Unmarshal(rec.Body.Bytes(), &env)
	var page []Service
	json.Unmarshal(env.Data, &page)
	if len(page) != 2 || env.Meta.Total != 3 {
		t.Errorf("expected 2 of 3, got %d of %d", len(page), env.Meta.Total)
	}
}

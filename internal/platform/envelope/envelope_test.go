package envelope

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinicbook/clinic/internal/platform/apperr"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestErrorHandler_AppErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		msg    string
	}{
		{apperr.Validation("date is required"), http.StatusBadRequest, "date is required"},
		{apperr.Conflict("Conflict: 10:00-11:00 overlaps with existing 09:00-12:00"), http.StatusConflict, "Conflict: 10:00-11:00 overlaps with existing 09:00-12:00"},
		{apperr.Forbidden("Invalid admin key"), http.StatusForbidden, "Invalid admin key"},
		{errors.New("pool exhausted"), http.StatusInternalServerError, "pool exhausted"},
		{echo.NewHTTPError(http.StatusUnauthorized, "invalid token"), http.StatusUnauthorized, "invalid token"},
		{echo.ErrNotFound, http.StatusNotFound, "Not Found"},
	}

	e := echo.New()
	h := ErrorHandler(zerolog.Nop())
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		h(tt.err, c)

		if rec.Code != tt.status {
			t.Errorf("%v: expected %d, got %d", tt.err, tt.status, rec.Code)
		}
		resp := decode(t, rec)
		if resp.Success {
			t.Errorf("%v: expected success=false", tt.err)
		}
		if resp.Error != tt.msg {
			t.Errorf("%v: expected error %q, got %q", tt.err, tt.msg, resp.Error)
		}
	}
}

func TestCreated_WrapsData(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := Created(c, map[string]string{"id": "1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	resp := decode(t, rec)
	if !resp.Success || resp.Data == nil {
		t.Errorf("unexpected response %+v", resp)
	}
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestLogout_RevokesCurrentToken(t *testing.T) {
	iss := testIssuer()
	tok, _ := issue(t, iss, RoleDoctor)

	e := echo.New()
	e.POST("/auth/logout", Logout(iss), JWTMiddleware(iss))
	e.GET("/me", func(c echo.Context) error { return c.NoContent(http.StatusOK) }, JWTMiddleware(iss))

	send := func(method, path string) int {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(http.MethodGet, "/me"); code != http.StatusOK {
		t.Fatalf("expected 200 before logout, got %d", code)
	}
	if code := send(http.MethodPost, "/auth/logout"); code != http.StatusOK {
		t.Fatalf("expected 200 from logout, got %d", code)
	}
	if code := send(http.MethodGet, "/me"); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", code)
	}
}

func TestLogout_WithoutToken(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), httptest.NewRecorder())

	err := Logout(testIssuer())(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/clinicbook/clinic/internal/platform/envelope"
)

// Logout revokes the bearer token the request was authenticated with.
func Logout(issuer *TokenIssuer) echo.HandlerFunc {
	return func(c echo.Context) error {
		claims, ok := c.Get(claimsKey).(*Claims)
		if !ok || claims == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		issuer.Revoke(claims)
		return envelope.Message(c, "Logged out")
	}
}

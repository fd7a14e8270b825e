package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// claimsKey holds the verified *Claims on the echo context.
const claimsKey = "token_claims"

// WithPrincipal stores p on ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(Principal)
	return p, ok
}

func bearerToken(c echo.Context) (string, bool, error) {
	header := c.Request().Header.Get("Authorization")
	if header == "" {
		return "", false, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", true, echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), true, nil
}

func authenticate(c echo.Context, issuer *TokenIssuer, tokenStr string) error {
	p, claims, err := issuer.verify(tokenStr)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	c.Set("user_id", p.ID.String())
	c.Set(claimsKey, claims)
	c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
	return nil
}

// JWTMiddleware requires a valid bearer token.
func JWTMiddleware(issuer *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, present, err := bearerToken(c)
			if err != nil {
				return err
			}
			if !present {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			if err := authenticate(c, issuer, tokenStr); err != nil {
				return err
			}
			return next(c)
		}
	}
}

// OptionalJWT authenticates the caller when a token is supplied and lets
// anonymous requests through. A malformed or invalid token is still a 401.
func OptionalJWT(issuer *TokenIssuer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, present, err := bearerToken(c)
			if err != nil {
				return err
			}
			if present {
				if err := authenticate(c, issuer, tokenStr); err != nil {
					return err
				}
			}
			return next(c)
		}
	}
}

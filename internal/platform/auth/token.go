package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims carried by access tokens.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

// Principal is the authenticated caller.
type Principal struct {
	ID    uuid.UUID
	Email string
	Role  Role
}

// TokenConfig configures HS256 token issuing and verification.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	TTL        time.Duration
}

type TokenIssuer struct {
	cfg    TokenConfig
	now    func() time.Time
	denied *Denylist
}

var ErrTokenRevoked = errors.New("token has been revoked")

func NewTokenIssuer(cfg TokenConfig) *TokenIssuer {
	if cfg.TTL <= 0 {
		cfg.TTL = 7 * 24 * time.Hour
	}
	return &TokenIssuer{cfg: cfg, now: time.Now, denied: NewDenylist()}
}

// Issue signs a token for p and returns it with its expiry.
func (t *TokenIssuer) Issue(p Principal) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.cfg.TTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.ID.String(),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Email: p.Email,
		Role:  p.Role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.cfg.SigningKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify parses tokenStr and returns the principal it names.
func (t *TokenIssuer) Verify(tokenStr string) (Principal, error) {
	p, _, err := t.verify(tokenStr)
	return p, err
}

func (t *TokenIssuer) verify(tokenStr string) (Principal, *Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(t.now),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
		return t.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return Principal{}, nil, err
	}
	if !token.Valid {
		return Principal{}, nil, errors.New("token is not valid")
	}
	if t.denied.IsRevoked(claims.ID) {
		return Principal{}, nil, ErrTokenRevoked
	}
	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, nil, fmt.Errorf("token subject: %w", err)
	}
	if !claims.Role.Valid() {
		return Principal{}, nil, fmt.Errorf("token role %q is not recognised", claims.Role)
	}
	return Principal{ID: id, Email: claims.Email, Role: claims.Role}, claims, nil
}

// Revoke rejects the token carrying claims from now until it expires.
func (t *TokenIssuer) Revoke(claims *Claims) {
	if claims.ExpiresAt == nil {
		return
	}
	t.denied.Revoke(claims.ID, claims.ExpiresAt.Time)
}

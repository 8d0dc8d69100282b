// Package token issues and verifies the signed bearer tokens used by the
// auth subsystem and the gateway. Tokens are compact JWTs signed with a
// symmetric HMAC key and carry {sub, role, exp, type}.
package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zimagehq/zimage/internal/domain"
)

// Token kinds
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims is the verified claim set of a token.
type Claims struct {
	Subject string
	Role    string
	Kind    string
	Expiry  time.Time
}

// Pair is an access/refresh token pair as returned by the auth endpoints.
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// Issuer signs and verifies tokens with a shared secret.
type Issuer struct {
	secret     []byte
	method     jwt.SigningMethod
	accessTTL  time.Duration
	refreshTTL time.Duration
	// now is overridable in tests
	now func() time.Time
}

// NewIssuer builds an Issuer. Only HMAC algorithms are supported; anything
// else falls back to HS256.
func NewIssuer(secret string, algorithm string, accessTTL, refreshTTL time.Duration) *Issuer {
	method := jwt.GetSigningMethod(algorithm)
	if _, ok := method.(*jwt.SigningMethodHMAC); !ok {
		method = jwt.SigningMethodHS256
	}
	return &Issuer{
		secret:     []byte(secret),
		method:     method,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

type jwtClaims struct {
	Role string `json:"role,omitempty"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

func (i *Issuer) sign(sub, role, kind string, ttl time.Duration) (string, error) {
	now := i.now().UTC()
	claims := jwtClaims{
		Role: role,
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	s, err := jwt.NewWithClaims(i.method, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("op=token.sign: %w", err)
	}
	return s, nil
}

// IssuePair returns a fresh access+refresh pair for the user.
func (i *Issuer) IssuePair(userID, role string) (Pair, error) {
	access, err := i.sign(userID, role, KindAccess, i.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.sign(userID, role, KindRefresh, i.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}

// Verify decodes a token, checks the signature and expiry, and requires the
// given kind. Any failure maps to domain.ErrUnauthorized.
func (i *Issuer) Verify(tokenString, wantKind string) (Claims, error) {
	var claims jwtClaims
	tok, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now() }))
	if err != nil || !tok.Valid {
		return Claims{}, fmt.Errorf("op=token.verify: %w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Type != wantKind {
		return Claims{}, fmt.Errorf("op=token.verify: %w: token type %q", domain.ErrUnauthorized, claims.Type)
	}
	role := claims.Role
	if role == "" {
		role = domain.RoleUser
	}
	out := Claims{Subject: claims.Subject, Role: role, Kind: claims.Type}
	if claims.ExpiresAt != nil {
		out.Expiry = claims.ExpiresAt.Time
	}
	return out, nil
}

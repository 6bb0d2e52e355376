package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Token purposes. Access tokens authenticate REST requests; tickets are
// single-purpose short-lived tokens exchanged for a WebSocket upgrade,
// since browsers cannot set Authorization headers on WebSocket dials.
const (
	PurposeAccess = "access"
	PurposeTicket = "ws-ticket"
)

// ticketTTL is deliberately short: a ticket only needs to survive the
// round trip between issuing it and opening the WebSocket.
const ticketTTL = 30 * time.Second

// CustomClaims extends JWT standard claims with Blinky-specific fields.
type CustomClaims struct {
	jwt.RegisteredClaims
	Role    Role   `json:"role"`
	Purpose string `json:"purpose"`
}

// GenerateAccessToken creates a signed JWT access token for an account.
// Access tokens are validated by signature only (no storage lookup).
func GenerateAccessToken(username string, role Role, secret string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = 60 //nolint:mnd // default 1-hour access token TTL
	}

	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		Role:    role,
		Purpose: PurposeAccess,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}
	return signed, nil
}

// GenerateTicket creates a short-lived WebSocket upgrade ticket.
func GenerateTicket(username string, role Role, secret string) (string, error) {
	now := time.Now()
	claims := CustomClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ticketTTL)),
			ID:        uuid.NewString(),
		},
		Role:    role,
		Purpose: PurposeTicket,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing ticket: %w", err)
	}
	return signed, nil
}

// ParseToken validates and parses a JWT, returning the custom claims.
// It checks the signature, expiry, and required fields. Callers must
// additionally check the Purpose field matches the context.
func ParseToken(tokenString, secret string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}

	if !IsValidRole(claims.Role) {
		return nil, fmt.Errorf("%w: unknown role %q", ErrTokenInvalid, claims.Role)
	}

	return claims, nil
}

// Package auth holds the HTTP authentication middleware: optional JWT
// bearer tokens for the chat front-end and an admin key for destructive
// conversation operations.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ContextKey represents keys for context values
type ContextKey string

const ClaimsContextKey ContextKey = "claims"

// AdminKeyHeader carries the plain admin key.
const AdminKeyHeader = "X-Admin-Key"

var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims accepted by the API.
type Claims struct {
	CustomerID string `json:"customer_id,omitempty"`
	Role       string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and validates HS256 tokens.
type TokenService struct {
	secretKey []byte
	issuer    string
}

func NewTokenService(secretKey, issuer string) *TokenService {
	return &TokenService{secretKey: []byte(secretKey), issuer: issuer}
}

// Issue signs a token for subject valid for ttl from now.
func (ts *TokenService) Issue(subject, customerID, role string, ttl time.Duration, now time.Time) (string, error) {
	claims := &Claims{
		CustomerID: customerID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    ts.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.secretKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses tokenString and checks its signature, expiry and issuer.
func (ts *TokenService) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if ts.issuer != "" {
		opts = append(opts, jwt.WithIssuer(ts.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ts.secretKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// RequireAuth validates the bearer token and stores its claims on the
// echo context. A nil service disables authentication.
func RequireAuth(ts *TokenService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if ts == nil {
			return next
		}
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Authorization header required")
			}

			tokenParts := strings.Split(authHeader, " ")
			if len(tokenParts) != 2 || tokenParts[0] != "Bearer" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid authorization header format")
			}

			claims, err := ts.Validate(tokenParts[1])
			if err != nil {
				log.Debug().Err(err).Str("path", c.Path()).Msg("Rejected bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid or expired token")
			}

			c.Set(string(ClaimsContextKey), claims)
			return next(c)
		}
	}
}

// ClaimsFromContext returns the claims set by RequireAuth.
func ClaimsFromContext(c echo.Context) (*Claims, bool) {
	claims, ok := c.Get(string(ClaimsContextKey)).(*Claims)
	return claims, ok
}

// RequireAdminKey compares the X-Admin-Key header against a bcrypt hash.
// With an empty hash admin endpoints are disabled.
func RequireAdminKey(hash string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if hash == "" {
				return echo.NewHTTPError(http.StatusForbidden, "admin endpoints are disabled")
			}
			key := c.Request().Header.Get(AdminKeyHeader)
			if key == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "admin key required")
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
				log.Warn().Str("path", c.Path()).Str("remote_ip", c.RealIP()).Msg("Invalid admin key")
				return echo.NewHTTPError(http.StatusForbidden, "invalid admin key")
			}
			return next(c)
		}
	}
}

// HashAdminKey produces the bcrypt hash stored in the api.admin_key_hash setting.
func HashAdminKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", errors.New("admin key is empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash admin key: %w", err)
	}
	return string(hashed), nil
}

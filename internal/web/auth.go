package web

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoBearerToken = errors.New("authorization header must be: Bearer <token>")
	ErrEmptySecret   = errors.New("jwt secret is empty")
)

// localsSubject is the fiber locals key holding the token subject
const localsSubject = "jwt_subject"

// HS256Verifier checks admin bearer tokens signed with a shared secret
type HS256Verifier struct {
	secret []byte
	leeway time.Duration
}

// NewHS256Verifier creates a verifier for secret
func NewHS256Verifier(secret string, leeway time.Duration) (*HS256Verifier, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &HS256Verifier{secret: []byte(secret), leeway: leeway}, nil
}

// VerifyBearer validates the Authorization header value and returns the claims
func (v *HS256Verifier) VerifyBearer(authHeader string) (*jwt.RegisteredClaims, error) {
	tokenStr, err := extractBearer(authHeader)
	if err != nil {
		return nil, err
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return claims, nil
}

// Mint signs a token for subject valid for ttl
func (v *HS256Verifier) Mint(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// RequireJWT rejects requests without a valid bearer token
func RequireJWT(v *HS256Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := v.VerifyBearer(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, err.Error())
		}
		c.Locals(localsSubject, claims.Subject)
		return c.Next()
	}
}

func extractBearer(h string) (string, error) {
	h = strings.TrimSpace(h)
	if h == "" {
		return "", ErrNoBearerToken
	}

	parts := strings.SplitN(h, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrNoBearerToken
	}

	return strings.TrimSpace(parts[1]), nil
}

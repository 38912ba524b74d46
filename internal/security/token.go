// Package security verifies bearer tokens issued by the identity provider and
// evaluates role tags declared by routes.
package security

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role tags recognised by administrative routes.
const (
	RoleSuperAdmin = "SuperAdmin"
	RoleAdmin      = "Admin"
	RoleAnalyst    = "Analyst"
)

var (
	// ErrMissingToken is returned when no bearer token was presented.
	ErrMissingToken = errors.New("security: missing token")
	// ErrInvalidToken is returned when the token fails verification.
	ErrInvalidToken = errors.New("security: invalid token")
)

// Claims is the verified identity carried by a bearer token.
type Claims struct {
	SubscriberID uint64   `json:"subscriber_id"`
	Roles        []string `json:"roles,omitempty"`
	IsPrivileged bool     `json:"is_privileged,omitempty"`
	jwt.RegisteredClaims
}

// IssueToken signs claims with HS256. Subject defaults to the subscriber id.
func IssueToken(secret string, claims Claims, expiry time.Duration, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("security: empty jwt secret")
	}
	if claims.SubscriberID == 0 {
		return "", errors.New("security: empty subscriber id")
	}
	if claims.Subject == "" {
		claims.Subject = strconv.FormatUint(claims.SubscriberID, 10)
	}
	claims.IssuedAt = jwt.NewNumericDate(now)
	if expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("security: sign token: %w", errSign)
	}
	return signed, nil
}

// ParseToken verifies an HS256 token and returns its claims.
func ParseToken(secret, tokenString string) (*Claims, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, ErrMissingToken
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("security: empty jwt secret")
	}
	claims := &Claims{}
	token, errParse := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if errParse != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, errParse)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.SubscriberID == 0 {
		id, errID := strconv.ParseUint(claims.Subject, 10, 64)
		if errID != nil || id == 0 {
			return nil, fmt.Errorf("%w: missing subscriber id", ErrInvalidToken)
		}
		claims.SubscriberID = id
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return header
}

// HasAnyRole reports whether the claims satisfy any of the required role tags.
// A privileged identity satisfies every requirement; an empty requirement
// admits everyone.
func (c *Claims) HasAnyRole(required ...string) bool {
	if len(required) == 0 {
		return true
	}
	if c == nil {
		return false
	}
	if c.IsPrivileged {
		return true
	}
	for _, want := range required {
		for _, have := range c.Roles {
			if strings.EqualFold(strings.TrimSpace(have), want) {
				return true
			}
		}
	}
	return false
}

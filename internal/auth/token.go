// Package auth inspects session tokens on the client side. Signatures are not
// verified here; that is the server's job. The client only avoids opening a
// session with a token it can already tell is expired.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/egannguyen/go-kafka-ecommerce/ordersync/internal/entity"
)

// Claims are the fields the client reads from a token.
type Claims struct {
	UserID entity.ID   `json:"userId,omitempty"`
	Role   entity.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims reads the claims of a JWT without verifying its signature.
// Opaque (non-JWT) tokens return nil claims and no error.
// A token whose exp lies before now fails with entity.ErrTokenExpired.
func ParseClaims(token string, now time.Time) (*Claims, error) {
	if token == "" {
		return nil, entity.ErrNoSession
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if claims.ExpiresAt != nil && !claims.ExpiresAt.After(now) {
		return claims, fmt.Errorf("%w: expired at %s", entity.ErrTokenExpired, claims.ExpiresAt.Format(time.RFC3339))
	}
	return claims, nil
}

// Package auth reads the access token issued by the hosted backend.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dmitrijs2005/bitacora/internal/client/models"
	"github.com/dmitrijs2005/bitacora/internal/common"
)

// Claims are the registered claims plus the profile fields the backend
// embeds. Subject is the user id.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"rol,omitempty"`
}

// User maps the claims onto a user. The role may be empty; the profile
// table is authoritative for it.
func (c Claims) User() models.User {
	return models.User{ID: c.Subject, Email: c.Email, Role: c.Role}
}

// GenerateToken signs an HS256 token for u. Used by tests and by local
// setups without a hosted backend.
func GenerateToken(u models.User, secretKey []byte, validityDuration time.Duration) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(validityDuration)),
		},
		Email: u.Email,
		Role:  u.Role,
	})

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ParseToken validates tokenString and returns its claims. With a secret
// the HS256 signature is verified; without one the claims are read
// unverified, which is only acceptable because the backend verifies the
// token again on every call.
func ParseToken(tokenString string, secretKey []byte) (*Claims, error) {
	claims := &Claims{}

	if len(secretKey) == 0 {
		if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
		}
		if exp := claims.ExpiresAt; exp != nil && exp.Before(time.Now()) {
			return nil, common.ErrTokenExpired
		}
	} else {
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			return secretKey, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
		}
		if !token.Valid {
			return nil, common.ErrInvalidToken
		}
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}
	return claims, nil
}

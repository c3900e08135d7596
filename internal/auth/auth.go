// Package auth resolves bearer tokens to principals. The settlement core
// treats identity as already resolved; this package is the default resolver
// wired in front of it.
package auth

import (
	"errors"
	"fmt"

	"github.com/dgrijalva/jwt-go"
)

// Principal is the resolved caller identity.
type Principal struct {
	ID   string
	Name string
}

// ErrInvalidToken covers expired, malformed and badly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Resolver turns a raw bearer token into a Principal.
type Resolver interface {
	Resolve(token string) (*Principal, error)
}

// JWTResolver verifies HMAC-signed tokens carrying sub and name claims.
type JWTResolver struct {
	secret []byte
}

func NewJWTResolver(secret string) *JWTResolver {
	return &JWTResolver{secret: []byte(secret)}
}

func (r *JWTResolver) Resolve(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return r.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, ErrInvalidToken
	}
	name, _ := claims["name"].(string)

	return &Principal{ID: sub, Name: name}, nil
}

// Sign issues a token for the given principal. The seeder uses it to print
// ready-to-use demo credentials.
func (r *JWTResolver) Sign(p Principal) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  p.ID,
		"name": p.Name,
	})
	return token.SignedString(r.secret)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package authstack

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the payload of a bearer token issued for listener or source
// access.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// JWTBearer authenticates a bearer token presented as a listener query
// parameter or source Authorization header.
type JWTBearer struct {
	signingKey []byte
}

// NewJWTBearer creates a JWTBearer verifying tokens with signingKey.
func NewJWTBearer(signingKey []byte) *JWTBearer {
	return &JWTBearer{signingKey: signingKey}
}

// Issue mints a token for role with expiry ttl, via the same HS256 /
// RegisteredClaims idiom used elsewhere in the stack.
func (j *JWTBearer) Issue(role, subject string, expiresInSeconds int64) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: subject,
		},
		Role: role,
	}
	if expiresInSeconds > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Duration(expiresInSeconds) * time.Second))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.signingKey)
}

// Authenticate returns NOMATCH when no bearer token was presented at all
// (so another authenticator or scope gets a chance), FAIL for a token
// that fails verification, and OK with the embedded role on success.
func (j *JWTBearer) Authenticate(_ context.Context, id Identity) (Result, Binding) {
	if id.BearerToken == "" {
		return ResultNoMatch, Binding{}
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(id.BearerToken, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authstack: unexpected signing method %v", t.Header["alg"])
		}
		return j.signingKey, nil
	})
	if err != nil || !token.Valid {
		return ResultFail, Binding{}
	}
	return ResultOK, Binding{Role: claims.Role, Username: claims.Subject}
}

// Copyright 2024 The Algo Rumble Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"
)

type ctxPrincipalKey struct{}

// UserPrincipal is the authenticated identity attached to a request context.
type UserPrincipal struct {
	UserID   uuid.UUID
	Username string
	Role     string
	TokenID  string
	Expiry   time.Time
}

// principalFromContext returns the authenticated principal, or nil on an
// unauthenticated context.
func principalFromContext(ctx context.Context) *UserPrincipal {
	principal, _ := ctx.Value(ctxPrincipalKey{}).(*UserPrincipal)
	return principal
}

// parseToken validates an HS256 session token and extracts its claims.
func parseToken(hmacSecret []byte, tokenString string) (*UserPrincipal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if s, ok := token.Method.(*jwt.SigningMethodHMAC); !ok || s.Hash != jwt.SigningMethodHS256.Hash {
			return nil, ErrUnauthenticated
		}
		return hmacSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthenticated
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthenticated
	}

	userIDString, ok := claims["uid"].(string)
	if !ok {
		return nil, ErrUnauthenticated
	}
	userID, err := uuid.FromString(userIDString)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	username, _ := claims["usn"].(string)
	role, _ := claims["role"].(string)
	tokenID, _ := claims["jti"].(string)
	exp, ok := claims["exp"].(float64)
	if !ok {
		return nil, ErrUnauthenticated
	}

	return &UserPrincipal{
		UserID:   userID,
		Username: username,
		Role:     role,
		TokenID:  tokenID,
		Expiry:   time.Unix(int64(exp), 0),
	}, nil
}

// extractTokenString pulls the raw token from the access_token cookie or,
// failing that, an Authorization bearer header.
func extractTokenString(r *http.Request) string {
	if cookie, err := r.Cookie("access_token"); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// authenticate resolves and validates the request's session token, rejecting
// tokens on the logout blocklist.
func authenticate(r *http.Request, config Config, queueStore QueueStore) (*UserPrincipal, error) {
	tokenString := extractTokenString(r)
	if tokenString == "" {
		return nil, ErrUnauthenticated
	}
	principal, err := parseToken([]byte(config.GetSession().EncryptionKey), tokenString)
	if err != nil {
		return nil, err
	}
	if principal.TokenID != "" {
		blocked, err := queueStore.IsTokenBlocked(r.Context(), principal.TokenID)
		if err != nil {
			return nil, err
		}
		if blocked {
			return nil, ErrUnauthenticated
		}
	}
	return principal, nil
}

// authRequired wraps a handler with session token validation and principal
// injection.
func authRequired(logger *zap.Logger, config Config, queueStore QueueStore, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, err := authenticate(r, config, queueStore)
		if err != nil {
			respondError(logger, w, err)
			return
		}
		ctx := context.WithValue(r.Context(), ctxPrincipalKey{}, principal)
		next(w, r.WithContext(ctx))
	}
}

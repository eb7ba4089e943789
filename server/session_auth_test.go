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
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testHMACSecret = []byte("defaultencryptionkey")

func signTestToken(t *testing.T, secret []byte, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func validClaims(userID uuid.UUID) jwt.MapClaims {
	return jwt.MapClaims{
		"uid":  userID.String(),
		"usn":  "alice",
		"role": "user",
		"jti":  "token-1",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
}

func TestParseTokenValid(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	tokenString := signTestToken(t, testHMACSecret, validClaims(userID))

	principal, err := parseToken(testHMACSecret, tokenString)
	require.NoError(t, err)
	assert.Equal(t, userID, principal.UserID)
	assert.Equal(t, "alice", principal.Username)
	assert.Equal(t, "user", principal.Role)
	assert.Equal(t, "token-1", principal.TokenID)
	assert.True(t, principal.Expiry.After(time.Now()))
}

func TestParseTokenWrongSecret(t *testing.T) {
	tokenString := signTestToken(t, []byte("wrong"), validClaims(uuid.Must(uuid.NewV4())))

	_, err := parseToken(testHMACSecret, tokenString)
	assert.Equal(t, ErrUnauthenticated, err)
}

func TestParseTokenExpired(t *testing.T) {
	claims := validClaims(uuid.Must(uuid.NewV4()))
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	tokenString := signTestToken(t, testHMACSecret, claims)

	_, err := parseToken(testHMACSecret, tokenString)
	assert.Equal(t, ErrUnauthenticated, err)
}

func TestParseTokenMissingUserID(t *testing.T) {
	claims := validClaims(uuid.Must(uuid.NewV4()))
	delete(claims, "uid")
	tokenString := signTestToken(t, testHMACSecret, claims)

	_, err := parseToken(testHMACSecret, tokenString)
	assert.Equal(t, ErrUnauthenticated, err)
}

func TestParseTokenGarbage(t *testing.T) {
	_, err := parseToken(testHMACSecret, "not.a.token")
	assert.Equal(t, ErrUnauthenticated, err)
}

func TestExtractTokenStringPrefersCookie(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/match/active", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: "cookie-token"})
	r.Header.Set("Authorization", "Bearer header-token")

	assert.Equal(t, "cookie-token", extractTokenString(r))
}

func TestExtractTokenStringBearerFallback(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/match/active", nil)
	r.Header.Set("Authorization", "Bearer header-token")

	assert.Equal(t, "header-token", extractTokenString(r))
}

func TestExtractTokenStringMissing(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/match/active", nil)
	assert.Equal(t, "", extractTokenString(r))
}

func TestAuthenticateRejectsBlockedToken(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	queue := newFakeQueueStore()
	require.NoError(t, queue.BlockToken(context.Background(), "token-1", time.Hour))

	tokenString := signTestToken(t, testHMACSecret, validClaims(userID))
	r := httptest.NewRequest(http.MethodGet, "/match/active", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: tokenString})

	_, err := authenticate(r, testConfig(), queue)
	assert.Equal(t, ErrUnauthenticated, err)
}

func TestAuthenticateAcceptsUnblockedToken(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	tokenString := signTestToken(t, testHMACSecret, validClaims(userID))
	r := httptest.NewRequest(http.MethodGet, "/match/active", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: tokenString})

	principal, err := authenticate(r, testConfig(), newFakeQueueStore())
	require.NoError(t, err)
	assert.Equal(t, userID, principal.UserID)
}

func TestAuthRequiredInjectsPrincipal(t *testing.T) {
	userID := uuid.Must(uuid.NewV4())
	tokenString := signTestToken(t, testHMACSecret, validClaims(userID))

	var seen *UserPrincipal
	handler := authRequired(testLogger(), testConfig(), newFakeQueueStore(), func(w http.ResponseWriter, r *http.Request) {
		seen = principalFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/match/active", nil)
	r.AddCookie(&http.Cookie{Name: "access_token", Value: tokenString})
	w := httptest.NewRecorder()
	handler(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, seen)
	assert.Equal(t, userID, seen.UserID)
}

func TestAuthRequiredRejectsMissingToken(t *testing.T) {
	handler := authRequired(testLogger(), testConfig(), newFakeQueueStore(), func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without a token")
	})

	r := httptest.NewRequest(http.MethodGet, "/match/active", nil)
	w := httptest.NewRecorder()
	handler(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

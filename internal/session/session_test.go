package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/boutique/pkg/logger"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shopper = Identity{ID: "42", Email: "Asha@Example.com", Role: "customer"}

func TestValidator_RoundTrip(t *testing.T) {
	v := NewValidator("secret", "boutique")

	token, err := v.Issue(shopper, time.Hour)
	require.NoError(t, err)

	id, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "42", id.ID)
	assert.Equal(t, "asha@example.com", id.Email)
	assert.Equal(t, "customer", id.Role)
}

func TestValidator_Rejects(t *testing.T) {
	v := NewValidator("secret", "boutique")

	expired, err := v.Issue(shopper, -time.Minute)
	require.NoError(t, err)

	otherKey, err := NewValidator("other", "boutique").Issue(shopper, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewValidator("secret", "elsewhere").Issue(shopper, time.Hour)
	require.NoError(t, err)

	noEmail, err := v.Issue(Identity{ID: "42"}, time.Hour)
	require.NoError(t, err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Email: "a@b.c"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	for name, token := range map[string]string{
		"expired":      expired,
		"wrong key":    otherKey,
		"wrong issuer": otherIssuer,
		"no email":     noEmail,
		"alg none":     none,
		"garbage":      "not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := v.Validate(token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestFromContext(t *testing.T) {
	_, err := FromContext(context.Background())
	assert.ErrorIs(t, err, ErrNoSession)

	id, err := FromContext(WithIdentity(context.Background(), shopper))
	require.NoError(t, err)
	assert.Equal(t, shopper, id)
}

func TestMiddleware(t *testing.T) {
	v := NewValidator("secret", "")
	token, err := v.Issue(shopper, time.Hour)
	require.NoError(t, err)

	var seen Identity
	handler := Middleware(v, logger.Discard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid", "Bearer " + token, http.StatusNoContent},
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
	assert.Equal(t, "42", seen.ID)
}

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndParse(t *testing.T) {
	v := NewVerifier("secret")
	tok, err := v.Issue(Principal{ID: "u-1", Role: RoleStaff}, time.Hour)
	require.NoError(t, err)

	p, err := v.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{ID: "u-1", Role: RoleStaff}, p)
}

func TestParseRejects(t *testing.T) {
	v := NewVerifier("secret")

	t.Run("wrong secret", func(t *testing.T) {
		tok, err := NewVerifier("other").Issue(Principal{ID: "u-1", Role: RoleCustomer}, time.Hour)
		require.NoError(t, err)
		_, err = v.Parse(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("expired", func(t *testing.T) {
		old := NewVerifier("secret")
		old.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
		tok, err := old.Issue(Principal{ID: "u-1", Role: RoleCustomer}, time.Hour)
		require.NoError(t, err)
		_, err = v.Parse(tok)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("unknown role", func(t *testing.T) {
		tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "u-1", "role": "root"})
		raw, err := tok.SignedString([]byte("secret"))
		require.NoError(t, err)
		_, err = v.Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})

	t.Run("issue anonymous", func(t *testing.T) {
		_, err := v.Issue(Principal{}, time.Hour)
		assert.ErrorIs(t, err, ErrInvalidToken)
	})
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	var got Principal
	var authed bool
	h := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, authed = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("anonymous passes through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.False(t, authed)
	})

	t.Run("valid bearer", func(t *testing.T) {
		tok, err := v.Issue(Principal{ID: "admin-1", Role: RoleAdmin}, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, authed)
		assert.Equal(t, RoleAdmin, got.Role)
	})

	t.Run("query token", func(t *testing.T) {
		tok, err := v.Issue(Principal{ID: "cust-1", Role: RoleCustomer}, time.Hour)
		require.NoError(t, err)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/stream?access_token="+tok, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.True(t, authed)
		assert.Equal(t, "cust-1", got.ID)
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer nope")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

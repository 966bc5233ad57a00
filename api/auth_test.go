package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-booking/booking"
)

func TestAuthenticator_RoundTrip(t *testing.T) {
	a := NewAuthenticator("s3cret")
	actor := booking.Actor{UserID: "u-1", Email: "a@b.c", Role: booking.RoleGuide, TouristID: "t-1", GuideID: "g-1"}

	token, err := a.IssueToken(actor, time.Minute)
	require.NoError(t, err)

	claims, err := a.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, actor, claims.Actor())
	assert.True(t, claims.Actor().IsTourist())
	assert.True(t, claims.Actor().IsGuide())
}

func TestAuthenticator_Rejects(t *testing.T) {
	a := NewAuthenticator("s3cret")

	t.Run("expired", func(t *testing.T) {
		token, err := a.IssueToken(booking.Actor{UserID: "u-1"}, -time.Minute)
		require.NoError(t, err)
		_, err = a.Parse(token)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("unsigned", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Sub: "u-1"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)
		_, err = a.Parse(token)
		assert.Error(t, err)
	})

	t.Run("no subject", func(t *testing.T) {
		token, err := a.IssueToken(booking.Actor{Role: booking.RoleAdmin}, time.Minute)
		require.NoError(t, err)
		_, err = a.Parse(token)
		assert.Error(t, err)
	})
}

func TestRequireRole(t *testing.T) {
	a := NewAuthenticator("s3cret")
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := a.Middleware(RequireRole(booking.RoleAdmin, booking.RoleSuperAdmin)(ok))

	for role, want := range map[booking.Role]int{
		booking.RoleSuperAdmin: http.StatusNoContent,
		booking.RoleAdmin:      http.StatusNoContent,
		booking.RoleGuide:      http.StatusForbidden,
	} {
		token, err := a.IssueToken(booking.Actor{UserID: "u", Role: role}, time.Minute)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}

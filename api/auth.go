/*
auth.go - Bearer token authentication and role gates

PURPOSE:
  Resolves the caller of every /api request into a booking.Actor. Tokens
  are HS256 JWTs issued by the identity service; this service only
  verifies them.

CLAIMS:
  sub         user id
  role        TOURIST | GUIDE | ADMIN | SUPER_ADMIN
  email       used as the checkout customer email
  tourist_id  set when the user has a tourist profile
  guide_id    set when the user has a guide profile

  The booking core authorizes on the profile ids, not the role, so a user
  can hold both profiles.

SEE ALSO:
  - server.go: Where the middleware is mounted
  - booking/types.go: Actor
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/warp/tour-booking/booking"
)

type Claims struct {
	Sub       string `json:"sub"`
	Role      string `json:"role"`
	Email     string `json:"email"`
	TouristID string `json:"tourist_id,omitempty"`
	GuideID   string `json:"guide_id,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into the core's identity type.
func (c *Claims) Actor() booking.Actor {
	return booking.Actor{
		UserID:    c.Sub,
		Email:     c.Email,
		Role:      booking.Role(strings.ToUpper(c.Role)),
		TouristID: booking.TouristID(c.TouristID),
		GuideID:   booking.GuideID(c.GuideID),
	}
}

// Authenticator verifies bearer tokens signed with a shared secret.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// IssueToken signs a token for actor. Production tokens come from the
// identity service; this is for tests and local tooling.
func (a *Authenticator) IssueToken(actor booking.Actor, ttl time.Duration) (string, error) {
	claims := Claims{
		Sub:       actor.UserID,
		Role:      string(actor.Role),
		Email:     actor.Email,
		TouristID: string(actor.TouristID),
		GuideID:   string(actor.GuideID),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Parse validates the signature and expiry of tokenStr.
func (a *Authenticator) Parse(tokenStr string) (*Claims, error) {
	t, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	c, ok := t.Claims.(*Claims)
	if !ok || !t.Valid {
		return nil, errors.New("invalid token")
	}
	if c.Sub == "" {
		return nil, errors.New("token has no subject")
	}
	return c, nil
}

// =============================================================================
// MIDDLEWARE
// =============================================================================

type actorKey struct{}

// Middleware rejects requests without a valid bearer token and stores the
// resolved actor in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		tokenStr, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}
		claims, err := a.Parse(tokenStr)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}
		ctx := context.WithValue(r.Context(), actorKey{}, claims.Actor())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ActorFrom returns the actor stored by Middleware.
func ActorFrom(ctx context.Context) (booking.Actor, bool) {
	actor, ok := ctx.Value(actorKey{}).(booking.Actor)
	return actor, ok
}

// RequireRole allows the request through only for the listed roles.
func RequireRole(roles ...booking.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Not authenticated", nil)
				return
			}
			for _, role := range roles {
				if actor.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "Forbidden", fmt.Errorf("role %s not allowed", actor.Role))
		})
	}
}

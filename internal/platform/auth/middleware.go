// Package auth verifies bearer credentials and exposes the resulting
// identity to handlers. Credential issuance and refresh belong to the
// identity provider; this package only consumes verified claims.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/meditatva/connect/internal/platform/geo"
)

type contextKey string

const identityKey contextKey = "identity"

// Roles recognized by the matching engine.
const (
	RolePatient  = "patient"
	RolePharmacy = "pharmacy"
)

// Claims are the JWT claims issued by the identity provider. Pharmacies
// carry their registered location so the connection layer can join them to
// the right geographic cell room.
type Claims struct {
	jwt.RegisteredClaims
	Role string   `json:"role"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

// Identity is the verified caller attached to the request context.
type Identity struct {
	UserID   string
	Role     string
	Location *geo.Point
}

// JWTMiddleware validates the Authorization bearer token and stores the
// resulting Identity in the request context.
func JWTMiddleware(secret []byte) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get("Authorization")
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			tokenString := strings.TrimPrefix(header, "Bearer ")
			if tokenString == header {
				return echo.NewHTTPError(http.StatusUnauthorized, "malformed authorization header")
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token missing subject")
			}
			if claims.Role != RolePatient && claims.Role != RolePharmacy {
				return echo.NewHTTPError(http.StatusUnauthorized, "unknown role")
			}

			ident := Identity{UserID: claims.Subject, Role: claims.Role}
			if claims.Lat != nil && claims.Lon != nil {
				ident.Location = &geo.Point{Lat: *claims.Lat, Lon: *claims.Lon}
			}

			ctx := WithIdentity(c.Request().Context(), ident)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// RequireRole returns middleware that rejects callers without one of the
// given roles.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ident := IdentityFromContext(c.Request().Context())
			for _, required := range roles {
				if ident.Role == required {
					return next(c)
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// WithIdentity returns a context carrying the given identity.
func WithIdentity(ctx context.Context, ident Identity) context.Context {
	return context.WithValue(ctx, identityKey, ident)
}

// IdentityFromContext returns the verified identity, or the zero Identity if
// the request was not authenticated.
func IdentityFromContext(ctx context.Context) Identity {
	ident, _ := ctx.Value(identityKey).(Identity)
	return ident
}

package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/campuskit/notify/internal/contextx"
	"github.com/campuskit/notify/internal/httpx"
	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
)

// JWTAuthHuma is a router-agnostic Huma middleware that validates the portal
// backend's JWT and injects the caller's ID into the request context using
// contextx.UserIDKey. On failure it writes an RFC7807 problem+json response
// with code ErrUnauthorized.
func JWTAuthHuma(jwtSecret string, logger *slog.Logger) func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		r, w := humachi.Unwrap(ctx)

		writeUnauthorized := func(detail string) {
			reqID := chimw.GetReqID(r.Context())
			p := &httpx.Problem{
				Type:      "urn:problem:auth/err-unauthorized",
				Title:     http.StatusText(http.StatusUnauthorized),
				Status:    http.StatusUnauthorized,
				Detail:    detail,
				Code:      "ErrUnauthorized",
				RequestID: reqID,
			}
			w.Header().Set("Content-Type", "application/problem+json")
			w.WriteHeader(p.GetStatus())
			_ = json.NewEncoder(w).Encode(p)
		}

		// 1. Authorization header.
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeUnauthorized("missing authorization header")
			return
		}

		// 2. Bearer token.
		tokenString, found := strings.CutPrefix(authHeader, "Bearer ")
		if !found {
			writeUnauthorized("invalid authorization header format")
			return
		}

		// 3. Parse and validate the token.
		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			logger.Warn("invalid jwt token", "error", err)
			writeUnauthorized("invalid or expired token")
			return
		}

		// 4. Inject the caller ID into the context for downstream handlers.
		// Subjects are opaque portal user ids, not UUIDs.
		ctx = huma.WithValue(ctx, contextx.UserIDKey, claims.Subject)
		next(ctx)
	}
}

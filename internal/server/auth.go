// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Valet Contributors

package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/valet-dev/valet/internal/auth"
	valeterr "github.com/valet-dev/valet/pkg/errors"
)

// Side-channel headers the mini-app session bridge sends alongside the
// bearer token.
const (
	headerSessionUser          = "X-Valet-User"
	headerSessionCalendarToken = "X-Valet-Calendar-Token"
)

type principalCtxKey struct{}

// authMiddleware resolves the bearer credential on every /api request and
// stores the resulting principal in the request context. Requests outside
// /api (health, OpenAPI docs) pass through unauthenticated.
func authMiddleware(verifier *auth.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.HasPrefix(r.URL.Path, "/api/") {
				next.ServeHTTP(w, r)
				return
			}

			cred := auth.Credential{
				Token:                bearerToken(r),
				SessionUserID:        r.Header.Get(headerSessionUser),
				SessionCalendarToken: r.Header.Get(headerSessionCalendarToken),
			}

			p, err := verifier.Verify(r.Context(), cred)
			if err != nil {
				slog.Debug("request rejected",
					"path", r.URL.Path,
					"remote", r.RemoteAddr,
					"error", err,
				)
				writeError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), principalCtxKey{}, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// principalFrom returns the authenticated principal stored by the auth
// middleware, or nil when the request never passed through it.
func principalFrom(ctx context.Context) *auth.Principal {
	p, _ := ctx.Value(principalCtxKey{}).(*auth.Principal)
	return p
}

// bearerToken extracts the token from an "Authorization: Bearer ..." header.
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

// writeError renders an error as a JSON body with the status derived from
// its code.
func writeError(w http.ResponseWriter, err error) {
	status := valeterr.HTTPStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"error":  err.Error(),
	})
}

// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/opentrusty/provisioner/internal/audit"
	"github.com/opentrusty/provisioner/internal/auth"
	"github.com/opentrusty/provisioner/internal/observability/logger"
)

// Tenant context principles:
// 1. The caller's tenant comes only from the verified bearer token.
// 2. No header, query parameter or path segment can set or elevate it.
// 3. A request that cannot be scoped to a tenant is unauthenticated.

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			slog.DebugContext(r.Context(), "http_request_start",
				logger.RequestID(middleware.GetReqID(r.Context())),
				logger.Method(r.Method),
				logger.Path(r.URL.Path),
				logger.RemoteAddr(r.RemoteAddr),
			)

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				slog.InfoContext(r.Context(), "http_request_end",
					logger.RequestID(middleware.GetReqID(r.Context())),
					logger.Method(r.Method),
					logger.Path(r.URL.Path),
					logger.RemoteAddr(r.RemoteAddr),
					logger.UserAgent(r.UserAgent()),
					logger.StatusCode(ww.Status()),
					logger.Duration(time.Since(start).Milliseconds()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// AuthMiddleware verifies the bearer token and stores the principal in the
// request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			h.unauthorized(w, "authentication required")
			return
		}

		p, err := h.verifier.Verify(token)
		if err != nil {
			slog.DebugContext(r.Context(), "bearer token rejected", logger.Error(err))
			h.unauthorized(w, "invalid bearer token")
			return
		}

		// Tenant context MUST be derived exclusively from the token.
		if r.Header.Get("X-Tenant-ID") != "" {
			slog.WarnContext(r.Context(), "tenant header spoofing attempt detected on authenticated route",
				logger.Subject(p.Subject),
			)
			writeProblem(w, newProblem(http.StatusBadRequest,
				"X-Tenant-ID header is not allowed; tenant is derived from the bearer token", h.now()))
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), p)))
	})
}

// RequireTenant resolves the caller's tenant from the principal. A missing
// or malformed tenant claim is a 401.
func (h *Handler) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := auth.ResolveTenantID(auth.FromContext(r.Context()))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withTenantID(r.Context(), tenantID)))
	})
}

// RequireRole rejects principals without role with 403.
func (h *Handler) RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := auth.FromContext(r.Context())
			if !p.HasRole(role) {
				h.auditLogger.Log(r.Context(), audit.Event{
					Type:      audit.TypeTenantAccessDenied,
					TenantID:  p.TenantID,
					ActorID:   auth.ActorID(r.Context()),
					Resource:  r.Method + " " + r.URL.Path,
					IPAddress: getClientIP(r),
					UserAgent: r.UserAgent(),
					Metadata:  map[string]any{"required_role": role},
				})
				writeProblem(w, newProblem(http.StatusForbidden, "Access denied", h.now()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (h *Handler) unauthorized(w http.ResponseWriter, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer`)
	writeProblem(w, newProblem(http.StatusUnauthorized, detail, h.now()))
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

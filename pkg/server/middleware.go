// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/caliberhq/caliber/pkg/caliberr"
	"github.com/caliberhq/caliber/pkg/id"
	"github.com/caliberhq/caliber/pkg/logger"
)

type contextKey string

const (
	tenantContextKey contextKey = "tenant_id"
	loggerContextKey contextKey = "logger"
)

// authMiddleware enforces that every request carries either an X-API-Key
// header or an Authorization: Bearer token, delegating the actual check to
// the configured Authenticator.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.opts.AllowUnauthenticated {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("X-API-Key") == "" && r.Header.Get("Authorization") == "" {
			writeError(w, caliberr.Forbidden("missing_credentials",
				"request must carry X-API-Key or Authorization: Bearer"))
			return
		}
		if err := s.opts.Authenticator.Authenticate(r); err != nil {
			writeError(w, caliberr.Forbidden("invalid_credentials", err.Error()).WithCause(err))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tenantMiddleware resolves the x-tenant-id header, stores it on the request
// context, and attaches it to the request-scoped logger.
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get("x-tenant-id")
		if raw == "" {
			writeError(w, caliberr.Validation("missing_required_field", "missing required field: x-tenant-id"))
			return
		}
		tenant, err := id.Parse(raw)
		if err != nil {
			writeError(w, caliberr.Validation("invalid_tenant_id", "x-tenant-id is not a valid id").WithCause(err))
			return
		}
		ctx := context.WithValue(r.Context(), tenantContextKey, tenant)
		ctx = context.WithValue(ctx, loggerContextKey, logger.WithTenant(s.opts.Logger, tenant.String()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// tenantFrom returns the tenant the middleware resolved for this request.
func tenantFrom(r *http.Request) id.ID {
	tenant, _ := r.Context().Value(tenantContextKey).(id.ID)
	return tenant
}

// loggerFrom returns the tenant-scoped request logger.
func (s *Server) loggerFrom(r *http.Request) *slog.Logger {
	if l, ok := r.Context().Value(loggerContextKey).(*slog.Logger); ok {
		return l
	}
	return s.opts.Logger
}

// wsAuthenticator adapts the server's header conventions to the broadcast
// handler: the WS upgrade authenticates like any other request and tags the
// subscriber with the x-tenant-id tenant.
func (s *Server) wsAuthenticator() func(r *http.Request) (id.ID, error) {
	return func(r *http.Request) (id.ID, error) {
		if !s.opts.AllowUnauthenticated {
			if r.Header.Get("X-API-Key") == "" && r.Header.Get("Authorization") == "" {
				return id.Nil, caliberr.Forbidden("missing_credentials",
					"request must carry X-API-Key or Authorization: Bearer")
			}
			if err := s.opts.Authenticator.Authenticate(r); err != nil {
				return id.Nil, caliberr.Forbidden("invalid_credentials", err.Error()).WithCause(err)
			}
		}
		raw := r.Header.Get("x-tenant-id")
		if raw == "" {
			return id.Nil, caliberr.Validation("missing_required_field", "missing required field: x-tenant-id")
		}
		tenant, err := id.Parse(raw)
		if err != nil {
			return id.Nil, caliberr.Validation("invalid_tenant_id", "x-tenant-id is not a valid id")
		}
		return tenant, nil
	}
}

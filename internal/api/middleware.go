package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/ignite/campaign-engine/internal/pkg/httputil"
	"github.com/ignite/campaign-engine/internal/tenant"
)

type contextKey string

const scopeKey contextKey = "tenant-scope"

// tenantMiddleware extracts the caller's organization from the
// X-Organization-ID header. Requests without a parseable organization are
// rejected before any handler runs; there is no anonymous tenant.
func tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := uuid.Parse(r.Header.Get("X-Organization-ID"))
		if err != nil || orgID == uuid.Nil {
			httputil.Error(w, http.StatusUnauthorized, "missing or invalid X-Organization-ID header")
			return
		}
		ctx := context.WithValue(r.Context(), scopeKey, tenant.NewScope(orgID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// scopeFrom returns the request's tenant scope. Panics outside the tenant
// middleware, which is a programming error, not a runtime condition.
func scopeFrom(r *http.Request) tenant.Scope {
	return r.Context().Value(scopeKey).(tenant.Scope)
}

package middleware

import (
	"log"
	"net/http"

	"patchcenter/appctx"
)

// OrganizationHeader carries the caller's tenant scope. The identity layer in
// front of this service is expected to have validated it already.
const OrganizationHeader = "X-Organization-ID"

// OrganizationMiddleware resolves the tenant scope for every request
type OrganizationMiddleware struct{}

func NewOrganizationMiddleware() *OrganizationMiddleware {
	return &OrganizationMiddleware{}
}

// WithOrganization wraps an HTTP handler, requiring the organization header
// and storing its value in the request context.
func (m *OrganizationMiddleware) WithOrganization(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		organizationID := r.Header.Get(OrganizationHeader)
		if organizationID == "" {
			log.Printf("❌ Request from %s missing organization header", r.RemoteAddr)
			http.Error(w, "organization header required", http.StatusUnauthorized)
			return
		}

		ctx := appctx.SetOrganizationID(r.Context(), organizationID)
		next(w, r.WithContext(ctx))
	}
}

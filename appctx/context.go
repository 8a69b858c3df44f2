package appctx

import (
	"context"
)

// Context key for storing the authenticated organization
type contextKey string

const OrganizationContextKey contextKey = "organization"

// SetOrganizationID adds the organization id to the request context
func SetOrganizationID(ctx context.Context, organizationID string) context.Context {
	return context.WithValue(ctx, OrganizationContextKey, organizationID)
}

// GetOrganizationID extracts the organization id from the request context
func GetOrganizationID(ctx context.Context) (string, bool) {
	organizationID, ok := ctx.Value(OrganizationContextKey).(string)
	return organizationID, ok
}

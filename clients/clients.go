package clients

import (
	"context"

	"patchcenter/models"
)

// PerAgentAppStatus values written back to the catalog when an operation
// touches an app on an agent
const (
	AppStatusPending   = "pending"
	AppStatusInstalled = "installed"
	AppStatusAvailable = "available"
)

// CatalogClient is the boundary to the package/catalog collaborator. The
// catalog owns app metadata and per-agent applicability; this subsystem only
// queries it at operation-creation time and pushes per-agent status updates.
type CatalogClient interface {
	// ResolveValidAppIDsForAgent returns the subset of appIDs that actually
	// apply to the given agent. The subset may be empty.
	ResolveValidAppIDsForAgent(ctx context.Context, appIDs []string, agentID string) ([]string, error)

	// GetDownloadDescriptor resolves the download payload for one app on one
	// agent: name, version, URIs and CLI options.
	GetDownloadDescriptor(ctx context.Context, appID, agentID string) (*models.AppFileData, error)

	// SetPerAgentAppStatus updates the catalog's per-agent app status.
	SetPerAgentAppStatus(ctx context.Context, agentID, appID, status string) error
}

// TagsClient is the boundary to the tag/group collaborator. Tag membership is
// consumed here, never managed.
type TagsClient interface {
	// ExpandTagToAgentIDs returns the tag's current agent membership.
	ExpandTagToAgentIDs(ctx context.Context, organizationID, tagID string) ([]string, error)
}

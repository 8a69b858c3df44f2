package clients

import (
	"context"

	"github.com/stretchr/testify/mock"

	"patchcenter/models"
)

// MockCatalogClient is a mock implementation of CatalogClient
type MockCatalogClient struct {
	mock.Mock
}

func (m *MockCatalogClient) ResolveValidAppIDsForAgent(
	ctx context.Context,
	appIDs []string,
	agentID string,
) ([]string, error) {
	args := m.Called(ctx, appIDs, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCatalogClient) GetDownloadDescriptor(
	ctx context.Context,
	appID, agentID string,
) (*models.AppFileData, error) {
	args := m.Called(ctx, appID, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AppFileData), args.Error(1)
}

func (m *MockCatalogClient) SetPerAgentAppStatus(ctx context.Context, agentID, appID, status string) error {
	args := m.Called(ctx, agentID, appID, status)
	return args.Error(0)
}

// MockTagsClient is a mock implementation of TagsClient
type MockTagsClient struct {
	mock.Mock
}

func (m *MockTagsClient) ExpandTagToAgentIDs(
	ctx context.Context,
	organizationID, tagID string,
) ([]string, error) {
	args := m.Called(ctx, organizationID, tagID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

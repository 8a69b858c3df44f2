package testutils

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"patchcenter/config"
	"patchcenter/models"
)

// LoadTestConfig loads configuration for tests from environment variables
func LoadTestConfig() (*config.AppConfig, error) {
	// Try to load environment variables from various possible locations
	_ = godotenv.Load("../.env.test") // From services/ directory
	_ = godotenv.Load(".env.test")    // From root directory
	_ = godotenv.Load()               // Default .env file

	databaseURL := os.Getenv("DB_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("DB_URL is not set")
	}

	databaseSchema := os.Getenv("DB_SCHEMA")
	if databaseSchema == "" {
		return nil, fmt.Errorf("DB_SCHEMA is not set")
	}

	return &config.AppConfig{
		DatabaseURL:    databaseURL,
		DatabaseSchema: databaseSchema,
	}, nil
}

// NewTestOrgID returns a unique organization id so concurrent test runs never
// collide on shared tables.
func NewTestOrgID() string {
	return "org-test-" + uuid.New().String()
}

// NewTestAgentID returns a unique agent id for fixtures
func NewTestAgentID() string {
	return "agent-test-" + uuid.New().String()
}

// TestInstallRequest builds a valid install-operation request against the
// given agents and apps.
func TestInstallRequest(agentIDs, appIDs []string) *models.CreateOperationRequest {
	return &models.CreateOperationRequest{
		OperationType: models.OperationTypeInstallOSApps,
		Target:        models.OperationTarget{AgentIDs: agentIDs},
		AppIDs:        appIDs,
		CreatedBy:     "test-admin",
	}
}

// TestFileData builds a download descriptor fixture for one app
func TestFileData(appID string) models.AppFileData {
	return models.AppFileData{
		AppID:      appID,
		AppName:    "pkg-" + appID,
		AppVersion: "1.0.0",
		AppURIs:    []string{"https://mirror.test/" + appID + ".pkg"},
	}
}

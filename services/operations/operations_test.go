package operations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchcenter/db"
	"patchcenter/models"
	"patchcenter/services/txmanager"
	"patchcenter/testutils"
)

func setupTestOperationsService(t *testing.T) (*OperationsService, *db.PostgresOperationsRepository, func()) {
	cfg, err := testutils.LoadTestConfig()
	if err != nil {
		t.Skipf("skipping database-backed test: %v", err)
	}

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	require.NoError(t, err, "Failed to create database connection")

	operationsRepo := db.NewPostgresOperationsRepository(dbConn, cfg.DatabaseSchema)
	operationAgentsRepo := db.NewPostgresOperationAgentsRepository(dbConn, cfg.DatabaseSchema)
	operationAppsRepo := db.NewPostgresOperationAppsRepository(dbConn, cfg.DatabaseSchema)
	txManager := txmanager.NewTransactionManager(dbConn)
	service := NewOperationsService(operationsRepo, operationAgentsRepo, operationAppsRepo, txManager)

	cleanup := func() {
		dbConn.Close()
	}
	return service, operationsRepo, cleanup
}

func TestOperationsService(t *testing.T) {
	service, operationsRepo, cleanup := setupTestOperationsService(t)
	defer cleanup()

	ctx := context.Background()
	orgID := testutils.NewTestOrgID()

	t.Run("CreateOperation", func(t *testing.T) {
		t.Run("Success", func(t *testing.T) {
			agentIDs := []string{testutils.NewTestAgentID(), testutils.NewTestAgentID()}
			req := testutils.TestInstallRequest(agentIDs, []string{"app-1"})

			op, err := service.CreateOperation(ctx, orgID, req, agentIDs)
			require.NoError(t, err)
			defer func() { _, _ = operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

			assert.Contains(t, op.ID, "op_")
			assert.Equal(t, 2, op.AgentsTotal)
			assert.Equal(t, 2, op.AgentsPendingPickup)
			assert.Equal(t, models.PerformedOnAgent, op.PerformedOn)
			assert.True(t, op.CountersReconcile())
			assert.Nil(t, op.CompletedTime)
		})

		t.Run("InvalidType", func(t *testing.T) {
			req := testutils.TestInstallRequest([]string{"agent-a"}, []string{"app-1"})
			req.OperationType = "defragment"

			_, err := service.CreateOperation(ctx, orgID, req, []string{"agent-a"})
			assert.Error(t, err)
		})

		t.Run("EmptySnapshot", func(t *testing.T) {
			req := testutils.TestInstallRequest(nil, []string{"app-1"})

			_, err := service.CreateOperation(ctx, orgID, req, nil)
			assert.Error(t, err)
		})
	})

	t.Run("AddAgentToOperation", func(t *testing.T) {
		agentID := testutils.NewTestAgentID()
		req := testutils.TestInstallRequest([]string{agentID}, []string{"app-1", "app-2"})
		op, err := service.CreateOperation(ctx, orgID, req, []string{agentID})
		require.NoError(t, err)
		defer func() { _, _ = operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		apps := []models.AppFileData{testutils.TestFileData("app-1"), testutils.TestFileData("app-2")}
		rec, err := service.AddAgentToOperation(ctx, op.ID, agentID, orgID, apps)
		require.NoError(t, err)

		assert.Equal(t, models.AgentStatusPendingPickup, rec.Status)
		assert.Equal(t, 2, rec.AppsTotal)
		assert.Equal(t, 2, rec.AppsPending)

		maybeDetail, err := service.GetOperationDetail(ctx, op.ID, orgID)
		require.NoError(t, err)
		require.True(t, maybeDetail.IsPresent())
		detail := maybeDetail.MustGet()
		require.Len(t, detail.Agents, 1)
		assert.Len(t, detail.Agents[0].Apps, 2)
		assert.Equal(t, models.AppResultPending, detail.Agents[0].Apps[0].Results)
	})

	t.Run("MarkAgentDispatchFailed", func(t *testing.T) {
		agentID := testutils.NewTestAgentID()
		req := testutils.TestInstallRequest([]string{agentID}, []string{"app-1"})
		op, err := service.CreateOperation(ctx, orgID, req, []string{agentID})
		require.NoError(t, err)
		defer func() { _, _ = operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		err = service.MarkAgentDispatchFailed(ctx, op.ID, agentID, orgID, "catalog unreachable")
		require.NoError(t, err)

		maybeOp, err := service.GetOperationByID(ctx, op.ID, orgID)
		require.NoError(t, err)
		updated := maybeOp.MustGet()
		assert.Equal(t, 0, updated.AgentsPendingPickup)
		assert.Equal(t, 1, updated.AgentsFailed)
		assert.True(t, updated.CountersReconcile())
		// The operation finishes once its only agent fails to dispatch
		assert.NotNil(t, updated.CompletedTime)

		maybeDetail, err := service.GetOperationDetail(ctx, op.ID, orgID)
		require.NoError(t, err)
		detail := maybeDetail.MustGet()
		require.Len(t, detail.Agents, 1)
		assert.Equal(t, models.AgentStatusFailed, detail.Agents[0].Status)
		require.NotNil(t, detail.Agents[0].Errors)
		assert.Equal(t, "catalog unreachable", *detail.Agents[0].Errors)
	})

	t.Run("GetOperationByID", func(t *testing.T) {
		t.Run("NotFound", func(t *testing.T) {
			maybeOp, err := service.GetOperationByID(ctx, "op_01K00000000000000000000000", orgID)
			require.NoError(t, err)
			assert.False(t, maybeOp.IsPresent())
		})

		t.Run("WrongOrganization", func(t *testing.T) {
			agentID := testutils.NewTestAgentID()
			req := testutils.TestInstallRequest([]string{agentID}, []string{"app-1"})
			op, err := service.CreateOperation(ctx, orgID, req, []string{agentID})
			require.NoError(t, err)
			defer func() { _, _ = operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

			maybeOp, err := service.GetOperationByID(ctx, op.ID, testutils.NewTestOrgID())
			require.NoError(t, err)
			assert.False(t, maybeOp.IsPresent())
		})
	})

	t.Run("GetOperationsByType", func(t *testing.T) {
		scopedOrg := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		req := testutils.TestInstallRequest([]string{agentID}, []string{"app-1"})
		op, err := service.CreateOperation(ctx, scopedOrg, req, []string{agentID})
		require.NoError(t, err)
		defer func() { _, _ = operationsRepo.DeleteOperation(ctx, op.ID, scopedOrg) }()

		ops, err := service.GetOperationsByType(ctx, models.OperationTypeInstallOSApps, scopedOrg)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, op.ID, ops[0].ID)

		none, err := service.GetOperationsByType(ctx, models.OperationTypeReboot, scopedOrg)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"patchcenter/db"
	"patchcenter/models"
	"patchcenter/services"
	"patchcenter/services/operations"
	"patchcenter/services/txmanager"
	"patchcenter/testutils"
)

type queueTestEnv struct {
	queueService      *AgentQueueService
	operationsService *operations.OperationsService
	operationsRepo    *db.PostgresOperationsRepository
	agentsRepo        *db.PostgresOperationAgentsRepository
	queueRepo         *db.PostgresAgentQueueRepository
	txManager         services.TransactionManager
}

func setupTestQueueService(t *testing.T, serverTTL time.Duration) (*queueTestEnv, func()) {
	cfg, err := testutils.LoadTestConfig()
	if err != nil {
		t.Skipf("skipping database-backed test: %v", err)
	}

	dbConn, err := db.NewConnection(cfg.DatabaseURL)
	require.NoError(t, err, "Failed to create database connection")

	operationsRepo := db.NewPostgresOperationsRepository(dbConn, cfg.DatabaseSchema)
	operationAgentsRepo := db.NewPostgresOperationAgentsRepository(dbConn, cfg.DatabaseSchema)
	operationAppsRepo := db.NewPostgresOperationAppsRepository(dbConn, cfg.DatabaseSchema)
	queueRepo := db.NewPostgresAgentQueueRepository(dbConn, cfg.DatabaseSchema)
	txManager := txmanager.NewTransactionManager(dbConn)

	env := &queueTestEnv{
		queueService: NewAgentQueueService(
			queueRepo, operationsRepo, operationAgentsRepo, txManager,
			serverTTL, 10*time.Minute),
		operationsService: operations.NewOperationsService(
			operationsRepo, operationAgentsRepo, operationAppsRepo, txManager),
		operationsRepo: operationsRepo,
		agentsRepo:     operationAgentsRepo,
		queueRepo:      queueRepo,
		txManager:      txManager,
	}

	cleanup := func() {
		dbConn.Close()
	}
	return env, cleanup
}

// createDispatchedOperation builds a full single-agent operation: master
// record, per-agent and per-app records, and a queue entry.
func createDispatchedOperation(
	t *testing.T,
	env *queueTestEnv,
	orgID, agentID string,
	appIDs []string,
) *models.Operation {
	ctx := context.Background()
	req := testutils.TestInstallRequest([]string{agentID}, appIDs)

	op, err := env.operationsService.CreateOperation(ctx, orgID, req, []string{agentID})
	require.NoError(t, err)

	fileData := make([]models.AppFileData, 0, len(appIDs))
	for _, appID := range appIDs {
		fileData = append(fileData, testutils.TestFileData(appID))
	}
	_, err = env.operationsService.AddAgentToOperation(ctx, op.ID, agentID, orgID, fileData)
	require.NoError(t, err)

	inserted, err := env.queueService.EnqueueForAgent(ctx, op, agentID, fileData)
	require.NoError(t, err)
	require.True(t, inserted)

	return op
}

func TestAgentQueueService(t *testing.T) {
	env, cleanup := setupTestQueueService(t, 10*time.Minute)
	defer cleanup()

	ctx := context.Background()

	t.Run("EnqueueIsIdempotent", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		op := createDispatchedOperation(t, env, orgID, agentID, []string{"app-1"})
		defer func() { _, _ = env.operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		// Same operation, same agent: second enqueue is a no-op
		inserted, err := env.queueService.EnqueueForAgent(ctx, op, agentID, nil)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("PollClaimsAndTransitions", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		op := createDispatchedOperation(t, env, orgID, agentID, []string{"app-1"})
		defer func() { _, _ = env.operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		entries, err := env.queueService.PollAgentQueue(ctx, agentID, orgID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, op.ID, entries[0].OperationID)
		assert.Len(t, entries[0].FileData, 1)
		assert.Equal(t, "app-1", entries[0].FileData[0].AppID)

		// Pickup moved the per-agent record and the master counters
		maybeRec, err := env.agentsRepo.GetOperationAgent(ctx, op.ID, agentID, orgID)
		require.NoError(t, err)
		rec := maybeRec.MustGet()
		assert.Equal(t, models.AgentStatusPendingResults, rec.Status)
		assert.NotNil(t, rec.PickedUpTime)

		maybeOp, err := env.operationsRepo.GetOperationByID(ctx, op.ID, orgID)
		require.NoError(t, err)
		updated := maybeOp.MustGet()
		assert.Equal(t, 0, updated.AgentsPendingPickup)
		assert.Equal(t, 1, updated.AgentsPendingResults)
		assert.True(t, updated.CountersReconcile())

		// The claim removed the entry: a second poll sees nothing
		entries, err = env.queueService.PollAgentQueue(ctx, agentID, orgID)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("PollOrdersByEnqueueOrder", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		first := createDispatchedOperation(t, env, orgID, agentID, []string{"app-1"})
		second := createDispatchedOperation(t, env, orgID, agentID, []string{"app-2"})
		defer func() {
			_, _ = env.operationsRepo.DeleteOperation(ctx, first.ID, orgID)
			_, _ = env.operationsRepo.DeleteOperation(ctx, second.ID, orgID)
		}()

		entries, err := env.queueService.PollAgentQueue(ctx, agentID, orgID)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, first.ID, entries[0].OperationID)
		assert.Equal(t, second.ID, entries[1].OperationID)
		assert.Less(t, entries[0].OrderID, entries[1].OrderID)
	})

	t.Run("PollClaimAndPickupShareOneTransaction", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		op := createDispatchedOperation(t, env, orgID, agentID, []string{"app-1"})
		defer func() { _, _ = env.operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		// A failure after the poll rolls back both the destructive claim and
		// the pickup transition, so the entry cannot be lost while the record
		// sits in pending_pickup.
		pollFailed := errors.New("poll consumer crashed")
		err := env.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			entries, err := env.queueService.PollAgentQueue(txCtx, agentID, orgID)
			require.NoError(t, err)
			require.Len(t, entries, 1)
			return pollFailed
		})
		require.ErrorIs(t, err, pollFailed)

		maybeRec, err := env.agentsRepo.GetOperationAgent(ctx, op.ID, agentID, orgID)
		require.NoError(t, err)
		assert.Equal(t, models.AgentStatusPendingPickup, maybeRec.MustGet().Status)

		maybeOp, err := env.operationsRepo.GetOperationByID(ctx, op.ID, orgID)
		require.NoError(t, err)
		assert.Equal(t, 1, maybeOp.MustGet().AgentsPendingPickup)

		// The entry is back on the queue and a fresh poll claims it
		entries, err := env.queueService.PollAgentQueue(ctx, agentID, orgID)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, op.ID, entries[0].OperationID)
	})

	t.Run("ZeroAppEntryCompletesAtPickup", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		op := createDispatchedOperation(t, env, orgID, agentID, nil)
		defer func() { _, _ = env.operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		entries, err := env.queueService.PollAgentQueue(ctx, agentID, orgID)
		require.NoError(t, err)
		require.Len(t, entries, 1)

		maybeRec, err := env.agentsRepo.GetOperationAgent(ctx, op.ID, agentID, orgID)
		require.NoError(t, err)
		assert.Equal(t, models.AgentStatusCompleted, maybeRec.MustGet().Status)

		maybeOp, err := env.operationsRepo.GetOperationByID(ctx, op.ID, orgID)
		require.NoError(t, err)
		updated := maybeOp.MustGet()
		assert.Equal(t, 1, updated.AgentsCompleted)
		assert.NotNil(t, updated.CompletedTime)
	})
}

func TestAgentQueueServiceExpiry(t *testing.T) {
	// A negative server TTL makes every entry expired on arrival
	env, cleanup := setupTestQueueService(t, -time.Minute)
	defer cleanup()

	ctx := context.Background()

	t.Run("ExpiredEntryIsInvisibleToPolls", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		op := createDispatchedOperation(t, env, orgID, agentID, []string{"app-1"})
		defer func() { _, _ = env.operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		entries, err := env.queueService.PollAgentQueue(ctx, agentID, orgID)
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("SweepExpiresUnpickedEntries", func(t *testing.T) {
		orgID := testutils.NewTestOrgID()
		agentID := testutils.NewTestAgentID()
		op := createDispatchedOperation(t, env, orgID, agentID, []string{"app-1"})
		defer func() { _, _ = env.operationsRepo.DeleteOperation(ctx, op.ID, orgID) }()

		maybeEntry, err := env.queueRepo.GetEntry(ctx, op.ID, agentID, orgID)
		require.NoError(t, err)
		require.True(t, maybeEntry.IsPresent())
		assert.True(t, maybeEntry.MustGet().ServerExpired(time.Now()))

		expired, err := env.queueService.ExpireUnpickedEntries(ctx, time.Now())
		require.NoError(t, err)
		assert.GreaterOrEqual(t, expired, 1)

		maybeRec, err := env.agentsRepo.GetOperationAgent(ctx, op.ID, agentID, orgID)
		require.NoError(t, err)
		rec := maybeRec.MustGet()
		assert.Equal(t, models.AgentStatusExpired, rec.Status)
		assert.NotNil(t, rec.ExpiredTime)

		maybeOp, err := env.operationsRepo.GetOperationByID(ctx, op.ID, orgID)
		require.NoError(t, err)
		updated := maybeOp.MustGet()
		assert.Equal(t, 1, updated.AgentsExpired)
		assert.Equal(t, 0, updated.AgentsPendingPickup)
		assert.True(t, updated.CountersReconcile())
		assert.NotNil(t, updated.CompletedTime)

		// The sweep deleted the entry
		maybeEntry, err = env.queueRepo.GetEntry(ctx, op.ID, agentID, orgID)
		require.NoError(t, err)
		assert.False(t, maybeEntry.IsPresent())
	})
}

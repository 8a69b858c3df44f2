package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"patchcenter/clients"
	"patchcenter/models"
	"patchcenter/services"
)

type useCaseMocks struct {
	catalogClient     *clients.MockCatalogClient
	tagsClient        *clients.MockTagsClient
	operationsService *services.MockOperationsService
	queueService      *services.MockAgentQueueService
	resultsService    *services.MockResultsService
	schedulerService  *services.MockSchedulerService
}

func newTestUseCase() (*CoreUseCase, *useCaseMocks) {
	m := &useCaseMocks{
		catalogClient:     &clients.MockCatalogClient{},
		tagsClient:        &clients.MockTagsClient{},
		operationsService: &services.MockOperationsService{},
		queueService:      &services.MockAgentQueueService{},
		resultsService:    &services.MockResultsService{},
		schedulerService:  &services.MockSchedulerService{},
	}
	useCase := NewCoreUseCase(
		m.catalogClient,
		m.tagsClient,
		m.operationsService,
		m.queueService,
		m.resultsService,
		m.schedulerService,
		&services.TestTransactionManager{},
		10*time.Minute,
	)
	return useCase, m
}

func strPtr(s string) *string { return &s }

func testOperation(id, orgID string, opType models.OperationType) *models.Operation {
	return &models.Operation{
		ID:            id,
		OrgID:         orgID,
		OperationType: opType,
	}
}

func expectCleanDispatch(m *useCaseMocks, op *models.Operation, agentID string, appIDs []string) {
	descriptors := make([]models.AppFileData, 0, len(appIDs))
	for _, appID := range appIDs {
		descriptor := models.AppFileData{
			AppID:      appID,
			AppName:    "pkg-" + appID,
			AppVersion: "1.0",
			AppURIs:    []string{"https://mirror.example.com/" + appID},
		}
		descriptors = append(descriptors, descriptor)
		m.catalogClient.On("GetDownloadDescriptor", mock.Anything, appID, agentID).
			Return(&descriptor, nil)
		m.catalogClient.On("SetPerAgentAppStatus", mock.Anything, agentID, appID, clients.AppStatusPending).
			Return(nil)
	}
	m.catalogClient.On("ResolveValidAppIDsForAgent", mock.Anything, mock.Anything, agentID).
		Return(appIDs, nil)
	m.operationsService.On("AddAgentToOperation", mock.Anything, op.ID, agentID, op.OrgID, mock.Anything).
		Return(&models.OperationPerAgent{
			OperationID: op.ID,
			AgentID:     agentID,
			OrgID:       op.OrgID,
			Status:      models.AgentStatusPendingPickup,
			AppsTotal:   len(descriptors),
			AppsPending: len(descriptors),
		}, nil)
	m.queueService.On("EnqueueForAgent", mock.Anything, op, agentID, mock.Anything).
		Return(true, nil)
}

func TestCreateOperation_TargetSnapshot(t *testing.T) {
	t.Run("union of explicit agents and tag membership, deduplicated and sorted", func(t *testing.T) {
		useCase, m := newTestUseCase()
		orgID := "org-1"
		tagID := "tag-web"
		op := testOperation("op_01K0TESTSNAPSHOT0000000000", orgID, models.OperationTypeInstallOSApps)

		m.tagsClient.On("ExpandTagToAgentIDs", mock.Anything, orgID, tagID).
			Return([]string{"agent-b", "agent-c"}, nil)
		m.operationsService.On("CreateOperation", mock.Anything, orgID, mock.Anything,
			[]string{"agent-a", "agent-b", "agent-c"}).
			Return(op, nil)
		for _, agentID := range []string{"agent-a", "agent-b", "agent-c"} {
			expectCleanDispatch(m, op, agentID, []string{"app-1"})
		}

		result, err := useCase.CreateOperation(context.Background(), orgID, &models.CreateOperationRequest{
			OperationType: models.OperationTypeInstallOSApps,
			Target: models.OperationTarget{
				AgentIDs: []string{"agent-b", "agent-a"},
				TagID:    &tagID,
			},
			AppIDs:    []string{"app-1"},
			CreatedBy: "admin",
		})

		require.NoError(t, err)
		assert.Equal(t, op.ID, result.OperationID)
		assert.Empty(t, result.FailedAgentIDs)
		m.operationsService.AssertExpectations(t)
		m.tagsClient.AssertExpectations(t)
	})

	t.Run("empty tag resolution is rejected before any record is created", func(t *testing.T) {
		useCase, m := newTestUseCase()
		tagID := "tag-empty"

		m.tagsClient.On("ExpandTagToAgentIDs", mock.Anything, "org-1", tagID).
			Return([]string{}, nil)

		_, err := useCase.CreateOperation(context.Background(), "org-1", &models.CreateOperationRequest{
			OperationType: models.OperationTypeInstallOSApps,
			Target:        models.OperationTarget{TagID: &tagID},
			AppIDs:        []string{"app-1"},
			CreatedBy:     "admin",
		})

		require.Error(t, err)

		// A target that resolves to nothing is a validation failure the
		// caller can act on, not an internal error
		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		require.Len(t, validationErr.Violations, 1)
		assert.Equal(t, "target", validationErr.Violations[0].Field)
		assert.Equal(t, models.PolicyCodeEmptyTarget, validationErr.Violations[0].Code)
		m.operationsService.AssertNotCalled(t, "CreateOperation",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestCreateOperation_Validation(t *testing.T) {
	t.Run("install without app ids reports violations and touches nothing", func(t *testing.T) {
		useCase, m := newTestUseCase()

		_, err := useCase.CreateOperation(context.Background(), "org-1", &models.CreateOperationRequest{
			OperationType: models.OperationTypeInstallOSApps,
			Target:        models.OperationTarget{},
			CreatedBy:     "admin",
		})

		require.Error(t, err)
		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))

		codes := make([]string, 0, len(validationErr.Violations))
		for _, v := range validationErr.Violations {
			codes = append(codes, v.Code)
		}
		assert.Contains(t, codes, models.PolicyCodeEmptyTarget)
		assert.Contains(t, codes, models.PolicyCodeEmptyAppIDs)
		m.operationsService.AssertNotCalled(t, "CreateOperation",
			mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("reboot needs no app ids", func(t *testing.T) {
		useCase, m := newTestUseCase()
		op := testOperation("op_01K0TESTREBOOT000000000000", "org-1", models.OperationTypeReboot)

		m.operationsService.On("CreateOperation", mock.Anything, "org-1", mock.Anything, []string{"agent-a"}).
			Return(op, nil)
		m.operationsService.On("AddAgentToOperation", mock.Anything, op.ID, "agent-a", "org-1", mock.Anything).
			Return(&models.OperationPerAgent{
				OperationID: op.ID,
				AgentID:     "agent-a",
				Status:      models.AgentStatusPendingPickup,
			}, nil)
		m.queueService.On("EnqueueForAgent", mock.Anything, op, "agent-a", mock.Anything).
			Return(true, nil)

		result, err := useCase.CreateOperation(context.Background(), "org-1", &models.CreateOperationRequest{
			OperationType: models.OperationTypeReboot,
			Target:        models.OperationTarget{AgentIDs: []string{"agent-a"}},
			CreatedBy:     "admin",
		})

		require.NoError(t, err)
		assert.Empty(t, result.FailedAgentIDs)
		// Agent-level operations never consult the catalog
		m.catalogClient.AssertNotCalled(t, "ResolveValidAppIDsForAgent",
			mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("invalid policy values are reported by code", func(t *testing.T) {
		useCase, _ := newTestUseCase()

		_, err := useCase.CreateOperation(context.Background(), "org-1", &models.CreateOperationRequest{
			OperationType: models.OperationTypeReboot,
			Target:        models.OperationTarget{AgentIDs: []string{"agent-a"}},
			Policy: models.InstallPolicy{
				RestartPolicy: "sometimes",
			},
			CreatedBy: "admin",
		})

		require.Error(t, err)
		var validationErr *ValidationError
		require.True(t, errors.As(err, &validationErr))
		require.Len(t, validationErr.Violations, 1)
		assert.Equal(t, models.PolicyCodeInvalidRestart, validationErr.Violations[0].Code)
	})
}

func TestCreateOperation_PartialFanout(t *testing.T) {
	t.Run("one agent's failure never blocks the others", func(t *testing.T) {
		useCase, m := newTestUseCase()
		orgID := "org-1"
		op := testOperation("op_01K0TESTPARTIAL00000000000", orgID, models.OperationTypeInstallOSApps)

		m.operationsService.On("CreateOperation", mock.Anything, orgID, mock.Anything,
			[]string{"agent-bad", "agent-good"}).
			Return(op, nil)

		expectCleanDispatch(m, op, "agent-good", []string{"app-1"})
		m.catalogClient.On("ResolveValidAppIDsForAgent", mock.Anything, mock.Anything, "agent-bad").
			Return(nil, errors.New("catalog unreachable"))
		m.operationsService.On("MarkAgentDispatchFailed",
			mock.Anything, op.ID, "agent-bad", orgID, mock.Anything).
			Return(nil)

		result, err := useCase.CreateOperation(context.Background(), orgID, &models.CreateOperationRequest{
			OperationType: models.OperationTypeInstallOSApps,
			Target:        models.OperationTarget{AgentIDs: []string{"agent-good", "agent-bad"}},
			AppIDs:        []string{"app-1"},
			CreatedBy:     "admin",
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"agent-bad"}, result.FailedAgentIDs)
		m.operationsService.AssertExpectations(t)
		m.queueService.AssertCalled(t, "EnqueueForAgent", mock.Anything, op, "agent-good", mock.Anything)
	})

	t.Run("enqueue failure is recorded per agent", func(t *testing.T) {
		useCase, m := newTestUseCase()
		orgID := "org-1"
		op := testOperation("op_01K0TESTENQFAIL00000000000", orgID, models.OperationTypeReboot)

		m.operationsService.On("CreateOperation", mock.Anything, orgID, mock.Anything, []string{"agent-a"}).
			Return(op, nil)
		m.operationsService.On("AddAgentToOperation", mock.Anything, op.ID, "agent-a", orgID, mock.Anything).
			Return(&models.OperationPerAgent{OperationID: op.ID, AgentID: "agent-a"}, nil)
		m.queueService.On("EnqueueForAgent", mock.Anything, op, "agent-a", mock.Anything).
			Return(false, errors.New("queue insert failed"))
		m.operationsService.On("MarkAgentDispatchFailed",
			mock.Anything, op.ID, "agent-a", orgID, mock.Anything).
			Return(nil)

		result, err := useCase.CreateOperation(context.Background(), orgID, &models.CreateOperationRequest{
			OperationType: models.OperationTypeReboot,
			Target:        models.OperationTarget{AgentIDs: []string{"agent-a"}},
			CreatedBy:     "admin",
		})

		require.NoError(t, err)
		assert.Equal(t, []string{"agent-a"}, result.FailedAgentIDs)
	})
}

func TestReportDelegation(t *testing.T) {
	t.Run("app result delegates with organization scope", func(t *testing.T) {
		useCase, m := newTestUseCase()
		m.resultsService.On("ReportAppResult",
			mock.Anything, "op_01K0TESTDELEGATE0000000000", "agent-a", "app-1", "org-1", true, (*string)(nil)).
			Return(nil)

		err := useCase.ReportAppResult(
			context.Background(), "org-1", "op_01K0TESTDELEGATE0000000000", "agent-a", "app-1", true, nil)

		require.NoError(t, err)
		m.resultsService.AssertExpectations(t)
	})

	t.Run("agent outcome delegates with error detail", func(t *testing.T) {
		useCase, m := newTestUseCase()
		detail := strPtr("reboot timed out")
		m.resultsService.On("ReportAgentOutcome",
			mock.Anything, "op_01K0TESTDELEGATE0000000000", "agent-a", "org-1", false, detail).
			Return(nil)

		err := useCase.ReportAgentOutcome(
			context.Background(), "org-1", "op_01K0TESTDELEGATE0000000000", "agent-a", false, detail)

		require.NoError(t, err)
		m.resultsService.AssertExpectations(t)
	})
}

func TestGetOperationDelegation(t *testing.T) {
	useCase, m := newTestUseCase()
	op := testOperation("op_01K0TESTGET000000000000000", "org-1", models.OperationTypeReboot)
	m.operationsService.On("GetOperationByID", mock.Anything, op.ID, "org-1").
		Return(mo.Some(op), nil)

	maybeOp, err := useCase.GetOperation(context.Background(), "org-1", op.ID)

	require.NoError(t, err)
	require.True(t, maybeOp.IsPresent())
	assert.Equal(t, op.ID, maybeOp.MustGet().ID)
}

package services

import (
	"context"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"patchcenter/models"
)

// MockOperationsService is a mock implementation of OperationsService
type MockOperationsService struct {
	mock.Mock
}

func (m *MockOperationsService) CreateOperation(
	ctx context.Context,
	organizationID string,
	req *models.CreateOperationRequest,
	agentIDs []string,
) (*models.Operation, error) {
	args := m.Called(ctx, organizationID, req, agentIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Operation), args.Error(1)
}

func (m *MockOperationsService) AddAgentToOperation(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	apps []models.AppFileData,
) (*models.OperationPerAgent, error) {
	args := m.Called(ctx, operationID, agentID, organizationID, apps)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.OperationPerAgent), args.Error(1)
}

func (m *MockOperationsService) MarkAgentDispatchFailed(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	reason string,
) error {
	args := m.Called(ctx, operationID, agentID, organizationID, reason)
	return args.Error(0)
}

func (m *MockOperationsService) GetOperationByID(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.Operation], error) {
	args := m.Called(ctx, id, organizationID)
	return args.Get(0).(mo.Option[*models.Operation]), args.Error(1)
}

func (m *MockOperationsService) GetOperationDetail(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.OperationDetail], error) {
	args := m.Called(ctx, id, organizationID)
	return args.Get(0).(mo.Option[*models.OperationDetail]), args.Error(1)
}

func (m *MockOperationsService) GetOperationsByType(
	ctx context.Context,
	operationType models.OperationType,
	organizationID string,
) ([]*models.Operation, error) {
	args := m.Called(ctx, operationType, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.Operation), args.Error(1)
}

func (m *MockOperationsService) GetOperationsForAgent(
	ctx context.Context,
	agentID string,
	organizationID string,
) ([]*models.OperationPerAgent, error) {
	args := m.Called(ctx, agentID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.OperationPerAgent), args.Error(1)
}

// MockAgentQueueService is a mock implementation of AgentQueueService
type MockAgentQueueService struct {
	mock.Mock
}

func (m *MockAgentQueueService) EnqueueForAgent(
	ctx context.Context,
	op *models.Operation,
	agentID string,
	fileData []models.AppFileData,
) (bool, error) {
	args := m.Called(ctx, op, agentID, fileData)
	return args.Bool(0), args.Error(1)
}

func (m *MockAgentQueueService) PollAgentQueue(
	ctx context.Context,
	agentID string,
	organizationID string,
) ([]*models.AgentQueueEntry, error) {
	args := m.Called(ctx, agentID, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.AgentQueueEntry), args.Error(1)
}

func (m *MockAgentQueueService) ExpireUnpickedEntries(ctx context.Context, now time.Time) (int, error) {
	args := m.Called(ctx, now)
	return args.Int(0), args.Error(1)
}

// MockResultsService is a mock implementation of ResultsService
type MockResultsService struct {
	mock.Mock
}

func (m *MockResultsService) ReportAppResult(
	ctx context.Context,
	operationID, agentID, appID string,
	organizationID string,
	success bool,
	errorDetail *string,
) error {
	args := m.Called(ctx, operationID, agentID, appID, organizationID, success, errorDetail)
	return args.Error(0)
}

func (m *MockResultsService) ReportAgentOutcome(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	success bool,
	errorDetail *string,
) error {
	args := m.Called(ctx, operationID, agentID, organizationID, success, errorDetail)
	return args.Error(0)
}

func (m *MockResultsService) ExpireOverduePickedUp(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

// MockSchedulerService is a mock implementation of SchedulerService
type MockSchedulerService struct {
	mock.Mock
}

func (m *MockSchedulerService) CreateScheduledJob(
	ctx context.Context,
	organizationID string,
	req *models.CreateScheduledJobRequest,
) (*models.ScheduledJob, error) {
	args := m.Called(ctx, organizationID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ScheduledJob), args.Error(1)
}

func (m *MockSchedulerService) GetScheduledJobByID(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.ScheduledJob], error) {
	args := m.Called(ctx, id, organizationID)
	return args.Get(0).(mo.Option[*models.ScheduledJob]), args.Error(1)
}

func (m *MockSchedulerService) ListScheduledJobs(
	ctx context.Context,
	organizationID string,
) ([]*models.ScheduledJob, error) {
	args := m.Called(ctx, organizationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ScheduledJob), args.Error(1)
}

func (m *MockSchedulerService) CancelScheduledJob(ctx context.Context, id string, organizationID string) error {
	args := m.Called(ctx, id, organizationID)
	return args.Error(0)
}

func (m *MockSchedulerService) GetDueJobs(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.ScheduledJob), args.Error(1)
}

func (m *MockSchedulerService) AdvanceJob(ctx context.Context, job *models.ScheduledJob, firedAt time.Time) error {
	args := m.Called(ctx, job, firedAt)
	return args.Error(0)
}

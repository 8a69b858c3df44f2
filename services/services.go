package services

import (
	"context"
	"time"

	"github.com/samber/mo"

	"patchcenter/models"
)

// TransactionManager handles database transactions via context
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(context.Context) error) error
}

// OperationsService defines the interface for operation record management:
// the master record plus its per-agent and per-app children.
type OperationsService interface {
	CreateOperation(
		ctx context.Context,
		organizationID string,
		req *models.CreateOperationRequest,
		agentIDs []string,
	) (*models.Operation, error)
	AddAgentToOperation(
		ctx context.Context,
		operationID, agentID string,
		organizationID string,
		apps []models.AppFileData,
	) (*models.OperationPerAgent, error)
	MarkAgentDispatchFailed(
		ctx context.Context,
		operationID, agentID string,
		organizationID string,
		reason string,
	) error
	GetOperationByID(ctx context.Context, id string, organizationID string) (mo.Option[*models.Operation], error)
	GetOperationDetail(
		ctx context.Context,
		id string,
		organizationID string,
	) (mo.Option[*models.OperationDetail], error)
	GetOperationsByType(
		ctx context.Context,
		operationType models.OperationType,
		organizationID string,
	) ([]*models.Operation, error)
	GetOperationsForAgent(
		ctx context.Context,
		agentID string,
		organizationID string,
	) ([]*models.OperationPerAgent, error)
}

// AgentQueueService defines the interface for the per-agent work queue.
type AgentQueueService interface {
	EnqueueForAgent(
		ctx context.Context,
		op *models.Operation,
		agentID string,
		fileData []models.AppFileData,
	) (bool, error)
	PollAgentQueue(ctx context.Context, agentID string, organizationID string) ([]*models.AgentQueueEntry, error)
	ExpireUnpickedEntries(ctx context.Context, now time.Time) (int, error)
}

// ResultsService defines the interface for result ingestion and the
// pickup-to-terminal half of the per-agent lifecycle.
type ResultsService interface {
	ReportAppResult(
		ctx context.Context,
		operationID, agentID, appID string,
		organizationID string,
		success bool,
		errorDetail *string,
	) error
	ReportAgentOutcome(
		ctx context.Context,
		operationID, agentID string,
		organizationID string,
		success bool,
		errorDetail *string,
	) error
	ExpireOverduePickedUp(ctx context.Context, cutoff time.Time) (int, error)
}

// SchedulerService defines the interface for persisted deferred and recurring
// operation definitions.
type SchedulerService interface {
	CreateScheduledJob(
		ctx context.Context,
		organizationID string,
		req *models.CreateScheduledJobRequest,
	) (*models.ScheduledJob, error)
	GetScheduledJobByID(
		ctx context.Context,
		id string,
		organizationID string,
	) (mo.Option[*models.ScheduledJob], error)
	ListScheduledJobs(ctx context.Context, organizationID string) ([]*models.ScheduledJob, error)
	CancelScheduledJob(ctx context.Context, id string, organizationID string) error
	GetDueJobs(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error)
	AdvanceJob(ctx context.Context, job *models.ScheduledJob, firedAt time.Time) error
}

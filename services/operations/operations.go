package operations

import (
	"context"
	"fmt"
	"log"

	"github.com/samber/mo"

	"patchcenter/core"
	"patchcenter/db"
	"patchcenter/models"
	"patchcenter/services"
)

type OperationsService struct {
	operationsRepo      *db.PostgresOperationsRepository
	operationAgentsRepo *db.PostgresOperationAgentsRepository
	operationAppsRepo   *db.PostgresOperationAppsRepository
	txManager           services.TransactionManager
}

func NewOperationsService(
	operationsRepo *db.PostgresOperationsRepository,
	operationAgentsRepo *db.PostgresOperationAgentsRepository,
	operationAppsRepo *db.PostgresOperationAppsRepository,
	txManager services.TransactionManager,
) *OperationsService {
	return &OperationsService{
		operationsRepo:      operationsRepo,
		operationAgentsRepo: operationAgentsRepo,
		operationAppsRepo:   operationAppsRepo,
		txManager:           txManager,
	}
}

// CreateOperation inserts the master record. agentIDs is the already-resolved
// target snapshot; all agents start in the pending_pickup counter.
func (s *OperationsService) CreateOperation(
	ctx context.Context,
	organizationID string,
	req *models.CreateOperationRequest,
	agentIDs []string,
) (*models.Operation, error) {
	log.Printf("📋 Starting to create %s operation for %d agents", req.OperationType, len(agentIDs))

	if organizationID == "" {
		return nil, fmt.Errorf("organization_id cannot be empty")
	}
	if !req.OperationType.Valid() {
		return nil, fmt.Errorf("invalid operation type: %s", req.OperationType)
	}
	if len(agentIDs) == 0 {
		return nil, fmt.Errorf("agent snapshot cannot be empty")
	}
	if req.CreatedBy == "" {
		return nil, fmt.Errorf("created_by cannot be empty")
	}

	performedOn := models.PerformedOnAgent
	if req.Target.TagID != nil && *req.Target.TagID != "" {
		performedOn = models.PerformedOnTag
	}

	policy := req.Policy.Normalized()
	op := &models.Operation{
		ID:                  core.NewID("op"),
		OrgID:               organizationID,
		OperationType:       req.OperationType,
		Plugin:              "rv",
		PerformedOn:         performedOn,
		TagID:               req.Target.TagID,
		AgentIDs:            agentIDs,
		RestartPolicy:       policy.RestartPolicy,
		CPUThrottle:         policy.CPUThrottle,
		NetThrottle:         *policy.NetThrottleKBs,
		CreatedBy:           req.CreatedBy,
		AgentsTotal:         len(agentIDs),
		AgentsPendingPickup: len(agentIDs),
	}

	if err := s.operationsRepo.CreateOperation(ctx, op); err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}

	log.Printf("📋 Completed successfully - created operation with ID: %s", op.ID)
	return op, nil
}

// AddAgentToOperation creates the per-agent record together with one per-app
// child row per validated app, in a single transaction. apps may be empty for
// agent-level operations or agents with no applicable apps.
func (s *OperationsService) AddAgentToOperation(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	apps []models.AppFileData,
) (*models.OperationPerAgent, error) {
	log.Printf("📋 Starting to add agent %s to operation %s with %d apps", agentID, operationID, len(apps))

	if !core.IsValidULID(operationID) {
		return nil, fmt.Errorf("operation_id must be a valid ULID")
	}
	if agentID == "" {
		return nil, fmt.Errorf("agent_id cannot be empty")
	}
	if organizationID == "" {
		return nil, fmt.Errorf("organization_id cannot be empty")
	}

	rec := &models.OperationPerAgent{
		OperationID: operationID,
		AgentID:     agentID,
		OrgID:       organizationID,
		Status:      models.AgentStatusPendingPickup,
		AppsTotal:   len(apps),
		AppsPending: len(apps),
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.operationAgentsRepo.CreateOperationAgent(txCtx, rec); err != nil {
			return fmt.Errorf("failed to create operation agent record: %w", err)
		}

		appRecs := make([]*models.OperationPerApp, 0, len(apps))
		for _, app := range apps {
			appRecs = append(appRecs, &models.OperationPerApp{
				OperationID: operationID,
				AgentID:     agentID,
				AppID:       app.AppID,
				OrgID:       organizationID,
				AppName:     app.AppName,
				AppVersion:  app.AppVersion,
				Results:     models.AppResultPending,
			})
		}
		if err := s.operationAppsRepo.CreateOperationApps(txCtx, appRecs); err != nil {
			return fmt.Errorf("failed to create operation app records: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("📋 Completed successfully - added agent %s to operation %s", agentID, operationID)
	return rec, nil
}

// MarkAgentDispatchFailed records that fan-out to one agent could not be
// completed. The agent lands in the failed counter immediately; a per-agent
// record is created (or finished) so the failure is visible in reads.
func (s *OperationsService) MarkAgentDispatchFailed(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	reason string,
) error {
	log.Printf("📋 Starting to mark dispatch failed for agent %s on operation %s", agentID, operationID)

	if !core.IsValidULID(operationID) {
		return fmt.Errorf("operation_id must be a valid ULID")
	}
	if agentID == "" {
		return fmt.Errorf("agent_id cannot be empty")
	}
	if organizationID == "" {
		return fmt.Errorf("organization_id cannot be empty")
	}

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		maybeRec, err := s.operationAgentsRepo.GetOperationAgent(txCtx, operationID, agentID, organizationID)
		if err != nil {
			return fmt.Errorf("failed to get operation agent record: %w", err)
		}

		if rec, ok := maybeRec.Get(); ok {
			if rec.Status.Terminal() {
				return nil
			}
			moved, err := s.operationAgentsRepo.MarkTerminal(
				txCtx, operationID, agentID, organizationID,
				models.AgentStatusPendingPickup, models.AgentStatusFailed, &reason,
			)
			if err != nil {
				return fmt.Errorf("failed to mark agent record failed: %w", err)
			}
			if !moved {
				return nil
			}
		} else {
			rec := &models.OperationPerAgent{
				OperationID: operationID,
				AgentID:     agentID,
				OrgID:       organizationID,
				Status:      models.AgentStatusFailed,
				Errors:      &reason,
			}
			if err := s.operationAgentsRepo.CreateOperationAgent(txCtx, rec); err != nil {
				return fmt.Errorf("failed to create failed agent record: %w", err)
			}
		}

		if _, err := s.operationsRepo.MoveAgentCounter(
			txCtx, operationID, organizationID,
			models.AgentStatusPendingPickup, models.AgentStatusFailed,
		); err != nil {
			return fmt.Errorf("failed to move dispatch failure counter: %w", err)
		}

		if _, err := s.operationsRepo.FinalizeIfComplete(txCtx, operationID, organizationID); err != nil {
			return fmt.Errorf("failed to finalize operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("📋 Completed successfully - marked dispatch failed for agent %s", agentID)
	return nil
}

func (s *OperationsService) GetOperationByID(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.Operation], error) {
	log.Printf("📋 Starting to get operation by ID: %s", id)
	if !core.IsValidULID(id) {
		return mo.None[*models.Operation](), fmt.Errorf("operation ID must be a valid ULID")
	}
	if organizationID == "" {
		return mo.None[*models.Operation](), fmt.Errorf("organization_id cannot be empty")
	}

	maybeOp, err := s.operationsRepo.GetOperationByID(ctx, id, organizationID)
	if err != nil {
		return mo.None[*models.Operation](), fmt.Errorf("failed to get operation: %w", err)
	}

	log.Printf("📋 Completed successfully - operation found: %v", maybeOp.IsPresent())
	return maybeOp, nil
}

// GetOperationDetail returns the master record merged with every per-agent
// record and their per-app children.
func (s *OperationsService) GetOperationDetail(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.OperationDetail], error) {
	log.Printf("📋 Starting to get operation detail for: %s", id)
	if !core.IsValidULID(id) {
		return mo.None[*models.OperationDetail](), fmt.Errorf("operation ID must be a valid ULID")
	}
	if organizationID == "" {
		return mo.None[*models.OperationDetail](), fmt.Errorf("organization_id cannot be empty")
	}

	maybeOp, err := s.operationsRepo.GetOperationByID(ctx, id, organizationID)
	if err != nil {
		return mo.None[*models.OperationDetail](), fmt.Errorf("failed to get operation: %w", err)
	}
	op, ok := maybeOp.Get()
	if !ok {
		return mo.None[*models.OperationDetail](), nil
	}

	agentRecs, err := s.operationAgentsRepo.GetOperationAgents(ctx, id, organizationID)
	if err != nil {
		return mo.None[*models.OperationDetail](), fmt.Errorf("failed to get operation agents: %w", err)
	}

	detail := &models.OperationDetail{
		Operation: *op,
		Agents:    make([]*models.OperationAgentDetail, 0, len(agentRecs)),
	}
	for _, agentRec := range agentRecs {
		apps, err := s.operationAppsRepo.GetOperationAppsForAgent(ctx, id, agentRec.AgentID, organizationID)
		if err != nil {
			return mo.None[*models.OperationDetail](), fmt.Errorf("failed to get operation apps: %w", err)
		}
		detail.Agents = append(detail.Agents, &models.OperationAgentDetail{
			OperationPerAgent: *agentRec,
			Apps:              apps,
		})
	}

	log.Printf("📋 Completed successfully - detail has %d agents", len(detail.Agents))
	return mo.Some(detail), nil
}

func (s *OperationsService) GetOperationsByType(
	ctx context.Context,
	operationType models.OperationType,
	organizationID string,
) ([]*models.Operation, error) {
	log.Printf("📋 Starting to get operations by type: %s", operationType)
	if !operationType.Valid() {
		return nil, fmt.Errorf("invalid operation type: %s", operationType)
	}
	if organizationID == "" {
		return nil, fmt.Errorf("organization_id cannot be empty")
	}

	ops, err := s.operationsRepo.GetOperationsByType(ctx, operationType, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operations by type: %w", err)
	}

	log.Printf("📋 Completed successfully - found %d operations", len(ops))
	return ops, nil
}

func (s *OperationsService) GetOperationsForAgent(
	ctx context.Context,
	agentID string,
	organizationID string,
) ([]*models.OperationPerAgent, error) {
	log.Printf("📋 Starting to get operations for agent: %s", agentID)
	if agentID == "" {
		return nil, fmt.Errorf("agent_id cannot be empty")
	}
	if organizationID == "" {
		return nil, fmt.Errorf("organization_id cannot be empty")
	}

	recs, err := s.operationAgentsRepo.GetOperationsForAgent(ctx, agentID, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get operations for agent: %w", err)
	}

	log.Printf("📋 Completed successfully - found %d records", len(recs))
	return recs, nil
}

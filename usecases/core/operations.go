package core

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/samber/mo"

	"patchcenter/clients"
	"patchcenter/models"
)

// ValidationError carries the per-field violations of a rejected request.
type ValidationError struct {
	Violations []models.PolicyViolation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("request validation failed with %d violations", len(e.Violations))
}

// CreateOperation validates the request, resolves the target to an agent
// snapshot, creates the master record and fans out per-agent work. Fan-out is
// best effort: an agent whose catalog resolution or enqueue fails is marked
// failed on the operation and reported back, without affecting other agents.
func (u *CoreUseCase) CreateOperation(
	ctx context.Context,
	organizationID string,
	req *models.CreateOperationRequest,
) (*models.CreateOperationResult, error) {
	log.Printf("🚀 Starting to create %s operation", req.OperationType)

	if !req.OperationType.Valid() {
		return nil, fmt.Errorf("invalid operation type: %s", req.OperationType)
	}

	var violations []models.PolicyViolation
	if req.OperationType.PerApp() {
		violations = models.ValidateInstallRequest(req.Policy, req.Target, req.AppIDs)
	} else {
		violations = models.ValidateAgentRequest(req.Policy, req.Target)
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	agentIDs, err := u.resolveTarget(ctx, organizationID, req.Target)
	if err != nil {
		return nil, err
	}
	if len(agentIDs) == 0 {
		return nil, &ValidationError{Violations: []models.PolicyViolation{{
			Field:  "target",
			Reason: "target resolved to zero agents",
			Code:   models.PolicyCodeEmptyTarget,
		}}}
	}

	op, err := u.operationsService.CreateOperation(ctx, organizationID, req, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create operation: %w", err)
	}

	result := &models.CreateOperationResult{OperationID: op.ID}
	for _, agentID := range agentIDs {
		if err := u.dispatchToAgent(ctx, op, agentID, req.AppIDs); err != nil {
			log.Printf("⚠️ Fan-out to agent %s failed: %v", agentID, err)
			reason := err.Error()
			if markErr := u.operationsService.MarkAgentDispatchFailed(
				ctx, op.ID, agentID, organizationID, reason,
			); markErr != nil {
				log.Printf("❌ Failed to record dispatch failure for agent %s: %v", agentID, markErr)
			}
			result.FailedAgentIDs = append(result.FailedAgentIDs, agentID)
		}
	}

	log.Printf("🚀 Completed successfully - operation %s dispatched to %d/%d agents",
		op.ID, len(agentIDs)-len(result.FailedAgentIDs), len(agentIDs))
	return result, nil
}

// resolveTarget expands the target to a deduplicated agent snapshot: the
// union of the explicit agent list and the tag's current membership. The
// snapshot is taken here, once; later tag changes never touch the operation.
func (u *CoreUseCase) resolveTarget(
	ctx context.Context,
	organizationID string,
	target models.OperationTarget,
) ([]string, error) {
	seen := make(map[string]bool)
	var agentIDs []string
	for _, agentID := range target.AgentIDs {
		if agentID == "" || seen[agentID] {
			continue
		}
		seen[agentID] = true
		agentIDs = append(agentIDs, agentID)
	}

	if target.TagID != nil && *target.TagID != "" {
		tagAgents, err := u.tagsClient.ExpandTagToAgentIDs(ctx, organizationID, *target.TagID)
		if err != nil {
			return nil, fmt.Errorf("failed to expand tag %s: %w", *target.TagID, err)
		}
		for _, agentID := range tagAgents {
			if agentID == "" || seen[agentID] {
				continue
			}
			seen[agentID] = true
			agentIDs = append(agentIDs, agentID)
		}
	}

	sort.Strings(agentIDs)
	return agentIDs, nil
}

// dispatchToAgent builds one agent's share of the operation: the validated
// app subset, its per-agent and per-app records, and the queue entry.
func (u *CoreUseCase) dispatchToAgent(
	ctx context.Context,
	op *models.Operation,
	agentID string,
	appIDs []string,
) error {
	var fileData []models.AppFileData
	if op.OperationType.PerApp() {
		validAppIDs, err := u.catalogClient.ResolveValidAppIDsForAgent(ctx, appIDs, agentID)
		if err != nil {
			return fmt.Errorf("failed to resolve apps for agent: %w", err)
		}
		for _, appID := range validAppIDs {
			descriptor, err := u.catalogClient.GetDownloadDescriptor(ctx, appID, agentID)
			if err != nil {
				return fmt.Errorf("failed to resolve download descriptor for app %s: %w", appID, err)
			}
			fileData = append(fileData, *descriptor)
		}
	}

	return u.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := u.operationsService.AddAgentToOperation(
			txCtx, op.ID, agentID, op.OrgID, fileData,
		); err != nil {
			return fmt.Errorf("failed to add agent to operation: %w", err)
		}

		if _, err := u.queueService.EnqueueForAgent(txCtx, op, agentID, fileData); err != nil {
			return fmt.Errorf("failed to enqueue for agent: %w", err)
		}

		// Mark each targeted app pending in the catalog. Best effort; a
		// catalog hiccup must not fail the dispatch.
		for _, app := range fileData {
			if err := u.catalogClient.SetPerAgentAppStatus(
				txCtx, agentID, app.AppID, clients.AppStatusPending,
			); err != nil {
				log.Printf("⚠️ Failed to set pending status for app %s on agent %s: %v", app.AppID, agentID, err)
			}
		}
		return nil
	})
}

// GetOperation returns the master record alone.
func (u *CoreUseCase) GetOperation(
	ctx context.Context,
	organizationID, operationID string,
) (mo.Option[*models.Operation], error) {
	return u.operationsService.GetOperationByID(ctx, operationID, organizationID)
}

// GetOperationDetail returns the master record merged with per-agent and
// per-app state.
func (u *CoreUseCase) GetOperationDetail(
	ctx context.Context,
	organizationID, operationID string,
) (mo.Option[*models.OperationDetail], error) {
	return u.operationsService.GetOperationDetail(ctx, operationID, organizationID)
}

// ListOperationsByType returns the organization's operations of one type.
func (u *CoreUseCase) ListOperationsByType(
	ctx context.Context,
	organizationID string,
	operationType models.OperationType,
) ([]*models.Operation, error) {
	return u.operationsService.GetOperationsByType(ctx, operationType, organizationID)
}

// ListOperationsForAgent returns every per-agent record for one agent.
func (u *CoreUseCase) ListOperationsForAgent(
	ctx context.Context,
	organizationID, agentID string,
) ([]*models.OperationPerAgent, error) {
	return u.operationsService.GetOperationsForAgent(ctx, agentID, organizationID)
}

// PollAgentQueue hands the agent its waiting work.
func (u *CoreUseCase) PollAgentQueue(
	ctx context.Context,
	organizationID, agentID string,
) ([]*models.AgentQueueEntry, error) {
	return u.queueService.PollAgentQueue(ctx, agentID, organizationID)
}

// ReportAppResult ingests one per-app result from an agent.
func (u *CoreUseCase) ReportAppResult(
	ctx context.Context,
	organizationID, operationID, agentID, appID string,
	success bool,
	errorDetail *string,
) error {
	return u.resultsService.ReportAppResult(ctx, operationID, agentID, appID, organizationID, success, errorDetail)
}

// ReportAgentOutcome ingests the collapsed outcome of an agent-level
// operation.
func (u *CoreUseCase) ReportAgentOutcome(
	ctx context.Context,
	organizationID, operationID, agentID string,
	success bool,
	errorDetail *string,
) error {
	return u.resultsService.ReportAgentOutcome(ctx, operationID, agentID, organizationID, success, errorDetail)
}

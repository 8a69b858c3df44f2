package results

import (
	"context"
	"fmt"
	"log"
	"time"

	"patchcenter/clients"
	"patchcenter/core"
	"patchcenter/db"
	"patchcenter/models"
	"patchcenter/services"
)

type ResultsService struct {
	operationsRepo      *db.PostgresOperationsRepository
	operationAgentsRepo *db.PostgresOperationAgentsRepository
	operationAppsRepo   *db.PostgresOperationAppsRepository
	catalogClient       clients.CatalogClient
	txManager           services.TransactionManager
}

func NewResultsService(
	operationsRepo *db.PostgresOperationsRepository,
	operationAgentsRepo *db.PostgresOperationAgentsRepository,
	operationAppsRepo *db.PostgresOperationAppsRepository,
	catalogClient clients.CatalogClient,
	txManager services.TransactionManager,
) *ResultsService {
	return &ResultsService{
		operationsRepo:      operationsRepo,
		operationAgentsRepo: operationAgentsRepo,
		operationAppsRepo:   operationAppsRepo,
		catalogClient:       catalogClient,
		txManager:           txManager,
	}
}

// ReportAppResult ingests one agent's result for one app. Reports are
// idempotent: the first report for an app row wins and every later duplicate
// is acknowledged without changing any state. A report for an operation the
// agent has not picked up yet is rejected as not found. When the last pending
// app on the agent reports, the per-agent record closes out and the master
// counters move.
func (s *ResultsService) ReportAppResult(
	ctx context.Context,
	operationID, agentID, appID string,
	organizationID string,
	success bool,
	errorDetail *string,
) error {
	log.Printf("📋 Starting to report app result for op %s agent %s app %s (success: %v)",
		operationID, agentID, appID, success)

	if !core.IsValidULID(operationID) {
		return fmt.Errorf("operation_id must be a valid ULID")
	}
	if agentID == "" {
		return fmt.Errorf("agent_id cannot be empty")
	}
	if appID == "" {
		return fmt.Errorf("app_id cannot be empty")
	}
	if organizationID == "" {
		return fmt.Errorf("organization_id cannot be empty")
	}

	maybeApp, err := s.operationAppsRepo.GetOperationApp(ctx, operationID, agentID, appID, organizationID)
	if err != nil {
		return fmt.Errorf("failed to get operation app record: %w", err)
	}
	if !maybeApp.IsPresent() {
		return fmt.Errorf("operation app record not found: %w", core.ErrNotFound)
	}

	maybeAgent, err := s.operationAgentsRepo.GetOperationAgent(ctx, operationID, agentID, organizationID)
	if err != nil {
		return fmt.Errorf("failed to get operation agent record: %w", err)
	}
	agentRec, present := maybeAgent.Get()
	if !present {
		return fmt.Errorf("operation agent record not found: %w", core.ErrNotFound)
	}
	if agentRec.Status == models.AgentStatusPendingPickup {
		// The agent never polled this operation, so there is nothing the
		// result could belong to yet. Rejecting lets the sender retry after
		// the pickup instead of silently draining app counters early.
		return fmt.Errorf("operation %s not picked up by agent %s: %w", operationID, agentID, core.ErrNotFound)
	}

	resultStatus := models.AppResultReceived
	if !success {
		resultStatus = models.AppResultReceivedWithErrors
	}

	var duplicate bool
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		marked, err := s.operationAppsRepo.MarkResult(
			txCtx, operationID, agentID, appID, organizationID, resultStatus, errorDetail)
		if err != nil {
			return fmt.Errorf("failed to mark app result: %w", err)
		}
		if !marked {
			duplicate = true
			return nil
		}

		maybeAgent, err := s.operationAgentsRepo.ApplyAppResult(
			txCtx, operationID, agentID, organizationID, !success)
		if err != nil {
			return fmt.Errorf("failed to apply app result: %w", err)
		}
		updatedRec, ok := maybeAgent.Get()
		if !ok {
			// The record left pending_results (expired or closed out by a
			// concurrent report) between the status check and this update.
			// Nothing further to move.
			return nil
		}

		if updatedRec.AppsPending == 0 {
			return s.closeOutAgent(txCtx, updatedRec)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if duplicate {
		log.Printf("📋 Completed successfully - duplicate report for app %s ignored", appID)
		return nil
	}

	// Push the catalog's per-agent app status after the state change commits.
	// A catalog failure never unwinds an ingested result.
	catalogStatus := clients.AppStatusInstalled
	if !success {
		catalogStatus = clients.AppStatusAvailable
	}
	if err := s.catalogClient.SetPerAgentAppStatus(ctx, agentID, appID, catalogStatus); err != nil {
		log.Printf("⚠️ Failed to update catalog app status for agent %s app %s: %v", agentID, appID, err)
	}

	log.Printf("📋 Completed successfully - recorded app result for %s", appID)
	return nil
}

// closeOutAgent moves the drained per-agent record to its terminal status and
// settles the master counters. Must run inside the reporting transaction.
func (s *ResultsService) closeOutAgent(ctx context.Context, agentRec *models.OperationPerAgent) error {
	finalStatus := models.AgentStatusCompleted
	if agentRec.AppsFailed > 0 {
		finalStatus = models.AgentStatusCompletedWithErrors
	}

	moved, err := s.operationAgentsRepo.MarkTerminal(
		ctx, agentRec.OperationID, agentRec.AgentID, agentRec.OrgID,
		models.AgentStatusPendingResults, finalStatus, nil,
	)
	if err != nil {
		return fmt.Errorf("failed to close out agent record: %w", err)
	}
	if !moved {
		return nil
	}

	if _, err := s.operationsRepo.MoveAgentCounter(
		ctx, agentRec.OperationID, agentRec.OrgID,
		models.AgentStatusPendingResults, finalStatus,
	); err != nil {
		return fmt.Errorf("failed to move completion counter: %w", err)
	}

	if _, err := s.operationsRepo.FinalizeIfComplete(ctx, agentRec.OperationID, agentRec.OrgID); err != nil {
		return fmt.Errorf("failed to finalize operation: %w", err)
	}
	return nil
}

// ReportAgentOutcome ingests the single collapsed outcome of an agent-level
// operation (reboot, shutdown, refresh_apps). Idempotent the same way app
// results are: only the transition out of pending_results takes effect.
func (s *ResultsService) ReportAgentOutcome(
	ctx context.Context,
	operationID, agentID string,
	organizationID string,
	success bool,
	errorDetail *string,
) error {
	log.Printf("📋 Starting to report agent outcome for op %s agent %s (success: %v)",
		operationID, agentID, success)

	if !core.IsValidULID(operationID) {
		return fmt.Errorf("operation_id must be a valid ULID")
	}
	if agentID == "" {
		return fmt.Errorf("agent_id cannot be empty")
	}
	if organizationID == "" {
		return fmt.Errorf("organization_id cannot be empty")
	}

	maybeAgent, err := s.operationAgentsRepo.GetOperationAgent(ctx, operationID, agentID, organizationID)
	if err != nil {
		return fmt.Errorf("failed to get operation agent record: %w", err)
	}
	agentRec, present := maybeAgent.Get()
	if !present {
		return fmt.Errorf("operation agent record not found: %w", core.ErrNotFound)
	}
	if agentRec.Status == models.AgentStatusPendingPickup {
		// An outcome for work the agent never polled is not a duplicate; the
		// sender should retry after the pickup.
		return fmt.Errorf("operation %s not picked up by agent %s: %w", operationID, agentID, core.ErrNotFound)
	}

	finalStatus := models.AgentStatusCompleted
	if !success {
		finalStatus = models.AgentStatusFailed
	}

	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		moved, err := s.operationAgentsRepo.MarkTerminal(
			txCtx, operationID, agentID, organizationID,
			models.AgentStatusPendingResults, finalStatus, errorDetail,
		)
		if err != nil {
			return fmt.Errorf("failed to mark agent outcome: %w", err)
		}
		if !moved {
			// Already terminal - duplicate or late report
			return nil
		}

		if _, err := s.operationsRepo.MoveAgentCounter(
			txCtx, operationID, organizationID,
			models.AgentStatusPendingResults, finalStatus,
		); err != nil {
			return fmt.Errorf("failed to move outcome counter: %w", err)
		}

		if _, err := s.operationsRepo.FinalizeIfComplete(txCtx, operationID, organizationID); err != nil {
			return fmt.Errorf("failed to finalize operation: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("📋 Completed successfully - recorded agent outcome for %s", agentID)
	return nil
}

// ExpireOverduePickedUp expires per-agent records that were picked up but
// never finished reporting before the cutoff. Returns the number expired.
func (s *ResultsService) ExpireOverduePickedUp(ctx context.Context, cutoff time.Time) (int, error) {
	log.Printf("📋 Starting to expire overdue picked-up records")

	recs, err := s.operationAgentsRepo.GetOverduePickedUp(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to get overdue records: %w", err)
	}

	expired := 0
	for _, rec := range recs {
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			moved, err := s.operationAgentsRepo.MarkTerminal(
				txCtx, rec.OperationID, rec.AgentID, rec.OrgID,
				models.AgentStatusPendingResults, models.AgentStatusExpired, nil,
			)
			if err != nil {
				return fmt.Errorf("failed to expire record: %w", err)
			}
			if !moved {
				// Results arrived between the sweep read and this update.
				// The report wins; expiry and completion stay exclusive.
				return nil
			}

			if _, err := s.operationsRepo.MoveAgentCounter(
				txCtx, rec.OperationID, rec.OrgID,
				models.AgentStatusPendingResults, models.AgentStatusExpired,
			); err != nil {
				return fmt.Errorf("failed to move expiry counter: %w", err)
			}

			if _, err := s.operationsRepo.FinalizeIfComplete(txCtx, rec.OperationID, rec.OrgID); err != nil {
				return fmt.Errorf("failed to finalize operation: %w", err)
			}

			expired++
			return nil
		})
		if err != nil {
			return expired, err
		}
	}

	log.Printf("📋 Completed successfully - expired %d records", expired)
	return expired, nil
}

package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"patchcenter/core"
	"patchcenter/db"
	"patchcenter/models"
	"patchcenter/services"
)

type AgentQueueService struct {
	queueRepo           *db.PostgresAgentQueueRepository
	operationsRepo      *db.PostgresOperationsRepository
	operationAgentsRepo *db.PostgresOperationAgentsRepository
	txManager           services.TransactionManager

	serverTTL time.Duration
	agentTTL  time.Duration
}

func NewAgentQueueService(
	queueRepo *db.PostgresAgentQueueRepository,
	operationsRepo *db.PostgresOperationsRepository,
	operationAgentsRepo *db.PostgresOperationAgentsRepository,
	txManager services.TransactionManager,
	serverTTL, agentTTL time.Duration,
) *AgentQueueService {
	return &AgentQueueService{
		queueRepo:           queueRepo,
		operationsRepo:      operationsRepo,
		operationAgentsRepo: operationAgentsRepo,
		txManager:           txManager,
		serverTTL:           serverTTL,
		agentTTL:            agentTTL,
	}
}

// EnqueueForAgent places the operation's payload on the agent's queue. The
// entry is idempotent on (operation_id, agent_id): re-enqueueing the same
// operation for the same agent is a no-op and returns false.
func (s *AgentQueueService) EnqueueForAgent(
	ctx context.Context,
	op *models.Operation,
	agentID string,
	fileData []models.AppFileData,
) (bool, error) {
	log.Printf("📋 Starting to enqueue operation %s for agent %s", op.ID, agentID)

	if !core.IsValidULID(op.ID) {
		return false, fmt.Errorf("operation ID must be a valid ULID")
	}
	if agentID == "" {
		return false, fmt.Errorf("agent_id cannot be empty")
	}

	now := time.Now()
	entry := &models.AgentQueueEntry{
		ID:                 core.NewID("aq"),
		OperationID:        op.ID,
		AgentID:            agentID,
		OrgID:              op.OrgID,
		OperationType:      op.OperationType,
		RestartPolicy:      op.RestartPolicy,
		CPUThrottle:        op.CPUThrottle,
		NetThrottle:        op.NetThrottle,
		FileData:           fileData,
		ResponseURI:        fmt.Sprintf("rvl/v1/%s/rv/results", agentID),
		RequestMethod:      "PUT",
		ServerTTLExpiresAt: now.Add(s.serverTTL),
		AgentTTLExpiresAt:  now.Add(s.serverTTL + s.agentTTL),
	}

	inserted, err := s.queueRepo.EnqueueEntry(ctx, entry)
	if err != nil {
		return false, fmt.Errorf("failed to enqueue entry: %w", err)
	}

	log.Printf("📋 Completed successfully - enqueued: %v", inserted)
	return inserted, nil
}

// PollAgentQueue hands the agent everything waiting for it and transitions the
// matching per-agent records from pending_pickup to pending_results. The
// destructive claim and the pickup transitions commit in one transaction: a
// failure mid-poll puts every claimed entry back on the queue, so no record is
// ever stranded in pending_pickup without its queue row.
//
// Per-app operations that shipped with zero apps have nothing left to report,
// so they complete at pickup.
func (s *AgentQueueService) PollAgentQueue(
	ctx context.Context,
	agentID string,
	organizationID string,
) ([]*models.AgentQueueEntry, error) {
	log.Printf("📋 Starting to poll queue for agent: %s", agentID)

	if agentID == "" {
		return nil, fmt.Errorf("agent_id cannot be empty")
	}
	if organizationID == "" {
		return nil, fmt.Errorf("organization_id cannot be empty")
	}

	var entries []*models.AgentQueueEntry
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		claimed, err := s.queueRepo.ClaimEntriesForAgent(txCtx, agentID, organizationID, time.Now())
		if err != nil {
			return fmt.Errorf("failed to claim queue entries: %w", err)
		}

		for _, entry := range claimed {
			if err := s.markEntryPickedUp(txCtx, entry); err != nil {
				return err
			}
		}

		entries = claimed
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("📋 Completed successfully - agent %s picked up %d entries", agentID, len(entries))
	return entries, nil
}

func (s *AgentQueueService) markEntryPickedUp(ctx context.Context, entry *models.AgentQueueEntry) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		moved, err := s.operationAgentsRepo.MarkPickedUp(txCtx, entry.OperationID, entry.AgentID, entry.OrgID)
		if err != nil {
			return fmt.Errorf("failed to mark entry picked up: %w", err)
		}
		if !moved {
			// Record already left pending_pickup (expired by the sweeper in a
			// racing pass). The agent still gets the payload; results for a
			// terminal record are dropped later.
			return nil
		}

		if _, err := s.operationsRepo.MoveAgentCounter(
			txCtx, entry.OperationID, entry.OrgID,
			models.AgentStatusPendingPickup, models.AgentStatusPendingResults,
		); err != nil {
			return fmt.Errorf("failed to move pickup counter: %w", err)
		}

		if entry.OperationType.PerApp() && len(entry.FileData) == 0 {
			return s.completeEmptyEntry(txCtx, entry)
		}
		return nil
	})
}

func (s *AgentQueueService) completeEmptyEntry(ctx context.Context, entry *models.AgentQueueEntry) error {
	moved, err := s.operationAgentsRepo.MarkTerminal(
		ctx, entry.OperationID, entry.AgentID, entry.OrgID,
		models.AgentStatusPendingResults, models.AgentStatusCompleted, nil,
	)
	if err != nil {
		return fmt.Errorf("failed to complete empty entry: %w", err)
	}
	if !moved {
		return nil
	}

	if _, err := s.operationsRepo.MoveAgentCounter(
		ctx, entry.OperationID, entry.OrgID,
		models.AgentStatusPendingResults, models.AgentStatusCompleted,
	); err != nil {
		return fmt.Errorf("failed to move completion counter: %w", err)
	}

	if _, err := s.operationsRepo.FinalizeIfComplete(ctx, entry.OperationID, entry.OrgID); err != nil {
		return fmt.Errorf("failed to finalize operation: %w", err)
	}
	return nil
}

// ExpireUnpickedEntries removes queue entries whose server TTL elapsed before
// any poll claimed them and marks the matching per-agent records expired.
// Returns the number of entries expired.
func (s *AgentQueueService) ExpireUnpickedEntries(ctx context.Context, now time.Time) (int, error) {
	log.Printf("📋 Starting to expire unpicked queue entries")

	entries, err := s.queueRepo.GetExpiredUnpicked(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to get expired entries: %w", err)
	}

	expired := 0
	for _, entry := range entries {
		err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			deleted, err := s.queueRepo.DeleteEntry(txCtx, entry.ID)
			if err != nil {
				return fmt.Errorf("failed to delete expired entry: %w", err)
			}
			if !deleted {
				// A concurrent poll claimed the entry between the sweep read
				// and this delete. The pickup wins; leave the record alone.
				return nil
			}

			moved, err := s.operationAgentsRepo.MarkTerminal(
				txCtx, entry.OperationID, entry.AgentID, entry.OrgID,
				models.AgentStatusPendingPickup, models.AgentStatusExpired, nil,
			)
			if err != nil {
				return fmt.Errorf("failed to mark entry expired: %w", err)
			}
			if !moved {
				return nil
			}

			if _, err := s.operationsRepo.MoveAgentCounter(
				txCtx, entry.OperationID, entry.OrgID,
				models.AgentStatusPendingPickup, models.AgentStatusExpired,
			); err != nil {
				return fmt.Errorf("failed to move expiry counter: %w", err)
			}

			if _, err := s.operationsRepo.FinalizeIfComplete(txCtx, entry.OperationID, entry.OrgID); err != nil {
				return fmt.Errorf("failed to finalize operation: %w", err)
			}

			expired++
			return nil
		})
		if err != nil {
			return expired, err
		}
	}

	log.Printf("📋 Completed successfully - expired %d entries", expired)
	return expired, nil
}

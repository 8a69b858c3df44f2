package core

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/samber/mo"

	"patchcenter/models"
)

// SweepExpiredWork runs both expiration passes: queue entries whose server TTL
// elapsed before pickup, and picked-up records whose agent never reported
// within the agent TTL. Returns the total number of agents expired.
func (u *CoreUseCase) SweepExpiredWork(ctx context.Context, now time.Time) (int, error) {
	log.Printf("🧹 Starting expiration sweep")

	unpicked, err := u.queueService.ExpireUnpickedEntries(ctx, now)
	if err != nil {
		return unpicked, fmt.Errorf("failed to expire unpicked entries: %w", err)
	}

	overdue, err := u.resultsService.ExpireOverduePickedUp(ctx, now.Add(-u.agentTTL))
	if err != nil {
		return unpicked + overdue, fmt.Errorf("failed to expire overdue records: %w", err)
	}

	log.Printf("🧹 Completed expiration sweep - %d unpicked, %d overdue", unpicked, overdue)
	return unpicked + overdue, nil
}

// RunDueScheduledJobs fires every job whose next run time has arrived. Each
// job materializes a fresh operation through the normal creation path, which
// re-resolves tag membership at fire time. A job that fails to fire is logged
// and advanced anyway; occurrences are never retried or backfilled.
func (u *CoreUseCase) RunDueScheduledJobs(ctx context.Context, now time.Time) (int, error) {
	log.Printf("⏰ Starting scheduled job run")

	jobs, err := u.schedulerService.GetDueJobs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to get due jobs: %w", err)
	}

	fired := 0
	for _, job := range jobs {
		req := &models.CreateOperationRequest{
			OperationType: job.OperationType,
			Target:        job.Target(),
			AppIDs:        job.AppIDs,
			Policy:        job.Policy(),
			CreatedBy:     job.CreatedBy,
		}

		if _, err := u.CreateOperation(ctx, job.OrgID, req); err != nil {
			log.Printf("❌ Scheduled job %s (%s) failed to fire: %v", job.ID, job.JobName, err)
		} else {
			fired++
		}

		if err := u.schedulerService.AdvanceJob(ctx, job, now); err != nil {
			log.Printf("❌ Failed to advance scheduled job %s: %v", job.ID, err)
		}
	}

	log.Printf("⏰ Completed scheduled job run - fired %d/%d due jobs", fired, len(jobs))
	return fired, nil
}

// ScheduleOperation persists a deferred or recurring operation definition.
// The target is validated now but resolved only when the job fires.
func (u *CoreUseCase) ScheduleOperation(
	ctx context.Context,
	organizationID string,
	req *models.CreateScheduledJobRequest,
) (*models.ScheduledJob, error) {
	if !req.Operation.OperationType.Valid() {
		return nil, fmt.Errorf("invalid operation type: %s", req.Operation.OperationType)
	}

	var violations []models.PolicyViolation
	if req.Operation.OperationType.PerApp() {
		violations = models.ValidateInstallRequest(req.Operation.Policy, req.Operation.Target, req.Operation.AppIDs)
	} else {
		violations = models.ValidateAgentRequest(req.Operation.Policy, req.Operation.Target)
	}
	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}

	return u.schedulerService.CreateScheduledJob(ctx, organizationID, req)
}

// GetScheduledJob returns one persisted job.
func (u *CoreUseCase) GetScheduledJob(
	ctx context.Context,
	organizationID, jobID string,
) (mo.Option[*models.ScheduledJob], error) {
	return u.schedulerService.GetScheduledJobByID(ctx, jobID, organizationID)
}

// ListScheduledJobs returns the organization's persisted jobs.
func (u *CoreUseCase) ListScheduledJobs(
	ctx context.Context,
	organizationID string,
) ([]*models.ScheduledJob, error) {
	return u.schedulerService.ListScheduledJobs(ctx, organizationID)
}

// CancelScheduledJob removes a persisted job before it fires again.
func (u *CoreUseCase) CancelScheduledJob(ctx context.Context, organizationID, jobID string) error {
	return u.schedulerService.CancelScheduledJob(ctx, jobID, organizationID)
}

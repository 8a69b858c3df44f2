package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/mo"

	"patchcenter/core"
	"patchcenter/db"
	"patchcenter/models"
)

// cronParser accepts the standard five-field spec plus descriptors like
// @daily.
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type SchedulerService struct {
	scheduledJobsRepo *db.PostgresScheduledJobsRepository
}

func NewSchedulerService(scheduledJobsRepo *db.PostgresScheduledJobsRepository) *SchedulerService {
	return &SchedulerService{scheduledJobsRepo: scheduledJobsRepo}
}

// CreateScheduledJob validates and persists a deferred (date) or recurring
// (cron) operation definition. Job names are unique per organization.
func (s *SchedulerService) CreateScheduledJob(
	ctx context.Context,
	organizationID string,
	req *models.CreateScheduledJobRequest,
) (*models.ScheduledJob, error) {
	log.Printf("📋 Starting to create scheduled job: %s", req.JobName)

	if organizationID == "" {
		return nil, fmt.Errorf("organization_id cannot be empty")
	}
	if req.JobName == "" {
		return nil, fmt.Errorf("job_name cannot be empty")
	}
	if !req.Operation.OperationType.Valid() {
		return nil, fmt.Errorf("invalid operation type: %s", req.Operation.OperationType)
	}
	if req.Operation.Target.Empty() {
		return nil, fmt.Errorf("target cannot be empty")
	}
	if req.Operation.CreatedBy == "" {
		return nil, fmt.Errorf("created_by cannot be empty")
	}

	timeZone := req.TimeZone
	if timeZone == "" {
		timeZone = "UTC"
	}
	location, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %w", timeZone, err)
	}

	now := time.Now().In(location)
	var nextRun time.Time
	switch req.TriggerType {
	case models.TriggerDate:
		if req.RunAt == nil {
			return nil, fmt.Errorf("run_at is required for date triggers")
		}
		if req.RunAt.Before(now) {
			return nil, fmt.Errorf("run_at must be in the future")
		}
		nextRun = *req.RunAt
	case models.TriggerCron:
		if req.CronSpec == nil || *req.CronSpec == "" {
			return nil, fmt.Errorf("cron_spec is required for cron triggers")
		}
		schedule, err := cronParser.Parse(*req.CronSpec)
		if err != nil {
			return nil, fmt.Errorf("invalid cron spec %q: %w", *req.CronSpec, err)
		}
		nextRun = schedule.Next(now)
		if req.EndDate != nil && nextRun.After(*req.EndDate) {
			return nil, fmt.Errorf("cron schedule never fires before end_date")
		}
	default:
		return nil, fmt.Errorf("invalid trigger type: %s", req.TriggerType)
	}

	existing, err := s.scheduledJobsRepo.GetScheduledJobByName(ctx, req.JobName, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing job: %w", err)
	}
	if existing.IsPresent() {
		return nil, fmt.Errorf("scheduled job %q already exists", req.JobName)
	}

	policy := req.Operation.Policy.Normalized()
	job := &models.ScheduledJob{
		ID:            core.NewID("sj"),
		JobName:       req.JobName,
		OrgID:         organizationID,
		TriggerType:   req.TriggerType,
		RunAt:         req.RunAt,
		CronSpec:      req.CronSpec,
		EndDate:       req.EndDate,
		TimeZone:      timeZone,
		OperationType: req.Operation.OperationType,
		AgentIDs:      req.Operation.Target.AgentIDs,
		TagID:         req.Operation.Target.TagID,
		AppIDs:        req.Operation.AppIDs,
		RestartPolicy: policy.RestartPolicy,
		CPUThrottle:   policy.CPUThrottle,
		NetThrottle:   *policy.NetThrottleKBs,
		CreatedBy:     req.Operation.CreatedBy,
		NextRunAt:     nextRun,
	}
	if job.AgentIDs == nil {
		job.AgentIDs = []string{}
	}
	if job.AppIDs == nil {
		job.AppIDs = []string{}
	}

	if err := s.scheduledJobsRepo.CreateScheduledJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create scheduled job: %w", err)
	}

	log.Printf("📋 Completed successfully - created scheduled job %s, next run at %s", job.ID, job.NextRunAt)
	return job, nil
}

func (s *SchedulerService) GetScheduledJobByID(
	ctx context.Context,
	id string,
	organizationID string,
) (mo.Option[*models.ScheduledJob], error) {
	log.Printf("📋 Starting to get scheduled job by ID: %s", id)
	if !core.IsValidULID(id) {
		return mo.None[*models.ScheduledJob](), fmt.Errorf("scheduled job ID must be a valid ULID")
	}
	if organizationID == "" {
		return mo.None[*models.ScheduledJob](), fmt.Errorf("organization_id cannot be empty")
	}

	maybeJob, err := s.scheduledJobsRepo.GetScheduledJobByID(ctx, id, organizationID)
	if err != nil {
		return mo.None[*models.ScheduledJob](), fmt.Errorf("failed to get scheduled job: %w", err)
	}

	log.Printf("📋 Completed successfully - job found: %v", maybeJob.IsPresent())
	return maybeJob, nil
}

func (s *SchedulerService) ListScheduledJobs(
	ctx context.Context,
	organizationID string,
) ([]*models.ScheduledJob, error) {
	log.Printf("📋 Starting to list scheduled jobs")
	if organizationID == "" {
		return nil, fmt.Errorf("organization_id cannot be empty")
	}

	jobs, err := s.scheduledJobsRepo.ListScheduledJobs(ctx, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list scheduled jobs: %w", err)
	}

	log.Printf("📋 Completed successfully - found %d jobs", len(jobs))
	return jobs, nil
}

func (s *SchedulerService) CancelScheduledJob(ctx context.Context, id string, organizationID string) error {
	log.Printf("📋 Starting to cancel scheduled job: %s", id)
	if !core.IsValidULID(id) {
		return fmt.Errorf("scheduled job ID must be a valid ULID")
	}
	if organizationID == "" {
		return fmt.Errorf("organization_id cannot be empty")
	}

	deleted, err := s.scheduledJobsRepo.DeleteScheduledJob(ctx, id, organizationID)
	if err != nil {
		return fmt.Errorf("failed to delete scheduled job: %w", err)
	}
	if !deleted {
		return fmt.Errorf("scheduled job not found: %w", core.ErrNotFound)
	}

	log.Printf("📋 Completed successfully - canceled scheduled job %s", id)
	return nil
}

func (s *SchedulerService) GetDueJobs(ctx context.Context, now time.Time) ([]*models.ScheduledJob, error) {
	jobs, err := s.scheduledJobsRepo.GetDueJobs(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get due jobs: %w", err)
	}
	return jobs, nil
}

// AdvanceJob moves a fired job past the occurrence it just ran. Date jobs are
// removed; cron jobs get their next occurrence computed from firedAt, or are
// removed once the next occurrence falls past end_date. Missed occurrences are
// never backfilled: a single advance skips everything before firedAt.
func (s *SchedulerService) AdvanceJob(ctx context.Context, job *models.ScheduledJob, firedAt time.Time) error {
	log.Printf("📋 Starting to advance scheduled job: %s", job.ID)

	if job.TriggerType == models.TriggerDate {
		if _, err := s.scheduledJobsRepo.DeleteScheduledJob(ctx, job.ID, job.OrgID); err != nil {
			return fmt.Errorf("failed to remove fired date job: %w", err)
		}
		log.Printf("📋 Completed successfully - date job %s removed after firing", job.ID)
		return nil
	}

	nextRun, ok, err := NextCronRun(job, firedAt)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.scheduledJobsRepo.DeleteScheduledJob(ctx, job.ID, job.OrgID); err != nil {
			return fmt.Errorf("failed to remove finished cron job: %w", err)
		}
		log.Printf("📋 Completed successfully - cron job %s removed past end date", job.ID)
		return nil
	}

	if _, err := s.scheduledJobsRepo.UpdateNextRun(ctx, job.ID, job.OrgID, job.NextRunAt, nextRun); err != nil {
		return fmt.Errorf("failed to advance cron job: %w", err)
	}

	log.Printf("📋 Completed successfully - cron job %s advanced to %s", job.ID, nextRun)
	return nil
}

// NextCronRun computes the cron job's first occurrence strictly after
// firedAt, evaluated in the job's time zone. Returns ok=false when the next
// occurrence would fall past the job's end date.
func NextCronRun(job *models.ScheduledJob, firedAt time.Time) (time.Time, bool, error) {
	if job.CronSpec == nil || *job.CronSpec == "" {
		return time.Time{}, false, fmt.Errorf("cron job %s has no cron spec", job.ID)
	}

	location, err := time.LoadLocation(job.TimeZone)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid time zone %q: %w", job.TimeZone, err)
	}

	schedule, err := cronParser.Parse(*job.CronSpec)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid cron spec %q: %w", *job.CronSpec, err)
	}

	next := schedule.Next(firedAt.In(location))
	if job.EndDate != nil && next.After(*job.EndDate) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}
